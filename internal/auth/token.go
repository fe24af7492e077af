// Package auth issues and checks admin tokens for the node's mutating HTTP
// routes.
//
// Admin tokens are HS256 JWTs signed with the operator-configured admin
// secret. They are only issued in exchange for that same secret.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer          = "naivechain"
	defaultTokenTTL = 8 * time.Hour
)

// ErrBadSecret is returned by Exchange when the presented secret is wrong.
var ErrBadSecret = errors.New("invalid admin secret")

// AdminClaims are the JWT claims of an admin token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Issuer issues and verifies admin tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates an Issuer. A zero ttl defaults to 8 hours.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether an admin secret is configured. Without one, admin
// routes are open.
func (i *Issuer) Enabled() bool {
	return len(i.secret) > 0
}

// Issue creates a signed admin token.
func (i *Issuer) Issue() (string, error) {
	now := time.Now().UTC()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
		Role: "admin",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// Exchange issues a token if secret matches the configured admin secret.
func (i *Issuer) Exchange(secret string) (string, error) {
	if !i.Enabled() || subtle.ConstantTimeCompare([]byte(secret), i.secret) != 1 {
		return "", ErrBadSecret
	}
	return i.Issue()
}

// Verify parses and validates an admin token.
func (i *Issuer) Verify(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AdminClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify admin token: %w", err)
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid admin token claims")
	}
	if claims.Role != "admin" {
		return nil, fmt.Errorf("not an admin token")
	}
	return claims, nil
}

// RequireAdmin returns a Gin middleware that enforces a valid admin Bearer
// token. When the issuer has no secret configured it lets every request
// through.
func RequireAdmin(i *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !i.Enabled() {
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer admin token required",
			})
			return
		}
		if _, err := i.Verify(strings.TrimPrefix(authHeader, "Bearer ")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid admin token: " + err.Error(),
			})
			return
		}
		c.Next()
	}
}
