package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/naivechain/internal/auth"
)

func TestIssueVerify_roundTrip(t *testing.T) {
	i := auth.NewIssuer("s3cret", time.Hour)

	tok, err := i.Issue()
	require.NoError(t, err)
	claims, err := i.Verify(tok)
	require.NoError(t, err)

	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "admin", claims.Subject)
	assert.NotEmpty(t, claims.ID, "expected a token id")
}

func TestVerify_wrongSecret(t *testing.T) {
	tok, err := auth.NewIssuer("one", time.Hour).Issue()
	require.NoError(t, err)

	_, err = auth.NewIssuer("two", time.Hour).Verify(tok)
	assert.Error(t, err, "token signed with another secret must not verify")
}

func TestVerify_expired(t *testing.T) {
	i := auth.NewIssuer("s3cret", -time.Minute)
	tok, err := i.Issue()
	require.NoError(t, err)

	_, err = i.Verify(tok)
	assert.Error(t, err, "expired token must not verify")
}

func TestExchange(t *testing.T) {
	i := auth.NewIssuer("s3cret", time.Hour)
	_, err := i.Exchange("wrong")
	assert.ErrorIs(t, err, auth.ErrBadSecret)

	tok, err := i.Exchange("s3cret")
	require.NoError(t, err)
	_, err = i.Verify(tok)
	assert.NoError(t, err)

	_, err = auth.NewIssuer("", time.Hour).Exchange("")
	assert.ErrorIs(t, err, auth.ErrBadSecret)
}

func setupRouter(i *auth.Issuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/guarded", auth.RequireAdmin(i), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequireAdmin(t *testing.T) {
	i := auth.NewIssuer("s3cret", time.Hour)
	router := setupRouter(i)
	tok, err := i.Issue()
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + tok, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, tc.name)
	}
}

func TestRequireAdmin_disabled(t *testing.T) {
	router := setupRouter(auth.NewIssuer("", 0))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/guarded", nil))

	assert.Equal(t, http.StatusNoContent, w.Code, "auth disabled lets requests through")
}
