package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/naivechain/internal/api"
	"github.com/jmerrifield20/naivechain/internal/auth"
	"github.com/jmerrifield20/naivechain/internal/ledger"
	"github.com/jmerrifield20/naivechain/internal/node"
	"github.com/jmerrifield20/naivechain/internal/peer"
)

type refusingDialer struct{}

func (refusingDialer) Dial(context.Context, string) (peer.Session, error) {
	return nil, errors.New("connection refused")
}

func startNode(t *testing.T) *node.Node {
	t.Helper()
	n := node.New(zap.NewNop())
	n.SetDialer(refusingDialer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return n
}

func newRouter(t *testing.T, cfg api.RouterConfig, n api.NodeService, admin *auth.Issuer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return api.NewRouter(ctx, cfg, n, admin, zap.NewNop())
}

func setupRouter(t *testing.T, admin *auth.Issuer) *gin.Engine {
	t.Helper()
	return newRouter(t, api.RouterConfig{CORSOrigins: []string{"*"}}, startNode(t), admin)
}

func openAdmin() *auth.Issuer { return auth.NewIssuer("", 0) }

func doJSON(router http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body) //nolint:errcheck
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestListBlocks_genesis(t *testing.T) {
	router := setupRouter(t, openAdmin())

	w := doJSON(router, http.MethodGet, "/blocks", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []ledger.Block{ledger.Genesis()}, decode[[]ledger.Block](t, w))
}

func TestMineBlock_200(t *testing.T) {
	router := setupRouter(t, openAdmin())

	w := doJSON(router, http.MethodPost, "/mineBlock", map[string]string{"data": "hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	b := decode[ledger.Block](t, w)
	assert.Equal(t, int64(1), b.Index)
	assert.Equal(t, "hello", b.Data)
	assert.Equal(t, ledger.GenesisHash, b.PreviousHash)
	assert.Equal(t, b.ComputeHash(), b.Hash)

	w = doJSON(router, http.MethodGet, "/blocks/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, b, decode[ledger.Block](t, w))
}

func TestMineBlock_emptyData(t *testing.T) {
	router := setupRouter(t, openAdmin())

	w := doJSON(router, http.MethodPost, "/mineBlock", map[string]string{})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestMineBlock_badBody(t *testing.T) {
	router := setupRouter(t, openAdmin())

	req := httptest.NewRequest(http.MethodPost, "/mineBlock", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// stubNode is a NodeService whose Mine result is fixed.
type stubNode struct {
	api.NodeService
	mineErr error
}

func (s stubNode) Mine(context.Context, string) (ledger.Block, error) {
	return ledger.Block{}, s.mineErr
}

func TestMineBlock_failureStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ledger refused block", node.ErrMineFailed, http.StatusInternalServerError},
		{"node stopped", node.ErrStopped, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(t, api.RouterConfig{}, stubNode{mineErr: tc.err}, openAdmin())

			w := doJSON(router, http.MethodPost, "/mineBlock", map[string]string{"data": "x"})
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestGetBlock_errors(t *testing.T) {
	router := setupRouter(t, openAdmin())

	cases := map[string]int{
		"/blocks/999": http.StatusNotFound,
		"/blocks/-1":  http.StatusBadRequest,
		"/blocks/abc": http.StatusBadRequest,
	}
	for path, want := range cases {
		w := doJSON(router, http.MethodGet, path, nil)
		assert.Equal(t, want, w.Code, path)
	}
}

func TestChainOverviewAndVerify(t *testing.T) {
	router := setupRouter(t, openAdmin())
	doJSON(router, http.MethodPost, "/mineBlock", map[string]string{"data": "A"})

	w := doJSON(router, http.MethodGet, "/chain", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[node.Summary](t, w)
	assert.Equal(t, 2, sum.Length)
	assert.Equal(t, int64(1), sum.Tip.Index)
	assert.Equal(t, 0, sum.Peers)

	w = doJSON(router, http.MethodGet, "/chain/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[node.Verification](t, w)
	assert.True(t, v.Valid)
	assert.Equal(t, 2, v.Length)
}

func TestPeers_emptyList(t *testing.T) {
	router := setupRouter(t, openAdmin())

	w := doJSON(router, http.MethodGet, "/peers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestAddPeer(t *testing.T) {
	router := setupRouter(t, openAdmin())

	cases := []struct {
		name string
		body any
		want int
	}{
		{"accepted", map[string]string{"peer": "ws://localhost:6002"}, http.StatusAccepted},
		{"missing peer", map[string]string{}, http.StatusBadRequest},
		{"wrong scheme", map[string]string{"peer": "http://localhost:6002"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := doJSON(router, http.MethodPost, "/addPeer", tc.body)
		assert.Equal(t, tc.want, w.Code, "%s: %s", tc.name, w.Body.String())
	}
}

func TestAdminRoutes_requireToken(t *testing.T) {
	router := setupRouter(t, auth.NewIssuer("s3cret", time.Hour))

	w := doJSON(router, http.MethodPost, "/mineBlock", map[string]string{"data": "x"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = doJSON(router, http.MethodPost, "/addPeer", map[string]string{"peer": "ws://localhost:6002"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Reads stay public.
	require.Equal(t, http.StatusOK, doJSON(router, http.MethodGet, "/blocks", nil).Code)

	w = doJSON(router, http.MethodPost, "/auth/token", map[string]string{"secret": "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, http.MethodPost, "/auth/token", map[string]string{"secret": "s3cret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tok := decode[map[string]string](t, w)["token"]
	require.NotEmpty(t, tok)

	w = doJSON(router, http.MethodPost, "/mineBlock", map[string]string{"data": "x"},
		"Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAuthToken_disabled(t *testing.T) {
	router := setupRouter(t, openAdmin())

	w := doJSON(router, http.MethodPost, "/auth/token", map[string]string{"secret": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	router := setupRouter(t, openAdmin())

	assert.Equal(t, http.StatusOK, doJSON(router, http.MethodGet, "/healthz", nil).Code)

	w := doJSON(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "naivechain_http_requests_total")
}

func TestSecurityHeaders(t *testing.T) {
	router := setupRouter(t, openAdmin())

	w := doJSON(router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRateLimiter(t *testing.T) {
	router := newRouter(t, api.RouterConfig{RateLimitRPS: 1}, startNode(t), openAdmin())

	// Burst is twice the rate.
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, doJSON(router, http.MethodGet, "/blocks", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := doJSON(router, http.MethodGet, "/blocks", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Health checks and scrapes from the same client are never throttled.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doJSON(router, http.MethodGet, "/healthz", nil).Code)
		assert.Equal(t, http.StatusOK, doJSON(router, http.MethodGet, "/metrics", nil).Code)
	}
	assert.Contains(t, doJSON(router, http.MethodGet, "/metrics", nil).Body.String(),
		`naivechain_http_rate_limited_total{path="/blocks"}`)
}
