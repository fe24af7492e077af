package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxResponseBytes bounds how much of a response body is read. A full chain
// can be large, so this matches the node's peer message limit.
const maxResponseBytes = 8 << 20

// ErrNotFound is returned when the node answers 404.
var ErrNotFound = errors.New("not found")

// Block is a ledger block as served by the node.
type Block struct {
	Index        int64  `json:"index"`
	PreviousHash string `json:"previousHash"`
	Timestamp    int64  `json:"timestamp"`
	Data         string `json:"data"`
	Hash         string `json:"hash"`
}

// ChainSummary is returned by GET /chain.
type ChainSummary struct {
	Length int   `json:"length"`
	Tip    Block `json:"tip"`
	Peers  int   `json:"peers"`
}

// Verification is returned by GET /chain/verify.
type Verification struct {
	Valid  bool   `json:"valid"`
	Length int    `json:"length"`
	Error  string `json:"error,omitempty"`
}

// Client talks to a node's admin HTTP surface.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an admin token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a Client for the node whose admin surface is at base, e.g.
// "http://localhost:3001".
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, errors.New("empty node address")
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Blocks returns the node's full chain.
func (c *Client) Blocks(ctx context.Context) ([]Block, error) {
	var out []Block
	if err := c.call(ctx, http.MethodGet, "/blocks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Block returns the block at index.
func (c *Client) Block(ctx context.Context, index int64) (*Block, error) {
	var b Block
	if err := c.call(ctx, http.MethodGet, "/blocks/"+strconv.FormatInt(index, 10), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Chain returns the chain length, tip and peer count.
func (c *Client) Chain(ctx context.Context) (*ChainSummary, error) {
	var s ChainSummary
	if err := c.call(ctx, http.MethodGet, "/chain", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Verify asks the node to re-validate its chain.
func (c *Client) Verify(ctx context.Context) (*Verification, error) {
	var v Verification
	if err := c.call(ctx, http.MethodGet, "/chain/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Mine asks the node to create a block carrying data.
func (c *Client) Mine(ctx context.Context, data string) (*Block, error) {
	var b Block
	if err := c.call(ctx, http.MethodPost, "/mineBlock", map[string]string{"data": data}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Peers returns the remote addresses of the node's peer sessions.
func (c *Client) Peers(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.call(ctx, http.MethodGet, "/peers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddPeer asks the node to connect to a ws:// peer address. The node only
// starts the attempt; success is visible later through Peers.
func (c *Client) AddPeer(ctx context.Context, address string) error {
	return c.call(ctx, http.MethodPost, "/addPeer", map[string]string{"peer": address}, nil)
}

// Token exchanges the node's admin secret for an admin token. The returned
// token is not attached to c; pass it to WithBearerToken.
func (c *Client) Token(ctx context.Context, secret string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/auth/token", map[string]string{"secret": secret}, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// call sends reqBody as JSON and decodes the response into respBody. Either
// may be nil.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// do executes an HTTP request, attaching the Bearer token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL.Path)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", errorMessage(body))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, errorMessage(body))
	}
	return body, nil
}

// errorMessage extracts the "error" field of a JSON error body, falling back
// to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
