package node_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/naivechain/internal/ledger"
	"github.com/jmerrifield20/naivechain/internal/node"
	"github.com/jmerrifield20/naivechain/internal/peer"
	"github.com/jmerrifield20/naivechain/internal/peer/peertest"
	"github.com/jmerrifield20/naivechain/internal/protocol"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// startNode runs n until the test ends.
func startNode(t *testing.T, n *node.Node) {
	t.Helper()
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
}

func chainLen(t *testing.T, n *node.Node) int {
	t.Helper()
	blocks, err := n.Blocks(context.Background())
	require.NoError(t, err)
	return len(blocks)
}

func peerCount(t *testing.T, n *node.Node) int {
	t.Helper()
	peers, err := n.Peers(context.Background())
	require.NoError(t, err)
	return len(peers)
}

func TestMine(t *testing.T) {
	n := node.New(zap.NewNop(), ledger.WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
	startNode(t, n)
	ctx := context.Background()

	b, err := n.Mine(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Index)
	assert.Equal(t, ledger.GenesisHash, b.PreviousHash)
	assert.Equal(t, int64(1700000000), b.Timestamp)

	blocks, err := n.Blocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Block{ledger.Genesis(), b}, blocks)

	got, err := n.Block(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = n.Block(ctx, 5)
	assert.ErrorIs(t, err, ledger.ErrBlockNotFound)

	sum, err := n.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Length)
	assert.Equal(t, b, sum.Tip)

	v, err := n.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, 2, v.Length)
}

func TestSessionLifecycle(t *testing.T) {
	n := node.New(zap.NewNop())
	startNode(t, n)
	s := peertest.NewSession("10.1.1.1:6001")

	n.SessionOpened(s)
	require.Eventually(t, func() bool { return peerCount(t, n) == 1 }, waitFor, tick)
	assert.Equal(t, []protocol.Message{protocol.QueryLatest()}, s.Sent())

	mined, err := n.Mine(context.Background(), "x")
	require.NoError(t, err)
	last, ok := s.Last()
	require.True(t, ok)
	tip, err := last.Blocks()
	require.NoError(t, err)
	assert.Equal(t, []ledger.Block{mined}, tip, "mined block is broadcast to registered peers")

	frame, err := protocol.Encode(protocol.QueryAll())
	require.NoError(t, err)
	s.Reset()
	n.MessageReceived(s, frame)
	require.Eventually(t, func() bool { return len(s.Sent()) == 1 }, waitFor, tick)
	full, err := s.Sent()[0].Blocks()
	require.NoError(t, err)
	assert.Len(t, full, 2)

	n.SessionClosed(s, errors.New("connection reset"))
	require.Eventually(t, func() bool { return peerCount(t, n) == 0 }, waitFor, tick)
}

func TestPeerChainAdoption(t *testing.T) {
	n := node.New(zap.NewNop())
	startNode(t, n)
	ctx := context.Background()
	for _, p := range []string{"l1", "l2"} {
		_, err := n.Mine(ctx, p)
		require.NoError(t, err)
	}

	remote := []ledger.Block{ledger.Genesis()}
	for i := 0; i < 4; i++ {
		remote = append(remote, ledger.NextBlock(remote[len(remote)-1], int64(1500000000+i), "r"))
	}

	s := peertest.NewSession("10.1.1.2:6001")
	n.SessionOpened(s)
	require.Eventually(t, func() bool { return peerCount(t, n) == 1 }, waitFor, tick)
	s.Reset()

	frame, err := protocol.Encode(protocol.ResponseBlockchain(remote))
	require.NoError(t, err)
	n.MessageReceived(s, frame)

	require.Eventually(t, func() bool { return chainLen(t, n) == 5 }, waitFor, tick)
	last, ok := s.Last()
	require.True(t, ok)
	tip, err := last.Blocks()
	require.NoError(t, err)
	require.Len(t, tip, 1)
	assert.Equal(t, int64(4), tip[0].Index)
}

type failingDialer struct{ calls chan string }

func (d failingDialer) Dial(_ context.Context, addr string) (peer.Session, error) {
	d.calls <- addr
	return nil, errors.New("connection refused")
}

func TestConnect_failureDropped(t *testing.T) {
	n := node.New(zap.NewNop())
	d := failingDialer{calls: make(chan string, 2)}
	n.SetDialer(d)
	startNode(t, n)

	require.NoError(t, n.Connect([]string{"ws://a:1", "ws://b:2"}))

	got := []string{<-d.calls, <-d.calls}
	assert.ElementsMatch(t, []string{"ws://a:1", "ws://b:2"}, got)
	assert.Equal(t, 0, peerCount(t, n))
}

func TestConnect_noDialer(t *testing.T) {
	n := node.New(zap.NewNop())
	assert.Error(t, n.Connect([]string{"ws://a:1"}))
}

func TestStoppedNode(t *testing.T) {
	n := node.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx)
	}()
	cancel()
	<-done

	_, err := n.Blocks(context.Background())
	assert.ErrorIs(t, err, node.ErrStopped)
	_, err = n.Mine(context.Background(), "late")
	assert.ErrorIs(t, err, node.ErrStopped)
}

func TestSessionOpened_afterStopClosesSession(t *testing.T) {
	n := node.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx)
	}()
	cancel()
	<-done

	s := peertest.NewSession("10.0.0.9:6001")
	n.SessionOpened(s)
	assert.True(t, s.Closed(), "late session must be closed, not leaked")
	assert.Empty(t, s.Sent())
}

func TestInboundPeer_afterStopIsDisconnected(t *testing.T) {
	n := node.New(zap.NewNop())
	srv := httptest.NewServer(peer.NewTransport(peer.Config{}, n, zap.NewNop()))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx)
	}()
	cancel()
	<-done

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "server should close the connection, not leave it open")
	}
}

// wsNode starts a node whose transport accepts peers on an httptest server.
func wsNode(t *testing.T) (*node.Node, string) {
	t.Helper()
	n := node.New(zap.NewNop())
	tr := peer.NewTransport(peer.Config{}, n, zap.NewNop())
	n.SetDialer(tr)
	srv := httptest.NewServer(tr)
	t.Cleanup(srv.Close)
	startNode(t, n)
	return n, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestGossip_overWebsocket(t *testing.T) {
	ctx := context.Background()
	a, addrA := wsNode(t)
	b, _ := wsNode(t)

	for _, p := range []string{"one", "two"} {
		_, err := a.Mine(ctx, p)
		require.NoError(t, err)
	}

	// b learns a's tip, cannot link it, queries all, and adopts a's chain.
	require.NoError(t, b.Connect([]string{addrA}))
	require.Eventually(t, func() bool { return chainLen(t, b) == 3 }, waitFor, tick)

	blocksA, err := a.Blocks(ctx)
	require.NoError(t, err)
	blocksB, err := b.Blocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, blocksA, blocksB)

	// A block mined on b is gossiped back to a as a direct successor.
	mined, err := b.Mine(ctx, "three")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return chainLen(t, a) == 4 }, waitFor, tick)
	tipA, err := a.Block(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, mined, tipA)

	assert.Equal(t, 1, peerCount(t, a))
	assert.Equal(t, 1, peerCount(t, b))
}
