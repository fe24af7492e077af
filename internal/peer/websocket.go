package peer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jmerrifield20/naivechain/internal/metrics"
	"github.com/jmerrifield20/naivechain/internal/protocol"
	"go.uber.org/zap"
)

// Events receives session lifecycle notifications from a Transport.
//
// SessionOpened is always delivered before any MessageReceived for the same
// session, and SessionClosed exactly once. Frames of one session are delivered
// in arrival order from a single goroutine.
type Events interface {
	SessionOpened(s Session)
	MessageReceived(s Session, frame []byte)
	SessionClosed(s Session, err error)
}

// Config holds transport settings.
type Config struct {
	SendQueue        int
	MaxMessageBytes  int64
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func (c *Config) setDefaults() {
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 8 << 20
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Transport creates websocket sessions, both by accepting inbound upgrades
// (it is an http.Handler) and by dialling peers.
type Transport struct {
	cfg      Config
	events   Events
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

// NewTransport creates a Transport that reports to events.
func NewTransport(cfg Config, events Events, logger *zap.Logger) *Transport {
	cfg.setDefaults()
	return &Transport{
		cfg:    cfg,
		events: events,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			// Peers are not browsers; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger,
	}
}

// ServeHTTP upgrades an inbound request to a peer session.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		t.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	t.start(conn, "inbound")
}

// Dial opens an outbound session to address, a ws:// or wss:// URL.
func (t *Transport) Dial(ctx context.Context, address string) (Session, error) {
	conn, resp, err := t.dialer.DialContext(ctx, address, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return t.start(conn, "outbound"), nil
}

func (t *Transport) start(conn *websocket.Conn, direction string) *wsSession {
	conn.SetReadLimit(t.cfg.MaxMessageBytes)
	s := &wsSession{
		id:           uuid.NewString(),
		remote:       conn.RemoteAddr().String(),
		conn:         conn,
		out:          make(chan []byte, t.cfg.SendQueue),
		done:         make(chan struct{}),
		writeTimeout: t.cfg.WriteTimeout,
		events:       t.events,
	}
	t.logger.Debug("session opened",
		zap.String("session", s.id),
		zap.String("remote", s.remote),
		zap.String("direction", direction),
	)
	t.events.SessionOpened(s)
	go s.writeLoop()
	go s.readLoop()
	return s
}

type wsSession struct {
	id           string
	remote       string
	conn         *websocket.Conn
	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	events       Events
}

func (s *wsSession) ID() string         { return s.id }
func (s *wsSession) RemoteAddr() string { return s.remote }

func (s *wsSession) Send(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- frame:
		metrics.RecordMessage("out", m.Type.String())
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close returns immediately; the closure is reported through
// Events.SessionClosed from another goroutine.
func (s *wsSession) Close() error {
	go s.shutdown(nil)
	return nil
}

func (s *wsSession) readLoop() {
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(err)
			return
		}
		s.events.MessageReceived(s, frame)
	}
}

func (s *wsSession) writeLoop() {
	for {
		select {
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.shutdown(err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// shutdown closes the connection once and reports the closure. A nil err
// means the close was requested locally.
func (s *wsSession) shutdown(err error) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		if err != nil && websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = nil
		}
		s.events.SessionClosed(s, err)
	})
}
