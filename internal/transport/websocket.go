// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package transport

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/cogbot/cogbot/internal/cog"
	"github.com/cogbot/cogbot/internal/observability"
)

// WebSocketName names the websocket transport.
const WebSocketName = "websocket"

// Websocket defaults.
const (
	DefaultWebSocketPath = "/ws"
	maxFrameBytes        = 16 * 1024
	writeTimeout         = 5 * time.Second
	shutdownTimeout      = 5 * time.Second
)

// Frame is the JSON shape of inbound messages. A text frame that is not
// JSON is taken as the message text.
type Frame struct {
	ID   string `json:"id,omitempty"`
	User string `json:"user,omitempty"`
	Text string `json:"text"`
}

// ReplyFrame is the JSON shape of outbound replies.
type ReplyFrame struct {
	ReplyTo string     `json:"reply_to,omitempty"`
	OK      bool       `json:"ok"`
	Text    string     `json:"text"`
	Embed   *cog.Embed `json:"embed,omitempty"`
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithToken requires clients to present token, as a bearer Authorization
// header or a token query parameter.
func WithToken(token string) WebSocketOption {
	return func(w *WebSocket) {
		w.token = token
	}
}

// WithPath sets the HTTP path the websocket endpoint is served on.
func WithPath(path string) WebSocketOption {
	return func(w *WebSocket) {
		w.path = path
	}
}

// WithMetrics records open connections.
func WithMetrics(m *observability.Metrics) WebSocketOption {
	return func(w *WebSocket) {
		w.connections = m.ConnectionGauge(WebSocketName)
	}
}

// WithWebSocketLogger sets the transport's logger.
func WithWebSocketLogger(logger *slog.Logger) WebSocketOption {
	return func(w *WebSocket) {
		w.logger = logger
	}
}

type wsConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// WebSocket serves a websocket endpoint. Each connection is its own
// conversation: replies go back to the connection the message came from.
type WebSocket struct {
	addr        string
	path        string
	token       string
	upgrader    websocket.Upgrader
	connections prometheus.Gauge
	logger      *slog.Logger

	inbox    chan Message
	listener net.Listener
	srv      *http.Server

	mu    sync.Mutex
	conns map[string]*wsConn

	readers sync.WaitGroup
	done    chan struct{}
	once    sync.Once
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket creates a websocket transport listening on addr.
func NewWebSocket(addr string, opts ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		addr: addr,
		path: DefaultWebSocketPath,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: slog.Default(),
		inbox:  make(chan Message),
		conns:  make(map[string]*wsConn),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins listening. Connections are accepted until Close.
func (w *WebSocket) Start() error {
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return oops.In("transport").With("transport", WebSocketName).With("addr", w.addr).Wrapf(err, "listen")
	}
	w.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handle)
	w.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("websocket server error", "error", err)
		}
	}()
	w.logger.Info("websocket transport listening", "addr", ln.Addr().String(), "path", w.path)
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (w *WebSocket) Addr() string {
	if w.listener == nil {
		return w.addr
	}
	return w.listener.Addr().String()
}

// Name implements Transport.
func (w *WebSocket) Name() string { return WebSocketName }

// Receive implements Transport.
func (w *WebSocket) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-w.done:
		return Message{}, ErrClosed
	case msg := <-w.inbox:
		return msg, nil
	}
}

// Send implements Transport.
func (w *WebSocket) Send(_ context.Context, msg Message, resp cog.Response) error {
	w.mu.Lock()
	c, ok := w.conns[msg.Channel]
	w.mu.Unlock()
	if !ok {
		return oops.Code("CLIENT_GONE").
			In("transport").
			With("transport", WebSocketName).
			With("channel", msg.Channel).
			Errorf("connection %s is closed", msg.Channel)
	}

	frame := ReplyFrame{ReplyTo: msg.ReplyTo, OK: resp.OK, Text: resp.Text, Embed: resp.Embed}
	if err := c.writeJSON(frame); err != nil {
		return oops.In("transport").With("transport", WebSocketName).With("channel", msg.Channel).Wrapf(err, "write reply")
	}
	return nil
}

// Close stops accepting connections and closes the open ones.
func (w *WebSocket) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.srv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = w.srv.Shutdown(ctx)
		}

		w.mu.Lock()
		for _, c := range w.conns {
			_ = c.conn.Close()
		}
		w.mu.Unlock()
		w.readers.Wait()
	})
	return err
}

func (w *WebSocket) authorized(r *http.Request) bool {
	if w.token == "" {
		return true
	}
	presented := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(w.token)) == 1
}

func (w *WebSocket) handle(rw http.ResponseWriter, r *http.Request) {
	if !w.authorized(r) {
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
		return
	}
	select {
	case <-w.done:
		http.Error(rw, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	c := &wsConn{id: ulid.Make().String(), conn: conn}
	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	w.conns[c.id] = c
	w.readers.Add(1)
	w.mu.Unlock()
	if w.connections != nil {
		w.connections.Inc()
	}
	w.logger.Info("websocket client connected", "conn", c.id, "remote", r.RemoteAddr)

	go w.readLoop(c)
}

func (w *WebSocket) readLoop(c *wsConn) {
	defer w.readers.Done()
	defer func() {
		_ = c.conn.Close()
		w.mu.Lock()
		delete(w.conns, c.id)
		w.mu.Unlock()
		if w.connections != nil {
			w.connections.Dec()
		}
		w.logger.Info("websocket client disconnected", "conn", c.id)
	}()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-w.done:
				default:
					w.logger.Debug("websocket read ended", "conn", c.id, "error", err)
				}
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg := w.decode(c.id, data)
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		select {
		case w.inbox <- msg:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocket) decode(connID string, data []byte) Message {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		f = Frame{Text: string(data)}
	}
	user := strings.TrimSpace(f.User)
	if user == "" {
		user = "web-" + connID
	}
	return Message{
		Text:      f.Text,
		Requester: user,
		Channel:   connID,
		ReplyTo:   f.ID,
		Received:  time.Now(),
	}
}
