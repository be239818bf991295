// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package transport

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/cogbot/cogbot/internal/cog"
	"github.com/cogbot/cogbot/internal/observability"
)

// TelnetName names the telnet transport.
const TelnetName = "telnet"

const maxLineBytes = 4096

// TelnetOption configures a Telnet transport.
type TelnetOption func(*Telnet)

// WithTelnetToken requires clients to present token when they connect.
func WithTelnetToken(token string) TelnetOption {
	return func(t *Telnet) {
		t.token = token
	}
}

// WithTelnetMetrics records open connections.
func WithTelnetMetrics(m *observability.Metrics) TelnetOption {
	return func(t *Telnet) {
		t.connections = m.ConnectionGauge(TelnetName)
	}
}

// WithTelnetLogger sets the transport's logger.
func WithTelnetLogger(logger *slog.Logger) TelnetOption {
	return func(t *Telnet) {
		t.logger = logger
	}
}

type telnetConn struct {
	id   string
	conn net.Conn
	mu   sync.Mutex
	user string
}

func (c *telnetConn) send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := fmt.Fprint(c.conn, strings.ReplaceAll(text, "\n", "\r\n")+"\r\n")
	return err
}

// Telnet is a line protocol over TCP. A client names itself with
// "connect <name> [token]" and then sends one command per line; "quit"
// ends the session.
type Telnet struct {
	addr        string
	token       string
	connections prometheus.Gauge
	logger      *slog.Logger

	inbox    chan Message
	listener net.Listener

	mu    sync.Mutex
	conns map[string]*telnetConn

	handlers sync.WaitGroup
	done     chan struct{}
	once     sync.Once
}

var _ Transport = (*Telnet)(nil)

// NewTelnet creates a telnet transport listening on addr.
func NewTelnet(addr string, opts ...TelnetOption) *Telnet {
	t := &Telnet{
		addr:   addr,
		logger: slog.Default(),
		inbox:  make(chan Message),
		conns:  make(map[string]*telnetConn),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins accepting connections until Close.
func (t *Telnet) Start() error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return oops.In("transport").With("transport", TelnetName).With("addr", t.addr).Wrapf(err, "listen")
	}
	t.listener = ln
	t.handlers.Add(1)
	go t.accept()
	t.logger.Info("telnet transport listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (t *Telnet) Addr() string {
	if t.listener == nil {
		return t.addr
	}
	return t.listener.Addr().String()
}

// Name implements Transport.
func (t *Telnet) Name() string { return TelnetName }

func (t *Telnet) accept() {
	defer t.handlers.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Error("accept failed", "error", err)
			continue
		}

		c := &telnetConn{id: ulid.Make().String(), conn: conn}
		t.mu.Lock()
		select {
		case <-t.done:
			t.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		t.conns[c.id] = c
		t.handlers.Add(1)
		t.mu.Unlock()
		go t.handle(c)
	}
}

func (t *Telnet) handle(c *telnetConn) {
	defer t.handlers.Done()
	defer func() {
		_ = c.conn.Close()
		t.mu.Lock()
		delete(t.conns, c.id)
		t.mu.Unlock()
		if t.connections != nil {
			t.connections.Dec()
		}
		t.logger.Debug("telnet client disconnected", "conn", c.id)
	}()
	if t.connections != nil {
		t.connections.Inc()
	}

	t.reply(c, "Welcome to CogBot!")
	if t.token != "" {
		t.reply(c, "Use: connect <name> <token>")
	} else {
		t.reply(c, "Use: connect <name>")
	}

	reader := bufio.NewReaderSize(c.conn, maxLineBytes)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				t.logger.Debug("telnet read error", "conn", c.id, "error", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		word, rest, _ := strings.Cut(line, " ")
		switch strings.ToLower(word) {
		case "quit":
			t.reply(c, "Goodbye!")
			return
		case "connect":
			t.connect(c, strings.TrimSpace(rest))
			continue
		}
		if c.user == "" {
			t.reply(c, "You must connect first.")
			continue
		}

		msg := Message{Text: line, Requester: c.user, Channel: c.id, Received: time.Now()}
		select {
		case t.inbox <- msg:
		case <-t.done:
			return
		}
	}
}

func (t *Telnet) connect(c *telnetConn, arg string) {
	if c.user != "" {
		t.reply(c, "Already connected.")
		return
	}
	name, token, _ := strings.Cut(arg, " ")
	if name == "" {
		t.reply(c, "Usage: connect <name>")
		return
	}
	if t.token != "" && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(t.token)) != 1 {
		t.reply(c, "Invalid token.")
		return
	}
	c.user = name
	t.logger.Info("telnet client connected", "conn", c.id, "user", name)
	t.reply(c, fmt.Sprintf("Welcome, %s!", name))
}

func (t *Telnet) reply(c *telnetConn, text string) {
	if err := c.send(text); err != nil {
		t.logger.Debug("failed to send to telnet client", "conn", c.id, "error", err)
	}
}

// Receive implements Transport.
func (t *Telnet) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-t.done:
		return Message{}, ErrClosed
	case msg := <-t.inbox:
		return msg, nil
	}
}

// Send implements Transport.
func (t *Telnet) Send(_ context.Context, msg Message, resp cog.Response) error {
	t.mu.Lock()
	c, ok := t.conns[msg.Channel]
	t.mu.Unlock()
	if !ok {
		return oops.Code("CLIENT_GONE").
			In("transport").
			With("transport", TelnetName).
			With("channel", msg.Channel).
			Errorf("connection %s is closed", msg.Channel)
	}
	if err := c.send(Render(resp)); err != nil {
		return oops.In("transport").With("transport", TelnetName).With("channel", msg.Channel).Wrapf(err, "write reply")
	}
	return nil
}

// Close stops accepting connections and closes the open ones.
func (t *Telnet) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		if t.listener != nil {
			err = t.listener.Close()
		}
		t.mu.Lock()
		for _, c := range t.conns {
			_ = c.conn.Close()
		}
		t.mu.Unlock()
		t.handlers.Wait()
	})
	return err
}
