// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package transport

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cogbot/cogbot/internal/cog"
)

type telnetClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialTelnet(t *testing.T, tn *Telnet) *telnetClient {
	t.Helper()
	conn, err := net.Dial("tcp", tn.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	c := &telnetClient{conn: conn, reader: bufio.NewReader(conn)}
	assert.Equal(t, "Welcome to CogBot!", c.line(t))
	c.line(t)
	return c
}

func (c *telnetClient) write(t *testing.T, text string) {
	t.Helper()
	_, err := c.conn.Write([]byte(text + "\r\n"))
	require.NoError(t, err)
}

func (c *telnetClient) line(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	s, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(s, "\r\n")
}

func startTelnet(t *testing.T, opts ...TelnetOption) *Telnet {
	t.Helper()
	tn := NewTelnet("127.0.0.1:0", opts...)
	require.NoError(t, tn.Start())
	t.Cleanup(func() { _ = tn.Close() })
	return tn
}

func TestTelnet_ConnectAndCommand(t *testing.T) {
	tn := startTelnet(t)
	c := dialTelnet(t, tn)

	c.write(t, "/ping")
	assert.Equal(t, "You must connect first.", c.line(t))

	c.write(t, "connect ada")
	assert.Equal(t, "Welcome, ada!", c.line(t))
	c.write(t, "connect bo")
	assert.Equal(t, "Already connected.", c.line(t))

	c.write(t, "/ping")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := tn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/ping", msg.Text)
	assert.Equal(t, "ada", msg.Requester)

	require.NoError(t, tn.Send(ctx, msg, cog.Reply("pong\nagain")))
	assert.Equal(t, "pong", c.line(t))
	assert.Equal(t, "again", c.line(t))

	c.write(t, "quit")
	assert.Equal(t, "Goodbye!", c.line(t))
}

func TestTelnet_Token(t *testing.T) {
	tn := startTelnet(t, WithTelnetToken("s3cret"))
	c := dialTelnet(t, tn)

	c.write(t, "connect ada wrong")
	assert.Equal(t, "Invalid token.", c.line(t))
	c.write(t, "connect ada s3cret")
	assert.Equal(t, "Welcome, ada!", c.line(t))
}

func TestTelnet_SendToClosedConnection(t *testing.T) {
	tn := startTelnet(t)
	err := tn.Send(context.Background(), Message{Channel: "gone"}, cog.Reply("hi"))
	require.Error(t, err)
}

func TestTelnet_CloseReleasesEverything(t *testing.T) {
	defer goleak.VerifyNone(t)

	tn := NewTelnet("127.0.0.1:0")
	require.NoError(t, tn.Start())
	conn, err := net.Dial("tcp", tn.Addr())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, tn.Close())
	_, err = tn.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
