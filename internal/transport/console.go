// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/cogbot/cogbot/internal/cog"
)

// ConsoleName names the console transport.
const ConsoleName = "console"

// Console is a line protocol transport over a reader and a writer. Every
// line is one message from a single local requester.
type Console struct {
	requester string
	out       io.Writer
	lines     chan string
	readErr   chan error

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

var _ Transport = (*Console)(nil)

// NewConsole starts reading lines from in. Replies are written to out.
func NewConsole(in io.Reader, out io.Writer, requester string) *Console {
	c := &Console{
		requester: requester,
		out:       out,
		lines:     make(chan string),
		readErr:   make(chan error, 1),
		done:      make(chan struct{}),
	}
	go c.read(in)
	return c
}

func (c *Console) read(in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		select {
		case c.lines <- scanner.Text():
		case <-c.done:
			return
		}
	}
	c.readErr <- scanner.Err()
	close(c.lines)
}

// Name implements Transport.
func (c *Console) Name() string { return ConsoleName }

// Receive implements Transport. Blank lines are skipped.
func (c *Console) Receive(ctx context.Context) (Message, error) {
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-c.done:
			return Message{}, ErrClosed
		case line, ok := <-c.lines:
			if !ok {
				if err := <-c.readErr; err != nil {
					c.readErr <- err
					return Message{}, oops.In("transport").With("transport", ConsoleName).Wrapf(err, "read input")
				}
				c.readErr <- nil
				return Message{}, ErrClosed
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			return Message{
				Text:      line,
				Requester: c.requester,
				Channel:   ConsoleName,
				Received:  time.Now(),
			}, nil
		}
	}
}

// Send implements Transport.
func (c *Console) Send(_ context.Context, _ Message, resp cog.Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := io.WriteString(c.out, Render(resp)+"\n"); err != nil {
		return oops.In("transport").With("transport", ConsoleName).Wrapf(err, "write reply")
	}
	return nil
}

// Close implements Transport. The reader goroutine exits at its next line.
func (c *Console) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Render formats a response as plain text, embed included.
func Render(resp cog.Response) string {
	var b strings.Builder
	b.WriteString(resp.Text)
	if e := resp.Embed; e != nil && resp.Text == "" {
		fmt.Fprintf(&b, "[%s]", e.Title)
		if e.Description != "" {
			b.WriteString(" " + e.Description)
		}
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "\n  %s: %s", f.Title, f.Value)
		}
	}
	return b.String()
}
