// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package transport connects the bot to its users. A Transport delivers
// inbound messages and carries replies back to the conversation they came
// from; it knows nothing about cogs beyond the Response it renders.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/cogbot/cogbot/internal/cog"
)

// ErrClosed is returned by Receive once the transport has no more input.
var ErrClosed = errors.New("transport closed")

// Message is one inbound text message.
type Message struct {
	Text      string
	Requester string
	Channel   string // reply routing key, transport specific
	ReplyTo   string // client correlation id echoed in the reply, optional
	Received  time.Time
}

// Transport is a messaging platform boundary.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string
	// Receive blocks until the next message arrives. It returns ErrClosed
	// when input is exhausted and ctx.Err() when ctx is done.
	Receive(ctx context.Context) (Message, error)
	// Send delivers resp to the conversation msg came from.
	Send(ctx context.Context, msg Message, resp cog.Response) error
	// Close releases the transport's resources.
	Close() error
}
