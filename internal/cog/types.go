// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package cog provides the cog registry, loader, reload coordinator and
// command dispatcher.
//
// A cog is a self-contained unit of command handlers that can be loaded,
// unloaded and reloaded while the bot keeps serving other commands. The
// Registry is the only owner of live cog records; the Coordinator is the only
// writer; the Dispatcher is the only way to invoke a cog's commands.
package cog

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Cog is a loadable unit of commands. Setup registers the cog's commands on
// the builder. A cog that fails Setup is never published.
type Cog interface {
	Setup(ctx context.Context, b *Builder) error
}

// Teardowner is implemented by cogs that hold resources. Teardown runs once,
// after the cog has been retired and no dispatch is using it anymore.
type Teardowner interface {
	Teardown(ctx context.Context) error
}

// Handler executes one command invocation.
type Handler func(ctx context.Context, inv *Invocation) (Response, error)

// Command is one entry in a cog's command table.
type Command struct {
	Name         string   // command name, unique within the cog
	Help         string   // one line description
	Usage        string   // usage pattern (e.g., "reload [cog]")
	Capabilities []string // ALL required capabilities (AND logic)
	Run          Handler
}

// Module is an uninitialized cog instance produced by a Source.
type Module struct {
	Name    string
	Version string
	Cog     Cog
}

// Invocation is one inbound command as delivered by a transport.
type Invocation struct {
	ID        ulid.ULID
	Cog       string            // explicit cog, empty for implicit resolution
	Command   string            // command name
	Args      map[string]string // named arguments
	Text      string            // free text after the command name
	Requester string            // requester identity
	Channel   string            // conversation the reply belongs to
	Received  time.Time
}

// NewInvocation creates an invocation with a fresh ID.
func NewInvocation(cogName, command, text, requester string) *Invocation {
	return &Invocation{
		ID:        ulid.Make(),
		Cog:       cogName,
		Command:   command,
		Args:      map[string]string{},
		Text:      text,
		Requester: requester,
		Received:  time.Now(),
	}
}

// Arg returns a named argument, falling back to def when absent or empty.
func (inv *Invocation) Arg(name, def string) string {
	if inv == nil || inv.Args == nil {
		return def
	}
	if v, ok := inv.Args[name]; ok && v != "" {
		return v
	}
	return def
}

// Field is one name/value pair of an embed.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Embed is a structured rich message.
type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       string  `json:"color,omitempty"` // good, warning, danger
	Fields      []Field `json:"fields,omitempty"`
}

// Response is the outbound reply to an invocation.
type Response struct {
	OK    bool   `json:"ok"`
	Text  string `json:"text"`
	Embed *Embed `json:"embed,omitempty"`
}

// Prefixes distinguishing success from failure text.
const (
	SuccessPrefix = "✅ "
	FailurePrefix = "❌ "
)

// Reply returns a plain successful response.
func Reply(text string) Response {
	return Response{OK: true, Text: text}
}

// Success returns a successful response prefixed with the success marker.
func Success(text string) Response {
	return Response{OK: true, Text: SuccessPrefix + text}
}

// Failure returns a failed response prefixed with the failure marker.
func Failure(text string) Response {
	return Response{OK: false, Text: FailurePrefix + text}
}

// NewEmbed builds an embed; fields are rendered in the given order.
func NewEmbed(title, description, color string, fields ...Field) *Embed {
	if color == "" {
		color = "good"
	}
	return &Embed{
		Title:       title,
		Description: description,
		Color:       color,
		Fields:      fields,
	}
}
