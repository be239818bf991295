// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"regexp"
	"strings"
)

const (
	// MaxCogNameLength is the maximum length of a cog name.
	MaxCogNameLength = 64

	// MaxCommandNameLength is the maximum length of a command name.
	MaxCommandNameLength = 32
)

// cogNamePattern: starts with a lowercase letter, then lowercase letters,
// digits, hyphens or underscores; cannot end with a hyphen or underscore.
var cogNamePattern = regexp.MustCompile(`^[a-z]([a-z0-9_-]*[a-z0-9])?$`)

// commandNamePattern: starts with a letter, then letters, digits, hyphens or
// underscores.
var commandNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidateCogName validates a cog name.
func ValidateCogName(name string) error {
	if len(name) > MaxCogNameLength || !cogNamePattern.MatchString(name) {
		return ErrInvalidName("cog", name)
	}
	return nil
}

// ValidateCommandName validates a command name.
func ValidateCommandName(name string) error {
	if len(name) > MaxCommandNameLength || !commandNamePattern.MatchString(name) {
		return ErrInvalidName("command", name)
	}
	return nil
}

// Builder collects the command table of one cog during Setup. The first
// invalid or duplicate command is recorded and fails the whole load.
type Builder struct {
	cog      string
	commands map[string]*Command
	order    []string
	err      error
}

func newBuilder(cogName string) *Builder {
	return &Builder{
		cog:      cogName,
		commands: make(map[string]*Command),
	}
}

// NewBuilder returns an empty builder for cogName. The Loader creates its
// own; this is for running a cog's Setup directly, as tests do.
func NewBuilder(cogName string) *Builder {
	return newBuilder(cogName)
}

// CogName returns the name of the cog being built.
func (b *Builder) CogName() string {
	return b.cog
}

// Add registers a command. Names are matched case-insensitively.
func (b *Builder) Add(cmd Command) {
	if b.err != nil {
		return
	}
	if err := ValidateCommandName(cmd.Name); err != nil {
		b.err = err
		return
	}
	if cmd.Run == nil {
		b.err = ErrInit(b.cog, ErrInvalidArgs(cmd.Name, "missing handler"))
		return
	}

	key := strings.ToLower(cmd.Name)
	if _, dup := b.commands[key]; dup {
		b.err = ErrConflict(b.cog, cmd.Name)
		return
	}

	caps := make([]string, len(cmd.Capabilities))
	copy(caps, cmd.Capabilities)
	cmd.Capabilities = caps
	cmd.Name = key

	b.commands[key] = &cmd
	b.order = append(b.order, key)
}

// Err returns the first error recorded by Add.
func (b *Builder) Err() error {
	return b.err
}

// Len returns the number of commands registered so far.
func (b *Builder) Len() int {
	return len(b.commands)
}
