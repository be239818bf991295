// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package transport

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cogbot/cogbot/internal/cog"
)

// DefaultPrefix marks a message as a command.
const DefaultPrefix = "/"

// DefaultMaxInputLength caps the free text of one command, in runes.
const DefaultMaxInputLength = 1000

var dangerous = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
}

// Sanitize strips control characters and script injection patterns, caps the
// text at maxLen runes and trims surrounding space.
func Sanitize(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxInputLength
	}
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, text)

	if utf8.RuneCountInString(text) > maxLen {
		text = string([]rune(text)[:maxLen])
	}
	for _, re := range dangerous {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// Parser turns message text into invocations.
//
// Syntax: <prefix>[cog:]command [key=value ...] [free text]. Leading
// key=value tokens become named arguments; the rest is free text.
type Parser struct {
	Prefix    string
	MaxLength int
}

// NewParser creates a parser with the default prefix.
func NewParser(maxLength int) *Parser {
	return &Parser{Prefix: DefaultPrefix, MaxLength: maxLength}
}

// Parse returns the invocation in msg, or false when msg is not a command.
func (p *Parser) Parse(msg Message) (*cog.Invocation, bool) {
	text := strings.TrimSpace(msg.Text)
	prefix := p.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasPrefix(text, prefix) {
		return nil, false
	}
	text = strings.TrimPrefix(text, prefix)

	head, rest, _ := strings.Cut(text, " ")
	if head == "" {
		return nil, false
	}
	cogName, command, explicit := strings.Cut(head, ":")
	if !explicit {
		cogName, command = "", head
	}
	if command == "" {
		return nil, false
	}

	inv := cog.NewInvocation(cogName, command, "", msg.Requester)
	inv.Channel = msg.Channel
	if !msg.Received.IsZero() {
		inv.Received = msg.Received
	}

	rest = Sanitize(rest, p.MaxLength)
	for rest != "" {
		tok, tail, _ := strings.Cut(rest, " ")
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" || strings.ContainsAny(key, "\"'") {
			break
		}
		inv.Args[key] = value
		rest = strings.TrimLeft(tail, " ")
	}
	inv.Text = rest
	return inv, true
}
