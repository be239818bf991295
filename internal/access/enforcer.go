// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package access decides which requesters may run which commands.
//
// Requesters hold a role; a role is a list of capability patterns. Pattern
// matching uses gobwas/glob with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "cogs.admin.*" matches "cogs.admin.reload" but NOT "cogs.admin.reload.all"
//   - "**" matches any capability
package access

import (
	"context"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Built-in roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// DefaultRoles returns the built-in role definitions. Users may run every
// command that declares no capability; admins may run everything.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		RoleAdmin: {"**"},
		RoleUser:  {},
	}
}

// compiledGrant holds a pattern and its compiled glob for efficient matching.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks requester capabilities.
//
// Roles are immutable after construction; assignments are mutable and
// protected by mu. Unknown requesters get the default role.
type Enforcer struct {
	roles       map[string][]compiledGrant
	defaultRole string

	mu       sync.RWMutex
	subjects map[string]string // requester -> role
}

// NewEnforcer compiles roles. defaultRole must be one of them.
func NewEnforcer(roles map[string][]string, defaultRole string) (*Enforcer, error) {
	compiled := make(map[string][]compiledGrant, len(roles))
	for role, patterns := range roles {
		grants := make([]compiledGrant, 0, len(patterns))
		for _, p := range patterns {
			if p == "" {
				return nil, oops.In("access").
					Code("INVALID_CAPABILITY_PATTERN").
					With("role", role).
					Errorf("empty capability pattern")
			}
			g, err := glob.Compile(p, '.')
			if err != nil {
				return nil, oops.In("access").
					Code("INVALID_CAPABILITY_PATTERN").
					With("role", role).
					With("pattern", p).
					Wrap(err)
			}
			grants = append(grants, compiledGrant{pattern: p, glob: g})
		}
		compiled[role] = grants
	}
	if _, ok := compiled[defaultRole]; !ok {
		return nil, oops.In("access").
			Code("UNKNOWN_ROLE").
			With("role", defaultRole).
			Errorf("default role %q is not defined", defaultRole)
	}

	return &Enforcer{
		roles:       compiled,
		defaultRole: defaultRole,
		subjects:    make(map[string]string),
	}, nil
}

// NewDefaultEnforcer creates an enforcer with DefaultRoles and assigns the
// admin role to admins.
func NewDefaultEnforcer(admins []string) *Enforcer {
	e, err := NewEnforcer(DefaultRoles(), RoleUser)
	if err != nil {
		// DefaultRoles patterns are hardcoded; failing to compile is a code bug.
		panic("invalid DefaultRoles: " + err.Error())
	}
	for _, a := range admins {
		if a == "" {
			continue
		}
		e.subjects[a] = RoleAdmin
	}
	return e
}

// Assign gives requester a role.
func (e *Enforcer) Assign(requester, role string) error {
	if requester == "" {
		return oops.In("access").Code("INVALID_REQUESTER").Errorf("requester cannot be empty")
	}
	if _, ok := e.roles[role]; !ok {
		return oops.In("access").
			Code("UNKNOWN_ROLE").
			With("role", role).
			Errorf("role %q is not defined", role)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.subjects[requester] = role
	return nil
}

// Revoke returns requester to the default role.
func (e *Enforcer) Revoke(requester string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subjects, requester)
}

// RoleOf returns the role of requester.
func (e *Enforcer) RoleOf(requester string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if role, ok := e.subjects[requester]; ok {
		return role
	}
	return e.defaultRole
}

// Grants returns the capability patterns held by requester, sorted.
func (e *Enforcer) Grants(requester string) []string {
	grants := e.roles[e.RoleOf(requester)]
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	sort.Strings(patterns)
	return patterns
}

// Check returns true if requester holds capability. Empty requesters and
// empty capabilities are always denied.
func (e *Enforcer) Check(_ context.Context, requester, capability string) bool {
	if requester == "" || capability == "" {
		return false
	}
	for _, grant := range e.roles[e.RoleOf(requester)] {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}
