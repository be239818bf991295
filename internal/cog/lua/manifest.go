// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package lua runs cogs written in Lua.
//
// A Lua cog is a directory holding a cog.yaml manifest and an entry script.
// The script registers commands through the global cog table:
//
//	cog.command{name = "greet", help = "Say hi", run = function(ctx) return "hi " .. ctx.user end}
//	cog.command("ping", "Reply with pong", function(ctx) return "pong" end)
//
// Each invocation runs in a fresh sandboxed state. State that must survive
// between invocations goes through cog.kv_get/kv_set, which live as long as
// the loaded instance and are cleared on reload.
package lua

import (
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/cogbot/cogbot/internal/cog"
)

// ManifestFile is the manifest file name inside a cog directory.
const ManifestFile = "cog.yaml"

// DefaultEntry is the script run when the manifest names none.
const DefaultEntry = "main.lua"

// Manifest describes a Lua cog.
type Manifest struct {
	Name        string `yaml:"name" json:"name" jsonschema:"required,pattern=^[a-z]([a-z0-9_-]*[a-z0-9])?$,maxLength=64"`
	Version     string `yaml:"version" json:"version" jsonschema:"required,description=Semantic version of the cog"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Entry       string `yaml:"entry,omitempty" json:"entry,omitempty" jsonschema:"description=Entry script relative to the cog directory,default=main.lua"`
	// Requires is a semver constraint on the bot version (e.g., ">= 0.2").
	Requires string `yaml:"requires,omitempty" json:"requires,omitempty"`
	// Capabilities every command of this cog requires in addition to its own.
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// ParseManifest parses and validates a cog.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.Code("INVALID_MANIFEST").In("lua").New("manifest is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.Code("INVALID_MANIFEST").In("lua").Wrapf(err, "invalid YAML")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	invalid := oops.Code("INVALID_MANIFEST").In("lua").With("cog", m.Name)

	// The name error carries its own code, which would shadow ours.
	if err := cog.ValidateCogName(m.Name); err != nil {
		return invalid.Errorf("name: %s", err.Error())
	}
	if m.Version == "" {
		return invalid.New("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return invalid.With("version", m.Version).Wrapf(err, "version")
	}
	if m.Requires != "" {
		if _, err := semver.NewConstraint(m.Requires); err != nil {
			return invalid.With("requires", m.Requires).Wrapf(err, "requires")
		}
	}
	entry := m.EntryPath()
	if filepath.IsAbs(entry) || entry == ".." || strings.HasPrefix(entry, "../") {
		return invalid.With("entry", m.Entry).New("entry must stay inside the cog directory")
	}
	if filepath.Ext(entry) != ".lua" {
		return invalid.With("entry", m.Entry).New("entry must be a .lua file")
	}
	return nil
}

// EntryPath returns the cleaned entry script path, relative to the cog
// directory.
func (m *Manifest) EntryPath() string {
	if m.Entry == "" {
		return DefaultEntry
	}
	return filepath.ToSlash(filepath.Clean(m.Entry))
}

// Compatible reports whether the cog accepts the given bot version. An empty
// constraint or an unparsable bot version (development builds) accepts all.
func (m *Manifest) Compatible(botVersion string) bool {
	if m.Requires == "" {
		return true
	}
	v, err := semver.NewVersion(botVersion)
	if err != nil {
		return true
	}
	c, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return false
	}
	return c.Check(v)
}
