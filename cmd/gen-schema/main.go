// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Command gen-schema generates the Lua cog manifest JSON Schema file.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cogbot/cogbot/internal/cog/lua"
)

func main() {
	out := flag.String("out", filepath.Join("schemas", "cog.schema.json"), "output path")
	flag.Parse()

	if err := write(*out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s\n", *out)
}

func write(outPath string) error {
	schema, err := lua.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generating schema: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
