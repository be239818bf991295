// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

type library struct {
	name string
	fn   lua.LGFunction
}

// Safe: base, table, string, math. Never opened: os, io, debug, package,
// coroutine, channel.
func safeLibraries() []library {
	return []library{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// Base library functions that reach the filesystem or compile arbitrary code.
var blockedGlobals = []string{"dofile", "loadfile", "loadstring", "load", "require", "collectgarbage"}

// stateFactory creates sandboxed Lua states.
type stateFactory struct {
	libraries []library
	// callStackSize caps recursion depth.
	callStackSize int
}

func newStateFactory() *stateFactory {
	return &stateFactory{
		libraries:     safeLibraries(),
		callStackSize: 256,
	}
}

// newState creates a fresh state with only safe libraries loaded. The state
// observes ctx: a cancelled or expired context aborts running Lua code.
func (f *stateFactory) newState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       f.callStackSize,
		IncludeGoStackTrace: false,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "open library")
		}
	}

	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}
