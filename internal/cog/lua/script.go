// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package lua

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/cogbot/cogbot/internal/cog"
)

// Settings exposes configuration values to scripts.
type Settings interface {
	String(key, def string) string
}

// commandDef is one cog.command registration made by a script run.
type commandDef struct {
	name         string
	help         string
	usage        string
	capabilities []string
	fn           *lua.LFunction
}

// kvStore is the per-instance key-value store behind cog.kv_*.
type kvStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *kvStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *kvStore) set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *kvStore) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

func (s *kvStore) incr(key string, delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := lua.LVAsNumber(lua.LString(s.data[key]))
	n += lua.LNumber(delta)
	s.data[key] = n.String()
	return float64(n)
}

func (s *kvStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.data)
}

// script is one loaded Lua cog instance.
type script struct {
	manifest    *Manifest
	proto       *lua.FunctionProto
	factory     *stateFactory
	kv          *kvStore
	settings    Settings
	callTimeout time.Duration
	logger      *slog.Logger

	// booted is set once Setup has run the top level successfully.
	booted atomic.Bool
}

// compile parses and compiles source once per load; every invocation runs
// the same prototype in a fresh state.
func compile(name string, src string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, oops.Code(CodeScriptError).In("lua").With("cog", name).Wrapf(err, "syntax error")
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, oops.Code(CodeScriptError).In("lua").With("cog", name).Wrapf(err, "compile")
	}
	return proto, nil
}

func (s *script) name() string {
	return s.manifest.Name
}

// boot creates a sandboxed state, installs the cog table and runs the
// script's top level. The caller closes the returned state.
func (s *script) boot(ctx context.Context) (*lua.LState, []commandDef, error) {
	L, err := s.factory.newState(ctx)
	if err != nil {
		return nil, nil, err
	}

	var defs []commandDef
	s.install(L, &defs)

	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		L.Close()
		return nil, nil, s.scriptErr(ctx, "load", err)
	}
	return L, defs, nil
}

// Setup runs the script once and registers the commands it declares.
func (s *script) Setup(ctx context.Context, b *cog.Builder) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	L, defs, err := s.boot(ctx)
	if err != nil {
		return err
	}
	defer L.Close()
	s.booted.Store(true)

	for _, def := range defs {
		caps := append(append([]string(nil), s.manifest.Capabilities...), def.capabilities...)
		b.Add(cog.Command{
			Name:         def.name,
			Help:         def.help,
			Usage:        def.usage,
			Capabilities: caps,
			Run:          s.handler(def.name, def.usage),
		})
	}
	return nil
}

// Teardown calls the script's global teardown function, if any, and drops
// the instance's stored values. A script whose top level never ran has
// nothing to tear down.
func (s *script) Teardown(ctx context.Context) error {
	defer s.kv.clear()
	if !s.booted.Load() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	L, _, err := s.boot(ctx)
	if err != nil {
		return err
	}
	defer L.Close()

	fn, ok := L.GetGlobal("teardown").(*lua.LFunction)
	if !ok {
		return nil
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return s.scriptErr(ctx, "teardown", err)
	}
	return nil
}

func (s *script) handler(command, usage string) cog.Handler {
	return func(ctx context.Context, inv *cog.Invocation) (cog.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		L, defs, err := s.boot(ctx)
		if err != nil {
			return cog.Response{}, err
		}
		defer L.Close()

		var fn *lua.LFunction
		for _, def := range defs {
			if strings.EqualFold(def.name, command) {
				fn = def.fn
				break
			}
		}
		if fn == nil {
			return cog.Response{}, oops.Code(CodeScriptError).
				In("lua").
				With("cog", s.name()).
				With("command", command).
				Errorf("command %s no longer registered by script", command)
		}

		if err := L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, contextTable(L, s.name(), inv)); err != nil {
			return cog.Response{}, s.scriptErr(ctx, command, err)
		}
		ret, msg := L.Get(-2), L.Get(-1)
		L.Pop(2)

		if msg != lua.LNil {
			text := lua.LVAsString(msg)
			if text == "usage" {
				return cog.Response{}, cog.ErrInvalidArgs(command, usage)
			}
			return cog.Failure(text), nil
		}
		return toResponse(ret), nil
	}
}

func (s *script) scriptErr(ctx context.Context, op string, err error) error {
	b := oops.In("lua").With("cog", s.name()).With("operation", op)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return b.Code(cog.CodeTimeout).Wrapf(err, "script exceeded %s", s.callTimeout)
	}
	return b.Code(CodeScriptError).Wrapf(err, "script %s failed", op)
}

// install registers the cog host table on L.
func (s *script) install(L *lua.LState, defs *[]commandDef) {
	mod := L.NewTable()
	L.SetField(mod, "name", lua.LString(s.manifest.Name))
	L.SetField(mod, "version", lua.LString(s.manifest.Version))
	L.SetField(mod, "command", L.NewFunction(s.commandFn(defs)))
	L.SetField(mod, "log", L.NewFunction(s.logFn))
	L.SetField(mod, "new_request_id", L.NewFunction(newRequestIDFn))
	L.SetField(mod, "now", L.NewFunction(nowFn))
	L.SetField(mod, "setting", L.NewFunction(s.settingFn))
	L.SetField(mod, "kv_get", L.NewFunction(s.kvGetFn))
	L.SetField(mod, "kv_set", L.NewFunction(s.kvSetFn))
	L.SetField(mod, "kv_delete", L.NewFunction(s.kvDeleteFn))
	L.SetField(mod, "kv_incr", L.NewFunction(s.kvIncrFn))
	L.SetGlobal("cog", mod)
}

// commandFn implements cog.command(table) and cog.command(name, [help], fn).
func (s *script) commandFn(defs *[]commandDef) lua.LGFunction {
	return func(L *lua.LState) int {
		var def commandDef
		if t, ok := L.Get(1).(*lua.LTable); ok {
			def.name = lua.LVAsString(t.RawGetString("name"))
			def.help = lua.LVAsString(t.RawGetString("help"))
			def.usage = lua.LVAsString(t.RawGetString("usage"))
			if caps, ok := t.RawGetString("capabilities").(*lua.LTable); ok {
				caps.ForEach(func(_, v lua.LValue) {
					def.capabilities = append(def.capabilities, lua.LVAsString(v))
				})
			}
			fn, ok := t.RawGetString("run").(*lua.LFunction)
			if !ok {
				L.ArgError(1, "run must be a function")
				return 0
			}
			def.fn = fn
		} else {
			def.name = L.CheckString(1)
			switch v := L.Get(2).(type) {
			case *lua.LFunction:
				def.fn = v
			default:
				def.help = L.CheckString(2)
				def.fn = L.CheckFunction(3)
			}
		}
		if def.name == "" {
			L.ArgError(1, "command name is required")
			return 0
		}
		if def.usage == "" {
			def.usage = def.name
		}
		*defs = append(*defs, def)
		return 0
	}
}

func (s *script) logFn(L *lua.LState) int {
	level := L.CheckString(1)
	msg := L.CheckString(2)

	logger := s.logger.With("cog", s.name())
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	switch level {
	case "debug":
		logger.DebugContext(ctx, msg)
	case "warn":
		logger.WarnContext(ctx, msg)
	case "error":
		logger.ErrorContext(ctx, msg)
	default:
		logger.InfoContext(ctx, msg)
	}
	return 0
}

func newRequestIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

func nowFn(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

// settingFn reads cogs.settings.<cog>.<key>.
func (s *script) settingFn(L *lua.LState) int {
	key := L.CheckString(1)
	def := L.OptString(2, "")
	if s.settings == nil {
		L.Push(lua.LString(def))
		return 1
	}
	L.Push(lua.LString(s.settings.String("cogs.settings."+s.name()+"."+key, def)))
	return 1
}

func (s *script) kvGetFn(L *lua.LState) int {
	v, ok := s.kv.get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

func (s *script) kvSetFn(L *lua.LState) int {
	key := L.CheckString(1)
	s.kv.set(key, lua.LVAsString(L.CheckAny(2)))
	return 0
}

func (s *script) kvDeleteFn(L *lua.LState) int {
	s.kv.remove(L.CheckString(1))
	return 0
}

func (s *script) kvIncrFn(L *lua.LState) int {
	key := L.CheckString(1)
	delta := float64(L.OptNumber(2, 1))
	L.Push(lua.LNumber(s.kv.incr(key, delta)))
	return 1
}

// contextTable builds the table passed to command functions.
func contextTable(L *lua.LState, cogName string, inv *cog.Invocation) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(inv.ID.String()))
	L.SetField(t, "cog", lua.LString(cogName))
	L.SetField(t, "name", lua.LString(inv.Command))
	L.SetField(t, "text", lua.LString(inv.Text))
	L.SetField(t, "user", lua.LString(inv.Requester))
	L.SetField(t, "channel", lua.LString(inv.Channel))

	args := L.NewTable()
	for k, v := range inv.Args {
		L.SetField(args, k, lua.LString(v))
	}
	L.SetField(t, "args", args)

	words := L.NewTable()
	for _, w := range strings.Fields(inv.Text) {
		words.Append(lua.LString(w))
	}
	L.SetField(t, "words", words)
	return t
}

// toResponse converts a command function's return value. Strings and numbers
// become plain replies; tables may set text, ok and embed.
func toResponse(ret lua.LValue) cog.Response {
	switch v := ret.(type) {
	case *lua.LNilType:
		return cog.Reply("")
	case lua.LString, lua.LNumber, lua.LBool:
		return cog.Reply(v.String())
	case *lua.LTable:
		text := lua.LVAsString(v.RawGetString("text"))
		resp := cog.Reply(text)
		if ok := v.RawGetString("ok"); ok != lua.LNil && !lua.LVAsBool(ok) {
			resp = cog.Failure(text)
		}
		if e, isTable := v.RawGetString("embed").(*lua.LTable); isTable {
			resp.Embed = toEmbed(e)
		}
		return resp
	default:
		return cog.Reply(ret.String())
	}
}

func toEmbed(t *lua.LTable) *cog.Embed {
	var fields []cog.Field
	if ft, ok := t.RawGetString("fields").(*lua.LTable); ok {
		ft.ForEach(func(_, v lua.LValue) {
			f, ok := v.(*lua.LTable)
			if !ok {
				return
			}
			fields = append(fields, cog.Field{
				Title: lua.LVAsString(f.RawGetString("title")),
				Value: lua.LVAsString(f.RawGetString("value")),
				Short: lua.LVAsBool(f.RawGetString("short")),
			})
		})
	}
	return cog.NewEmbed(
		lua.LVAsString(t.RawGetString("title")),
		lua.LVAsString(t.RawGetString("description")),
		lua.LVAsString(t.RawGetString("color")),
		fields...,
	)
}
