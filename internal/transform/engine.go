// Package transform compiles and executes sandboxed Lua scripts that
// mutate the universal context. Compilation is cached by content hash;
// execution runs on pooled VM states with hard resource ceilings
// enforced in-engine rather than by wall clock.
package transform

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/YASSERRMD/naseejmesh/internal/message"
)

// Limits are the sandbox ceilings. They bound work done per execution;
// none of them is a wall-clock timeout.
type Limits struct {
	MaxOps     int64 // host-boundary operation budget
	MaxDepth   int   // expression/call depth
	MaxString  int   // bytes per string value
	MaxEntries int   // entries per array or map
}

// DefaultLimits mirrors the engine's documented ceilings.
var DefaultLimits = Limits{
	MaxOps:     100_000,
	MaxDepth:   64,
	MaxString:  1 << 20,
	MaxEntries: 10_000,
}

// FailureKind classifies transform failures.
type FailureKind int

const (
	FailCompile FailureKind = iota
	FailExecute
	FailTimeout
	FailOutput
)

// Error is a classified transform failure.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case FailCompile:
		return fmt.Sprintf("transform compile: %v", e.Err)
	case FailExecute:
		return fmt.Sprintf("transform execute: %v", e.Err)
	case FailTimeout:
		return fmt.Sprintf("transform timeout: %v", e.Err)
	default:
		return fmt.Sprintf("transform output: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Engine holds the compiled-artifact cache and the VM state pool.
type Engine struct {
	limits Limits

	cacheMu sync.Mutex
	cache   map[[sha256.Size]byte]*lua.FunctionProto

	pool sync.Pool
}

// NewEngine creates an engine with the given limits. Zero-value fields
// fall back to the defaults.
func NewEngine(limits Limits) *Engine {
	if limits.MaxOps == 0 {
		limits.MaxOps = DefaultLimits.MaxOps
	}
	if limits.MaxDepth == 0 {
		limits.MaxDepth = DefaultLimits.MaxDepth
	}
	if limits.MaxString == 0 {
		limits.MaxString = DefaultLimits.MaxString
	}
	if limits.MaxEntries == 0 {
		limits.MaxEntries = DefaultLimits.MaxEntries
	}

	e := &Engine{
		limits: limits,
		cache:  make(map[[sha256.Size]byte]*lua.FunctionProto),
	}
	e.pool = sync.Pool{
		New: func() interface{} {
			// The call-stack ceiling is the depth ceiling: deeper
			// call chains fail inside the VM.
			L := lua.NewState(lua.Options{
				SkipOpenLibs:  true,
				CallStackSize: limits.MaxDepth,
			})
			lua.OpenBase(L)
			lua.OpenString(L)
			lua.OpenTable(L)
			lua.OpenMath(L)
			registerBuiltins(L)
			return L
		},
	}
	return e
}

// compile parses and compiles source, consulting the content-hash
// cache first. Racing compilations of the same script are harmless —
// compilation is idempotent.
func (e *Engine) compile(source string) (*lua.FunctionProto, error) {
	key := sha256.Sum256([]byte(source))

	e.cacheMu.Lock()
	proto, ok := e.cache[key]
	e.cacheMu.Unlock()
	if ok {
		return proto, nil
	}

	chunk, err := parse.Parse(strings.NewReader(source), "transform")
	if err != nil {
		return nil, err
	}
	proto, err = lua.Compile(chunk, "transform")
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.cache[key] = proto
	e.cacheMu.Unlock()
	return proto, nil
}

// Validate compiles source and returns compile diagnostics without
// executing anything. A script that passes Validate never fails with a
// compile classification in Execute.
func (e *Engine) Validate(source string) error {
	if _, err := e.compile(source); err != nil {
		return &Error{Kind: FailCompile, Err: err}
	}
	return nil
}

// Execute runs the script against a context. The scope exposes
// `payload` (JSON-equivalent), `metadata`, `protocol`, `destination`;
// the mutated values are written back into the context on success.
func (e *Engine) Execute(source string, ctx *message.Context) error {
	proto, err := e.compile(source)
	if err != nil {
		return &Error{Kind: FailCompile, Err: err}
	}

	L := e.pool.Get().(*lua.LState)
	defer e.releaseState(L)

	budget := newBudget(e.limits.MaxOps)
	L.SetContext(context.WithValue(context.Background(), budgetKey{}, budget))

	// Payload: structured when it parses as JSON, raw string otherwise.
	var payload interface{}
	raw := ctx.Payload.Bytes()
	if len(raw) > 0 && json.Valid(raw) {
		if err := json.Unmarshal(raw, &payload); err != nil {
			payload = string(raw)
		}
	} else {
		payload = string(raw)
	}

	pv, err := toLua(L, payload, e.limits, budget, 0)
	if err != nil {
		return &Error{Kind: FailOutput, Err: err}
	}
	L.SetGlobal("payload", pv)

	meta := L.NewTable()
	for k, v := range ctx.Metadata {
		meta.RawSetString(k, lua.LString(v))
	}
	L.SetGlobal("metadata", meta)
	L.SetGlobal("protocol", lua.LString(ctx.Protocol))
	L.SetGlobal("destination", lua.LString(ctx.Destination))

	fn := L.NewFunctionFromProto(proto)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		if budget.exhausted() {
			return &Error{Kind: FailExecute, Err: fmt.Errorf("operation limit exceeded: %w", err)}
		}
		return &Error{Kind: FailExecute, Err: err}
	}

	// Read the scope back and mutate the context.
	out, err := fromLua(L.GetGlobal("payload"), e.limits, budget, 0)
	if err != nil {
		return &Error{Kind: FailOutput, Err: err}
	}
	switch v := out.(type) {
	case string:
		ctx.SetPayload([]byte(v))
	case nil:
		ctx.SetPayload(nil)
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			return &Error{Kind: FailOutput, Err: err}
		}
		ctx.SetPayload(enc)
	}

	if mt, ok := L.GetGlobal("metadata").(*lua.LTable); ok {
		newMeta := make(map[string]string, len(ctx.Metadata))
		mt.ForEach(func(k, v lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				newMeta[string(ks)] = v.String()
			}
		})
		ctx.Metadata = newMeta
	}
	if dst, ok := L.GetGlobal("destination").(lua.LString); ok {
		ctx.Destination = string(dst)
	}

	return nil
}

// Simulate runs the script with an `input` string scope and returns the
// `output` string the script assigned. Used by the admin dry-run
// surface.
func (e *Engine) Simulate(source, input string) (string, error) {
	proto, err := e.compile(source)
	if err != nil {
		return "", &Error{Kind: FailCompile, Err: err}
	}

	L := e.pool.Get().(*lua.LState)
	defer e.releaseState(L)

	budget := newBudget(e.limits.MaxOps)
	L.SetContext(context.WithValue(context.Background(), budgetKey{}, budget))

	L.SetGlobal("input", lua.LString(input))
	L.SetGlobal("output", lua.LString(""))

	fn := L.NewFunctionFromProto(proto)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return "", &Error{Kind: FailExecute, Err: err}
	}

	out := L.GetGlobal("output")
	if out == lua.LNil {
		return "", &Error{Kind: FailOutput, Err: fmt.Errorf("script did not assign output")}
	}
	s := out.String()
	if len(s) > e.limits.MaxString {
		return "", &Error{Kind: FailOutput, Err: fmt.Errorf("output exceeds %d bytes", e.limits.MaxString)}
	}
	return s, nil
}

// releaseState clears the scope globals and returns the VM to the pool.
func (e *Engine) releaseState(L *lua.LState) {
	for _, name := range []string{"payload", "metadata", "protocol", "destination", "input", "output"} {
		L.SetGlobal(name, lua.LNil)
	}
	e.pool.Put(L)
}

// CacheSize returns the number of compiled scripts held.
func (e *Engine) CacheSize() int {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return len(e.cache)
}
