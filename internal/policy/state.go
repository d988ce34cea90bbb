// Package policy decides whether loads may follow redirects by running a
// Lua script.
//
// The script defines a global function:
//
//	function on_redirect(info)
//	  -- info.status_code, info.new_url, info.new_method, info.new_referrer,
//	  -- info.new_host, info.response_status, info.mime_type
//	  return info.new_host ~= "tracker.example"
//	end
//
// A truthy return follows the redirect; anything else cancels the load.
// Scripts without on_redirect allow every redirect.
package policy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultTimeout bounds one script call.
const DefaultTimeout = 100 * time.Millisecond

// Errors for script operations.
var (
	ErrStateClosed = errors.New("policy script state is closed")
	ErrNotFunction = errors.New("policy global is not a function")
)

// state is a sandboxed Lua interpreter. gopher-lua states are not
// goroutine-safe; mu serialises every use.
type state struct {
	mu      sync.Mutex
	L       *lua.LState
	timeout time.Duration
	closed  bool
}

func newState(timeout time.Duration) *state {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("host_of", L.NewFunction(luaHostOf))
	return &state{L: L, timeout: timeout}
}

// luaHostOf returns the host of a URL string, or nil if it cannot be parsed.
func luaHostOf(L *lua.LState) int {
	u, err := url.Parse(L.CheckString(1))
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(u.Hostname()))
	return 1
}

func (s *state) doString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return s.guard(func() error { return s.L.DoString(code) })
}

func (s *state) doFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return s.guard(func() error { return s.L.DoFile(path) })
}

// hasFunc reports whether the global name is a function.
func (s *state) hasFunc(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.L.GetGlobal(name).Type() == lua.LTFunction
}

// call runs the global function name with one table argument built by
// build, and returns its first result.
func (s *state) call(name string, build func(L *lua.LState) lua.LValue) (lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lua.LNil, ErrStateClosed
	}

	fn := s.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return lua.LNil, fmt.Errorf("%w: %s (got %s)", ErrNotFunction, name, fn.Type())
	}

	var ret lua.LValue = lua.LNil
	err := s.guard(func() error {
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, build(s.L)); err != nil {
			return err
		}
		ret = s.L.Get(-1)
		s.L.Pop(1)
		return nil
	})
	return ret, err
}

// guard runs fn under the call timeout and converts panics to errors.
// Callers hold mu.
func (s *state) guard(fn func() error) (err error) {
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.L.SetContext(ctx)
		defer s.L.RemoveContext()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

func (s *state) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.L.Close()
}
