package policy

import (
	"net/url"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/loadwire/internal/loader"
	"github.com/dshills/loadwire/internal/logging"
	"github.com/dshills/loadwire/internal/wire"
)

const redirectHook = "on_redirect"

// Policy evaluates a redirect script.
type Policy struct {
	state *state
	log   *logging.Logger

	allowed atomic.Int64
	denied  atomic.Int64
	errors  atomic.Int64
}

// Option configures a Policy.
type Option func(*options)

type options struct {
	timeout time.Duration
	log     *logging.Logger
}

// WithTimeout bounds each script call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLogger sets the logger used for script failures.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

func build(opts []Option) *Policy {
	o := options{timeout: DefaultTimeout, log: logging.Null()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Null()
	}
	return &Policy{state: newState(o.timeout), log: o.log}
}

// FromString compiles and runs the script source.
func FromString(src string, opts ...Option) (*Policy, error) {
	p := build(opts)
	if err := p.state.doString(src); err != nil {
		p.state.close()
		return nil, err
	}
	return p, nil
}

// FromFile loads and runs the script at path.
func FromFile(path string, opts ...Option) (*Policy, error) {
	p := build(opts)
	if err := p.state.doFile(path); err != nil {
		p.state.close()
		return nil, err
	}
	return p, nil
}

// AllowRedirect runs on_redirect for info. Script errors deny the
// redirect and are returned.
func (p *Policy) AllowRedirect(info wire.RedirectInfo, resp loader.ResponseInfo) (bool, error) {
	if !p.state.hasFunc(redirectHook) {
		p.allowed.Add(1)
		return true, nil
	}

	ret, err := p.state.call(redirectHook, func(L *lua.LState) lua.LValue {
		t := L.NewTable()
		t.RawSetString("status_code", lua.LNumber(info.StatusCode))
		t.RawSetString("new_url", lua.LString(info.NewURL))
		t.RawSetString("new_method", lua.LString(info.NewMethod))
		t.RawSetString("new_referrer", lua.LString(info.NewReferrer))
		if u, err := url.Parse(info.NewURL); err == nil {
			t.RawSetString("new_host", lua.LString(u.Hostname()))
		}
		t.RawSetString("response_status", lua.LNumber(resp.StatusCode))
		t.RawSetString("mime_type", lua.LString(resp.MimeType))
		return t
	})
	if err != nil {
		p.errors.Add(1)
		p.denied.Add(1)
		p.log.Warn("policy: %s for %s: %v", redirectHook, info.NewURL, err)
		return false, err
	}

	if lua.LVAsBool(ret) {
		p.allowed.Add(1)
		return true, nil
	}
	p.denied.Add(1)
	p.log.Debug("policy: redirect to %s denied", info.NewURL)
	return false, nil
}

// Wrap returns a peer that consults the policy before forwarding
// redirects to peer. Denied redirects never reach peer.
func (p *Policy) Wrap(peer loader.Peer) loader.Peer {
	return &guardedPeer{Peer: peer, policy: p}
}

// Stats reports decision counts.
func (p *Policy) Stats() (allowed, denied, errors int64) {
	return p.allowed.Load(), p.denied.Load(), p.errors.Load()
}

// Close releases the interpreter.
func (p *Policy) Close() {
	p.state.close()
}

type guardedPeer struct {
	loader.Peer
	policy *Policy
}

func (g *guardedPeer) OnReceivedRedirect(info wire.RedirectInfo, resp loader.ResponseInfo) bool {
	if ok, _ := g.policy.AllowRedirect(info, resp); !ok {
		return false
	}
	return g.Peer.OnReceivedRedirect(info, resp)
}
