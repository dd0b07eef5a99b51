package js

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/chrisuehlinger/postmessage/network"
)

// WindowProxy is how one scope sees a window. Each viewing scope has at
// most one proxy per target, so script identity comparisons hold.
type WindowProxy struct {
	Reflector
	refCounted

	window *GlobalScope
}

// Window returns the scope the proxy stands for.
func (p *WindowProxy) Window() *GlobalScope { return p.window }

// Trace has nothing to visit: the target scope is not owned by the viewer.
func (p *WindowProxy) Trace(tr Tracer) {}

// WindowProxyFor returns s's proxy for window w, creating it on first use.
// A window's proxy for itself is its global object.
func (s *GlobalScope) WindowProxyFor(w *GlobalScope) *WindowProxy {
	if p, ok := s.proxies[w]; ok {
		return p
	}
	p := &WindowProxy{window: w}
	s.proxies[w] = p
	if w == s {
		return reflectDOMObjectAs(p, s, "Window", s.global, p.bindGlobal)
	}
	return reflectDOMObject(p, s, "Window", p.bind)
}

// PostMessage queues message for delivery to the proxied window. The
// receiver discards it unless its origin matches targetOrigin.
func (p *WindowProxy) PostMessage(message goja.Value, targetOrigin string, transfer []goja.Value) error {
	sender := p.Scope()
	target := p.window

	switch targetOrigin {
	case "*":
	case "/":
		targetOrigin = sender.origin
	default:
		origin, err := network.SerializeOrigin(targetOrigin)
		if err != nil || origin == network.OpaqueOrigin {
			return ErrSyntax("Invalid target origin '" + targetOrigin + "' in a call to 'postMessage'.")
		}
		targetOrigin = origin
	}

	msg, err := sender.serialize(message, transfer)
	if err != nil {
		return err
	}
	if target.closed {
		sender.host.discard(msg)
		return nil
	}

	origin := sender.origin
	sender.logger.Debug("window message posted",
		"target", target.id.String()[:8], "target_origin", targetOrigin, "data", cloneSummary(msg.root))

	target.queueMessageTask("posted message", msg, func() {
		if targetOrigin != "*" && targetOrigin != target.origin {
			target.logger.Debug("window message dropped on origin mismatch",
				"target_origin", targetOrigin, "sender_origin", origin)
			target.host.discard(msg)
			return
		}
		data, ports, err := target.deserialize(msg)
		if err != nil {
			target.logger.Warn("window message could not be deserialized", "error", err)
			DispatchError(target.target, target)
			return
		}
		var source *WindowProxy
		if !sender.closed {
			source = target.WindowProxyFor(sender)
		}
		DispatchJSVal(target.target, target, data, origin, source, ports)
	})
	return nil
}

// Closed reports whether the proxied window has been closed.
func (p *WindowProxy) Closed() bool { return p.window.closed }

// Close closes the proxied window if this scope opened it or it is the
// viewer itself.
func (p *WindowProxy) Close() {
	w := p.window
	if w == p.Scope() || w.opener == p.Scope() {
		w.host.closeScope(w)
	}
}

// bind defines the members a window exposes to other windows.
func (p *WindowProxy) bind(obj *goja.Object) {
	s := p.Scope()
	vm := s.vm

	p.definePostMessage(obj)
	obj.Set("close", func(call goja.FunctionCall) goja.Value {
		p.Close()
		return goja.Undefined()
	})
	s.defineGetter(obj, "closed", func() goja.Value { return vm.ToValue(p.Closed()) })
	for _, name := range []string{"self", "window", "frames"} {
		s.defineGetter(obj, name, func() goja.Value { return obj })
	}
	s.defineGetter(obj, "opener", func() goja.Value {
		opener := p.window.opener
		if opener == nil || opener.closed {
			return goja.Null()
		}
		return s.WindowProxyFor(opener).Object()
	})
}

// bindGlobal defines the same members on a window's own global object.
func (p *WindowProxy) bindGlobal(obj *goja.Object) {
	s := p.Scope()
	if proto, ok := s.prototypes["Window"]; ok {
		obj.SetPrototype(proto)
	}
	p.definePostMessage(obj)
	obj.Set("close", func(call goja.FunctionCall) goja.Value {
		p.Close()
		return goja.Undefined()
	})
	s.defineGetter(obj, "closed", func() goja.Value { return s.vm.ToValue(s.closed) })
}

func (p *WindowProxy) definePostMessage(obj *goja.Object) {
	s := p.Scope()
	vm := s.vm
	obj.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("Failed to execute 'postMessage' on 'Window': 1 argument required, but only 0 present."))
		}

		targetOrigin := "/"
		transferArg := call.Argument(2)
		if opts, ok := call.Argument(1).(*goja.Object); ok {
			if v := opts.Get("targetOrigin"); v != nil && !goja.IsUndefined(v) {
				targetOrigin = v.String()
			}
			transferArg = opts
		} else if arg := call.Argument(1); !goja.IsUndefined(arg) {
			targetOrigin = arg.String()
		}

		transfer, err := s.transferOption(transferArg)
		if err != nil {
			s.throwDOMError(err)
		}
		if err := p.PostMessage(call.Arguments[0], targetOrigin, transfer); err != nil {
			s.throwDOMError(err)
		}
		return goja.Undefined()
	})
}

// Open creates an auxiliary window for rawURL whose opener is s, as if s
// had called window.open(rawURL).
func (s *GlobalScope) Open(rawURL string) (*GlobalScope, error) {
	if s.kind != ScopeWindow {
		return nil, fmt.Errorf("cannot open a window from a %s scope", s.kind)
	}
	return s.open(rawURL)
}

// open creates a new window scope for ref, resolved against s's URL, with s
// as its opener. An empty ref opens the configured default URL.
func (s *GlobalScope) open(ref string) (*GlobalScope, error) {
	target := s.host.openURL
	if ref != "" {
		resolved, err := network.ResolveURL(s.url, ref)
		if err != nil {
			return nil, err
		}
		target = resolved
	}
	child, err := s.host.NewWindow(target)
	if err != nil {
		return nil, err
	}
	child.opener = s
	s.logger.Debug("window opened", "url", target, "child", child.id.String()[:8])
	return child, nil
}
