// Package js hosts script global scopes on the goja JavaScript engine (pure
// Go ES5.1+ implementation) and delivers messages between them.
//
// A GlobalScope is single-threaded: script, listeners and host objects of a
// scope are only touched from the goroutine driving its Host.
package js

import (
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/chrisuehlinger/postmessage/internal/logging"
	"github.com/chrisuehlinger/postmessage/network"
)

// ScopeKind distinguishes window globals from worker globals.
type ScopeKind int

const (
	ScopeWindow ScopeKind = iota
	ScopeServiceWorker
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeWindow:
		return "window"
	case ScopeServiceWorker:
		return "serviceworker"
	}
	return "unknown"
}

// GlobalScope is one script global: a goja runtime, its origin, event loop
// and the set of host objects reflected into it.
type GlobalScope struct {
	id     uuid.UUID
	kind   ScopeKind
	url    string
	origin string
	host   *Host
	logger *logging.Logger

	vm      *goja.Runtime
	global  *goja.Object
	target  *EventTarget
	loop    *eventLoop
	timers  *timerManager
	hostKey *goja.Symbol

	prototypes map[string]*goja.Object
	roots      []rootEntry
	nextRootID uint64

	freeze    goja.Callable
	stringify goja.Callable

	proxies   map[*GlobalScope]*WindowProxy
	workers   map[*serviceWorkerRegistration]*ServiceWorker
	container *ServiceWorkerContainer
	opener    *GlobalScope

	startTime time.Time
	errors    []error
	onError   func(error)
	closed    bool
}

func newGlobalScope(host *Host, kind ScopeKind, rawURL string) (*GlobalScope, error) {
	origin, err := network.SerializeOrigin(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cannot create %s scope: %w", kind, err)
	}

	vm := goja.New()
	id := uuid.New()
	s := &GlobalScope{
		id:         id,
		kind:       kind,
		url:        rawURL,
		origin:     origin,
		host:       host,
		vm:         vm,
		global:     vm.GlobalObject(),
		loop:       newEventLoop(),
		timers:     newTimerManager(),
		hostKey:    goja.NewSymbol("[[host]]"),
		prototypes: make(map[string]*goja.Object),
		proxies:    make(map[*GlobalScope]*WindowProxy),
		workers:    make(map[*serviceWorkerRegistration]*ServiceWorker),
		startTime:  time.Now(),
	}
	s.logger = host.logger.With("scope_id", id.String()[:8], "kind", kind.String(), "origin", origin)

	object := vm.Get("Object").ToObject(vm)
	s.freeze, _ = goja.AssertFunction(object.Get("freeze"))
	s.stringify, _ = goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))

	s.target = newEventTarget(s)

	s.setupConsole()
	s.setupDOMException()
	s.setupEventInterfaces()
	s.setupMessageInterfaces()
	s.setupGlobal()

	return s, nil
}

// ID returns the scope's unique id.
func (s *GlobalScope) ID() uuid.UUID { return s.id }

// Kind returns whether this is a window or a worker.
func (s *GlobalScope) Kind() ScopeKind { return s.kind }

// URL returns the creation URL.
func (s *GlobalScope) URL() string { return s.url }

// Origin returns the ASCII serialization of the scope's origin.
func (s *GlobalScope) Origin() string { return s.origin }

// Host returns the owning host.
func (s *GlobalScope) Host() *Host { return s.host }

// VM returns the underlying goja runtime.
func (s *GlobalScope) VM() *goja.Runtime { return s.vm }

// EventTarget returns the target that represents the global object.
func (s *GlobalScope) EventTarget() *EventTarget { return s.target }

// Closed reports whether Close has run.
func (s *GlobalScope) Closed() bool { return s.closed }

// Logger returns the scope's tagged logger.
func (s *GlobalScope) Logger() *logging.Logger { return s.logger }

// SetOnError sets a callback for JavaScript errors.
func (s *GlobalScope) SetOnError(handler func(error)) {
	s.onError = handler
}

// Execute runs JavaScript code and returns the result.
func (s *GlobalScope) Execute(code string) (result goja.Value, err error) {
	// Recover from panics in the goja parser/runtime
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("script execution panic: %v", p)
			s.recordError(err)
		}
	}()

	result, err = s.vm.RunString(code)
	if err != nil {
		s.recordError(err)
		return result, err
	}
	s.loop.drainMicrotasks(s)
	return result, nil
}

// ExecuteScript runs a named script. Errors are recorded and returned but
// do not poison the scope for later scripts.
func (s *GlobalScope) ExecuteScript(code, src string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("script compilation panic in %s: %v", src, p)
			s.recordError(err)
		}
	}()

	program, err := goja.Compile(src, code, false)
	if err != nil {
		s.recordError(err)
		return err
	}

	if _, err = s.vm.RunProgram(program); err != nil {
		s.recordError(err)
		return err
	}
	s.loop.drainMicrotasks(s)
	return nil
}

// Errors returns all errors that occurred during execution.
func (s *GlobalScope) Errors() []error {
	return append([]error{}, s.errors...)
}

// ClearErrors clears the error list.
func (s *GlobalScope) ClearErrors() {
	s.errors = s.errors[:0]
}

func (s *GlobalScope) recordError(err error) {
	s.errors = append(s.errors, err)
	if s.onError != nil {
		s.onError(err)
	}
}

// reportException records an exception thrown by a listener or task.
func (s *GlobalScope) reportException(err error) {
	s.logger.Warn("uncaught exception", "error", err)
	s.recordError(err)
}

// queueTask schedules fn on this scope's event loop.
func (s *GlobalScope) queueTask(source string, fn func()) {
	if s.closed {
		return
	}
	s.loop.queueTask(source, fn)
}

// queueMessageTask schedules fn to deliver msg. If the scope is closed
// before fn runs, msg is discarded.
func (s *GlobalScope) queueMessageTask(source string, msg *serializedMessage, fn func()) {
	if s.closed {
		s.host.discard(msg)
		return
	}
	s.loop.queueMessageTask(source, msg, fn)
}

// PendingTasks returns the number of queued tasks.
func (s *GlobalScope) PendingTasks() int { return s.loop.pending() }

// runTask runs one queued task and the microtasks it produced.
func (s *GlobalScope) runTask() bool {
	t, ok := s.loop.next()
	if !ok {
		return false
	}
	func() {
		defer func() {
			if p := recover(); p != nil {
				s.reportException(fmt.Errorf("%s task panic: %v", t.source, p))
			}
		}()
		t.run()
	}()
	s.loop.drainMicrotasks(s)
	return true
}

// Close stops the scope: pending tasks are dropped and every registered
// object that holds handles releases them.
func (s *GlobalScope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for _, t := range s.loop.clear() {
		if t.msg != nil {
			s.host.discard(t.msg)
		}
	}
	s.timers = newTimerManager()

	var live []DOMObject
	for _, e := range s.roots {
		if obj := e.get(); obj != nil {
			live = append(live, obj)
		}
	}
	for _, obj := range live {
		switch o := obj.(type) {
		case *MessagePort:
			o.Close()
		case *MessageEvent:
			o.Release()
		}
	}
	s.roots = nil
	s.logger.Debug("scope closed")
}

func (s *GlobalScope) now() float64 {
	return float64(time.Since(s.startTime).Nanoseconds()) / 1e6
}

// defineInterface creates a constructor and prototype pair so instanceof
// works. A nil ctor makes the interface non-constructible.
func (s *GlobalScope) defineInterface(name, parent string, ctor func(call goja.ConstructorCall) *goja.Object) *goja.Object {
	vm := s.vm
	proto := vm.NewObject()
	if parentProto, ok := s.prototypes[parent]; ok {
		proto.SetPrototype(parentProto)
	}
	if ctor == nil {
		ctor = func(call goja.ConstructorCall) *goja.Object {
			panic(vm.NewTypeError("Illegal constructor"))
		}
	}
	ctorObj := vm.ToValue(ctor).ToObject(vm)
	ctorObj.Set("prototype", proto)
	proto.Set("constructor", ctorObj)
	vm.Set(name, ctorObj)
	s.prototypes[name] = proto
	return ctorObj
}

// defineGetter installs a read-only accessor.
func (s *GlobalScope) defineGetter(obj *goja.Object, name string, get func() goja.Value) {
	obj.DefineAccessorProperty(name, s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return get()
	}), nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

// setupGlobal installs the members shared by every global object, then the
// kind-specific ones.
func (s *GlobalScope) setupGlobal() {
	vm := s.vm
	global := s.global

	vm.Set("self", global)
	vm.Set("globalThis", global)
	s.defineGetter(global, "origin", func() goja.Value { return vm.ToValue(s.origin) })

	location := vm.NewObject()
	location.Set("href", s.url)
	location.Set("origin", s.origin)
	location.Set("toString", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(s.url)
	})
	vm.Set("location", location)

	s.target.bind(global)
	s.target.defineEventHandler(global, "message")
	s.target.defineEventHandler(global, "messageerror")

	vm.Set("queueMicrotask", func(call goja.FunctionCall) goja.Value {
		callback, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("Failed to execute 'queueMicrotask': parameter 1 is not of type 'Function'."))
		}
		s.loop.queueMicrotask(callback, nil)
		return goja.Undefined()
	})
	s.setupTimers()

	vm.Set("structuredClone", func(call goja.FunctionCall) goja.Value {
		transfer, err := s.transferOption(call.Argument(1))
		if err != nil {
			s.throwDOMError(err)
		}
		msg, err := s.serialize(call.Argument(0), transfer)
		if err != nil {
			s.throwDOMError(err)
		}
		v, _, err := s.deserialize(msg)
		if err != nil {
			s.throwDOMError(err)
		}
		return v
	})

	switch s.kind {
	case ScopeWindow:
		s.setupWindow()
	case ScopeServiceWorker:
		s.setupWorkerGlobal()
	}
}

// setupWindow makes the global object a window: it is its own WindowProxy.
func (s *GlobalScope) setupWindow() {
	vm := s.vm
	vm.Set("window", s.global)
	vm.Set("frames", s.global)

	s.WindowProxyFor(s)

	navigator := vm.NewObject()
	navigator.Set("userAgent", "postmessage/1.0")
	navigator.Set("language", "en-US")
	navigator.Set("onLine", true)
	s.container = s.newServiceWorkerContainer()
	navigator.Set("serviceWorker", s.container.Object())
	vm.Set("navigator", navigator)

	vm.Set("open", func(call goja.FunctionCall) goja.Value {
		ref := ""
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Arguments[0]) {
			ref = call.Arguments[0].String()
		}
		child, err := s.open(ref)
		if err != nil {
			s.throwDOMError(ErrSyntax(err.Error()))
		}
		return s.WindowProxyFor(child).Object()
	})

	s.defineGetter(s.global, "opener", func() goja.Value {
		if s.opener == nil || s.opener.closed {
			return goja.Null()
		}
		return s.WindowProxyFor(s.opener).Object()
	})
}

// console

// setupConsole creates the console object; output goes to the scope logger.
func (s *GlobalScope) setupConsole() {
	console := s.vm.NewObject()

	levels := map[string]func(msg string, args ...any){
		"log":   s.logger.Info,
		"info":  s.logger.Info,
		"warn":  s.logger.Warn,
		"error": s.logger.Error,
		"debug": s.logger.Debug,
		"trace": s.logger.Debug,
	}
	for name, logFn := range levels {
		logFn := logFn
		console.Set(name, func(call goja.FunctionCall) goja.Value {
			logFn(formatArgs(call.Arguments), "source", "console")
			return goja.Undefined()
		})
	}

	console.Set("assert", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 || !call.Arguments[0].ToBoolean() {
			msg := "Assertion failed"
			if len(call.Arguments) > 1 {
				msg = formatArgs(call.Arguments[1:])
			}
			s.logger.Error(msg, "source", "console")
		}
		return goja.Undefined()
	})

	s.vm.Set("console", console)
}

// formatArgs formats function call arguments for console output.
func formatArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, formatValue(arg))
	}
	return strings.Join(parts, " ")
}

// formatValue formats a single value for output.
func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	return v.String()
}

// preview renders a value as JSON when possible, for logs and reports.
func (s *GlobalScope) preview(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if s.stringify != nil {
		out, err := func() (out goja.Value, err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("%v", p)
				}
			}()
			return s.stringify(goja.Undefined(), v)
		}()
		if err == nil && out != nil && !goja.IsUndefined(out) {
			return out.String()
		}
	}
	return formatValue(v)
}
