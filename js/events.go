package js

import (
	"github.com/dop251/goja"
)

// EventPhase represents the phase of event dispatch.
type EventPhase int

const (
	EventPhaseNone      EventPhase = 0
	EventPhaseCapturing EventPhase = 1
	EventPhaseAtTarget  EventPhase = 2
	EventPhaseBubbling  EventPhase = 3
)

// Event is the generic event core. Concrete event types embed it and pass
// &outer.Event wherever the generic dispatch machinery needs an event.
type Event struct {
	Reflector

	typ        string
	bubbles    bool
	cancelable bool
	composed   bool
	timeStamp  float64

	initialized       bool
	dispatching       bool
	trusted           bool
	stopPropagation   bool
	stopImmediate     bool
	canceled          bool
	inPassiveListener bool

	phase         EventPhase
	target        *EventTarget
	currentTarget *EventTarget
}

// EventObject is any event type. AsEvent returns its embedded core.
type EventObject interface {
	DOMObject
	AsEvent() *Event
}

// EventInit holds the dictionary members shared by every event constructor.
type EventInit struct {
	Bubbles    bool
	Cancelable bool
	Composed   bool
}

// NewInheritedEvent returns a fresh, untyped event core for embedding.
func NewInheritedEvent() Event {
	return Event{}
}

// AsEvent returns the event core itself.
func (e *Event) AsEvent() *Event { return e }

// Trace has nothing to visit on the core.
func (e *Event) Trace(tr Tracer) {}

func (e *Event) Type() string                { return e.typ }
func (e *Event) Bubbles() bool               { return e.bubbles }
func (e *Event) Cancelable() bool            { return e.cancelable }
func (e *Event) Composed() bool              { return e.composed }
func (e *Event) IsTrusted() bool             { return e.trusted }
func (e *Event) DefaultPrevented() bool      { return e.canceled }
func (e *Event) Phase() EventPhase           { return e.phase }
func (e *Event) Target() *EventTarget        { return e.target }
func (e *Event) CurrentTarget() *EventTarget { return e.currentTarget }
func (e *Event) Initialized() bool           { return e.initialized }

// InitEvent stamps the type and flags. It is a no-op during dispatch.
func (e *Event) InitEvent(typ string, bubbles, cancelable bool) {
	if e.dispatching {
		return
	}
	e.initialized = true
	e.stopPropagation = false
	e.stopImmediate = false
	e.canceled = false
	e.trusted = false
	e.target = nil
	e.typ = typ
	e.bubbles = bubbles
	e.cancelable = cancelable
}

// PreventDefault cancels the event if it is cancelable and the current
// listener is not passive.
func (e *Event) PreventDefault() {
	if e.cancelable && !e.inPassiveListener {
		e.canceled = true
	}
}

// StopPropagation prevents further targets from seeing the event.
func (e *Event) StopPropagation() { e.stopPropagation = true }

// StopImmediatePropagation also skips the remaining listeners on the
// current target.
func (e *Event) StopImmediatePropagation() {
	e.stopPropagation = true
	e.stopImmediate = true
}

// Fire marks the event trusted and dispatches it at target.
func (e *Event) Fire(target *EventTarget) bool {
	e.trusted = true
	return e.Dispatch(target)
}

// Dispatch runs the listeners of target. The targets here have no tree, so
// the event only ever sees the at-target phase: capture listeners first,
// then the rest. Returns false if a listener canceled the event.
func (e *Event) Dispatch(target *EventTarget) bool {
	e.dispatching = true
	e.target = target
	e.currentTarget = target
	e.phase = EventPhaseAtTarget

	target.invoke(e, true)
	target.invoke(e, false)

	e.phase = EventPhaseNone
	e.currentTarget = nil
	e.dispatching = false
	e.stopPropagation = false
	e.stopImmediate = false

	return !e.canceled
}

// ListenerOptions represents addEventListener options.
type ListenerOptions struct {
	Capture bool
	Once    bool
	Passive bool
}

// eventListener represents a registered event listener.
type eventListener struct {
	id       int
	callback goja.Callable
	value    goja.Value // Original value for comparison
	goFn     func(EventObject)
	handler  bool // backs an on<type> attribute
	removed  bool
	options  ListenerOptions
}

// EventTarget manages the listeners of one host object.
type EventTarget struct {
	scope        *GlobalScope
	object       *goja.Object
	listeners    map[string][]*eventListener
	handlers     map[string]*eventListener
	nextID       int
	onHandlerSet func(eventType string)
}

func newEventTarget(scope *GlobalScope) *EventTarget {
	return &EventTarget{
		scope:     scope,
		listeners: make(map[string][]*eventListener),
		handlers:  make(map[string]*eventListener),
	}
}

// Object returns the script object listeners see as `this`.
func (et *EventTarget) Object() *goja.Object { return et.object }

// Scope returns the scope the target lives in.
func (et *EventTarget) Scope() *GlobalScope { return et.scope }

// AddEventListener registers a script listener: a function, or an object
// with a handleEvent method.
func (et *EventTarget) AddEventListener(eventType string, value goja.Value, opts ListenerOptions) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return
	}
	for _, l := range et.listeners[eventType] {
		if !l.handler && l.value != nil && l.value.SameAs(value) && l.options.Capture == opts.Capture {
			return // Already registered
		}
	}

	callback, _ := goja.AssertFunction(value)
	et.nextID++
	et.listeners[eventType] = append(et.listeners[eventType], &eventListener{
		id:       et.nextID,
		callback: callback,
		value:    value,
		options:  opts,
	})
}

// Listen registers a Go listener. It cannot be removed from script.
func (et *EventTarget) Listen(eventType string, fn func(EventObject)) {
	et.nextID++
	et.listeners[eventType] = append(et.listeners[eventType], &eventListener{
		id:   et.nextID,
		goFn: fn,
	})
}

// RemoveEventListener unregisters a script listener.
func (et *EventTarget) RemoveEventListener(eventType string, value goja.Value, capture bool) {
	for _, l := range et.listeners[eventType] {
		if !l.handler && l.value != nil && l.value.SameAs(value) && l.options.Capture == capture {
			et.remove(eventType, l)
			return
		}
	}
}

func (et *EventTarget) remove(eventType string, target *eventListener) {
	listeners := et.listeners[eventType]
	for i, l := range listeners {
		if l.id == target.id {
			l.removed = true
			et.listeners[eventType] = append(listeners[:i:i], listeners[i+1:]...)
			return
		}
	}
}

// HasEventListeners returns true if there are any listeners for the event type.
func (et *EventTarget) HasEventListeners(eventType string) bool {
	return len(et.listeners[eventType]) > 0
}

// SetEventHandler sets the on<type> attribute. A non-callable value clears it.
func (et *EventTarget) SetEventHandler(eventType string, value goja.Value) {
	callback, ok := goja.AssertFunction(value)
	if !ok {
		if l := et.handlers[eventType]; l != nil {
			et.remove(eventType, l)
			delete(et.handlers, eventType)
		}
		return
	}

	if l := et.handlers[eventType]; l != nil {
		l.callback = callback
		l.value = value
	} else {
		et.nextID++
		l := &eventListener{id: et.nextID, callback: callback, value: value, handler: true}
		et.listeners[eventType] = append(et.listeners[eventType], l)
		et.handlers[eventType] = l
	}
	if et.onHandlerSet != nil {
		et.onHandlerSet(eventType)
	}
}

// EventHandler returns the on<type> attribute value, or null.
func (et *EventTarget) EventHandler(eventType string) goja.Value {
	if l := et.handlers[eventType]; l != nil {
		return l.value
	}
	return goja.Null()
}

func (et *EventTarget) invoke(e *Event, capture bool) {
	if e.stopPropagation {
		return
	}
	listeners := append([]*eventListener(nil), et.listeners[e.typ]...)
	for _, l := range listeners {
		if l.removed || l.options.Capture != capture {
			continue
		}
		if l.options.Once {
			et.remove(e.typ, l)
		}
		if l.options.Passive {
			e.inPassiveListener = true
		}
		et.call(l, e)
		e.inPassiveListener = false
		if e.stopImmediate {
			return
		}
	}
}

func (et *EventTarget) call(l *eventListener, e *Event) {
	if l.goFn != nil {
		if outer, ok := et.scope.unwrapHost(e.Object()).(EventObject); ok {
			l.goFn(outer)
		} else {
			l.goFn(e)
		}
		return
	}

	this := goja.Value(et.object)
	if this == nil {
		this = goja.Undefined()
	}
	callback := l.callback
	if callback == nil {
		// Listener object: look up handleEvent at call time.
		obj, ok := l.value.(*goja.Object)
		if !ok {
			return
		}
		fn, ok := goja.AssertFunction(obj.Get("handleEvent"))
		if !ok {
			return
		}
		callback = fn
		this = obj
	}
	if _, err := callback(this, e.Object()); err != nil {
		et.scope.reportException(err)
	}
}

// trace visits the listener values.
func (et *EventTarget) trace(tr Tracer) {
	for eventType, listeners := range et.listeners {
		for _, l := range listeners {
			if l.value != nil {
				tr.TraceValue("listener:"+eventType, l.value)
			}
		}
	}
}

// bind adds the EventTarget interface methods to a JS object.
func (et *EventTarget) bind(obj *goja.Object) {
	vm := et.scope.vm
	et.object = obj

	obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.NewTypeError("Failed to execute 'addEventListener': 2 arguments required"))
		}
		eventType := call.Arguments[0].String()
		et.AddEventListener(eventType, call.Arguments[1], parseListenerOptions(vm, call.Argument(2)))
		return goja.Undefined()
	})

	obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(vm.NewTypeError("Failed to execute 'removeEventListener': 2 arguments required"))
		}
		eventType := call.Arguments[0].String()
		opts := parseListenerOptions(vm, call.Argument(2))
		et.RemoveEventListener(eventType, call.Arguments[1], opts.Capture)
		return goja.Undefined()
	})

	obj.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		ev, ok := et.scope.unwrapHost(call.Argument(0)).(EventObject)
		if !ok {
			panic(vm.NewTypeError("Failed to execute 'dispatchEvent': parameter 1 is not of type 'Event'."))
		}
		e := ev.AsEvent()
		if e.dispatching || !e.initialized {
			et.scope.throwDOMError(ErrInvalidState("The event is already being dispatched or was not initialized."))
		}
		e.trusted = false
		return vm.ToValue(e.Dispatch(et))
	})
}

// defineEventHandler exposes on<type> as an accessor on obj.
func (et *EventTarget) defineEventHandler(obj *goja.Object, eventType string) {
	vm := et.scope.vm
	obj.DefineAccessorProperty("on"+eventType, vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return et.EventHandler(eventType)
	}), vm.ToValue(func(call goja.FunctionCall) goja.Value {
		et.SetEventHandler(eventType, call.Argument(0))
		return goja.Undefined()
	}), goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func parseListenerOptions(vm *goja.Runtime, arg goja.Value) ListenerOptions {
	opts := ListenerOptions{}
	if arg == nil || goja.IsUndefined(arg) || goja.IsNull(arg) {
		return opts
	}
	if b, ok := arg.Export().(bool); ok {
		opts.Capture = b
		return opts
	}
	if obj, ok := arg.(*goja.Object); ok {
		if v := obj.Get("capture"); v != nil {
			opts.Capture = v.ToBoolean()
		}
		if v := obj.Get("once"); v != nil {
			opts.Once = v.ToBoolean()
		}
		if v := obj.Get("passive"); v != nil {
			opts.Passive = v.ToBoolean()
		}
	}
	return opts
}

// parseEventInit reads the EventInit members of a dictionary argument.
func parseEventInit(v goja.Value) EventInit {
	init := EventInit{}
	obj, ok := v.(*goja.Object)
	if !ok {
		return init
	}
	if b := obj.Get("bubbles"); b != nil {
		init.Bubbles = b.ToBoolean()
	}
	if c := obj.Get("cancelable"); c != nil {
		init.Cancelable = c.ToBoolean()
	}
	if c := obj.Get("composed"); c != nil {
		init.Composed = c.ToBoolean()
	}
	return init
}

// bindEvent defines the Event interface members on an event wrapper.
func (s *GlobalScope) bindEvent(e *Event, obj *goja.Object) {
	vm := s.vm
	e.timeStamp = s.now()

	s.defineGetter(obj, "type", func() goja.Value { return vm.ToValue(e.typ) })
	s.defineGetter(obj, "target", func() goja.Value { return targetValue(e.target) })
	s.defineGetter(obj, "srcElement", func() goja.Value { return targetValue(e.target) })
	s.defineGetter(obj, "currentTarget", func() goja.Value { return targetValue(e.currentTarget) })
	s.defineGetter(obj, "eventPhase", func() goja.Value { return vm.ToValue(int(e.phase)) })
	s.defineGetter(obj, "bubbles", func() goja.Value { return vm.ToValue(e.bubbles) })
	s.defineGetter(obj, "cancelable", func() goja.Value { return vm.ToValue(e.cancelable) })
	s.defineGetter(obj, "composed", func() goja.Value { return vm.ToValue(e.composed) })
	s.defineGetter(obj, "defaultPrevented", func() goja.Value { return vm.ToValue(e.canceled) })
	s.defineGetter(obj, "isTrusted", func() goja.Value { return vm.ToValue(e.IsTrusted()) })
	s.defineGetter(obj, "timeStamp", func() goja.Value { return vm.ToValue(e.timeStamp) })

	obj.Set("preventDefault", func(call goja.FunctionCall) goja.Value {
		e.PreventDefault()
		return goja.Undefined()
	})
	obj.Set("stopPropagation", func(call goja.FunctionCall) goja.Value {
		e.StopPropagation()
		return goja.Undefined()
	})
	obj.Set("stopImmediatePropagation", func(call goja.FunctionCall) goja.Value {
		e.StopImmediatePropagation()
		return goja.Undefined()
	})
	obj.Set("composedPath", func(call goja.FunctionCall) goja.Value {
		if e.currentTarget == nil {
			return vm.NewArray()
		}
		return vm.NewArray(e.currentTarget.object)
	})
	obj.Set("initEvent", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("Failed to execute 'initEvent': 1 argument required"))
		}
		e.InitEvent(call.Arguments[0].String(), call.Argument(1).ToBoolean(), call.Argument(2).ToBoolean())
		return goja.Undefined()
	})
}

func targetValue(et *EventTarget) goja.Value {
	if et == nil || et.object == nil {
		return goja.Null()
	}
	return et.object
}

// newEvent builds and reflects a plain Event.
func (s *GlobalScope) newEvent(typ string, init EventInit) *Event {
	e := &Event{}
	e = reflectDOMObject(e, s, "Event", func(obj *goja.Object) { s.bindEvent(e, obj) })
	e.InitEvent(typ, init.Bubbles, init.Cancelable)
	e.composed = init.Composed
	return e
}

// CustomEvent carries a script-supplied detail value.
type CustomEvent struct {
	Event
	detail Heap
}

// Trace visits the detail value.
func (e *CustomEvent) Trace(tr Tracer) {
	e.detail.Trace(tr, "detail")
}

// Detail returns the detail value.
func (e *CustomEvent) Detail() goja.Value { return e.detail.Get() }

func (s *GlobalScope) newCustomEvent(typ string, init EventInit, detail goja.Value) *CustomEvent {
	e := &CustomEvent{Event: NewInheritedEvent()}
	e = reflectDOMObject(e, s, "CustomEvent", func(obj *goja.Object) {
		s.bindEvent(&e.Event, obj)
		s.defineGetter(obj, "detail", e.detail.Get)
	})
	e.detail.Set(detail)
	e.InitEvent(typ, init.Bubbles, init.Cancelable)
	e.composed = init.Composed
	return e
}

// setupEventInterfaces sets up the Event and CustomEvent constructors.
func (s *GlobalScope) setupEventInterfaces() {
	vm := s.vm

	s.defineInterface("EventTarget", "", nil)

	eventCtor := s.defineInterface("Event", "", func(call goja.ConstructorCall) *goja.Object {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("Failed to construct 'Event': 1 argument required"))
		}
		return s.newEvent(call.Arguments[0].String(), parseEventInit(call.Argument(1))).Object()
	})
	for _, target := range []*goja.Object{eventCtor, s.prototypes["Event"]} {
		target.Set("NONE", int(EventPhaseNone))
		target.Set("CAPTURING_PHASE", int(EventPhaseCapturing))
		target.Set("AT_TARGET", int(EventPhaseAtTarget))
		target.Set("BUBBLING_PHASE", int(EventPhaseBubbling))
	}

	s.defineInterface("CustomEvent", "Event", func(call goja.ConstructorCall) *goja.Object {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("Failed to construct 'CustomEvent': 1 argument required"))
		}
		init := call.Argument(1)
		detail := goja.Null()
		if obj, ok := init.(*goja.Object); ok {
			if v := obj.Get("detail"); v != nil && !goja.IsUndefined(v) {
				detail = v
			}
		}
		return s.newCustomEvent(call.Arguments[0].String(), parseEventInit(init), detail).Object()
	})
}
