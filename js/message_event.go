package js

import (
	"runtime"
	"strconv"
	"sync"

	"github.com/dop251/goja"
)

// messageEventHandles are the shared handles a MessageEvent owns. They are
// released exactly once: by Release, by scope teardown, or by a runtime
// cleanup after the event has been collected.
type messageEventHandles struct {
	once   sync.Once
	source *srcObject
	ports  []Dom[*MessagePort]
}

func (h *messageEventHandles) release() {
	h.once.Do(func() {
		if h.source != nil {
			h.source.release()
		}
		for i := range h.ports {
			h.ports[i].Release()
		}
	})
}

// MessageEvent carries a script value from a sender to a target, together
// with the sender's origin, an optional source and transferred ports.
// Once fired, none of these change.
type MessageEvent struct {
	Event

	data        Heap
	origin      string
	lastEventID string
	handles     *messageEventHandles
	released    bool
}

// MessageEventInit is the dictionary accepted by the MessageEvent
// constructor. The zero value is the default init.
type MessageEventInit struct {
	EventInit
	Data        goja.Value
	Origin      string
	LastEventID string
	Source      MessageEventSource
	Ports       []*MessagePort
}

// NewUninitializedMessageEvent creates a message event with every field at
// its default and no type.
func NewUninitializedMessageEvent(scope *GlobalScope) *MessageEvent {
	return NewInitializedMessageEvent(scope, goja.Undefined(), "", nil, "", nil)
}

// NewInitializedMessageEvent creates an untyped message event. The event is
// reflected into scope before data is stored: reflection is what puts the
// event in the scope's trace set.
func NewInitializedMessageEvent(scope *GlobalScope, data goja.Value, origin string,
	source MessageEventSource, lastEventID string, ports []*MessagePort) *MessageEvent {
	handles := &messageEventHandles{
		source: newSrcObject(source),
		ports:  make([]Dom[*MessagePort], 0, len(ports)),
	}
	for _, p := range ports {
		handles.ports = append(handles.ports, NewDom(p))
	}

	ev := &MessageEvent{
		Event:       NewInheritedEvent(),
		origin:      origin,
		lastEventID: lastEventID,
		handles:     handles,
	}
	ev = reflectDOMObject(ev, scope, "MessageEvent", ev.bind)
	ev.data.Set(data)

	runtime.AddCleanup(ev, (*messageEventHandles).release, handles)
	return ev
}

// NewMessageEvent creates a fully typed message event ready to fire.
func NewMessageEvent(scope *GlobalScope, typ string, bubbles, cancelable bool, data goja.Value,
	origin string, source MessageEventSource, lastEventID string, ports []*MessagePort) *MessageEvent {
	ev := NewInitializedMessageEvent(scope, data, origin, source, lastEventID, ports)
	ev.AsEvent().InitEvent(typ, bubbles, cancelable)
	return ev
}

// ConstructMessageEvent implements `new MessageEvent(type, init)`. It
// cannot fail; the error result exists for symmetry with other constructors.
func ConstructMessageEvent(scope *GlobalScope, typ string, init MessageEventInit) (*MessageEvent, error) {
	ev := NewMessageEvent(scope, typ, init.Bubbles, init.Cancelable, init.Data,
		init.Origin, init.Source, init.LastEventID, init.Ports)
	ev.composed = init.Composed
	return ev, nil
}

// DispatchJSVal fires a "message" event carrying message at target. The
// optional source is always a WindowProxy.
func DispatchJSVal(target *EventTarget, scope *GlobalScope, message goja.Value, origin string,
	source *WindowProxy, ports []*MessagePort) *MessageEvent {
	var src MessageEventSource
	if source != nil {
		src = source
	}
	return fireMessage(target, scope, "message", message, origin, src, ports)
}

// DispatchError fires a "messageerror" event with a default init at target.
// It stands in for a message that could not be delivered.
func DispatchError(target *EventTarget, scope *GlobalScope) *MessageEvent {
	init := MessageEventInit{}
	ev := NewMessageEvent(scope, "messageerror", init.Bubbles, init.Cancelable, init.Data,
		init.Origin, init.Source, init.LastEventID, init.Ports)
	scope.logger.Debug("firing messageerror")
	ev.AsEvent().Fire(target)
	scope.host.observe(scope, ev)
	return ev
}

func fireMessage(target *EventTarget, scope *GlobalScope, typ string, message goja.Value,
	origin string, source MessageEventSource, ports []*MessagePort) *MessageEvent {
	ev := NewMessageEvent(scope, typ, false, false, message, origin, source, "", ports)
	ev.AsEvent().Fire(target)
	scope.host.observe(scope, ev)
	return ev
}

// Data returns the message payload.
func (e *MessageEvent) Data() goja.Value { return e.data.Get() }

// Origin returns the sender's origin, or "".
func (e *MessageEvent) Origin() string { return e.origin }

// LastEventID returns the last event id, or "".
func (e *MessageEvent) LastEventID() string { return e.lastEventID }

// IsTrusted forwards to the event core.
func (e *MessageEvent) IsTrusted() bool { return e.Event.IsTrusted() }

// Source returns the message source, or nil.
func (e *MessageEvent) Source() MessageEventSource {
	return e.handles.source.get()
}

// PortList returns a copy of the transferred ports in order.
func (e *MessageEvent) PortList() []*MessagePort {
	ports := make([]*MessagePort, 0, len(e.handles.ports))
	for _, h := range e.handles.ports {
		if p := h.Get(); p != nil {
			ports = append(ports, p)
		}
	}
	return ports
}

// Ports returns a fresh frozen array of the transferred ports.
func (e *MessageEvent) Ports() goja.Value {
	return e.Scope().messagePortsToFrozenArray(e.handles.ports)
}

// Trace visits the payload, the source and every port.
func (e *MessageEvent) Trace(tr Tracer) {
	e.data.Trace(tr, "data")
	e.handles.source.trace(tr)
	for _, h := range e.handles.ports {
		if p := h.Get(); p != nil {
			tr.TraceObject("ports", p)
		}
	}
}

// Release drops the source and port handles and takes the event out of its
// scope's trace set. The event must not be used afterwards.
func (e *MessageEvent) Release() {
	if e.released {
		return
	}
	e.released = true
	e.handles.release()
	e.data.clear()
	if scope := e.Scope(); scope != nil {
		scope.unregister(e)
	}
}

func (e *MessageEvent) bind(obj *goja.Object) {
	s := e.Scope()
	vm := s.vm
	s.bindEvent(&e.Event, obj)

	s.defineGetter(obj, "data", e.Data)
	s.defineGetter(obj, "origin", func() goja.Value { return vm.ToValue(e.origin) })
	s.defineGetter(obj, "lastEventId", func() goja.Value { return vm.ToValue(e.lastEventID) })
	s.defineGetter(obj, "source", func() goja.Value {
		src := e.Source()
		if src == nil {
			return goja.Null()
		}
		return src.reflector().Object()
	})
	s.defineGetter(obj, "ports", e.Ports)
}

// parseMessageEventInit converts a script MessageEventInit dictionary.
func (s *GlobalScope) parseMessageEventInit(v goja.Value) (MessageEventInit, error) {
	init := MessageEventInit{EventInit: parseEventInit(v)}
	obj, ok := v.(*goja.Object)
	if !ok {
		return init, nil
	}

	if d := obj.Get("data"); d != nil {
		init.Data = d
	}
	if o := obj.Get("origin"); o != nil && !goja.IsUndefined(o) {
		init.Origin = o.String()
	}
	if id := obj.Get("lastEventId"); id != nil && !goja.IsUndefined(id) {
		init.LastEventID = id.String()
	}

	src, ok := s.toMessageEventSource(obj.Get("source"))
	if !ok {
		return init, &typeError{"Failed to construct 'MessageEvent': member source is not of type (WindowProxy or MessagePort or ServiceWorker)."}
	}
	init.Source = src

	if p := obj.Get("ports"); p != nil && !goja.IsUndefined(p) {
		items, err := s.toSequence(p)
		if err != nil {
			return init, &typeError{"Failed to construct 'MessageEvent': member ports is not iterable."}
		}
		for _, item := range items {
			port, ok := s.unwrapHost(item).(*MessagePort)
			if !ok {
				return init, &typeError{"Failed to construct 'MessageEvent': member ports contains a value that is not a MessagePort."}
			}
			init.Ports = append(init.Ports, port)
		}
	}
	return init, nil
}

// typeError is thrown into script as a TypeError.
type typeError struct{ msg string }

func (e *typeError) Error() string { return e.msg }

// toSequence reads an array-like value into a slice.
func (s *GlobalScope) toSequence(v goja.Value) ([]goja.Value, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, &typeError{"value is not a sequence"}
	}
	lengthVal := obj.Get("length")
	if lengthVal == nil || goja.IsUndefined(lengthVal) {
		return nil, &typeError{"value is not a sequence"}
	}
	n := max(lengthVal.ToInteger(), 0)
	items := make([]goja.Value, 0, n)
	for i := int64(0); i < n; i++ {
		items = append(items, obj.Get(strconv.FormatInt(i, 10)))
	}
	return items, nil
}
