package js

import (
	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// portEntry is the host's record of one port, which outlives the
// MessagePort objects that represent it as it is transferred between scopes.
type portEntry struct {
	id        uuid.UUID
	entangled uuid.UUID
	owner     *MessagePort        // nil while in transit
	pending   []*serializedMessage // queued while in transit
}

// MessagePort is one end of a message channel.
type MessagePort struct {
	Reflector
	refCounted

	id       uuid.UUID
	events   *EventTarget
	queue    []*serializedMessage
	enabled  bool
	detached bool
	closed   bool
}

func (s *GlobalScope) newMessagePort(id uuid.UUID) *MessagePort {
	p := &MessagePort{id: id}
	p.events = newEventTarget(s)
	p.events.onHandlerSet = func(eventType string) {
		if eventType == "message" {
			p.Start()
		}
	}
	return reflectDOMObject(p, s, "MessagePort", p.bind)
}

// ID returns the port's identity, stable across transfers.
func (p *MessagePort) ID() uuid.UUID { return p.id }

// EventTarget returns the target message events are fired at.
func (p *MessagePort) EventTarget() *EventTarget { return p.events }

// Detached reports whether the port was transferred away.
func (p *MessagePort) Detached() bool { return p.detached }

// Closed reports whether close() was called.
func (p *MessagePort) Closed() bool { return p.closed }

// Entangled reports whether the port currently has a peer.
func (p *MessagePort) Entangled() bool {
	entry := p.Scope().host.ports[p.id]
	return !p.detached && entry != nil && entry.entangled != uuid.Nil
}

// Trace visits the port's listeners.
func (p *MessagePort) Trace(tr Tracer) {
	p.events.trace(tr)
}

// PostMessage clones message and queues it on the entangled port.
func (p *MessagePort) PostMessage(message goja.Value, transfer []goja.Value) error {
	s := p.Scope()
	for _, t := range transfer {
		if s.unwrapHost(t) == DOMObject(p) {
			return ErrDataClone("Source port cannot be transferred")
		}
	}

	msg, err := s.serialize(message, transfer)
	if err != nil {
		return err
	}
	if p.detached || p.closed {
		s.host.discard(msg)
		return nil
	}

	entry := s.host.ports[p.id]
	if entry == nil || entry.entangled == uuid.Nil {
		s.logger.Debug("message posted to disentangled port dropped", "port", p.id)
		s.host.discard(msg)
		return nil
	}
	s.host.routePortMessage(entry.entangled, msg)
	return nil
}

// Start enables delivery of queued and future messages.
func (p *MessagePort) Start() {
	if p.enabled || p.detached {
		return
	}
	p.enabled = true
	for range p.queue {
		p.Scope().queueTask("port message", p.deliverNext)
	}
}

// Close disentangles the port. Undelivered messages are dropped.
func (p *MessagePort) Close() {
	if p.closed {
		return
	}
	p.closed = true
	h := p.Scope().host
	for _, msg := range p.queue {
		h.discard(msg)
	}
	p.queue = nil
	if !p.detached {
		h.disentangle(p.id)
	}
}

func (p *MessagePort) enqueue(msg *serializedMessage) {
	if p.closed || p.detached {
		p.Scope().host.discard(msg)
		return
	}
	p.queue = append(p.queue, msg)
	if p.enabled {
		p.Scope().queueTask("port message", p.deliverNext)
	}
}

func (p *MessagePort) deliverNext() {
	if p.closed || p.detached || len(p.queue) == 0 {
		return
	}
	msg := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]

	s := p.Scope()
	data, ports, err := s.deserialize(msg)
	if err != nil {
		s.logger.Warn("port message could not be deserialized", "port", p.id, "error", err)
		DispatchError(p.events, s)
		return
	}
	DispatchJSVal(p.events, s, data, "", nil, ports)
}

// detach hands the port's identity and undelivered messages back to the
// host so another scope can claim it.
func (p *MessagePort) detach() {
	h := p.Scope().host
	p.detached = true
	if entry := h.ports[p.id]; entry != nil {
		entry.owner = nil
		entry.pending = append(entry.pending, p.queue...)
	}
	p.queue = nil
}

func (p *MessagePort) bind(obj *goja.Object) {
	s := p.Scope()
	vm := s.vm

	p.events.bind(obj)
	p.events.defineEventHandler(obj, "message")
	p.events.defineEventHandler(obj, "messageerror")

	obj.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("Failed to execute 'postMessage' on 'MessagePort': 1 argument required"))
		}
		transfer, err := s.transferOption(call.Argument(1))
		if err != nil {
			s.throwDOMError(err)
		}
		if err := p.PostMessage(call.Arguments[0], transfer); err != nil {
			s.throwDOMError(err)
		}
		return goja.Undefined()
	})
	obj.Set("start", func(call goja.FunctionCall) goja.Value {
		p.Start()
		return goja.Undefined()
	})
	obj.Set("close", func(call goja.FunctionCall) goja.Value {
		p.Close()
		return goja.Undefined()
	})
}

// MessageChannel owns two entangled ports.
type MessageChannel struct {
	Reflector
	port1 *MessagePort
	port2 *MessagePort
}

// NewMessageChannel creates a channel whose ports live in s.
func (s *GlobalScope) NewMessageChannel() *MessageChannel {
	p1 := s.newMessagePort(uuid.New())
	p2 := s.newMessagePort(uuid.New())
	s.host.entangle(p1, p2)

	ch := &MessageChannel{port1: p1, port2: p2}
	return reflectDOMObject(ch, s, "MessageChannel", func(obj *goja.Object) {
		s.defineGetter(obj, "port1", func() goja.Value { return p1.Object() })
		s.defineGetter(obj, "port2", func() goja.Value { return p2.Object() })
	})
}

// Port1 returns the first port.
func (c *MessageChannel) Port1() *MessagePort { return c.port1 }

// Port2 returns the second port.
func (c *MessageChannel) Port2() *MessagePort { return c.port2 }

// Trace visits both ports.
func (c *MessageChannel) Trace(tr Tracer) {
	tr.TraceObject("port1", c.port1)
	tr.TraceObject("port2", c.port2)
}
