package js

import (
	"github.com/dop251/goja"
)

// serviceWorkerRegistration ties a worker global scope to the window scopes
// it controls.
type serviceWorkerRegistration struct {
	scriptURL string
	worker    *GlobalScope
	clients   []*GlobalScope
}

func (r *serviceWorkerRegistration) controls(s *GlobalScope) bool {
	for _, c := range r.clients {
		if c == s {
			return true
		}
	}
	return false
}

// ServiceWorker is a client's handle on a service worker.
type ServiceWorker struct {
	Reflector
	refCounted

	events       *EventTarget
	registration *serviceWorkerRegistration
}

// serviceWorkerFor returns s's ServiceWorker object for reg, creating it on
// first use so every message from the worker has the same source.
func (s *GlobalScope) serviceWorkerFor(reg *serviceWorkerRegistration) *ServiceWorker {
	if w, ok := s.workers[reg]; ok {
		return w
	}
	w := &ServiceWorker{events: newEventTarget(s), registration: reg}
	s.workers[reg] = w
	return reflectDOMObject(w, s, "ServiceWorker", w.bind)
}

// ScriptURL returns the worker's script URL.
func (w *ServiceWorker) ScriptURL() string { return w.registration.scriptURL }

// State is "activated" while the worker scope runs, then "redundant".
func (w *ServiceWorker) State() string {
	if w.registration.worker.closed {
		return "redundant"
	}
	return "activated"
}

// Trace visits the worker's listeners.
func (w *ServiceWorker) Trace(tr Tracer) {
	w.events.trace(tr)
}

// PostMessage sends message from the client to the worker global. The
// worker sees the client's origin and no source.
func (w *ServiceWorker) PostMessage(message goja.Value, transfer []goja.Value) error {
	client := w.Scope()
	worker := w.registration.worker

	msg, err := client.serialize(message, transfer)
	if err != nil {
		return err
	}
	if worker.closed {
		client.host.discard(msg)
		return nil
	}

	origin := client.origin
	client.logger.Debug("service worker message posted", "script", w.registration.scriptURL, "data", cloneSummary(msg.root))
	worker.queueMessageTask("service worker message", msg, func() {
		data, ports, err := worker.deserialize(msg)
		if err != nil {
			worker.logger.Warn("client message could not be deserialized", "error", err)
			DispatchError(worker.target, worker)
			return
		}
		DispatchJSVal(worker.target, worker, data, origin, nil, ports)
	})
	return nil
}

func (w *ServiceWorker) bind(obj *goja.Object) {
	s := w.Scope()
	vm := s.vm

	w.events.bind(obj)
	w.events.defineEventHandler(obj, "statechange")
	w.events.defineEventHandler(obj, "error")
	s.defineGetter(obj, "scriptURL", func() goja.Value { return vm.ToValue(w.ScriptURL()) })
	s.defineGetter(obj, "state", func() goja.Value { return vm.ToValue(w.State()) })

	obj.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("Failed to execute 'postMessage' on 'ServiceWorker': 1 argument required, but only 0 present."))
		}
		transfer, err := s.transferOption(call.Argument(1))
		if err != nil {
			s.throwDOMError(err)
		}
		if err := w.PostMessage(call.Arguments[0], transfer); err != nil {
			s.throwDOMError(err)
		}
		return goja.Undefined()
	})
}

// ServiceWorkerContainer is navigator.serviceWorker. Messages from a
// controlling worker are fired at it.
type ServiceWorkerContainer struct {
	Reflector
	events *EventTarget
}

func (s *GlobalScope) newServiceWorkerContainer() *ServiceWorkerContainer {
	c := &ServiceWorkerContainer{events: newEventTarget(s)}
	return reflectDOMObject(c, s, "ServiceWorkerContainer", c.bind)
}

// EventTarget returns the target worker messages are fired at.
func (c *ServiceWorkerContainer) EventTarget() *EventTarget { return c.events }

// Controller returns the worker controlling this scope, or nil.
func (c *ServiceWorkerContainer) Controller() *ServiceWorker {
	s := c.Scope()
	for _, reg := range s.host.registrations {
		if reg.controls(s) && !reg.worker.closed {
			return s.serviceWorkerFor(reg)
		}
	}
	return nil
}

// Trace visits the container's listeners.
func (c *ServiceWorkerContainer) Trace(tr Tracer) {
	c.events.trace(tr)
}

func (c *ServiceWorkerContainer) bind(obj *goja.Object) {
	s := c.Scope()

	c.events.bind(obj)
	c.events.defineEventHandler(obj, "message")
	c.events.defineEventHandler(obj, "messageerror")
	c.events.defineEventHandler(obj, "controllerchange")

	s.defineGetter(obj, "controller", func() goja.Value {
		if w := c.Controller(); w != nil {
			return w.Object()
		}
		return goja.Null()
	})
	// Client message queues are enabled from the start.
	obj.Set("startMessages", func(call goja.FunctionCall) goja.Value {
		return goja.Undefined()
	})
}

// Client is a worker's handle on one of the windows it controls.
type Client struct {
	Reflector
	client       *GlobalScope
	registration *serviceWorkerRegistration
}

// Trace has nothing to visit.
func (c *Client) Trace(tr Tracer) {}

// PostMessage sends message from the worker to the client's
// navigator.serviceWorker, with the client's ServiceWorker as source.
func (c *Client) PostMessage(message goja.Value, transfer []goja.Value) error {
	worker := c.Scope()
	target := c.client

	msg, err := worker.serialize(message, transfer)
	if err != nil {
		return err
	}
	if target.closed || target.container == nil {
		worker.host.discard(msg)
		return nil
	}

	origin := worker.origin
	reg := c.registration
	target.queueMessageTask("service worker client message", msg, func() {
		container := target.container
		data, ports, err := target.deserialize(msg)
		if err != nil {
			target.logger.Warn("service worker message could not be deserialized", "error", err)
			DispatchError(container.events, target)
			return
		}
		fireMessage(container.events, target, "message", data, origin, target.serviceWorkerFor(reg), ports)
	})
	return nil
}

func (s *GlobalScope) newClient(reg *serviceWorkerRegistration, client *GlobalScope) *Client {
	c := &Client{client: client, registration: reg}
	return reflectDOMObject(c, s, "Client", c.bind)
}

func (c *Client) bind(obj *goja.Object) {
	s := c.Scope()
	vm := s.vm

	s.defineGetter(obj, "id", func() goja.Value { return vm.ToValue(c.client.id.String()) })
	s.defineGetter(obj, "url", func() goja.Value { return vm.ToValue(c.client.url) })
	s.defineGetter(obj, "type", func() goja.Value { return vm.ToValue("window") })
	s.defineGetter(obj, "frameType", func() goja.Value { return vm.ToValue("top-level") })

	obj.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("Failed to execute 'postMessage' on 'Client': 1 argument required, but only 0 present."))
		}
		transfer, err := s.transferOption(call.Argument(1))
		if err != nil {
			s.throwDOMError(err)
		}
		if err := c.PostMessage(call.Arguments[0], transfer); err != nil {
			s.throwDOMError(err)
		}
		return goja.Undefined()
	})
}

// setupWorkerGlobal installs the service worker globals: clients and
// skipWaiting.
func (s *GlobalScope) setupWorkerGlobal() {
	vm := s.vm

	clients := vm.NewObject()
	clients.Set("matchAll", func(call goja.FunctionCall) goja.Value {
		reg := s.host.registrationFor(s)
		var items []goja.Value
		if reg != nil {
			for _, client := range reg.clients {
				if !client.closed {
					items = append(items, s.newClient(reg, client).Object())
				}
			}
		}
		elems := make([]interface{}, len(items))
		for i, v := range items {
			elems[i] = v
		}
		return s.resolvedPromise(vm.NewArray(elems...))
	})
	clients.Set("get", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		if reg := s.host.registrationFor(s); reg != nil {
			for _, client := range reg.clients {
				if !client.closed && client.id.String() == id {
					return s.resolvedPromise(s.newClient(reg, client).Object())
				}
			}
		}
		return s.resolvedPromise(goja.Undefined())
	})
	clients.Set("claim", func(call goja.FunctionCall) goja.Value {
		return s.resolvedPromise(goja.Undefined())
	})
	vm.Set("clients", clients)

	vm.Set("skipWaiting", func(call goja.FunctionCall) goja.Value {
		return s.resolvedPromise(goja.Undefined())
	})
}

// resolvedPromise creates a Promise that resolves with value.
func (s *GlobalScope) resolvedPromise(value goja.Value) goja.Value {
	vm := s.vm
	promiseObj := vm.Get("Promise").ToObject(vm)
	resolveMethod, _ := goja.AssertFunction(promiseObj.Get("resolve"))
	result, _ := resolveMethod(promiseObj, value)
	return result
}
