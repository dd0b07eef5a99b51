package js

import "github.com/dop251/goja"

// setupMessageInterfaces sets up MessageEvent, MessageChannel and the
// non-constructible interfaces that can appear as a message source.
func (s *GlobalScope) setupMessageInterfaces() {
	vm := s.vm

	s.defineInterface("MessageEvent", "Event", func(call goja.ConstructorCall) *goja.Object {
		if len(call.Arguments) < 1 {
			panic(vm.NewTypeError("Failed to construct 'MessageEvent': 1 argument required, but only 0 present."))
		}
		init, err := s.parseMessageEventInit(call.Argument(1))
		if err != nil {
			s.throwDOMError(err)
		}
		ev, err := ConstructMessageEvent(s, call.Arguments[0].String(), init)
		if err != nil {
			s.throwDOMError(err)
		}
		return ev.Object()
	})

	s.defineInterface("MessagePort", "EventTarget", nil)
	s.defineInterface("MessageChannel", "", func(call goja.ConstructorCall) *goja.Object {
		return s.NewMessageChannel().Object()
	})

	s.defineInterface("Window", "EventTarget", nil)
	s.defineInterface("ServiceWorker", "EventTarget", nil)
	s.defineInterface("ServiceWorkerContainer", "EventTarget", nil)
	s.defineInterface("Client", "", nil)
}
