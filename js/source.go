package js

import "github.com/dop251/goja"

// MessageEventSource is the script-facing union WindowProxy or MessagePort
// or ServiceWorker. Only those three types implement it.
type MessageEventSource interface {
	DOMObject
	isMessageEventSource()
}

func (*WindowProxy) isMessageEventSource()   {}
func (*MessagePort) isMessageEventSource()   {}
func (*ServiceWorker) isMessageEventSource() {}

type sourceKind int

const (
	sourceWindowProxy sourceKind = iota
	sourceMessagePort
	sourceServiceWorker
)

func (k sourceKind) String() string {
	switch k {
	case sourceWindowProxy:
		return "WindowProxy"
	case sourceMessagePort:
		return "MessagePort"
	case sourceServiceWorker:
		return "ServiceWorker"
	}
	return ""
}

// srcObject is the internal form of a message source: exactly one of the
// three handles is live, selected by kind.
type srcObject struct {
	kind        sourceKind
	windowProxy Dom[*WindowProxy]
	port        Dom[*MessagePort]
	worker      Dom[*ServiceWorker]
}

// newSrcObject takes a new shared handle on the referent of src. A nil
// source yields a nil srcObject.
func newSrcObject(src MessageEventSource) *srcObject {
	switch v := src.(type) {
	case nil:
		return nil
	case *WindowProxy:
		if v == nil {
			return nil
		}
		return &srcObject{kind: sourceWindowProxy, windowProxy: NewDom(v)}
	case *MessagePort:
		if v == nil {
			return nil
		}
		return &srcObject{kind: sourceMessagePort, port: NewDom(v)}
	case *ServiceWorker:
		if v == nil {
			return nil
		}
		return &srcObject{kind: sourceServiceWorker, worker: NewDom(v)}
	}
	panic("js: unknown message source type")
}

// get returns the referent as the script-facing union.
func (s *srcObject) get() MessageEventSource {
	if s == nil {
		return nil
	}
	switch s.kind {
	case sourceWindowProxy:
		if p := s.windowProxy.Get(); p != nil {
			return p
		}
	case sourceMessagePort:
		if p := s.port.Get(); p != nil {
			return p
		}
	case sourceServiceWorker:
		if p := s.worker.Get(); p != nil {
			return p
		}
	}
	return nil
}

func (s *srcObject) trace(tr Tracer) {
	if src := s.get(); src != nil {
		tr.TraceObject("source", src)
	}
}

func (s *srcObject) release() {
	s.windowProxy.Release()
	s.port.Release()
	s.worker.Release()
}

// SourceKind names the active variant of a source, or "" for none.
func SourceKind(src MessageEventSource) string {
	switch src.(type) {
	case *WindowProxy:
		return sourceWindowProxy.String()
	case *MessagePort:
		return sourceMessagePort.String()
	case *ServiceWorker:
		return sourceServiceWorker.String()
	}
	return ""
}

// toMessageEventSource converts a script value to the union. null and
// undefined yield nil; anything else that is not one of the three is a
// TypeError.
func (s *GlobalScope) toMessageEventSource(v goja.Value) (MessageEventSource, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, true
	}
	src, ok := s.unwrapHost(v).(MessageEventSource)
	return src, ok
}
