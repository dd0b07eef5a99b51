package js

import "github.com/dop251/goja"

// Tracer visits everything reachable from a reflected host object.
type Tracer interface {
	// TraceValue visits a script value held by the object.
	TraceValue(name string, v goja.Value)
	// TraceObject visits another host object the object holds a handle to.
	TraceObject(name string, obj DOMObject)
}

// Heap stores one engine-owned value inside a host object. The owner must
// forward its Trace to the cell so the value is visited whenever the owner is.
type Heap struct {
	v goja.Value
}

// Get returns the stored value, undefined until the first Set.
func (h *Heap) Get() goja.Value {
	if h.v == nil {
		return goja.Undefined()
	}
	return h.v
}

// Set replaces the stored value. A nil value stores undefined.
func (h *Heap) Set(v goja.Value) {
	if v == nil {
		v = goja.Undefined()
	}
	h.v = v
}

// Trace visits the current value.
func (h *Heap) Trace(tr Tracer, name string) {
	tr.TraceValue(name, h.Get())
}

func (h *Heap) clear() { h.v = nil }
