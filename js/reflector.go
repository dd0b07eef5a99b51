package js

import (
	"weak"

	"github.com/dop251/goja"
)

// Reflector links a host object to its script-side wrapper in one scope.
type Reflector struct {
	object *goja.Object
	scope  *GlobalScope
}

// Object returns the script wrapper, or nil before reflection.
func (r *Reflector) Object() *goja.Object { return r.object }

// Scope returns the scope the object was reflected into.
func (r *Reflector) Scope() *GlobalScope { return r.scope }

func (r *Reflector) reflector() *Reflector { return r }

// DOMObject is a host object exposed to script. Trace must visit every
// script value and host handle the object owns.
type DOMObject interface {
	reflector() *Reflector
	Trace(tr Tracer)
}

// hostRef is stored on each wrapper under the scope's private symbol so
// script values can be mapped back to their host objects.
type hostRef struct {
	obj DOMObject
}

// rootEntry is one member of a scope's trace set. The scope holds the object
// weakly: the wrapper (and anything in Go holding the object) keeps it alive,
// and a dead entry is pruned on the next trace.
type rootEntry struct {
	id    uint64
	iface string
	get   func() DOMObject
}

func weakRoot[U any, T interface {
	*U
	DOMObject
}](obj T) func() DOMObject {
	wp := weak.Make((*U)(obj))
	return func() DOMObject {
		if p := wp.Value(); p != nil {
			return T(p)
		}
		return nil
	}
}

// reflectDOMObject creates obj's wrapper in scope and adds obj to the scope's
// trace set. It must run exactly once per object, before any script value is
// stored in the object.
func reflectDOMObject[U any, T interface {
	*U
	DOMObject
}](obj T, scope *GlobalScope, iface string, wrap func(*goja.Object)) T {
	return reflectDOMObjectAs(obj, scope, iface, scope.vm.NewObject(), wrap)
}

// reflectDOMObjectAs is reflectDOMObject with a caller-supplied wrapper, used
// when the wrapper already exists (the global object of a window).
func reflectDOMObjectAs[U any, T interface {
	*U
	DOMObject
}](obj T, scope *GlobalScope, iface string, wrapper *goja.Object, wrap func(*goja.Object)) T {
	r := obj.reflector()
	if r.object != nil {
		panic("js: " + iface + " reflected twice")
	}
	if proto, ok := scope.prototypes[iface]; ok && wrapper != scope.global {
		wrapper.SetPrototype(proto)
	}
	wrapper.DefineDataPropertySymbol(scope.hostKey, scope.vm.ToValue(hostRef{obj: obj}),
		goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)

	r.object = wrapper
	r.scope = scope

	scope.nextRootID++
	scope.roots = append(scope.roots, rootEntry{
		id:    scope.nextRootID,
		iface: iface,
		get:   weakRoot[U, T](obj),
	})

	if wrap != nil {
		wrap(wrapper)
	}
	return obj
}

// unregister removes obj from the trace set.
func (s *GlobalScope) unregister(obj DOMObject) {
	for i, e := range s.roots {
		if e.get() == obj {
			s.roots = append(s.roots[:i], s.roots[i+1:]...)
			return
		}
	}
}

// Trace visits every live object registered with the scope.
func (s *GlobalScope) Trace(tr Tracer) {
	live := s.roots[:0]
	for _, e := range s.roots {
		obj := e.get()
		if obj == nil {
			continue
		}
		live = append(live, e)
		obj.Trace(tr)
	}
	clear(s.roots[len(live):])
	s.roots = live
}

// LiveObjects counts registered objects that have not been collected,
// grouped by interface name.
func (s *GlobalScope) LiveObjects() map[string]int {
	counts := make(map[string]int)
	for _, e := range s.roots {
		if e.get() != nil {
			counts[e.iface]++
		}
	}
	return counts
}

// unwrapHost returns the host object behind a wrapper created in this scope.
func (s *GlobalScope) unwrapHost(v goja.Value) DOMObject {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	ref := obj.GetSymbol(s.hostKey)
	if ref == nil || goja.IsUndefined(ref) {
		return nil
	}
	if h, ok := ref.Export().(hostRef); ok {
		return h.obj
	}
	return nil
}
