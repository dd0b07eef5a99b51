package js

import "sync/atomic"

// refCounted counts the shared handles held on a host object. Counts are
// atomic because handles owned by a collected event are dropped from a
// runtime cleanup goroutine.
type refCounted struct {
	refs atomic.Int32
}

func (r *refCounted) retain() { r.refs.Add(1) }

func (r *refCounted) release() {
	for {
		n := r.refs.Load()
		if n <= 0 || r.refs.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// RefCount reports how many handles currently keep the object alive.
func (r *refCounted) RefCount() int { return int(r.refs.Load()) }

// sharedObject is a host object that can be held through a Dom handle.
type sharedObject interface {
	retain()
	release()
	RefCount() int
}

// Dom is a shared handle to a host object. It keeps the referent alive for
// at least as long as the holder without claiming exclusive ownership.
type Dom[T sharedObject] struct {
	ptr  T
	live bool
}

// NewDom takes a new handle on obj.
func NewDom[T sharedObject](obj T) Dom[T] {
	obj.retain()
	return Dom[T]{ptr: obj, live: true}
}

// Get returns the referent, or the zero value once released.
func (d Dom[T]) Get() T { return d.ptr }

// Release drops the handle. Releasing twice is a no-op.
func (d *Dom[T]) Release() {
	if !d.live {
		return
	}
	d.ptr.release()
	d.live = false
	var zero T
	d.ptr = zero
}
