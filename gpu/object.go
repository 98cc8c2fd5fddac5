package gpu

import (
	"sync/atomic"

	"github.com/vkngwrapper/kiyo"
)

// object is the shared inner state behind every wrapper. It owns one native
// handle and a counted reference to the inner state of everything the handle
// was built from.
type object struct {
	kind    string
	handle  Handle
	refs    atomic.Int32
	deps    []*object
	destroy func(Handle)
}

// newObject returns an object with a single reference. Each dependency is
// retained until the object is destroyed.
func newObject(kind string, handle Handle, destroy func(Handle), deps ...*object) *object {
	o := &object{
		kind:    kind,
		handle:  handle,
		destroy: destroy,
	}
	o.refs.Store(1)

	for _, dep := range deps {
		if dep != nil {
			o.deps = append(o.deps, dep.retain())
		}
	}
	return o
}

func (o *object) retain() *object {
	if o.refs.Add(1) <= 1 {
		panic("gpu: retain of destroyed " + o.kind)
	}
	return o
}

// release drops one reference. The last release destroys the native handle
// first and only then lets go of the dependencies, newest first.
func (o *object) release() {
	n := o.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("gpu: over-release of " + o.kind)
	}

	kiyo.Logger().Debug("destroying object", "kind", o.kind, "handle", o.handle)
	if o.destroy != nil {
		o.destroy(o.handle)
	}
	for i := len(o.deps) - 1; i >= 0; i-- {
		o.deps[i].release()
	}
	o.deps = nil
}

// ref is one caller-visible reference to an object. Releasing it more than
// once has no further effect.
type ref struct {
	obj      *object
	released atomic.Bool
}

func (r *ref) init(obj *object) {
	r.obj = obj
}

// Release drops this reference. The native object is destroyed once every
// reference, including those held by dependents and command buffers, is gone.
func (r *ref) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.obj.release()
	}
}

// Refs returns the number of live references to the underlying object,
// including references held by dependents.
func (r *ref) Refs() int32 {
	return r.obj.refs.Load()
}

// Handle returns the native handle.
func (r *ref) Handle() Handle {
	return r.obj.handle
}

// Same reports whether two references share the same underlying object.
func (r *ref) same(other *ref) bool {
	return other != nil && r.obj == other.obj
}

func (r *ref) inner() *object {
	return r.obj
}
