package render

import "sync/atomic"

// Resource is a reference-counted backend object. The release function runs
// once, when the last reference is dropped.
type Resource struct {
	handle  Handle
	refs    atomic.Int32
	release func(Handle)
}

// NewResource wraps h with a single reference.
func NewResource(h Handle, release func(Handle)) *Resource {
	r := &Resource{handle: h, release: release}
	r.refs.Store(1)
	return r
}

// Handle returns the backend handle.
func (r *Resource) Handle() Handle {
	return r.handle
}

// Retain adds a reference and returns r.
func (r *Resource) Retain() *Resource {
	r.refs.Add(1)
	return r
}

// Release drops a reference. Releasing an already freed resource is a no-op.
func (r *Resource) Release() {
	n := r.refs.Add(-1)
	if n == 0 && r.release != nil {
		r.release(r.handle)
	}
	if n < 0 {
		r.refs.Store(0)
	}
}

// Refs returns the current reference count.
func (r *Resource) Refs() int32 {
	return r.refs.Load()
}
