// Package gpu wraps a native device Driver in reference-counted objects.
//
// Every wrapper (Device, Allocator, Image, ResourceLayout, ImageSet, Program,
// CommandPool, CommandBuffer, Fence, Semaphore) holds a counted reference to
// the inner state of the objects it was built from. A native handle is
// destroyed only when its last reference is released, and its dependencies
// are released after it, so lower-level objects always outlive everything
// built on top of them. Command buffers additionally retain whatever they
// record until they are begun again.
//
// Drivers keep their native objects in a generation-checked Arena; stale
// handles never resolve to a newer object.
package gpu
