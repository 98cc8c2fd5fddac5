// Package gputest provides an in-memory gpu.Driver and gpu.Swapchain that
// record every call, for testing code built on the gpu package without a
// device.
package gputest

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kiyo/gpu"
)

var (
	// ErrInjected is the default error returned by FailOn.
	ErrInjected = errors.New("injected failure")
	// ErrInFlight is recorded when a command buffer is begun, or a fence
	// reset, while its previous submission has not been waited on.
	ErrInFlight = errors.New("command buffer still in flight")
	// ErrDeadlock is returned when waiting on a fence nothing will signal.
	ErrDeadlock = errors.New("wait on fence that was never submitted")
)

type Kind string

const (
	KindAllocator      Kind = "allocator"
	KindImage          Kind = "image"
	KindResourceLayout Kind = "resource layout"
	KindImageSet       Kind = "image set"
	KindProgram        Kind = "program"
	KindCommandPool    Kind = "command pool"
	KindCommandBuffer  Kind = "command buffer"
	KindFence          Kind = "fence"
	KindSemaphore      Kind = "semaphore"
	KindSwapchainImage Kind = "swapchain image"
)

// Object is the driver-side record of a native object.
type Object struct {
	Kind    Kind
	Image   gpu.ImageInfo
	Layout  gpu.ResourceLayoutInfo
	Program gpu.ProgramInfo
	Images  []gpu.Handle
	Pool    gpu.Handle

	Signaled bool
	Pending  bool

	Recording bool
	InFlight  gpu.Handle
}

// Call is one recorded driver call. Only the fields relevant to Op are set.
type Call struct {
	Op      string
	Handles []gpu.Handle
	Barrier gpu.ImageBarrier
	Blit    gpu.Blit
	Layout  gpu.ImageLayout
	Color   gpu.ClearColor
	Data    []byte
	Groups  [3]int
	Submit  gpu.SubmitInfo
	Index   int
}

// Driver is a recording gpu.Driver. Submitted work completes as soon as its
// fence is waited on.
type Driver struct {
	mu        sync.Mutex
	objects   gpu.Arena[*Object]
	calls     []Call
	failures  map[string]error
	errs      []error
	destroyed bool
	liveAtEnd int
}

func NewDriver() *Driver {
	return &Driver{failures: map[string]error{}}
}

// FailOn makes every later call to op return err (ErrInjected if nil).
func (d *Driver) FailOn(op string, err error) {
	if err == nil {
		err = ErrInjected
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

func (d *Driver) ClearFailure(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, op)
}

// Calls returns a copy of the call log.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Ops returns the op names of the call log, in order.
func (d *Driver) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ops := make([]string, len(d.calls))
	for i, c := range d.calls {
		ops[i] = c.Op
	}
	return ops
}

func (d *Driver) CallsOf(op string) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (d *Driver) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Errors returns misuse detected by the driver: double destroys, stale
// handles, recording into in-flight command buffers.
func (d *Driver) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

// Live returns the number of live native objects of kind, or of every kind
// when kind is empty.
func (d *Driver) Live(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.countLocked(kind)
}

func (d *Driver) countLocked(kind Kind) int {
	n := 0
	d.objects.Each(func(_ gpu.Handle, obj *Object) {
		if kind == "" || obj.Kind == kind {
			n++
		}
	})
	return n
}

// Object returns a copy of the record for h.
func (d *Driver) Object(h gpu.Handle) (Object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, ok := d.objects.Get(h)
	if !ok {
		return Object{}, false
	}
	return *obj, true
}

// Destroyed reports whether Destroy has been called.
func (d *Driver) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// LiveAtDestroy returns how many native objects were still alive when the
// device was destroyed.
func (d *Driver) LiveAtDestroy() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveAtEnd
}
