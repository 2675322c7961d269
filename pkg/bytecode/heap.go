package bytecode

import (
	"github.com/tliron/commonlog"
)

var gcLog = commonlog.GetLogger("cinder.gc")

// defaultNextGC is the allocation budget before the first collection.
const defaultNextGC = 1024 * 1024

// gcGrowFactor scales the next trigger threshold from the live size after a
// collection.
const gcGrowFactor = 2

// RootSource is anything that owns references into the heap. Registered
// sources are asked to mark their roots at the start of every collection:
// the VM (value stack, call frames, globals, open upvalues) and any
// compiler that is currently building functions.
type RootSource interface {
	MarkRoots(h *Heap)
}

type heapSlot struct {
	obj    Object
	marked bool
}

// Heap owns every script-visible object. Objects live in a slot vector and
// are addressed by stable handles; a tri-colour mark-sweep collector
// reclaims slots onto a free list. The intern set for strings lives here
// because string identity is a heap-wide property.
type Heap struct {
	slots []heapSlot
	free  []Handle

	bytesAllocated int
	nextGC         int
	collections    int

	// gray is the worklist of marked objects whose references are not yet
	// traced. The backing array is reused across collections and never
	// shrunk.
	gray []Handle

	strings Table
	roots   []RootSource
	pins    []Handle

	// Stress forces a collection before every allocation.
	Stress bool

	// LogStats raises per-collection logging from debug to info level.
	LogStats bool
}

// NewHeap creates an empty heap with the default collection threshold.
func NewHeap() *Heap {
	return &Heap{nextGC: defaultNextGC}
}

// SetNextGC overrides the byte threshold for the next collection.
func (h *Heap) SetNextGC(bytes int) {
	if bytes > 0 {
		h.nextGC = bytes
	}
}

// BytesAllocated returns the bytes currently accounted to live objects.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// Collections returns how many collections have run.
func (h *Heap) Collections() int { return h.collections }

// AddRootSource registers a root source for future collections.
func (h *Heap) AddRootSource(r RootSource) {
	h.roots = append(h.roots, r)
}

// RemoveRootSource unregisters a root source.
func (h *Heap) RemoveRootSource(r RootSource) {
	for i, existing := range h.roots {
		if existing == r {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// Pin makes a handle a root until a matching unpin.
func (h *Heap) Pin(handle Handle) {
	h.pins = append(h.pins, handle)
}

func (h *Heap) unpin(handle Handle) {
	for i := len(h.pins) - 1; i >= 0; i-- {
		if h.pins[i] == handle {
			h.pins = append(h.pins[:i], h.pins[i+1:]...)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// allocate accounts the object's size, possibly collects, and then places
// the object in a slot. The collection runs before the object is inserted,
// so a new object is never swept; anything it will reference must already
// be reachable from a root.
func (h *Heap) allocate(obj Object) Handle {
	h.bytesAllocated += obj.size()
	if h.Stress || h.bytesAllocated > h.nextGC {
		h.Collect()
	}

	if n := len(h.free); n > 0 {
		handle := h.free[n-1]
		h.free = h.free[:n-1]
		h.slots[handle] = heapSlot{obj: obj}
		return handle
	}

	h.slots = append(h.slots, heapSlot{obj: obj})
	return Handle(len(h.slots) - 1)
}

// InternString returns the unique handle for the given contents, allocating
// and interning a new string object on first sight.
func (h *Heap) InternString(chars string) Handle {
	hash := hashString(chars)
	if existing := h.strings.FindString(h, chars, hash); existing != NilHandle {
		return existing
	}
	handle := h.allocate(&StringObject{Chars: chars, Hash: hash})
	h.strings.Set(h, handle, NilValue())
	return handle
}

// NewFunction allocates a blank function with an empty chunk.
func (h *Heap) NewFunction() Handle {
	return h.allocate(&FunctionObject{Chunk: NewChunk(), Name: NilHandle})
}

// NewClosure allocates a closure over fn with unfilled upvalue slots.
func (h *Heap) NewClosure(fn Handle) Handle {
	count := h.fun(fn).UpvalueCount
	upvalues := make([]Handle, count)
	for i := range upvalues {
		upvalues[i] = NilHandle
	}
	return h.allocate(&ClosureObject{Function: fn, Upvalues: upvalues})
}

// NewUpvalue allocates an open upvalue aliasing the given stack slot.
func (h *Heap) NewUpvalue(slot int) Handle {
	return h.allocate(&UpvalueObject{Slot: slot, Open: true})
}

// NewNative allocates a host-function object.
func (h *Heap) NewNative(name string, fn NativeFn) Handle {
	return h.allocate(&NativeObject{Fn: fn, Name: name})
}

// NewClass allocates a class with an empty method table.
func (h *Heap) NewClass(name Handle) Handle {
	return h.allocate(&ClassObject{Name: name})
}

// NewInstance allocates an instance of class with no fields.
func (h *Heap) NewInstance(class Handle) Handle {
	return h.allocate(&InstanceObject{Class: class})
}

// NewBoundMethod allocates a bound method pairing receiver and method.
func (h *Heap) NewBoundMethod(receiver Value, method Handle) Handle {
	return h.allocate(&BoundMethodObject{Receiver: receiver, Method: method})
}

// ---------------------------------------------------------------------------
// Access
// ---------------------------------------------------------------------------

// Get returns the object for a handle, or nil for NilHandle and freed
// slots.
func (h *Heap) Get(handle Handle) Object {
	if handle < 0 || int(handle) >= len(h.slots) {
		return nil
	}
	return h.slots[handle].obj
}

func (h *Heap) str(handle Handle) *StringObject {
	return h.slots[handle].obj.(*StringObject)
}

func (h *Heap) fun(handle Handle) *FunctionObject {
	return h.slots[handle].obj.(*FunctionObject)
}

func (h *Heap) closure(handle Handle) *ClosureObject {
	return h.slots[handle].obj.(*ClosureObject)
}

func (h *Heap) upvalue(handle Handle) *UpvalueObject {
	return h.slots[handle].obj.(*UpvalueObject)
}

func (h *Heap) class(handle Handle) *ClassObject {
	return h.slots[handle].obj.(*ClassObject)
}

func (h *Heap) instance(handle Handle) *InstanceObject {
	return h.slots[handle].obj.(*InstanceObject)
}

// StringValue returns the contents of a string object.
func (h *Heap) StringValue(handle Handle) string {
	return h.str(handle).Chars
}

// Function returns the function object for a handle.
func (h *Heap) Function(handle Handle) *FunctionObject {
	return h.fun(handle)
}

func (h *Heap) isMarked(handle Handle) bool {
	return handle >= 0 && h.slots[handle].marked
}

// ---------------------------------------------------------------------------
// Collection
// ---------------------------------------------------------------------------

// markObject marks a handle reachable and queues it for tracing.
func (h *Heap) markObject(handle Handle) {
	if handle < 0 || h.slots[handle].marked || h.slots[handle].obj == nil {
		return
	}
	h.slots[handle].marked = true
	h.gray = append(h.gray, handle)
}

// markValue marks the object a value references, if any.
func (h *Heap) markValue(v Value) {
	if v.Kind == ValObject {
		h.markObject(v.Obj)
	}
}

// MarkObject is the root-marking entry point for RootSource implementors.
func (h *Heap) MarkObject(handle Handle) { h.markObject(handle) }

// MarkValue is the root-marking entry point for RootSource implementors.
func (h *Heap) MarkValue(v Value) { h.markValue(v) }

// Collect runs a full mark-sweep cycle: mark roots, trace the gray
// worklist to exhaustion, scrub the intern set, then sweep unmarked slots
// onto the free list and clear surviving marks.
func (h *Heap) Collect() {
	before := h.bytesAllocated

	h.gray = h.gray[:0]
	for _, r := range h.roots {
		r.MarkRoots(h)
	}
	for _, p := range h.pins {
		h.markObject(p)
	}

	for len(h.gray) > 0 {
		handle := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.slots[handle].obj.trace(h)
	}

	h.strings.removeUnmarked(h)
	h.sweep()

	h.nextGC = h.bytesAllocated * gcGrowFactor
	h.collections++

	if h.LogStats {
		gcLog.Infof("collection %d: %d -> %d bytes (freed %d), next at %d",
			h.collections, before, h.bytesAllocated, before-h.bytesAllocated, h.nextGC)
	} else {
		gcLog.Debugf("collection %d: %d -> %d bytes", h.collections, before, h.bytesAllocated)
	}
}

func (h *Heap) sweep() {
	for i := range h.slots {
		slot := &h.slots[i]
		if slot.obj == nil {
			continue
		}
		if slot.marked {
			slot.marked = false
			continue
		}
		h.bytesAllocated -= slot.obj.size()
		slot.obj = nil
		h.free = append(h.free, Handle(i))
	}
}
