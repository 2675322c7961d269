package bytecode

import "fmt"

// ---------------------------------------------------------------------------
// Heap object kinds
// ---------------------------------------------------------------------------

// ObjectKind identifies the concrete type of a heap object.
type ObjectKind uint8

const (
	KindString ObjectKind = iota
	KindFunction
	KindClosure
	KindUpvalue
	KindNative
	KindClass
	KindInstance
	KindBoundMethod
)

var objectKindNames = map[ObjectKind]string{
	KindString:      "string",
	KindFunction:    "function",
	KindClosure:     "closure",
	KindUpvalue:     "upvalue",
	KindNative:      "native",
	KindClass:       "class",
	KindInstance:    "instance",
	KindBoundMethod: "bound method",
}

func (k ObjectKind) String() string {
	if name, ok := objectKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ObjectKind(%d)", uint8(k))
}

// Object is a heap-allocated value. Implementations report their accounted
// size and mark their children during a collection.
type Object interface {
	Kind() ObjectKind

	// size is the number of bytes this object accounts for against the
	// collector's allocation budget.
	size() int

	// trace marks every object this one references.
	trace(h *Heap)
}

// Rough per-object header cost accounted to the collector. The exact number
// only has to be stable; the trigger policy works on relative growth.
const objectOverhead = 32

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

// StringObject is an immutable, interned byte sequence with a cached hash.
type StringObject struct {
	Chars string
	Hash  uint32
}

func (*StringObject) Kind() ObjectKind { return KindString }
func (s *StringObject) size() int      { return objectOverhead + len(s.Chars) }
func (s *StringObject) trace(h *Heap)  {}

// hashString is the FNV-1a hash used for interning and table probing.
func hashString(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

// FunctionObject is a compiled function: immutable once the compiler has
// finished with it. Name is NilHandle for the top-level script.
type FunctionObject struct {
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	Name         Handle
}

func (*FunctionObject) Kind() ObjectKind { return KindFunction }

// Accounted size must stay stable for the collector's byte bookkeeping, so
// the growing chunk storage (Go-managed) is not counted.
func (f *FunctionObject) size() int { return objectOverhead }

func (f *FunctionObject) trace(h *Heap) {
	h.markObject(f.Name)
	for _, c := range f.Chunk.Constants {
		h.markValue(c)
	}
}

// ---------------------------------------------------------------------------
// Closure and upvalues
// ---------------------------------------------------------------------------

// ClosureObject pairs a function with the upvalues it captured.
type ClosureObject struct {
	Function Handle
	Upvalues []Handle
}

func (*ClosureObject) Kind() ObjectKind { return KindClosure }
func (c *ClosureObject) size() int      { return objectOverhead + 4*len(c.Upvalues) }

func (c *ClosureObject) trace(h *Heap) {
	h.markObject(c.Function)
	for _, uv := range c.Upvalues {
		h.markObject(uv)
	}
}

// UpvalueObject is a captured variable. While open it aliases a value-stack
// slot; once closed it owns the value itself.
type UpvalueObject struct {
	Slot   int // stack slot index while open
	Open   bool
	Closed Value // owned value once closed; nil while open
}

func (*UpvalueObject) Kind() ObjectKind { return KindUpvalue }
func (u *UpvalueObject) size() int      { return objectOverhead }

func (u *UpvalueObject) trace(h *Heap) {
	// While open, Closed is nil and this is a no-op; the live stack slot is
	// reached through the VM roots.
	h.markValue(u.Closed)
}

// ---------------------------------------------------------------------------
// Native
// ---------------------------------------------------------------------------

// NativeFn is the host-function calling convention. Natives run to
// completion on the interpreter's goroutine and must not re-enter it; they
// report failure only through their return value.
type NativeFn func(vm *VM, args []Value) Value

// NativeObject wraps a host routine.
type NativeObject struct {
	Fn   NativeFn
	Name string
}

func (*NativeObject) Kind() ObjectKind { return KindNative }
func (n *NativeObject) size() int      { return objectOverhead }
func (n *NativeObject) trace(h *Heap)  {}

// ---------------------------------------------------------------------------
// Classes, instances, bound methods
// ---------------------------------------------------------------------------

// ClassObject holds a class name and its method table (name → closure).
type ClassObject struct {
	Name    Handle
	Methods Table
}

func (*ClassObject) Kind() ObjectKind { return KindClass }
func (c *ClassObject) size() int      { return objectOverhead }

func (c *ClassObject) trace(h *Heap) {
	h.markObject(c.Name)
	c.Methods.mark(h)
}

// InstanceObject is an instance of a class with its field table.
type InstanceObject struct {
	Class  Handle
	Fields Table
}

func (*InstanceObject) Kind() ObjectKind { return KindInstance }
func (i *InstanceObject) size() int      { return objectOverhead }

func (i *InstanceObject) trace(h *Heap) {
	h.markObject(i.Class)
	i.Fields.mark(h)
}

// BoundMethodObject pairs a receiver with a method closure so the method
// can be called later as a plain value.
type BoundMethodObject struct {
	Receiver Value
	Method   Handle
}

func (*BoundMethodObject) Kind() ObjectKind { return KindBoundMethod }
func (b *BoundMethodObject) size() int      { return objectOverhead }

func (b *BoundMethodObject) trace(h *Heap) {
	h.markValue(b.Receiver)
	h.markObject(b.Method)
}
