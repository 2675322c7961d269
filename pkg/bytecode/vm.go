package bytecode

import (
	"fmt"
	"io"
	"os"
	"time"
)

// FramesMax bounds call depth; exceeding it is the "Stack overflow."
// runtime error.
const FramesMax = 64

// StackMax is the value-stack capacity: every frame gets up to one operand
// byte's worth of slots.
const StackMax = FramesMax * 256

// RuntimeError aborts the current top-level call. The diagnostic and stack
// trace have already been written to the VM's error sink when it is
// returned.
type RuntimeError struct {
	Message string
	Trace   []string
}

func (e *RuntimeError) Error() string {
	return e.Message
}

// CallFrame is one active call: the closure being run, the instruction
// pointer into its chunk, and the base slot of its stack window. Slot 0 of
// the window holds the callee or 'this'.
type CallFrame struct {
	closure Handle
	ip      int
	base    int
}

// VM executes compiled scripts. It owns the value stack, the frame stack,
// the global table, and the open-upvalue list; the heap it runs against is
// shared with the compiler.
type VM struct {
	heap *Heap

	stack []Value
	sp    int

	frames     [FramesMax]CallFrame
	frameCount int

	globals Table

	// openUpvalues is ordered by strictly descending stack slot; at most
	// one upvalue exists per live slot.
	openUpvalues []Handle

	initString Handle

	out     io.Writer
	errOut  io.Writer
	started time.Time

	// Trace writes the stack and each instruction to the error sink as it
	// executes.
	Trace bool
}

// NewVM creates a VM on the given heap, registers it as a GC root source,
// and installs the built-in natives.
func NewVM(heap *Heap) *VM {
	vm := &VM{
		heap:    heap,
		stack:   make([]Value, StackMax),
		out:     os.Stdout,
		errOut:  os.Stderr,
		started: time.Now(),
	}
	heap.AddRootSource(vm)

	// The initializer name is looked up on every class call and must
	// survive every collection.
	vm.initString = heap.InternString("init")
	heap.Pin(vm.initString)

	vm.DefineNative("clock", clockNative)
	return vm
}

// SetOutput redirects the print sink.
func (vm *VM) SetOutput(w io.Writer) { vm.out = w }

// SetErrorOutput redirects the diagnostic sink.
func (vm *VM) SetErrorOutput(w io.Writer) { vm.errOut = w }

// Heap returns the heap this VM executes against.
func (vm *VM) Heap() *Heap { return vm.heap }

// DefineNative binds a host function into the global environment.
func (vm *VM) DefineNative(name string, fn NativeFn) {
	// Both objects are kept reachable through the stack while the other
	// allocation may collect.
	vm.push(ObjectValue(vm.heap.InternString(name)))
	vm.push(ObjectValue(vm.heap.NewNative(name, fn)))
	vm.globals.Set(vm.heap, vm.stack[vm.sp-2].Obj, vm.stack[vm.sp-1])
	vm.pop()
	vm.pop()
}

// MarkRoots marks everything the VM can reach: the live stack, every
// frame's closure, the open upvalues, and the global table.
func (vm *VM) MarkRoots(h *Heap) {
	for i := 0; i < vm.sp; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].closure)
	}
	for _, uv := range vm.openUpvalues {
		h.MarkObject(uv)
	}
	vm.globals.mark(h)
}

// Interpret compiles and runs one source text. The returned error is a
// *CompileError or *RuntimeError; nil means the script ran to completion.
func (vm *VM) Interpret(source string) error {
	script, err := Compile(vm.heap, source)
	if err != nil {
		return err
	}
	return vm.RunFunction(script)
}

// RunFunction executes an already-compiled script function, e.g. one
// rebuilt from a snapshot.
func (vm *VM) RunFunction(script Handle) error {
	vm.push(ObjectValue(script))
	closure := vm.heap.NewClosure(script)
	vm.pop()
	vm.push(ObjectValue(closure))

	if err := vm.call(closure, 0); err != nil {
		return err
	}
	return vm.run()
}

// ---------------------------------------------------------------------------
// Stack primitives
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.sp-1-distance]
}

func (vm *VM) resetStack() {
	vm.sp = 0
	vm.frameCount = 0
	vm.openUpvalues = vm.openUpvalues[:0]
}

// runtimeError writes the diagnostic and a stack trace (innermost frame
// first) to the error sink, resets the stack, and returns the error.
func (vm *VM) runtimeError(format string, args ...interface{}) *RuntimeError {
	message := fmt.Sprintf(format, args...)

	var trace []string
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := vm.heap.fun(vm.heap.closure(frame.closure).Function)
		line := fn.Chunk.Lines[frame.ip-1]
		name := "script"
		if fn.Name != NilHandle {
			name = vm.heap.str(fn.Name).Chars + "()"
		}
		trace = append(trace, fmt.Sprintf("[line %d] in %s", line, name))
	}

	fmt.Fprintln(vm.errOut, message)
	for _, line := range trace {
		fmt.Fprintln(vm.errOut, line)
	}

	vm.resetStack()
	return &RuntimeError{Message: message, Trace: trace}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call pushes a frame for a closure after validating arity and depth. The
// frame window starts at the callee slot, so arguments land in slots 1..N.
func (vm *VM) call(closure Handle, argc int) *RuntimeError {
	fn := vm.heap.fun(vm.heap.closure(closure).Function)
	if argc != fn.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", fn.Arity, argc)
	}

	if vm.frameCount == FramesMax {
		return vm.runtimeError("Stack overflow.")
	}

	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.base = vm.sp - argc - 1
	return nil
}

func (vm *VM) callValue(callee Value, argc int) *RuntimeError {
	if callee.IsObject() {
		switch obj := vm.heap.Get(callee.Obj).(type) {
		case *BoundMethodObject:
			vm.stack[vm.sp-argc-1] = obj.Receiver
			return vm.call(obj.Method, argc)

		case *ClassObject:
			// The callee slot becomes the fresh instance; the class value
			// itself keeps the class reachable during the allocation.
			instance := vm.heap.NewInstance(callee.Obj)
			vm.stack[vm.sp-argc-1] = ObjectValue(instance)
			if initializer, ok := obj.Methods.Get(vm.heap, vm.initString); ok {
				return vm.call(initializer.Obj, argc)
			}
			if argc != 0 {
				return vm.runtimeError("Expected 0 arguments but got %d.", argc)
			}
			return nil

		case *ClosureObject:
			return vm.call(callee.Obj, argc)

		case *NativeObject:
			result := obj.Fn(vm, vm.stack[vm.sp-argc:vm.sp])
			vm.sp -= argc + 1
			vm.push(result)
			return nil
		}
	}
	return vm.runtimeError("Can only call functions and classes.")
}

// invoke is the fused property-lookup-and-call: a matching field falls
// back to a plain call of the field value, a method is called directly
// without materializing a bound method.
func (vm *VM) invoke(name Handle, argc int) *RuntimeError {
	receiver := vm.peek(argc)
	if !receiver.IsObject() {
		return vm.runtimeError("Only instances have methods.")
	}
	instance, ok := vm.heap.Get(receiver.Obj).(*InstanceObject)
	if !ok {
		return vm.runtimeError("Only instances have methods.")
	}

	if value, ok := instance.Fields.Get(vm.heap, name); ok {
		vm.stack[vm.sp-argc-1] = value
		return vm.callValue(value, argc)
	}

	return vm.invokeFromClass(instance.Class, name, argc)
}

func (vm *VM) invokeFromClass(class Handle, name Handle, argc int) *RuntimeError {
	method, ok := vm.heap.class(class).Methods.Get(vm.heap, name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", vm.heap.str(name).Chars)
	}
	return vm.call(method.Obj, argc)
}

// bindMethod wraps a method of class around the receiver on top of the
// stack, replacing it.
func (vm *VM) bindMethod(class Handle, name Handle) *RuntimeError {
	method, ok := vm.heap.class(class).Methods.Get(vm.heap, name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", vm.heap.str(name).Chars)
	}

	bound := vm.heap.NewBoundMethod(vm.peek(0), method.Obj)
	vm.pop()
	vm.push(ObjectValue(bound))
	return nil
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// captureUpvalue returns the open upvalue for a stack slot, creating and
// splicing in a new one when the slot is not yet captured. The list stays
// strictly descending by slot.
func (vm *VM) captureUpvalue(slot int) Handle {
	i := 0
	for i < len(vm.openUpvalues) && vm.heap.upvalue(vm.openUpvalues[i]).Slot > slot {
		i++
	}
	if i < len(vm.openUpvalues) && vm.heap.upvalue(vm.openUpvalues[i]).Slot == slot {
		return vm.openUpvalues[i]
	}

	created := vm.heap.NewUpvalue(slot)
	vm.openUpvalues = append(vm.openUpvalues, NilHandle)
	copy(vm.openUpvalues[i+1:], vm.openUpvalues[i:])
	vm.openUpvalues[i] = created
	return created
}

// closeUpvalues hoists every open upvalue at or above the given slot: the
// stack value moves into the upvalue, which then owns it.
func (vm *VM) closeUpvalues(from int) {
	closed := 0
	for closed < len(vm.openUpvalues) {
		uv := vm.heap.upvalue(vm.openUpvalues[closed])
		if uv.Slot < from {
			break
		}
		uv.Closed = vm.stack[uv.Slot]
		uv.Open = false
		closed++
	}
	if closed > 0 {
		vm.openUpvalues = append(vm.openUpvalues[:0], vm.openUpvalues[closed:]...)
	}
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// run executes until the script frame returns. The current frame and its
// function are cached in locals and refreshed after every operation that
// can change frames.
func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]
	fn := vm.heap.fun(vm.heap.closure(frame.closure).Function)

	refresh := func() {
		frame = &vm.frames[vm.frameCount-1]
		fn = vm.heap.fun(vm.heap.closure(frame.closure).Function)
	}

	readByte := func() byte {
		b := fn.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		hi := int(fn.Chunk.Code[frame.ip])
		lo := int(fn.Chunk.Code[frame.ip+1])
		frame.ip += 2
		return hi<<8 | lo
	}
	readConstant := func() Value {
		return fn.Chunk.Constants[readByte()]
	}
	readString := func() Handle {
		return readConstant().Obj
	}

	for {
		if vm.Trace {
			fmt.Fprintf(vm.errOut, "          ")
			for i := 0; i < vm.sp; i++ {
				fmt.Fprintf(vm.errOut, "[ %s ]", vm.heap.FormatValue(vm.stack[i]))
			}
			fmt.Fprintln(vm.errOut)
			DisassembleInstruction(vm.errOut, vm.heap, fn.Chunk, frame.ip)
		}

		switch Opcode(readByte()) {
		case OpConstant:
			vm.push(readConstant())

		case OpNil:
			vm.push(NilValue())

		case OpTrue:
			vm.push(BoolValue(true))

		case OpFalse:
			vm.push(BoolValue(false))

		case OpPop:
			vm.pop()

		case OpGetLocal:
			slot := int(readByte())
			vm.push(vm.stack[frame.base+slot])

		case OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.base+slot] = vm.peek(0)

		case OpGetGlobal:
			name := readString()
			value, ok := vm.globals.Get(vm.heap, name)
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", vm.heap.str(name).Chars)
			}
			vm.push(value)

		case OpDefineGlobal:
			name := readString()
			vm.globals.Set(vm.heap, name, vm.peek(0))
			vm.pop()

		case OpSetGlobal:
			name := readString()
			if vm.globals.Set(vm.heap, name, vm.peek(0)) {
				// Assignment must not create globals; undo the insert.
				vm.globals.Delete(vm.heap, name)
				return vm.runtimeError("Undefined variable '%s'.", vm.heap.str(name).Chars)
			}

		case OpGetUpvalue:
			index := int(readByte())
			uv := vm.heap.upvalue(vm.heap.closure(frame.closure).Upvalues[index])
			if uv.Open {
				vm.push(vm.stack[uv.Slot])
			} else {
				vm.push(uv.Closed)
			}

		case OpSetUpvalue:
			index := int(readByte())
			uv := vm.heap.upvalue(vm.heap.closure(frame.closure).Upvalues[index])
			if uv.Open {
				vm.stack[uv.Slot] = vm.peek(0)
			} else {
				uv.Closed = vm.peek(0)
			}

		case OpGetProperty:
			receiver := vm.peek(0)
			instance, ok := vm.instanceAt(receiver)
			if !ok {
				return vm.runtimeError("Only instances have properties.")
			}
			name := readString()

			if value, found := instance.Fields.Get(vm.heap, name); found {
				vm.pop()
				vm.push(value)
				break
			}

			if err := vm.bindMethod(instance.Class, name); err != nil {
				return err
			}

		case OpSetProperty:
			instance, ok := vm.instanceAt(vm.peek(1))
			if !ok {
				return vm.runtimeError("Only instances have fields.")
			}
			name := readString()

			// Always writes the field, shadowing any same-named method.
			instance.Fields.Set(vm.heap, name, vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)

		case OpGetSuper:
			name := readString()
			superclass := vm.pop()
			if err := vm.bindMethod(superclass.Obj, name); err != nil {
				return err
			}

		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(BoolValue(Equal(a, b)))

		case OpGreater:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("Operands must be numbers.")
			}
			b := vm.pop().Num
			a := vm.pop().Num
			vm.push(BoolValue(a > b))

		case OpLess:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("Operands must be numbers.")
			}
			b := vm.pop().Num
			a := vm.pop().Num
			vm.push(BoolValue(a < b))

		case OpAdd:
			if vm.isString(vm.peek(0)) && vm.isString(vm.peek(1)) {
				vm.concatenate()
			} else if vm.peek(0).IsNumber() && vm.peek(1).IsNumber() {
				b := vm.pop().Num
				a := vm.pop().Num
				vm.push(NumberValue(a + b))
			} else {
				return vm.runtimeError("Operands must be two numbers or two strings.")
			}

		case OpSubtract:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("Operands must be numbers.")
			}
			b := vm.pop().Num
			a := vm.pop().Num
			vm.push(NumberValue(a - b))

		case OpMultiply:
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("Operands must be numbers.")
			}
			b := vm.pop().Num
			a := vm.pop().Num
			vm.push(NumberValue(a * b))

		case OpDivide:
			// Division by zero is left to IEEE-754: it yields an infinity
			// or NaN rather than an error.
			if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
				return vm.runtimeError("Operands must be numbers.")
			}
			b := vm.pop().Num
			a := vm.pop().Num
			vm.push(NumberValue(a / b))

		case OpNot:
			vm.push(BoolValue(!vm.pop().Truthy()))

		case OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(NumberValue(-vm.pop().Num))

		case OpPrint:
			fmt.Fprintln(vm.out, vm.heap.FormatValue(vm.pop()))

		case OpJump:
			offset := readShort()
			frame.ip += offset

		case OpJumpIfFalse:
			offset := readShort()
			if !vm.peek(0).Truthy() {
				frame.ip += offset
			}

		case OpLoop:
			offset := readShort()
			frame.ip -= offset

		case OpCall:
			argc := int(readByte())
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return err
			}
			refresh()

		case OpInvoke:
			name := readString()
			argc := int(readByte())
			if err := vm.invoke(name, argc); err != nil {
				return err
			}
			refresh()

		case OpSuperInvoke:
			name := readString()
			argc := int(readByte())
			superclass := vm.pop()
			if err := vm.invokeFromClass(superclass.Obj, name, argc); err != nil {
				return err
			}
			refresh()

		case OpClosure:
			function := readConstant()
			closure := vm.heap.NewClosure(function.Obj)
			vm.push(ObjectValue(closure))

			obj := vm.heap.closure(closure)
			for i := range obj.Upvalues {
				isLocal := readByte() != 0
				index := int(readByte())
				if isLocal {
					obj.Upvalues[i] = vm.captureUpvalue(frame.base + index)
				} else {
					obj.Upvalues[i] = vm.heap.closure(frame.closure).Upvalues[index]
				}
			}

		case OpCloseUpvalue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case OpClass:
			vm.push(ObjectValue(vm.heap.NewClass(readString())))

		case OpInherit:
			superclass := vm.peek(1)
			superObj, ok := vm.classAt(superclass)
			if !ok {
				return vm.runtimeError("Superclass must be a class.")
			}
			subObj, _ := vm.classAt(vm.peek(0))
			subObj.Methods.AddAll(vm.heap, &superObj.Methods)
			vm.pop()

		case OpMethod:
			name := readString()
			method := vm.peek(0)
			class, _ := vm.classAt(vm.peek(1))
			class.Methods.Set(vm.heap, name, method)
			vm.pop()

		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.base)
			vm.frameCount--
			if vm.frameCount == 0 {
				// Pop the script closure itself.
				vm.pop()
				return nil
			}
			vm.sp = frame.base
			vm.push(result)
			refresh()
		}
	}
}

func (vm *VM) isString(v Value) bool {
	if !v.IsObject() {
		return false
	}
	_, ok := vm.heap.Get(v.Obj).(*StringObject)
	return ok
}

func (vm *VM) instanceAt(v Value) (*InstanceObject, bool) {
	if !v.IsObject() {
		return nil, false
	}
	instance, ok := vm.heap.Get(v.Obj).(*InstanceObject)
	return instance, ok
}

func (vm *VM) classAt(v Value) (*ClassObject, bool) {
	if !v.IsObject() {
		return nil, false
	}
	class, ok := vm.heap.Get(v.Obj).(*ClassObject)
	return class, ok
}

// concatenate joins the two strings on top of the stack. Both operands
// stay on the stack until the result exists, keeping them visible to a
// collection triggered by the allocation.
func (vm *VM) concatenate() {
	b := vm.heap.str(vm.peek(0).Obj)
	a := vm.heap.str(vm.peek(1).Obj)
	result := vm.heap.InternString(a.Chars + b.Chars)
	vm.pop()
	vm.pop()
	vm.push(ObjectValue(result))
}
