package bytecode

import "fmt"

// FormatValue renders a value's printed form: the form the print statement
// writes and the REPL echoes.
func (h *Heap) FormatValue(v Value) string {
	switch v.Kind {
	case ValNil:
		return "nil"
	case ValBool:
		if v.B {
			return "true"
		}
		return "false"
	case ValNumber:
		return FormatNumber(v.Num)
	default:
		return h.formatObject(v.Obj)
	}
}

func (h *Heap) formatObject(handle Handle) string {
	switch obj := h.Get(handle).(type) {
	case *StringObject:
		return obj.Chars
	case *FunctionObject:
		return h.formatFunction(obj)
	case *ClosureObject:
		return h.formatFunction(h.fun(obj.Function))
	case *UpvalueObject:
		return "<upvalue>"
	case *NativeObject:
		return "<native>"
	case *ClassObject:
		return fmt.Sprintf("<class '%s'>", h.str(obj.Name).Chars)
	case *InstanceObject:
		return fmt.Sprintf("<'%s' object>", h.str(h.class(obj.Class).Name).Chars)
	case *BoundMethodObject:
		return h.formatFunction(h.fun(h.closure(obj.Method).Function))
	default:
		return "<object>"
	}
}

func (h *Heap) formatFunction(fn *FunctionObject) string {
	if fn.Name == NilHandle {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", h.str(fn.Name).Chars)
}
