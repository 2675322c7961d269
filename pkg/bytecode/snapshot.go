package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// A snapshot is the portable form of a compiled function graph: everything
// a script function carries before it ever runs. Runtime-only kinds
// (closures, classes, instances, bound methods, natives) never appear in a
// constant pool and are rejected by the encoder.

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

const (
	snapNil uint8 = iota
	snapBool
	snapNumber
	snapString
	snapFunction
)

type snapshotValue struct {
	Kind uint8             `cbor:"kind"`
	Bool bool              `cbor:"bool,omitempty"`
	Num  float64           `cbor:"num,omitempty"`
	Str  string            `cbor:"str,omitempty"`
	Fn   *snapshotFunction `cbor:"fn,omitempty"`
}

type snapshotFunction struct {
	Name         string          `cbor:"name,omitempty"`
	Arity        int             `cbor:"arity"`
	UpvalueCount int             `cbor:"upvalues"`
	Code         []byte          `cbor:"code"`
	Lines        []int           `cbor:"lines"`
	Constants    []snapshotValue `cbor:"constants"`
}

// EncodeFunction serializes a compiled function graph to canonical CBOR.
func EncodeFunction(h *Heap, fn Handle) ([]byte, error) {
	root, err := snapshotFromFunction(h, fn)
	if err != nil {
		return nil, err
	}
	data, err := cborEncMode.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal snapshot: %w", err)
	}
	return data, nil
}

// DecodeFunction rebuilds a function graph in the given heap, re-interning
// every string so identity semantics hold in the target heap.
func DecodeFunction(h *Heap, data []byte) (Handle, error) {
	var root snapshotFunction
	if err := cbor.Unmarshal(data, &root); err != nil {
		return NilHandle, fmt.Errorf("bytecode: unmarshal snapshot: %w", err)
	}
	return functionFromSnapshot(h, &root)
}

func snapshotFromFunction(h *Heap, handle Handle) (*snapshotFunction, error) {
	fn, ok := h.Get(handle).(*FunctionObject)
	if !ok {
		return nil, fmt.Errorf("bytecode: handle %d is not a function", handle)
	}

	out := &snapshotFunction{
		Arity:        fn.Arity,
		UpvalueCount: fn.UpvalueCount,
		Code:         fn.Chunk.Code,
		Lines:        fn.Chunk.Lines,
	}
	if fn.Name != NilHandle {
		out.Name = h.str(fn.Name).Chars
	}

	for _, c := range fn.Chunk.Constants {
		sv, err := snapshotFromValue(h, c)
		if err != nil {
			return nil, err
		}
		out.Constants = append(out.Constants, sv)
	}
	return out, nil
}

func snapshotFromValue(h *Heap, v Value) (snapshotValue, error) {
	switch v.Kind {
	case ValNil:
		return snapshotValue{Kind: snapNil}, nil
	case ValBool:
		return snapshotValue{Kind: snapBool, Bool: v.B}, nil
	case ValNumber:
		return snapshotValue{Kind: snapNumber, Num: v.Num}, nil
	}

	switch obj := h.Get(v.Obj).(type) {
	case *StringObject:
		return snapshotValue{Kind: snapString, Str: obj.Chars}, nil
	case *FunctionObject:
		fn, err := snapshotFromFunction(h, v.Obj)
		if err != nil {
			return snapshotValue{}, err
		}
		return snapshotValue{Kind: snapFunction, Fn: fn}, nil
	default:
		return snapshotValue{}, fmt.Errorf("bytecode: %s constant cannot be snapshotted", h.Get(v.Obj).Kind())
	}
}

func functionFromSnapshot(h *Heap, sf *snapshotFunction) (Handle, error) {
	handle := h.NewFunction()
	// Keep the half-built function alive across the allocations below.
	h.Pin(handle)
	defer h.unpin(handle)

	fn := h.fun(handle)
	fn.Arity = sf.Arity
	fn.UpvalueCount = sf.UpvalueCount
	fn.Chunk.Code = append(fn.Chunk.Code, sf.Code...)
	fn.Chunk.Lines = append(fn.Chunk.Lines, sf.Lines...)
	if sf.Name != "" {
		fn.Name = h.InternString(sf.Name)
	}

	for i := range sf.Constants {
		v, err := valueFromSnapshot(h, &sf.Constants[i])
		if err != nil {
			return NilHandle, err
		}
		fn.Chunk.Constants = append(fn.Chunk.Constants, v)
	}
	return handle, nil
}

func valueFromSnapshot(h *Heap, sv *snapshotValue) (Value, error) {
	switch sv.Kind {
	case snapNil:
		return NilValue(), nil
	case snapBool:
		return BoolValue(sv.Bool), nil
	case snapNumber:
		return NumberValue(sv.Num), nil
	case snapString:
		return ObjectValue(h.InternString(sv.Str)), nil
	case snapFunction:
		if sv.Fn == nil {
			return NilValue(), fmt.Errorf("bytecode: function constant missing body")
		}
		fn, err := functionFromSnapshot(h, sv.Fn)
		if err != nil {
			return NilValue(), err
		}
		return ObjectValue(fn), nil
	default:
		return NilValue(), fmt.Errorf("bytecode: unknown snapshot value kind %d", sv.Kind)
	}
}
