package bytecode

import "time"

// clockNative returns seconds since the VM started as a number. It is the
// one built-in installed at VM construction.
func clockNative(vm *VM, args []Value) Value {
	return NumberValue(time.Since(vm.started).Seconds())
}
