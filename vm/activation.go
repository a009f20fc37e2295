package vm

// activation is one live execution of a BytecodeFunction (§4.5, §5): its
// value slots, its scratch memory (backing every alloca in this call),
// and whatever the running instructions have put there so far.
//
// There is no raw host-pointer arithmetic here: a TypePointer value is an
// offset into this activation's own scratch arena, not a real machine
// address. The host language gives up the ability to hand an interpreted
// pointer to outside code (no `alloca` result can be passed across an FFI
// boundary and dereferenced there), but that capability was never part of
// the bytecode's contract in the first place - external calls pass their
// own arguments by value through ExternalCallContext, not by aliasing VM
// memory.
type activation struct {
	fn      *BytecodeFunction
	values  []uint64 // values[0] is the reserved dummy slot for unused results
	scratch []byte
}

func newActivation(fn *BytecodeFunction, args []uint64) (*activation, error) {
	if len(args) != fn.numArguments {
		return nil, execError("function %s expects %d arguments, got %d", fn.name, fn.numArguments, len(args))
	}
	act := &activation{fn: fn, values: make([]uint64, fn.numValueSlots)}
	for i, c := range fn.constants {
		act.values[i+1] = c
	}
	argBase := len(fn.constants) + 1
	copy(act.values[argBase:], args)
	return act, nil
}

func (act *activation) getSlot(idx IndexT) (uint64, error) {
	if int(idx) >= len(act.values) {
		return 0, execError("slot %d out of range (function has %d slots)", idx, len(act.values))
	}
	return act.values[idx], nil
}

func (act *activation) setSlot(idx IndexT, v uint64) error {
	if idx == 0 {
		return nil
	}
	if int(idx) >= len(act.values) {
		return execError("slot %d out of range (function has %d slots)", idx, len(act.values))
	}
	act.values[idx] = v
	return nil
}

// alloc carves n fresh, zeroed bytes out of the activation's scratch
// arena and returns their offset - the pointer value alloca_fixed/
// alloca_array hand back (§4.5).
func (act *activation) alloc(n int) (uint64, error) {
	if n < 0 {
		return 0, execError("negative allocation size %d", n)
	}
	offset := uint64(len(act.scratch))
	act.scratch = append(act.scratch, make([]byte, n)...)
	return offset, nil
}

func (act *activation) boundsCheck(ptr uint64, n int) error {
	end := ptr + uint64(n)
	if n < 0 || end < ptr || end > uint64(len(act.scratch)) {
		return execError("memory access [%d,%d) out of bounds (scratch size %d)", ptr, end, len(act.scratch))
	}
	return nil
}

func (act *activation) readBytes(ptr uint64, n int) ([]byte, error) {
	if err := act.boundsCheck(ptr, n); err != nil {
		return nil, err
	}
	return act.scratch[ptr : ptr+uint64(n)], nil
}

func (act *activation) memcpy(dst, src uint64, n int) error {
	if err := act.boundsCheck(dst, n); err != nil {
		return err
	}
	if err := act.boundsCheck(src, n); err != nil {
		return err
	}
	// Go's builtin copy already has memmove semantics for overlapping
	// slices sharing one backing array, so memcpy and memmove share this.
	copy(act.scratch[dst:dst+uint64(n)], act.scratch[src:src+uint64(n)])
	return nil
}

func (act *activation) memset(dst uint64, val byte, n int) error {
	if err := act.boundsCheck(dst, n); err != nil {
		return err
	}
	buf := act.scratch[dst : dst+uint64(n)]
	for i := range buf {
		buf[i] = val
	}
	return nil
}

func (act *activation) callActivationFor(ctxIndex uint16) (*callActivation, error) {
	if int(ctxIndex) >= len(act.fn.externalCalls) {
		return nil, execError("external call context %d out of range", ctxIndex)
	}
	return buildCallActivation(&act.fn.externalCalls[ctxIndex], act)
}
