package vm

import (
	"hash/crc32"
	"math"
	"os"
	"runtime/debug"
	"strconv"
)

// Execute runs bf to completion with the given arguments and returns its
// single uint64-encoded return value (§4.5, §6.2).
//
// The collector is disabled for the duration of the run: an activation's
// allocations (value slots, scratch bytes) are all reclaimed when it
// returns, so there's nothing for a mid-run collection to usefully free.
// GOGC is restored to its prior value afterward, the same way the
// original interpreter's top-level run loop did.
func Execute(bf *BytecodeFunction, args []uint64) (uint64, error) {
	gcPercent := 100
	if v, ok := os.LookupEnv("GOGC"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			gcPercent = n
		}
	}
	defer debug.SetGCPercent(gcPercent)
	debug.SetGCPercent(-1)
	return execFunction(bf, args)
}

func execFunction(bf *BytecodeFunction, args []uint64) (uint64, error) {
	act, err := newActivation(bf, args)
	if err != nil {
		return 0, err
	}
	return runActivation(bf, act)
}

// opHandler executes the instruction at ip and returns the instruction
// pointer to resume at, the function's return value (only meaningful when
// done is true), whether execution has finished, and any error.
type opHandler func(bf *BytecodeFunction, act *activation, ip InstructionPtr) (next InstructionPtr, ret uint64, done bool, err error)

var opcodeHandlers [int(opExplicitCallStart)]opHandler

func init() {
	for op := Opcode(1); op < opStructuralStart; op++ {
		if isOverflowOpcode(op) {
			opcodeHandlers[op] = handleOverflowArith
		} else {
			opcodeHandlers[op] = handleTypedArith
		}
	}
	opcodeHandlers[OpMov] = handleMov
	opcodeHandlers[OpRet] = handleRet
	opcodeHandlers[OpBranchUncond] = handleBranchUncond
	opcodeHandlers[OpBranchCond] = handleBranchCond
	opcodeHandlers[OpBranchCondFT] = handleBranchCondFT
	opcodeHandlers[OpSelect] = handleSelect
	opcodeHandlers[OpGepOffset] = handleGepOffset
	opcodeHandlers[OpAllocaFixed] = handleAllocaFixed
	opcodeHandlers[OpAllocaArray] = handleAllocaArray
	opcodeHandlers[OpExtractValue] = handleExtractValue
	opcodeHandlers[OpCallInternal] = handleCallInternal
	opcodeHandlers[OpCallExternal] = handleCallExternal
	opcodeHandlers[OpMemcpy] = handleMemcpy
	opcodeHandlers[OpMemmove] = handleMemmove
	opcodeHandlers[OpMemset] = handleMemset
	opcodeHandlers[OpCRC32] = handleCRC32
	opcodeHandlers[OpZExt] = handleCast
	opcodeHandlers[OpSExt] = handleCast
	opcodeHandlers[OpTrunc] = handleCast
	opcodeHandlers[OpFPExt] = handleCast
	opcodeHandlers[OpFPTrunc] = handleCast
	opcodeHandlers[OpFPToUI] = handleCast
	opcodeHandlers[OpFPToSI] = handleCast
	opcodeHandlers[OpUIToFP] = handleCast
	opcodeHandlers[OpSIToFP] = handleCast
	opcodeHandlers[OpTrap] = handleTrap
}

// runActivation is the threaded dispatch loop (§5): one jump-table lookup
// and one indirect call per instruction, no switch statement on the hot
// path.
func runActivation(bf *BytecodeFunction, act *activation) (uint64, error) {
	ip := bf.IPFromIndex(0)
	for {
		if !ip.valid() {
			return 0, execError("fell off the end of the bytecode stream at instruction %d", ip.IndexFromIP())
		}
		op := ip.slot().opcode()

		var h opHandler
		if int(op) < len(opcodeHandlers) {
			h = opcodeHandlers[op]
		}
		if h == nil {
			if _, ok := lookupExplicitCall(op); ok {
				h = execExplicitCall
			} else {
				return 0, execError("invalid opcode %d at instruction %d", op, ip.IndexFromIP())
			}
		}

		next, ret, done, err := h(bf, act, ip)
		if err != nil {
			return 0, err
		}
		if done {
			return ret, nil
		}
		ip = next
	}
}

func widthMaskFor(width int) uint64 { return widthMask(width * 8) }

func asF32(bits uint64) float32 { return math.Float32frombits(uint32(bits)) }
func asF64(bits uint64) float64 { return math.Float64frombits(bits) }
func f32Bits(f float32) uint64  { return uint64(math.Float32bits(f)) }
func f64Bits(f float64) uint64  { return math.Float64bits(f) }

func boolBits(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// handleTypedArith dispatches every typed opcode outside the overflow
// range; decodeTypedFast recovers which family/base/width it was
// generated from so a single handler can cover all 126 combinations.
func handleTypedArith(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	op := s.opcode()
	fam, base, width, isFloat, ok := decodeTypedFast(op)
	if !ok {
		return InstructionPtr{}, 0, false, execError("invalid typed opcode %d", op)
	}
	dst, lhsSlot, rhsSlot := s.arg(0), s.arg(1), s.arg(2)
	lhs, err := act.getSlot(lhsSlot)
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	rhs, err := act.getSlot(rhsSlot)
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}

	var result uint64
	switch fam {
	case famAll:
		result, err = evalAllTypes(allTypesBase(base), width, isFloat, lhs, rhs)
	case famInt:
		result, err = evalIntTypes(intTypesBase(base), width, lhs, rhs)
	case famFloat:
		result, err = evalFloatTypes(floatTypesBase(base), width, lhs, rhs)
	case famSize:
		return evalSizeTypes(bf, act, ip, sizeTypesBase(base), width, dst, lhsSlot, rhsSlot)
	}
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.setSlot(dst, result); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func evalAllTypes(base allTypesBase, width int, isFloat bool, lhs, rhs uint64) (uint64, error) {
	if isFloat {
		if width == 4 {
			a, b := asF32(lhs), asF32(rhs)
			switch base {
			case baseAdd:
				return f32Bits(a + b), nil
			case baseSub:
				return f32Bits(a - b), nil
			case baseMul:
				return f32Bits(a * b), nil
			case baseCmpEq:
				return boolBits(a == b), nil
			default:
				return boolBits(a != b), nil
			}
		}
		a, b := asF64(lhs), asF64(rhs)
		switch base {
		case baseAdd:
			return f64Bits(a + b), nil
		case baseSub:
			return f64Bits(a - b), nil
		case baseMul:
			return f64Bits(a * b), nil
		case baseCmpEq:
			return boolBits(a == b), nil
		default:
			return boolBits(a != b), nil
		}
	}
	mask := widthMaskFor(width)
	a, b := lhs&mask, rhs&mask
	switch base {
	case baseAdd:
		return (a + b) & mask, nil
	case baseSub:
		return (a - b) & mask, nil
	case baseMul:
		return (a * b) & mask, nil
	case baseCmpEq:
		return boolBits(a == b), nil
	default:
		return boolBits(a != b), nil
	}
}

func evalIntTypes(base intTypesBase, width int, lhs, rhs uint64) (uint64, error) {
	mask := widthMaskFor(width)
	a, b := lhs&mask, rhs&mask
	switch base {
	case baseAnd:
		return a & b, nil
	case baseOr:
		return a | b, nil
	case baseXor:
		return a ^ b, nil
	case baseShl:
		sh := uint(b) % uint(width*8)
		return (a << sh) & mask, nil
	case baseLShr:
		sh := uint(b) % uint(width*8)
		return a >> sh, nil
	case baseAShr:
		sh := uint(b) % uint(width*8)
		return uint64(signExtend(a, width*8)>>sh) & mask, nil
	case baseUDiv:
		if b == 0 {
			return 0, execError("integer division by zero")
		}
		return (a / b) & mask, nil
	case baseURem:
		if b == 0 {
			return 0, execError("integer division by zero")
		}
		return (a % b) & mask, nil
	case baseSDiv:
		if b == 0 {
			return 0, execError("integer division by zero")
		}
		sa, sb := signExtend(a, width*8), signExtend(b, width*8)
		if sb == -1 && sa == minForWidth(width*8) {
			return a, nil // wraps: MIN / -1 == MIN
		}
		return uint64(sa/sb) & mask, nil
	case baseSRem:
		if b == 0 {
			return 0, execError("integer division by zero")
		}
		sa, sb := signExtend(a, width*8), signExtend(b, width*8)
		if sb == -1 && sa == minForWidth(width*8) {
			return 0, nil
		}
		return uint64(sa%sb) & mask, nil
	case baseCmpULT:
		return boolBits(a < b), nil
	case baseCmpULE:
		return boolBits(a <= b), nil
	case baseCmpUGT:
		return boolBits(a > b), nil
	case baseCmpUGE:
		return boolBits(a >= b), nil
	case baseCmpSLT:
		return boolBits(signExtend(a, width*8) < signExtend(b, width*8)), nil
	case baseCmpSLE:
		return boolBits(signExtend(a, width*8) <= signExtend(b, width*8)), nil
	case baseCmpSGT:
		return boolBits(signExtend(a, width*8) > signExtend(b, width*8)), nil
	case baseCmpSGE:
		return boolBits(signExtend(a, width*8) >= signExtend(b, width*8)), nil
	default:
		return 0, execError("overflow opcode reached the non-overflow handler")
	}
}

func minForWidth(width int) int64 {
	if width >= 64 {
		return math.MinInt64
	}
	return -(int64(1) << (width - 1))
}

func evalFloatTypes(base floatTypesBase, width int, lhs, rhs uint64) (uint64, error) {
	if width == 4 {
		a, b := asF32(lhs), asF32(rhs)
		switch base {
		case baseFDiv:
			return f32Bits(a / b), nil
		case baseFRem:
			return f32Bits(float32(math.Mod(float64(a), float64(b)))), nil
		case baseCmpOLT:
			return boolBits(a < b), nil
		case baseCmpOLE:
			return boolBits(a <= b), nil
		case baseCmpOGT:
			return boolBits(a > b), nil
		default:
			return boolBits(a >= b), nil
		}
	}
	a, b := asF64(lhs), asF64(rhs)
	switch base {
	case baseFDiv:
		return f64Bits(a / b), nil
	case baseFRem:
		return f64Bits(math.Mod(a, b)), nil
	case baseCmpOLT:
		return boolBits(a < b), nil
	case baseCmpOLE:
		return boolBits(a <= b), nil
	case baseCmpOGT:
		return boolBits(a > b), nil
	default:
		return boolBits(a >= b), nil
	}
}

func evalSizeTypes(bf *BytecodeFunction, act *activation, ip InstructionPtr, base sizeTypesBase, width int, dst, arg1, arg2 uint16) (InstructionPtr, uint64, bool, error) {
	switch base {
	case baseLoad:
		ptr, err := act.getSlot(arg1)
		if err != nil {
			return InstructionPtr{}, 0, false, err
		}
		buf, err := act.readBytes(ptr, width)
		if err != nil {
			return InstructionPtr{}, 0, false, err
		}
		var v uint64
		for i := 0; i < width; i++ {
			v |= uint64(buf[i]) << (8 * i)
		}
		if err := act.setSlot(dst, v); err != nil {
			return InstructionPtr{}, 0, false, err
		}
	case baseStore:
		ptr, err := act.getSlot(dst)
		if err != nil {
			return InstructionPtr{}, 0, false, err
		}
		val, err := act.getSlot(arg1)
		if err != nil {
			return InstructionPtr{}, 0, false, err
		}
		buf, err := act.readBytes(ptr, width)
		if err != nil {
			return InstructionPtr{}, 0, false, err
		}
		for i := 0; i < width; i++ {
			buf[i] = byte(val >> (8 * i))
		}
	default: // baseGepArray
		base, err := act.getSlot(arg1)
		if err != nil {
			return InstructionPtr{}, 0, false, err
		}
		idx, err := act.getSlot(arg2)
		if err != nil {
			return InstructionPtr{}, 0, false, err
		}
		if err := act.setSlot(dst, base+idx*uint64(width)); err != nil {
			return InstructionPtr{}, 0, false, err
		}
	}
	return bf.Advance(ip), 0, false, nil
}

func handleOverflowArith(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	op := s.opcode()
	_, base, width, _, ok := decodeTypedFast(op)
	if !ok {
		return InstructionPtr{}, 0, false, execError("invalid overflow opcode %d", op)
	}
	aSlot, bSlot, resultSlot := s.arg(0), s.arg(1), s.arg(2)
	flagSlot := uint16(bf.bytecode[int(ip.idx)+1] & 0xFFFF)

	a, err := act.getSlot(aSlot)
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	b, err := act.getSlot(bSlot)
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}

	var ovfOp OverflowOp
	var signed bool
	switch intTypesBase(base) {
	case baseOverflowAddU:
		ovfOp, signed = OverflowAdd, false
	case baseOverflowAddS:
		ovfOp, signed = OverflowAdd, true
	case baseOverflowSubU:
		ovfOp, signed = OverflowSub, false
	case baseOverflowSubS:
		ovfOp, signed = OverflowSub, true
	case baseOverflowMulU:
		ovfOp, signed = OverflowMul, false
	default:
		ovfOp, signed = OverflowMul, true
	}
	result, overflowed := checkedOverflow(ovfOp, signed, width*8, a, b)
	if err := act.setSlot(resultSlot, result); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.setSlot(flagSlot, boolBits(overflowed)); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleMov(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	v, err := act.getSlot(s.arg(1))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.setSlot(s.arg(0), v); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleRet(_ *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	if s.arg(0) == 0 {
		return InstructionPtr{}, 0, true, nil
	}
	v, err := act.getSlot(s.arg(1))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return InstructionPtr{}, v, true, nil
}

func handleBranchUncond(bf *BytecodeFunction, _ *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	return bf.IPFromIndex(ip.slot().arg(0)), 0, false, nil
}

func handleBranchCond(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	c, err := act.getSlot(s.arg(0))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if c != 0 {
		return bf.IPFromIndex(s.arg(1)), 0, false, nil
	}
	return bf.IPFromIndex(s.arg(2)), 0, false, nil
}

func handleBranchCondFT(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	c, err := act.getSlot(s.arg(0))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if c != 0 {
		return bf.IPFromIndex(s.arg(1)), 0, false, nil
	}
	return bf.Advance(ip), 0, false, nil
}

func handleSelect(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	dst := uint16(bf.bytecode[int(ip.idx)+1] & 0xFFFF)
	c, err := act.getSlot(s.arg(0))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	srcSlot := s.arg(2)
	if c != 0 {
		srcSlot = s.arg(1)
	}
	v, err := act.getSlot(srcSlot)
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.setSlot(dst, v); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleGepOffset(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	base, err := act.getSlot(s.arg(1))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.setSlot(s.arg(0), base+uint64(s.arg(2))); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleAllocaFixed(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	ptr, err := act.alloc(int(s.arg(1)))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.setSlot(s.arg(0), ptr); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleAllocaArray(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	count, err := act.getSlot(s.arg(2))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	ptr, err := act.alloc(int(s.arg(1)) * int(count))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.setSlot(s.arg(0), ptr); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleExtractValue(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	src, err := act.getSlot(s.arg(1))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.setSlot(s.arg(0), src>>uint(s.arg(2))); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleCallInternal(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	info := bf.Decode(ip)
	subIdx, dst, numArgs := info.Args[0], info.Args[1], info.Args[2]
	if int(subIdx) >= len(bf.subFunctions) {
		return InstructionPtr{}, 0, false, execError("sub-function %d out of range", subIdx)
	}
	sub := bf.subFunctions[subIdx]
	argSlots := info.Args[3:]
	if int(numArgs) != len(argSlots) {
		return InstructionPtr{}, 0, false, execError("call_internal argument count mismatch")
	}
	argVals := make([]uint64, len(argSlots))
	for i, slot := range argSlots {
		v, err := act.getSlot(slot)
		if err != nil {
			return InstructionPtr{}, 0, false, err
		}
		argVals[i] = v
	}
	ret, err := execFunction(sub, argVals)
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.setSlot(dst, ret); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleCallExternal(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	ctxIndex := ip.slot().arg(0)
	ca, err := act.callActivationFor(ctxIndex)
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	ret, err := ca.invoke()
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.setSlot(ca.ctx.DestSlot, ret); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func execExplicitCall(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	entry, ok := lookupExplicitCall(ip.slot().opcode())
	if !ok {
		return InstructionPtr{}, 0, false, execError("explicit call opcode %d is not registered", ip.slot().opcode())
	}
	info := bf.Decode(ip)
	dst, numArgs := info.Args[1], info.Args[2]
	argSlots := info.Args[3:]
	if int(numArgs) != len(argSlots) {
		return InstructionPtr{}, 0, false, execError("%s argument count mismatch", entry.describe())
	}
	argVals := make([]uint64, len(argSlots))
	for i, slot := range argSlots {
		v, err := act.getSlot(slot)
		if err != nil {
			return InstructionPtr{}, 0, false, err
		}
		argVals[i] = v
	}
	ret := entry.fn(argVals)
	if err := act.setSlot(dst, ret); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleMemcpy(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	return memIntrinsic(bf, act, ip, true)
}

func handleMemmove(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	return memIntrinsic(bf, act, ip, true)
}

func memIntrinsic(bf *BytecodeFunction, act *activation, ip InstructionPtr, _ bool) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	dst, err := act.getSlot(s.arg(0))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	src, err := act.getSlot(s.arg(1))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	length, err := act.getSlot(s.arg(2))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.memcpy(dst, src, int(length)); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleMemset(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	dst, err := act.getSlot(s.arg(0))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	val, err := act.getSlot(s.arg(1))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	length, err := act.getSlot(s.arg(2))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	if err := act.memset(dst, byte(val), int(length)); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

// handleCRC32 restores the sse4.2 crc32 intrinsic the original codegen
// could emit directly as a CPU instruction; Go has no such intrinsic, so
// it's implemented portably with the standard library's crc32 tables
// (§9, SPEC_FULL supplemented feature).
func handleCRC32(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	length := uint16(bf.bytecode[int(ip.idx)+1] & 0xFFFF)
	seed, err := act.getSlot(s.arg(1))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	ptr, err := act.getSlot(s.arg(2))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	lengthVal, err := act.getSlot(length)
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	data, err := act.readBytes(ptr, int(lengthVal))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	result := crc32.Update(uint32(seed), crc32.IEEETable, data)
	if err := act.setSlot(s.arg(0), uint64(result)); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func handleCast(bf *BytecodeFunction, act *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	s := ip.slot()
	op := s.opcode()
	src, err := act.getSlot(s.arg(1))
	if err != nil {
		return InstructionPtr{}, 0, false, err
	}
	packed := s.arg(2)
	srcW, dstW := int(packed>>8), int(packed&0xFF)

	var result uint64
	switch op {
	case OpZExt:
		result = src & widthMaskFor(srcW)
	case OpSExt:
		result = uint64(signExtend(src, srcW*8)) & widthMaskFor(dstW)
	case OpTrunc:
		result = src & widthMaskFor(dstW)
	case OpFPExt:
		result = f64Bits(float64(asF32(src)))
	case OpFPTrunc:
		result = f32Bits(float32(asF64(src)))
	case OpFPToUI:
		f := floatFromWidth(src, srcW)
		result = uint64(f) & widthMaskFor(dstW)
	case OpFPToSI:
		f := floatFromWidth(src, srcW)
		result = uint64(int64(f)) & widthMaskFor(dstW)
	case OpUIToFP:
		u := src & widthMaskFor(srcW)
		result = floatToWidth(float64(u), dstW)
	case OpSIToFP:
		si := signExtend(src, srcW*8)
		result = floatToWidth(float64(si), dstW)
	default:
		return InstructionPtr{}, 0, false, execError("invalid cast opcode %d", op)
	}
	if err := act.setSlot(s.arg(0), result); err != nil {
		return InstructionPtr{}, 0, false, err
	}
	return bf.Advance(ip), 0, false, nil
}

func floatFromWidth(bits uint64, width int) float64 {
	if width == 4 {
		return float64(asF32(bits))
	}
	return asF64(bits)
}

func floatToWidth(v float64, width int) uint64 {
	if width == 4 {
		return f32Bits(float32(v))
	}
	return f64Bits(v)
}

func handleTrap(_ *BytecodeFunction, _ *activation, ip InstructionPtr) (InstructionPtr, uint64, bool, error) {
	return InstructionPtr{}, 0, false, execError("reached unreachable instruction at %d", ip.IndexFromIP())
}
