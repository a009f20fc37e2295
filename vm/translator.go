package vm

// translator walks a function's basic blocks in RPO and emits the linear
// bytecode stream the allocator's slot assignment makes possible (§4.3).
type translator struct {
	a     *analysis
	alloc *allocation
	fn    *Function

	captureDebug bool

	code          []instrSlot
	blockStart    map[BlockID]IndexT
	pending       []pendingBranch
	externalCalls []ExternalCallContext
	subFunctions  []*BytecodeFunction
	subFuncIndex  map[*Function]int
	annotations   map[IndexT]string

	numValueSlots int
}

// pendingBranch is a forward branch target awaiting relocation once every
// block's start index is known.
type pendingBranch struct {
	slotIdx IndexT
	argPos  int // 0, 1 or 2 within the slot
	target  BlockID
}

func newTranslator(a *analysis, alloc *allocation, fn *Function, captureDebug bool) *translator {
	return &translator{
		a:             a,
		alloc:         alloc,
		fn:            fn,
		captureDebug:  captureDebug,
		blockStart:    make(map[BlockID]IndexT, len(fn.Blocks)),
		subFuncIndex:  make(map[*Function]int),
		annotations:   make(map[IndexT]string),
		numValueSlots: alloc.numValueSlots,
	}
}

func (t *translator) freshTemp() (IndexT, error) {
	if t.numValueSlots > maxIndex {
		return 0, notSupported("function requires more than %d value slots", maxIndex+1)
	}
	slot := IndexT(t.numValueSlots)
	t.numValueSlots++
	return slot, nil
}

func (t *translator) slotFor(op Operand) (IndexT, error) {
	if op.IsConst {
		vidx, ok := t.a.constOf[op.ConstBits]
		if !ok {
			return 0, notSupported("constant not registered during analysis")
		}
		return t.alloc.slotOf[vidx], nil
	}
	vidx, ok := t.a.valueOf[op.Value]
	if !ok {
		return 0, notSupported("value %d not registered during analysis", op.Value)
	}
	return t.alloc.slotOf[vidx], nil
}

func (t *translator) dstSlot(v Value) (IndexT, error) {
	if v.ID == 0 {
		return 0, nil
	}
	vidx, ok := t.a.valueOf[v.ID]
	if !ok {
		return 0, notSupported("value %d not registered during analysis", v.ID)
	}
	return t.alloc.slotOf[vidx], nil
}

func (t *translator) emit(op Opcode, a0, a1, a2 uint16) IndexT {
	idx := IndexT(len(t.code))
	t.code = append(t.code, packSlot(op, a0, a1, a2))
	return idx
}

func (t *translator) emitExtra(extra uint16) {
	t.code = append(t.code, instrSlot(extra))
}

func pack4(a, b, c, d uint16) instrSlot {
	return instrSlot(a) | instrSlot(b)<<16 | instrSlot(c)<<32 | instrSlot(d)<<48
}

func packWidths(srcBytes, dstBytes int) uint16 {
	return uint16(srcBytes)<<8 | uint16(dstBytes)
}

func (t *translator) annotate(idx IndexT, text string) {
	if t.captureDebug && text != "" {
		t.annotations[idx] = text
	}
}

// translate is the Translator entry point: it produces the flat bytecode
// stream, the deferred external-call contexts, and any internal-call
// sub-functions, leaving slot/constant bookkeeping to the caller (§4.3).
func translate(a *analysis, alloc *allocation, fn *Function, captureDebug bool) (*translator, error) {
	t := newTranslator(a, alloc, fn, captureDebug)

	for i, id := range a.rpo {
		b := fn.block(id)
		t.blockStart[id] = IndexT(len(t.code))

		for _, inst := range b.Insts {
			if isNoOpMerge(inst) {
				continue
			}
			if err := t.translateInst(inst); err != nil {
				return nil, err
			}
		}

		nextID, hasNext := BlockID(0), false
		if i+1 < len(a.rpo) {
			nextID, hasNext = a.rpo[i+1], true
		}
		if err := t.translatePhisAndTerminator(b, hasNext, nextID); err != nil {
			return nil, err
		}
	}

	for _, pb := range t.pending {
		target, ok := t.blockStart[pb.target]
		if !ok {
			return nil, notSupported("branch to unknown block %d", pb.target)
		}
		slot := t.code[pb.slotIdx]
		shift := 16 * (1 + pb.argPos)
		mask := instrSlot(0xFFFF) << shift
		slot = (slot &^ mask) | (instrSlot(target) << shift)
		t.code[pb.slotIdx] = slot
	}

	return t, nil
}

func (t *translator) translateInst(inst *Inst) error {
	startIdx := IndexT(len(t.code))
	defer func() { t.annotate(startIdx, inst.Annotation) }()

	switch inst.Op {
	case OpAdd, OpSub, OpMul, OpFAdd, OpFSub, OpFMul:
		return t.translateAllTypesBinary(inst)
	case OpUDiv, OpSDiv, OpURem, OpSRem, OpAnd, OpOr, OpXor, OpShl, OpLShr, OpAShr:
		return t.translateIntBinary(inst)
	case OpFDiv, OpFRem:
		return t.translateFloatBinary(inst)
	case OpICmp, OpFCmp:
		return t.translateCompare(inst)
	case OpLoad:
		return t.translateLoad(inst)
	case OpStore:
		return t.translateStore(inst)
	case OpAlloca:
		return t.translateAlloca(inst)
	case OpGetElementPtr:
		return t.translateGEP(inst)
	case OpZExt, OpSExt, OpTrunc, OpFPExt, OpFPTrunc, OpFPToUI, OpFPToSI, OpUIToFP, OpSIToFP:
		return t.translateCast(inst)
	case OpSelect:
		return t.translateSelect(inst)
	case OpExtractValue:
		return t.translateExtractValue(inst)
	case OpCall:
		return t.translateCall(inst)
	default:
		return notSupported("unsupported IR opcode %d", inst.Op)
	}
}

func (t *translator) translateAllTypesBinary(inst *Inst) error {
	var base allTypesBase
	switch inst.Op {
	case OpAdd, OpFAdd:
		base = baseAdd
	case OpSub, OpFSub:
		base = baseSub
	default:
		base = baseMul
	}
	op, ok := allTypesOpcode(base, inst.Dst.Type)
	if !ok {
		return notSupported("type %s not valid for arithmetic", inst.Dst.Type)
	}
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	lhs, err := t.slotFor(inst.Operands[0])
	if err != nil {
		return err
	}
	rhs, err := t.slotFor(inst.Operands[1])
	if err != nil {
		return err
	}
	t.emit(op, dst, lhs, rhs)
	return nil
}

var intBinaryBase = map[IROp]intTypesBase{
	OpUDiv: baseUDiv, OpSDiv: baseSDiv, OpURem: baseURem, OpSRem: baseSRem,
	OpAnd: baseAnd, OpOr: baseOr, OpXor: baseXor,
	OpShl: baseShl, OpLShr: baseLShr, OpAShr: baseAShr,
}

func (t *translator) translateIntBinary(inst *Inst) error {
	base := intBinaryBase[inst.Op]
	op, ok := intTypesOpcode(base, inst.Dst.Type)
	if !ok {
		return notSupported("type %s not valid for integer operation", inst.Dst.Type)
	}
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	lhs, err := t.slotFor(inst.Operands[0])
	if err != nil {
		return err
	}
	rhs, err := t.slotFor(inst.Operands[1])
	if err != nil {
		return err
	}
	t.emit(op, dst, lhs, rhs)
	return nil
}

func (t *translator) translateFloatBinary(inst *Inst) error {
	base := baseFDiv
	if inst.Op == OpFRem {
		base = baseFRem
	}
	op, ok := floatTypesOpcode(base, inst.Dst.Type)
	if !ok {
		return notSupported("type %s not valid for float operation", inst.Dst.Type)
	}
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	lhs, err := t.slotFor(inst.Operands[0])
	if err != nil {
		return err
	}
	rhs, err := t.slotFor(inst.Operands[1])
	if err != nil {
		return err
	}
	t.emit(op, dst, lhs, rhs)
	return nil
}

func (t *translator) translateCompare(inst *Inst) error {
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	lhs, err := t.slotFor(inst.Operands[0])
	if err != nil {
		return err
	}
	rhs, err := t.slotFor(inst.Operands[1])
	if err != nil {
		return err
	}
	operandType := inst.SrcType

	var op Opcode
	var ok bool
	switch inst.Predicate {
	case PredEQ:
		op, ok = allTypesOpcode(baseCmpEq, operandType)
	case PredNE:
		op, ok = allTypesOpcode(baseCmpNe, operandType)
	case PredULT:
		op, ok = intTypesOpcode(baseCmpULT, operandType)
	case PredULE:
		op, ok = intTypesOpcode(baseCmpULE, operandType)
	case PredUGT:
		op, ok = intTypesOpcode(baseCmpUGT, operandType)
	case PredUGE:
		op, ok = intTypesOpcode(baseCmpUGE, operandType)
	case PredSLT:
		op, ok = intTypesOpcode(baseCmpSLT, operandType)
	case PredSLE:
		op, ok = intTypesOpcode(baseCmpSLE, operandType)
	case PredSGT:
		op, ok = intTypesOpcode(baseCmpSGT, operandType)
	case PredSGE:
		op, ok = intTypesOpcode(baseCmpSGE, operandType)
	case PredOLT:
		op, ok = floatTypesOpcode(baseCmpOLT, operandType)
	case PredOLE:
		op, ok = floatTypesOpcode(baseCmpOLE, operandType)
	case PredOGT:
		op, ok = floatTypesOpcode(baseCmpOGT, operandType)
	case PredOGE:
		op, ok = floatTypesOpcode(baseCmpOGE, operandType)
	default:
		return notSupported("unknown predicate %d", inst.Predicate)
	}
	if !ok {
		return notSupported("type %s not valid for predicate %d", operandType, inst.Predicate)
	}
	t.emit(op, dst, lhs, rhs)
	return nil
}

func (t *translator) translateLoad(inst *Inst) error {
	op, ok := sizeTypesOpcode(baseLoad, inst.ResultType.ByteSize())
	if !ok {
		return notSupported("load width %d not supported", inst.ResultType.ByteSize())
	}
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	ptr, err := t.slotFor(inst.Operands[0])
	if err != nil {
		return err
	}
	t.emit(op, dst, ptr, 0)
	return nil
}

func (t *translator) translateStore(inst *Inst) error {
	op, ok := sizeTypesOpcode(baseStore, inst.ResultType.ByteSize())
	if !ok {
		return notSupported("store width %d not supported", inst.ResultType.ByteSize())
	}
	ptr, err := t.slotFor(inst.Operands[0])
	if err != nil {
		return err
	}
	val, err := t.slotFor(inst.Operands[1])
	if err != nil {
		return err
	}
	t.emit(op, ptr, val, 0)
	return nil
}

func (t *translator) translateAlloca(inst *Inst) error {
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	if inst.ElemBytes < 0 || inst.ElemBytes > maxIndex {
		return notSupported("alloca element size %d out of range", inst.ElemBytes)
	}
	if inst.Count == nil {
		t.emit(OpAllocaFixed, dst, uint16(inst.ElemBytes), 0)
		return nil
	}
	count, err := t.slotFor(*inst.Count)
	if err != nil {
		return err
	}
	t.emit(OpAllocaArray, dst, uint16(inst.ElemBytes), count)
	return nil
}

// translateGEP expands a non-trivial getelementptr into a chain of
// gep_offset/gep_array steps (§4.1, §4.3); the all-zero-index case never
// reaches here because isNoOpMerge aliases it away during the main walk.
func (t *translator) translateGEP(inst *Inst) error {
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	base, err := t.slotFor(inst.GEPBase)
	if err != nil {
		return err
	}

	type step struct {
		constOffset int64
		dyn         *GEPDynIndex
	}
	var steps []step
	if inst.GEPConstOffset != 0 {
		steps = append(steps, step{constOffset: inst.GEPConstOffset})
	}
	for i := range inst.GEPDynIndices {
		steps = append(steps, step{dyn: &inst.GEPDynIndices[i]})
	}
	if len(steps) == 0 {
		// Defensive: should have been caught by isNoOpMerge.
		t.emit(OpMov, dst, base, 0)
		return nil
	}

	cur := base
	for i, s := range steps {
		out := dst
		if i != len(steps)-1 {
			out, err = t.freshTemp()
			if err != nil {
				return err
			}
		}
		if s.dyn == nil {
			if s.constOffset < 0 || s.constOffset > int64(maxIndex) {
				return notSupported("gep constant offset %d exceeds immediate encoding", s.constOffset)
			}
			t.emit(OpGepOffset, out, cur, uint16(s.constOffset))
		} else {
			op, ok := sizeTypesOpcode(baseGepArray, s.dyn.ElemSizeBytes)
			if !ok {
				return notSupported("gep element size %d not supported", s.dyn.ElemSizeBytes)
			}
			idxSlot, err := t.slotFor(s.dyn.Index)
			if err != nil {
				return err
			}
			t.emit(op, out, cur, idxSlot)
		}
		cur = out
	}
	return nil
}

var castOpcode = map[IROp]Opcode{
	OpZExt: OpZExt, OpSExt: OpSExt, OpTrunc: OpTrunc,
	OpFPExt: OpFPExt, OpFPTrunc: OpFPTrunc,
	OpFPToUI: OpFPToUI, OpFPToSI: OpFPToSI,
	OpUIToFP: OpUIToFP, OpSIToFP: OpSIToFP,
}

func (t *translator) translateCast(inst *Inst) error {
	op, ok := castOpcode[inst.Op]
	if !ok {
		return notSupported("unsupported cast op %d", inst.Op)
	}
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	src, err := t.slotFor(inst.Operands[0])
	if err != nil {
		return err
	}
	t.emit(op, dst, src, packWidths(inst.SrcType.ByteSize(), inst.ResultType.ByteSize()))
	return nil
}

func (t *translator) translateSelect(inst *Inst) error {
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	cond, err := t.slotFor(inst.Operands[0])
	if err != nil {
		return err
	}
	trueVal, err := t.slotFor(inst.Operands[1])
	if err != nil {
		return err
	}
	falseVal, err := t.slotFor(inst.Operands[2])
	if err != nil {
		return err
	}
	t.emit(OpSelect, cond, trueVal, falseVal)
	t.emitExtra(dst)
	return nil
}

func (t *translator) translateExtractValue(inst *Inst) error {
	if inst.ResultType == TypeAggregate || inst.ResultType.ByteSize() == 0 || inst.ResultType.ByteSize() > 8 {
		return notSupported("extractvalue result type %s does not fit in a slot", inst.ResultType)
	}
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	src, err := t.slotFor(inst.Operands[0])
	if err != nil {
		return err
	}
	if inst.ExtractOffsetBits < 0 || inst.ExtractOffsetBits > maxIndex {
		return notSupported("extractvalue offset %d out of range", inst.ExtractOffsetBits)
	}
	t.emit(OpExtractValue, dst, src, uint16(inst.ExtractOffsetBits))
	return nil
}

func (t *translator) translateCall(inst *Inst) error {
	c := inst.Call
	switch c.Kind {
	case CallExternal:
		return t.translateExternalCall(inst, c)
	case CallInternal:
		return t.translateInternalCall(inst, c)
	case CallExplicit:
		return t.translateExplicitCall(inst, c)
	case CallIntrinsicMemcpy:
		return t.translateMemIntrinsic(OpMemcpy, c)
	case CallIntrinsicMemmove:
		return t.translateMemIntrinsic(OpMemmove, c)
	case CallIntrinsicMemset:
		return t.translateMemIntrinsic(OpMemset, c)
	case CallIntrinsicOverflow:
		return t.translateOverflow(c)
	case CallIntrinsicCRC32:
		return t.translateCRC32(inst, c)
	default:
		return notSupported("unknown call kind %d", c.Kind)
	}
}

func (t *translator) translateExternalCall(inst *Inst, c *CallInst) error {
	binding, ok := t.fn.Context.Externals[c.ExternalName]
	if !ok {
		return notSupported("external function %q is not bound", c.ExternalName)
	}
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	argSlots := make([]IndexT, len(c.Args))
	for i, a := range c.Args {
		s, err := t.slotFor(a)
		if err != nil {
			return err
		}
		argSlots[i] = s
	}
	ctx := ExternalCallContext{
		Name:     c.ExternalName,
		DestSlot: dst,
		RetType:  c.ExternalRetType,
		ArgSlots: argSlots,
		ArgTypes: c.ExternalArgTypes,
		Binding:  binding,
	}
	index := len(t.externalCalls)
	if index > maxIndex {
		return notSupported("too many external call sites")
	}
	t.externalCalls = append(t.externalCalls, ctx)
	t.emit(OpCallExternal, uint16(index), 0, 0)
	t.emitExtra(0)
	return nil
}

func (t *translator) translateInternalCall(inst *Inst, c *CallInst) error {
	subIdx, ok := t.subFuncIndex[c.InternalFunction]
	if !ok {
		sub, err := Build(c.InternalFunction, WithAllocator(AllocatorGreedy), withDebugSymbols(t.captureDebug))
		if err != nil {
			return err
		}
		subIdx = len(t.subFunctions)
		t.subFuncIndex[c.InternalFunction] = subIdx
		t.subFunctions = append(t.subFunctions, sub)
	}
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	return t.emitVariableLengthCall(OpCallInternal, uint16(subIdx), dst, c.Args)
}

func (t *translator) translateExplicitCall(inst *Inst, c *CallInst) error {
	op, ok := explicitCallOpcode(c.ExplicitName)
	if !ok {
		return notSupported("explicit call %q was never registered", c.ExplicitName)
	}
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	return t.emitVariableLengthCall(op, 0, dst, c.Args)
}

// emitVariableLengthCall emits call_internal / explicit-call's shared
// encoding: slot 0 is [op][tag][destSlot][numArgs], followed by ceil(n/4)
// slots each packing four argument-slot indices (§4.4).
func (t *translator) emitVariableLengthCall(op Opcode, tag uint16, dst IndexT, args []Operand) error {
	if len(args) > maxIndex {
		return notSupported("call has too many arguments")
	}
	argSlots := make([]uint16, len(args))
	for i, a := range args {
		s, err := t.slotFor(a)
		if err != nil {
			return err
		}
		argSlots[i] = s
	}
	t.emit(op, tag, dst, uint16(len(argSlots)))
	for i := 0; i < len(argSlots); i += 4 {
		var a, b, c, d uint16
		a = argSlots[i]
		if i+1 < len(argSlots) {
			b = argSlots[i+1]
		}
		if i+2 < len(argSlots) {
			c = argSlots[i+2]
		}
		if i+3 < len(argSlots) {
			d = argSlots[i+3]
		}
		t.code = append(t.code, pack4(a, b, c, d))
	}
	return nil
}

func (t *translator) translateMemIntrinsic(op Opcode, c *CallInst) error {
	if len(c.Args) != 3 {
		return notSupported("%s expects 3 arguments, got %d", op, len(c.Args))
	}
	a0, err := t.slotFor(c.Args[0])
	if err != nil {
		return err
	}
	a1, err := t.slotFor(c.Args[1])
	if err != nil {
		return err
	}
	a2, err := t.slotFor(c.Args[2])
	if err != nil {
		return err
	}
	t.emit(op, a0, a1, a2)
	return nil
}

func (t *translator) translateOverflow(c *CallInst) error {
	if c.OverflowUnused {
		return nil
	}
	var base intTypesBase
	switch {
	case c.OverflowOp == OverflowAdd && !c.OverflowSigned:
		base = baseOverflowAddU
	case c.OverflowOp == OverflowAdd && c.OverflowSigned:
		base = baseOverflowAddS
	case c.OverflowOp == OverflowSub && !c.OverflowSigned:
		base = baseOverflowSubU
	case c.OverflowOp == OverflowSub && c.OverflowSigned:
		base = baseOverflowSubS
	case c.OverflowOp == OverflowMul && !c.OverflowSigned:
		base = baseOverflowMulU
	default:
		base = baseOverflowMulS
	}
	op, ok := intTypesOpcode(base, c.OverflowType)
	if !ok {
		return notSupported("type %s not valid for overflow arithmetic", c.OverflowType)
	}
	if len(c.Args) != 2 {
		return notSupported("overflow intrinsic expects 2 arguments")
	}
	a, err := t.slotFor(c.Args[0])
	if err != nil {
		return err
	}
	b, err := t.slotFor(c.Args[1])
	if err != nil {
		return err
	}
	result, err := t.dstSlot(c.OverflowResult)
	if err != nil {
		return err
	}
	flag, err := t.dstSlot(c.OverflowFlag)
	if err != nil {
		return err
	}
	t.emit(op, a, b, result)
	t.emitExtra(flag)
	return nil
}

func (t *translator) translateCRC32(inst *Inst, c *CallInst) error {
	if len(c.Args) != 3 {
		return notSupported("crc32 intrinsic expects 3 arguments")
	}
	dst, err := t.dstSlot(inst.Dst)
	if err != nil {
		return err
	}
	seed, err := t.slotFor(c.Args[0])
	if err != nil {
		return err
	}
	ptr, err := t.slotFor(c.Args[1])
	if err != nil {
		return err
	}
	length, err := t.slotFor(c.Args[2])
	if err != nil {
		return err
	}
	t.emit(OpCRC32, dst, seed, ptr)
	t.emitExtra(length)
	return nil
}

// phiMove is one slot-to-slot copy a predecessor must perform before
// transferring control to a successor with PHI nodes (§4.3).
type phiMove struct {
	dst, src IndexT
}

func (t *translator) collectPhiMoves(predID BlockID, succID BlockID) ([]phiMove, error) {
	succ := t.fn.block(succID)
	moves := make([]phiMove, 0, len(succ.Phis))
	for _, phi := range succ.Phis {
		dst, err := t.dstSlot(phi.Dst)
		if err != nil {
			return nil, err
		}
		var incoming *Operand
		for i := range phi.Incoming {
			if phi.Incoming[i].Pred == predID {
				incoming = &phi.Incoming[i].Value
				break
			}
		}
		if incoming == nil {
			return nil, notSupported("phi in block %d has no incoming value for predecessor %d", succID, predID)
		}
		src, err := t.slotFor(*incoming)
		if err != nil {
			return nil, err
		}
		moves = append(moves, phiMove{dst: dst, src: src})
	}
	return moves, nil
}

// sequentializePhiMoves turns a parallel-copy set into an ordered list of
// real moves, breaking any dependency cycle (the "lost copy" problem a
// self-successor block - two values swapping across a loop back-edge -
// always produces) with a temporary slot (§4.3).
func (t *translator) sequentializePhiMoves(copies []phiMove) ([]phiMove, error) {
	pending := make([]phiMove, 0, len(copies))
	for _, c := range copies {
		if c.src != c.dst {
			pending = append(pending, c)
		}
	}
	var out []phiMove
	for len(pending) > 0 {
		srcSet := make(map[IndexT]bool, len(pending))
		for _, c := range pending {
			srcSet[c.src] = true
		}
		var next []phiMove
		progressed := false
		for _, c := range pending {
			if !srcSet[c.dst] {
				out = append(out, c)
				progressed = true
			} else {
				next = append(next, c)
			}
		}
		pending = next
		if !progressed && len(pending) > 0 {
			victim := pending[0]
			tmp, err := t.freshTemp()
			if err != nil {
				return nil, err
			}
			out = append(out, phiMove{dst: tmp, src: victim.dst})
			for i := range pending {
				if pending[i].src == victim.dst {
					pending[i].src = tmp
				}
			}
		}
	}
	return out, nil
}

func (t *translator) translatePhisAndTerminator(b *BasicBlock, hasNext bool, nextID BlockID) error {
	succs := b.Successors()
	if len(succs) > 0 {
		var allMoves []phiMove
		for _, s := range succs {
			moves, err := t.collectPhiMoves(b.ID, s)
			if err != nil {
				return err
			}
			allMoves = append(allMoves, moves...)
		}
		seq, err := t.sequentializePhiMoves(allMoves)
		if err != nil {
			return err
		}
		for _, m := range seq {
			t.emit(OpMov, m.dst, m.src, 0)
		}
	}

	switch b.Term.Kind {
	case TermRet:
		if b.Term.RetValue == nil {
			t.emit(OpRet, 0, 0, 0)
			return nil
		}
		v, err := t.slotFor(*b.Term.RetValue)
		if err != nil {
			return err
		}
		t.emit(OpRet, 1, v, 0)
		return nil

	case TermUnreachable:
		t.emit(OpTrap, 0, 0, 0)
		return nil

	case TermBr:
		if hasNext && nextID == b.Term.Target {
			return nil // fall-through elision
		}
		idx := t.emit(OpBranchUncond, 0, 0, 0)
		t.pending = append(t.pending, pendingBranch{slotIdx: idx, argPos: 0, target: b.Term.Target})
		return nil

	case TermCondBr:
		cond, err := t.slotFor(b.Term.Cond)
		if err != nil {
			return err
		}
		if hasNext && nextID == b.Term.FalseTarget {
			idx := t.emit(OpBranchCondFT, cond, 0, 0)
			t.pending = append(t.pending, pendingBranch{slotIdx: idx, argPos: 1, target: b.Term.TrueTarget})
			return nil
		}
		idx := t.emit(OpBranchCond, cond, 0, 0)
		t.pending = append(t.pending, pendingBranch{slotIdx: idx, argPos: 1, target: b.Term.TrueTarget})
		t.pending = append(t.pending, pendingBranch{slotIdx: idx, argPos: 2, target: b.Term.FalseTarget})
		return nil

	default:
		return notSupported("unknown terminator kind %d", b.Term.Kind)
	}
}
