package vm

import "sort"

// sentinelNever marks a value whose liveness record has first == last ==
// sentinelNever: it has a def but zero observed uses, and the allocator
// leaves it on the reserved dummy slot 0 (§3 "Liveness record").
const sentinelNever = 1 << 30

// valueInfo is the liveness record for one post-merge value index (§3).
type valueInfo struct {
	typ        Type
	isConstant bool
	isArgument bool
	constBits  uint64
	first      int
	last       int
	usedOnce   bool
}

// analysis is everything the IR Analyser (§4.1) produces: the value
// numbering, the liveness table, the RPO block order, and the
// constant/argument orderings the allocator lays slots out from.
type analysis struct {
	fn *Function

	rpo          []BlockID
	blockPos     map[BlockID]int
	blockStart   map[BlockID]int // instruction index of block's first non-phi inst (or its own term idx if empty)
	blockTermIdx map[BlockID]int

	instrIdx map[*Inst]int // global instruction index, non-phi instructions only

	values  []*valueInfo
	valueOf map[ValueID]int
	constOf map[uint64]int

	argValueIdx []int
	constOrder  []int // valueIdx in first-encountered order (= pool order)

	numInstr int
}

func (a *analysis) newValue(t Type) (int, error) {
	if t == TypeAggregate || t.ByteSize() == 0 || t.ByteSize() > 8 {
		return 0, notSupported("value of type %s does not fit in a single slot", t)
	}
	idx := len(a.values)
	a.values = append(a.values, &valueInfo{typ: t, first: sentinelNever, last: sentinelNever})
	return idx, nil
}

func (a *analysis) valueIdxFor(id ValueID, t Type) (int, error) {
	if idx, ok := a.valueOf[id]; ok {
		return idx, nil
	}
	idx, err := a.newValue(t)
	if err != nil {
		return 0, err
	}
	a.valueOf[id] = idx
	return idx, nil
}

func (a *analysis) constIdxFor(bits uint64, t Type) (int, error) {
	if idx, ok := a.constOf[bits]; ok {
		return idx, nil
	}
	idx, err := a.newValue(t)
	if err != nil {
		return 0, err
	}
	v := a.values[idx]
	v.isConstant = true
	v.constBits = bits
	v.first = 0
	v.last = 0
	v.usedOnce = true
	a.constOf[bits] = idx
	a.constOrder = append(a.constOrder, idx)
	return idx, nil
}

// resolveOperand returns the value index an operand (const or SSA
// reference) maps to, creating a constant-pool entry on demand.
func (a *analysis) resolveOperand(op Operand) (int, error) {
	if op.IsConst {
		return a.constIdxFor(op.ConstBits, op.ConstType)
	}
	idx, ok := a.valueOf[op.Value]
	if !ok {
		return 0, notSupported("use of value %d before definition", op.Value)
	}
	return idx, nil
}

func (a *analysis) defValue(v Value, idx int) (int, error) {
	vidx, err := a.valueIdxFor(v.ID, v.Type)
	if err != nil {
		return 0, err
	}
	info := a.values[vidx]
	info.first = idx
	info.last = idx
	info.usedOnce = false
	return vidx, nil
}

func (a *analysis) markUse(op Operand, idx int) error {
	vidx, err := a.resolveOperand(op)
	if err != nil {
		return err
	}
	v := a.values[vidx]
	v.usedOnce = true
	if !v.isConstant && idx > v.last {
		v.last = idx
	}
	return nil
}

func (a *analysis) extendLast(vidx int, idx int) {
	v := a.values[vidx]
	if !v.isConstant && idx > v.last {
		v.last = idx
	}
	v.usedOnce = true
}

// isNoOpMerge reports whether inst aliases its destination to its first
// operand and emits no bytecode (§4.1 "No-op merging", §3 invariants).
func isNoOpMerge(inst *Inst) bool {
	switch inst.Op {
	case OpBitcast:
		return true
	case OpTrunc, OpPtrToInt, OpIntToPtr:
		return inst.SrcType.ByteSize() == inst.ResultType.ByteSize()
	case OpGetElementPtr:
		return inst.GEPConstOffset == 0 && len(inst.GEPDynIndices) == 0
	default:
		return false
	}
}

// Analyse walks fn in reverse post-order and produces the value mapping,
// constants, liveness table and block ordering the allocator and
// translator need (§4.1).
func Analyse(fn *Function) (*analysis, error) {
	rpo, err := computeRPO(fn)
	if err != nil {
		return nil, err
	}

	a := &analysis{
		fn:           fn,
		rpo:          rpo,
		blockPos:     make(map[BlockID]int, len(rpo)),
		blockStart:   make(map[BlockID]int, len(rpo)),
		blockTermIdx: make(map[BlockID]int, len(rpo)),
		instrIdx:     make(map[*Inst]int),
		valueOf:      make(map[ValueID]int),
		constOf:      make(map[uint64]int),
		numInstr:     1, // index 0 is reserved for function arguments
	}
	for i, id := range rpo {
		a.blockPos[id] = i
	}

	// Function arguments are defined at index 0 and always occupy a real
	// slot regardless of use (§4.1, §4.2).
	a.argValueIdx = make([]int, len(fn.Args))
	for i, arg := range fn.Args {
		vidx, err := a.defValue(arg, 0)
		if err != nil {
			return nil, err
		}
		a.values[vidx].isArgument = true
		a.argValueIdx[i] = vidx
	}

	// Pre-register every PHI destination so forward references from
	// predecessor terminators (including this block's own predecessors
	// visited earlier) have somewhere to land. A PHI is considered live
	// from the start of the first block in RPO that writes it: a
	// predecessor whose terminator carries the PHI move, or its own block
	// if that comes first (§4.1 "PHI handling").
	for _, id := range rpo {
		b := fn.block(id)
		for _, phi := range b.Phis {
			if _, err := a.defValue(phi.Dst, 0); err != nil {
				return nil, err
			}
		}
	}

	for _, id := range rpo {
		b := fn.block(id)
		a.blockStart[id] = a.numInstr
		for _, phi := range b.Phis {
			vidx := a.valueOf[phi.Dst.ID]
			if a.values[vidx].first == 0 {
				a.values[vidx].first = a.blockStart[id]
			}
		}

		for _, inst := range b.Insts {
			if isNoOpMerge(inst) {
				src := inst.Operands[0]
				if inst.Op == OpGetElementPtr {
					src = inst.GEPBase
				}
				vidx, err := a.resolveOperand(src)
				if err != nil {
					return nil, err
				}
				if inst.Dst.ID != 0 {
					a.valueOf[inst.Dst.ID] = vidx
				}
				continue
			}

			idx := a.numInstr
			a.numInstr++
			a.instrIdx[inst] = idx

			if err := a.numberInst(inst, idx); err != nil {
				return nil, err
			}
		}

		termIdx := a.numInstr
		a.numInstr++
		a.blockTermIdx[id] = termIdx

		if err := a.numberTerminator(b, termIdx); err != nil {
			return nil, err
		}

		for _, succID := range b.Successors() {
			succ := fn.block(succID)
			for _, phi := range succ.Phis {
				dstIdx := a.valueOf[phi.Dst.ID]
				if a.values[dstIdx].first == 0 {
					a.values[dstIdx].first = a.blockStart[id]
				}
				a.extendLast(dstIdx, termIdx)

				var incoming *Operand
				for i := range phi.Incoming {
					if phi.Incoming[i].Pred == id {
						incoming = &phi.Incoming[i].Value
						break
					}
				}
				if incoming == nil {
					return nil, notSupported("phi in block %d has no incoming value for predecessor %d", succID, id)
				}
				vidx, err := a.resolveOperand(*incoming)
				if err != nil {
					return nil, err
				}
				a.extendLast(vidx, termIdx+1)
			}

			// Back-edge detection (§4.1): a successor already positioned
			// at or before the current block in RPO is a back-edge target.
			if a.blockPos[succID] <= a.blockPos[id] {
				target := a.blockStart[succID]
				for _, v := range a.values {
					if v.isConstant {
						continue
					}
					if v.first < target && v.last >= target && v.last < termIdx+1 {
						v.last = termIdx + 1
					}
				}
			}
		}
	}

	// Finalize "never used" values (§3): a def with zero observed uses
	// collapses to the MAX sentinel so the allocator leaves it on slot 0.
	// Arguments are exempt: they always occupy a real slot.
	for _, v := range a.values {
		if v.isConstant || v.isArgument {
			continue
		}
		if !v.usedOnce {
			v.first = sentinelNever
			v.last = sentinelNever
		}
	}

	return a, nil
}

func (a *analysis) numberInst(inst *Inst, idx int) error {
	switch inst.Op {
	case OpCall:
		return a.numberCall(inst, idx)
	case OpGetElementPtr:
		if err := a.markUse(inst.GEPBase, idx); err != nil {
			return err
		}
		if vidx, err := a.resolveOperand(inst.GEPBase); err == nil && !inst.GEPBase.IsConst {
			a.extendLast(vidx, idx+1)
		}
		for _, dyn := range inst.GEPDynIndices {
			if err := a.markUse(dyn.Index, idx); err != nil {
				return err
			}
			if !dyn.Index.IsConst {
				if vidx, err := a.resolveOperand(dyn.Index); err == nil {
					a.extendLast(vidx, idx+1)
				}
			}
		}
	case OpAlloca:
		if inst.Count != nil {
			if err := a.markUse(*inst.Count, idx); err != nil {
				return err
			}
		}
	default:
		for _, op := range inst.Operands {
			if err := a.markUse(op, idx); err != nil {
				return err
			}
		}
	}

	if inst.Dst.ID != 0 {
		if _, err := a.defValue(inst.Dst, idx); err != nil {
			return err
		}
	}
	return nil
}

func (a *analysis) numberCall(inst *Inst, idx int) error {
	c := inst.Call
	for _, arg := range c.Args {
		if err := a.markUse(arg, idx); err != nil {
			return err
		}
	}
	switch c.Kind {
	case CallIntrinsicOverflow:
		if c.OverflowUnused {
			return nil
		}
		if _, err := a.defValue(c.OverflowResult, idx); err != nil {
			return err
		}
		if _, err := a.defValue(c.OverflowFlag, idx); err != nil {
			return err
		}
	default:
		if inst.Dst.ID != 0 {
			if _, err := a.defValue(inst.Dst, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *analysis) numberTerminator(b *BasicBlock, idx int) error {
	switch b.Term.Kind {
	case TermRet:
		if b.Term.RetValue != nil {
			return a.markUse(*b.Term.RetValue, idx)
		}
		return nil
	case TermCondBr:
		return a.markUse(b.Term.Cond, idx)
	default:
		return nil
	}
}

func computeRPO(fn *Function) ([]BlockID, error) {
	if fn.block(fn.Entry) == nil {
		return nil, notSupported("entry block %d not found", fn.Entry)
	}
	visited := make(map[BlockID]bool, len(fn.Blocks))
	postorder := make([]BlockID, 0, len(fn.Blocks))

	var visit func(id BlockID) error
	visit = func(id BlockID) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		b := fn.block(id)
		if b == nil {
			return notSupported("unknown successor block %d", id)
		}
		for _, s := range b.Successors() {
			if err := visit(s); err != nil {
				return err
			}
		}
		postorder = append(postorder, id)
		return nil
	}
	if err := visit(fn.Entry); err != nil {
		return nil, err
	}

	rpo := make([]BlockID, len(postorder))
	for i, id := range postorder {
		rpo[len(postorder)-1-i] = id
	}
	return rpo, nil
}

// otherValueIdx returns every value index that is neither a constant nor
// a function argument, sorted by `first` ascending (ties broken by index
// for determinism) - the order the greedy linear-scan allocator consumes
// them in (§4.2).
func (a *analysis) otherValueIdx() []int {
	others := make([]int, 0, len(a.values))
	isArg := make(map[int]bool, len(a.argValueIdx))
	for _, idx := range a.argValueIdx {
		isArg[idx] = true
	}
	for idx, v := range a.values {
		if v.isConstant || isArg[idx] {
			continue
		}
		others = append(others, idx)
	}
	sort.SliceStable(others, func(i, j int) bool {
		return a.values[others[i]].first < a.values[others[j]].first
	})
	return others
}
