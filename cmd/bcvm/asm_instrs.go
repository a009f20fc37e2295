package main

import (
	"fmt"
	"strconv"
	"strings"

	"ssavm/vm"
)

// parseBlockBody fills in b's phis, instructions, and terminator from its
// source lines. PHI lines must appear first (same constraint the IR
// contract documents), then ordinary instructions, then exactly one
// terminator.
func parseBlockBody(p *parser, b *vm.BasicBlock, lines []numberedLine) error {
	i := 0
	for i < len(lines) && strings.Contains(lines[i].text, "= phi ") {
		phi, err := parsePhi(p, lines[i].text)
		if err != nil {
			return errAt(lines[i].no, "%v", err)
		}
		b.Phis = append(b.Phis, phi)
		i++
	}
	for ; i < len(lines); i++ {
		l := lines[i]
		if isTerminator(l.text) {
			term, err := parseTerminator(p, l.text)
			if err != nil {
				return errAt(l.no, "%v", err)
			}
			b.Term = term
			if i != len(lines)-1 {
				return errAt(lines[i+1].no, "instruction after terminator")
			}
			return nil
		}
		inst, err := parseInst(p, l.text)
		if err != nil {
			return errAt(l.no, "%v", err)
		}
		b.Insts = append(b.Insts, inst)
	}
	return fmt.Errorf("block %q has no terminator", b.ID)
}

func isTerminator(line string) bool {
	for _, kw := range []string{"ret ", "ret void", "br ", "unreachable"} {
		if strings.HasPrefix(line, kw) || line == strings.TrimSpace(kw) {
			return true
		}
	}
	return false
}

func parsePhi(p *parser, line string) (*vm.PhiInst, error) {
	dstName, rhs, ok := strings.Cut(line, "=")
	if !ok {
		return nil, fmt.Errorf("malformed phi")
	}
	dstName = strings.TrimSpace(dstName)
	rhs = strings.TrimSpace(rhs)
	rhs = strings.TrimPrefix(rhs, "phi ")
	typeTok, rest, ok := strings.Cut(rhs, " ")
	if !ok {
		return nil, fmt.Errorf("malformed phi: missing type")
	}
	typ, ok := parseType(typeTok)
	if !ok {
		return nil, fmt.Errorf("unknown phi type %q", typeTok)
	}
	dst := p.freshValue(typ)
	p.bindValue(dstName, dst)

	phi := &vm.PhiInst{Dst: dst}
	for _, pair := range splitBracketed(rest) {
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed phi incoming %q", pair)
		}
		valTok := strings.TrimSpace(parts[0])
		predLabel := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(parts[1]), "%"))
		op, err := p.operand(typ, valTok)
		if err != nil {
			return nil, err
		}
		phi.Incoming = append(phi.Incoming, vm.PhiIncoming{Pred: p.blockID(predLabel), Value: op})
	}
	return phi, nil
}

// splitBracketed pulls every "[ ... ]" group out of s, e.g.
// "[ %a, %bb1 ], [ %b, %bb2 ]" -> ["%a, %bb1", "%b, %bb2"].
func splitBracketed(s string) []string {
	var out []string
	for {
		start := strings.Index(s, "[")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "]")
		if end < 0 {
			break
		}
		out = append(out, strings.TrimSpace(s[start+1:start+end]))
		s = s[start+end+1:]
	}
	return out
}

func parseTerminator(p *parser, line string) (vm.Terminator, error) {
	switch {
	case line == "unreachable":
		return vm.Terminator{Kind: vm.TermUnreachable}, nil
	case line == "ret void":
		return vm.Terminator{Kind: vm.TermRet}, nil
	case strings.HasPrefix(line, "ret "):
		fields := strings.Fields(strings.TrimPrefix(line, "ret "))
		if len(fields) != 2 {
			return vm.Terminator{}, fmt.Errorf("malformed ret")
		}
		typ, ok := parseType(fields[0])
		if !ok {
			return vm.Terminator{}, fmt.Errorf("unknown ret type %q", fields[0])
		}
		op, err := p.operand(typ, fields[1])
		if err != nil {
			return vm.Terminator{}, err
		}
		return vm.Terminator{Kind: vm.TermRet, RetValue: &op}, nil
	case strings.HasPrefix(line, "br "):
		rest := strings.TrimPrefix(line, "br ")
		if strings.HasPrefix(rest, "label ") {
			target := strings.TrimPrefix(rest, "label ")
			return vm.Terminator{Kind: vm.TermBr, Target: p.blockID(strings.TrimPrefix(target, "%"))}, nil
		}
		// br i1 %cond, label %t, label %f
		fields := strings.SplitN(rest, ",", 3)
		if len(fields) != 3 {
			return vm.Terminator{}, fmt.Errorf("malformed conditional br")
		}
		condFields := strings.Fields(fields[0])
		if len(condFields) != 2 {
			return vm.Terminator{}, fmt.Errorf("malformed br condition")
		}
		condType, ok := parseType(condFields[0])
		if !ok {
			return vm.Terminator{}, fmt.Errorf("unknown br condition type %q", condFields[0])
		}
		cond, err := p.operand(condType, condFields[1])
		if err != nil {
			return vm.Terminator{}, err
		}
		trueLbl := strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(fields[1]), "label")), "%")
		falseLbl := strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(fields[2]), "label")), "%")
		return vm.Terminator{
			Kind:        vm.TermCondBr,
			Cond:        cond,
			TrueTarget:  p.blockID(strings.TrimSpace(trueLbl)),
			FalseTarget: p.blockID(strings.TrimSpace(falseLbl)),
		}, nil
	default:
		return vm.Terminator{}, fmt.Errorf("unrecognized terminator %q", line)
	}
}

func parseInst(p *parser, line string) (*vm.Inst, error) {
	dstName, rhs, hasDst := strings.Cut(line, "=")
	if hasDst {
		dstName = strings.TrimSpace(dstName)
		rhs = strings.TrimSpace(rhs)
	} else {
		rhs = strings.TrimSpace(line)
	}
	opTok, rest, _ := strings.Cut(rhs, " ")
	rest = strings.TrimSpace(rest)

	switch opTok {
	case "store":
		return parseStore(p, rest)
	case "call_memcpy", "call_memmove", "call_memset":
		return parseMemIntrinsic(p, opTok, rest)
	case "call_overflow":
		return parseOverflowAssign(p, line)
	}

	if !hasDst {
		return nil, fmt.Errorf("instruction %q has no destination", opTok)
	}

	switch opTok {
	case "add", "sub", "mul", "udiv", "sdiv", "urem", "srem",
		"fadd", "fsub", "fmul", "fdiv", "frem",
		"and", "or", "xor", "shl", "lshr", "ashr":
		return parseBinary(p, dstName, opTok, rest)
	case "icmp":
		return parseCompare(p, dstName, rest, false)
	case "fcmp":
		return parseCompare(p, dstName, rest, true)
	case "load":
		return parseLoad(p, dstName, rest)
	case "alloca":
		return parseAlloca(p, dstName, rest)
	case "gep":
		return parseGEP(p, dstName, rest)
	case "select":
		return parseSelect(p, dstName, rest)
	case "bitcast", "trunc", "zext", "sext", "fptrunc", "fpext",
		"fptoui", "fptosi", "uitofp", "sitofp", "ptrtoint", "inttoptr":
		return parseCastInst(p, dstName, opTok, rest)
	case "call_external":
		return parseExternalCall(p, dstName, rest)
	case "call_internal":
		return parseInternalCall(p, dstName, rest)
	case "call_explicit":
		return parseExplicitCall(p, dstName, rest)
	case "call_crc32":
		return parseCRC32(p, dstName, rest)
	default:
		return nil, fmt.Errorf("unknown instruction %q", opTok)
	}
}

var binaryOps = map[string]vm.IROp{
	"add": vm.OpAdd, "sub": vm.OpSub, "mul": vm.OpMul,
	"udiv": vm.OpUDiv, "sdiv": vm.OpSDiv, "urem": vm.OpURem, "srem": vm.OpSRem,
	"fadd": vm.OpFAdd, "fsub": vm.OpFSub, "fmul": vm.OpFMul, "fdiv": vm.OpFDiv, "frem": vm.OpFRem,
	"and": vm.OpAnd, "or": vm.OpOr, "xor": vm.OpXor, "shl": vm.OpShl, "lshr": vm.OpLShr, "ashr": vm.OpAShr,
}

func parseBinary(p *parser, dstName, opTok, rest string) (*vm.Inst, error) {
	typeTok, operands, ok := strings.Cut(rest, " ")
	if !ok {
		return nil, fmt.Errorf("malformed %s", opTok)
	}
	typ, ok := parseType(typeTok)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", typeTok)
	}
	toks := strings.Split(operands, ",")
	if len(toks) != 2 {
		return nil, fmt.Errorf("%s requires exactly two operands", opTok)
	}
	lhs, err := p.operand(typ, strings.TrimSpace(toks[0]))
	if err != nil {
		return nil, err
	}
	rhs, err := p.operand(typ, strings.TrimSpace(toks[1]))
	if err != nil {
		return nil, err
	}
	dst := p.freshValue(typ)
	p.bindValue(dstName, dst)
	return &vm.Inst{Op: binaryOps[opTok], Dst: dst, Operands: []vm.Operand{lhs, rhs}, SrcType: typ}, nil
}

var intPredicates = map[string]vm.Predicate{
	"eq": vm.PredEQ, "ne": vm.PredNE,
	"ult": vm.PredULT, "ule": vm.PredULE, "ugt": vm.PredUGT, "uge": vm.PredUGE,
	"slt": vm.PredSLT, "sle": vm.PredSLE, "sgt": vm.PredSGT, "sge": vm.PredSGE,
}
var floatPredicates = map[string]vm.Predicate{
	"eq": vm.PredEQ, "ne": vm.PredNE,
	"olt": vm.PredOLT, "ole": vm.PredOLE, "ogt": vm.PredOGT, "oge": vm.PredOGE,
}

func parseCompare(p *parser, dstName, rest string, isFloat bool) (*vm.Inst, error) {
	predTok, rest2, ok := strings.Cut(rest, " ")
	if !ok {
		return nil, fmt.Errorf("malformed compare")
	}
	typeTok, operands, ok := strings.Cut(rest2, " ")
	if !ok {
		return nil, fmt.Errorf("malformed compare: missing type")
	}
	typ, ok := parseType(typeTok)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", typeTok)
	}
	table := intPredicates
	if isFloat {
		table = floatPredicates
	}
	pred, ok := table[predTok]
	if !ok {
		return nil, fmt.Errorf("unknown predicate %q", predTok)
	}
	toks := strings.Split(operands, ",")
	if len(toks) != 2 {
		return nil, fmt.Errorf("compare requires exactly two operands")
	}
	lhs, err := p.operand(typ, strings.TrimSpace(toks[0]))
	if err != nil {
		return nil, err
	}
	rhs, err := p.operand(typ, strings.TrimSpace(toks[1]))
	if err != nil {
		return nil, err
	}
	dst := p.freshValue(vm.TypeBool)
	p.bindValue(dstName, dst)
	op := vm.OpICmp
	if isFloat {
		op = vm.OpFCmp
	}
	return &vm.Inst{Op: op, Dst: dst, Operands: []vm.Operand{lhs, rhs}, Predicate: pred, SrcType: typ}, nil
}

// parseLoad accepts "load <type>, ptr %p".
func parseLoad(p *parser, dstName, rest string) (*vm.Inst, error) {
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed load")
	}
	typ, ok := parseType(strings.TrimSpace(parts[0]))
	if !ok {
		return nil, fmt.Errorf("unknown load type %q", parts[0])
	}
	fields := strings.Fields(strings.TrimSpace(parts[1]))
	if len(fields) != 2 || fields[0] != "ptr" {
		return nil, fmt.Errorf("malformed load address operand")
	}
	ptr, err := p.operand(vm.TypePointer, fields[1])
	if err != nil {
		return nil, err
	}
	dst := p.freshValue(typ)
	p.bindValue(dstName, dst)
	return &vm.Inst{
		Op: vm.OpLoad, Dst: dst, Operands: []vm.Operand{ptr},
		ResultType: typ, ElemBytes: typ.ByteSize(),
	}, nil
}

// parseStore accepts "store <type> %v, ptr %p".
func parseStore(p *parser, rest string) (*vm.Inst, error) {
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed store")
	}
	lhs := strings.Fields(strings.TrimSpace(parts[0]))
	if len(lhs) != 2 {
		return nil, fmt.Errorf("malformed store value operand")
	}
	typ, ok := parseType(lhs[0])
	if !ok {
		return nil, fmt.Errorf("unknown store type %q", lhs[0])
	}
	val, err := p.operand(typ, lhs[1])
	if err != nil {
		return nil, err
	}
	rhsFields := strings.Fields(strings.TrimSpace(parts[1]))
	if len(rhsFields) != 2 || rhsFields[0] != "ptr" {
		return nil, fmt.Errorf("malformed store address operand")
	}
	ptr, err := p.operand(vm.TypePointer, rhsFields[1])
	if err != nil {
		return nil, err
	}
	return &vm.Inst{
		Op: vm.OpStore, Operands: []vm.Operand{ptr, val},
		ResultType: typ, ElemBytes: typ.ByteSize(),
	}, nil
}

// parseAlloca accepts "alloca <type>" or "alloca <type>, i64 %count".
func parseAlloca(p *parser, dstName, rest string) (*vm.Inst, error) {
	parts := strings.SplitN(rest, ",", 2)
	typ, ok := parseType(strings.TrimSpace(parts[0]))
	if !ok {
		return nil, fmt.Errorf("unknown alloca type %q", parts[0])
	}
	dst := p.freshValue(vm.TypePointer)
	p.bindValue(dstName, dst)
	inst := &vm.Inst{Op: vm.OpAlloca, Dst: dst, ResultType: typ, ElemBytes: typ.ByteSize()}
	if len(parts) == 2 {
		fields := strings.Fields(strings.TrimSpace(parts[1]))
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed alloca count")
		}
		countType, ok := parseType(fields[0])
		if !ok {
			return nil, fmt.Errorf("unknown alloca count type %q", fields[0])
		}
		count, err := p.operand(countType, fields[1])
		if err != nil {
			return nil, err
		}
		inst.Count = &count
	}
	return inst, nil
}

// parseGEP accepts "gep ptr %base, <const offset>" - constant offsets
// only (no dynamic index syntax in this assembler).
func parseGEP(p *parser, dstName, rest string) (*vm.Inst, error) {
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed gep")
	}
	baseFields := strings.Fields(strings.TrimSpace(parts[0]))
	if len(baseFields) != 2 || baseFields[0] != "ptr" {
		return nil, fmt.Errorf("malformed gep base")
	}
	base, err := p.operand(vm.TypePointer, baseFields[1])
	if err != nil {
		return nil, err
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 0, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed gep offset: %w", err)
	}
	dst := p.freshValue(vm.TypePointer)
	p.bindValue(dstName, dst)
	return &vm.Inst{Op: vm.OpGetElementPtr, Dst: dst, GEPBase: base, GEPConstOffset: offset}, nil
}

func parseSelect(p *parser, dstName, rest string) (*vm.Inst, error) {
	fields := strings.SplitN(rest, ",", 3)
	if len(fields) != 3 {
		return nil, fmt.Errorf("malformed select")
	}
	condFields := strings.Fields(strings.TrimSpace(fields[0]))
	if len(condFields) != 2 {
		return nil, fmt.Errorf("malformed select condition")
	}
	condType, ok := parseType(condFields[0])
	if !ok {
		return nil, fmt.Errorf("unknown select condition type %q", condFields[0])
	}
	cond, err := p.operand(condType, condFields[1])
	if err != nil {
		return nil, err
	}
	trueFields := strings.Fields(strings.TrimSpace(fields[1]))
	if len(trueFields) != 2 {
		return nil, fmt.Errorf("malformed select true-value")
	}
	typ, ok := parseType(trueFields[0])
	if !ok {
		return nil, fmt.Errorf("unknown select type %q", trueFields[0])
	}
	trueVal, err := p.operand(typ, trueFields[1])
	if err != nil {
		return nil, err
	}
	falseFields := strings.Fields(strings.TrimSpace(fields[2]))
	if len(falseFields) != 2 {
		return nil, fmt.Errorf("malformed select false-value")
	}
	falseVal, err := p.operand(typ, falseFields[1])
	if err != nil {
		return nil, err
	}
	dst := p.freshValue(typ)
	p.bindValue(dstName, dst)
	return &vm.Inst{Op: vm.OpSelect, Dst: dst, Operands: []vm.Operand{cond, trueVal, falseVal}}, nil
}

var castOps = map[string]vm.IROp{
	"bitcast": vm.OpBitcast, "trunc": vm.OpTrunc, "zext": vm.OpZExt, "sext": vm.OpSExt,
	"fptrunc": vm.OpFPTrunc, "fpext": vm.OpFPExt, "fptoui": vm.OpFPToUI, "fptosi": vm.OpFPToSI,
	"uitofp": vm.OpUIToFP, "sitofp": vm.OpSIToFP, "ptrtoint": vm.OpPtrToInt, "inttoptr": vm.OpIntToPtr,
}

// parseCastInst accepts "<op> <srcType> %v to <dstType>".
func parseCastInst(p *parser, dstName, opTok, rest string) (*vm.Inst, error) {
	srcTypeTok, rest2, ok := strings.Cut(rest, " ")
	if !ok {
		return nil, fmt.Errorf("malformed %s", opTok)
	}
	srcType, ok := parseType(srcTypeTok)
	if !ok {
		return nil, fmt.Errorf("unknown source type %q", srcTypeTok)
	}
	valTok, toClause, ok := strings.Cut(rest2, " to ")
	if !ok {
		return nil, fmt.Errorf("malformed %s: missing 'to'", opTok)
	}
	srcVal, err := p.operand(srcType, strings.TrimSpace(valTok))
	if err != nil {
		return nil, err
	}
	dstType, ok := parseType(strings.TrimSpace(toClause))
	if !ok {
		return nil, fmt.Errorf("unknown destination type %q", toClause)
	}
	dst := p.freshValue(dstType)
	p.bindValue(dstName, dst)
	return &vm.Inst{
		Op: castOps[opTok], Dst: dst, Operands: []vm.Operand{srcVal},
		SrcType: srcType, ResultType: dstType,
	}, nil
}

// parseExternalCall accepts 'call_external @name(i32 %a, i64 %b) : i32'.
func parseExternalCall(p *parser, dstName, rest string) (*vm.Inst, error) {
	name, argToks, retTok, err := splitCallSite(rest, "@")
	if err != nil {
		return nil, err
	}
	args, argTypes, err := parseTypedArgs(p, argToks)
	if err != nil {
		return nil, err
	}
	retType, ok := parseType(retTok)
	if !ok {
		return nil, fmt.Errorf("unknown call_external return type %q", retTok)
	}
	dst := p.freshValue(retType)
	p.bindValue(dstName, dst)
	return &vm.Inst{Op: vm.OpCall, Dst: dst, Call: &vm.CallInst{
		Kind: vm.CallExternal, Args: args,
		ExternalName: name, ExternalArgTypes: argTypes, ExternalRetType: retType,
	}}, nil
}

// parseInternalCall accepts 'call_internal @otherfunc(%a, %b)'; argument
// types are those of the caller's own values and the result is typed i64.
// The callee itself is looked up by name in the second assembly pass, once
// every function has been parsed; its signature is not consulted.
func parseInternalCall(p *parser, dstName, rest string) (*vm.Inst, error) {
	name, argToks, _, err := splitCallSite(rest, "@")
	if err != nil {
		return nil, err
	}
	var args []vm.Operand
	for _, tok := range argToks {
		id, ok := p.valID[tok]
		if !ok {
			return nil, fmt.Errorf("use of undefined value %s", tok)
		}
		args = append(args, vm.ValueOperand(vm.Value{ID: id, Type: p.valType[tok]}))
	}
	// The destination is always typed i64, whatever the callee returns
	// (every value fits one 8-byte slot, so the bit pattern interpretation
	// is what actually varies).
	dst := p.freshValue(vm.TypeI64)
	p.bindValue(dstName, dst)
	call := &vm.CallInst{Kind: vm.CallInternal, Args: args}
	p.pendingInternal = append(p.pendingInternal, pendingInternalCall{call: call, name: name})
	return &vm.Inst{Op: vm.OpCall, Dst: dst, Call: call}, nil
}

// parseExplicitCall accepts 'call_explicit "name"(%a, %b) : i32'.
func parseExplicitCall(p *parser, dstName, rest string) (*vm.Inst, error) {
	if !strings.HasPrefix(rest, `"`) {
		return nil, fmt.Errorf("call_explicit expects a quoted name")
	}
	end := strings.Index(rest[1:], `"`)
	if end < 0 {
		return nil, fmt.Errorf("unterminated quoted name")
	}
	name := rest[1 : 1+end]
	afterName := rest[1+end+1:]
	_, argToks, retTok, err := splitCallSite("@x"+afterName, "@")
	if err != nil {
		return nil, err
	}
	var args []vm.Operand
	for _, tok := range argToks {
		id, ok := p.valID[tok]
		if !ok {
			return nil, fmt.Errorf("use of undefined value %s", tok)
		}
		args = append(args, vm.ValueOperand(vm.Value{ID: id, Type: p.valType[tok]}))
	}
	retType, ok := parseType(retTok)
	if !ok {
		return nil, fmt.Errorf("unknown call_explicit return type %q", retTok)
	}
	dst := p.freshValue(retType)
	p.bindValue(dstName, dst)
	return &vm.Inst{Op: vm.OpCall, Dst: dst, Call: &vm.CallInst{
		Kind: vm.CallExplicit, Args: args, ExplicitName: name, ExplicitType: retType,
	}}, nil
}

// splitCallSite parses "<sigil><name>(arg, arg, ...) [: rettype]" into the
// callee name, the raw (untyped, comma-split and trimmed) argument tokens,
// and the optional return-type token.
func splitCallSite(s, sigil string) (name string, argToks []string, retTok string, err error) {
	if !strings.HasPrefix(s, sigil) {
		return "", nil, "", fmt.Errorf("expected %s before call name", sigil)
	}
	open := strings.Index(s, "(")
	close := strings.Index(s, ")")
	if open < 0 || close < 0 || close < open {
		return "", nil, "", fmt.Errorf("malformed call site %q", s)
	}
	name = strings.TrimSpace(s[len(sigil):open])
	inner := strings.TrimSpace(s[open+1 : close])
	if inner != "" {
		for _, t := range strings.Split(inner, ",") {
			argToks = append(argToks, strings.TrimSpace(t))
		}
	}
	if colon := strings.Index(s[close:], ":"); colon >= 0 {
		retTok = strings.TrimSpace(s[close+colon+1:])
	}
	return name, argToks, retTok, nil
}

// parseTypedArgs parses a list of "<type> %v" tokens (as used by
// call_external, where each argument carries its own FFI-visible type).
func parseTypedArgs(p *parser, argToks []string) ([]vm.Operand, []vm.Type, error) {
	var ops []vm.Operand
	var types []vm.Type
	for _, tok := range argToks {
		fields := strings.Fields(tok)
		if len(fields) != 2 {
			return nil, nil, fmt.Errorf("malformed call argument %q", tok)
		}
		typ, ok := parseType(fields[0])
		if !ok {
			return nil, nil, fmt.Errorf("unknown call argument type %q", fields[0])
		}
		op, err := p.operand(typ, fields[1])
		if err != nil {
			return nil, nil, err
		}
		ops = append(ops, op)
		types = append(types, typ)
	}
	return ops, types, nil
}

// parseMemIntrinsic accepts 'call_memcpy %dst, %src, %len' (and memmove,
// memset - memset's second operand is a byte value rather than a pointer,
// but both pack into Args = [dst, src_or_value, length] the same way).
func parseMemIntrinsic(p *parser, opTok, rest string) (*vm.Inst, error) {
	toks := strings.Split(rest, ",")
	if len(toks) != 3 {
		return nil, fmt.Errorf("%s requires exactly three operands", opTok)
	}
	dst, err := p.operand(vm.TypePointer, strings.TrimSpace(toks[0]))
	if err != nil {
		return nil, err
	}
	secondType := vm.TypePointer
	if opTok == "call_memset" {
		secondType = vm.TypeI8
	}
	second, err := p.operand(secondType, strings.TrimSpace(toks[1]))
	if err != nil {
		return nil, err
	}
	length, err := p.operand(vm.TypeI64, strings.TrimSpace(toks[2]))
	if err != nil {
		return nil, err
	}
	kind := vm.CallIntrinsicMemcpy
	switch opTok {
	case "call_memmove":
		kind = vm.CallIntrinsicMemmove
	case "call_memset":
		kind = vm.CallIntrinsicMemset
	}
	return &vm.Inst{Op: vm.OpCall, Call: &vm.CallInst{Kind: kind, Args: []vm.Operand{dst, second, length}}}, nil
}

// parseCRC32 accepts '%d = call_crc32 %seed, %ptr, %len'.
func parseCRC32(p *parser, dstName, rest string) (*vm.Inst, error) {
	toks := strings.Split(rest, ",")
	if len(toks) != 3 {
		return nil, fmt.Errorf("call_crc32 requires exactly three operands")
	}
	seed, err := p.operand(vm.TypeI32, strings.TrimSpace(toks[0]))
	if err != nil {
		return nil, err
	}
	ptr, err := p.operand(vm.TypePointer, strings.TrimSpace(toks[1]))
	if err != nil {
		return nil, err
	}
	length, err := p.operand(vm.TypeI64, strings.TrimSpace(toks[2]))
	if err != nil {
		return nil, err
	}
	dst := p.freshValue(vm.TypeI32)
	p.bindValue(dstName, dst)
	return &vm.Inst{Op: vm.OpCall, Dst: dst, Call: &vm.CallInst{
		Kind: vm.CallIntrinsicCRC32, Args: []vm.Operand{seed, ptr, length},
	}}, nil
}

// parseOverflowAssign accepts '%r, %f = call_overflow add.u i32 %a, %b'.
// It is routed here (rather than through parseInst's generic dst split)
// because it is the only instruction form with two destinations.
func parseOverflowAssign(p *parser, line string) (*vm.Inst, error) {
	lhs, rhs, ok := strings.Cut(line, "=")
	if !ok {
		return nil, fmt.Errorf("malformed call_overflow")
	}
	dstNames := strings.Split(lhs, ",")
	if len(dstNames) != 2 {
		return nil, fmt.Errorf("call_overflow requires exactly two destinations")
	}
	resultName := strings.TrimSpace(dstNames[0])
	flagName := strings.TrimSpace(dstNames[1])

	rhs = strings.TrimSpace(rhs)
	rhs = strings.TrimPrefix(rhs, "call_overflow ")
	opTok, rest, ok := strings.Cut(rhs, " ")
	if !ok {
		return nil, fmt.Errorf("malformed call_overflow")
	}
	opName, signTok, ok := strings.Cut(opTok, ".")
	if !ok {
		return nil, fmt.Errorf("call_overflow op must be '<add|sub|mul>.<u|s>'")
	}
	var ovfOp vm.OverflowOp
	switch opName {
	case "add":
		ovfOp = vm.OverflowAdd
	case "sub":
		ovfOp = vm.OverflowSub
	case "mul":
		ovfOp = vm.OverflowMul
	default:
		return nil, fmt.Errorf("unknown overflow op %q", opName)
	}
	signed := signTok == "s"

	typeTok, operands, ok := strings.Cut(rest, " ")
	if !ok {
		return nil, fmt.Errorf("malformed call_overflow: missing type")
	}
	typ, ok := parseType(typeTok)
	if !ok {
		return nil, fmt.Errorf("unknown call_overflow type %q", typeTok)
	}
	toks := strings.Split(operands, ",")
	if len(toks) != 2 {
		return nil, fmt.Errorf("call_overflow requires exactly two operands")
	}
	a, err := p.operand(typ, strings.TrimSpace(toks[0]))
	if err != nil {
		return nil, err
	}
	b, err := p.operand(typ, strings.TrimSpace(toks[1]))
	if err != nil {
		return nil, err
	}
	resultVal := p.freshValue(typ)
	flagVal := p.freshValue(vm.TypeBool)
	p.bindValue(resultName, resultVal)
	p.bindValue(flagName, flagVal)
	return &vm.Inst{Op: vm.OpCall, Call: &vm.CallInst{
		Kind: vm.CallIntrinsicOverflow, Args: []vm.Operand{a, b},
		OverflowOp: ovfOp, OverflowSigned: signed, OverflowType: typ,
		OverflowResult: resultVal, OverflowFlag: flagVal,
	}}, nil
}
