package main

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ssavm/vm"
)

func f32Bits(f float32) uint64 { return uint64(math.Float32bits(f)) }
func f64Bits(f float64) uint64 { return math.Float64bits(f) }
func asF64(bits uint64) float64 { return math.Float64frombits(bits) }

func widthMaskFor(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}

// asm is a minimal textual assembler for the IR vm.Build consumes (§6.1).
// It exists so this CLI has something runnable to point at without wiring
// in a real query compiler; it understands a small LLVM-flavored syntax,
// not the full generality of the IR contract (notably: GEP here is
// constant-offset only). Block labels may be referenced before the block
// appears: every block of a function is numbered before any body is parsed.
//
// Grammar, roughly:
//
//	func @name(i32 %a, i64 %b) {
//	entry:
//	  %c = add i32 %a, %b
//	  ret i32 %c
//	}
type asmError struct {
	line int
	msg  string
}

func (e *asmError) Error() string { return fmt.Sprintf("line %d: %s", e.line, e.msg) }

func errAt(line int, format string, args ...any) error {
	return &asmError{line: line, msg: fmt.Sprintf(format, args...)}
}

type program struct {
	order []string
	funcs map[string]*vm.Function
}

// assemble parses src into a set of functions, wiring call_internal sites
// to the vm.Function they name. ctx is shared by every function in the
// program (external bindings, struct layout).
func assemble(src string, ctx *vm.CodeContext) (*program, error) {
	blocksByFunc, sigOrder, err := splitFunctions(src)
	if err != nil {
		return nil, err
	}

	p := &program{order: sigOrder, funcs: map[string]*vm.Function{}}
	for _, name := range sigOrder {
		fb := blocksByFunc[name]
		fn, err := parseSignatureAndBlocks(fb, ctx)
		if err != nil {
			return nil, err
		}
		p.funcs[name] = fn
	}
	// Second pass: resolve call_internal references now that every
	// function in the program has a *vm.Function allocated.
	for _, name := range sigOrder {
		if err := resolveInternalCalls(p.funcs[name], p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

type funcBody struct {
	sigLine string
	lineNo  int
	lines   []numberedLine
}

type numberedLine struct {
	text string
	no   int
}

func splitFunctions(src string) (map[string]*funcBody, []string, error) {
	bodies := map[string]*funcBody{}
	var order []string

	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	var cur *funcBody
	depth := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Text()
		line := stripComment(raw)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if cur == nil {
			if !strings.HasPrefix(trimmed, "func ") {
				return nil, nil, errAt(lineNo, "expected 'func', got %q", trimmed)
			}
			name, err := funcNameFromSig(trimmed)
			if err != nil {
				return nil, nil, errAt(lineNo, "%v", err)
			}
			cur = &funcBody{sigLine: trimmed, lineNo: lineNo}
			order = append(order, name)
			bodies[name] = cur
			depth = strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
			if depth == 0 {
				cur = nil
			}
			continue
		}
		depth += strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
		if depth <= 0 {
			cur = nil
			continue
		}
		cur.lines = append(cur.lines, numberedLine{text: trimmed, no: lineNo})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if cur != nil {
		return nil, nil, errAt(cur.lineNo, "unterminated function body")
	}
	return bodies, order, nil
}

func stripComment(s string) string {
	if i := strings.Index(s, ";"); i >= 0 {
		return s[:i]
	}
	return s
}

func funcNameFromSig(sig string) (string, error) {
	at := strings.Index(sig, "@")
	if at < 0 {
		return "", fmt.Errorf("missing @name in function signature")
	}
	rest := sig[at+1:]
	end := strings.IndexAny(rest, "( ")
	if end < 0 {
		return "", fmt.Errorf("malformed function signature")
	}
	return rest[:end], nil
}

// parser holds the per-function state needed to resolve %value references
// to vm.Value (and its Type) as they're encountered.
type parser struct {
	fn       *vm.Function
	ctx      *vm.CodeContext
	nextID   vm.ValueID
	valType  map[string]vm.Type
	valID    map[string]vm.ValueID
	blockIDs map[string]vm.BlockID
	nextBB   vm.BlockID
	pendingInternal []pendingInternalCall
}

type pendingInternalCall struct {
	call *vm.CallInst
	name string
}

func (p *parser) freshValue(t vm.Type) vm.Value {
	p.nextID++
	return vm.Value{ID: p.nextID, Type: t}
}

func (p *parser) bindValue(name string, v vm.Value) {
	p.valID[name] = v.ID
	p.valType[name] = v.Type
}

func (p *parser) blockID(label string) vm.BlockID {
	if id, ok := p.blockIDs[label]; ok {
		return id
	}
	p.nextBB++
	id := p.nextBB
	p.blockIDs[label] = id
	return id
}

func parseSignatureAndBlocks(fb *funcBody, ctx *vm.CodeContext) (*vm.Function, error) {
	name, args, err := parseSignature(fb.sigLine)
	if err != nil {
		return nil, errAt(fb.lineNo, "%v", err)
	}

	fn := &vm.Function{Name: name, Context: ctx}
	p := &parser{
		fn:       fn,
		ctx:      ctx,
		valType:  map[string]vm.Type{},
		valID:    map[string]vm.ValueID{},
		blockIDs: map[string]vm.BlockID{},
	}
	for _, a := range args {
		v := p.freshValue(a.typ)
		p.bindValue(a.name, v)
		fn.Args = append(fn.Args, v)
	}

	groups, err := groupByBlock(fb.lines)
	if err != nil {
		return nil, err
	}
	for i, g := range groups {
		id := p.blockID(g.label)
		if i == 0 {
			fn.Entry = id
		}
		fn.Blocks = append(fn.Blocks, &vm.BasicBlock{ID: id})
	}
	for i, g := range groups {
		b := fn.Blocks[i]
		if err := parseBlockBody(p, b, g.lines); err != nil {
			return nil, err
		}
	}
	fn.Context = ctx
	// stash the parser so the internal-call resolution pass can see it
	parsersByFunc[fn] = p
	return fn, nil
}

// parsersByFunc is only needed transiently between the two assembly
// passes (building every function, then wiring call_internal targets).
var parsersByFunc = map[*vm.Function]*parser{}

func resolveInternalCalls(fn *vm.Function, p *program) error {
	parser := parsersByFunc[fn]
	defer delete(parsersByFunc, fn)
	for _, pend := range parser.pendingInternal {
		target, ok := p.funcs[pend.name]
		if !ok {
			return fmt.Errorf("function %s: call_internal references unknown function %q", fn.Name, pend.name)
		}
		pend.call.InternalFunction = target
	}
	return nil
}

type argSig struct {
	typ  vm.Type
	name string
}

func parseSignature(sig string) (string, []argSig, error) {
	name, err := funcNameFromSig(sig)
	if err != nil {
		return "", nil, err
	}
	open := strings.Index(sig, "(")
	close := strings.LastIndex(sig, ")")
	if open < 0 || close < 0 || close < open {
		return "", nil, fmt.Errorf("malformed argument list")
	}
	inner := strings.TrimSpace(sig[open+1 : close])
	var args []argSig
	if inner != "" {
		for _, part := range strings.Split(inner, ",") {
			fields := strings.Fields(part)
			if len(fields) != 2 || !strings.HasPrefix(fields[1], "%") {
				return "", nil, fmt.Errorf("malformed argument %q", part)
			}
			t, ok := parseType(fields[0])
			if !ok {
				return "", nil, fmt.Errorf("unknown type %q", fields[0])
			}
			args = append(args, argSig{typ: t, name: fields[1]})
		}
	}
	return name, args, nil
}

type blockGroup struct {
	label string
	lines []numberedLine
}

func groupByBlock(lines []numberedLine) ([]blockGroup, error) {
	var groups []blockGroup
	for _, l := range lines {
		if strings.HasSuffix(l.text, ":") && !strings.Contains(l.text, " ") {
			groups = append(groups, blockGroup{label: strings.TrimSuffix(l.text, ":")})
			continue
		}
		if len(groups) == 0 {
			return nil, errAt(l.no, "instruction before any block label")
		}
		groups[len(groups)-1].lines = append(groups[len(groups)-1].lines, l)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("function has no blocks")
	}
	return groups, nil
}

func parseType(tok string) (vm.Type, bool) {
	switch tok {
	case "i1":
		return vm.TypeBool, true
	case "i8":
		return vm.TypeI8, true
	case "i16":
		return vm.TypeI16, true
	case "i32":
		return vm.TypeI32, true
	case "i64":
		return vm.TypeI64, true
	case "ptr":
		return vm.TypePointer, true
	case "f32":
		return vm.TypeFloat, true
	case "f64":
		return vm.TypeDouble, true
	default:
		return 0, false
	}
}

func (p *parser) operand(typ vm.Type, tok string) (vm.Operand, error) {
	tok = strings.TrimSuffix(tok, ",")
	if strings.HasPrefix(tok, "%") {
		id, ok := p.valID[tok]
		if !ok {
			return vm.Operand{}, fmt.Errorf("use of undefined value %s", tok)
		}
		return vm.ValueOperand(vm.Value{ID: id, Type: typ}), nil
	}
	bits, err := parseImmediate(typ, tok)
	if err != nil {
		return vm.Operand{}, err
	}
	return vm.ConstOperand(typ, bits), nil
}

func parseImmediate(typ vm.Type, tok string) (uint64, error) {
	if typ.IsFloat() {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, fmt.Errorf("bad float literal %q: %w", tok, err)
		}
		if typ == vm.TypeFloat {
			return f32Bits(float32(f)), nil
		}
		return f64Bits(f), nil
	}
	v, err := strconv.ParseInt(tok, 0, 64)
	if err != nil {
		uv, uerr := strconv.ParseUint(tok, 0, 64)
		if uerr != nil {
			return 0, fmt.Errorf("bad integer literal %q: %w", tok, err)
		}
		return uv, nil
	}
	return uint64(v) & widthMaskFor(typ.ByteSize() * 8), nil
}
