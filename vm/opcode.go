package vm

import "fmt"

/*
	Bytecode instruction set.

	An instruction slot is a 64-bit cell: [opcode:16][arg0:16][arg1:16][arg2:16].
	That is exactly enough room for an opcode plus three operand indices, so
	almost every opcode occupies a single slot. The exceptions (§3):

		OpSelect       - two slots (cond/true/false/dst don't fit in 3 args)
		OpCallExternal - two slots (opcode+context index, then a reserved slot)
		OpCRC32 and the overflow opcodes - two slots (a fourth operand
		                 spills into the second slot)
		OpCallInternal and explicit-call opcodes - variable length; the
		                 instruction itself records its own argument count,
		                 so callers must consult it rather than assume a
		                 static footprint

	Rather than hand-naming one constant per (base-operation, type) pair -
	the macro-generated table the original interpreter built via a .def
	file - opcodes for the typed families below are computed once, by
	index arithmetic, into disjoint numeric ranges. Opcode.String and
	Opcode.IsValid still give every single opcode id a validated,
	human-readable identity; nothing about the dispatch table cares how the
	numbers were derived.
*/

type Opcode uint16

// typeIdx is the position of a Type within one of the typed-opcode
// families below.
type typeIdx int

const (
	tI8 typeIdx = iota
	tI16
	tI32
	tI64
	tF32
	tF64
	numAllTypes
)

const numIntTypes = 4   // tI8..tI64
const numFloatTypes = 2 // tF32, tF64
const numSizeTypes = 4  // 1, 2, 4, 8 bytes

// typeIndex maps a Type onto its position in the AllTypes family.
// TypePointer and TypeBool alias to tI64 and tI8 respectively: pointers
// are interpreted identically to 64-bit integers by arithmetic/compare
// opcodes, and i1 is stored the same way i8 is.
func typeIndex(t Type) (typeIdx, bool) {
	switch t {
	case TypeBool, TypeI8:
		return tI8, true
	case TypeI16:
		return tI16, true
	case TypeI32:
		return tI32, true
	case TypeI64, TypePointer:
		return tI64, true
	case TypeFloat:
		return tF32, true
	case TypeDouble:
		return tF64, true
	default:
		return 0, false
	}
}

func sizeIndex(byteSize int) (typeIdx, bool) {
	switch byteSize {
	case 1:
		return 0, true
	case 2:
		return 1, true
	case 4:
		return 2, true
	case 8:
		return 3, true
	default:
		return 0, false
	}
}

// allTypesBase enumerates base operations specialized across all six
// scalar types (spec's "AllTypes" family: arithmetic/compares usable on
// floats and ints without a signedness distinction).
type allTypesBase int

const (
	baseAdd allTypesBase = iota
	baseSub
	baseMul
	baseCmpEq
	baseCmpNe
	numAllTypesBases
)

// intTypesBase enumerates base operations specialized only across the
// four integer types (bitwise, shifts, signed/unsigned division and
// remainder, signed/unsigned relational compares, overflow-checked
// arithmetic).
type intTypesBase int

const (
	baseAnd intTypesBase = iota
	baseOr
	baseXor
	baseShl
	baseLShr
	baseAShr
	baseUDiv
	baseSDiv
	baseURem
	baseSRem
	baseCmpULT
	baseCmpULE
	baseCmpUGT
	baseCmpUGE
	baseCmpSLT
	baseCmpSLE
	baseCmpSGT
	baseCmpSGE
	baseOverflowAddU
	baseOverflowAddS
	baseOverflowSubU
	baseOverflowSubS
	baseOverflowMulU
	baseOverflowMulS
	numIntTypesBases
)

// floatTypesBase enumerates base operations specialized only across the
// two float types.
type floatTypesBase int

const (
	baseFDiv floatTypesBase = iota
	baseFRem
	baseCmpOLT
	baseCmpOLE
	baseCmpOGT
	baseCmpOGE
	numFloatTypesBases
)

// sizeTypesBase enumerates base operations specialized by byte width
// (load/store/gep_array).
type sizeTypesBase int

const (
	baseLoad sizeTypesBase = iota
	baseStore
	baseGepArray
	numSizeTypesBases
)

// Opcode space layout. Each typed family occupies a contiguous range;
// structural (untyped) opcodes get their own explicit constants below.
const (
	OpUndefined Opcode = 0

	opAllTypesStart   = Opcode(1)
	opAllTypesCount   = Opcode(int(numAllTypesBases) * int(numAllTypes))
	opIntTypesStart   = opAllTypesStart + opAllTypesCount
	opIntTypesCount   = Opcode(int(numIntTypesBases) * numIntTypes)
	opFloatTypesStart = opIntTypesStart + opIntTypesCount
	opFloatTypesCount = Opcode(int(numFloatTypesBases) * numFloatTypes)
	opSizeTypesStart  = opFloatTypesStart + opFloatTypesCount
	opSizeTypesCount  = Opcode(int(numSizeTypesBases) * numSizeTypes)

	opStructuralStart = opSizeTypesStart + opSizeTypesCount
)

const (
	OpMov Opcode = opStructuralStart + iota
	OpRet
	OpBranchUncond
	OpBranchCond
	OpBranchCondFT
	OpSelect
	OpGepOffset
	OpAllocaFixed
	OpAllocaArray
	OpExtractValue
	OpCallInternal
	OpCallExternal
	OpMemcpy
	OpMemmove
	OpMemset
	OpCRC32
	OpZExt
	OpSExt
	OpTrunc
	OpFPExt
	OpFPTrunc
	OpFPToUI
	OpFPToSI
	OpUIToFP
	OpSIToFP
	OpTrap
	opExplicitCallStart
)

// overflowBaseRange reports whether base (an intTypesBase ordinal) names
// one of the six overflow-checked arithmetic operations, which - like
// select - need a destination pair that doesn't fit a single slot.
func overflowBaseRange(base int) bool {
	return base >= int(baseOverflowAddU) && base <= int(baseOverflowMulS)
}

// isOverflowOpcode reports whether op is one of the typed overflow-checked
// arithmetic opcodes (§4.6): these need two destination slots (result,
// overflow flag) in addition to their two operands, so like select they
// spill into a second instruction slot.
func isOverflowOpcode(op Opcode) bool {
	if op < opIntTypesStart || op >= opFloatTypesStart {
		return false
	}
	rel := int(op - opIntTypesStart)
	return overflowBaseRange(rel / numIntTypes)
}

func allTypesOpcode(base allTypesBase, t Type) (Opcode, bool) {
	ti, ok := typeIndex(t)
	if !ok {
		return 0, false
	}
	return opAllTypesStart + Opcode(int(base)*int(numAllTypes)+int(ti)), true
}

func intTypesOpcode(base intTypesBase, t Type) (Opcode, bool) {
	ti, ok := typeIndex(t)
	if !ok || ti > tI64 {
		return 0, false
	}
	return opIntTypesStart + Opcode(int(base)*numIntTypes+int(ti)), true
}

func floatTypesOpcode(base floatTypesBase, t Type) (Opcode, bool) {
	ti, ok := typeIndex(t)
	if !ok || ti < tF32 {
		return 0, false
	}
	return opFloatTypesStart + Opcode(int(base)*numFloatTypes+(int(ti)-int(tF32))), true
}

func sizeTypesOpcode(base sizeTypesBase, byteSize int) (Opcode, bool) {
	si, ok := sizeIndex(byteSize)
	if !ok {
		return 0, false
	}
	return opSizeTypesStart + Opcode(int(base)*numSizeTypes+int(si)), true
}

// decodeTyped reverses the three generator functions above; String()/Dump
// use it for diagnostics and IsValid uses it to recognise typed opcodes.
func decodeTyped(op Opcode) (family string, base int, t string, ok bool) {
	switch {
	case op >= opAllTypesStart && op < opIntTypesStart:
		rel := int(op - opAllTypesStart)
		return "all", rel / int(numAllTypes), allTypesNames[rel%int(numAllTypes)], true
	case op >= opIntTypesStart && op < opFloatTypesStart:
		rel := int(op - opIntTypesStart)
		return "int", rel / numIntTypes, intTypesNames[rel%numIntTypes], true
	case op >= opFloatTypesStart && op < opSizeTypesStart:
		rel := int(op - opFloatTypesStart)
		return "float", rel / numFloatTypes, floatTypesNames[rel%numFloatTypes], true
	case op >= opSizeTypesStart && op < opStructuralStart:
		rel := int(op - opSizeTypesStart)
		return "size", rel / numSizeTypes, sizeTypesNames[rel%numSizeTypes], true
	default:
		return "", 0, "", false
	}
}

// opFamily names which typed-opcode range an opcode belongs to, resolved
// once by decodeTypedFast rather than re-parsed from strings on every
// dispatch.
type opFamily int

const (
	famAll opFamily = iota
	famInt
	famFloat
	famSize
)

var allTypesWidths = [numAllTypes]int{1, 2, 4, 8, 4, 8}
var allTypesIsFloat = [numAllTypes]bool{false, false, false, false, true, true}
var intTypesWidths = [numIntTypes]int{1, 2, 4, 8}
var floatTypesWidths = [numFloatTypes]int{4, 8}
var sizeTypesWidths = [numSizeTypes]int{1, 2, 4, 8}

// decodeTypedFast reverses the generator functions into the (family,
// base, width, isFloat) tuple the interpreter's dispatch table needs,
// without the string formatting decodeTyped does for diagnostics.
func decodeTypedFast(op Opcode) (fam opFamily, base int, width int, isFloat bool, ok bool) {
	switch {
	case op >= opAllTypesStart && op < opIntTypesStart:
		rel := int(op - opAllTypesStart)
		ti := rel % int(numAllTypes)
		return famAll, rel / int(numAllTypes), allTypesWidths[ti], allTypesIsFloat[ti], true
	case op >= opIntTypesStart && op < opFloatTypesStart:
		rel := int(op - opIntTypesStart)
		ti := rel % numIntTypes
		return famInt, rel / numIntTypes, intTypesWidths[ti], false, true
	case op >= opFloatTypesStart && op < opSizeTypesStart:
		rel := int(op - opFloatTypesStart)
		ti := rel % numFloatTypes
		return famFloat, rel / numFloatTypes, floatTypesWidths[ti], true, true
	case op >= opSizeTypesStart && op < opStructuralStart:
		rel := int(op - opSizeTypesStart)
		ti := rel % numSizeTypes
		return famSize, rel / numSizeTypes, sizeTypesWidths[ti], false, true
	default:
		return 0, 0, 0, false, false
	}
}

var allTypesNames = [numAllTypes]string{"i8", "i16", "i32", "i64", "f32", "f64"}
var intTypesNames = [numIntTypes]string{"i8", "i16", "i32", "i64"}
var floatTypesNames = [numFloatTypes]string{"f32", "f64"}
var sizeTypesNames = [numSizeTypes]string{"8", "16", "32", "64"}

var allTypesBaseNames = [numAllTypesBases]string{"add", "sub", "mul", "cmp_eq", "cmp_ne"}
var intTypesBaseNames = [numIntTypesBases]string{
	"and", "or", "xor", "shl", "lshr", "ashr", "udiv", "sdiv", "urem", "srem",
	"cmp_ult", "cmp_ule", "cmp_ugt", "cmp_uge", "cmp_slt", "cmp_sle", "cmp_sgt", "cmp_sge",
	"ovf_add_u", "ovf_add_s", "ovf_sub_u", "ovf_sub_s", "ovf_mul_u", "ovf_mul_s",
}
var floatTypesBaseNames = [numFloatTypesBases]string{"fdiv", "frem", "cmp_olt", "cmp_ole", "cmp_ogt", "cmp_oge"}
var sizeTypesBaseNames = [numSizeTypesBases]string{"load", "store", "gep_array"}

var structuralNames = map[Opcode]string{
	OpUndefined:    "undefined",
	OpMov:          "mov",
	OpRet:          "ret",
	OpBranchUncond: "br",
	OpBranchCond:   "br_cond",
	OpBranchCondFT: "br_cond_ft",
	OpSelect:       "select",
	OpGepOffset:    "gep_offset",
	OpAllocaFixed:  "alloca",
	OpAllocaArray:  "alloca_array",
	OpExtractValue: "extractvalue",
	OpCallInternal: "call_internal",
	OpCallExternal: "call_external",
	OpMemcpy:       "memcpy",
	OpMemmove:      "memmove",
	OpMemset:       "memset",
	OpCRC32:        "crc32",
	OpZExt:         "zext",
	OpSExt:         "sext",
	OpTrunc:        "trunc",
	OpFPExt:        "fpext",
	OpFPTrunc:      "fptrunc",
	OpFPToUI:       "fptoui",
	OpFPToSI:       "fptosi",
	OpUIToFP:       "uitofp",
	OpSIToFP:       "sitofp",
	OpTrap:         "trap",
}

// String renders an opcode for disassembly/Dump output (§6.3). The exact
// textual form is not normative, only deterministic and unambiguous.
func (op Opcode) String() string {
	if op == OpUndefined {
		return "undefined"
	}
	if fam, base, t, ok := decodeTyped(op); ok {
		var baseName string
		switch fam {
		case "all":
			baseName = allTypesBaseNames[base]
		case "int":
			baseName = intTypesBaseNames[base]
		case "float":
			baseName = floatTypesBaseNames[base]
		case "size":
			baseName = sizeTypesBaseNames[base]
		}
		if fam == "size" {
			return fmt.Sprintf("%s%s", baseName, t)
		}
		return fmt.Sprintf("%s_%s", baseName, t)
	}
	if name, ok := structuralNames[op]; ok {
		return name
	}
	if op >= opExplicitCallStart {
		if name, ok := explicitCallOpcodeNames[op]; ok {
			return "explicit_call_" + name
		}
	}
	return "?unknown?"
}

// IsValid reports whether op names a live entry of the opcode
// enumeration: either a generated typed opcode, a known structural
// opcode, or a registered explicit-call opcode (§7 assertion: opcode
// validity).
func (op Opcode) IsValid() bool {
	if op == OpUndefined {
		return false
	}
	if _, _, _, ok := decodeTyped(op); ok {
		return true
	}
	if _, ok := structuralNames[op]; ok {
		return true
	}
	if op >= opExplicitCallStart {
		_, ok := explicitCallOpcodeNames[op]
		return ok
	}
	return false
}

// isDoubleSlot reports whether op occupies exactly two instruction slots
// with a static footprint: select and call_external (§3), plus the
// overflow-checked arithmetic opcodes and crc32, which need a destination
// pair (or a length operand) that doesn't fit the three-argument layout.
// call_internal and the explicit-call opcodes are handled separately
// because their footprint depends on an embedded argument count.
func (op Opcode) isDoubleSlot() bool {
	return op == OpSelect || op == OpCallExternal || op == OpCRC32 || isOverflowOpcode(op)
}

// isVariableLengthCall reports whether op is call_internal or a
// registered explicit-call opcode, both of which self-describe their own
// argument count in the first slot rather than having a static footprint.
func (op Opcode) isVariableLengthCall() bool {
	return op == OpCallInternal || op >= opExplicitCallStart
}
