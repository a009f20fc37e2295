package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ssavm/vm"
)

// TestAssembleAndRun exercises the textual assembler's full pipeline end to
// end - source text in, a running program out - rather than constructing
// *vm.Function values directly the way vm/builder_test.go does. It touches
// call_internal, call_external, select, and a conditional branch in one
// pass so a break in any of the call-site or terminator parsers shows up
// here instead of only at the bytecode level.
func TestAssembleAndRun(t *testing.T) {
	const src = `
func @square(i64 %x) {
entry:
  %r = mul i64 %x, %x
  ret i64 %r
}

func @main() {
entry:
  %five = add i64 5, 0
  %sq = call_internal @square(%five)
  %sum = call_external @adder(i64 %sq, i64 %five) : i64
  %cond = icmp sgt i64 %sum, 0
  %picked = select i1 %cond, i64 %sum, i64 0
  br i1 %cond, label %pos, label %neg
pos:
  ret i64 %picked
neg:
  ret i64 0
}
`
	ctx := &vm.CodeContext{Externals: map[string]vm.ExternalFunc{
		"adder": {ArgTypes: []vm.Type{vm.TypeI64, vm.TypeI64}, RetType: vm.TypeI64, Call: func(args []uint64) uint64 {
			return args[0] + args[1]
		}},
	}}

	prog, err := assemble(src, ctx)
	require.NoError(t, err)
	require.Contains(t, prog.funcs, "main")
	require.Contains(t, prog.funcs, "square")

	main := prog.funcs["main"]
	bf, err := vm.Build(main)
	require.NoError(t, err)

	ret, err := vm.Execute(bf, nil)
	require.NoError(t, err)
	// square(5)=25, adder(25,5)=30, 30>0 so select/branch both take the
	// true leg.
	require.Equal(t, uint64(30), ret)
}

// TestAssembleUnresolvedInternalCall checks that a call_internal naming a
// function never defined in the source fails assembly itself, in the
// resolveInternalCalls pass, rather than surfacing as a nil-pointer panic
// at vm.Build time.
func TestAssembleUnresolvedInternalCall(t *testing.T) {
	const src = `
func @main() {
entry:
  %r = call_internal @missing()
  ret i64 %r
}
`
	_, err := assemble(src, &vm.CodeContext{})
	require.Error(t, err)
}
