package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ssavm/vm"
)

var (
	dumpBytecode bool
	entryFunc    string
	allocNaive   bool
)

// builtinExternals are the FFI-style bindings available to call_external
// sites in assembled programs, standing in for whatever host functions a
// real query-compilation runtime would expose (§4.4, §9).
func builtinExternals() map[string]vm.ExternalFunc {
	return map[string]vm.ExternalFunc{
		"print_i64": {
			ArgTypes: []vm.Type{vm.TypeI64},
			RetType:  vm.TypeI64,
			Call: func(args []uint64) uint64 {
				fmt.Printf("print_i64: %d\n", int64(args[0]))
				return 0
			},
		},
		"print_f64": {
			ArgTypes: []vm.Type{vm.TypeDouble},
			RetType:  vm.TypeI64,
			Call: func(args []uint64) uint64 {
				fmt.Printf("print_f64: %v\n", asF64(args[0]))
				return 0
			},
		},
	}
}

// registerBuiltinExplicitCalls installs the "fast path" named builtins a
// program's call_explicit sites can target, bypassing the FFI trampoline
// (§4.3, §5).
func registerBuiltinExplicitCalls() {
	vm.RegisterExplicitCall("abs_i64", []vm.Type{vm.TypeI64}, vm.TypeI64, func(args []uint64) uint64 {
		v := int64(args[0])
		if v < 0 {
			v = -v
		}
		return uint64(v)
	})
}

func runProgram(cmd *cobra.Command, args []string) error {
	registerBuiltinExplicitCalls()

	src, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	ctx := &vm.CodeContext{Externals: builtinExternals()}
	prog, err := assemble(string(src), ctx)
	if err != nil {
		return fmt.Errorf("assemble error: %w", err)
	}

	fn, ok := prog.funcs[entryFunc]
	if !ok {
		return fmt.Errorf("no function named %q in %s", entryFunc, args[0])
	}

	mode := vm.AllocatorGreedy
	if allocNaive {
		mode = vm.AllocatorNaive
	}
	bf, err := vm.Build(fn, vm.WithAllocator(mode), vm.WithDebugSymbols())
	if err != nil {
		return fmt.Errorf("build error: %w", err)
	}

	if dumpBytecode {
		fmt.Print(bf.Dump())
	}

	if bf.NumArguments() != 0 {
		return fmt.Errorf("entry function %q must take no arguments for this harness (has %d)", entryFunc, bf.NumArguments())
	}
	ret, err := vm.Execute(bf, nil)
	if err != nil {
		return fmt.Errorf("execution error: %w", err)
	}
	fmt.Printf("result: %d (0x%x)\n", ret, ret)
	return nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bcvm <program.bcs>",
		Short:        "Assemble and run a bytecode-IR program",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runProgram,
	}
	root.Flags().BoolVar(&dumpBytecode, "dump", false, "Print the disassembled bytecode before running")
	root.Flags().StringVar(&entryFunc, "entry", "main", "Name of the function to execute")
	root.Flags().BoolVar(&allocNaive, "naive-alloc", false, "Use one value slot per SSA value instead of the greedy allocator")
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
