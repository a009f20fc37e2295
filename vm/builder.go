package vm

// buildOptions collects everything a BuildOption can influence about a
// single Build call (§4.2 allocator choice, §6.3 debug-symbol capture).
type buildOptions struct {
	allocator    AllocatorMode
	debugSymbols bool
}

// BuildOption configures a single Build call.
type BuildOption func(*buildOptions)

// WithAllocator selects the register allocation strategy (§4.2). The
// default is AllocatorGreedy.
func WithAllocator(mode AllocatorMode) BuildOption {
	return func(o *buildOptions) { o.allocator = mode }
}

// WithDebugSymbols retains each instruction's source annotation in the
// finished BytecodeFunction so Dump can print it (§6.3). Off by default:
// it costs a map entry per instruction and this is a query-compilation
// hot path.
func WithDebugSymbols() BuildOption {
	return func(o *buildOptions) { o.debugSymbols = true }
}

func withDebugSymbols(on bool) BuildOption {
	return func(o *buildOptions) { o.debugSymbols = on }
}

func resolveOptions(opts []BuildOption) *buildOptions {
	o := &buildOptions{allocator: AllocatorGreedy}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Build runs the full pipeline - Analyse, Allocate, Translate, Finalize -
// over fn and produces an immutable BytecodeFunction (§4).
//
// A CallInternal instruction recursively builds its callee the same way,
// so a single top-level Build call can produce an entire tree of
// sub-functions; recursion inherits the caller's debug-symbol setting but
// always uses the greedy allocator, since a callee's register pressure is
// independent of whatever the caller chose.
func Build(fn *Function, opts ...BuildOption) (*BytecodeFunction, error) {
	o := resolveOptions(opts)

	a, err := Analyse(fn)
	if err != nil {
		return nil, err
	}
	alloc, err := Allocate(a, o.allocator)
	if err != nil {
		return nil, err
	}
	t, err := translate(a, alloc, fn, o.debugSymbols)
	if err != nil {
		return nil, err
	}
	if len(t.code) > maxIndex+1 {
		return nil, notSupported("function %s requires more than %d bytecode slots", fn.Name, maxIndex+1)
	}
	if t.numValueSlots > maxIndex+1 {
		return nil, notSupported("function %s requires more than %d value slots", fn.Name, maxIndex+1)
	}

	constants := make([]uint64, len(a.constOrder))
	for i, vidx := range a.constOrder {
		constants[i] = a.values[vidx].constBits
	}

	bf := &BytecodeFunction{
		name:          fn.Name,
		bytecode:      t.code,
		constants:     constants,
		numValueSlots: t.numValueSlots,
		numArguments:  len(fn.Args),
		externalCalls: t.externalCalls,
		subFunctions:  t.subFunctions,
	}
	if o.debugSymbols {
		bf.sourceAnnotations = t.annotations
	}
	return bf, nil
}
