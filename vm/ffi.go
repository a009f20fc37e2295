package vm

import "fmt"

// Explicit calls are the "fast path" named builtins (§4.3, §5): instead of
// going through an ExternalCallContext's argument-marshalling trampoline,
// a registered explicit call gets its own opcode at or above opExplicitCallStart
// and is dispatched to directly, the same way the interpreter dispatches
// any other opcode.
//
// The host language has no raw function pointers spanning activations, so
// where the original interpreter materialized an ffi_cif and invoked
// through libffi, an explicit call here is simply a closure stored in a
// process-wide registry and looked up by opcode at dispatch time.

// ExplicitCallFunc is the signature every registered explicit call must
// implement: it receives argument words already converted to uint64 slot
// representation and returns the single result word.
type ExplicitCallFunc func(args []uint64) uint64

type explicitCallEntry struct {
	name    string
	argType []Type
	retType Type
	fn      ExplicitCallFunc
}

var (
	explicitCallByName     = map[string]Opcode{}
	explicitCallOpcodeNames = map[Opcode]string{}
	explicitCallTable       = map[Opcode]explicitCallEntry{}
	nextExplicitCallOpcode  = opExplicitCallStart
)

// RegisterExplicitCall installs a named builtin and returns the opcode now
// permanently associated with it. Registration is process-wide and
// additive: registering the same name twice is a no-op that returns the
// opcode from the first registration, so repeated builder runs (e.g. in
// tests) stay idempotent.
func RegisterExplicitCall(name string, argTypes []Type, retType Type, fn ExplicitCallFunc) Opcode {
	if op, ok := explicitCallByName[name]; ok {
		return op
	}
	op := nextExplicitCallOpcode
	nextExplicitCallOpcode++
	explicitCallByName[name] = op
	explicitCallOpcodeNames[op] = name
	explicitCallTable[op] = explicitCallEntry{name: name, argType: argTypes, retType: retType, fn: fn}
	return op
}

func lookupExplicitCall(op Opcode) (explicitCallEntry, bool) {
	e, ok := explicitCallTable[op]
	return e, ok
}

func explicitCallOpcode(name string) (Opcode, bool) {
	op, ok := explicitCallByName[name]
	return op, ok
}

// callActivation is the runtime counterpart of an ExternalCallContext
// (§4.5, §9): the value slots its arguments and return live in, bound to
// one live activation. Building one is how the interpreter gets from
// "slot indices known at build time" to "concrete uint64 values known
// only once a function is actually running".
type callActivation struct {
	ctx  *ExternalCallContext
	args []uint64
}

func buildCallActivation(ctx *ExternalCallContext, act *activation) (*callActivation, error) {
	args := make([]uint64, len(ctx.ArgSlots))
	for i, slot := range ctx.ArgSlots {
		v, err := act.getSlot(slot)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return &callActivation{ctx: ctx, args: args}, nil
}

func (c *callActivation) invoke() (uint64, error) {
	if c.ctx.Binding.Call == nil {
		return 0, execError("external call %q has no bound implementation", c.ctx.Name)
	}
	return c.ctx.Binding.Call(c.args), nil
}

func (e explicitCallEntry) describe() string {
	return fmt.Sprintf("explicit_call_%s/%d->%s", e.name, len(e.argType), e.retType)
}
