package vm

import "fmt"

// NotSupportedError is raised during Analyse/Allocate/Translate/Finalize.
// It aborts the current build; no partial BytecodeFunction is ever
// published to the caller (§6.4, §7).
type NotSupportedError struct {
	Reason string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("not supported: %s", e.Reason)
}

func notSupported(format string, args ...any) error {
	return &NotSupportedError{Reason: fmt.Sprintf(format, args...)}
}

// ExecutionError is raised while an activation is running: argument-count
// mismatch, FFI/call-context preparation failure, scratch-allocation
// failure, integer division by zero, out-of-bounds memory access, reaching
// unreachable, or an invalid opcode (§6.4, §7). Execution errors do not
// roll back partial side effects already performed by the activation.
type ExecutionError struct {
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error: %s", e.Reason)
}

func execError(format string, args ...any) error {
	return &ExecutionError{Reason: fmt.Sprintf(format, args...)}
}
