package vm

import "os"

// writeDumpFile persists a textual disassembly (§6.3) to disk. Diagnostic
// only: nothing on the execution path reads these files back.
func writeDumpFile(name, content string) error {
	return os.WriteFile(name, []byte(content), 0o644)
}
