// Package codegen implements the code generator: it walks a recorded
// trace.Trace and emits native instructions for one target ISA,
// producing a callable blob with a fixed signature (locals pointer, aux
// pointer -> resume PC).
//
// Only amd64 has a concrete backend (codegen_amd64.go), grounded on the
// same github.com/twitchyliquid64/golang-asm assembler that
// tetratelabs/wazero's old wasm/jit engine and go-interpreter/wagon's
// native compiler use for exactly this problem. Any other
// config.Config.ISA - or a trace this core's backend can't express in
// its int32-only lowering (see the opcode switch in codegen_amd64.go's
// emit) - is a
// code-gen failure: recoverable, degrading to interpretation with the
// entry PC blacklisted.
package codegen

import (
	"github.com/pkg/errors"

	"tracejit/internal/classfile"
	"tracejit/internal/jitcache"
	"tracejit/internal/trace"
)

// ErrUnsupportedISA/ErrUnsupportedOp are code-gen failures: the caller
// should blacklist the trace's entry PC and keep interpreting.
var (
	ErrUnsupportedISA = errors.New("codegen: no native backend for this ISA")
	ErrUnsupportedOp  = errors.New("codegen: trace contains an opcode this backend cannot lower to native code")
)

// Compile translates tr into a jitcache.CompiledTrace for the named ISA.
func Compile(isa string, tr *trace.Trace, method *classfile.Method) (*jitcache.CompiledTrace, error) {
	switch isa {
	case "amd64":
		return compileAMD64(tr, method)
	default:
		return nil, errors.Wrapf(ErrUnsupportedISA, "isa=%q", isa)
	}
}
