//go:build !amd64

package codegen

import (
	"tracejit/internal/classfile"
	"tracejit/internal/jitcache"
	"tracejit/internal/trace"
)

// compileAMD64 has no implementation outside amd64 builds; Compile's ISA
// switch still resolves the name, it just always fails as a code-gen
// error - recoverable, degrades to interpretation.
func compileAMD64(tr *trace.Trace, method *classfile.Method) (*jitcache.CompiledTrace, error) {
	return nil, ErrUnsupportedISA
}
