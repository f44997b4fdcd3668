// Package diag centralizes structured logging and fatal-diagnostic
// formatting for the core. Fatal errors (loader/decoder/interpreter
// semantic errors) are wrapped here so the method name and PC travel
// with them all the way out to main.
package diag

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Log is the package-level logger. Verbosity is controlled once, at process
// start, by TRACEJIT_LOG_LEVEL.
var Log = logrus.New()

func init() {
	Log.SetOutput(os.Stderr)
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.InfoLevel
	if raw := os.Getenv("TRACEJIT_LOG_LEVEL"); raw != "" {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		} else {
			Log.Warnf("invalid TRACEJIT_LOG_LEVEL %q, defaulting to info", raw)
		}
	}
	Log.SetLevel(level)
}

// Fatal errors are sentinel values so callers can errors.Is against them.
var (
	ErrUnknownOpcode      = errors.New("unknown opcode")
	ErrTruncatedBytecode  = errors.New("truncated instruction stream")
	ErrStackUnderflow     = errors.New("operand stack underflow")
	ErrStackOverflow      = errors.New("operand stack overflow")
	ErrLocalIndexRange    = errors.New("local variable index out of range")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrNativeMethod       = errors.New("native method has no bytecode body")
	ErrUnsupportedInvoke  = errors.New("unsupported invoke variant")
	ErrProgramFinished    = errors.New("program finished")
	ErrUncaughtThrow      = errors.New("uncaught exception: this core has no exception dispatch")
)

// Fatal wraps a sentinel core error with the method/PC context a crash
// report needs: which method, which PC, and why.
func Fatal(sentinel error, method string, pc int, reason string) error {
	return errors.Wrapf(sentinel, "method=%s pc=%d: %s", method, pc, reason)
}

// PrintFatal writes the final diagnostic to stderr before the process
// exits non-zero.
func PrintFatal(err error) {
	fmt.Fprintf(os.Stderr, "tracejit: fatal: %+v\n", err)
}
