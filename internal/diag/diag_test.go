package diag

import (
	"testing"

	"github.com/pkg/errors"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestFatalWrapsSentinelWithContext(t *testing.T) {
	err := Fatal(ErrStackUnderflow, "sumsquares", 12, "pop on empty stack")

	assert(t, errors.Is(err, ErrStackUnderflow), "expected errors.Is to still find the sentinel through the wrap")
	assert(t, err.Error() != ErrStackUnderflow.Error(), "expected the wrapped error to carry more context than the bare sentinel")
}
