package profile

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func notCompiled(int) bool { return false }

func TestObserveIgnoresForwardBranches(t *testing.T) {
	p := New(1)
	promoted := p.Observe(0, 10, notCompiled)
	assert(t, !promoted, "a forward branch should never promote to recording")
	assert(t, p.State() == Idle, "expected profiler to stay IDLE")
}

func TestObservePromotesAtThreshold(t *testing.T) {
	p := New(2)
	promoted := p.Observe(10, 0, notCompiled)
	assert(t, !promoted, "first backward branch should not yet hit threshold 2")
	assert(t, p.Count(0) == 1, "expected count 1, got %d", p.Count(0))

	promoted = p.Observe(10, 0, notCompiled)
	assert(t, promoted, "second backward branch should cross threshold 2")
	assert(t, p.State() == Recording, "expected RECORDING state")
	assert(t, p.RecordingEntry() == 0, "expected recording entry 0, got %d", p.RecordingEntry())
}

func TestObserveSkipsWhileAlreadyRecording(t *testing.T) {
	p := New(1)
	assert(t, p.Observe(10, 0, notCompiled), "expected first branch to promote with threshold 1")

	promoted := p.Observe(20, 5, notCompiled)
	assert(t, !promoted, "a second target should not promote while already RECORDING")
	assert(t, p.State() == Recording, "expected profiler to remain RECORDING")
}

func TestAbortBlacklistsAndReturnsToIdle(t *testing.T) {
	p := New(1)
	assert(t, p.Observe(10, 0, notCompiled), "expected promotion at threshold 1")
	p.Abort()
	assert(t, p.State() == Idle, "expected IDLE after abort")
	assert(t, p.IsBlacklisted(0), "expected pc 0 blacklisted after abort")

	promoted := p.Observe(10, 0, notCompiled)
	assert(t, !promoted, "a blacklisted target should never promote again")
}

func TestFinishRecordingReturnsToIdleWithoutBlacklisting(t *testing.T) {
	p := New(1)
	assert(t, p.Observe(10, 0, notCompiled), "expected promotion")
	p.FinishRecording()
	assert(t, p.State() == Idle, "expected IDLE after FinishRecording")
	assert(t, !p.IsBlacklisted(0), "FinishRecording must not blacklist")
}

func TestObserveSkipsAlreadyCompiledTarget(t *testing.T) {
	p := New(1)
	isCompiled := func(pc int) bool { return pc == 0 }
	promoted := p.Observe(10, 0, isCompiled)
	assert(t, !promoted, "a target with an installed compiled trace should not be re-recorded")
}

func TestCountIsMonotonic(t *testing.T) {
	p := New(100)
	prev := 0
	for i := 0; i < 5; i++ {
		p.Observe(10, 0, notCompiled)
		cur := p.Count(0)
		assert(t, cur >= prev, "count regressed: %d -> %d", prev, cur)
		prev = cur
	}
	assert(t, prev == 5, "expected count 5 after 5 observations, got %d", prev)
}
