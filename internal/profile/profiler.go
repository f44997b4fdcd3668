// Package profile implements the backward-branch profiler: a counter
// per loop-header candidate PC, and a two-state machine (IDLE/RECORDING)
// that promotes a hot target to recording once its count reaches the
// configured threshold.
package profile

import "tracejit/internal/diag"

// State is the profiler's current mode.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "RECORDING"
	}
	return "IDLE"
}

// Profiler tracks per-target-PC backward-branch counts and the current
// recording state. It never touches the JIT cache directly - the
// interpreter supplies an isCompiled callback, keeping the dependency
// order decoder -> profiler -> recorder -> codegen -> cache -> handoff
// -> interpreter loop a one-way street.
type Profiler struct {
	threshold int
	counts    map[int]int
	blacklist map[int]struct{}

	state          State
	recordingEntry int
}

func New(threshold int) *Profiler {
	return &Profiler{
		threshold: threshold,
		counts:    make(map[int]int),
		blacklist: make(map[int]struct{}),
	}
}

// Observe registers one execution of the branch sourcePC -> targetPC. If
// the branch is backward (targetPC < sourcePC) its target's counter is
// incremented; counters are monotonically non-decreasing. When the
// profiler is IDLE and the target's count has reached the
// threshold, is not blacklisted, and has no compiled trace (per
// isCompiled), Observe promotes to RECORDING and returns true so the
// caller knows to start the trace recorder at targetPC.
func (p *Profiler) Observe(sourcePC, targetPC int, isCompiled func(pc int) bool) bool {
	if targetPC >= sourcePC {
		return false // not a backward branch, not loop-header material
	}

	p.counts[targetPC]++

	if p.state != Idle {
		return false
	}
	if _, blacklisted := p.blacklist[targetPC]; blacklisted {
		return false
	}
	if p.counts[targetPC] < p.threshold {
		return false
	}
	if isCompiled(targetPC) {
		return false
	}

	p.state = Recording
	p.recordingEntry = targetPC
	diag.Log.WithFields(map[string]any{"entry_pc": targetPC, "count": p.counts[targetPC]}).Debug("profiler: promoting to RECORDING")
	return true
}

// Count returns the current backward-branch count for pc, exposed for
// monotonicity tests.
func (p *Profiler) Count(pc int) int { return p.counts[pc] }

// State reports the profiler's current mode.
func (p *Profiler) State() State { return p.state }

// RecordingEntry returns the PC recording started at; only meaningful
// while State() == Recording.
func (p *Profiler) RecordingEntry() int { return p.recordingEntry }

// FinishRecording transitions RECORDING -> IDLE after a trace closes
// successfully.
func (p *Profiler) FinishRecording() {
	p.state = Idle
}

// Abort transitions RECORDING -> IDLE and blacklists the entry PC that
// was being recorded.
func (p *Profiler) Abort() {
	p.blacklist[p.recordingEntry] = struct{}{}
	diag.Log.WithField("entry_pc", p.recordingEntry).Debug("profiler: recording aborted, blacklisting")
	p.state = Idle
}

// IsBlacklisted reports whether pc was permanently marked un-recordable.
func (p *Profiler) IsBlacklisted(pc int) bool {
	_, ok := p.blacklist[pc]
	return ok
}
