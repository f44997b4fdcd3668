// Package config holds the small set of tunables this core leaves as
// implementation choices: the profiler's hotness threshold, the recorder's
// max trace length, and the target ISA for code generation.
package config

import (
	"os"
	"strconv"
)

// Config is populated by the CLI (flags) with environment-variable
// overrides, so an operator can override a compiled-in default without
// touching the invocation.
type Config struct {
	// HotnessThreshold is the backward-branch count at which the profiler
	// promotes a target PC to RECORDING. Real tracing JITs vary this
	// between 1 and 2 observations; this core defaults to 1.
	HotnessThreshold int

	// MaxTraceLength bounds recorded trace length.
	MaxTraceLength int

	// ISA names the single target backend for this build. Only "amd64"
	// has a native code generator in this core; any other value runs
	// the interpreter exclusively.
	ISA string

	// Debug enables the CLI's single-step debug mode, pausing before
	// every instruction.
	Debug bool
}

// Default returns the core's default configuration.
func Default() Config {
	return Config{
		HotnessThreshold: 1,
		MaxTraceLength:   512,
		ISA:              "amd64",
	}
}

// ApplyEnvOverrides mutates cfg in place from TRACEJIT_* environment
// variables, letting an operator override a compiled-in flag default
// without touching the invocation.
func (cfg *Config) ApplyEnvOverrides() {
	if raw := os.Getenv("TRACEJIT_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.HotnessThreshold = v
		}
	}
	if raw := os.Getenv("TRACEJIT_MAX_TRACE_LENGTH"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.MaxTraceLength = v
		}
	}
	if raw := os.Getenv("TRACEJIT_ISA"); raw != "" {
		cfg.ISA = raw
	}
}
