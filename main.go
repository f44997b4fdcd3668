// Command tracejit runs a textual JVM-subset program (internal/classfile's
// assembler format) under the tracing interpreter, with a flat top-level
// main.go and cobra-based argument parsing.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tracejit/internal/bytecode"
	"tracejit/internal/classfile"
	"tracejit/internal/config"
	"tracejit/internal/diag"
	"tracejit/internal/frame"
	"tracejit/internal/interp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "tracejit",
		Short: "A tracing JIT for a small JVM SE7 bytecode subset",
	}

	runCmd := &cobra.Command{
		Use:   "run <path> <entry-method> [int-args...]",
		Short: "Assemble and run a textual program, starting at entry-method",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ApplyEnvOverrides()
			return runFile(cfg, args[0], args[1], args[2:])
		},
	}
	runCmd.Flags().IntVar(&cfg.HotnessThreshold, "threshold", cfg.HotnessThreshold, "backward-branch count before a loop is recorded")
	runCmd.Flags().IntVar(&cfg.MaxTraceLength, "max-trace-length", cfg.MaxTraceLength, "maximum number of instructions a single trace may record")
	runCmd.Flags().StringVar(&cfg.ISA, "isa", cfg.ISA, "target ISA for native code generation (amd64, or any other value to force interpretation-only)")
	runCmd.Flags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "single-step every instruction, printing each one before it runs")

	root.AddCommand(runCmd)
	return root
}

func runFile(cfg config.Config, path, entry string, rawArgs []string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	class, err := classfile.Assemble(string(src))
	if err != nil {
		diag.PrintFatal(err)
		return err
	}

	args := make([]frame.Value, len(rawArgs))
	for idx, raw := range rawArgs {
		var n int64
		if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
			return fmt.Errorf("argument %q is not an integer: %w", raw, err)
		}
		args[idx] = frame.Int32(int32(n))
	}

	it := interp.New(cfg, class)
	defer it.Teardown()

	if cfg.ISA != "amd64" {
		diag.Log.WithField("isa", cfg.ISA).Warn("tracejit: no native backend for this ISA, running interpretation-only")
	}
	if cfg.Debug {
		it.SetStepHook(stepPrinter())
	}

	result, hasResult, err := it.Call(entry, args...)
	if err != nil {
		diag.PrintFatal(err)
		return err
	}
	if hasResult {
		printResult(result)
	}
	return nil
}

func printResult(v frame.Value) {
	switch v.Kind() {
	case frame.KindInt64:
		fmt.Println(v.Int64())
	case frame.KindFloat32:
		fmt.Println(v.Float32())
	case frame.KindFloat64:
		fmt.Println(v.Float64())
	default:
		fmt.Println(v.Int32())
	}
}

// stepPrinter returns a step hook for single-step debug mode: print the
// instruction about to run and block until a line is read from stdin:
// "r"/"run" stops pausing, any other line steps once.
func stepPrinter() func(method string, pc int, instr bytecode.Instruction) {
	reader := bufio.NewReader(os.Stdin)
	paused := true
	return func(method string, pc int, instr bytecode.Instruction) {
		if !paused {
			return
		}
		fmt.Printf("%s@%d: %s %v\n->", method, pc, instr.Opcode, instr.Operands)
		line, _ := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "r", "run":
			paused = false
		}
	}
}
