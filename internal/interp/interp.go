// Package interp implements the core dispatch loop: it decodes and
// executes one instruction at a time, overlaying the backward-branch
// profiler and trace recorder on every branch it takes, and handing
// control to a compiled native trace whenever one is installed for the
// current PC. It is the one package that imports every other layer;
// the dependency order terminates here.
package interp

import (
	"math"

	"github.com/pkg/errors"

	"tracejit/internal/bytecode"
	"tracejit/internal/classfile"
	"tracejit/internal/codegen"
	"tracejit/internal/config"
	"tracejit/internal/constpool"
	"tracejit/internal/diag"
	"tracejit/internal/frame"
	"tracejit/internal/handoff"
	"tracejit/internal/jitcache"
	"tracejit/internal/profile"
	"tracejit/internal/trace"
)

// methodState is the profiler/cache/recorder triple scoped to a single
// method, since PCs are method-local byte offsets and would otherwise
// collide across methods sharing one profiler or cache.
type methodState struct {
	profiler *profile.Profiler
	cache    *jitcache.Cache
	rec      *trace.Recorder
}

// Interpreter runs methods of a single loaded class, keeping every
// method's profiling/recording/compiled-trace state alive across calls -
// required for loops that span multiple top-level invocations (e.g. a
// driver that calls the same static method repeatedly) and for
// recursive calls to observe each other's warmup.
type Interpreter struct {
	cfg    config.Config
	class  *classfile.Class
	states map[*classfile.Method]*methodState

	// onStep, if set, is called before every instruction is executed -
	// the hook the CLI's --debug single-step mode installs.
	onStep func(method string, pc int, instr bytecode.Instruction)
}

// SetStepHook installs fn to be called before every instruction this
// interpreter executes, or clears it if fn is nil.
func (i *Interpreter) SetStepHook(fn func(method string, pc int, instr bytecode.Instruction)) {
	i.onStep = fn
}

// New builds an interpreter for class, applying cfg's hotness threshold,
// max trace length, and target ISA.
func New(cfg config.Config, class *classfile.Class) *Interpreter {
	return &Interpreter{
		cfg:    cfg,
		class:  class,
		states: make(map[*classfile.Method]*methodState),
	}
}

// Teardown releases every compiled trace's executable memory across every
// method this interpreter has ever run.
func (i *Interpreter) Teardown() error {
	var firstErr error
	for _, ms := range i.states {
		if err := ms.cache.Teardown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (i *Interpreter) stateFor(m *classfile.Method) *methodState {
	ms, ok := i.states[m]
	if !ok {
		ms = &methodState{
			profiler: profile.New(i.cfg.HotnessThreshold),
			cache:    jitcache.New(),
		}
		i.states[m] = ms
	}
	return ms
}

// Call resolves name in the interpreter's class and runs it with args
// bound to locals 0..len(args)-1, returning its result (if any).
func (i *Interpreter) Call(name string, args ...frame.Value) (frame.Value, bool, error) {
	m, ok := i.class.MethodByName(name)
	if !ok {
		return frame.Value{}, false, errors.Errorf("interp: no such method %q", name)
	}
	return i.invoke(m, args)
}

// invoke builds a fresh frame for m, binds args, and runs it to
// completion - one frame per activation, released on return.
func (i *Interpreter) invoke(m *classfile.Method, args []frame.Value) (frame.Value, bool, error) {
	if m.IsNative() {
		return frame.Value{}, false, diag.Fatal(diag.ErrNativeMethod, m.Name, 0, "cannot invoke native method")
	}
	f := frame.New(m)
	for idx, a := range args {
		if err := f.SetLocal(idx, a); err != nil {
			return frame.Value{}, false, err
		}
	}
	return i.runFrame(m, f)
}

// runFrame is the main dispatch loop: decode, execute, observe, repeat -
// checking the JIT cache first on every iteration a recording isn't in
// progress.
func (i *Interpreter) runFrame(m *classfile.Method, f *frame.Frame) (frame.Value, bool, error) {
	ms := i.stateFor(m)

	for {
		if ms.rec == nil {
			if ct, ok := ms.cache.Lookup(f.PC); ok {
				handoff.Invoke(ct, f)
				continue
			}
		}

		pc := f.PC
		instr, n, err := m.DecodeAt(pc)
		if err != nil {
			return frame.Value{}, false, diag.Fatal(err, m.Name, pc, "decode")
		}
		fallthroughPC := pc + n

		if i.onStep != nil {
			i.onStep(m.Name, pc, instr)
		}

		result, hasResult, nextPC, done, err := i.step(m, f, instr, pc, fallthroughPC)
		if err != nil {
			return frame.Value{}, false, err
		}
		if done {
			return result, hasResult, nil
		}

		if ms.rec != nil {
			i.absorb(ms, m, instr, pc, fallthroughPC, nextPC)
		} else if instr.Opcode.IsBranch() {
			if ms.profiler.Observe(pc, nextPC, ms.cache.IsInstalled) {
				ms.rec = trace.NewRecorder(nextPC, i.cfg.MaxTraceLength)
			}
		}

		f.PC = nextPC
	}
}

// absorb feeds one executed instruction into an in-progress recording and
// acts on its outcome: install a compiled trace on success, blacklist on
// either a recorder-level abort or a code-gen failure - both degrade to
// interpretation, neither is fatal.
func (i *Interpreter) absorb(ms *methodState, m *classfile.Method, instr bytecode.Instruction, pc, fallthroughPC, nextPC int) {
	switch ms.rec.Append(pc, instr, fallthroughPC, nextPC) {
	case trace.Aborted:
		entryPC := ms.profiler.RecordingEntry()
		diag.Log.WithFields(map[string]any{
			"method": m.Name, "entry_pc": entryPC, "reason": ms.rec.AbortReason().String(),
		}).Debug("interp: trace recording aborted")
		ms.profiler.Abort()
		ms.cache.Blacklist(entryPC)
		ms.rec = nil

	case trace.Closed:
		tr := ms.rec.Finish()
		ms.rec = nil
		ct, err := codegen.Compile(i.cfg.ISA, tr, m)
		if err != nil {
			diag.Log.WithFields(map[string]any{
				"method": m.Name, "entry_pc": tr.EntryPC, "error": err.Error(),
			}).Debug("interp: code generation failed, falling back to interpretation")
			ms.profiler.Abort()
			ms.cache.Blacklist(tr.EntryPC)
			return
		}
		ms.cache.Install(tr.EntryPC, ct)
		ms.profiler.FinishRecording()

	case trace.Continue:
	}
}

// step executes the single instruction instr recorded at pc, returning
// either the next PC to run (done == false) or the frame's final result
// (done == true, from ireturn/return).
func (i *Interpreter) step(m *classfile.Method, f *frame.Frame, instr bytecode.Instruction, pc, fallthroughPC int) (result frame.Value, hasResult bool, nextPC int, done bool, err error) {
	op := instr.Opcode
	nextPC = fallthroughPC

	switch op {
	case bytecode.Nop:

	// --- constants ---
	case bytecode.Iconst_m1, bytecode.Iconst_0, bytecode.Iconst_1, bytecode.Iconst_2,
		bytecode.Iconst_3, bytecode.Iconst_4, bytecode.Iconst_5:
		err = f.Push(frame.Int32(int32(int(op) - int(bytecode.Iconst_0))))
	case bytecode.Lconst_0:
		err = f.Push(frame.Int64(0))
	case bytecode.Lconst_1:
		err = f.Push(frame.Int64(1))
	case bytecode.Fconst_0:
		err = f.Push(frame.Float32(0))
	case bytecode.Fconst_1:
		err = f.Push(frame.Float32(1))
	case bytecode.Fconst_2:
		err = f.Push(frame.Float32(2))
	case bytecode.Dconst_0:
		err = f.Push(frame.Float64(0))
	case bytecode.Dconst_1:
		err = f.Push(frame.Float64(1))
	case bytecode.Bipush, bytecode.Sipush:
		err = f.Push(frame.Int32(instr.Operands[0]))
	case bytecode.Ldc:
		err = i.pushConstant(f, int(instr.Operands[0]))

	// --- loads ---
	case bytecode.Iload, bytecode.Lload, bytecode.Fload, bytecode.Dload:
		err = loadLocal(f, int(instr.Operands[0]))
	case bytecode.Iload_0:
		err = loadLocal(f, 0)
	case bytecode.Iload_1:
		err = loadLocal(f, 1)
	case bytecode.Iload_2:
		err = loadLocal(f, 2)
	case bytecode.Iload_3:
		err = loadLocal(f, 3)

	// --- stores ---
	case bytecode.Istore, bytecode.Lstore, bytecode.Fstore, bytecode.Dstore:
		err = storeLocal(f, int(instr.Operands[0]))
	case bytecode.Istore_0:
		err = storeLocal(f, 0)
	case bytecode.Istore_1:
		err = storeLocal(f, 1)
	case bytecode.Istore_2:
		err = storeLocal(f, 2)
	case bytecode.Istore_3:
		err = storeLocal(f, 3)

	case bytecode.Iinc:
		err = incLocal(f, int(instr.Operands[0]), instr.Operands[1])

	// --- arithmetic ---
	case bytecode.Iadd, bytecode.Isub, bytecode.Imul, bytecode.Idiv, bytecode.Irem,
		bytecode.Ladd, bytecode.Lsub, bytecode.Lmul, bytecode.Ldiv, bytecode.Lrem,
		bytecode.Fadd, bytecode.Fsub, bytecode.Fmul, bytecode.Fdiv, bytecode.Frem,
		bytecode.Dadd, bytecode.Dsub, bytecode.Dmul, bytecode.Ddiv, bytecode.Drem:
		err = binaryArith(f, op, m.Name, pc)

	// --- comparisons pushing -1/0/1 ---
	case bytecode.Lcmp, bytecode.Fcmpl, bytecode.Fcmpg, bytecode.Dcmpl, bytecode.Dcmpg:
		err = compare(f, op)

	// --- branches ---
	case bytecode.Ifeq, bytecode.Ifne, bytecode.Iflt, bytecode.Ifge, bytecode.Ifgt, bytecode.Ifle:
		var v frame.Value
		if v, err = f.Pop(); err == nil {
			if unaryTaken(op, v.Int32()) {
				nextPC = instr.BranchTarget(pc)
			}
		}
	case bytecode.If_icmpeq, bytecode.If_icmpne, bytecode.If_icmplt,
		bytecode.If_icmpge, bytecode.If_icmpgt, bytecode.If_icmple:
		var v1, v2 frame.Value
		if v2, err = f.Pop(); err == nil {
			if v1, err = f.Pop(); err == nil {
				if binaryTaken(op, v1.Int32(), v2.Int32()) {
					nextPC = instr.BranchTarget(pc)
				}
			}
		}
	case bytecode.Goto, bytecode.Goto_w:
		nextPC = instr.BranchTarget(pc)

	// --- calls ---
	case bytecode.Invokestatic:
		nextPC, err = i.invokestatic(f, instr, pc, fallthroughPC)
	case bytecode.Invokevirtual, bytecode.Invokespecial, bytecode.Invokeinterface:
		err = diag.Fatal(diag.ErrUnsupportedInvoke, m.Name, pc, "only invokestatic is supported by this core")

	case bytecode.Athrow:
		err = diag.Fatal(diag.ErrUncaughtThrow, m.Name, pc, "athrow")

	case bytecode.Ireturn, bytecode.Lreturn, bytecode.Freturn, bytecode.Dreturn:
		result, err = f.Pop()
		hasResult = true
		done = true
	case bytecode.Return:
		done = true

	default:
		err = diag.Fatal(diag.ErrUnknownOpcode, m.Name, pc, op.String())
	}

	if err != nil {
		done = false
		hasResult = false
	}
	return result, hasResult, nextPC, done, err
}

func loadLocal(f *frame.Frame, idx int) error {
	v, err := f.Local(idx)
	if err != nil {
		return err
	}
	return f.Push(v)
}

func storeLocal(f *frame.Frame, idx int) error {
	v, err := f.Pop()
	if err != nil {
		return err
	}
	return f.SetLocal(idx, v)
}

func incLocal(f *frame.Frame, idx int, delta int32) error {
	v, err := f.Local(idx)
	if err != nil {
		return err
	}
	return f.SetLocal(idx, frame.Int32(v.Int32()+delta))
}

// pushConstant resolves a constant-pool entry into a frame.Value.
func (i *Interpreter) pushConstant(f *frame.Frame, index int) error {
	entry, err := i.class.Pool.At(index)
	if err != nil {
		return err
	}
	switch entry.Kind {
	case constpool.KindInt32:
		return f.Push(frame.FromBits(frame.KindInt32, entry.Bits))
	case constpool.KindInt64:
		return f.Push(frame.FromBits(frame.KindInt64, entry.Bits))
	case constpool.KindFloat32:
		return f.Push(frame.FromBits(frame.KindFloat32, entry.Bits))
	case constpool.KindFloat64:
		return f.Push(frame.FromBits(frame.KindFloat64, entry.Bits))
	default:
		return errors.Errorf("interp: constant pool entry %d is not a loadable literal", index)
	}
}

// binaryArith pops two operands of the type op's mnemonic names and
// pushes the result, covering the int/long/float/double arithmetic
// family. idiv/irem/ldiv/lrem on a zero divisor are fatal; fdiv/ddiv/
// frem/drem follow IEEE 754 and never error.
func binaryArith(f *frame.Frame, op bytecode.Opcode, methodName string, pc int) error {
	v2, err := f.Pop()
	if err != nil {
		return err
	}
	v1, err := f.Pop()
	if err != nil {
		return err
	}

	switch op {
	case bytecode.Iadd:
		return f.Push(frame.Int32(v1.Int32() + v2.Int32()))
	case bytecode.Isub:
		return f.Push(frame.Int32(v1.Int32() - v2.Int32()))
	case bytecode.Imul:
		return f.Push(frame.Int32(v1.Int32() * v2.Int32()))
	case bytecode.Idiv:
		if v2.Int32() == 0 {
			return diag.Fatal(diag.ErrDivisionByZero, methodName, pc, "idiv")
		}
		return f.Push(frame.Int32(v1.Int32() / v2.Int32()))
	case bytecode.Irem:
		if v2.Int32() == 0 {
			return diag.Fatal(diag.ErrDivisionByZero, methodName, pc, "irem")
		}
		return f.Push(frame.Int32(v1.Int32() % v2.Int32()))

	case bytecode.Ladd:
		return f.Push(frame.Int64(v1.Int64() + v2.Int64()))
	case bytecode.Lsub:
		return f.Push(frame.Int64(v1.Int64() - v2.Int64()))
	case bytecode.Lmul:
		return f.Push(frame.Int64(v1.Int64() * v2.Int64()))
	case bytecode.Ldiv:
		if v2.Int64() == 0 {
			return diag.Fatal(diag.ErrDivisionByZero, methodName, pc, "ldiv")
		}
		return f.Push(frame.Int64(v1.Int64() / v2.Int64()))
	case bytecode.Lrem:
		if v2.Int64() == 0 {
			return diag.Fatal(diag.ErrDivisionByZero, methodName, pc, "lrem")
		}
		return f.Push(frame.Int64(v1.Int64() % v2.Int64()))

	case bytecode.Fadd:
		return f.Push(frame.Float32(v1.Float32() + v2.Float32()))
	case bytecode.Fsub:
		return f.Push(frame.Float32(v1.Float32() - v2.Float32()))
	case bytecode.Fmul:
		return f.Push(frame.Float32(v1.Float32() * v2.Float32()))
	case bytecode.Fdiv:
		return f.Push(frame.Float32(v1.Float32() / v2.Float32()))
	case bytecode.Frem:
		return f.Push(frame.Float32(float32(math.Mod(float64(v1.Float32()), float64(v2.Float32())))))

	case bytecode.Dadd:
		return f.Push(frame.Float64(v1.Float64() + v2.Float64()))
	case bytecode.Dsub:
		return f.Push(frame.Float64(v1.Float64() - v2.Float64()))
	case bytecode.Dmul:
		return f.Push(frame.Float64(v1.Float64() * v2.Float64()))
	case bytecode.Ddiv:
		return f.Push(frame.Float64(v1.Float64() / v2.Float64()))
	case bytecode.Drem:
		return f.Push(frame.Float64(math.Mod(v1.Float64(), v2.Float64())))
	}
	return errors.Errorf("interp: binaryArith called with non-arithmetic opcode %s", op)
}

// compare implements lcmp/fcmpl/fcmpg/dcmpl/dcmpg: pop two same-typed
// operands, push an int32 of -1/0/1. The float/double variants differ
// only in which sentinel a NaN operand produces, per JVMS §6.5
// fcmp<op>/dcmp<op>.
func compare(f *frame.Frame, op bytecode.Opcode) error {
	v2, err := f.Pop()
	if err != nil {
		return err
	}
	v1, err := f.Pop()
	if err != nil {
		return err
	}

	switch op {
	case bytecode.Lcmp:
		return f.Push(frame.Int32(cmp3(v1.Int64(), v2.Int64())))
	case bytecode.Fcmpl, bytecode.Fcmpg:
		a, b := v1.Float32(), v2.Float32()
		if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
			if op == bytecode.Fcmpg {
				return f.Push(frame.Int32(1))
			}
			return f.Push(frame.Int32(-1))
		}
		return f.Push(frame.Int32(cmp3f(float64(a), float64(b))))
	case bytecode.Dcmpl, bytecode.Dcmpg:
		a, b := v1.Float64(), v2.Float64()
		if math.IsNaN(a) || math.IsNaN(b) {
			if op == bytecode.Dcmpg {
				return f.Push(frame.Int32(1))
			}
			return f.Push(frame.Int32(-1))
		}
		return f.Push(frame.Int32(cmp3f(a, b)))
	}
	return errors.Errorf("interp: compare called with non-comparison opcode %s", op)
}

func cmp3(a, b int64) int32 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

func cmp3f(a, b float64) int32 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

// unaryTaken decides an ifeq/ifne/iflt/ifge/ifgt/ifle against 0.
func unaryTaken(op bytecode.Opcode, v int32) bool {
	switch op {
	case bytecode.Ifeq:
		return v == 0
	case bytecode.Ifne:
		return v != 0
	case bytecode.Iflt:
		return v < 0
	case bytecode.Ifge:
		return v >= 0
	case bytecode.Ifgt:
		return v > 0
	case bytecode.Ifle:
		return v <= 0
	}
	return false
}

// binaryTaken decides an if_icmp<cond> comparing v1 (pushed first) against
// v2 (pushed second, popped first).
func binaryTaken(op bytecode.Opcode, v1, v2 int32) bool {
	switch op {
	case bytecode.If_icmpeq:
		return v1 == v2
	case bytecode.If_icmpne:
		return v1 != v2
	case bytecode.If_icmplt:
		return v1 < v2
	case bytecode.If_icmpge:
		return v1 >= v2
	case bytecode.If_icmpgt:
		return v1 > v2
	case bytecode.If_icmple:
		return v1 <= v2
	}
	return false
}

// invokestatic resolves the constant-pool method reference, pops its
// arguments off the caller's stack, runs the callee to completion in a
// fresh frame, and pushes its result if it returned one. Call support is
// bounded to invokestatic, with zero inlining depth: this is always a
// real recursive call, never traced.
func (i *Interpreter) invokestatic(f *frame.Frame, instr bytecode.Instruction, pc, fallthroughPC int) (int, error) {
	index := int(instr.Operands[0])
	entry, err := i.class.Pool.At(index)
	if err != nil {
		return 0, err
	}
	if entry.Kind != constpool.KindMethodRef {
		return 0, errors.Errorf("interp: constant pool entry %d at pc %d is not a method reference", index, pc)
	}
	if entry.MethodIndex < 0 || entry.MethodIndex >= len(i.class.Methods) {
		return 0, errors.Errorf("interp: method reference %q resolves to out-of-range index %d", entry.MethodName, entry.MethodIndex)
	}
	callee := i.class.Methods[entry.MethodIndex]

	args := make([]frame.Value, callee.NumArgs)
	for n := callee.NumArgs - 1; n >= 0; n-- {
		v, err := f.Pop()
		if err != nil {
			return 0, err
		}
		args[n] = v
	}

	result, hasResult, err := i.invoke(callee, args)
	if err != nil {
		return 0, err
	}
	if hasResult {
		if err := f.Push(result); err != nil {
			return 0, err
		}
	}
	return fallthroughPC, nil
}
