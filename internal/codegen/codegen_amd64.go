//go:build amd64

package codegen

import (
	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
	"github.com/pkg/errors"

	"tracejit/internal/bytecode"
	"tracejit/internal/classfile"
	"tracejit/internal/jitcache"
	"tracejit/internal/nativemem"
	"tracejit/internal/trace"
)

// jitcall is the Go<->native trampoline (asm_amd64.s): it loads code's
// two arguments into the calling convention this package's generated
// traces expect (locals pointer in DI, aux pointer in SI), calls into
// code, and returns EAX as the resume PC.
//
//go:noescape
func jitcall(code, locals, aux uintptr) int32

// Registers generated code touches. DI/SI are the incoming arguments;
// AX/CX are scratch, used to shuttle values between locals and the
// emulated operand stack - a small SP-relative array reserved in this
// trace's own prologue, chosen over a real register allocator to keep
// the generator simple.
const (
	regLocals = x86.REG_DI
	regAux    = x86.REG_SI
	regA      = x86.REG_AX
	regB      = x86.REG_CX
)

func compileAMD64(tr *trace.Trace, method *classfile.Method) (*jitcache.CompiledTrace, error) {
	if maxLocal := tr.MaxLocal(); maxLocal >= method.MaxLocals {
		return nil, errors.Errorf("codegen: trace touches local %d beyond method's maxLocals %d", maxLocal, method.MaxLocals)
	}
	if tr.ExitPC == trace.NoExit {
		return nil, errors.Wrap(ErrUnsupportedOp, "codegen: trace has no guard to exit through, would compile to an unconditional native loop")
	}

	b, err := asm.NewBuilder("amd64", 64)
	if err != nil {
		return nil, errors.Wrap(err, "codegen: create assembler")
	}

	frameSize := int64(method.MaxStack) * 8
	if frameSize == 0 {
		frameSize = 8
	}
	g := &gen{b: b, frameSize: frameSize}

	// Prologue: reserve the operand-stack scratch area. Not part of the
	// translated trace body, so it must run exactly once per Invoke, never
	// on the loop-back edge.
	sub := g.b.NewProg()
	sub.As = x86.ASUBQ
	sub.From.Type = obj.TYPE_CONST
	sub.From.Offset = frameSize
	sub.To.Type = obj.TYPE_REG
	sub.To.Reg = x86.REG_SP
	g.b.AddInstruction(sub)

	var entry *obj.Prog
	lastPC := tr.Ops[len(tr.Ops)-1].PC
	for _, op := range tr.Ops {
		closing := op.PC == lastPC && op.Instr.Opcode.IsBranch() && op.Instr.BranchTarget(op.PC) == tr.EntryPC
		if err := g.emit(op, closing); err != nil {
			return nil, err
		}
		if entry == nil {
			entry = g.first
		}
	}
	if entry == nil {
		return nil, errors.Wrap(ErrUnsupportedOp, "codegen: trace produced no native instructions")
	}
	if g.depth != 0 {
		return nil, errors.Errorf("codegen: operand stack depth %d at trace end, want 0", g.depth)
	}
	g.entry = entry

	if err := g.patchEntryJumps(); err != nil {
		return nil, err
	}
	if err := g.emitExitEpilogues(); err != nil {
		return nil, err
	}

	code, err := b.Assemble()
	if err != nil {
		return nil, errors.Wrap(err, "codegen: assemble native code")
	}

	region, err := nativemem.Allocate(code)
	if err != nil {
		return nil, errors.Wrap(err, "codegen: allocate executable region")
	}

	addr := region.Addr()
	return &jitcache.CompiledTrace{
		EntryPC: tr.EntryPC,
		Invoke: func(localsPtr, auxPtr uintptr) int32 {
			return jitcall(addr, localsPtr, auxPtr)
		},
		Release: region.Release,
	}, nil
}

// exitPatch defers resolving a guard jump's target to the matching
// epilogue block, emitted only after the whole trace body exists -
// the same onLabelStartCallbacks idiom the example pack's JIT engines
// use for forward references (golang-asm has no post-hoc relocation of
// its own; label resolution is the caller's job).
type exitPatch struct {
	prog   *obj.Prog
	exitPC int
}

type gen struct {
	b     *asm.Builder
	first *obj.Prog // first instruction emitted for the op currently being translated

	frameSize int64
	depth     int // compile-time operand-stack depth, in slots

	entry      *obj.Prog
	entryJumps []*obj.Prog // backward jumps to the trace's own entry, patched once entry is known
	exits      []exitPatch
}

func (g *gen) newProg() *obj.Prog {
	p := g.b.NewProg()
	if g.first == nil {
		g.first = p
	}
	return p
}

func (g *gen) add(p *obj.Prog) {
	g.b.AddInstruction(p)
}

// vpush stores reg into the next free operand-stack slot.
func (g *gen) vpush(reg int16) {
	mov := g.newProg()
	mov.As = x86.AMOVQ
	mov.From.Type = obj.TYPE_REG
	mov.From.Reg = reg
	mov.To.Type = obj.TYPE_MEM
	mov.To.Reg = x86.REG_SP
	mov.To.Offset = int64(g.depth) * 8
	g.add(mov)
	g.depth++
}

// vpop loads the top operand-stack slot into reg.
func (g *gen) vpop(reg int16) {
	g.depth--
	mov := g.newProg()
	mov.As = x86.AMOVQ
	mov.From.Type = obj.TYPE_MEM
	mov.From.Reg = x86.REG_SP
	mov.From.Offset = int64(g.depth) * 8
	mov.To.Type = obj.TYPE_REG
	mov.To.Reg = reg
	g.add(mov)
}

// emit translates one recorded op, resetting g.first so the caller can
// learn where this op's native instructions begin.
func (g *gen) emit(op trace.RecordedOp, closing bool) error {
	g.first = nil
	instr := op.Instr

	switch instr.Opcode {
	case bytecode.Nop:
		return nil

	case bytecode.Goto, bytecode.Goto_w:
		if !closing {
			// Mid-trace: the trace's Ops slice already encodes the
			// control transfer this opcode performed when recorded, so
			// the next op is already in its post-jump position.
			return nil
		}
		// Closing, unconditional: the only way back to entry, so unlike
		// a guard there is no separate not-taken path to wire up.
		jmp := g.newProg()
		jmp.As = obj.AJMP
		jmp.To.Type = obj.TYPE_BRANCH
		g.add(jmp)
		g.entryJumps = append(g.entryJumps, jmp)
		return nil

	case bytecode.Iconst_m1, bytecode.Iconst_0, bytecode.Iconst_1, bytecode.Iconst_2,
		bytecode.Iconst_3, bytecode.Iconst_4, bytecode.Iconst_5:
		return g.pushConst(int32(iconstValue(instr.Opcode)))
	case bytecode.Bipush, bytecode.Sipush:
		return g.pushConst(instr.Operands[0])

	case bytecode.Iload:
		return g.pushLocal(int(instr.Operands[0]))
	case bytecode.Iload_0:
		return g.pushLocal(0)
	case bytecode.Iload_1:
		return g.pushLocal(1)
	case bytecode.Iload_2:
		return g.pushLocal(2)
	case bytecode.Iload_3:
		return g.pushLocal(3)

	case bytecode.Istore:
		return g.popToLocal(int(instr.Operands[0]))
	case bytecode.Istore_0:
		return g.popToLocal(0)
	case bytecode.Istore_1:
		return g.popToLocal(1)
	case bytecode.Istore_2:
		return g.popToLocal(2)
	case bytecode.Istore_3:
		return g.popToLocal(3)

	case bytecode.Iinc:
		return g.incLocal(int(instr.Operands[0]), int32(instr.Operands[1]))

	case bytecode.Iadd:
		return g.binOp(x86.AADDL)
	case bytecode.Isub:
		return g.binOpSub()
	case bytecode.Imul:
		return g.binOp(x86.AIMULL)

	case bytecode.Ifeq, bytecode.Ifne, bytecode.Iflt, bytecode.Ifge, bytecode.Ifgt, bytecode.Ifle:
		return g.guardUnary(instr.Opcode, op, closing)
	case bytecode.If_icmpeq, bytecode.If_icmpne, bytecode.If_icmplt,
		bytecode.If_icmpge, bytecode.If_icmpgt, bytecode.If_icmple:
		return g.guardBinary(instr.Opcode, op, closing)

	default:
		return errors.Wrapf(ErrUnsupportedOp, "opcode %s", instr.Opcode)
	}
}

func iconstValue(op bytecode.Opcode) int {
	return int(op) - int(bytecode.Iconst_0)
}

// pushConst emits AX = imm; vpush(AX).
func (g *gen) pushConst(imm int32) error {
	mov := g.newProg()
	mov.As = x86.AMOVL
	mov.From.Type = obj.TYPE_CONST
	mov.From.Offset = int64(imm)
	mov.To.Type = obj.TYPE_REG
	mov.To.Reg = regA
	g.add(mov)
	g.vpush(regA)
	return nil
}

// pushLocal emits AX = locals[idx]; vpush(AX).
func (g *gen) pushLocal(idx int) error {
	mov := g.newProg()
	mov.As = x86.AMOVL
	mov.From.Type = obj.TYPE_MEM
	mov.From.Reg = regLocals
	mov.From.Offset = int64(idx) * 8
	mov.To.Type = obj.TYPE_REG
	mov.To.Reg = regA
	g.add(mov)
	g.vpush(regA)
	return nil
}

// popToLocal emits vpop(AX); locals[idx] = AX (low 32 bits).
func (g *gen) popToLocal(idx int) error {
	g.vpop(regA)
	mov := g.newProg()
	mov.As = x86.AMOVL
	mov.From.Type = obj.TYPE_REG
	mov.From.Reg = regA
	mov.To.Type = obj.TYPE_MEM
	mov.To.Reg = regLocals
	mov.To.Offset = int64(idx) * 8
	g.add(mov)
	return nil
}

// incLocal emits locals[idx] += delta directly in memory.
func (g *gen) incLocal(idx int, delta int32) error {
	add := g.newProg()
	add.As = x86.AADDL
	add.From.Type = obj.TYPE_CONST
	add.From.Offset = int64(delta)
	add.To.Type = obj.TYPE_MEM
	add.To.Reg = regLocals
	add.To.Offset = int64(idx) * 8
	g.add(add)
	return nil
}

// binOp pops value2 into CX, value1 into AX, applies as (AX op= CX) and
// pushes AX back - correct for commutative ops (iadd, imul).
func (g *gen) binOp(as obj.As) error {
	g.vpop(regB)
	g.vpop(regA)

	op := g.newProg()
	op.As = as
	op.From.Type = obj.TYPE_REG
	op.From.Reg = regB
	op.To.Type = obj.TYPE_REG
	op.To.Reg = regA
	g.add(op)

	g.vpush(regA)
	return nil
}

// binOpSub computes value1 - value2 (isub is not commutative: CX holds
// the later-pushed value2, AX the earlier-pushed value1, per the JVM's
// stack-order convention for binary operands).
func (g *gen) binOpSub() error {
	g.vpop(regB)
	g.vpop(regA)

	sub := g.newProg()
	sub.As = x86.ASUBL
	sub.From.Type = obj.TYPE_REG
	sub.From.Reg = regB
	sub.To.Type = obj.TYPE_REG
	sub.To.Reg = regA
	g.add(sub)

	g.vpush(regA)
	return nil
}

// naturalJcc maps a conditional opcode to the jump taken exactly when
// the opcode's own JVM condition holds.
func naturalJcc(op bytecode.Opcode) obj.As {
	switch op {
	case bytecode.Ifeq, bytecode.If_icmpeq:
		return x86.AJEQ
	case bytecode.Ifne, bytecode.If_icmpne:
		return x86.AJNE
	case bytecode.Iflt, bytecode.If_icmplt:
		return x86.AJLT
	case bytecode.Ifge, bytecode.If_icmpge:
		return x86.AJGE
	case bytecode.Ifgt, bytecode.If_icmpgt:
		return x86.AJGT
	case bytecode.Ifle, bytecode.If_icmple:
		return x86.AJLE
	}
	return obj.AXXX
}

// invertJcc flips a conditional jump to its logical negation, needed
// when the recorded guard's continuing direction was the fallthrough
// rather than the jump (trace.RecordedOp.TakenWasJump == false).
func invertJcc(as obj.As) obj.As {
	switch as {
	case x86.AJEQ:
		return x86.AJNE
	case x86.AJNE:
		return x86.AJEQ
	case x86.AJLT:
		return x86.AJGE
	case x86.AJGE:
		return x86.AJLT
	case x86.AJGT:
		return x86.AJLE
	case x86.AJLE:
		return x86.AJGT
	}
	return obj.AXXX
}

// guardUnary lowers ifeq/ifne/iflt/ifge/ifgt/ifle: pop one operand,
// compare against zero, then branch per the closing/TakenWasJump rules
// documented on trace.RecordedOp.
func (g *gen) guardUnary(op bytecode.Opcode, recorded trace.RecordedOp, closing bool) error {
	g.vpop(regA)

	cmp := g.newProg()
	cmp.As = x86.ACMPL
	cmp.From.Type = obj.TYPE_REG
	cmp.From.Reg = regA
	cmp.To.Type = obj.TYPE_CONST
	cmp.To.Offset = 0
	g.add(cmp)

	return g.emitGuardJump(naturalJcc(op), recorded, closing)
}

// guardBinary lowers the if_icmp* family: pop value2 then value1,
// compare value1 against value2.
func (g *gen) guardBinary(op bytecode.Opcode, recorded trace.RecordedOp, closing bool) error {
	g.vpop(regB)
	g.vpop(regA)

	cmp := g.newProg()
	cmp.As = x86.ACMPL
	cmp.From.Type = obj.TYPE_REG
	cmp.From.Reg = regA
	cmp.To.Type = obj.TYPE_REG
	cmp.To.Reg = regB
	g.add(cmp)

	return g.emitGuardJump(naturalJcc(op), recorded, closing)
}

// emitGuardJump emits the single conditional jump a guard needs:
//   - closing guard (always TakenWasJump == true, per recorder.go): the
//     natural condition loops back to the trace's own entry; otherwise
//     an unconditional jump reaches this guard's ExitPC epilogue.
//   - non-closing guard, TakenWasJump == true: the natural condition
//     continues the trace (no jump emitted for that path); the inverted
//     condition bails to ExitPC.
//   - non-closing guard, TakenWasJump == false: the natural condition
//     bails to ExitPC; not-jumping continues the trace.
func (g *gen) emitGuardJump(natural obj.As, recorded trace.RecordedOp, closing bool) error {
	if natural == obj.AXXX {
		return errors.Wrapf(ErrUnsupportedOp, "no conditional jump for opcode %s", recorded.Instr.Opcode)
	}

	if closing {
		// Loop back to entry on the natural condition; all epilogue
		// blocks are batched after the whole trace body (not interleaved
		// with it), so the not-taken path needs its own explicit jump to
		// reach this guard's epilogue rather than relying on fallthrough.
		jmp := g.newProg()
		jmp.As = natural
		jmp.To.Type = obj.TYPE_BRANCH
		g.add(jmp)
		g.entryJumps = append(g.entryJumps, jmp)

		fallJmp := g.newProg()
		fallJmp.As = obj.AJMP
		fallJmp.To.Type = obj.TYPE_BRANCH
		g.add(fallJmp)
		g.exits = append(g.exits, exitPatch{prog: fallJmp, exitPC: recorded.ExitPC})
		return nil
	}

	// TakenWasJump == true: the natural condition continues the trace
	// (no jump emitted for that path), so the bail must be the inverted
	// condition. TakenWasJump == false: the natural condition is itself
	// the bail.
	as := natural
	if recorded.TakenWasJump {
		as = invertJcc(natural)
	}
	jmp := g.newProg()
	jmp.As = as
	jmp.To.Type = obj.TYPE_BRANCH
	g.add(jmp)
	g.exits = append(g.exits, exitPatch{prog: jmp, exitPC: recorded.ExitPC})
	return nil
}

// patchEntryJumps resolves every closing guard's loop-back jump to the
// trace's first translated instruction (never the prologue, which must
// run exactly once per Invoke).
func (g *gen) patchEntryJumps() error {
	if g.entry == nil {
		return errors.Wrap(ErrUnsupportedOp, "codegen: no entry instruction to close the loop on")
	}
	for _, j := range g.entryJumps {
		j.To.SetTarget(g.entry)
	}
	return nil
}

// emitExitEpilogues appends one small "load resume PC, restore SP,
// return" block per recorded guard exit and patches that guard's jump to
// target it - the onLabelStartCallbacks idiom for forward references
// golang-asm itself doesn't resolve.
func (g *gen) emitExitEpilogues() error {
	for _, e := range g.exits {
		mov := g.newProg()
		mov.As = x86.AMOVL
		mov.From.Type = obj.TYPE_CONST
		mov.From.Offset = int64(e.exitPC)
		mov.To.Type = obj.TYPE_REG
		mov.To.Reg = regA
		g.add(mov)

		add := g.newProg()
		add.As = x86.AADDQ
		add.From.Type = obj.TYPE_CONST
		add.From.Offset = g.frameSize
		add.To.Type = obj.TYPE_REG
		add.To.Reg = x86.REG_SP
		g.add(add)

		ret := g.newProg()
		ret.As = obj.ARET
		g.add(ret)

		e.prog.To.SetTarget(mov)
	}
	return nil
}
