package x86

import (
	"errors"
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

func newSession(t *testing.T, vec encoder.VecWidth, caps encoder.CapMask) *encoder.Session {
	t.Helper()
	p, err := encoder.NewProfile(encoder.Target{Arch: encoder.ArchX86, VecWidth: vec}, caps)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	s, err := encoder.NewSession(p, New(p))
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s
}

func reg(t *testing.T, s *encoder.Session, id uint8) operand.Operand {
	t.Helper()
	o, err := s.Reg(id)
	if err != nil {
		t.Fatalf("reg %d: %v", id, err)
	}
	return o
}

func vreg(t *testing.T, s *encoder.Session, id uint8) operand.Operand {
	t.Helper()
	o, err := s.VecReg(id)
	if err != nil {
		t.Fatalf("vreg %d: %v", id, err)
	}
	return o
}

func mem(t *testing.T, s *encoder.Session, base uint8, disp int64) operand.Operand {
	t.Helper()
	o, err := s.Mem(base, disp)
	if err != nil {
		t.Fatalf("mem [r%d%+d]: %v", base, disp, err)
	}
	return o
}

func imm(t *testing.T, s *encoder.Session, v int64, bits uint8) operand.Operand {
	t.Helper()
	o, err := s.Imm(v, bits)
	if err != nil {
		t.Fatalf("imm %d/%d: %v", v, bits, err)
	}
	return o
}

func emit(t *testing.T, s *encoder.Session, d *encoder.Descriptor) {
	t.Helper()
	if _, err := s.Emit(d); err != nil {
		t.Fatalf("emit %s: %v", d.Op, err)
	}
}

func finalize(t *testing.T, s *encoder.Session) []byte {
	t.Helper()
	out, err := s.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return out
}

// decodeAll decodes the stream back instruction by instruction. A decode
// failure means the emitted bytes are not valid x86-64.
func decodeAll(t *testing.T, code []byte) []x86asm.Inst {
	t.Helper()
	var out []x86asm.Inst
	pc := 0
	for pc < len(code) {
		inst, err := x86asm.Decode(code[pc:], 64)
		if err != nil {
			t.Fatalf("decode at %#x (% x): %v", pc, code[pc:], err)
		}
		out = append(out, inst)
		pc += inst.Len
	}
	return out
}

func ops(insts []x86asm.Inst) []x86asm.Op {
	var out []x86asm.Op
	for _, i := range insts {
		out = append(out, i.Op)
	}
	return out
}

func TestClientRegisterFile(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	for _, id := range []uint8{0, 1, 2, 3, 6, 7, 8, 9} {
		if _, err := s.Reg(id); err != nil {
			t.Fatalf("client register %d rejected: %v", id, err)
		}
	}
	// rsp/rbp and the three scratch registers stay internal
	for _, id := range []uint8{4, 5, 10, 11, 12, 16} {
		if _, err := s.Reg(id); !errors.Is(err, asmerrors.ErrOReservedRegister) {
			t.Fatalf("register %d accepted, want reserved error (got %v)", id, err)
		}
	}
	for _, id := range []uint8{14, 15} {
		if _, err := s.VecReg(id); !errors.Is(err, asmerrors.ErrOReservedRegister) {
			t.Fatalf("vector register %d accepted, want reserved error (got %v)", id, err)
		}
	}
}

func TestScalarRegReg(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	emit(t, s, &encoder.Descriptor{Op: encoder.ADD, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), reg(t, s, 3)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.SUB, Elem: encoder.E32,
		Operands: []operand.Operand{reg(t, s, 6), reg(t, s, 8)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.XOR, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 9), reg(t, s, 9)}})

	insts := decodeAll(t, finalize(t, s))
	want := []x86asm.Op{x86asm.ADD, x86asm.SUB, x86asm.XOR}
	if len(insts) != len(want) {
		t.Fatalf("got %d instructions %v, want %d", len(insts), ops(insts), len(want))
	}
	for i, w := range want {
		if insts[i].Op != w {
			t.Fatalf("instruction %d is %v, want %v", i, insts[i].Op, w)
		}
	}
}

func TestMovImmediateWidths(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	emit(t, s, &encoder.Descriptor{Op: encoder.MOV, Elem: encoder.E32,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 0x1234, 32)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.MOV, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 1), imm(t, s, 0x123456789A, 64)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.MOV, Elem: encoder.E8,
		Operands: []operand.Operand{reg(t, s, 3), imm(t, s, -1, 8)}})

	for _, inst := range decodeAll(t, finalize(t, s)) {
		if inst.Op != x86asm.MOV {
			t.Fatalf("got %v, want MOV", inst.Op)
		}
	}
}

func TestNarrowImmediateRejected(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	_, err := s.Emit(&encoder.Descriptor{Op: encoder.ADD, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 1, 32)}})
	if !errors.Is(err, asmerrors.ErrEWidthBridge) {
		t.Fatalf("32-bit immediate accepted in 64-bit add: %v", err)
	}
	if s.Stream().Len() != 0 {
		t.Fatalf("stream not rolled back: %d bytes", s.Stream().Len())
	}
}

func TestMemoryDisplacementLadder(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	// disp8, disp32, and one past the 32-bit range (staged via scratch)
	for _, disp := range []int64{0, 8, -16, 0x7FFF, -0x8000_0000, 0x1_0000_0000} {
		emit(t, s, &encoder.Descriptor{Op: encoder.MOV, Elem: encoder.E64,
			Operands: []operand.Operand{reg(t, s, 0), mem(t, s, 3, disp)}})
	}
	insts := decodeAll(t, finalize(t, s))
	if insts[len(insts)-1].Op != x86asm.MOV {
		t.Fatalf("last instruction is %v, want MOV", insts[len(insts)-1].Op)
	}
}

func TestMulDivRem(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	emit(t, s, &encoder.Descriptor{Op: encoder.MUL, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), reg(t, s, 3)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.DIV, Elem: encoder.E64, Signed: true,
		Operands: []operand.Operand{reg(t, s, 3), reg(t, s, 6)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.REM, Elem: encoder.E32,
		Operands: []operand.Operand{reg(t, s, 3), reg(t, s, 6)}})

	insts := decodeAll(t, finalize(t, s))
	var sawIMUL, sawIDIV, sawDIV bool
	for _, inst := range insts {
		switch inst.Op {
		case x86asm.IMUL:
			sawIMUL = true
		case x86asm.IDIV:
			sawIDIV = true
		case x86asm.DIV:
			sawDIV = true
		}
	}
	if !sawIMUL || !sawIDIV || !sawDIV {
		t.Fatalf("missing multiply/divide cores in %v", ops(insts))
	}
}

func TestDivPinnedCollision(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	// rdx is half of the divide convention and cannot be the divisor
	_, err := s.Emit(&encoder.Descriptor{Op: encoder.DIV, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), reg(t, s, 2)}})
	if !errors.Is(err, asmerrors.ErrOPinnedCollision) {
		t.Fatalf("divisor in rdx accepted: %v", err)
	}
	if s.Stream().Len() != 0 {
		t.Fatalf("stream not rolled back: %d bytes", s.Stream().Len())
	}
}

func TestShifts(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	emit(t, s, &encoder.Descriptor{Op: encoder.SHL, Elem: encoder.E32,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 5, 32)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.SAR, Elem: encoder.E64, Signed: true,
		Operands: []operand.Operand{reg(t, s, 3), imm(t, s, 63, 64)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.ROR, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 6), imm(t, s, 1, 64)}})
	// variable count rides the rcx convention
	emit(t, s, &encoder.Descriptor{Op: encoder.SHR, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), reg(t, s, 3)}})

	insts := decodeAll(t, finalize(t, s))
	var saw = map[x86asm.Op]bool{}
	for _, inst := range insts {
		saw[inst.Op] = true
	}
	for _, want := range []x86asm.Op{x86asm.SHL, x86asm.SAR, x86asm.ROR, x86asm.SHR} {
		if !saw[want] {
			t.Fatalf("%v missing from %v", want, ops(insts))
		}
	}
}

func TestShiftCountRange(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	_, err := s.Emit(&encoder.Descriptor{Op: encoder.SHL, Elem: encoder.E32,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 32, 32)}})
	if !errors.Is(err, asmerrors.ErrEImmRange) {
		t.Fatalf("out-of-range shift count accepted: %v", err)
	}
}

func TestShiftRebaseKeepsWideDisplacement(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	// rcx base, register count, displacement past the 32-bit range: the
	// staged address must fold the live rcx before the count shuffle
	emit(t, s, &encoder.Descriptor{Op: encoder.SHL, Elem: encoder.E64,
		Operands: []operand.Operand{mem(t, s, 1, 1<<40), reg(t, s, 3)}})

	insts := decodeAll(t, finalize(t, s))
	var foldsBase bool
	var shift *x86asm.Inst
	for i, inst := range insts {
		if inst.Op == x86asm.ADD && inst.Args[1] == x86asm.RCX {
			foldsBase = true
		}
		if inst.Op == x86asm.SHL {
			shift = &insts[i]
		}
	}
	if !foldsBase {
		t.Fatalf("staged address never folds rcx: %v", ops(insts))
	}
	if shift == nil {
		t.Fatalf("SHL missing from %v", ops(insts))
	}
	m, ok := shift.Args[0].(x86asm.Mem)
	if !ok || m.Base != x86asm.R11 {
		t.Fatalf("shift destination %v, want [r11]", shift.Args[0])
	}
}

func TestBranchFixups(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	top := s.NewLabel()
	if err := s.Bind(top); err != nil {
		t.Fatalf("bind: %v", err)
	}
	emit(t, s, &encoder.Descriptor{Op: encoder.SUB, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 1, 64)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.CMJ, Elem: encoder.E64, Cond: encoder.CondNE,
		Label: top, Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 0, 64)}})

	insts := decodeAll(t, finalize(t, s))
	last := insts[len(insts)-1]
	if last.Op != x86asm.JNE {
		t.Fatalf("branch decodes as %v, want JNE", last.Op)
	}
	rel, ok := last.Args[0].(x86asm.Rel)
	if !ok {
		t.Fatalf("branch target is %T, want Rel", last.Args[0])
	}
	if rel >= 0 {
		t.Fatalf("backward branch has displacement %d", rel)
	}
}

func TestUnresolvedLabel(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	emit(t, s, &encoder.Descriptor{Op: encoder.JMP, Label: s.NewLabel()})
	if _, err := s.Finalize(); !errors.Is(err, asmerrors.ErrLUnresolved) {
		t.Fatalf("finalize with pending label: %v", err)
	}
}

func TestEmitRollbackOnLateError(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	top := s.NewLabel()
	if err := s.Bind(top); err != nil {
		t.Fatalf("bind: %v", err)
	}
	// the compare emits fine, then the condition lookup fails
	_, err := s.Emit(&encoder.Descriptor{Op: encoder.CMJ, Elem: encoder.E64, Cond: encoder.CondNone,
		Label: top, Operands: []operand.Operand{reg(t, s, 0), reg(t, s, 3)}})
	if !errors.Is(err, asmerrors.ErrUOpcode) {
		t.Fatalf("bad condition accepted: %v", err)
	}
	if s.Stream().Len() != 0 {
		t.Fatalf("partial compare left in stream: %d bytes", s.Stream().Len())
	}
}

func TestVectorNative(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	emit(t, s, &encoder.Descriptor{Op: encoder.VADD, Elem: encoder.E32, Vec: encoder.V128,
		Operands: []operand.Operand{vreg(t, s, 0), vreg(t, s, 1)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.VAND, Elem: encoder.E64, Vec: encoder.V128,
		Operands: []operand.Operand{vreg(t, s, 2), vreg(t, s, 3)}})

	insts := decodeAll(t, finalize(t, s))
	want := []x86asm.Op{x86asm.PADDD, x86asm.PAND}
	if len(insts) != len(want) {
		t.Fatalf("got %v, want %v", ops(insts), want)
	}
	for i, w := range want {
		if insts[i].Op != w {
			t.Fatalf("instruction %d is %v, want %v", i, insts[i].Op, w)
		}
	}
}

func TestVectorLadderSplits(t *testing.T) {
	// 256-bit request on SSE-only hardware: two 128-bit halves
	s := newSession(t, encoder.V256, encoder.Cap128)
	emit(t, s, &encoder.Descriptor{Op: encoder.VADD, Elem: encoder.E32, Vec: encoder.V256,
		Operands: []operand.Operand{vreg(t, s, 0), vreg(t, s, 1)}})

	insts := decodeAll(t, finalize(t, s))
	if len(insts) != 2 || insts[0].Op != x86asm.PADDD || insts[1].Op != x86asm.PADDD {
		t.Fatalf("ladder split emitted %v, want two PADDD", ops(insts))
	}
}

func TestVectorPairOverflow(t *testing.T) {
	s := newSession(t, encoder.V256, encoder.Cap128)
	// register 7 would pair with (14, 15), the reserved scratch registers
	_, err := s.Emit(&encoder.Descriptor{Op: encoder.VADD, Elem: encoder.E32, Vec: encoder.V256,
		Operands: []operand.Operand{vreg(t, s, 7), vreg(t, s, 0)}})
	if !errors.Is(err, asmerrors.ErrOReservedRegister) {
		t.Fatalf("pair overflow accepted: %v", err)
	}
}

func TestMaskJump(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	done := s.NewLabel()
	emit(t, s, &encoder.Descriptor{Op: encoder.MKJ, Elem: encoder.E32, Vec: encoder.V128,
		Cond: encoder.CondNone1, Label: done, Operands: []operand.Operand{vreg(t, s, 0)}})
	if err := s.Bind(done); err != nil {
		t.Fatalf("bind: %v", err)
	}

	insts := decodeAll(t, finalize(t, s))
	if insts[0].Op != x86asm.MOVMSKPS {
		t.Fatalf("mask reduction starts with %v, want MOVMSKPS", insts[0].Op)
	}
	if insts[len(insts)-1].Op != x86asm.JE {
		t.Fatalf("sentinel branch is %v, want JE", insts[len(insts)-1].Op)
	}
}

func TestMaskJumpMixedSentinelRejected(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	_, err := s.Emit(&encoder.Descriptor{Op: encoder.MKJ, Elem: encoder.E32, Vec: encoder.V128,
		Cond: encoder.CondEQ, Label: s.NewLabel(), Operands: []operand.Operand{vreg(t, s, 0)}})
	if !errors.Is(err, asmerrors.ErrUOpcode) {
		t.Fatalf("non-sentinel mkj condition accepted: %v", err)
	}
}

func TestVectorCompareAndConvert(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	emit(t, s, &encoder.Descriptor{Op: encoder.VCMP, Elem: encoder.E32, Vec: encoder.V128,
		Cond: encoder.CondGTS, Operands: []operand.Operand{vreg(t, s, 0), vreg(t, s, 1)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.VCVN, Elem: encoder.E32, Vec: encoder.V128, Signed: true,
		Operands: []operand.Operand{vreg(t, s, 2), vreg(t, s, 3)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.VCVT, Elem: encoder.E32, Vec: encoder.V128, Signed: true,
		Round: encoder.RoundNearest, Operands: []operand.Operand{vreg(t, s, 4), vreg(t, s, 5)}})

	insts := decodeAll(t, finalize(t, s))
	var sawPCMPGTD, sawCVTDQ2PS bool
	for _, inst := range insts {
		switch inst.Op {
		case x86asm.PCMPGTD:
			sawPCMPGTD = true
		case x86asm.CVTDQ2PS:
			sawCVTDQ2PS = true
		}
	}
	if !sawPCMPGTD || !sawCVTDQ2PS {
		t.Fatalf("missing compare/convert cores in %v", ops(insts))
	}
}

func TestArithJump(t *testing.T) {
	s := newSession(t, encoder.V128, encoder.Cap128)
	out := s.NewLabel()
	emit(t, s, &encoder.Descriptor{Op: encoder.ARJ, Elem: encoder.E64, Inner: encoder.SUB,
		Cond: encoder.CondEQ, Label: out,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 1, 64)}})
	if err := s.Bind(out); err != nil {
		t.Fatalf("bind: %v", err)
	}

	insts := decodeAll(t, finalize(t, s))
	if insts[0].Op != x86asm.SUB || insts[len(insts)-1].Op != x86asm.JE {
		t.Fatalf("arj lowered to %v, want SUB..JE", ops(insts))
	}
}
