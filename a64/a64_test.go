package a64

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

func newSession(t *testing.T, vec encoder.VecWidth) *encoder.Session {
	t.Helper()
	p, err := encoder.NewProfile(encoder.Target{Arch: encoder.ArchARM64, VecWidth: vec}, encoder.Cap128)
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
		t.Fatalf("mem [x%d%+d]: %v", base, disp, err)
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

// decodeAll decodes the stream word by word. A decode failure means the
// emitted words are not valid AArch64.
func decodeAll(t *testing.T, code []byte) []arm64asm.Inst {
	t.Helper()
	if len(code)%4 != 0 {
		t.Fatalf("stream length %d is not word aligned", len(code))
	}
	var out []arm64asm.Inst
	for pc := 0; pc < len(code); pc += 4 {
		inst, err := arm64asm.Decode(code[pc:])
		if err != nil {
			t.Fatalf("decode at %#x (% x): %v", pc, code[pc:pc+4], err)
		}
		out = append(out, inst)
	}
	return out
}

func opsOf(insts []arm64asm.Inst) []arm64asm.Op {
	var out []arm64asm.Op
	for _, i := range insts {
		out = append(out, i.Op)
	}
	return out
}

// hasOp accepts any of the given forms; the decoder prefers architectural
// aliases (CMP for SUBS, LSL for UBFM) where their conditions hold.
func hasOp(insts []arm64asm.Inst, want ...arm64asm.Op) bool {
	for _, i := range insts {
		for _, w := range want {
			if i.Op == w {
				return true
			}
		}
	}
	return false
}

func isOp(inst arm64asm.Inst, want ...arm64asm.Op) bool {
	for _, w := range want {
		if inst.Op == w {
			return true
		}
	}
	return false
}

func TestClientRegisterFile(t *testing.T) {
	s := newSession(t, encoder.V128)
	for id := uint8(0); id < 16; id++ {
		if _, err := s.Reg(id); err != nil {
			t.Fatalf("client register %d rejected: %v", id, err)
		}
	}
	for _, id := range []uint8{16, 17, 27, 29, 31} {
		if _, err := s.Reg(id); !errors.Is(err, asmerrors.ErrOReservedRegister) {
			t.Fatalf("register %d accepted, want reserved error (got %v)", id, err)
		}
	}
	for _, id := range []uint8{30, 31} {
		if _, err := s.VecReg(id); !errors.Is(err, asmerrors.ErrOReservedRegister) {
			t.Fatalf("vector register %d accepted, want reserved error (got %v)", id, err)
		}
	}
}

func TestScalarRegReg(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.ADD, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), reg(t, s, 1)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.SUB, Elem: encoder.E32,
		Operands: []operand.Operand{reg(t, s, 2), reg(t, s, 3)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.XOR, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 4), reg(t, s, 5)}})

	insts := decodeAll(t, finalize(t, s))
	want := []arm64asm.Op{arm64asm.ADD, arm64asm.SUB, arm64asm.EOR}
	if len(insts) != len(want) {
		t.Fatalf("got %v, want %v", opsOf(insts), want)
	}
	for i, w := range want {
		if insts[i].Op != w {
			t.Fatalf("instruction %d is %v, want %v", i, insts[i].Op, w)
		}
	}
}

func TestWideImmediateMaterialization(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.MOV, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 0x123456789A, 64)}})

	insts := decodeAll(t, finalize(t, s))
	if !isOp(insts[0], arm64asm.MOVZ, arm64asm.MOV) {
		t.Fatalf("materialization starts with %v, want MOVZ", insts[0].Op)
	}
	for _, inst := range insts[1:] {
		if inst.Op != arm64asm.MOVK {
			t.Fatalf("patch word is %v, want MOVK", inst.Op)
		}
	}
}

func TestNegativeImmediateUsesMOVN(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.MOV, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, -2, 64)}})

	insts := decodeAll(t, finalize(t, s))
	if len(insts) != 1 || !isOp(insts[0], arm64asm.MOVN, arm64asm.MOV) {
		t.Fatalf("-2 materializes as %v, want one MOVN", opsOf(insts))
	}
}

func TestNarrowWidthsRideThe32BitALU(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.ADD, Elem: encoder.E8,
		Operands: []operand.Operand{reg(t, s, 0), reg(t, s, 1)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.CMP, Elem: encoder.E16, Signed: true,
		Operands: []operand.Operand{reg(t, s, 2), reg(t, s, 3)}})

	insts := decodeAll(t, finalize(t, s))
	if insts[0].Op != arm64asm.ADD {
		t.Fatalf("narrow add decodes as %v", insts[0].Op)
	}
	// the compare sign-extends both sides before SUBS
	if !hasOp(insts, arm64asm.SBFM, arm64asm.SXTH) || !hasOp(insts, arm64asm.SUBS, arm64asm.CMP) {
		t.Fatalf("narrow signed compare lowered to %v, want SBFM..SUBS", opsOf(insts))
	}
}

func TestFlagBridgeComparesFullWidth(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.MOV, Elem: encoder.E64, Flags: encoder.FlagsSetZF,
		Operands: []operand.Operand{mem(t, s, 3, 0), reg(t, s, 0)}})

	insts := decodeAll(t, finalize(t, s))
	last := insts[len(insts)-1]
	if !isOp(last, arm64asm.SUBS, arm64asm.CMP) {
		t.Fatalf("flag bridge ends with %v, want a compare", last.Op)
	}
	// a stored 64-bit value reloads and compares at full width; a 32-bit
	// compare would read 0x1_0000_0000 as zero
	if !strings.Contains(strings.ToUpper(last.String()), "X17") {
		t.Fatalf("flag bridge compares %q, want the full x register", last.String())
	}
}

func TestRemainderSynthesis(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.REM, Elem: encoder.E64, Signed: true,
		Operands: []operand.Operand{reg(t, s, 0), reg(t, s, 1), reg(t, s, 2)}})

	insts := decodeAll(t, finalize(t, s))
	if !hasOp(insts, arm64asm.SDIV) || !hasOp(insts, arm64asm.MSUB) {
		t.Fatalf("remainder lowered to %v, want SDIV..MSUB", opsOf(insts))
	}
}

func TestDivNeedsRegisterDestination(t *testing.T) {
	s := newSession(t, encoder.V128)
	_, err := s.Emit(&encoder.Descriptor{Op: encoder.DIV, Elem: encoder.E64,
		Operands: []operand.Operand{mem(t, s, 3, 0), reg(t, s, 1)}})
	if !errors.Is(err, asmerrors.ErrOBadOperandShape) {
		t.Fatalf("memory destination divide accepted: %v", err)
	}
	if s.Stream().Len() != 0 {
		t.Fatalf("stream not rolled back: %d bytes", s.Stream().Len())
	}
}

func TestBitmaskImmediates(t *testing.T) {
	s := newSession(t, encoder.V128)
	// a replicated run, encodable as a logical immediate
	emit(t, s, &encoder.Descriptor{Op: encoder.AND, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 0x00FF00FF00FF00FF, 64)}})
	insts := decodeAll(t, finalize(t, s))
	if len(insts) != 1 || insts[0].Op != arm64asm.AND {
		t.Fatalf("bitmask AND lowered to %v, want one AND", opsOf(insts))
	}

	// not a rotated run: staged through the scratch register
	s = newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.AND, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 0x1234, 64)}})
	insts = decodeAll(t, finalize(t, s))
	if len(insts) < 2 || !hasOp(insts, arm64asm.MOVZ, arm64asm.MOV) || insts[len(insts)-1].Op != arm64asm.AND {
		t.Fatalf("unencodable AND immediate lowered to %v, want MOVZ..AND", opsOf(insts))
	}
}

func TestShiftImmediates(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.SHL, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 4, 64)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.SAR, Elem: encoder.E64, Signed: true,
		Operands: []operand.Operand{reg(t, s, 1), imm(t, s, 63, 64)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.ROR, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 2), imm(t, s, 1, 64)}})

	insts := decodeAll(t, finalize(t, s))
	want := [][]arm64asm.Op{
		{arm64asm.UBFM, arm64asm.LSL},
		{arm64asm.SBFM, arm64asm.ASR},
		{arm64asm.EXTR, arm64asm.ROR},
	}
	if len(insts) != len(want) {
		t.Fatalf("got %v, want %d instructions", opsOf(insts), len(want))
	}
	for i, w := range want {
		if !isOp(insts[i], w...) {
			t.Fatalf("instruction %d is %v, want one of %v", i, insts[i].Op, w)
		}
	}
}

func TestMemoryDisplacementLadder(t *testing.T) {
	s := newSession(t, encoder.V128)
	// scaled, unscaled negative, and staged past both forms
	for _, disp := range []int64{0, 8, 32760, -32, int64(1) << 40} {
		emit(t, s, &encoder.Descriptor{Op: encoder.MOV, Elem: encoder.E64,
			Operands: []operand.Operand{reg(t, s, 0), mem(t, s, 3, disp)}})
	}
	insts := decodeAll(t, finalize(t, s))
	if !hasOp(insts, arm64asm.LDR) || !hasOp(insts, arm64asm.LDUR) {
		t.Fatalf("displacement ladder used %v, want LDR and LDUR forms", opsOf(insts))
	}

	s = newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.MOV, Elem: encoder.E32,
		Operands: []operand.Operand{mem(t, s, 3, 16), reg(t, s, 0)}})
	insts = decodeAll(t, finalize(t, s))
	if len(insts) != 1 || insts[0].Op != arm64asm.STR {
		t.Fatalf("store lowered to %v, want one STR", opsOf(insts))
	}
}

func TestBranchFixups(t *testing.T) {
	s := newSession(t, encoder.V128)
	top := s.NewLabel()
	if err := s.Bind(top); err != nil {
		t.Fatalf("bind: %v", err)
	}
	emit(t, s, &encoder.Descriptor{Op: encoder.SUB, Elem: encoder.E64,
		Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 1, 64)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.CMJ, Elem: encoder.E64, Cond: encoder.CondNE,
		Label: top, Operands: []operand.Operand{reg(t, s, 0), imm(t, s, 0, 64)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.JMP, Label: top})

	insts := decodeAll(t, finalize(t, s))
	last := insts[len(insts)-1]
	if last.Op != arm64asm.B {
		t.Fatalf("jmp decodes as %v, want B", last.Op)
	}
	if !hasOp(insts[:len(insts)-1], arm64asm.B) {
		t.Fatalf("conditional branch missing from %v", opsOf(insts))
	}
}

func TestUnresolvedLabel(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.JMP, Label: s.NewLabel()})
	if _, err := s.Finalize(); !errors.Is(err, asmerrors.ErrLUnresolved) {
		t.Fatalf("finalize with pending label: %v", err)
	}
}

func TestVectorNative(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.VADD, Elem: encoder.E32, Vec: encoder.V128,
		Operands: []operand.Operand{vreg(t, s, 0), vreg(t, s, 1)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.VAND, Elem: encoder.E64, Vec: encoder.V128,
		Operands: []operand.Operand{vreg(t, s, 2), vreg(t, s, 3)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.VMUL, Elem: encoder.E32, Vec: encoder.V128,
		Operands: []operand.Operand{vreg(t, s, 4), vreg(t, s, 5)}})

	insts := decodeAll(t, finalize(t, s))
	want := []arm64asm.Op{arm64asm.ADD, arm64asm.AND, arm64asm.MUL}
	if len(insts) != len(want) {
		t.Fatalf("got %v, want %v", opsOf(insts), want)
	}
	for i, w := range want {
		if insts[i].Op != w {
			t.Fatalf("instruction %d is %v, want %v", i, insts[i].Op, w)
		}
	}
}

func TestVectorCompare(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.VCMP, Elem: encoder.E32, Vec: encoder.V128,
		Cond: encoder.CondEQ, Operands: []operand.Operand{vreg(t, s, 0), vreg(t, s, 1)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.VCMP, Elem: encoder.E64, Vec: encoder.V128,
		Cond: encoder.CondLTU, Operands: []operand.Operand{vreg(t, s, 2), vreg(t, s, 3)}})

	insts := decodeAll(t, finalize(t, s))
	if !hasOp(insts, arm64asm.CMEQ) || !hasOp(insts, arm64asm.CMHI) {
		t.Fatalf("compares lowered to %v, want CMEQ and CMHI", opsOf(insts))
	}
}

func Test64BitLaneMultiplyEmulation(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.VMUL, Elem: encoder.E64, Vec: encoder.V128,
		Operands: []operand.Operand{vreg(t, s, 0), vreg(t, s, 1)}})

	insts := decodeAll(t, finalize(t, s))
	// two sources spill, two lanes multiply, the result loads back
	if !hasOp(insts, arm64asm.MADD, arm64asm.MUL) || !hasOp(insts, arm64asm.STR) || !hasOp(insts, arm64asm.LDR) {
		t.Fatalf("lane emulation emitted %v, want spill stores, MADD, reload", opsOf(insts))
	}
}

func TestVectorLadderSplits(t *testing.T) {
	s := newSession(t, encoder.V256)
	emit(t, s, &encoder.Descriptor{Op: encoder.VADD, Elem: encoder.E32, Vec: encoder.V256,
		Operands: []operand.Operand{vreg(t, s, 0), vreg(t, s, 1)}})

	insts := decodeAll(t, finalize(t, s))
	if len(insts) != 2 || insts[0].Op != arm64asm.ADD || insts[1].Op != arm64asm.ADD {
		t.Fatalf("ladder split emitted %v, want two vector ADD", opsOf(insts))
	}
}

func TestFusedMultiplyAdd(t *testing.T) {
	s := newSession(t, encoder.V128)
	emit(t, s, &encoder.Descriptor{Op: encoder.FMA, Elem: encoder.E64, Vec: encoder.V128,
		Operands: []operand.Operand{vreg(t, s, 0), vreg(t, s, 1), vreg(t, s, 2)}})
	emit(t, s, &encoder.Descriptor{Op: encoder.FMS, Elem: encoder.E32, Vec: encoder.V128,
		Operands: []operand.Operand{vreg(t, s, 3), vreg(t, s, 4), vreg(t, s, 5)}})

	insts := decodeAll(t, finalize(t, s))
	if len(insts) != 2 || insts[0].Op != arm64asm.FMLA || insts[1].Op != arm64asm.FMLS {
		t.Fatalf("fma lowered to %v, want FMLA, FMLS", opsOf(insts))
	}
}

func TestMaskJump(t *testing.T) {
	s := newSession(t, encoder.V128)
	done := s.NewLabel()
	emit(t, s, &encoder.Descriptor{Op: encoder.MKJ, Elem: encoder.E32, Vec: encoder.V128,
		Cond: encoder.CondNone1, Label: done, Operands: []operand.Operand{vreg(t, s, 0)}})
	if err := s.Bind(done); err != nil {
		t.Fatalf("bind: %v", err)
	}

	insts := decodeAll(t, finalize(t, s))
	if insts[0].Op != arm64asm.UMAXV {
		t.Fatalf("mask reduction starts with %v, want UMAXV", insts[0].Op)
	}
	if insts[len(insts)-1].Op != arm64asm.CBZ {
		t.Fatalf("sentinel branch is %v, want CBZ", insts[len(insts)-1].Op)
	}
}

func TestMaskJumpFullSentinel(t *testing.T) {
	s := newSession(t, encoder.V128)
	done := s.NewLabel()
	emit(t, s, &encoder.Descriptor{Op: encoder.MKJ, Elem: encoder.E64, Vec: encoder.V128,
		Cond: encoder.CondFull, Label: done, Operands: []operand.Operand{vreg(t, s, 1)}})
	if err := s.Bind(done); err != nil {
		t.Fatalf("bind: %v", err)
	}

	insts := decodeAll(t, finalize(t, s))
	if insts[0].Op != arm64asm.UMINV {
		t.Fatalf("full-mask reduction starts with %v, want UMINV", insts[0].Op)
	}
	if !hasOp(insts, arm64asm.ADDS, arm64asm.CMN) {
		t.Fatalf("all-ones check missing from %v, want ADDS (cmn)", opsOf(insts))
	}
}

func TestEmitRollbackOnLateError(t *testing.T) {
	s := newSession(t, encoder.V128)
	top := s.NewLabel()
	if err := s.Bind(top); err != nil {
		t.Fatalf("bind: %v", err)
	}
	_, err := s.Emit(&encoder.Descriptor{Op: encoder.CMJ, Elem: encoder.E64, Cond: encoder.CondNone,
		Label: top, Operands: []operand.Operand{reg(t, s, 0), reg(t, s, 1)}})
	if !errors.Is(err, asmerrors.ErrUOpcode) {
		t.Fatalf("bad condition accepted: %v", err)
	}
	if s.Stream().Len() != 0 {
		t.Fatalf("partial compare left in stream: %d bytes", s.Stream().Len())
	}
}
