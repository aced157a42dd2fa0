package a64

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// vecSize maps the element width onto the three-register-same size field.
func vecSize(e encoder.Width) uint32 {
	if e == encoder.E64 {
		return 3
	}
	return 2
}

// vecSz maps the element width onto the single sz bit of the float forms.
func vecSz(e encoder.Width) uint32 {
	if e == encoder.E64 {
		return 1
	}
	return 0
}

// vmovLoad brings a full-width vector operand into register r.
func (a *Assembler) vmovLoad(st *encoder.Stream, r uint8, src operand.Operand) error {
	switch src.Kind() {
	case operand.KindReg:
		id := src.BareReg().ID
		if id != r {
			st.AppendU32(vec3Same(vwORR, 0, r, id, id))
		}
	case operand.KindMem:
		rn, off, form := a.resolveMem(st, 16, src)
		if form == memScaled {
			st.AppendU32(ldrQ(r, rn, uint32(off)))
		} else {
			st.AppendU32(ldurQ(r, rn, uint32(off)))
		}
	default:
		return fmt.Errorf("vector source %s: %w", src, asmerrors.ErrOBadOperandShape)
	}
	return nil
}

// vmovStore writes vector register r out to a memory operand.
func (a *Assembler) vmovStore(st *encoder.Stream, r uint8, dst operand.Operand) error {
	rn, off, form := a.resolveMem(st, 16, dst)
	if form == memScaled {
		st.AppendU32(strQ(r, rn, uint32(off)))
	} else {
		st.AppendU32(sturQ(r, rn, uint32(off)))
	}
	return nil
}

// vecOperandReg returns the register carrying an operand's value, loading
// memory sources into the given scratch register. The three-register forms
// are non-destructive, so no aliasing dance is needed.
func (a *Assembler) vecOperandReg(st *encoder.Stream, o operand.Operand, scratch uint8) (uint8, error) {
	if o.Kind() == operand.KindReg {
		return o.BareReg().ID, nil
	}
	if err := a.vmovLoad(st, scratch, o); err != nil {
		return scratch, err
	}
	return scratch, nil
}

// vecDstReg validates that the destination of a vector op is a register and
// returns its id.
func vecDstReg(d *encoder.Descriptor) (uint8, error) {
	dst := d.Operands[0]
	if dst.Kind() != operand.KindReg || dst.BareReg().Class != operand.Vec {
		return 0, fmt.Errorf("%s needs a vector register destination: %w", d.Op, asmerrors.ErrOBadOperandShape)
	}
	return dst.BareReg().ID, nil
}

// vecSrcPair splits the operand list into the two combining sources.
func vecSrcPair(d *encoder.Descriptor) (src1, src2 operand.Operand) {
	if len(d.Operands) == 2 {
		return d.Operands[0], d.Operands[1]
	}
	return d.Operands[1], d.Operands[2]
}

var vecLogicWords = map[encoder.Op]uint32{
	encoder.VAND: vwAND,
	encoder.VORR: vwORR,
	encoder.VXOR: vwEOR,
	encoder.VANN: vwBIC, // vd = vn & ^vm, the requested operand order
	encoder.VORN: vwORN,
}

func (a *Assembler) emitVecLogic(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Vec != encoder.V128 {
		return a.emulateHalves(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	src1, src2 := vecSrcPair(d)
	rn, err := a.vecOperandReg(st, src1, scratchVecLow)
	if err != nil {
		return err
	}
	rm, err := a.vecOperandReg(st, src2, scratchVecHigh)
	if err != nil {
		return err
	}
	st.AppendU32(vec3Same(vecLogicWords[d.Op], 0, dr, rn, rm))
	return nil
}

func (a *Assembler) emitVecNot(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Vec != encoder.V128 {
		return a.emulateHalves(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	src := d.Operands[0]
	if len(d.Operands) == 2 {
		src = d.Operands[1]
	}
	rn, err := a.vecOperandReg(st, src, scratchVecHigh)
	if err != nil {
		return err
	}
	st.AppendU32(vec2Misc(vwNOT, 0, dr, rn))
	return nil
}

func (a *Assembler) emitVecArith(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Vec != encoder.V128 {
		return a.emulateHalves(st, d)
	}
	if d.Op == encoder.VMUL && d.Elem == encoder.E64 {
		return a.emulateLanes(st, d) // MUL lanes stop at 32 bits
	}
	var word uint32
	switch d.Op {
	case encoder.VADD:
		word = vwADD
	case encoder.VSUB:
		word = vwSUB
	default:
		word = vwMUL
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	src1, src2 := vecSrcPair(d)
	rn, err := a.vecOperandReg(st, src1, scratchVecLow)
	if err != nil {
		return err
	}
	rm, err := a.vecOperandReg(st, src2, scratchVecHigh)
	if err != nil {
		return err
	}
	st.AppendU32(vec3Same(word, vecSize(d.Elem), dr, rn, rm))
	return nil
}

func (a *Assembler) emitVecMinMax(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Vec != encoder.V128 {
		return a.emulateHalves(st, d)
	}
	if d.Elem == encoder.E64 {
		return a.emulateLanes(st, d) // SMIN/UMAX lanes stop at 32 bits
	}
	var word uint32
	switch {
	case d.Op == encoder.VMIN && d.Signed:
		word = vwSMIN
	case d.Op == encoder.VMIN:
		word = vwUMIN
	case d.Signed:
		word = vwSMAX
	default:
		word = vwUMAX
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	src1, src2 := vecSrcPair(d)
	rn, err := a.vecOperandReg(st, src1, scratchVecLow)
	if err != nil {
		return err
	}
	rm, err := a.vecOperandReg(st, src2, scratchVecHigh)
	if err != nil {
		return err
	}
	st.AppendU32(vec3Same(word, vecSize(d.Elem), dr, rn, rm))
	return nil
}

// emitVecCmp lowers the per-lane compare to an all-ones/all-zeros mask.
// Equality and both greater-than orderings are native; the less-than shapes
// swap operands, inequality inverts, and nothing needs a sign bias.
func (a *Assembler) emitVecCmp(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Vec != encoder.V128 {
		return a.emulateHalves(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	src1, src2 := vecSrcPair(d)
	rn, err := a.vecOperandReg(st, src1, scratchVecLow)
	if err != nil {
		return err
	}
	rm, err := a.vecOperandReg(st, src2, scratchVecHigh)
	if err != nil {
		return err
	}
	size := vecSize(d.Elem)
	emit := func(word uint32, x, y uint8) {
		st.AppendU32(vec3Same(word, size, dr, x, y))
	}
	switch d.Cond {
	case encoder.CondEQ:
		emit(vwCMEQ, rn, rm)
	case encoder.CondNE:
		emit(vwCMEQ, rn, rm)
		st.AppendU32(vec2Misc(vwNOT, 0, dr, dr))
	case encoder.CondGTS:
		emit(vwCMGT, rn, rm)
	case encoder.CondGES:
		emit(vwCMGE, rn, rm)
	case encoder.CondLTS:
		emit(vwCMGT, rm, rn)
	case encoder.CondLES:
		emit(vwCMGE, rm, rn)
	case encoder.CondGTU:
		emit(vwCMHI, rn, rm)
	case encoder.CondGEU:
		emit(vwCMHS, rn, rm)
	case encoder.CondLTU:
		emit(vwCMHI, rm, rn)
	case encoder.CondLEU:
		emit(vwCMHS, rm, rn)
	default:
		return fmt.Errorf("vcmp condition %s: %w", d.Cond, asmerrors.ErrUOpcode)
	}
	return nil
}

// cvtWords indexes the directed float-to-int converts by rounding mode,
// unsigned then signed.
var cvtWords = map[encoder.RoundMode][2]uint32{
	encoder.RoundZero:    {vwFCVTZU, vwFCVTZS},
	encoder.RoundNearest: {vwFCVTNU, vwFCVTNS},
	encoder.RoundDown:    {vwFCVTMU, vwFCVTMS},
	encoder.RoundUp:      {vwFCVTPU, vwFCVTPS},
}

// emitVecCvt lowers the float-to-int conversion; every rounding mode has
// its own instruction, at both lane widths.
func (a *Assembler) emitVecCvt(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Vec != encoder.V128 {
		return a.emulateHalves(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	rn, err := a.vecOperandReg(st, d.Operands[1], scratchVecHigh)
	if err != nil {
		return err
	}
	pair, ok := cvtWords[d.Round]
	if !ok {
		return fmt.Errorf("vcvt rounding %s: %w", d.Round, asmerrors.ErrURoundMode)
	}
	word := pair[0]
	if d.Signed {
		word = pair[1]
	}
	st.AppendU32(vec2Misc(word, vecSz(d.Elem), dr, rn))
	return nil
}

// emitVecCvn lowers the int-to-float conversion through SCVTF/UCVTF.
func (a *Assembler) emitVecCvn(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Vec != encoder.V128 {
		return a.emulateHalves(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	rn, err := a.vecOperandReg(st, d.Operands[1], scratchVecHigh)
	if err != nil {
		return err
	}
	word := uint32(vwUCVTF)
	if d.Signed {
		word = vwSCVTF
	}
	st.AppendU32(vec2Misc(word, vecSz(d.Elem), dr, rn))
	return nil
}

// emitVecShift lowers uniform and per-lane shifts. Immediate counts use the
// shift-by-immediate forms; register and vector counts ride SSHL/USHL,
// where a negated count shifts right.
func (a *Assembler) emitVecShift(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Vec != encoder.V128 {
		return a.emulateHalves(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	cnt := d.Operands[len(d.Operands)-1]
	src := d.Operands[0]
	if len(d.Operands) == 3 {
		src = d.Operands[1]
	}
	rn, err := a.vecOperandReg(st, src, scratchVecLow)
	if err != nil {
		return err
	}
	size := vecSize(d.Elem)
	esize := uint32(d.Elem.Bits())

	shlWord := uint32(vwUSHL)
	if d.Op == encoder.VSHR && d.Signed {
		shlWord = vwSSHL
	}

	switch {
	case cnt.Kind() == operand.KindImm:
		if err := checkShiftCount(d.Elem, cnt.Imm()); err != nil {
			return err
		}
		sh := uint32(cnt.Imm())
		if d.Op == encoder.VSHL {
			st.AppendU32(vecShiftImm(vwSHL, esize+sh, dr, rn))
			return nil
		}
		if sh == 0 {
			// the right-shift field starts at one; a zero count is a copy
			if rn != dr {
				st.AppendU32(vec3Same(vwORR, 0, dr, rn, rn))
			}
			return nil
		}
		word := uint32(vwUSHR)
		if d.Signed {
			word = vwSSHR
		}
		st.AppendU32(vecShiftImm(word, 2*esize-sh, dr, rn))
	case cnt.Kind() == operand.KindReg && cnt.BareReg().Class == operand.GP:
		// uniform count: splat it, negating for the right shifts
		st.AppendU32(dupGP(d.Elem, scratchVecHigh, cnt.BareReg().ID))
		if d.Op == encoder.VSHR {
			st.AppendU32(vec2Misc(vwNEGv, size, scratchVecHigh, scratchVecHigh))
		}
		st.AppendU32(vec3Same(shlWord, size, dr, rn, scratchVecHigh))
	default:
		// per-lane counts from a vector register or memory
		cm, err := a.vecOperandReg(st, cnt, scratchVecHigh)
		if err != nil {
			return err
		}
		if d.Op == encoder.VSHR {
			st.AppendU32(vec2Misc(vwNEGv, size, scratchVecHigh, cm))
			cm = scratchVecHigh
		}
		st.AppendU32(vec3Same(shlWord, size, dr, rn, cm))
	}
	return nil
}

// emitVecFMA lowers fused multiply-add (g + s*t) and multiply-subtract
// (g - s*t). FMLA/FMLS accumulate into the destination and round once.
func (a *Assembler) emitVecFMA(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Vec != encoder.V128 {
		return a.emulateHalves(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	rn, err := a.vecOperandReg(st, d.Operands[1], scratchVecLow)
	if err != nil {
		return err
	}
	rm, err := a.vecOperandReg(st, d.Operands[2], scratchVecHigh)
	if err != nil {
		return err
	}
	word := uint32(vwFMLA)
	if d.Op == encoder.FMS {
		word = vwFMLS
	}
	st.AppendU32(vec3Same(word, vecSz(d.Elem), dr, rn, rm))
	return nil
}
