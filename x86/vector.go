package x86

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// vecOpcode names one packed opcode: mandatory-prefix class, opcode map and
// the opcode byte. The same triple drives both the legacy SSE form and the
// VEX form.
type vecOpcode struct {
	pp byte // 0 none, 1 = 66, 2 = F3, 3 = F2
	mm byte // 1 = 0F, 2 = 0F 38, 3 = 0F 3A
	op byte
}

func ssePrefix(pp byte) []byte {
	switch pp {
	case 1:
		return []byte{0x66}
	case 2:
		return []byte{0xF3}
	case 3:
		return []byte{0xF2}
	}
	return nil
}

func sseEscape(mm byte) []byte {
	switch mm {
	case 2:
		return []byte{0x0F, 0x38}
	case 3:
		return []byte{0x0F, 0x3A}
	}
	return []byte{0x0F}
}

// sseRR emits the legacy form reg op rm, both xmm.
func sseRR(st *encoder.Stream, o vecOpcode, reg, rm X86Reg, imm ...byte) {
	code := ssePrefix(o.pp)
	if reg.REXBit != 0 || rm.REXBit != 0 {
		code = append(code, rexByte(0, reg.REXBit, 0, rm.REXBit))
	}
	code = append(code, sseEscape(o.mm)...)
	code = append(code, o.op, modRMByte(3, reg.RegBits, rm.RegBits))
	code = append(code, imm...)
	st.Append(code...)
}

// sseRM emits the legacy form reg op [base+disp].
func sseRM(st *encoder.Stream, o vecOpcode, reg X86Reg, base X86Reg, disp int32, imm ...byte) {
	code := ssePrefix(o.pp)
	if reg.REXBit != 0 || base.REXBit != 0 {
		code = append(code, rexByte(0, reg.REXBit, 0, base.REXBit))
	}
	code = append(code, sseEscape(o.mm)...)
	code = append(code, o.op)
	code = appendMem(code, reg.RegBits, base, disp)
	code = append(code, imm...)
	st.Append(code...)
}

// vexBytes assembles the three-byte VEX prefix. vvvv is the architecture
// register number of the first source; pass 0 when the field is unused (the
// inverted encoding then reads 1111 as required).
func vexBytes(rBit, bBit, mm, w byte, vvvv uint8, l, pp byte) []byte {
	b2 := (rBit^1)<<7 | 1<<6 | (bBit^1)<<5 | mm
	b3 := w<<7 | ((vvvv^0xF)&0xF)<<3 | l<<2 | pp
	return []byte{0xC4, b2, b3}
}

// vexRR emits reg = vvvv op rm, register-direct.
func vexRR(st *encoder.Stream, o vecOpcode, w, l byte, vvvv uint8, reg, rm X86Reg, imm ...byte) {
	code := vexBytes(reg.REXBit, rm.REXBit, o.mm, w, vvvv, l, o.pp)
	code = append(code, o.op, modRMByte(3, reg.RegBits, rm.RegBits))
	code = append(code, imm...)
	st.Append(code...)
}

// vexRM emits reg = vvvv op [base+disp].
func vexRM(st *encoder.Stream, o vecOpcode, w, l byte, vvvv uint8, reg X86Reg, base X86Reg, disp int32, imm ...byte) {
	code := vexBytes(reg.REXBit, base.REXBit, o.mm, w, vvvv, l, o.pp)
	code = append(code, o.op)
	code = appendMem(code, reg.RegBits, base, disp)
	code = append(code, imm...)
	st.Append(code...)
}

var (
	opMovdquLoad  = vecOpcode{2, 1, 0x6F}
	opMovdquStore = vecOpcode{2, 1, 0x7F}
	opPcmpeqd     = vecOpcode{1, 1, 0x76}
	opPxor        = vecOpcode{1, 1, 0xEF}
)

// nativeVec reports whether the width packs directly: 128 always (SSE is
// architectural), 256 only when the host carries AVX2. 512 always rides the
// ladder.
func (a *Assembler) nativeVec(v encoder.VecWidth) bool {
	return v == encoder.V128 || (v == encoder.V256 && a.profile.Caps.Has(encoder.V256))
}

func vecL(v encoder.VecWidth) byte {
	if v == encoder.V256 {
		return 1
	}
	return 0
}

// useVEX reports whether the VEX form should carry this width. 256-bit
// integer ops need it; at 128 the legacy form is kept so SSE-only hosts
// stay serviceable.
func (a *Assembler) useVEX(v encoder.VecWidth) bool {
	return v == encoder.V256
}

// vmovLoad loads a full-width vector operand into register r.
func (a *Assembler) vmovLoad(st *encoder.Stream, v encoder.VecWidth, r X86Reg, src operand.Operand) error {
	switch src.Kind() {
	case operand.KindReg:
		rm := vecInfo(src.BareReg().ID)
		if r == rm {
			return nil
		}
		if a.useVEX(v) {
			vexRR(st, opMovdquLoad, 0, vecL(v), 0, r, rm)
		} else {
			sseRR(st, opMovdquLoad, r, rm)
		}
	case operand.KindMem:
		m, err := a.resolveMem(st, src)
		if err != nil {
			return err
		}
		base := gpInfo(m.AddrBase().ID)
		if a.useVEX(v) {
			vexRM(st, opMovdquLoad, 0, vecL(v), 0, r, base, int32(m.Disp()))
		} else {
			sseRM(st, opMovdquLoad, r, base, int32(m.Disp()))
		}
	default:
		return fmt.Errorf("vector source %s: %w", src, asmerrors.ErrOBadOperandShape)
	}
	return nil
}

// vmovStore writes register r out to a vector memory operand.
func (a *Assembler) vmovStore(st *encoder.Stream, v encoder.VecWidth, r X86Reg, dst operand.Operand) error {
	m, err := a.resolveMem(st, dst)
	if err != nil {
		return err
	}
	base := gpInfo(m.AddrBase().ID)
	if a.useVEX(v) {
		vexRM(st, opMovdquStore, 0, vecL(v), 0, r, base, int32(m.Disp()))
	} else {
		sseRM(st, opMovdquStore, r, base, int32(m.Disp()))
	}
	return nil
}

// vecDstReg validates that the destination of a vector op is a client
// vector register and returns its encoding info.
func vecDstReg(d *encoder.Descriptor) (X86Reg, error) {
	dst := d.Operands[0]
	if dst.Kind() != operand.KindReg || dst.BareReg().Class != operand.Vec {
		return X86Reg{}, fmt.Errorf("%s needs a vector register destination: %w", d.Op, asmerrors.ErrOBadOperandShape)
	}
	return vecInfo(dst.BareReg().ID), nil
}

// vecSrcPair splits the operand list into the destructive-form pair: the
// value ending up in dst and the combining source.
func vecSrcPair(d *encoder.Descriptor) (src1, src2 operand.Operand) {
	if len(d.Operands) == 2 {
		return d.Operands[0], d.Operands[1]
	}
	return d.Operands[1], d.Operands[2]
}

// prepVecDst materializes src1 in the destination register and returns the
// combining operand, staging through the high vector scratch when dst
// aliases src2.
func (a *Assembler) prepVecDst(st *encoder.Stream, d *encoder.Descriptor, dr X86Reg) (operand.Operand, error) {
	src1, src2 := vecSrcPair(d)
	dstID := d.Operands[0].BareReg().ID
	if src1.Kind() == operand.KindReg && src1.BareReg().ID == dstID {
		return src2, nil
	}
	if src2.Kind() == operand.KindReg && src2.BareReg().ID == dstID {
		sc := vecInfo(scratchVecHigh)
		if err := a.vmovLoad(st, d.Vec, sc, src2); err != nil {
			return src2, err
		}
		if err := a.vmovLoad(st, d.Vec, dr, src1); err != nil {
			return src2, err
		}
		return vecScratchOperand(scratchVecHigh), nil
	}
	if err := a.vmovLoad(st, d.Vec, dr, src1); err != nil {
		return src2, err
	}
	return src2, nil
}

// vecScratchOperand wraps an internal vector scratch id as an operand.
func vecScratchOperand(id uint8) operand.Operand {
	return operand.MustReg(operand.Register{ID: id, Class: operand.Vec})
}

// sseCombine applies a destructive legacy op: dr op= src. Memory sources
// route through the high vector scratch because the legacy forms demand
// 16-byte alignment the operand model does not promise.
func (a *Assembler) sseCombine(st *encoder.Stream, o vecOpcode, dr X86Reg, src operand.Operand) error {
	switch src.Kind() {
	case operand.KindReg:
		sseRR(st, o, dr, vecInfo(src.BareReg().ID))
		return nil
	case operand.KindMem:
		sc := vecInfo(scratchVecHigh)
		if err := a.vmovLoad(st, encoder.V128, sc, src); err != nil {
			return err
		}
		sseRR(st, o, dr, sc)
		return nil
	}
	return fmt.Errorf("vector source %s: %w", src, asmerrors.ErrOBadOperandShape)
}

// vexTernary emits reg = src1 op src2 in the non-destructive VEX form.
// src1 must land in vvvv, so a memory src1 stages through the low scratch;
// src2 rides the rm slot, memory included (VEX lifts the alignment demand).
func (a *Assembler) vexTernary(st *encoder.Stream, o vecOpcode, w byte, d *encoder.Descriptor, dr X86Reg, src1, src2 operand.Operand) error {
	l := vecL(d.Vec)
	var vvvv uint8
	switch src1.Kind() {
	case operand.KindReg:
		vvvv = src1.BareReg().ID
	case operand.KindMem:
		sc := vecInfo(scratchVecLow)
		if err := a.vmovLoad(st, d.Vec, sc, src1); err != nil {
			return err
		}
		vvvv = scratchVecLow
	default:
		return fmt.Errorf("vector source %s: %w", src1, asmerrors.ErrOBadOperandShape)
	}
	switch src2.Kind() {
	case operand.KindReg:
		vexRR(st, o, w, l, vvvv, dr, vecInfo(src2.BareReg().ID))
	case operand.KindMem:
		m, err := a.resolveMem(st, src2)
		if err != nil {
			return err
		}
		vexRM(st, o, w, l, vvvv, dr, gpInfo(m.AddrBase().ID), int32(m.Disp()))
	default:
		return fmt.Errorf("vector source %s: %w", src2, asmerrors.ErrOBadOperandShape)
	}
	return nil
}

// allOnes fills a scratch register with all-ones lanes.
func (a *Assembler) allOnes(st *encoder.Stream, v encoder.VecWidth, r X86Reg) {
	if a.useVEX(v) {
		vexRR(st, opPcmpeqd, 0, vecL(v), r.bitsToID(), r, r)
	} else {
		sseRR(st, opPcmpeqd, r, r)
	}
}

// invert flips every bit of r using the ones register.
func (a *Assembler) invert(st *encoder.Stream, v encoder.VecWidth, r, ones X86Reg) {
	if a.useVEX(v) {
		vexRR(st, opPxor, 0, vecL(v), r.bitsToID(), r, ones)
	} else {
		sseRR(st, opPxor, r, ones)
	}
}

var vecLogicOps = map[encoder.Op]vecOpcode{
	encoder.VAND: {1, 1, 0xDB}, // PAND
	encoder.VORR: {1, 1, 0xEB}, // POR
	encoder.VXOR: {1, 1, 0xEF}, // PXOR
	encoder.VANN: {1, 1, 0xDF}, // PANDN: dst = ^dst & src
}

func (a *Assembler) emitVecLogic(st *encoder.Stream, d *encoder.Descriptor) error {
	if !a.nativeVec(d.Vec) {
		return a.emulateHalves(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	src1, src2 := vecSrcPair(d)
	switch d.Op {
	case encoder.VANN:
		// PANDN inverts its destination, so the inverted side (src2) must
		// arrive there via scratch: tmp = ^src2 & src1, then dst = tmp
		if a.useVEX(d.Vec) {
			// VEX order flips for free: dst = ^vvvv & rm
			return a.vexTernary(st, vecLogicOps[d.Op], 0, d, dr, src2, src1)
		}
		sc := vecInfo(scratchVecHigh)
		if err := a.vmovLoad(st, d.Vec, sc, src2); err != nil {
			return err
		}
		if err := a.sseCombine(st, vecLogicOps[d.Op], sc, src1); err != nil {
			return err
		}
		sseRR(st, opMovdquLoad, dr, sc)
		return nil
	case encoder.VORN:
		// no native or-not: invert src2 in scratch, then plain POR
		ones := vecInfo(scratchVecLow)
		a.allOnes(st, d.Vec, ones)
		sc := vecInfo(scratchVecHigh)
		if a.useVEX(d.Vec) {
			if err := a.vexTernary(st, opPxor, 0, d, sc, vecScratchOperand(scratchVecLow), src2); err != nil {
				return err
			}
			return a.vexTernary(st, vecLogicOps[encoder.VORR], 0, d, dr, src1, vecScratchOperand(scratchVecHigh))
		}
		if err := a.vmovLoad(st, d.Vec, sc, src2); err != nil {
			return err
		}
		sseRR(st, opPxor, sc, ones)
		if err := a.vmovLoad(st, d.Vec, dr, src1); err != nil {
			return err
		}
		sseRR(st, vecLogicOps[encoder.VORR], dr, sc)
		return nil
	}
	o := vecLogicOps[d.Op]
	if a.useVEX(d.Vec) {
		return a.vexTernary(st, o, 0, d, dr, src1, src2)
	}
	src, err := a.prepVecDst(st, d, dr)
	if err != nil {
		return err
	}
	return a.sseCombine(st, o, dr, src)
}

func (a *Assembler) emitVecNot(st *encoder.Stream, d *encoder.Descriptor) error {
	if !a.nativeVec(d.Vec) {
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
	ones := vecInfo(scratchVecHigh)
	a.allOnes(st, d.Vec, ones)
	if a.useVEX(d.Vec) {
		return a.vexTernary(st, opPxor, 0, d, dr, vecScratchOperand(scratchVecHigh), src)
	}
	if err := a.vmovLoad(st, d.Vec, dr, src); err != nil {
		return err
	}
	sseRR(st, opPxor, dr, ones)
	return nil
}

// vecArithOp selects the packed opcode per (op, lane width).
func vecArithOp(op encoder.Op, e encoder.Width) (vecOpcode, bool) {
	switch op {
	case encoder.VADD:
		if e == encoder.E32 {
			return vecOpcode{1, 1, 0xFE}, true // PADDD
		}
		return vecOpcode{1, 1, 0xD4}, true // PADDQ
	case encoder.VSUB:
		if e == encoder.E32 {
			return vecOpcode{1, 1, 0xFA}, true // PSUBD
		}
		return vecOpcode{1, 1, 0xFB}, true // PSUBQ
	case encoder.VMUL:
		if e == encoder.E32 {
			return vecOpcode{1, 2, 0x40}, true // PMULLD
		}
	}
	return vecOpcode{}, false
}

func (a *Assembler) emitVecArith(st *encoder.Stream, d *encoder.Descriptor) error {
	if !a.nativeVec(d.Vec) {
		return a.emulateHalves(st, d)
	}
	o, ok := vecArithOp(d.Op, d.Elem)
	if !ok {
		return a.emulateLanes(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	if a.useVEX(d.Vec) {
		src1, src2 := vecSrcPair(d)
		return a.vexTernary(st, o, 0, d, dr, src1, src2)
	}
	src, err := a.prepVecDst(st, d, dr)
	if err != nil {
		return err
	}
	return a.sseCombine(st, o, dr, src)
}

func (a *Assembler) emitVecMinMax(st *encoder.Stream, d *encoder.Descriptor) error {
	if !a.nativeVec(d.Vec) {
		return a.emulateHalves(st, d)
	}
	if d.Elem == encoder.E64 {
		return a.emulateLanes(st, d)
	}
	var o vecOpcode
	switch {
	case d.Op == encoder.VMIN && d.Signed:
		o = vecOpcode{1, 2, 0x39} // PMINSD
	case d.Op == encoder.VMIN:
		o = vecOpcode{1, 2, 0x3B} // PMINUD
	case d.Signed:
		o = vecOpcode{1, 2, 0x3D} // PMAXSD
	default:
		o = vecOpcode{1, 2, 0x3F} // PMAXUD
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	if a.useVEX(d.Vec) {
		src1, src2 := vecSrcPair(d)
		return a.vexTernary(st, o, 0, d, dr, src1, src2)
	}
	src, err := a.prepVecDst(st, d, dr)
	if err != nil {
		return err
	}
	return a.sseCombine(st, o, dr, src)
}

func vecCmpEq(e encoder.Width) vecOpcode {
	if e == encoder.E32 {
		return vecOpcode{1, 1, 0x76} // PCMPEQD
	}
	return vecOpcode{1, 2, 0x29} // PCMPEQQ
}

func vecCmpGt(e encoder.Width) vecOpcode {
	if e == encoder.E32 {
		return vecOpcode{1, 1, 0x66} // PCMPGTD
	}
	return vecOpcode{1, 2, 0x37} // PCMPGTQ
}

// signSplat fills r with the sign-bit pattern of the lane width, used to
// bias operands so the signed compare orders unsigned values.
func (a *Assembler) signSplat(st *encoder.Stream, d *encoder.Descriptor, r X86Reg) {
	a.allOnes(st, d.Vec, r)
	shiftOp := byte(0x72) // PSLLD group
	if d.Elem == encoder.E64 {
		shiftOp = 0x73
	}
	imm := byte(d.Elem.Bits() - 1)
	o := vecOpcode{1, 1, shiftOp}
	if a.useVEX(d.Vec) {
		// shift-by-immediate keeps the target in rm, vvvv names it too
		vexRR(st, o, 0, vecL(d.Vec), r.bitsToID(), X86Reg{RegBits: 6}, r, imm)
	} else {
		sseRR(st, o, X86Reg{RegBits: 6}, r, imm)
	}
}

// emitVecCmp lowers the per-lane compare to an all-ones/all-zeros mask.
// Equality and signed greater-than are native; everything else composes
// from them with swaps, inversions and sign-bias.
func (a *Assembler) emitVecCmp(st *encoder.Stream, d *encoder.Descriptor) error {
	if !a.nativeVec(d.Vec) {
		return a.emulateHalves(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	src1, src2 := vecSrcPair(d)

	unsigned := false
	base := d.Cond
	switch d.Cond {
	case encoder.CondLTU, encoder.CondLEU, encoder.CondGEU, encoder.CondGTU:
		unsigned = true
		base = map[encoder.Cond]encoder.Cond{
			encoder.CondLTU: encoder.CondLTS, encoder.CondLEU: encoder.CondLES,
			encoder.CondGEU: encoder.CondGES, encoder.CondGTU: encoder.CondGTS,
		}[d.Cond]
	case encoder.CondEQ, encoder.CondNE, encoder.CondLTS, encoder.CondLES, encoder.CondGES, encoder.CondGTS:
	default:
		return fmt.Errorf("vcmp condition %s: %w", d.Cond, asmerrors.ErrUOpcode)
	}

	// rhs always stages in the high scratch so dst aliasing cannot bite
	rhs := vecInfo(scratchVecHigh)
	if err := a.vmovLoad(st, d.Vec, rhs, src2); err != nil {
		return err
	}
	bias := vecInfo(scratchVecLow)
	if unsigned {
		a.signSplat(st, d, bias)
		if a.useVEX(d.Vec) {
			vexRR(st, opPxor, 0, vecL(d.Vec), rhs.bitsToID(), rhs, bias)
		} else {
			sseRR(st, opPxor, rhs, bias)
		}
	}
	if err := a.vmovLoad(st, d.Vec, dr, src1); err != nil {
		return err
	}
	if unsigned {
		if a.useVEX(d.Vec) {
			vexRR(st, opPxor, 0, vecL(d.Vec), dr.bitsToID(), dr, bias)
		} else {
			sseRR(st, opPxor, dr, bias)
		}
	}

	cmp := func(o vecOpcode, reg, rm X86Reg) {
		if a.useVEX(d.Vec) {
			vexRR(st, o, 0, vecL(d.Vec), reg.bitsToID(), reg, rm)
		} else {
			sseRR(st, o, reg, rm)
		}
	}
	copyReg := func(dst, src X86Reg) {
		if a.useVEX(d.Vec) {
			vexRR(st, opMovdquLoad, 0, vecL(d.Vec), 0, dst, src)
		} else {
			sseRR(st, opMovdquLoad, dst, src)
		}
	}
	invertDst := func() {
		ones := vecInfo(scratchVecLow)
		a.allOnes(st, d.Vec, ones)
		if a.useVEX(d.Vec) {
			vexRR(st, opPxor, 0, vecL(d.Vec), dr.bitsToID(), dr, ones)
		} else {
			sseRR(st, opPxor, dr, ones)
		}
	}

	switch base {
	case encoder.CondEQ:
		cmp(vecCmpEq(d.Elem), dr, rhs)
	case encoder.CondNE:
		cmp(vecCmpEq(d.Elem), dr, rhs)
		invertDst()
	case encoder.CondGTS:
		cmp(vecCmpGt(d.Elem), dr, rhs)
	case encoder.CondLES:
		// le = not(gt)
		cmp(vecCmpGt(d.Elem), dr, rhs)
		invertDst()
	case encoder.CondLTS:
		// lt = swapped gt
		cmp(vecCmpGt(d.Elem), rhs, dr)
		copyReg(dr, rhs)
	case encoder.CondGES:
		// ge = not(swapped gt)
		cmp(vecCmpGt(d.Elem), rhs, dr)
		copyReg(dr, rhs)
		invertDst()
	}
	return nil
}

// emitVecCvt lowers the float-to-int conversion. Truncation is a single
// instruction; directed roundings go through ROUNDPS to an integral float
// first, then truncate, which is exact.
func (a *Assembler) emitVecCvt(st *encoder.Stream, d *encoder.Descriptor) error {
	if !a.nativeVec(d.Vec) {
		return a.emulateHalves(st, d)
	}
	if d.Elem == encoder.E64 {
		return a.emulateLanes(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	src := d.Operands[1]
	cvtt := vecOpcode{2, 1, 0x5B} // CVTTPS2DQ
	if d.Round == encoder.RoundZero {
		if a.useVEX(d.Vec) {
			return a.vexUnary(st, cvtt, d, dr, src)
		}
		return a.sseUnary(st, cvtt, dr, src)
	}
	// ROUNDPS imm: 0 nearest, 1 toward -inf, 2 toward +inf; bit 3 quiets
	// the precision exception
	mode := map[encoder.RoundMode]byte{
		encoder.RoundNearest: 0, encoder.RoundDown: 1, encoder.RoundUp: 2,
	}[d.Round]
	round := vecOpcode{1, 3, 0x08} // ROUNDPS
	sc := vecInfo(scratchVecHigh)
	if a.useVEX(d.Vec) {
		if err := a.vexUnary(st, round, d, sc, src, 0x08|mode); err != nil {
			return err
		}
		vexRR(st, cvtt, 0, vecL(d.Vec), 0, dr, sc)
		return nil
	}
	if err := a.sseUnary(st, round, sc, src, 0x08|mode); err != nil {
		return err
	}
	sseRR(st, cvtt, dr, sc)
	return nil
}

// emitVecCvn lowers the int-to-float conversion; exact for every 32-bit
// lane that fits the mantissa, rounding to nearest otherwise, which is the
// conversion x86 defines.
func (a *Assembler) emitVecCvn(st *encoder.Stream, d *encoder.Descriptor) error {
	if !a.nativeVec(d.Vec) {
		return a.emulateHalves(st, d)
	}
	if d.Elem == encoder.E64 {
		return a.emulateLanes(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	o := vecOpcode{0, 1, 0x5B} // CVTDQ2PS
	if a.useVEX(d.Vec) {
		return a.vexUnary(st, o, d, dr, d.Operands[1])
	}
	return a.sseUnary(st, o, dr, d.Operands[1])
}

// sseUnary emits dst = op(src) in the legacy two-operand form, staging
// memory sources for alignment.
func (a *Assembler) sseUnary(st *encoder.Stream, o vecOpcode, dr X86Reg, src operand.Operand, imm ...byte) error {
	switch src.Kind() {
	case operand.KindReg:
		sseRR(st, o, dr, vecInfo(src.BareReg().ID), imm...)
		return nil
	case operand.KindMem:
		sc := vecInfo(scratchVecHigh)
		if err := a.vmovLoad(st, encoder.V128, sc, src); err != nil {
			return err
		}
		sseRR(st, o, dr, sc, imm...)
		return nil
	}
	return fmt.Errorf("vector source %s: %w", src, asmerrors.ErrOBadOperandShape)
}

// vexUnary emits dst = op(src) in the VEX form; rm memory is fine unaligned.
func (a *Assembler) vexUnary(st *encoder.Stream, o vecOpcode, d *encoder.Descriptor, dr X86Reg, src operand.Operand, imm ...byte) error {
	switch src.Kind() {
	case operand.KindReg:
		vexRR(st, o, 0, vecL(d.Vec), 0, dr, vecInfo(src.BareReg().ID), imm...)
		return nil
	case operand.KindMem:
		m, err := a.resolveMem(st, src)
		if err != nil {
			return err
		}
		vexRM(st, o, 0, vecL(d.Vec), 0, dr, gpInfo(m.AddrBase().ID), int32(m.Disp()), imm...)
		return nil
	}
	return fmt.Errorf("vector source %s: %w", src, asmerrors.ErrOBadOperandShape)
}

// vecShiftGroup returns the shift-by-immediate group opcode and /ext, and
// the by-register opcode, for (op, signed, elem). ok is false where no
// native form exists (64-bit arithmetic shift).
func vecShiftGroup(op encoder.Op, signed bool, e encoder.Width) (grp byte, ext byte, byReg vecOpcode, ok bool) {
	if e == encoder.E32 {
		switch {
		case op == encoder.VSHL:
			return 0x72, 6, vecOpcode{1, 1, 0xF2}, true // PSLLD
		case signed:
			return 0x72, 4, vecOpcode{1, 1, 0xE2}, true // PSRAD
		default:
			return 0x72, 2, vecOpcode{1, 1, 0xD2}, true // PSRLD
		}
	}
	switch {
	case op == encoder.VSHL:
		return 0x73, 6, vecOpcode{1, 1, 0xF3}, true // PSLLQ
	case signed:
		return 0, 0, vecOpcode{}, false // PSRAQ needs AVX-512
	default:
		return 0x73, 2, vecOpcode{1, 1, 0xD3}, true // PSRLQ
	}
}

// emitVecShift lowers uniform (immediate or general register count) and
// per-lane (vector count) shifts.
func (a *Assembler) emitVecShift(st *encoder.Stream, d *encoder.Descriptor) error {
	if !a.nativeVec(d.Vec) {
		return a.emulateHalves(st, d)
	}
	cnt := d.Operands[len(d.Operands)-1]
	perLane := cnt.Kind() == operand.KindMem ||
		(cnt.Kind() == operand.KindReg && cnt.BareReg().Class == operand.Vec)
	if perLane {
		return a.emitVecShiftPerLane(st, d, cnt)
	}
	grp, ext, byReg, ok := vecShiftGroup(d.Op, d.Op == encoder.VSHR && d.Signed, d.Elem)
	if !ok {
		return a.emulateLanes(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	// materialize the shifted value in dst
	if len(d.Operands) == 3 {
		if err := a.vmovLoad(st, d.Vec, dr, d.Operands[1]); err != nil {
			return err
		}
	}
	immGrp := vecOpcode{1, 1, grp}
	switch cnt.Kind() {
	case operand.KindImm:
		if err := checkShiftCount(d.Elem, cnt.Imm()); err != nil {
			return err
		}
		if a.useVEX(d.Vec) {
			vexRR(st, immGrp, 0, vecL(d.Vec), dr.bitsToID(), X86Reg{RegBits: ext}, dr, byte(cnt.Imm()))
		} else {
			sseRR(st, immGrp, X86Reg{RegBits: ext}, dr, byte(cnt.Imm()))
		}
	case operand.KindReg:
		// uniform count from a general register rides an xmm via MOVD
		sc := vecInfo(scratchVecHigh)
		cr := gpInfo(cnt.BareReg().ID)
		code := append([]byte{0x66}, func() []byte {
			if sc.REXBit != 0 || cr.REXBit != 0 {
				return []byte{rexByte(0, sc.REXBit, 0, cr.REXBit)}
			}
			return nil
		}()...)
		code = append(code, 0x0F, 0x6E, modRMByte(3, sc.RegBits, cr.RegBits))
		st.Append(code...)
		if a.useVEX(d.Vec) {
			vexRR(st, byReg, 0, vecL(d.Vec), dr.bitsToID(), dr, sc)
		} else {
			sseRR(st, byReg, dr, sc)
		}
	default:
		return fmt.Errorf("shift count %s: %w", cnt, asmerrors.ErrOBadOperandShape)
	}
	return nil
}

// emitVecShiftPerLane lowers vector-count shifts: the AVX2 VPS*V forms when
// VEX is active, lane decomposition otherwise.
func (a *Assembler) emitVecShiftPerLane(st *encoder.Stream, d *encoder.Descriptor, cnt operand.Operand) error {
	if d.Op == encoder.VSHR && d.Signed && d.Elem == encoder.E64 {
		return a.emulateLanes(st, d) // VPSRAVQ needs AVX-512
	}
	if !a.profile.Caps.Has(encoder.V256) {
		// no AVX2, no variable-shift instruction at any width
		return a.emulateLanes(st, d)
	}
	var o vecOpcode
	switch {
	case d.Op == encoder.VSHL:
		o = vecOpcode{1, 2, 0x47} // VPSLLV
	case d.Signed:
		o = vecOpcode{1, 2, 0x46} // VPSRAV
	default:
		o = vecOpcode{1, 2, 0x45} // VPSRLV
	}
	var w byte
	if d.Elem == encoder.E64 {
		w = 1
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	src1 := d.Operands[0]
	if len(d.Operands) == 3 {
		src1 = d.Operands[1]
	}
	return a.vexTernary(st, o, w, d, dr, src1, cnt)
}

// emitVecFMA lowers fused multiply-add (g + s*t) and multiply-subtract
// (g - s*t). The native FMA3 form rounds once; the fallback multiplies then
// adds, rounding twice, which the profile records.
func (a *Assembler) emitVecFMA(st *encoder.Stream, d *encoder.Descriptor) error {
	if !a.nativeVec(d.Vec) {
		return a.emulateHalves(st, d)
	}
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	s, t := d.Operands[1], d.Operands[2]
	var w byte
	if d.Elem == encoder.E64 {
		w = 1
	}
	if a.profile.FMASingleRounding {
		o := vecOpcode{1, 2, 0xB8} // VFMADD231
		if d.Op == encoder.FMS {
			o = vecOpcode{1, 2, 0xBC} // VFNMADD231: dst = dst - s*t
		}
		return a.vexTernary(st, o, w, d, dr, s, t)
	}
	// double-rounding fallback: product in scratch, then add or subtract
	mulOp := vecOpcode{0, 1, 0x59} // MULPS
	addOp := vecOpcode{0, 1, 0x58} // ADDPS
	subOp := vecOpcode{0, 1, 0x5C} // SUBPS
	if d.Elem == encoder.E64 {
		mulOp.pp, addOp.pp, subOp.pp = 1, 1, 1 // the PD forms
	}
	sc := vecInfo(scratchVecHigh)
	if a.useVEX(d.Vec) {
		if err := a.vexTernary(st, mulOp, 0, d, sc, s, t); err != nil {
			return err
		}
		comb := addOp
		if d.Op == encoder.FMS {
			comb = subOp
		}
		return a.vexTernary(st, comb, 0, d, dr, d.Operands[0], vecScratchOperand(scratchVecHigh))
	}
	if err := a.vmovLoad(st, d.Vec, sc, s); err != nil {
		return err
	}
	if err := a.sseCombine(st, mulOp, sc, t); err != nil {
		return err
	}
	comb := addOp
	if d.Op == encoder.FMS {
		comb = subOp
	}
	sseRR(st, comb, dr, sc)
	return nil
}
