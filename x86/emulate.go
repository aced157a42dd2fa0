package x86

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/log"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// emulateHalves splits a vector operation into two at half width. Vector
// register id n stands for the physical pair (2n, 2n+1) at the emulated
// width; memory operands advance by half the vector size for the upper
// half; immediates and general-register shift counts pass through. The
// split recurses until a native rung is reached.
func (a *Assembler) emulateHalves(st *encoder.Stream, d *encoder.Descriptor) error {
	half := d.Vec.Half()
	halfBytes := int64(d.Vec.Bytes() / 2)
	log.Trace(log.VectorMonitoring, "width split", "op", d.Op.String(), "from", int(d.Vec), "to", int(half))
	for hi := 0; hi < 2; hi++ {
		nd := *d
		nd.Vec = half
		nd.Operands = make([]operand.Operand, len(d.Operands))
		for i, o := range d.Operands {
			switch {
			case o.Kind() == operand.KindReg && o.BareReg().Class == operand.Vec:
				r := o.BareReg()
				if int(r.ID)*2+1 >= scratchVecLow {
					return fmt.Errorf("vector register %d has no pair at %d bits: %w", r.ID, int(d.Vec), asmerrors.ErrOReservedRegister)
				}
				nd.Operands[i] = operand.MustReg(operand.Register{ID: r.ID*2 + uint8(hi), Class: operand.Vec, Role: r.Role})
			case o.Kind() == operand.KindMem:
				if hi == 1 {
					o = o.AddDisp(halfBytes)
				}
				nd.Operands[i] = o
			default:
				nd.Operands[i] = o
			}
		}
		if err := a.Encode(st, &nd); err != nil {
			return err
		}
	}
	return nil
}

// spillBaseInfo is the register anchoring the caller-provided scratch area.
func spillBaseInfo() X86Reg { return gpInfo(scratchSpill) }

// vstoreSpill / vloadSpill move a vector register to and from a spill slot.
func (a *Assembler) vstoreSpill(st *encoder.Stream, v encoder.VecWidth, r X86Reg, off int32) {
	if a.useVEX(v) {
		vexRM(st, opMovdquStore, 0, vecL(v), 0, r, spillBaseInfo(), off)
	} else {
		sseRM(st, opMovdquStore, r, spillBaseInfo(), off)
	}
}

func (a *Assembler) vloadSpill(st *encoder.Stream, v encoder.VecWidth, r X86Reg, off int32) {
	if a.useVEX(v) {
		vexRM(st, opMovdquLoad, 0, vecL(v), 0, r, spillBaseInfo(), off)
	} else {
		sseRM(st, opMovdquLoad, r, spillBaseInfo(), off)
	}
}

// spillTwo writes the two sources of a binary vector op into the first two
// spill slots and returns the destination register with the lane count.
func (a *Assembler) spillTwo(st *encoder.Stream, d *encoder.Descriptor) (X86Reg, int, error) {
	dr, err := vecDstReg(d)
	if err != nil {
		return dr, 0, err
	}
	src1, src2 := vecSrcPair(d)
	sc := vecInfo(scratchVecHigh)
	if err := a.vmovLoad(st, d.Vec, sc, src1); err != nil {
		return dr, 0, err
	}
	a.vstoreSpill(st, d.Vec, sc, 0)
	if err := a.vmovLoad(st, d.Vec, sc, src2); err != nil {
		return dr, 0, err
	}
	a.vstoreSpill(st, d.Vec, sc, spillAreaStride)
	return dr, int(d.Vec.Lanes(d.Elem)), nil
}

// emulateLanes decomposes a packed operation whose lane width has no native
// instruction into scalar work through the spill area. The spill base
// register must point at writable scratch memory of at least two slots.
func (a *Assembler) emulateLanes(st *encoder.Stream, d *encoder.Descriptor) error {
	log.Trace(log.VectorMonitoring, "lane decomposition", "op", d.Op.String(), "elem", d.Elem.String(), "vec", int(d.Vec))
	switch d.Op {
	case encoder.VMUL:
		return a.laneMul(st, d)
	case encoder.VMIN, encoder.VMAX:
		return a.laneMinMax(st, d)
	case encoder.VSHL, encoder.VSHR:
		return a.laneShift(st, d)
	case encoder.VCVT:
		return a.laneCvt(st, d)
	case encoder.VCVN:
		return a.laneCvn(st, d)
	}
	return fmt.Errorf("no lane decomposition for %s: %w", d.Op, asmerrors.ErrUOpcode)
}

func (a *Assembler) laneMul(st *encoder.Stream, d *encoder.Descriptor) error {
	dr, lanes, err := a.spillTwo(st, d)
	if err != nil {
		return err
	}
	eb := int32(d.Elem.Bytes())
	sc := gpInfo(scratchValue)
	for i := 0; i < lanes; i++ {
		off := int32(i) * eb
		insnRM(st, d.Elem, loadOpcode(d.Elem), sc, spillBaseInfo(), off)
		insnRM(st, d.Elem, []byte{0x0F, 0xAF}, sc, spillBaseInfo(), spillAreaStride+off)
		insnRM(st, d.Elem, storeOpcode(d.Elem), sc, spillBaseInfo(), off)
	}
	a.vloadSpill(st, d.Vec, dr, 0)
	return nil
}

// cmovKeepSecond picks the CMOV condition that replaces the first operand
// with the second when the second wins the min/max ordering.
func cmovKeepSecond(op encoder.Op, signed bool) byte {
	switch {
	case op == encoder.VMIN && signed:
		return 0x4F // CMOVG: first > second, take second
	case op == encoder.VMIN:
		return 0x47 // CMOVA
	case signed:
		return 0x4C // CMOVL
	default:
		return 0x42 // CMOVB
	}
}

func (a *Assembler) laneMinMax(st *encoder.Stream, d *encoder.Descriptor) error {
	dr, lanes, err := a.spillTwo(st, d)
	if err != nil {
		return err
	}
	eb := int32(d.Elem.Bytes())
	sc := gpInfo(scratchValue)
	cmov := []byte{0x0F, cmovKeepSecond(d.Op, d.Signed)}
	for i := 0; i < lanes; i++ {
		off := int32(i) * eb
		insnRM(st, d.Elem, loadOpcode(d.Elem), sc, spillBaseInfo(), off)
		insnRM(st, d.Elem, []byte{0x3B}, sc, spillBaseInfo(), spillAreaStride+off)
		insnRM(st, d.Elem, cmov, sc, spillBaseInfo(), spillAreaStride+off)
		insnRM(st, d.Elem, storeOpcode(d.Elem), sc, spillBaseInfo(), off)
	}
	a.vloadSpill(st, d.Vec, dr, 0)
	return nil
}

// laneShift covers the shift shapes with no packed instruction: 64-bit
// arithmetic right shifts, and per-lane variable counts on SSE-only hosts.
// Scalar shifts mask their count modulo the width, so counts are validated
// (immediates) or assumed in range (register and per-lane counts).
func (a *Assembler) laneShift(st *encoder.Stream, d *encoder.Descriptor) error {
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	cnt := d.Operands[len(d.Operands)-1]
	perLane := cnt.Kind() == operand.KindMem ||
		(cnt.Kind() == operand.KindReg && cnt.BareReg().Class == operand.Vec)

	src := d.Operands[0]
	if len(d.Operands) == 3 {
		src = d.Operands[1]
	}
	sc := vecInfo(scratchVecHigh)
	if err := a.vmovLoad(st, d.Vec, sc, src); err != nil {
		return err
	}
	a.vstoreSpill(st, d.Vec, sc, 0)
	if perLane {
		if err := a.vmovLoad(st, d.Vec, sc, cnt); err != nil {
			return err
		}
		a.vstoreSpill(st, d.Vec, sc, spillAreaStride)
	}

	var ext byte
	switch {
	case d.Op == encoder.VSHL:
		ext = 4
	case d.Signed:
		ext = 7 // SAR
	default:
		ext = 5 // SHR
	}
	eb := int32(d.Elem.Bytes())
	lanes := int(d.Vec.Lanes(d.Elem))

	switch {
	case cnt.Kind() == operand.KindImm:
		if err := checkShiftCount(d.Elem, cnt.Imm()); err != nil {
			return err
		}
		for i := 0; i < lanes; i++ {
			insnMI(st, d.Elem, 0xC1, ext, spillBaseInfo(), int32(i)*eb, []byte{byte(cnt.Imm())})
		}
	case !perLane: // uniform count in a general register, via CL
		cr := cnt.BareReg().ID
		if cr != regRCX {
			pushReg(st, gpInfo(regRCX))
			insnRR(st, encoder.E64, []byte{0x8B}, gpInfo(regRCX), gpInfo(cr))
		}
		for i := 0; i < lanes; i++ {
			insnMI(st, d.Elem, 0xD3, ext, spillBaseInfo(), int32(i)*eb, nil)
		}
		if cr != regRCX {
			popReg(st, gpInfo(regRCX))
		}
	default: // per-lane counts from the second spill slot
		pushReg(st, gpInfo(regRCX))
		for i := 0; i < lanes; i++ {
			off := int32(i) * eb
			insnRM(st, d.Elem, loadOpcode(d.Elem), gpInfo(regRCX), spillBaseInfo(), spillAreaStride+off)
			insnMI(st, d.Elem, 0xD3, ext, spillBaseInfo(), off, nil)
		}
		popReg(st, gpInfo(regRCX))
	}
	a.vloadSpill(st, d.Vec, dr, 0)
	return nil
}

// scalarSSERM emits one scalar-SSE instruction (F2/F3/66 prefixed) with a
// memory rm operand and an optional REX.W, used by the 64-bit lane converts.
func scalarSSERM(st *encoder.Stream, prefix byte, w byte, opcode []byte, reg X86Reg, base X86Reg, disp int32) {
	code := []byte{prefix}
	if w != 0 || reg.REXBit != 0 || base.REXBit != 0 {
		code = append(code, rexByte(w, reg.REXBit, 0, base.REXBit))
	}
	code = append(code, opcode...)
	code = appendMem(code, reg.RegBits, base, disp)
	st.Append(code...)
}

// laneCvt converts packed f64 to i64 one lane at a time: the whole vector
// rounds to integral first when a directed mode is requested, then each
// lane truncates through CVTTSD2SI.
func (a *Assembler) laneCvt(st *encoder.Stream, d *encoder.Descriptor) error {
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	sc := vecInfo(scratchVecHigh)
	if err := a.vmovLoad(st, d.Vec, sc, d.Operands[1]); err != nil {
		return err
	}
	if d.Round != encoder.RoundZero {
		mode := map[encoder.RoundMode]byte{
			encoder.RoundNearest: 0, encoder.RoundDown: 1, encoder.RoundUp: 2,
		}[d.Round]
		round := vecOpcode{1, 3, 0x09} // ROUNDPD
		if a.useVEX(d.Vec) {
			vexRR(st, round, 0, vecL(d.Vec), 0, sc, sc, 0x08|mode)
		} else {
			sseRR(st, round, sc, sc, 0x08|mode)
		}
	}
	a.vstoreSpill(st, d.Vec, sc, 0)
	gp := gpInfo(scratchValue)
	lanes := int(d.Vec.Lanes(d.Elem))
	for i := 0; i < lanes; i++ {
		off := int32(i) * 8
		scalarSSERM(st, 0xF2, 1, []byte{0x0F, 0x2C}, gp, spillBaseInfo(), off) // CVTTSD2SI
		insnRM(st, encoder.E64, storeOpcode(encoder.E64), gp, spillBaseInfo(), off)
	}
	a.vloadSpill(st, d.Vec, dr, 0)
	return nil
}

// laneCvn converts packed i64 to f64 lane by lane through CVTSI2SD.
func (a *Assembler) laneCvn(st *encoder.Stream, d *encoder.Descriptor) error {
	dr, err := vecDstReg(d)
	if err != nil {
		return err
	}
	sc := vecInfo(scratchVecHigh)
	if err := a.vmovLoad(st, d.Vec, sc, d.Operands[1]); err != nil {
		return err
	}
	a.vstoreSpill(st, d.Vec, sc, 0)
	lanes := int(d.Vec.Lanes(d.Elem))
	for i := 0; i < lanes; i++ {
		off := int32(i) * 8
		scalarSSERM(st, 0xF2, 1, []byte{0x0F, 0x2A}, sc, spillBaseInfo(), off) // CVTSI2SD
		scalarSSERM(st, 0xF2, 0, []byte{0x0F, 0x11}, sc, spillBaseInfo(), off) // MOVSD store
	}
	a.vloadSpill(st, d.Vec, dr, 0)
	return nil
}
