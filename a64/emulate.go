package a64

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
// split recurses until the 128-bit rung is reached.
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

// vstoreSpill / vloadSpill move a vector register to and from a spill slot.
// The slot offsets are multiples of sixteen, so the scaled forms always fit.
func (a *Assembler) vstoreSpill(st *encoder.Stream, r uint8, off uint32) {
	st.AppendU32(strQ(r, scratchSpill, off/16))
}

func (a *Assembler) vloadSpill(st *encoder.Stream, r uint8, off uint32) {
	st.AppendU32(ldrQ(r, scratchSpill, off/16))
}

// spillTwo writes the two sources of a binary vector op into the first two
// spill slots and returns the destination register with the lane count.
func (a *Assembler) spillTwo(st *encoder.Stream, d *encoder.Descriptor) (uint8, int, error) {
	dr, err := vecDstReg(d)
	if err != nil {
		return dr, 0, err
	}
	src1, src2 := vecSrcPair(d)
	if err := a.vmovLoad(st, scratchVecHigh, src1); err != nil {
		return dr, 0, err
	}
	a.vstoreSpill(st, scratchVecHigh, 0)
	if err := a.vmovLoad(st, scratchVecHigh, src2); err != nil {
		return dr, 0, err
	}
	a.vstoreSpill(st, scratchVecHigh, spillAreaStride)
	return dr, int(d.Vec.Lanes(d.Elem)), nil
}

// emulateLanes decomposes a packed operation whose lane width has no native
// instruction into scalar work through the spill area. Only the 64-bit
// multiply and min/max land here; everything else has a 128-bit form. The
// spill base register must point at writable scratch memory of at least
// two slots.
func (a *Assembler) emulateLanes(st *encoder.Stream, d *encoder.Descriptor) error {
	log.Trace(log.VectorMonitoring, "lane decomposition", "op", d.Op.String(), "elem", d.Elem.String(), "vec", int(d.Vec))
	switch d.Op {
	case encoder.VMUL:
		return a.laneMul(st, d)
	case encoder.VMIN, encoder.VMAX:
		return a.laneMinMax(st, d)
	}
	return fmt.Errorf("no lane decomposition for %s: %w", d.Op, asmerrors.ErrUOpcode)
}

func (a *Assembler) laneMul(st *encoder.Stream, d *encoder.Descriptor) error {
	dr, lanes, err := a.spillTwo(st, d)
	if err != nil {
		return err
	}
	eb := uint32(d.Elem.Bytes())
	for i := 0; i < lanes; i++ {
		off := uint32(i) * eb
		st.AppendU32(ldrScaled(d.Elem, scratchValue, scratchSpill, off/eb))
		st.AppendU32(ldrScaled(d.Elem, scratchAddr, scratchSpill, (spillAreaStride+off)/eb))
		st.AppendU32(mulAdd(wordMADD, d.Elem, scratchValue, scratchValue, scratchAddr, regZR))
		st.AppendU32(strScaled(d.Elem, scratchValue, scratchSpill, off/eb))
	}
	a.vloadSpill(st, dr, 0)
	return nil
}

// cselKeepFirst picks the condition under which the first operand already
// wins the min/max ordering.
func cselKeepFirst(op encoder.Op, signed bool) encoder.Cond {
	switch {
	case op == encoder.VMIN && signed:
		return encoder.CondLTS
	case op == encoder.VMIN:
		return encoder.CondLTU
	case signed:
		return encoder.CondGTS
	default:
		return encoder.CondGTU
	}
}

func (a *Assembler) laneMinMax(st *encoder.Stream, d *encoder.Descriptor) error {
	dr, lanes, err := a.spillTwo(st, d)
	if err != nil {
		return err
	}
	eb := uint32(d.Elem.Bytes())
	cond := condCode[cselKeepFirst(d.Op, d.Signed)]
	for i := 0; i < lanes; i++ {
		off := uint32(i) * eb
		st.AppendU32(ldrScaled(d.Elem, scratchValue, scratchSpill, off/eb))
		st.AppendU32(ldrScaled(d.Elem, scratchAddr, scratchSpill, (spillAreaStride+off)/eb))
		st.AppendU32(aluReg(wordSUBSreg, d.Elem, regZR, scratchValue, scratchAddr))
		st.AppendU32(csel(d.Elem, scratchValue, scratchValue, scratchAddr, cond))
		st.AppendU32(strScaled(d.Elem, scratchValue, scratchSpill, off/eb))
	}
	a.vloadSpill(st, dr, 0)
	return nil
}
