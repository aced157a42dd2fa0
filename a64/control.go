package a64

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/log"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// emitJcc appends a B.cond with a pending imm19 fix-up. Branches are
// relative to the branch word itself, so the anchor and the end coincide.
func (a *Assembler) emitJcc(st *encoder.Stream, c encoder.Cond, l *encoder.Label) error {
	cond, ok := condCode[c]
	if !ok {
		return fmt.Errorf("branch condition %s: %w", c, asmerrors.ErrUOpcode)
	}
	st.AppendU32(wordBcond | cond)
	return st.AddFixup(encoder.FixA64Cond19, st.Len()-4, st.Len()-4, l)
}

func (a *Assembler) emitJump(st *encoder.Stream, d *encoder.Descriptor) error {
	st.AppendU32(wordB)
	return st.AddFixup(encoder.FixA64Br26, st.Len()-4, st.Len()-4, d.Label)
}

// emitCompareJump fuses CMP with the conditional branch.
func (a *Assembler) emitCompareJump(st *encoder.Stream, d *encoder.Descriptor) error {
	cd := &encoder.Descriptor{Op: encoder.CMP, Elem: d.Elem, Signed: d.Signed, Operands: d.Operands}
	if err := a.emitBinary(st, cd); err != nil {
		return err
	}
	return a.emitJcc(st, d.Cond, d.Label)
}

// arjInner is the set of inner opcodes with a flag-setting dual the
// following branch can read.
var arjInner = map[encoder.Op]bool{
	encoder.ADD: true, encoder.SUB: true, encoder.AND: true,
	encoder.ANN: true, encoder.ORR: true, encoder.ORN: true,
	encoder.XOR: true, encoder.NEG: true, encoder.CMP: true,
}

// emitArithJump performs the flag-setting arithmetic named by Inner, then
// branches on the resulting flags.
func (a *Assembler) emitArithJump(st *encoder.Stream, d *encoder.Descriptor) error {
	if !arjInner[d.Inner] {
		return fmt.Errorf("arj inner opcode %s: %w", d.Inner, asmerrors.ErrUOpcode)
	}
	id := &encoder.Descriptor{Op: d.Inner, Elem: d.Elem, Signed: d.Signed, Flags: encoder.FlagsSetZF, Operands: d.Operands}
	var err error
	switch d.Inner {
	case encoder.NEG:
		err = a.emitUnary(st, id)
	case encoder.ANN, encoder.ORN:
		err = a.emitBinaryInv(st, id)
	default:
		err = a.emitBinary(st, id)
	}
	if err != nil {
		return err
	}
	return a.emitJcc(st, d.Cond, d.Label)
}

// emitMaskJump reduces a lane mask with an across-lanes max or min and
// branches on exactly the two sentinels: no lane set, every lane set.
// Mask lanes are uniform, so the 64-bit masks reduce through the 32-bit
// view and both widths share one path. Widths past 128 bits accumulate
// per-chunk reductions in the scratch registers.
func (a *Assembler) emitMaskJump(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Cond != encoder.CondNone1 && d.Cond != encoder.CondFull {
		return fmt.Errorf("mkj sentinel %s: %w", d.Cond, asmerrors.ErrUOpcode)
	}
	chunks := int(d.Vec / encoder.V128)
	full := d.Cond == encoder.CondFull
	src := d.Operands[0]

	across := uint32(vwUMAXV)
	if full {
		across = vwUMINV
	}

	// reduceChunk leaves the reduced lane word of chunk i in rt
	reduceChunk := func(i int, rt uint8) error {
		var vr uint8
		switch src.Kind() {
		case operand.KindReg:
			id := src.BareReg().ID
			if int(id)*chunks+chunks-1 >= scratchVecLow {
				return fmt.Errorf("vector register %d has no chunk group at %s: %w", id, d.Vec, asmerrors.ErrOReservedRegister)
			}
			vr = id*uint8(chunks) + uint8(i)
		case operand.KindMem:
			vr = scratchVecHigh
			if err := a.vmovLoad(st, vr, src.AddDisp(int64(i)*16)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("mkj operand %s: %w", src, asmerrors.ErrOBadOperandShape)
		}
		st.AppendU32(vecAcross(across, 2, scratchVecHigh, vr))
		st.AppendU32(umov(encoder.E32, rt, scratchVecHigh, 0))
		return nil
	}

	if err := reduceChunk(0, scratchValue); err != nil {
		return err
	}
	for i := 1; i < chunks; i++ {
		if err := reduceChunk(i, scratchAddr); err != nil {
			return err
		}
		combine := uint32(wordORRreg)
		if full {
			combine = wordANDreg
		}
		st.AppendU32(aluReg(combine, encoder.E32, scratchValue, scratchValue, scratchAddr))
	}

	log.Trace(log.FlowMonitoring, "mask divergence branch", "sentinel", d.Cond.String(), "lanes", int(d.Vec.Lanes(d.Elem)))
	if full {
		// a fully set reduction reads back as all ones; adding one clears it
		st.AppendU32(aluImm(wordADDSimm, encoder.E32, regZR, scratchValue, 1, false))
		return a.emitJcc(st, encoder.CondEQ, d.Label)
	}
	st.AppendU32(wordCBZ | scratchValue)
	return st.AddFixup(encoder.FixA64Cond19, st.Len()-4, st.Len()-4, d.Label)
}
