package x86

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/log"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// jccOpcode maps the abstract conditions onto the 0F 8x long-form branch
// opcodes. Unsigned orderings read the carry flag, signed ones the
// sign/overflow pair, matching what CMP leaves behind.
var jccOpcode = map[encoder.Cond]byte{
	encoder.CondEQ:  0x84, // JE
	encoder.CondNE:  0x85, // JNE
	encoder.CondLTU: 0x82, // JB
	encoder.CondLEU: 0x86, // JBE
	encoder.CondGEU: 0x83, // JAE
	encoder.CondGTU: 0x87, // JA
	encoder.CondLTS: 0x8C, // JL
	encoder.CondLES: 0x8E, // JLE
	encoder.CondGES: 0x8D, // JGE
	encoder.CondGTS: 0x8F, // JG
}

// emitJcc appends a rel32 conditional branch with a pending fix-up. The
// short rel8 form is never guessed at emission time; the fix-up patcher is
// the single authority on branch distances.
func (a *Assembler) emitJcc(st *encoder.Stream, c encoder.Cond, l *encoder.Label) error {
	opc, ok := jccOpcode[c]
	if !ok {
		return fmt.Errorf("branch condition %s: %w", c, asmerrors.ErrUOpcode)
	}
	st.Append(0x0F, opc, 0, 0, 0, 0)
	return st.AddFixup(encoder.FixRel32, st.Len()-4, st.Len(), l)
}

func (a *Assembler) emitJump(st *encoder.Stream, d *encoder.Descriptor) error {
	st.Append(0xE9, 0, 0, 0, 0)
	return st.AddFixup(encoder.FixRel32, st.Len()-4, st.Len(), d.Label)
}

// emitCompareJump fuses CMP with the conditional branch.
func (a *Assembler) emitCompareJump(st *encoder.Stream, d *encoder.Descriptor) error {
	cd := &encoder.Descriptor{Op: encoder.CMP, Elem: d.Elem, Operands: d.Operands}
	if err := a.emitBinary(st, cd); err != nil {
		return err
	}
	return a.emitJcc(st, d.Cond, d.Label)
}

// arjInner is the set of inner opcodes whose final native instruction sets
// the full flag pattern the following branch reads.
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
	id := &encoder.Descriptor{Op: d.Inner, Elem: d.Elem, Signed: d.Signed, Operands: d.Operands}
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

// emitMaskJump reduces a lane mask to the sign-bit bitmap and branches on
// exactly the two sentinels: no lane set, every lane set. Mixed masks fall
// through. Widths past the native rung accumulate per-chunk bitmaps.
func (a *Assembler) emitMaskJump(st *encoder.Stream, d *encoder.Descriptor) error {
	if d.Cond != encoder.CondNone1 && d.Cond != encoder.CondFull {
		return fmt.Errorf("mkj sentinel %s: %w", d.Cond, asmerrors.ErrUOpcode)
	}
	chunk := encoder.V128
	if a.profile.Caps.Has(encoder.V256) && d.Vec >= encoder.V256 {
		chunk = encoder.V256
	}
	if d.Vec < chunk {
		chunk = d.Vec
	}
	chunks := int(d.Vec / chunk)
	lanesPerChunk := int(chunk.Lanes(d.Elem))
	totalLanes := int(d.Vec.Lanes(d.Elem))

	movmsk := vecOpcode{0, 1, 0x50} // MOVMSKPS
	if d.Elem == encoder.E64 {
		movmsk.pp = 1 // MOVMSKPD
	}
	acc := gpInfo(scratchValue)
	src := d.Operands[0]

	// chunkMask leaves the bitmap of chunk i in the given general register
	chunkMask := func(i int, gp X86Reg) error {
		var xr X86Reg
		switch src.Kind() {
		case operand.KindReg:
			id := src.BareReg().ID
			phys := int(id)*chunks + i
			if int(id)*chunks+chunks-1 >= scratchVecLow {
				return fmt.Errorf("vector register %d has no chunk group at %s: %w", id, d.Vec, asmerrors.ErrOReservedRegister)
			}
			xr = vecInfo(uint8(phys))
		case operand.KindMem:
			xr = vecInfo(scratchVecHigh)
			part := src.AddDisp(int64(i) * int64(chunk.Bytes()))
			if err := a.vmovLoad(st, chunk, xr, part); err != nil {
				return err
			}
		default:
			return fmt.Errorf("mkj operand %s: %w", src, asmerrors.ErrOBadOperandShape)
		}
		if chunk == encoder.V256 {
			vexRR(st, movmsk, 0, 1, 0, gp, xr)
		} else {
			sseRR(st, movmsk, gp, xr)
		}
		return nil
	}

	if chunks == 1 {
		if err := chunkMask(0, acc); err != nil {
			return err
		}
	} else {
		// high-to-low accumulation through rax under the usual spill
		pushReg(st, gpInfo(regRAX))
		for i := chunks - 1; i >= 0; i-- {
			if err := chunkMask(i, gpInfo(regRAX)); err != nil {
				return err
			}
			if i == chunks-1 {
				insnRR(st, encoder.E64, []byte{0x8B}, acc, gpInfo(regRAX))
			} else {
				insnRI(st, encoder.E32, 0xC1, 4, acc, []byte{byte(lanesPerChunk)})
				insnRR(st, encoder.E32, []byte{0x0B}, acc, gpInfo(regRAX))
			}
		}
		popReg(st, gpInfo(regRAX))
	}

	log.Trace(log.FlowMonitoring, "mask divergence branch", "sentinel", d.Cond.String(), "lanes", totalLanes)
	switch d.Cond {
	case encoder.CondNone1:
		testRegReg(st, encoder.E32, acc)
		return a.emitJcc(st, encoder.CondEQ, d.Label)
	default: // CondFull
		all := uint32(1)<<uint(totalLanes) - 1
		insnRI(st, encoder.E32, 0x81, 7, acc, encodeU32(all))
		return a.emitJcc(st, encoder.CondEQ, d.Label)
	}
}
