package a64

import (
	"math/bits"

	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/log"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// materializeImm writes the shortest MOVZ/MOVN + MOVK sequence putting v
// into rd. The starting instruction is chosen by whichever polarity covers
// more halfwords.
func materializeImm(st *encoder.Stream, elem encoder.Width, rd uint8, v uint64) {
	if elem != encoder.E64 {
		v &= 0xFFFFFFFF
	}
	halfwords := 2
	if elem == encoder.E64 {
		halfwords = 4
	}
	zeros, ones := 0, 0
	for i := 0; i < halfwords; i++ {
		switch uint16(v >> (16 * i)) {
		case 0x0000:
			zeros++
		case 0xFFFF:
			ones++
		}
	}
	if ones > zeros {
		// invert: MOVN plants ^imm16, MOVK patches the rest
		first := true
		for i := 0; i < halfwords; i++ {
			hw := uint16(v >> (16 * i))
			if hw == 0xFFFF && !(first && i == halfwords-1) {
				continue
			}
			if first {
				st.AppendU32(movWide(wordMOVN, elem, rd, uint32(^hw), uint32(i)))
				first = false
			} else {
				st.AppendU32(movWide(wordMOVK, elem, rd, uint32(hw), uint32(i)))
			}
		}
		return
	}
	first := true
	for i := 0; i < halfwords; i++ {
		hw := uint16(v >> (16 * i))
		if hw == 0 && !(first && i == halfwords-1) {
			continue
		}
		if first {
			st.AppendU32(movWide(wordMOVZ, elem, rd, uint32(hw), uint32(i)))
			first = false
		} else {
			st.AppendU32(movWide(wordMOVK, elem, rd, uint32(hw), uint32(i)))
		}
	}
}

// encodeBitmask encodes v as an AArch64 logical immediate (N, immr, imms).
// All-zeros and all-ones patterns are not representable.
func encodeBitmask(v uint64, elem encoder.Width) (n, immr, imms uint32, ok bool) {
	width := uint32(64)
	if elem != encoder.E64 {
		width = 32
		v &= 0xFFFFFFFF
		v |= v << 32 // the 32-bit pattern replicates across the register
	}
	if v == 0 || v == ^uint64(0) {
		return 0, 0, 0, false
	}
	// find the smallest repeating element size
	size := width
	for size > 2 {
		half := size / 2
		mask := (uint64(1) << half) - 1
		if (v & mask) != ((v >> half) & mask) {
			break
		}
		size = half
	}
	elemMask := ^uint64(0)
	if size < 64 {
		elemMask = (uint64(1) << size) - 1
	}
	pattern := v & elemMask
	ones := uint32(bits.OnesCount64(pattern))
	if ones == 0 || ones == size {
		return 0, 0, 0, false
	}
	run := (uint64(1) << ones) - 1
	rorElem := func(x uint64, r uint32) uint64 {
		if r == 0 {
			return x
		}
		return ((x >> r) | (x << (size - r))) & elemMask
	}
	for r := uint32(0); r < size; r++ {
		if rorElem(run, r) == pattern {
			if size == 64 {
				return 1, r, ones - 1, true
			}
			return 0, r, (^(2*size - 1) & 0x3F) | (ones - 1), true
		}
	}
	return 0, 0, 0, false
}

// memForm tells the load/store emitters which displacement class applied.
type memForm uint8

const (
	memScaled   memForm = iota // unsigned imm12, element-scaled
	memUnscaled                // signed imm9, raw bytes
)

// resolveMem classifies the displacement of a memory operand against the
// two native classes for the given access size: scaled unsigned 12-bit,
// then unscaled signed 9-bit. Anything else stages through the address
// scratch register. Displacements are never truncated.
func (a *Assembler) resolveMem(st *encoder.Stream, scale int64, o operand.Operand) (rn uint8, off int64, form memForm) {
	disp := o.Disp()
	base := o.AddrBase().ID
	if disp >= 0 && disp%scale == 0 && disp/scale <= 4095 {
		return base, disp / scale, memScaled
	}
	if disp >= -256 && disp <= 255 {
		return base, disp, memUnscaled
	}
	materializeImm(st, encoder.E64, scratchAddr, uint64(disp))
	st.AppendU32(aluReg(wordADDreg, encoder.E64, scratchAddr, scratchAddr, base))
	log.Trace(log.ResolveMonitoring, "displacement staged", "disp", disp, "base", base)
	return scratchAddr, 0, memScaled
}
