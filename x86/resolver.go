package x86

import (
	"fmt"
	"math"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/log"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// resolveMem decides the displacement path for a memory operand. x86-64
// displacement fields hold raw byte offsets (no element scaling); the
// narrowest of {disp0, disp8, disp32} is selected at ModRM packing time, so
// the only staging case is a displacement beyond the signed 32-bit range:
// materialize it into the address scratch register, fold the base in, and
// rebase the operand onto the scratch register with a zero displacement.
func (a *Assembler) resolveMem(st *encoder.Stream, o operand.Operand) (operand.Operand, error) {
	disp := o.Disp()
	if disp >= math.MinInt32 && disp <= math.MaxInt32 {
		return o, nil
	}
	sc := gpInfo(scratchAddr)
	base := gpInfo(o.AddrBase().ID)
	movRegImm64(st, sc, uint64(disp))
	// ADD r11, base
	insnRR(st, encoder.E64, []byte{0x01}, base, sc)
	log.Trace(log.ResolveMonitoring, "displacement staged", "disp", disp, "base", base.Name)
	return o.WithBase(a.scratch.AddrReg(), 0), nil
}

// immField is the outcome of immediate classification: either a direct
// native field (payload bytes ready to append) or a staged register carrying
// the materialized value.
type immField struct {
	direct bool
	imm8   bool   // the sign-extended 8-bit field was selected
	bytes  []byte // payload when direct
	reg    X86Reg // staging register when not direct
}

// resolveImmALU classifies an immediate for the add/sub/compare and
// and/or/xor opcode classes, which share the 0x83 (imm8) and 0x81
// (imm16/imm32) fields. The narrowest lossless field wins; a 64-bit value
// with no sign-extended 32-bit representation is materialized into the value
// scratch register and the operation is redirected to its register form.
func (a *Assembler) resolveImmALU(st *encoder.Stream, elem encoder.Width, v int64) immField {
	if v >= -0x80 && v <= 0x7F {
		return immField{direct: true, imm8: true, bytes: []byte{byte(int8(v))}}
	}
	switch elem {
	case encoder.E8:
		// value fits the 8-bit field as unsigned; reuse its bit pattern
		return immField{direct: true, imm8: true, bytes: []byte{byte(v)}}
	case encoder.E16:
		return immField{direct: true, bytes: []byte{byte(v), byte(v >> 8)}}
	case encoder.E32:
		return immField{direct: true, bytes: encodeU32(uint32(v))}
	default:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return immField{direct: true, bytes: encodeU32(uint32(v))}
		}
		sc := gpInfo(scratchValue)
		movRegImm64(st, sc, uint64(v))
		log.Trace(log.ResolveMonitoring, "immediate staged", "value", v)
		return immField{reg: sc}
	}
}

// resolveImmMov classifies an immediate for the move class. MOV carries a
// full-width payload natively (B8+r imm64), so nothing stages; the choice is
// only between the zero-extending 32-bit form and the 64-bit form.
func resolveImmMov(elem encoder.Width, v int64) (use64 bool, use32zx bool) {
	if elem != encoder.E64 {
		return false, false
	}
	if v >= 0 && v <= math.MaxUint32 {
		return false, true // MOV r32, imm32 zero-extends for free
	}
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return false, false // C7 /0 sign-extends imm32
	}
	return true, false
}

// resolveImmMul classifies an immediate for the multiply class (IMUL's own
// imm8/imm32 fields).
func (a *Assembler) resolveImmMul(st *encoder.Stream, elem encoder.Width, v int64) immField {
	if v >= -0x80 && v <= 0x7F {
		return immField{direct: true, imm8: true, bytes: []byte{byte(int8(v))}}
	}
	if elem != encoder.E64 || (v >= math.MinInt32 && v <= math.MaxInt32) {
		return immField{direct: true, bytes: encodeU32(uint32(v))}
	}
	sc := gpInfo(scratchValue)
	movRegImm64(st, sc, uint64(v))
	return immField{reg: sc}
}

// checkShiftCount validates an immediate shift count against the element
// width. Out-of-range counts are a hard error, never silently masked.
func checkShiftCount(elem encoder.Width, v int64) error {
	if v < 0 || uint(v) >= elem.Bits() {
		return fmt.Errorf("shift count %d for %s: %w", v, elem, asmerrors.ErrEImmRange)
	}
	return nil
}

// stageToValue loads any source operand into the value scratch register,
// used by the read-modify-write and divisor paths.
func (a *Assembler) stageToValue(st *encoder.Stream, elem encoder.Width, o operand.Operand) (X86Reg, error) {
	sc := gpInfo(scratchValue)
	switch o.Kind() {
	case operand.KindReg:
		insnRR(st, elem, loadOpcode(elem), sc, gpInfo(o.BareReg().ID))
	case operand.KindMem:
		m, err := a.resolveMem(st, o)
		if err != nil {
			return sc, err
		}
		insnRM(st, elem, loadOpcode(elem), sc, gpInfo(m.AddrBase().ID), int32(m.Disp()))
	case operand.KindImm:
		movRegImm64(st, sc, uint64(o.Imm()))
	}
	return sc, nil
}

func loadOpcode(elem encoder.Width) []byte {
	if elem == encoder.E8 {
		return []byte{0x8A}
	}
	return []byte{0x8B}
}

func storeOpcode(elem encoder.Width) []byte {
	if elem == encoder.E8 {
		return []byte{0x88}
	}
	return []byte{0x89}
}
