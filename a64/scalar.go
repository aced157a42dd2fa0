package a64

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/log"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// regWidth collapses the narrow element widths onto the 32-bit register
// form; only E64 selects sf.
func regWidth(elem encoder.Width) encoder.Width {
	if elem == encoder.E64 {
		return encoder.E64
	}
	return encoder.E32
}

func isNarrow(elem encoder.Width) bool {
	return elem == encoder.E8 || elem == encoder.E16
}

// loadScalar loads one element into rt, zero-extending. The displacement
// class comes back from the resolver.
func (a *Assembler) loadScalar(st *encoder.Stream, elem encoder.Width, rt uint8, o operand.Operand) {
	rn, off, form := a.resolveMem(st, int64(elem.Bytes()), o)
	if form == memScaled {
		st.AppendU32(ldrScaled(elem, rt, rn, uint32(off)))
	} else {
		st.AppendU32(ldur(elem, rt, rn, uint32(off)))
	}
}

// loadScalarSigned loads one element into rt, sign-extending to the full
// register.
func (a *Assembler) loadScalarSigned(st *encoder.Stream, src encoder.Width, rt uint8, o operand.Operand) {
	rn, off, form := a.resolveMem(st, int64(src.Bytes()), o)
	if form == memScaled {
		st.AppendU32(ldrsScaled(src, rt, rn, uint32(off)))
	} else {
		st.AppendU32(ldurs(src, rt, rn, uint32(off)))
	}
}

func (a *Assembler) storeScalar(st *encoder.Stream, elem encoder.Width, rt uint8, o operand.Operand) {
	rn, off, form := a.resolveMem(st, int64(elem.Bytes()), o)
	if form == memScaled {
		st.AppendU32(strScaled(elem, rt, rn, uint32(off)))
	} else {
		st.AppendU32(stur(elem, rt, rn, uint32(off)))
	}
}

// stageValue brings the value of any operand into a register: client
// registers pass through untouched, memory loads and immediates materialize
// into rt.
func (a *Assembler) stageValue(st *encoder.Stream, elem encoder.Width, o operand.Operand, rt uint8) (uint8, error) {
	switch o.Kind() {
	case operand.KindReg:
		return o.BareReg().ID, nil
	case operand.KindMem:
		a.loadScalar(st, elem, rt, o)
		return rt, nil
	case operand.KindImm:
		materializeImm(st, regWidth(elem), rt, uint64(o.Imm()))
		return rt, nil
	}
	return rt, fmt.Errorf("operand %s: %w", o, asmerrors.ErrOBadOperandShape)
}

// extendReg widens the element held in rn into rd at 32 bits, by the
// requested signedness.
func extendReg(st *encoder.Stream, elem encoder.Width, signed bool, rd, rn uint8) {
	base := uint32(wordUBFM)
	if signed {
		base = wordSBFM
	}
	st.AppendU32(bitfield(base, encoder.E32, rd, rn, 0, uint32(elem.Bits())-1))
}

// setZF appends the explicit compare-to-zero bridge for a destination. The
// narrow widths test only the element's bits; whatever sits above them in
// the register is not part of the value.
func (a *Assembler) setZF(st *encoder.Stream, elem encoder.Width, dst operand.Operand) error {
	if dst.Kind() == operand.KindMem {
		// the load zero-extends narrow elements, so the 32-bit compare
		// covers them; E64 must compare the full register
		a.loadScalar(st, elem, scratchValue, dst)
		st.AppendU32(cmpZero(regWidth(elem), scratchValue))
		return nil
	}
	r := dst.BareReg().ID
	if isNarrow(elem) {
		mask := uint64(1)<<elem.Bits() - 1
		n, immr, imms, _ := encodeBitmask(mask, encoder.E32)
		st.AppendU32(logImm(wordANDSimm, encoder.E32, regZR, r, n, immr, imms))
		return nil
	}
	st.AppendU32(cmpZero(elem, r))
	return nil
}

// emitMov lowers MOV across the five canonical shapes.
func (a *Assembler) emitMov(st *encoder.Stream, d *encoder.Descriptor) error {
	dst, src := d.Operands[0], d.Operands[1]
	if err := encoder.CheckImmWidth(d, src); err != nil {
		return err
	}
	rw := regWidth(d.Elem)
	switch {
	case dst.Kind() == operand.KindReg && src.Kind() == operand.KindImm:
		materializeImm(st, rw, dst.BareReg().ID, uint64(src.Imm()))
	case dst.Kind() == operand.KindReg && src.Kind() == operand.KindReg:
		st.AppendU32(movReg(rw, dst.BareReg().ID, src.BareReg().ID))
	case dst.Kind() == operand.KindReg && src.Kind() == operand.KindMem:
		a.loadScalar(st, d.Elem, dst.BareReg().ID, src)
	case dst.Kind() == operand.KindMem && src.Kind() == operand.KindImm:
		if src.Imm() == 0 {
			// store the zero register directly
			a.storeScalar(st, d.Elem, regZR, dst)
			break
		}
		materializeImm(st, rw, scratchValue, uint64(src.Imm()))
		a.storeScalar(st, d.Elem, scratchValue, dst)
	case dst.Kind() == operand.KindMem && src.Kind() == operand.KindReg:
		a.storeScalar(st, d.Elem, src.BareReg().ID, dst)
	default:
		return fmt.Errorf("mov %s <- %s: %w", dst, src, asmerrors.ErrOBadOperandShape)
	}
	if d.Flags == encoder.FlagsSetZF {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// emitMovExt lowers the first-class narrow-to-wide bridges: SBFM/UBFM for
// register sources, the extending load forms for memory.
func (a *Assembler) emitMovExt(st *encoder.Stream, d *encoder.Descriptor) error {
	dst, src := d.Operands[0], d.Operands[1]
	if d.SrcElem >= d.Elem {
		return fmt.Errorf("%s from %s to %s is not a widening: %w", d.Op, d.SrcElem, d.Elem, asmerrors.ErrUWidth)
	}
	if dst.Kind() != operand.KindReg {
		return fmt.Errorf("%s needs a register destination: %w", d.Op, asmerrors.ErrOBadOperandShape)
	}
	signed := d.Op == encoder.MOVSX
	did := dst.BareReg().ID
	srcBits := uint32(d.SrcElem.Bits())
	switch src.Kind() {
	case operand.KindReg:
		sid := src.BareReg().ID
		switch {
		case signed:
			st.AppendU32(bitfield(wordSBFM, regWidth(d.Elem), did, sid, 0, srcBits-1))
		case d.SrcElem == encoder.E32:
			// the 32-bit register write zero-extends by itself
			st.AppendU32(movReg(encoder.E32, did, sid))
		default:
			st.AppendU32(bitfield(wordUBFM, encoder.E32, did, sid, 0, srcBits-1))
		}
	case operand.KindMem:
		if signed {
			a.loadScalarSigned(st, d.SrcElem, did, src)
		} else {
			a.loadScalar(st, d.SrcElem, did, src)
		}
	default:
		return fmt.Errorf("%s from %s: %w", d.Op, src, asmerrors.ErrOBadOperandShape)
	}
	if d.Flags == encoder.FlagsSetZF {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// emitUnary lowers NOT (ORN from the zero register) and NEG (SUB from the
// zero register), with an optional source to copy from first.
func (a *Assembler) emitUnary(st *encoder.Stream, d *encoder.Descriptor) error {
	dst := d.Operands[0]
	if len(d.Operands) == 2 {
		mov := &encoder.Descriptor{Op: encoder.MOV, Elem: d.Elem, Operands: []operand.Operand{dst, d.Operands[1]}}
		if err := a.emitMov(st, mov); err != nil {
			return err
		}
	}
	rw := regWidth(d.Elem)
	flagged := false
	apply := func(r uint8, allowS bool) {
		if d.Op == encoder.NEG {
			base := uint32(wordSUBreg)
			if allowS && d.Flags == encoder.FlagsSetZF && !isNarrow(d.Elem) {
				base = wordSUBSreg
				flagged = true
			}
			st.AppendU32(aluReg(base, rw, r, regZR, r))
			return
		}
		st.AppendU32(aluReg(wordORNreg, rw, r, regZR, r))
	}
	switch dst.Kind() {
	case operand.KindReg:
		apply(dst.BareReg().ID, true)
	case operand.KindMem:
		a.loadScalar(st, d.Elem, scratchValue, dst)
		apply(scratchValue, false)
		a.storeScalar(st, d.Elem, scratchValue, dst)
	default:
		return fmt.Errorf("%s %s: %w", d.Op, dst, asmerrors.ErrOBadOperandShape)
	}
	if d.Flags == encoder.FlagsSetZF && !flagged {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// binWords carries the instruction-word bases of one ALU opcode: register
// form, flag-setting register form, and whichever immediate class applies
// (the 12-bit add/sub field or the bitmask logical field).
type binWords struct {
	reg, regS   uint32
	imm, immS   uint32
	logi, logiS uint32
}

var binOps = map[encoder.Op]binWords{
	encoder.ADD: {reg: wordADDreg, regS: wordADDSreg, imm: wordADDimm, immS: wordADDSimm},
	encoder.SUB: {reg: wordSUBreg, regS: wordSUBSreg, imm: wordSUBimm, immS: wordSUBSimm},
	encoder.AND: {reg: wordANDreg, regS: wordANDSreg, logi: wordANDimm, logiS: wordANDSimm},
	encoder.ORR: {reg: wordORRreg, logi: wordORRimm},
	encoder.XOR: {reg: wordEORreg, logi: wordEORimm},
	encoder.CMP: {reg: wordSUBSreg, regS: wordSUBSreg, imm: wordSUBSimm, immS: wordSUBSimm},
}

// addSubFlip swaps an add/sub immediate base for its negated-magnitude
// counterpart (CMP flips to the CMN form).
var addSubFlip = map[uint32]uint32{
	wordADDimm:  wordSUBimm,
	wordSUBimm:  wordADDimm,
	wordADDSimm: wordSUBSimm,
	wordSUBSimm: wordADDSimm,
}

// addSubImmField classifies v for the unsigned 12-bit field, plain or
// LSL-12 shifted.
func addSubImmField(v int64) (imm12 uint32, shifted, ok bool) {
	if v < 0 {
		return 0, false, false
	}
	if v <= 0xFFF {
		return uint32(v), false, true
	}
	if v&0xFFF == 0 && v>>12 <= 0xFFF {
		return uint32(v >> 12), true, true
	}
	return 0, false, false
}

// emitBinary lowers the shared ALU family. The three-operand request maps
// straight onto the native non-destructive form; memory destinations load,
// operate and store back through the value scratch register.
func (a *Assembler) emitBinary(st *encoder.Stream, d *encoder.Descriptor) error {
	w := binOps[d.Op]
	isCmp := d.Op == encoder.CMP
	dst := d.Operands[0]
	lhs, rhs := dst, d.Operands[1]
	if len(d.Operands) == 3 {
		lhs, rhs = d.Operands[1], d.Operands[2]
	}
	if err := encoder.CheckImmWidth(d, rhs); err != nil {
		return err
	}
	narrow := isNarrow(d.Elem)
	rw := regWidth(d.Elem)
	memDst := dst.Kind() == operand.KindMem

	rn, err := a.stageValue(st, d.Elem, lhs, scratchValue)
	if err != nil {
		return err
	}
	if isCmp && narrow {
		// ordering on the narrow element needs both sides cleanly extended
		extendReg(st, d.Elem, d.Signed, scratchValue, rn)
		rn = scratchValue
	}

	rd := uint8(regZR)
	if !isCmp {
		if memDst {
			rd = scratchValue
		} else if dst.Kind() == operand.KindReg {
			rd = dst.BareReg().ID
		} else {
			return fmt.Errorf("%s %s, %s: %w", d.Op, dst, rhs, asmerrors.ErrOBadOperandShape)
		}
	}
	useS := isCmp || (d.Flags == encoder.FlagsSetZF && !narrow && w.regS != 0)

	regBase := w.reg
	if useS {
		regBase = w.regS
	}

	switch rhs.Kind() {
	case operand.KindReg:
		rm := rhs.BareReg().ID
		if isCmp && narrow {
			extendReg(st, d.Elem, d.Signed, scratchAddr, rm)
			rm = scratchAddr
		}
		st.AppendU32(aluReg(regBase, rw, rd, rn, rm))
	case operand.KindImm:
		v := rhs.Imm()
		emitted := false
		if w.imm != 0 {
			base := w.imm
			if useS {
				base = w.immS
			}
			if f, sh, ok := addSubImmField(v); ok {
				st.AppendU32(aluImm(base, rw, rd, rn, f, sh))
				emitted = true
			} else if f, sh, ok := addSubImmField(-v); ok {
				st.AppendU32(aluImm(addSubFlip[base], rw, rd, rn, f, sh))
				emitted = true
			}
		} else if n, immr, imms, ok := encodeBitmask(uint64(v), rw); ok {
			base := w.logi
			if useS {
				base = w.logiS
			}
			st.AppendU32(logImm(base, rw, rd, rn, n, immr, imms))
			emitted = true
		}
		if !emitted {
			materializeImm(st, rw, scratchAddr, uint64(v))
			rm := uint8(scratchAddr)
			if isCmp && narrow {
				extendReg(st, d.Elem, d.Signed, scratchAddr, rm)
			}
			st.AppendU32(aluReg(regBase, rw, rd, rn, rm))
		}
	case operand.KindMem:
		a.loadScalar(st, d.Elem, scratchAddr, rhs)
		rm := uint8(scratchAddr)
		if isCmp && narrow && d.Signed {
			extendReg(st, d.Elem, true, scratchAddr, rm)
		}
		st.AppendU32(aluReg(regBase, rw, rd, rn, rm))
	default:
		return fmt.Errorf("%s %s, %s: %w", d.Op, dst, rhs, asmerrors.ErrOBadOperandShape)
	}

	if memDst && !isCmp {
		a.storeScalar(st, d.Elem, scratchValue, dst)
	}
	if d.Flags == encoder.FlagsSetZF && !useS && !isCmp {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// invertWidth inverts v within the element width.
func invertWidth(v int64, elem encoder.Width) int64 {
	inv := ^v
	switch elem {
	case encoder.E8:
		return int64(uint8(inv))
	case encoder.E16:
		return int64(uint16(inv))
	case encoder.E32:
		return int64(uint32(inv))
	}
	return inv
}

// emitBinaryInv lowers ANN (dst = src1 & ^src2) and ORN (dst = src1 | ^src2)
// through the native BIC/ORN forms; the inversion costs nothing. Immediate
// sources invert at encode time and try the plain logical-immediate field
// first.
func (a *Assembler) emitBinaryInv(st *encoder.Stream, d *encoder.Descriptor) error {
	regBase, regBaseS := uint32(wordBICreg), uint32(wordBICSreg)
	immBase, immBaseS := uint32(wordANDimm), uint32(wordANDSimm)
	if d.Op == encoder.ORN {
		regBase, regBaseS = wordORNreg, 0
		immBase, immBaseS = wordORRimm, 0
	}
	dst := d.Operands[0]
	lhs, rhs := dst, d.Operands[1]
	if len(d.Operands) == 3 {
		lhs, rhs = d.Operands[1], d.Operands[2]
	}
	if err := encoder.CheckImmWidth(d, rhs); err != nil {
		return err
	}
	narrow := isNarrow(d.Elem)
	rw := regWidth(d.Elem)
	memDst := dst.Kind() == operand.KindMem

	rn, err := a.stageValue(st, d.Elem, lhs, scratchValue)
	if err != nil {
		return err
	}
	rd := uint8(scratchValue)
	if !memDst {
		if dst.Kind() != operand.KindReg {
			return fmt.Errorf("%s %s, %s: %w", d.Op, dst, rhs, asmerrors.ErrOBadOperandShape)
		}
		rd = dst.BareReg().ID
	}
	useS := d.Flags == encoder.FlagsSetZF && !narrow && regBaseS != 0

	switch rhs.Kind() {
	case operand.KindReg:
		base := regBase
		if useS {
			base = regBaseS
		}
		st.AppendU32(aluReg(base, rw, rd, rn, rhs.BareReg().ID))
	case operand.KindImm:
		inv := uint64(invertWidth(rhs.Imm(), d.Elem))
		if n, immr, imms, ok := encodeBitmask(inv, rw); ok {
			base := immBase
			if useS {
				base = immBaseS
			}
			st.AppendU32(logImm(base, rw, rd, rn, n, immr, imms))
		} else {
			materializeImm(st, rw, scratchAddr, uint64(rhs.Imm()))
			base := regBase
			if useS {
				base = regBaseS
			}
			st.AppendU32(aluReg(base, rw, rd, rn, scratchAddr))
		}
	case operand.KindMem:
		a.loadScalar(st, d.Elem, scratchAddr, rhs)
		base := regBase
		if useS {
			base = regBaseS
		}
		st.AppendU32(aluReg(base, rw, rd, rn, scratchAddr))
	default:
		return fmt.Errorf("%s %s, %s: %w", d.Op, dst, rhs, asmerrors.ErrOBadOperandShape)
	}

	if memDst {
		a.storeScalar(st, d.Elem, scratchValue, dst)
	}
	if d.Flags == encoder.FlagsSetZF && !useS {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// checkShiftCount validates an immediate shift count against the element
// width. Out-of-range counts are a hard error, never silently masked.
func checkShiftCount(elem encoder.Width, v int64) error {
	if v < 0 || uint(v) >= elem.Bits() {
		return fmt.Errorf("shift count %d for %s: %w", v, elem, asmerrors.ErrEImmRange)
	}
	return nil
}

var shiftVarWord = map[encoder.Op]uint32{
	encoder.SHL: wordLSLV,
	encoder.SHR: wordLSRV,
	encoder.SAR: wordASRV,
	encoder.ROR: wordRORV,
}

// emitShift lowers shl/shr/sar/ror. Immediate counts ride the bitfield and
// EXTR aliases; register counts use the variable forms, which any register
// may carry. The narrow widths extend the element first so the 32-bit
// machinery sees clean bits; a narrow rotate doubles the pattern up the
// register and shifts right across the seam.
func (a *Assembler) emitShift(st *encoder.Stream, d *encoder.Descriptor) error {
	dst := d.Operands[0]
	lhs, cnt := dst, d.Operands[1]
	if len(d.Operands) == 3 {
		lhs, cnt = d.Operands[1], d.Operands[2]
	}
	narrow := isNarrow(d.Elem)
	rw := regWidth(d.Elem)
	memDst := dst.Kind() == operand.KindMem

	rn, err := a.stageValue(st, d.Elem, lhs, scratchValue)
	if err != nil {
		return err
	}
	if narrow && d.Op != encoder.SHL {
		// right shifts and rotates read bits above the element
		extendReg(st, d.Elem, d.Op == encoder.SAR, scratchValue, rn)
		rn = scratchValue
	}
	doubled := narrow && d.Op == encoder.ROR
	if doubled {
		st.AppendU32(aluRegShifted(wordORRreg, encoder.E32, scratchValue, scratchValue, scratchValue, uint32(d.Elem.Bits())))
	}

	rd := uint8(scratchValue)
	if !memDst {
		if dst.Kind() != operand.KindReg {
			return fmt.Errorf("%s %s: %w", d.Op, dst, asmerrors.ErrOBadOperandShape)
		}
		rd = dst.BareReg().ID
	}

	switch cnt.Kind() {
	case operand.KindImm:
		if err := checkShiftCount(d.Elem, cnt.Imm()); err != nil {
			return err
		}
		sh := uint32(cnt.Imm())
		size := uint32(rw.Bits())
		switch {
		case doubled:
			st.AppendU32(bitfield(wordUBFM, encoder.E32, rd, rn, sh, 31))
		case d.Op == encoder.ROR:
			st.AppendU32(extr(rw, rd, rn, rn, sh))
		case d.Op == encoder.SHL:
			st.AppendU32(bitfield(wordUBFM, rw, rd, rn, (size-sh)%size, size-1-sh))
		case d.Op == encoder.SHR:
			st.AppendU32(bitfield(wordUBFM, rw, rd, rn, sh, size-1))
		default: // SAR
			st.AppendU32(bitfield(wordSBFM, rw, rd, rn, sh, size-1))
		}
	case operand.KindReg:
		word := shiftVarWord[d.Op]
		if doubled {
			word = wordLSRV
		}
		st.AppendU32(aluReg(word, rw, rd, rn, cnt.BareReg().ID))
	default:
		return fmt.Errorf("%s count %s: %w", d.Op, cnt, asmerrors.ErrOBadOperandShape)
	}

	if memDst {
		a.storeScalar(st, d.Elem, scratchValue, dst)
	}
	if d.Flags == encoder.FlagsSetZF {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// emitMul lowers MUL as MADD against the zero register; the low half of the
// product is identical for signed and unsigned interpretations.
func (a *Assembler) emitMul(st *encoder.Stream, d *encoder.Descriptor) error {
	dst := d.Operands[0]
	lhs, rhs := dst, d.Operands[1]
	if len(d.Operands) == 3 {
		lhs, rhs = d.Operands[1], d.Operands[2]
	}
	if err := encoder.CheckImmWidth(d, rhs); err != nil {
		return err
	}
	rw := regWidth(d.Elem)
	memDst := dst.Kind() == operand.KindMem

	rn, err := a.stageValue(st, d.Elem, lhs, scratchValue)
	if err != nil {
		return err
	}
	rm, err := a.stageValue(st, d.Elem, rhs, scratchAddr)
	if err != nil {
		return err
	}
	rd := uint8(scratchValue)
	if !memDst {
		if dst.Kind() != operand.KindReg {
			return fmt.Errorf("%s %s, %s: %w", d.Op, dst, rhs, asmerrors.ErrOBadOperandShape)
		}
		rd = dst.BareReg().ID
	}
	st.AppendU32(mulAdd(wordMADD, rw, rd, rn, rm, regZR))
	if memDst {
		a.storeScalar(st, d.Elem, scratchValue, dst)
	}
	if d.Flags == encoder.FlagsSetZF {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// stageExtended brings an operand's value into rt, extended to the
// operating register width by the requested signedness. The divide paths
// need both sides clean regardless of what the client left above the
// element.
func (a *Assembler) stageExtended(st *encoder.Stream, d *encoder.Descriptor, o operand.Operand, rt uint8) error {
	narrow := isNarrow(d.Elem)
	rw := regWidth(d.Elem)
	switch o.Kind() {
	case operand.KindReg:
		if narrow {
			extendReg(st, d.Elem, d.Signed, rt, o.BareReg().ID)
		} else {
			st.AppendU32(movReg(rw, rt, o.BareReg().ID))
		}
	case operand.KindMem:
		if narrow && d.Signed {
			a.loadScalarSigned(st, d.Elem, rt, o)
		} else {
			a.loadScalar(st, d.Elem, rt, o)
		}
	case operand.KindImm:
		v := uint64(o.Imm())
		if narrow {
			if d.Signed {
				if d.Elem == encoder.E8 {
					v = uint64(int64(int8(v)))
				} else {
					v = uint64(int64(int16(v)))
				}
			} else {
				if d.Elem == encoder.E8 {
					v = uint64(uint8(v))
				} else {
					v = uint64(uint16(v))
				}
			}
		}
		materializeImm(st, rw, rt, v)
	default:
		return fmt.Errorf("operand %s: %w", o, asmerrors.ErrOBadOperandShape)
	}
	return nil
}

// emitDivRem lowers DIV through SDIV/UDIV and REM through the divide plus
// MSUB recomposition. Both sides stage into the scratch pair, so the
// destination register may freely alias either source. Division by zero
// yields zero, the architecture's defined result, rather than a fault.
func (a *Assembler) emitDivRem(st *encoder.Stream, d *encoder.Descriptor) error {
	dst := d.Operands[0]
	var dividend, divisor operand.Operand
	if len(d.Operands) == 3 {
		dividend, divisor = d.Operands[1], d.Operands[2]
	} else {
		dividend, divisor = dst, d.Operands[1]
	}
	if dst.Kind() != operand.KindReg {
		return fmt.Errorf("%s needs a register destination: %w", d.Op, asmerrors.ErrOBadOperandShape)
	}
	if err := encoder.CheckImmWidth(d, divisor); err != nil {
		return err
	}
	if err := a.stageExtended(st, d, dividend, scratchValue); err != nil {
		return err
	}
	if err := a.stageExtended(st, d, divisor, scratchAddr); err != nil {
		return err
	}
	log.Trace(log.ScalarMonitoring, "divide lowered", "op", d.Op.String(), "signed", d.Signed)

	rw := regWidth(d.Elem)
	word := uint32(wordUDIV)
	if d.Signed {
		word = wordSDIV
	}
	rd := dst.BareReg().ID
	st.AppendU32(aluReg(word, rw, rd, scratchValue, scratchAddr))
	if d.Op == encoder.REM {
		// remainder = dividend - quotient*divisor
		st.AppendU32(mulAdd(wordMSUB, rw, rd, rd, scratchAddr, scratchValue))
	}
	if d.Flags == encoder.FlagsSetZF {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}
