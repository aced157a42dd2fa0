package x86

import (
	"fmt"
	"math"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/log"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// binOpcode carries the three field layouts of a classic ALU opcode family:
// r/m <- reg, reg <- r/m, and the /ext slot of the 0x80/0x81/0x83 immediate
// group. Byte forms are the word opcode minus one.
type binOpcode struct {
	rmr byte // opcode: r/m op= reg
	rrm byte // opcode: reg op= r/m
	ext byte // /ext for the immediate group
}

var binOpcodes = map[encoder.Op]binOpcode{
	encoder.ADD: {0x01, 0x03, 0},
	encoder.ORR: {0x09, 0x0B, 1},
	encoder.AND: {0x21, 0x23, 4},
	encoder.SUB: {0x29, 0x2B, 5},
	encoder.XOR: {0x31, 0x33, 6},
	encoder.CMP: {0x39, 0x3B, 7},
}

// shiftExt maps shift/rotate opcodes to their /ext in the 0xC1/0xD3 group.
var shiftExt = map[encoder.Op]byte{
	encoder.SHL: 4,
	encoder.SHR: 5,
	encoder.SAR: 7,
	encoder.ROR: 1,
}

// needsZFBridge lists opcodes whose native encoding does not reliably leave
// a zero flag behind; their flag-setting dual appends an explicit TEST/CMP.
// For the remaining ALU opcodes the native instruction already sets ZF.
var needsZFBridge = map[encoder.Op]bool{
	encoder.MOV:   true,
	encoder.MOVSX: true,
	encoder.MOVZX: true,
	encoder.NOT:   true,
	encoder.SHL:   true, // a zero count leaves flags untouched
	encoder.SHR:   true,
	encoder.SAR:   true,
	encoder.ROR:   true,
	encoder.MUL:   true,
	encoder.DIV:   true,
	encoder.REM:   true,
}

func wordOp(op byte, elem encoder.Width) []byte {
	if elem == encoder.E8 {
		return []byte{op - 1}
	}
	return []byte{op}
}

// immGroupOpcode returns the ALU immediate-group opcode for the width/field.
func immGroupOpcode(elem encoder.Width, imm8Field bool) byte {
	if elem == encoder.E8 {
		return 0x80
	}
	if imm8Field {
		return 0x83
	}
	return 0x81
}

// setZF appends the explicit compare-to-zero bridge for a destination.
func (a *Assembler) setZF(st *encoder.Stream, elem encoder.Width, dst operand.Operand) error {
	if dst.Kind() == operand.KindReg {
		testRegReg(st, elem, gpInfo(dst.BareReg().ID))
		return nil
	}
	m, err := a.resolveMem(st, dst)
	if err != nil {
		return err
	}
	// CMP <elem> ptr [base+disp], 0
	opc := immGroupOpcode(elem, elem != encoder.E8)
	insnMI(st, elem, opc, 7, gpInfo(m.AddrBase().ID), int32(m.Disp()), []byte{0})
	return nil
}

// emitMov lowers MOV across the five canonical shapes.
func (a *Assembler) emitMov(st *encoder.Stream, d *encoder.Descriptor) error {
	dst, src := d.Operands[0], d.Operands[1]
	if err := encoder.CheckImmWidth(d, src); err != nil {
		return err
	}
	switch {
	case dst.Kind() == operand.KindReg && src.Kind() == operand.KindImm:
		r := gpInfo(dst.BareReg().ID)
		v := src.Imm()
		use64, use32zx := resolveImmMov(d.Elem, v)
		switch {
		case use64:
			movRegImm64(st, r, uint64(v))
		case use32zx:
			movRegImm32(st, r, uint32(v))
		case d.Elem == encoder.E8:
			insnRI(st, d.Elem, 0xC6, 0, r, []byte{byte(v)})
		case d.Elem == encoder.E16:
			insnRI(st, d.Elem, 0xC7, 0, r, []byte{byte(v), byte(v >> 8)})
		default:
			insnRI(st, d.Elem, 0xC7, 0, r, encodeU32(uint32(v)))
		}
	case dst.Kind() == operand.KindReg && src.Kind() == operand.KindReg:
		insnRR(st, d.Elem, loadOpcode(d.Elem), gpInfo(dst.BareReg().ID), gpInfo(src.BareReg().ID))
	case dst.Kind() == operand.KindReg && src.Kind() == operand.KindMem:
		m, err := a.resolveMem(st, src)
		if err != nil {
			return err
		}
		insnRM(st, d.Elem, loadOpcode(d.Elem), gpInfo(dst.BareReg().ID), gpInfo(m.AddrBase().ID), int32(m.Disp()))
	case dst.Kind() == operand.KindMem && src.Kind() == operand.KindImm:
		m, err := a.resolveMem(st, dst)
		if err != nil {
			return err
		}
		v := src.Imm()
		base := gpInfo(m.AddrBase().ID)
		if d.Elem == encoder.E64 && (v < math.MinInt32 || v > math.MaxInt32) {
			// the C7 form sign-extends imm32: anything else materializes first
			sc := gpInfo(scratchValue)
			movRegImm64(st, sc, uint64(v))
			insnRM(st, d.Elem, storeOpcode(d.Elem), sc, base, int32(m.Disp()))
			break
		}
		switch d.Elem {
		case encoder.E8:
			insnMI(st, d.Elem, 0xC6, 0, base, int32(m.Disp()), []byte{byte(v)})
		case encoder.E16:
			insnMI(st, d.Elem, 0xC7, 0, base, int32(m.Disp()), []byte{byte(v), byte(v >> 8)})
		default:
			insnMI(st, d.Elem, 0xC7, 0, base, int32(m.Disp()), encodeU32(uint32(v)))
		}
	case dst.Kind() == operand.KindMem && src.Kind() == operand.KindReg:
		m, err := a.resolveMem(st, dst)
		if err != nil {
			return err
		}
		insnRM(st, d.Elem, storeOpcode(d.Elem), gpInfo(src.BareReg().ID), gpInfo(m.AddrBase().ID), int32(m.Disp()))
	default:
		return fmt.Errorf("mov %s <- %s: %w", dst, src, asmerrors.ErrOBadOperandShape)
	}
	if d.Flags == encoder.FlagsSetZF {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// emitMovExt lowers the first-class narrow-to-wide bridges. The source width
// rides in SrcElem; widening must be strict.
func (a *Assembler) emitMovExt(st *encoder.Stream, d *encoder.Descriptor) error {
	dst, src := d.Operands[0], d.Operands[1]
	if d.SrcElem >= d.Elem {
		return fmt.Errorf("%s from %s to %s is not a widening: %w", d.Op, d.SrcElem, d.Elem, asmerrors.ErrUWidth)
	}
	if dst.Kind() != operand.KindReg {
		return fmt.Errorf("%s needs a register destination: %w", d.Op, asmerrors.ErrOBadOperandShape)
	}
	var opcode []byte
	signed := d.Op == encoder.MOVSX
	switch d.SrcElem {
	case encoder.E8:
		if signed {
			opcode = []byte{0x0F, 0xBE}
		} else {
			opcode = []byte{0x0F, 0xB6}
		}
	case encoder.E16:
		if signed {
			opcode = []byte{0x0F, 0xBF}
		} else {
			opcode = []byte{0x0F, 0xB7}
		}
	case encoder.E32:
		if signed {
			opcode = []byte{0x63} // MOVSXD
		} else {
			// MOV r32, r/m32 zero-extends into the full register
			opcode = []byte{0x8B}
		}
	}
	elem := d.Elem
	if d.SrcElem == encoder.E32 && !signed {
		elem = encoder.E32 // drop REX.W so the implicit zero-extend applies
	}
	dr := gpInfo(dst.BareReg().ID)
	switch src.Kind() {
	case operand.KindReg:
		sr := gpInfo(src.BareReg().ID)
		var code []byte
		var w byte
		if elem == encoder.E64 {
			w = 1
		}
		// a byte-width rm of sil/dil needs a REX even when no bit demands one
		if w != 0 || dr.REXBit != 0 || sr.REXBit != 0 || (d.SrcElem == encoder.E8 && needsEmptyREX(sr)) {
			code = append(code, rexByte(w, dr.REXBit, 0, sr.REXBit))
		}
		code = append(code, opcode...)
		code = append(code, modRMByte(3, dr.RegBits, sr.RegBits))
		st.Append(code...)
	case operand.KindMem:
		m, err := a.resolveMem(st, src)
		if err != nil {
			return err
		}
		insnRM(st, elem, opcode, dr, gpInfo(m.AddrBase().ID), int32(m.Disp()))
	default:
		return fmt.Errorf("%s from %s: %w", d.Op, src, asmerrors.ErrOBadOperandShape)
	}
	if d.Flags == encoder.FlagsSetZF {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// emitUnary lowers NOT (F7 /2) and NEG (F7 /3), with an optional source to
// copy from first.
func (a *Assembler) emitUnary(st *encoder.Stream, d *encoder.Descriptor) error {
	dst := d.Operands[0]
	if len(d.Operands) == 2 {
		mov := &encoder.Descriptor{Op: encoder.MOV, Elem: d.Elem, Operands: []operand.Operand{dst, d.Operands[1]}}
		if err := a.emitMov(st, mov); err != nil {
			return err
		}
	}
	ext := byte(2) // NOT
	if d.Op == encoder.NEG {
		ext = 3
	}
	opc := byte(0xF7)
	if d.Elem == encoder.E8 {
		opc = 0xF6
	}
	switch dst.Kind() {
	case operand.KindReg:
		insnRI(st, d.Elem, opc, ext, gpInfo(dst.BareReg().ID), nil)
	case operand.KindMem:
		m, err := a.resolveMem(st, dst)
		if err != nil {
			return err
		}
		insnMI(st, d.Elem, opc, ext, gpInfo(m.AddrBase().ID), int32(m.Disp()), nil)
	default:
		return fmt.Errorf("%s %s: %w", d.Op, dst, asmerrors.ErrOBadOperandShape)
	}
	if d.Flags == encoder.FlagsSetZF && needsZFBridge[d.Op] {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// prepThreeOperand reduces a dst, src1, src2 request to the two-operand
// read-modify-write form the ALU encodings want, copying src1 into dst
// first. A dst==src2 collision routes src2 through the value scratch
// register, the same conditional-conflict dance the divide path uses.
func (a *Assembler) prepThreeOperand(st *encoder.Stream, d *encoder.Descriptor) (operand.Operand, operand.Operand, error) {
	dst := d.Operands[0]
	if len(d.Operands) == 2 {
		return dst, d.Operands[1], nil
	}
	src1, src2 := d.Operands[1], d.Operands[2]
	if dst.Kind() != operand.KindReg {
		return dst, src2, fmt.Errorf("three-operand %s needs a register destination: %w", d.Op, asmerrors.ErrOBadOperandShape)
	}
	if src1.Kind() == operand.KindReg && dst.BareReg().ID == src1.BareReg().ID {
		return dst, src2, nil
	}
	if src2.Kind() == operand.KindReg && dst.BareReg().ID == src2.BareReg().ID {
		if _, err := a.stageToValue(st, d.Elem, src2); err != nil {
			return dst, src2, err
		}
		screg := operand.MustReg(operand.Register{ID: uint8(scratchValue), Class: operand.GP})
		mov := &encoder.Descriptor{Op: encoder.MOV, Elem: d.Elem, Operands: []operand.Operand{dst, src1}}
		if err := a.emitMov(st, mov); err != nil {
			return dst, src2, err
		}
		return dst, screg, nil
	}
	mov := &encoder.Descriptor{Op: encoder.MOV, Elem: d.Elem, Operands: []operand.Operand{dst, src1}}
	if err := a.emitMov(st, mov); err != nil {
		return dst, src2, err
	}
	return dst, src2, nil
}

// emitBinary lowers the shared ALU family across all five operand shapes.
func (a *Assembler) emitBinary(st *encoder.Stream, d *encoder.Descriptor) error {
	ops := binOpcodes[d.Op]
	dst, src, err := a.prepThreeOperand(st, d)
	if err != nil {
		return err
	}
	if err := encoder.CheckImmWidth(d, src); err != nil {
		return err
	}
	switch {
	case dst.Kind() == operand.KindReg && src.Kind() == operand.KindImm:
		f := a.resolveImmALU(st, d.Elem, src.Imm())
		r := gpInfo(dst.BareReg().ID)
		if f.direct {
			insnRI(st, d.Elem, immGroupOpcode(d.Elem, f.imm8), ops.ext, r, f.bytes)
		} else {
			insnRR(st, d.Elem, wordOp(ops.rmr, d.Elem), f.reg, r)
		}
	case dst.Kind() == operand.KindReg && src.Kind() == operand.KindReg:
		insnRR(st, d.Elem, wordOp(ops.rrm, d.Elem), gpInfo(dst.BareReg().ID), gpInfo(src.BareReg().ID))
	case dst.Kind() == operand.KindReg && src.Kind() == operand.KindMem:
		m, err := a.resolveMem(st, src)
		if err != nil {
			return err
		}
		insnRM(st, d.Elem, wordOp(ops.rrm, d.Elem), gpInfo(dst.BareReg().ID), gpInfo(m.AddrBase().ID), int32(m.Disp()))
	case dst.Kind() == operand.KindMem && src.Kind() == operand.KindImm:
		m, err := a.resolveMem(st, dst)
		if err != nil {
			return err
		}
		f := a.resolveImmALU(st, d.Elem, src.Imm())
		base := gpInfo(m.AddrBase().ID)
		if f.direct {
			insnMI(st, d.Elem, immGroupOpcode(d.Elem, f.imm8), ops.ext, base, int32(m.Disp()), f.bytes)
		} else {
			insnRM(st, d.Elem, wordOp(ops.rmr, d.Elem), f.reg, base, int32(m.Disp()))
		}
	case dst.Kind() == operand.KindMem && src.Kind() == operand.KindReg:
		m, err := a.resolveMem(st, dst)
		if err != nil {
			return err
		}
		insnRM(st, d.Elem, wordOp(ops.rmr, d.Elem), gpInfo(src.BareReg().ID), gpInfo(m.AddrBase().ID), int32(m.Disp()))
	default:
		return fmt.Errorf("%s %s, %s: %w", d.Op, dst, src, asmerrors.ErrOBadOperandShape)
	}
	if d.Flags == encoder.FlagsSetZF && needsZFBridge[d.Op] {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// emitBinaryInv lowers ANN (dst &= ^src) and ORN (dst |= ^src). Immediate
// sources invert at encode time; register and memory sources invert through
// the value scratch register, the same sequence the original AND_INV handler
// used, minus the push/pop now that scratch is reserved.
func (a *Assembler) emitBinaryInv(st *encoder.Stream, d *encoder.Descriptor) error {
	base := encoder.AND
	if d.Op == encoder.ORN {
		base = encoder.ORR
	}
	dst, src, err := a.prepThreeOperand(st, d)
	if err != nil {
		return err
	}
	if err := encoder.CheckImmWidth(d, src); err != nil {
		return err
	}
	if src.Kind() == operand.KindImm {
		inv, err := operand.NewImm(truncInvert(src.Imm(), d.Elem), 64)
		if err != nil {
			return err
		}
		bd := &encoder.Descriptor{Op: base, Elem: d.Elem, Flags: d.Flags, Operands: []operand.Operand{dst, inv}}
		return a.emitBinary(st, bd)
	}
	sc, err := a.stageToValue(st, d.Elem, src)
	if err != nil {
		return err
	}
	// NOT scratch
	opc := byte(0xF7)
	if d.Elem == encoder.E8 {
		opc = 0xF6
	}
	insnRI(st, d.Elem, opc, 2, sc, nil)
	screg := operand.MustReg(operand.Register{ID: uint8(scratchValue), Class: operand.GP})
	bd := &encoder.Descriptor{Op: base, Elem: d.Elem, Flags: d.Flags, Operands: []operand.Operand{dst, screg}}
	return a.emitBinary(st, bd)
}

// truncInvert inverts v within the element width, keeping the bit pattern
// representable as a declared-64-bit immediate.
func truncInvert(v int64, elem encoder.Width) int64 {
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

// emitShift lowers shl/shr/sar/ror. Immediate counts use the 0xC1 group;
// register counts ride the CL pinning convention with a conditional
// spill of RCX, mirroring hardware rather than hiding it.
func (a *Assembler) emitShift(st *encoder.Stream, d *encoder.Descriptor) error {
	ext := shiftExt[d.Op]
	dst, src, err := a.prepThreeOperand(st, d)
	if err != nil {
		return err
	}
	immOp, regOp := byte(0xC1), byte(0xD3)
	if d.Elem == encoder.E8 {
		immOp, regOp = 0xC0, 0xD2
	}
	emitOne := func(opc byte, immB []byte) error {
		switch dst.Kind() {
		case operand.KindReg:
			insnRI(st, d.Elem, opc, ext, gpInfo(dst.BareReg().ID), immB)
		case operand.KindMem:
			m, err := a.resolveMem(st, dst)
			if err != nil {
				return err
			}
			insnMI(st, d.Elem, opc, ext, gpInfo(m.AddrBase().ID), int32(m.Disp()), immB)
		default:
			return fmt.Errorf("%s %s: %w", d.Op, dst, asmerrors.ErrOBadOperandShape)
		}
		return nil
	}
	switch src.Kind() {
	case operand.KindImm:
		if err := checkShiftCount(d.Elem, src.Imm()); err != nil {
			return err
		}
		if err := emitOne(immOp, []byte{byte(src.Imm())}); err != nil {
			return err
		}
	case operand.KindReg:
		cnt := src.BareReg().ID
		if dst.Kind() == operand.KindReg && dst.BareReg().ID == regRCX {
			return fmt.Errorf("%s destination collides with the CL count convention: %w", d.Op, asmerrors.ErrOPinnedCollision)
		}
		if dst.Kind() == operand.KindMem {
			// resolve before the count shuffle: displacement staging uses the
			// address scratch and must see the live base register
			m, err := a.resolveMem(st, dst)
			if err != nil {
				return err
			}
			dst = m
			if dst.AddrBase().ID == regRCX && cnt != regRCX {
				// the base would be clobbered by the count move: rebase onto scratch
				insnRR(st, encoder.E64, []byte{0x8B}, gpInfo(scratchAddr), gpInfo(regRCX))
				dst = dst.WithBase(a.scratch.AddrReg(), dst.Disp())
			}
		}
		if cnt != regRCX {
			pushReg(st, gpInfo(regRCX))
			insnRR(st, encoder.E64, []byte{0x8B}, gpInfo(regRCX), gpInfo(cnt))
		}
		if err := emitOne(regOp, nil); err != nil {
			return err
		}
		if cnt != regRCX {
			popReg(st, gpInfo(regRCX))
		}
	default:
		return fmt.Errorf("%s count %s: %w", d.Op, src, asmerrors.ErrOBadOperandShape)
	}
	if d.Flags == encoder.FlagsSetZF {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// emitMul lowers MUL through the two-operand IMUL form; the low half of the
// product is identical for signed and unsigned interpretations.
func (a *Assembler) emitMul(st *encoder.Stream, d *encoder.Descriptor) error {
	dst, src, err := a.prepThreeOperand(st, d)
	if err != nil {
		return err
	}
	if err := encoder.CheckImmWidth(d, src); err != nil {
		return err
	}
	// byte multiplies ride the 32-bit form; the low 8 bits come out the same
	elem := d.Elem
	if elem == encoder.E8 {
		elem = encoder.E32
	}
	if dst.Kind() != operand.KindReg {
		// IMUL has no memory destination: product builds in value scratch,
		// then stores back. The store re-resolves the address so a staged
		// displacement survives an intervening source resolution.
		sc := gpInfo(scratchValue)
		if src.Kind() == operand.KindImm && d.Elem != encoder.E8 {
			f := a.resolveImmMul(st, elem, src.Imm())
			m, err := a.resolveMem(st, dst)
			if err != nil {
				return err
			}
			if f.direct {
				opc := byte(0x69)
				if f.imm8 {
					opc = 0x6B
				}
				code := appendPrefix(nil, elem, sc.REXBit, gpInfo(m.AddrBase().ID).REXBit)
				code = append(code, opc)
				code = appendMem(code, sc.RegBits, gpInfo(m.AddrBase().ID), int32(m.Disp()))
				code = append(code, f.bytes...)
				st.Append(code...)
			} else {
				// scratch already holds the immediate
				insnRM(st, elem, []byte{0x0F, 0xAF}, sc, gpInfo(m.AddrBase().ID), int32(m.Disp()))
			}
		} else {
			if _, err := a.stageToValue(st, d.Elem, dst); err != nil {
				return err
			}
			switch src.Kind() {
			case operand.KindImm:
				// E8 only: widened three-operand reg form, never stages
				f := a.resolveImmMul(st, elem, src.Imm())
				opc := byte(0x69)
				if f.imm8 {
					opc = 0x6B
				}
				code := appendPrefix(nil, elem, sc.REXBit, sc.REXBit)
				code = append(code, opc, modRMByte(3, sc.RegBits, sc.RegBits))
				code = append(code, f.bytes...)
				st.Append(code...)
			case operand.KindReg:
				insnRR(st, elem, []byte{0x0F, 0xAF}, sc, gpInfo(src.BareReg().ID))
			case operand.KindMem:
				m, err := a.resolveMem(st, src)
				if err != nil {
					return err
				}
				if d.Elem == encoder.E8 {
					// never read past the byte slot: widen through r11
					tmp := gpInfo(scratchAddr)
					insnRM(st, encoder.E32, []byte{0x0F, 0xB6}, tmp, gpInfo(m.AddrBase().ID), int32(m.Disp()))
					insnRR(st, elem, []byte{0x0F, 0xAF}, sc, tmp)
				} else {
					insnRM(st, elem, []byte{0x0F, 0xAF}, sc, gpInfo(m.AddrBase().ID), int32(m.Disp()))
				}
			}
		}
		m, err := a.resolveMem(st, dst)
		if err != nil {
			return err
		}
		insnRM(st, d.Elem, storeOpcode(d.Elem), sc, gpInfo(m.AddrBase().ID), int32(m.Disp()))
		if d.Flags == encoder.FlagsSetZF {
			return a.setZF(st, d.Elem, dst)
		}
		return nil
	}
	dr := gpInfo(dst.BareReg().ID)
	switch src.Kind() {
	case operand.KindImm:
		f := a.resolveImmMul(st, elem, src.Imm())
		if f.direct {
			opc := byte(0x69)
			if f.imm8 {
				opc = 0x6B
			}
			// IMUL r, r/m, imm: reg field is the destination
			code := appendPrefix(nil, elem, dr.REXBit, dr.REXBit)
			code = append(code, opc, modRMByte(3, dr.RegBits, dr.RegBits))
			code = append(code, f.bytes...)
			st.Append(code...)
		} else {
			insnRR(st, elem, []byte{0x0F, 0xAF}, dr, f.reg)
		}
	case operand.KindReg:
		insnRR(st, elem, []byte{0x0F, 0xAF}, dr, gpInfo(src.BareReg().ID))
	case operand.KindMem:
		m, err := a.resolveMem(st, src)
		if err != nil {
			return err
		}
		if d.Elem == encoder.E8 {
			sc := gpInfo(scratchValue)
			insnRM(st, encoder.E32, []byte{0x0F, 0xB6}, sc, gpInfo(m.AddrBase().ID), int32(m.Disp()))
			insnRR(st, elem, []byte{0x0F, 0xAF}, dr, sc)
		} else {
			insnRM(st, elem, []byte{0x0F, 0xAF}, dr, gpInfo(m.AddrBase().ID), int32(m.Disp()))
		}
	}
	if d.Flags == encoder.FlagsSetZF {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// emitDivRem lowers DIV and REM through the pinned RAX/RDX convention:
// conditional spill, dividend into RAX, sign or zero extension into RDX,
// IDIV/DIV, then the quotient or remainder moves into the destination.
// Divisors sitting in the pinned registers are refused outright.
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
	if divisor.Kind() == operand.KindReg {
		if id := divisor.BareReg().ID; id == regRAX || id == regRDX {
			return fmt.Errorf("divisor %s collides with the RAX/RDX divide convention: %w", divisor, asmerrors.ErrOPinnedCollision)
		}
	}
	if err := encoder.CheckImmWidth(d, divisor); err != nil {
		return err
	}

	dstID := dst.BareReg().ID
	isDstRAX := dstID == regRAX
	isDstRDX := dstID == regRDX

	if !isDstRAX {
		pushReg(st, gpInfo(regRAX))
	}
	if !isDstRDX {
		pushReg(st, gpInfo(regRDX))
	}

	// divisor first: its base register may be RAX/RDX, still intact here
	divReg := gpInfo(scratchValue)
	if divisor.Kind() == operand.KindReg {
		divReg = gpInfo(divisor.BareReg().ID)
	} else {
		r, err := a.stageToValue(st, d.Elem, divisor)
		if err != nil {
			return err
		}
		divReg = r
	}

	// dividend into RAX at its own width, widened below when narrow
	if dividend.Kind() != operand.KindReg || dividend.BareReg().ID != regRAX {
		mov := &encoder.Descriptor{Op: encoder.MOV, Elem: d.Elem, Operands: []operand.Operand{
			operand.MustReg(operand.Register{ID: regRAX, Class: operand.GP}), dividend}}
		if err := a.emitMov(st, mov); err != nil {
			return err
		}
	}
	log.Trace(log.ScalarMonitoring, "divide lowered", "op", d.Op.String(), "signed", d.Signed)

	// narrow widths divide in 32 bits over explicitly extended operands,
	// keeping truncation-toward-zero semantics lane-exact
	elem := d.Elem
	if elem == encoder.E8 || elem == encoder.E16 {
		ext := encoder.MOVZX
		if d.Signed {
			ext = encoder.MOVSX
		}
		rax := operand.MustReg(operand.Register{ID: regRAX, Class: operand.GP})
		div := operand.MustReg(operand.Register{ID: divReg.bitsToID(), Class: operand.GP})
		if err := a.emitMovExt(st, &encoder.Descriptor{Op: ext, Elem: encoder.E32, SrcElem: d.Elem, Operands: []operand.Operand{rax, rax}}); err != nil {
			return err
		}
		if divReg.bitsToID() != scratchValue {
			// extend the divisor into scratch so the client register survives
			sc := operand.MustReg(operand.Register{ID: uint8(scratchValue), Class: operand.GP})
			if err := a.emitMovExt(st, &encoder.Descriptor{Op: ext, Elem: encoder.E32, SrcElem: d.Elem, Operands: []operand.Operand{sc, div}}); err != nil {
				return err
			}
			divReg = gpInfo(scratchValue)
		} else {
			if err := a.emitMovExt(st, &encoder.Descriptor{Op: ext, Elem: encoder.E32, SrcElem: d.Elem, Operands: []operand.Operand{div, div}}); err != nil {
				return err
			}
		}
		elem = encoder.E32
	}

	// extend the dividend into RDX
	if d.Signed {
		if elem == encoder.E64 {
			st.Append(0x48, 0x99) // CQO
		} else {
			st.Append(0x99) // CDQ
		}
	} else {
		st.Append(0x31, 0xD2) // XOR EDX, EDX
	}

	// IDIV/DIV r/m
	ext := byte(6) // DIV
	if d.Signed {
		ext = 7 // IDIV
	}
	insnRI(st, elem, 0xF7, ext, divReg, nil)

	// route the quotient or remainder into dst
	wantRem := d.Op == encoder.REM
	switch {
	case isDstRAX && !wantRem, isDstRDX && wantRem:
		// already in place
	case isDstRAX && wantRem:
		insnRR(st, encoder.E64, []byte{0x8B}, gpInfo(regRAX), gpInfo(regRDX))
	case isDstRDX && !wantRem:
		insnRR(st, encoder.E64, []byte{0x8B}, gpInfo(regRDX), gpInfo(regRAX))
	default:
		from := regRAX
		if wantRem {
			from = regRDX
		}
		insnRR(st, encoder.E64, []byte{0x8B}, gpInfo(dstID), gpInfo(byte(from)))
	}

	if !isDstRDX {
		popReg(st, gpInfo(regRDX))
	}
	if !isDstRAX {
		popReg(st, gpInfo(regRAX))
	}
	if d.Flags == encoder.FlagsSetZF {
		return a.setZF(st, d.Elem, dst)
	}
	return nil
}

// bitsToID recovers the architecture register number from encoding bits.
func (r X86Reg) bitsToID() uint8 {
	return r.RegBits | r.REXBit<<3
}
