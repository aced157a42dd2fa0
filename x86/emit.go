package x86

import (
	"encoding/binary"

	"github.com/neonkingfr/UniSIMD-sub001/encoder"
)

// rexByte assembles a REX prefix (0100WRXB).
func rexByte(w, r, x, b byte) byte {
	return 0x40 | w<<3 | r<<2 | x<<1 | b
}

func modRMByte(mod, reg, rm byte) byte {
	return mod<<6 | reg<<3 | rm
}

func sibByte(scale, index, base byte) byte {
	return scale<<6 | index<<3 | base
}

func encodeU32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func encodeU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// needsEmptyREX reports whether a byte-width access to reg requires a REX
// prefix to select sil/dil/spl/bpl instead of the legacy high-byte forms.
func needsEmptyREX(reg X86Reg) bool {
	return reg.REXBit == 0 && reg.RegBits >= 4
}

// appendPrefix writes the operand-size prefix and REX for one instruction.
// regREX/indexREX/baseREX are the extension bits of the registers landing in
// the ModRM reg field, SIB index and ModRM rm/SIB base fields.
func appendPrefix(code []byte, elem encoder.Width, regREX, baseREX byte, byteRegs ...X86Reg) []byte {
	if elem == encoder.E16 {
		code = append(code, 0x66)
	}
	var w byte
	if elem == encoder.E64 {
		w = 1
	}
	force := false
	if elem == encoder.E8 {
		for _, r := range byteRegs {
			if needsEmptyREX(r) {
				force = true
			}
		}
	}
	if w != 0 || regREX != 0 || baseREX != 0 || force {
		code = append(code, rexByte(w, regREX, 0, baseREX))
	}
	return code
}

// appendMem writes ModRM(+SIB)(+disp) bytes addressing [base+disp] with the
// given reg field bits. Picks the narrowest displacement form: no disp, then
// disp8, then disp32. rsp/r12 as base forces a SIB byte; rbp/r13 cannot use
// the no-displacement mod.
func appendMem(code []byte, regBits byte, base X86Reg, disp int32) []byte {
	var mod byte
	switch {
	case disp == 0 && base.RegBits != 5:
		mod = 0
	case disp >= -0x80 && disp <= 0x7F:
		mod = 1
	default:
		mod = 2
	}
	if base.RegBits == 4 {
		code = append(code, modRMByte(mod, regBits, 4), sibByte(0, 4, base.RegBits))
	} else {
		code = append(code, modRMByte(mod, regBits, base.RegBits))
	}
	switch mod {
	case 1:
		code = append(code, byte(int8(disp)))
	case 2:
		code = append(code, encodeU32(uint32(disp))...)
	}
	return code
}

// insnRR emits opcode with a register-direct ModRM: regField op rm.
func insnRR(st *encoder.Stream, elem encoder.Width, opcode []byte, regField, rm X86Reg) {
	code := appendPrefix(nil, elem, regField.REXBit, rm.REXBit, regField, rm)
	code = append(code, opcode...)
	code = append(code, modRMByte(3, regField.RegBits, rm.RegBits))
	st.Append(code...)
}

// insnRM emits opcode with a memory ModRM: regField op [base+disp].
func insnRM(st *encoder.Stream, elem encoder.Width, opcode []byte, regField X86Reg, base X86Reg, disp int32) {
	code := appendPrefix(nil, elem, regField.REXBit, base.REXBit, regField)
	code = append(code, opcode...)
	code = appendMem(code, regField.RegBits, base, disp)
	st.Append(code...)
}

// insnMI emits an opcode /ext immediate form against [base+disp].
func insnMI(st *encoder.Stream, elem encoder.Width, opcode byte, ext byte, base X86Reg, disp int32, imm []byte) {
	code := appendPrefix(nil, elem, 0, base.REXBit)
	code = append(code, opcode)
	code = appendMem(code, ext, base, disp)
	code = append(code, imm...)
	st.Append(code...)
}

// insnRI emits an opcode /ext immediate form against a register.
func insnRI(st *encoder.Stream, elem encoder.Width, opcode byte, ext byte, rm X86Reg, imm []byte) {
	code := appendPrefix(nil, elem, 0, rm.REXBit, rm)
	code = append(code, opcode)
	code = append(code, modRMByte(3, ext, rm.RegBits))
	code = append(code, imm...)
	st.Append(code...)
}

// movRegImm64 emits MOV r64, imm64 (B8+r with a full 8-byte payload).
func movRegImm64(st *encoder.Stream, dst X86Reg, imm uint64) {
	prefix := rexByte(1, 0, 0, dst.REXBit)
	code := append([]byte{prefix, 0xB8 + dst.RegBits}, encodeU64(imm)...)
	st.Append(code...)
}

// movRegImm32 emits MOV r32, imm32, zero-extending into the full register.
func movRegImm32(st *encoder.Stream, dst X86Reg, imm uint32) {
	var code []byte
	if dst.REXBit == 1 {
		code = append(code, rexByte(0, 0, 0, 1))
	}
	code = append(code, 0xB8+dst.RegBits)
	code = append(code, encodeU32(imm)...)
	st.Append(code...)
}

// testRegReg emits TEST rm, reg so a zero-flag condition becomes observable.
func testRegReg(st *encoder.Stream, elem encoder.Width, r X86Reg) {
	op := []byte{0x85}
	if elem == encoder.E8 {
		op = []byte{0x84}
	}
	insnRR(st, elem, op, r, r)
}

// pushReg / popReg preserve pinned registers around div/shift conventions.
func pushReg(st *encoder.Stream, r X86Reg) {
	if r.REXBit == 1 {
		st.Append(rexByte(0, 0, 0, 1), 0x50+r.RegBits)
		return
	}
	st.Append(0x50 + r.RegBits)
}

func popReg(st *encoder.Stream, r X86Reg) {
	if r.REXBit == 1 {
		st.Append(rexByte(0, 0, 0, 1), 0x58+r.RegBits)
		return
	}
	st.Append(0x58 + r.RegBits)
}
