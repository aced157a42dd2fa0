package a64

import (
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
)

// AArch64 instructions are fixed 32-bit words; every builder here returns
// one word ready for Stream.AppendU32. The sf bit (31) selects the 64-bit
// form; the narrow widths E8/E16 ride the 32-bit ALU behind extend bridges.

func sfBit(elem encoder.Width) uint32 {
	if elem == encoder.E64 {
		return 1
	}
	return 0
}

// ALU register forms, 32-bit base patterns (sf clear).
const (
	wordADDreg  = 0x0B000000
	wordADDSreg = 0x2B000000
	wordSUBreg  = 0x4B000000
	wordSUBSreg = 0x6B000000
	wordANDreg  = 0x0A000000
	wordBICreg  = 0x0A200000 // and with inverted rm
	wordORRreg  = 0x2A000000
	wordORNreg  = 0x2A200000
	wordEORreg  = 0x4A000000
	wordEONreg  = 0x4A200000
	wordANDSreg = 0x6A000000
)

func aluReg(base uint32, elem encoder.Width, rd, rn, rm uint8) uint32 {
	return base | sfBit(elem)<<31 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd)
}

// ALU 12-bit immediate forms. shifted applies the LSL-12 variant.
const (
	wordADDimm  = 0x11000000
	wordADDSimm = 0x31000000
	wordSUBimm  = 0x51000000
	wordSUBSimm = 0x71000000
)

func aluImm(base uint32, elem encoder.Width, rd, rn uint8, imm12 uint32, shifted bool) uint32 {
	w := base | sfBit(elem)<<31 | imm12<<10 | uint32(rn)<<5 | uint32(rd)
	if shifted {
		w |= 1 << 22
	}
	return w
}

// Logical bitmask-immediate forms.
const (
	wordANDimm  = 0x12000000
	wordORRimm  = 0x32000000
	wordEORimm  = 0x52000000
	wordANDSimm = 0x72000000
)

func logImm(base uint32, elem encoder.Width, rd, rn uint8, n, immr, imms uint32) uint32 {
	return base | sfBit(elem)<<31 | n<<22 | immr<<16 | imms<<10 | uint32(rn)<<5 | uint32(rd)
}

// Wide-move forms.
const (
	wordMOVN = 0x12800000
	wordMOVZ = 0x52800000
	wordMOVK = 0x72800000
)

func movWide(base uint32, elem encoder.Width, rd uint8, imm16 uint32, hw uint32) uint32 {
	return base | sfBit(elem)<<31 | hw<<21 | imm16<<5 | uint32(rd)
}

// Variable shifts (data-processing two-source).
const (
	wordLSLV = 0x1AC02000
	wordLSRV = 0x1AC02400
	wordASRV = 0x1AC02800
	wordRORV = 0x1AC02C00
)

// Bitfield moves; the 64-bit forms also set N (bit 22).
const (
	wordSBFM = 0x13000000
	wordUBFM = 0x53000000
)

func bitfield(base uint32, elem encoder.Width, rd, rn uint8, immr, imms uint32) uint32 {
	w := base | uint32(rn)<<5 | uint32(rd) | immr<<16 | imms<<10
	if elem == encoder.E64 {
		w |= 1<<31 | 1<<22
	}
	return w
}

// extr packs EXTR (the rotate-immediate carrier: ROR rd, rn, #lsb is
// EXTR rd, rn, rn, #lsb).
func extr(elem encoder.Width, rd, rn, rm uint8, lsb uint32) uint32 {
	w := uint32(0x13800000) | uint32(rm)<<16 | lsb<<10 | uint32(rn)<<5 | uint32(rd)
	if elem == encoder.E64 {
		w |= 1<<31 | 1<<22
	}
	return w
}

// Multiply-add/subtract and divides.
const (
	wordMADD = 0x1B000000
	wordMSUB = 0x1B008000
	wordUDIV = 0x1AC00800
	wordSDIV = 0x1AC00C00
)

func mulAdd(base uint32, elem encoder.Width, rd, rn, rm, ra uint8) uint32 {
	return base | sfBit(elem)<<31 | uint32(rm)<<16 | uint32(ra)<<10 | uint32(rn)<<5 | uint32(rd)
}

// csel packs CSEL rd, rn, rm, cond.
func csel(elem encoder.Width, rd, rn, rm uint8, cond uint32) uint32 {
	return 0x1A800000 | sfBit(elem)<<31 | uint32(rm)<<16 | cond<<12 | uint32(rn)<<5 | uint32(rd)
}

// sizeBits maps the element width onto the load/store size field (31:30).
func sizeBits(elem encoder.Width) uint32 { return uint32(elem) }

// Scaled unsigned-offset loads/stores. imm12 is in element units.
func ldrScaled(elem encoder.Width, rt, rn uint8, imm12 uint32) uint32 {
	return 0x39400000 | sizeBits(elem)<<30 | imm12<<10 | uint32(rn)<<5 | uint32(rt)
}

func strScaled(elem encoder.Width, rt, rn uint8, imm12 uint32) uint32 {
	return 0x39000000 | sizeBits(elem)<<30 | imm12<<10 | uint32(rn)<<5 | uint32(rt)
}

// Sign-extending loads into the 64-bit register (LDRSB/LDRSH/LDRSW).
func ldrsScaled(src encoder.Width, rt, rn uint8, imm12 uint32) uint32 {
	return 0x39800000 | sizeBits(src)<<30 | imm12<<10 | uint32(rn)<<5 | uint32(rt)
}

// Unscaled 9-bit signed-offset forms.
func ldur(elem encoder.Width, rt, rn uint8, imm9 uint32) uint32 {
	return 0x38400000 | sizeBits(elem)<<30 | (imm9&0x1FF)<<12 | uint32(rn)<<5 | uint32(rt)
}

func stur(elem encoder.Width, rt, rn uint8, imm9 uint32) uint32 {
	return 0x38000000 | sizeBits(elem)<<30 | (imm9&0x1FF)<<12 | uint32(rn)<<5 | uint32(rt)
}

func ldurs(src encoder.Width, rt, rn uint8, imm9 uint32) uint32 {
	return 0x38800000 | sizeBits(src)<<30 | (imm9&0x1FF)<<12 | uint32(rn)<<5 | uint32(rt)
}

// 128-bit vector loads/stores (Q registers). imm12 scales by 16.
func ldrQ(rt, rn uint8, imm12 uint32) uint32 {
	return 0x3DC00000 | imm12<<10 | uint32(rn)<<5 | uint32(rt)
}

func strQ(rt, rn uint8, imm12 uint32) uint32 {
	return 0x3D800000 | imm12<<10 | uint32(rn)<<5 | uint32(rt)
}

func ldurQ(rt, rn uint8, imm9 uint32) uint32 {
	return 0x3CC00000 | (imm9&0x1FF)<<12 | uint32(rn)<<5 | uint32(rt)
}

func sturQ(rt, rn uint8, imm9 uint32) uint32 {
	return 0x3C800000 | (imm9&0x1FF)<<12 | uint32(rn)<<5 | uint32(rt)
}

// Branches. Displacement fields stay zero; the stream fix-up patches them.
const (
	wordB     = 0x14000000
	wordBcond = 0x54000000
	wordCBZ   = 0x34000000
	wordCBNZ  = 0x35000000
)

// condCode maps the abstract conditions onto AArch64 condition numbers.
var condCode = map[encoder.Cond]uint32{
	encoder.CondEQ:  0x0, // EQ
	encoder.CondNE:  0x1, // NE
	encoder.CondGEU: 0x2, // HS
	encoder.CondLTU: 0x3, // LO
	encoder.CondGTU: 0x8, // HI
	encoder.CondLEU: 0x9, // LS
	encoder.CondGES: 0xA, // GE
	encoder.CondLTS: 0xB, // LT
	encoder.CondGTS: 0xC, // GT
	encoder.CondLES: 0xD, // LE
}

// movReg packs the MOV alias (ORR rd, zr, rm).
func movReg(elem encoder.Width, rd, rm uint8) uint32 {
	return aluReg(wordORRreg, elem, rd, regZR, rm)
}

// cmpZero packs the zero-flag bridge SUBS zr, rn, #0.
func cmpZero(elem encoder.Width, rn uint8) uint32 {
	return aluImm(wordSUBSimm, elem, regZR, rn, 0, false)
}

const wordBICSreg = 0x6A200000

// aluRegShifted packs the shifted-register ALU form: rd = rn op (rm LSL #n).
func aluRegShifted(base uint32, elem encoder.Width, rd, rn, rm uint8, amount uint32) uint32 {
	return aluReg(base, elem, rd, rn, rm) | amount<<10
}

// ASIMD three-register-same form, always the 128-bit (Q=1) arrangement. The
// base constants carry the U bit and the opcode field; size slots into bits
// 23:22 (the logic group encodes its variant there and passes size 0).
func vec3Same(base uint32, size uint32, rd, rn, rm uint8) uint32 {
	return base | 1<<30 | size<<22 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd)
}

const (
	vwADD  = 0x0E208400
	vwSUB  = 0x2E208400
	vwMUL  = 0x0E209C00 // lane sizes up to 32 bits only
	vwSMAX = 0x0E206400
	vwSMIN = 0x0E206C00
	vwUMAX = 0x2E206400
	vwUMIN = 0x2E206C00
	vwCMEQ = 0x2E208C00
	vwCMGT = 0x0E203400
	vwCMGE = 0x0E203C00
	vwCMHI = 0x2E203400
	vwCMHS = 0x2E203C00
	vwSSHL = 0x0E204400 // negative lane counts shift right arithmetically
	vwUSHL = 0x2E204400

	vwAND = 0x0E201C00
	vwBIC = 0x0E601C00
	vwORR = 0x0EA01C00
	vwORN = 0x0EE01C00
	vwEOR = 0x2E201C00

	vwFMLA = 0x0E20CC00 // sz in bit 22
	vwFMLS = 0x0EA0CC00
)

// ASIMD two-register miscellaneous form, Q=1.
func vec2Misc(base uint32, size uint32, rd, rn uint8) uint32 {
	return base | 1<<30 | size<<22 | uint32(rn)<<5 | uint32(rd)
}

const (
	vwNOT  = 0x2E205800
	vwNEGv = 0x2E20B800

	// float <-> int converts; size is the sz bit alone
	vwSCVTF  = 0x0E21D800
	vwUCVTF  = 0x2E21D800
	vwFCVTNS = 0x0E21A800
	vwFCVTNU = 0x2E21A800
	vwFCVTMS = 0x0E21B000
	vwFCVTMU = 0x2E21B000
	vwFCVTPS = 0x0EA1A800
	vwFCVTPU = 0x2EA1A800
	vwFCVTZS = 0x0EA1B800
	vwFCVTZU = 0x2EA1B800
)

// ASIMD shift-by-immediate form, Q=1. immhb is the joined immh:immb field:
// esize+shift for left shifts, 2*esize-shift for right shifts.
func vecShiftImm(base uint32, immhb uint32, rd, rn uint8) uint32 {
	return base | 1<<30 | immhb<<16 | uint32(rn)<<5 | uint32(rd)
}

const (
	vwSHL  = 0x0F005400
	vwSSHR = 0x0F000400
	vwUSHR = 0x2F000400
)

// dupGP packs DUP Vd.<T>, Rn: splat a general register across the lanes.
func dupGP(elem encoder.Width, vd, rn uint8) uint32 {
	imm5 := uint32(0x04) // 4S
	if elem == encoder.E64 {
		imm5 = 0x08 // 2D
	}
	return 0x4E000C00 | imm5<<16 | uint32(rn)<<5 | uint32(vd)
}

// umov packs UMOV Rd, Vn.<T>[lane]: move one lane out to a general register.
func umov(elem encoder.Width, rd, vn uint8, lane uint32) uint32 {
	if elem == encoder.E64 {
		return 0x4E003C00 | (lane<<4|0x08)<<16 | uint32(vn)<<5 | uint32(rd)
	}
	return 0x0E003C00 | (lane<<3|0x04)<<16 | uint32(vn)<<5 | uint32(rd)
}

// insGP packs INS Vd.<T>[lane], Rn: move a general register into one lane.
func insGP(elem encoder.Width, vd, rn uint8, lane uint32) uint32 {
	imm5 := lane<<3 | 0x04
	if elem == encoder.E64 {
		imm5 = lane<<4 | 0x08
	}
	return 0x4E001C00 | imm5<<16 | uint32(rn)<<5 | uint32(vd)
}

// ASIMD across-lanes reductions, Q=1. Lane sizes up to 32 bits only; the
// 64-bit mask reductions move both lanes out instead.
func vecAcross(base uint32, size uint32, rd, rn uint8) uint32 {
	return base | 1<<30 | size<<22 | uint32(rn)<<5 | uint32(rd)
}

const (
	vwUMAXV = 0x2E30A800
	vwUMINV = 0x2E31A800
)
