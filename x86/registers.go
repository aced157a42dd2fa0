// Package x86 lowers the uniform operation vocabulary into x86-64 machine
// code: REX/ModRM/SIB packing for the BASE integer subset, SSE/VEX packing
// for the packed SIMD subset, and the scratch-register staging paths for
// displacements and immediates the native fields cannot hold.
package x86

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// X86Reg carries the encoding bits for one register.
type X86Reg struct {
	Name    string
	RegBits byte // 3-bit code for ModRM/SIB
	REXBit  byte // 1 if register index >= 8
}

// regInfoList is indexed by the architecture register number (rax=0..r15=15).
var regInfoList = []X86Reg{
	{"rax", 0, 0}, // pinned: div quotient / mul convention
	{"rcx", 1, 0}, // pinned: variable shift count
	{"rdx", 2, 0}, // pinned: div remainder
	{"rbx", 3, 0},
	{"rsp", 4, 0}, // stack, never client-visible
	{"rbp", 5, 0}, // frame, never client-visible
	{"rsi", 6, 0},
	{"rdi", 7, 0},
	{"r8", 0, 1},
	{"r9", 1, 1},
	{"r10", 2, 1}, // reserved: value scratch
	{"r11", 3, 1}, // reserved: address scratch
	{"r12", 4, 1}, // reserved: vector spill area base
	{"r13", 5, 1},
	{"r14", 6, 1},
	{"r15", 7, 1},
}

var vecInfoList = []X86Reg{
	{"xmm0", 0, 0}, {"xmm1", 1, 0}, {"xmm2", 2, 0}, {"xmm3", 3, 0},
	{"xmm4", 4, 0}, {"xmm5", 5, 0}, {"xmm6", 6, 0}, {"xmm7", 7, 0},
	{"xmm8", 0, 1}, {"xmm9", 1, 1}, {"xmm10", 2, 1}, {"xmm11", 3, 1},
	{"xmm12", 4, 1}, {"xmm13", 5, 1},
	{"xmm14", 6, 1}, // reserved: vector scratch
	{"xmm15", 7, 1}, // reserved: vector scratch
}

const (
	regRAX = 0
	regRCX = 1
	regRDX = 2
	regRSP = 4
	regRBP = 5

	scratchValue    = 10 // r10
	scratchAddr     = 11 // r11
	scratchSpill    = 12 // r12
	scratchVecLow   = 14 // xmm14
	scratchVecHigh  = 15 // xmm15
	spillAreaStride = 64 // one full-width vector per slot
)

// clientGP is the register file exposed to clients; rsp/rbp and the three
// scratch registers stay internal.
var clientGP = map[uint8]bool{
	0: true, 1: true, 2: true, 3: true, 6: true, 7: true, 8: true, 9: true,
}

func gpInfo(id uint8) X86Reg  { return regInfoList[id] }
func vecInfo(id uint8) X86Reg { return vecInfoList[id] }

func validateClientReg(r operand.Register) error {
	if r.Reserved {
		return fmt.Errorf("register %s: %w", r, asmerrors.ErrOReservedRegister)
	}
	if r.Class == operand.GP {
		if int(r.ID) >= len(regInfoList) || !clientGP[r.ID] {
			return fmt.Errorf("gp register id %d is not client-visible: %w", r.ID, asmerrors.ErrOReservedRegister)
		}
		return nil
	}
	if int(r.ID) >= scratchVecLow {
		return fmt.Errorf("vector register id %d is not client-visible: %w", r.ID, asmerrors.ErrOReservedRegister)
	}
	return nil
}
