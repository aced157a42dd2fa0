// Package a64 lowers the uniform operation vocabulary into AArch64 machine
// words: fixed 32-bit instruction packing for the BASE integer subset, ASIMD
// packing for the packed SIMD subset, and MOVZ/MOVK staging for the
// displacements and immediates the native fields cannot hold.
package a64

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

const (
	// x16/x17 are the architectural intra-procedure scratch pair; x27
	// anchors the vector spill area. x29/x30/sp stay out of the register
	// file entirely.
	scratchAddr  = 16
	scratchValue = 17
	scratchSpill = 27

	scratchVecLow  = 30 // v30
	scratchVecHigh = 31 // v31

	regZR = 31 // encodes xzr/wzr in register fields, sp in base fields

	spillAreaStride = 64
)

// clientGP is the general-purpose file exposed to clients.
var clientGP = map[uint8]bool{
	0: true, 1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 7: true,
	8: true, 9: true, 10: true, 11: true, 12: true, 13: true, 14: true, 15: true,
}

func validateClientReg(r operand.Register) error {
	if r.Reserved {
		return fmt.Errorf("register %s: %w", r, asmerrors.ErrOReservedRegister)
	}
	if r.Class == operand.GP {
		if !clientGP[r.ID] {
			return fmt.Errorf("gp register id %d is not client-visible: %w", r.ID, asmerrors.ErrOReservedRegister)
		}
		return nil
	}
	if int(r.ID) >= scratchVecLow {
		return fmt.Errorf("vector register id %d is not client-visible: %w", r.ID, asmerrors.ErrOReservedRegister)
	}
	return nil
}
