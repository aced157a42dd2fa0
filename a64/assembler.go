package a64

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// Assembler lowers descriptors to AArch64 words against a fixed profile.
type Assembler struct {
	profile *encoder.Profile
	scratch operand.ScratchSet
}

func New(p *encoder.Profile) *Assembler {
	return &Assembler{
		profile: p,
		scratch: operand.ScratchSet{
			Addr:      scratchAddr,
			Value:     scratchValue,
			SpillBase: scratchSpill,
			VecPair:   [2]uint8{scratchVecLow, scratchVecHigh},
		},
	}
}

func (a *Assembler) Arch() encoder.Arch { return encoder.ArchARM64 }

func (a *Assembler) Scratch() operand.ScratchSet { return a.scratch }

func (a *Assembler) ValidateReg(r operand.Register) error { return validateClientReg(r) }

type emitFunc func(*Assembler, *encoder.Stream, *encoder.Descriptor) error

// opToEmitter is populated in init: the halving ladder re-enters Encode,
// so a declaration-time literal would form an initialization cycle.
var opToEmitter map[encoder.Op]emitFunc

func init() {
	opToEmitter = map[encoder.Op]emitFunc{
		encoder.MOV:   (*Assembler).emitMov,
		encoder.MOVSX: (*Assembler).emitMovExt,
		encoder.MOVZX: (*Assembler).emitMovExt,
		encoder.NOT:   (*Assembler).emitUnary,
		encoder.NEG:   (*Assembler).emitUnary,
		encoder.AND:   (*Assembler).emitBinary,
		encoder.ANN:   (*Assembler).emitBinaryInv,
		encoder.ORR:   (*Assembler).emitBinary,
		encoder.ORN:   (*Assembler).emitBinaryInv,
		encoder.XOR:   (*Assembler).emitBinary,
		encoder.ADD:   (*Assembler).emitBinary,
		encoder.SUB:   (*Assembler).emitBinary,
		encoder.CMP:   (*Assembler).emitBinary,
		encoder.SHL:   (*Assembler).emitShift,
		encoder.SHR:   (*Assembler).emitShift,
		encoder.SAR:   (*Assembler).emitShift,
		encoder.ROR:   (*Assembler).emitShift,
		encoder.MUL:   (*Assembler).emitMul,
		encoder.DIV:   (*Assembler).emitDivRem,
		encoder.REM:   (*Assembler).emitDivRem,

		encoder.VAND: (*Assembler).emitVecLogic,
		encoder.VANN: (*Assembler).emitVecLogic,
		encoder.VORR: (*Assembler).emitVecLogic,
		encoder.VORN: (*Assembler).emitVecLogic,
		encoder.VXOR: (*Assembler).emitVecLogic,
		encoder.VNOT: (*Assembler).emitVecNot,
		encoder.VADD: (*Assembler).emitVecArith,
		encoder.VSUB: (*Assembler).emitVecArith,
		encoder.VMUL: (*Assembler).emitVecArith,
		encoder.VMIN: (*Assembler).emitVecMinMax,
		encoder.VMAX: (*Assembler).emitVecMinMax,
		encoder.VCMP: (*Assembler).emitVecCmp,
		encoder.VCVT: (*Assembler).emitVecCvt,
		encoder.VCVN: (*Assembler).emitVecCvn,
		encoder.VSHL: (*Assembler).emitVecShift,
		encoder.VSHR: (*Assembler).emitVecShift,
		encoder.FMA:  (*Assembler).emitVecFMA,
		encoder.FMS:  (*Assembler).emitVecFMA,
		encoder.MKJ:  (*Assembler).emitMaskJump,

		encoder.JMP: (*Assembler).emitJump,
		encoder.CMJ: (*Assembler).emitCompareJump,
		encoder.ARJ: (*Assembler).emitArithJump,
	}
}

// Encode lowers one descriptor. Partial-emission rollback is the session's
// job; Encode only promises not to return success with wrong bytes.
func (a *Assembler) Encode(st *encoder.Stream, d *encoder.Descriptor) error {
	fn, ok := opToEmitter[d.Op]
	if !ok {
		return fmt.Errorf("opcode %s on arm64: %w", d.Op, asmerrors.ErrUOpcode)
	}
	return fn(a, st, d)
}
