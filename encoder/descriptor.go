// Package encoder holds the architecture-independent session layer: operation
// descriptors, the encoded stream with its label fix-ups, the per-target
// encoding profile and the host capability probe. The per-architecture byte
// packing lives in the backend packages (x86, a64).
package encoder

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// Op identifies one operation of the uniform vocabulary.
type Op uint16

const (
	// BASE scalar integer subset
	MOV Op = iota
	MOVSX
	MOVZX
	NOT
	AND
	ANN // and-not: dst = src1 & ^src2
	ORR
	ORN // or-not: dst = src1 | ^src2
	XOR
	NEG
	ADD
	SUB
	SHL
	SHR
	SAR
	ROR
	MUL
	DIV
	REM
	CMP

	// packed SIMD subset
	VAND
	VANN
	VORR
	VORN
	VXOR
	VNOT
	VADD
	VSUB
	VMUL
	VMIN
	VMAX
	VCMP // per-lane compare, all-ones/all-zeros mask result
	VCVT // float -> int, rounding mode in Descriptor.Round
	VCVN // int -> float
	VSHL
	VSHR // logical; Signed selects the arithmetic form
	FMA  // g + s*t
	FMS  // g - s*t
	MKJ  // mask reduce + sentinel divergence branch

	// control flow
	JMP
	CMJ // compare, then branch on Cond
	ARJ // flag-setting arithmetic (Inner), then branch on Cond

	opMax
)

var opNames = map[Op]string{
	MOV: "mov", MOVSX: "movsx", MOVZX: "movzx", NOT: "not",
	AND: "and", ANN: "ann", ORR: "orr", ORN: "orn", XOR: "xor",
	NEG: "neg", ADD: "add", SUB: "sub",
	SHL: "shl", SHR: "shr", SAR: "sar", ROR: "ror",
	MUL: "mul", DIV: "div", REM: "rem", CMP: "cmp",
	VAND: "vand", VANN: "vann", VORR: "vorr", VORN: "vorn", VXOR: "vxor",
	VNOT: "vnot", VADD: "vadd", VSUB: "vsub", VMUL: "vmul",
	VMIN: "vmin", VMAX: "vmax", VCMP: "vcmp", VCVT: "vcvt", VCVN: "vcvn",
	VSHL: "vshl", VSHR: "vshr", FMA: "fma", FMS: "fms", MKJ: "mkj",
	JMP: "jmp", CMJ: "cmj", ARJ: "arj",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint16(op))
}

// IsVector reports whether op belongs to the packed SIMD subset.
func (op Op) IsVector() bool { return op >= VAND && op <= MKJ }

// IsBranch reports whether op emits a branch.
func (op Op) IsBranch() bool { return op == JMP || op == CMJ || op == ARJ || op == MKJ }

// Width is the scalar element width class.
type Width uint8

const (
	E8 Width = iota
	E16
	E32
	E64
)

func (w Width) Bits() uint  { return 8 << w }
func (w Width) Bytes() uint { return 1 << w }

func (w Width) String() string { return fmt.Sprintf("e%d", w.Bits()) }

// VecWidth is the packed register width in bits; Scalar marks BASE ops.
type VecWidth uint16

const (
	Scalar VecWidth = 0
	V128   VecWidth = 128
	V256   VecWidth = 256
	V512   VecWidth = 512
)

func (v VecWidth) Bytes() uint { return uint(v) / 8 }

func (v VecWidth) String() string {
	if v == Scalar {
		return "scalar"
	}
	return fmt.Sprintf("v%d", uint(v))
}

// Lanes returns the lane count for the given element width.
func (v VecWidth) Lanes(elem Width) uint {
	if v == Scalar {
		return 1
	}
	return v.Bytes() / elem.Bytes()
}

// Half returns the next narrower rung of the emulation ladder.
func (v VecWidth) Half() VecWidth { return v / 2 }

// FlagMode selects between the flag-agnostic and flag-setting emission of an
// opcode. FlagsIgnore makes no promise at all about flag state afterwards;
// whether the native instruction touches flags is architecture-dependent.
type FlagMode uint8

const (
	FlagsIgnore FlagMode = iota
	FlagsSetZF           // a zero-flag-equivalent condition is observable after
)

// Cond is the abstract branch condition, mapped by each backend onto its own
// condition-code mnemonics.
type Cond uint8

const (
	CondNone Cond = iota
	CondEQ
	CondNE
	CondLTU
	CondLEU
	CondGEU
	CondGTU
	CondLTS
	CondLES
	CondGES
	CondGTS

	// MKJ sentinels: branch only when no lane / every lane satisfies.
	CondNone1 // no lane satisfies
	CondFull  // every lane satisfies
)

var condNames = map[Cond]string{
	CondEQ: "eq", CondNE: "ne",
	CondLTU: "lt.u", CondLEU: "le.u", CondGEU: "ge.u", CondGTU: "gt.u",
	CondLTS: "lt.s", CondLES: "le.s", CondGES: "ge.s", CondGTS: "gt.s",
	CondNone1: "none", CondFull: "full",
}

func (c Cond) String() string {
	if s, ok := condNames[c]; ok {
		return s
	}
	return fmt.Sprintf("cond(%d)", uint8(c))
}

// RoundMode selects the VCVT float-to-int rounding behavior.
type RoundMode uint8

const (
	RoundZero    RoundMode = iota // toward zero (truncate)
	RoundUp                       // toward +inf
	RoundDown                     // toward -inf
	RoundNearest                  // to nearest even
)

func (r RoundMode) String() string {
	switch r {
	case RoundZero:
		return "zero"
	case RoundUp:
		return "+inf"
	case RoundDown:
		return "-inf"
	case RoundNearest:
		return "nearest"
	}
	return fmt.Sprintf("round(%d)", uint8(r))
}

// Descriptor is one operation request: opcode identity, width class,
// signedness, flag mode and the operand list, consumed immediately by the
// active backend's Encode.
type Descriptor struct {
	Op       Op
	Elem     Width
	SrcElem  Width // MOVSX/MOVZX: the narrower source width being bridged
	Vec      VecWidth
	Signed   bool
	Flags    FlagMode
	Cond     Cond
	Round    RoundMode
	Inner    Op     // ARJ: the flag-setting arithmetic opcode
	Label    *Label // branch target
	Operands []operand.Operand
}

// Validate performs the architecture-independent shape checks: operand
// count, operand class against the opcode's register file, and branch
// bookkeeping. Backends run it before packing bytes.
func (d *Descriptor) Validate() error {
	if d.Op >= opMax {
		return fmt.Errorf("opcode %d: %w", d.Op, asmerrors.ErrUOpcode)
	}
	if d.Op.IsVector() && d.Vec == Scalar {
		return fmt.Errorf("%s needs a vector width: %w", d.Op, asmerrors.ErrUWidth)
	}
	if !d.Op.IsVector() && d.Vec != Scalar {
		return fmt.Errorf("%s is a scalar opcode: %w", d.Op, asmerrors.ErrUWidth)
	}
	if d.Op.IsBranch() && d.Label == nil {
		return fmt.Errorf("%s without a branch target: %w", d.Op, asmerrors.ErrLUnresolved)
	}

	min, max := d.Op.arity()
	if len(d.Operands) < min || len(d.Operands) > max {
		return fmt.Errorf("%s takes %d..%d operands, got %d: %w", d.Op, min, max, len(d.Operands), asmerrors.ErrOBadOperandShape)
	}

	wantVec := d.Op.IsVector()
	for i, o := range d.Operands {
		if o.Kind() != operand.KindReg {
			continue
		}
		isVec := o.BareReg().Class == operand.Vec
		if wantVec != isVec && !d.Op.allowsMixedClass(i) {
			return fmt.Errorf("operand %d (%s) of %s: %w", i, o, d.Op, asmerrors.ErrOClassMismatch)
		}
	}
	return nil
}

// arity returns the operand count range for the opcode.
func (op Op) arity() (int, int) {
	switch op {
	case JMP:
		return 0, 0
	case MKJ:
		return 1, 1
	case NOT, NEG, VNOT:
		return 1, 2
	case MOV, MOVSX, MOVZX, CMP, VCVT, VCVN:
		return 2, 2
	case CMJ:
		return 2, 2
	case ARJ:
		return 2, 3
	case FMA, FMS:
		return 3, 3
	default:
		return 2, 3
	}
}

// allowsMixedClass marks operand positions where a GP register legally joins
// a vector opcode (uniform shift counts, MKJ predicate sources).
func (op Op) allowsMixedClass(pos int) bool {
	switch op {
	case VSHL, VSHR:
		return pos == 2
	case MKJ:
		return false
	}
	return false
}
