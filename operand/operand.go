// Package operand models registers, memory references and immediates as the
// uniform operand vocabulary consumed by the per-architecture emitters.
package operand

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
)

// Role tags the position a register may legally occupy in an operation.
type Role uint8

const (
	DestOnly Role = iota // written, never read
	DestSrc1             // read-modify-write destination
	Src2
	Src3
)

func (r Role) String() string {
	switch r {
	case DestOnly:
		return "dest"
	case DestSrc1:
		return "dest+src1"
	case Src2:
		return "src2"
	case Src3:
		return "src3"
	}
	return fmt.Sprintf("role(%d)", r)
}

// Class separates the general-purpose and vector register files.
type Class uint8

const (
	GP Class = iota
	Vec
)

func (c Class) String() string {
	if c == Vec {
		return "vec"
	}
	return "gp"
}

// Register is an architecture-local register. ID is the architecture's own
// numbering (rax=0..r15=15 on x86-64, x0..x30 on arm64). Reserved marks the
// internal scratch set; a reserved register is never accepted from a client.
type Register struct {
	ID       uint8
	Role     Role
	Class    Class
	Reserved bool
}

// WithRole returns a copy of r tagged for the given operand position.
func (r Register) WithRole(role Role) Register {
	r.Role = role
	return r
}

func (r Register) String() string {
	return fmt.Sprintf("%s%d/%s", r.Class, r.ID, r.Role)
}

// Kind discriminates the Operand variants.
type Kind uint8

const (
	KindReg Kind = iota
	KindMem
	KindImm
)

func (k Kind) String() string {
	switch k {
	case KindReg:
		return "reg"
	case KindMem:
		return "mem"
	case KindImm:
		return "imm"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Operand is the tagged union Reg | Mem | Imm. The zero value is an Imm 0.
//
// Three orthogonal accessors cover the three instruction-word fields an
// operand can land in: BareReg (a register field), AddrBase (a memory base
// field) and IndexDisp (a displacement or computed index contribution).
type Operand struct {
	kind     Kind
	reg      Register // KindReg: the register itself; KindMem: the base
	disp     int64    // KindMem: raw byte displacement
	index    int64    // KindMem: resolver-computed index contribution
	imm      int64    // KindImm: value
	immWidth uint8    // KindImm: declared bit width (8, 16, 32, 64)
}

// NewReg wraps a client register. Reserved scratch registers are rejected at
// construction time; they never appear in a client-visible operand.
func NewReg(r Register) (Operand, error) {
	if r.Reserved {
		return Operand{}, fmt.Errorf("register %s: %w", r, asmerrors.ErrOReservedRegister)
	}
	return Operand{kind: KindReg, reg: r}, nil
}

// NewMem builds a base+displacement memory reference. The displacement is a
// raw byte offset; scaling to element units is the resolver's business.
func NewMem(base Register, disp int64) (Operand, error) {
	if base.Reserved {
		return Operand{}, fmt.Errorf("base register %s: %w", base, asmerrors.ErrOReservedRegister)
	}
	if base.Class != GP {
		return Operand{}, fmt.Errorf("base register %s: %w", base, asmerrors.ErrOClassMismatch)
	}
	return Operand{kind: KindMem, reg: base, disp: disp}, nil
}

// NewImm builds an immediate with a declared bit width. The value must be
// representable in that width (as either its signed or unsigned range).
func NewImm(v int64, bits uint8) (Operand, error) {
	if !fitsWidth(v, bits) {
		return Operand{}, fmt.Errorf("immediate %#x does not fit declared %d-bit width: %w", v, bits, asmerrors.ErrEImmRange)
	}
	return Operand{kind: KindImm, imm: v, immWidth: bits}, nil
}

func fitsWidth(v int64, bits uint8) bool {
	switch bits {
	case 8:
		return v >= -0x80 && v <= 0xFF
	case 16:
		return v >= -0x8000 && v <= 0xFFFF
	case 32:
		return v >= -0x80000000 && v <= 0xFFFFFFFF
	case 64:
		return true
	}
	return false
}

// MustReg is NewReg for statically known-good registers (tables, tests).
func MustReg(r Register) Operand {
	o, err := NewReg(r)
	if err != nil {
		panic(err)
	}
	return o
}

// MustMem is NewMem for statically known-good references.
func MustMem(base Register, disp int64) Operand {
	o, err := NewMem(base, disp)
	if err != nil {
		panic(err)
	}
	return o
}

// MustImm is NewImm for statically known-good values.
func MustImm(v int64, bits uint8) Operand {
	o, err := NewImm(v, bits)
	if err != nil {
		panic(err)
	}
	return o
}

func (o Operand) Kind() Kind { return o.kind }

// BareReg returns the register value for a Reg operand.
func (o Operand) BareReg() Register { return o.reg }

// AddrBase returns the addressing base register for a Mem operand.
func (o Operand) AddrBase() Register { return o.reg }

// IndexDisp returns the displacement plus any resolver-computed index
// contribution for a Mem operand, in raw bytes.
func (o Operand) IndexDisp() int64 { return o.disp + o.index }

// Disp returns the client-declared raw byte displacement.
func (o Operand) Disp() int64 { return o.disp }

// Imm returns the immediate value.
func (o Operand) Imm() int64 { return o.imm }

// ImmWidth returns the declared bit width of an Imm operand.
func (o Operand) ImmWidth() uint8 { return o.immWidth }

// WithBase returns a copy of a Mem operand rebased onto reg with the given
// residual displacement. The resolver uses this to substitute a staged
// scratch-register address for an unencodable displacement.
func (o Operand) WithBase(reg Register, disp int64) Operand {
	o.reg = reg
	o.index = o.disp - disp // staged portion, kept for IndexDisp accounting
	o.disp = disp
	return o
}

// AddDisp returns a copy of a Mem operand with the displacement advanced by
// delta bytes. The emulation ladder uses this to address the upper half of a
// split vector operand.
func (o Operand) AddDisp(delta int64) Operand {
	o.disp += delta
	return o
}

func (o Operand) String() string {
	switch o.kind {
	case KindReg:
		return o.reg.String()
	case KindMem:
		return fmt.Sprintf("[%s%+d]", o.reg, o.disp)
	case KindImm:
		return fmt.Sprintf("#%d/i%d", o.imm, o.immWidth)
	}
	return "operand(?)"
}
