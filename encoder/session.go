package encoder

import (
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/log"
	"github.com/neonkingfr/UniSIMD-sub001/operand"
)

// Assembler is one architecture backend. Encode appends the native bytes for
// a single descriptor to the stream, or returns an error without appending a
// partial instruction.
type Assembler interface {
	Arch() Arch

	// Scratch exposes the backend's fixed reserved-register convention.
	Scratch() operand.ScratchSet

	// ValidateReg rejects registers outside the client-visible file.
	ValidateReg(r operand.Register) error

	// Encode lowers one operation descriptor into the stream.
	Encode(st *Stream, d *Descriptor) error
}

// Session is one single-threaded encoding run: it owns its stream and label
// table exclusively. Independent sessions may run concurrently; the profile
// they share is read-only.
type Session struct {
	profile *Profile
	asm     Assembler
	stream  *Stream
	emitted int
}

func NewSession(p *Profile, asm Assembler) (*Session, error) {
	if p.Target.Arch != asm.Arch() {
		return nil, fmt.Errorf("profile targets %s but assembler is %s: %w", p.Target.Arch, asm.Arch(), asmerrors.ErrUOpcode)
	}
	return &Session{profile: p, asm: asm, stream: NewStream()}, nil
}

func (s *Session) Profile() *Profile { return s.profile }
func (s *Session) Stream() *Stream   { return s.stream }

// Reg wraps a client general-purpose register id, rejecting the reserved
// scratch set at construction time.
func (s *Session) Reg(id uint8) (operand.Operand, error) {
	r := operand.Register{ID: id, Class: operand.GP, Reserved: s.asm.Scratch().ContainsGP(id)}
	if err := s.asm.ValidateReg(r); err != nil {
		return operand.Operand{}, err
	}
	return operand.NewReg(r)
}

// VecReg wraps a client vector register id.
func (s *Session) VecReg(id uint8) (operand.Operand, error) {
	r := operand.Register{ID: id, Class: operand.Vec, Reserved: s.asm.Scratch().ContainsVec(id)}
	if err := s.asm.ValidateReg(r); err != nil {
		return operand.Operand{}, err
	}
	return operand.NewReg(r)
}

// Mem builds a base+displacement reference off a client register.
func (s *Session) Mem(baseID uint8, disp int64) (operand.Operand, error) {
	base := operand.Register{ID: baseID, Class: operand.GP, Reserved: s.asm.Scratch().ContainsGP(baseID)}
	if err := s.asm.ValidateReg(base); err != nil {
		return operand.Operand{}, err
	}
	return operand.NewMem(base, disp)
}

// Imm builds an immediate with a declared bit width.
func (s *Session) Imm(v int64, bits uint8) (operand.Operand, error) {
	return operand.NewImm(v, bits)
}

// NewLabel declares a branch target in this session's stream.
func (s *Session) NewLabel() *Label { return s.stream.NewLabel() }

// Bind fixes a label at the current stream offset.
func (s *Session) Bind(l *Label) error { return s.stream.Bind(l) }

// Emit lowers one descriptor and returns the number of bytes appended.
func (s *Session) Emit(d *Descriptor) (int, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}
	elem := d.Elem
	if d.Op == MOVSX || d.Op == MOVZX {
		// width bridges are tabulated by the width being bridged
		elem = d.SrcElem
	}
	if sup := s.profile.Support(d.Op, elem, d.Vec); sup == Unsupported {
		return 0, fmt.Errorf("%s %s vec=%d on %s: %w", d.Op, elem, d.Vec, s.profile.Target, asmerrors.ErrUWidth)
	}
	before := s.stream.Len()
	if err := s.asm.Encode(s.stream, d); err != nil {
		// roll back any partial emission so the stream stays consistent
		s.stream.buf = s.stream.buf[:before]
		return 0, err
	}
	n := s.stream.Len() - before
	s.emitted++
	log.Trace(log.SessionMonitoring, "emit", "op", d.Op.String(), "elem", d.Elem.String(), "vec", int(d.Vec), "bytes", n)
	return n, nil
}

// Finalize resolves all labels and hands back the finished stream.
func (s *Session) Finalize() ([]byte, error) {
	out, err := s.stream.Finalize()
	if err != nil {
		return nil, err
	}
	log.Debug(log.SessionMonitoring, "session finalized", "ops", s.emitted, "bytes", len(out))
	return out, nil
}

// CheckImmWidth enforces the width-subset rule: an immediate's declared
// width must cover the operation's element width. A 32-bit value feeding a
// 64-bit materialization needs an explicit extend first, never an implicit
// one. Backends call this before classifying an immediate.
func CheckImmWidth(d *Descriptor, o operand.Operand) error {
	if o.Kind() != operand.KindImm {
		return nil
	}
	if uint(o.ImmWidth()) < d.Elem.Bits() {
		return fmt.Errorf("%d-bit immediate %#x in %s %s operation: %w", o.ImmWidth(), o.Imm(), d.Elem, d.Op, asmerrors.ErrEWidthBridge)
	}
	return nil
}
