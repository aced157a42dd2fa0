package encoder

import (
	"encoding/binary"
	"fmt"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
)

// Label is a symbolic program point. It starts pending and becomes bound when
// Bind records its final stream offset. A pending label referenced at
// Finalize time is an error, never a silent zero offset.
type Label struct {
	id     int
	owner  *Stream
	offset int
	bound  bool
}

// Bound reports whether the label's stream offset is known.
func (l *Label) Bound() bool { return l.bound }

// Offset returns the bound stream offset.
func (l *Label) Offset() int { return l.offset }

func (l *Label) String() string {
	if l.bound {
		return fmt.Sprintf("L%d@%d", l.id, l.offset)
	}
	return fmt.Sprintf("L%d@?", l.id)
}

// FixKind selects how a recorded fix-up patches bytes once the target offset
// is known. The x86 kinds patch little-endian relative displacements; the
// arm64 kinds patch bit fields inside a 32-bit instruction word.
type FixKind uint8

const (
	FixRel8      FixKind = iota // x86 rel8, relative to instruction end
	FixRel32                    // x86 rel32, relative to instruction end
	FixA64Br26                  // arm64 B imm26, word-scaled
	FixA64Cond19                // arm64 B.cond/CBZ imm19, word-scaled
)

type fixup struct {
	kind  FixKind
	at    int // offset of the displacement field / instruction word
	end   int // offset the displacement is relative to (x86: insn end)
	label *Label
}

// Stream accumulates emitted bytes plus pending label fix-ups. It is owned by
// exactly one encoding session and must not be shared across goroutines.
type Stream struct {
	buf       []byte
	fixups    []fixup
	nextLabel int
	finalized bool
}

func NewStream() *Stream {
	return &Stream{buf: make([]byte, 0, 256)}
}

// Len returns the current stream offset.
func (s *Stream) Len() int { return len(s.buf) }

// Bytes exposes the raw accumulated bytes. Before Finalize, pending fix-up
// fields still hold zeros.
func (s *Stream) Bytes() []byte { return s.buf }

// Append adds raw encoded bytes.
func (s *Stream) Append(b ...byte) { s.buf = append(s.buf, b...) }

// AppendU32 adds one little-endian 32-bit word (arm64 instruction unit).
func (s *Stream) AppendU32(w uint32) {
	s.buf = binary.LittleEndian.AppendUint32(s.buf, w)
}

// AppendU64 adds one little-endian 64-bit value.
func (s *Stream) AppendU64(v uint64) {
	s.buf = binary.LittleEndian.AppendUint64(s.buf, v)
}

// NewLabel declares a pending label owned by this stream.
func (s *Stream) NewLabel() *Label {
	l := &Label{id: s.nextLabel, owner: s}
	s.nextLabel++
	return l
}

// Bind fixes the label at the current stream offset.
func (s *Stream) Bind(l *Label) error {
	if l.owner != s {
		return fmt.Errorf("label %s: %w", l, asmerrors.ErrLForeign)
	}
	if l.bound {
		return fmt.Errorf("label %s: %w", l, asmerrors.ErrLRebound)
	}
	l.offset = len(s.buf)
	l.bound = true
	return nil
}

// AddFixup records a pending patch. Backends call it right after appending
// the instruction carrying the displacement field.
func (s *Stream) AddFixup(kind FixKind, at, end int, l *Label) error {
	if l.owner != s {
		return fmt.Errorf("label %s: %w", l, asmerrors.ErrLForeign)
	}
	s.fixups = append(s.fixups, fixup{kind: kind, at: at, end: end, label: l})
	return nil
}

// Finalize resolves every fix-up and returns the finished byte stream. A
// pending label fails with UnresolvedLabel; a bound label outside the fix-up
// kind's displacement range fails with EncodingError. Nothing is clipped.
func (s *Stream) Finalize() ([]byte, error) {
	if s.finalized {
		return s.buf, nil
	}
	for _, f := range s.fixups {
		if !f.label.bound {
			return nil, fmt.Errorf("label %s referenced at offset %d: %w", f.label, f.at, asmerrors.ErrLUnresolved)
		}
		if err := s.patch(f); err != nil {
			return nil, err
		}
	}
	s.finalized = true
	return s.buf, nil
}

func (s *Stream) patch(f fixup) error {
	delta := int64(f.label.offset - f.end)
	switch f.kind {
	case FixRel8:
		if delta < -0x80 || delta > 0x7F {
			return fmt.Errorf("rel8 branch to %s spans %d bytes: %w", f.label, delta, asmerrors.ErrEBranchRange)
		}
		s.buf[f.at] = byte(int8(delta))
	case FixRel32:
		if delta < -0x80000000 || delta > 0x7FFFFFFF {
			return fmt.Errorf("rel32 branch to %s spans %d bytes: %w", f.label, delta, asmerrors.ErrEBranchRange)
		}
		binary.LittleEndian.PutUint32(s.buf[f.at:], uint32(int32(delta)))
	case FixA64Br26, FixA64Cond19:
		if delta%4 != 0 {
			return fmt.Errorf("branch to %s is not word aligned: %w", f.label, asmerrors.ErrEBranchRange)
		}
		words := delta / 4
		word := binary.LittleEndian.Uint32(s.buf[f.at:])
		if f.kind == FixA64Br26 {
			if words < -(1<<25) || words >= 1<<25 {
				return fmt.Errorf("imm26 branch to %s spans %d bytes: %w", f.label, delta, asmerrors.ErrEBranchRange)
			}
			word |= uint32(words) & 0x03FFFFFF
		} else {
			if words < -(1<<18) || words >= 1<<18 {
				return fmt.Errorf("imm19 branch to %s spans %d bytes: %w", f.label, delta, asmerrors.ErrEBranchRange)
			}
			word |= (uint32(words) & 0x7FFFF) << 5
		}
		binary.LittleEndian.PutUint32(s.buf[f.at:], word)
	default:
		return fmt.Errorf("fixup kind %d: %w", f.kind, asmerrors.ErrUOpcode)
	}
	return nil
}

// PendingFixups returns how many fix-ups still reference an unbound label.
func (s *Stream) PendingFixups() int {
	n := 0
	for _, f := range s.fixups {
		if !f.label.bound {
			n++
		}
	}
	return n
}
