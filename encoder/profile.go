package encoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/log"
)

// Arch identifies a backend.
type Arch uint8

const (
	ArchX86 Arch = iota
	ArchARM64
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchARM64:
		return "arm64"
	}
	return fmt.Sprintf("arch(%d)", uint8(a))
}

// Target is the selector handed in by build/configuration tooling: which
// architecture and which active vector-width profile to encode for.
type Target struct {
	Arch     Arch
	VecWidth VecWidth
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%d", t.Arch, t.VecWidth)
}

// ParseTarget parses "x86/256"-style selectors.
func ParseTarget(s string) (Target, error) {
	parts := strings.SplitN(s, "/", 2)
	var t Target
	switch strings.ToLower(parts[0]) {
	case "x86", "x86-64", "amd64":
		t.Arch = ArchX86
	case "arm64", "aarch64", "a64":
		t.Arch = ArchARM64
	default:
		return t, fmt.Errorf("unknown architecture %q", parts[0])
	}
	t.VecWidth = V128
	if len(parts) == 2 {
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return t, fmt.Errorf("bad vector width %q: %v", parts[1], err)
		}
		switch VecWidth(n) {
		case V128, V256, V512:
			t.VecWidth = VecWidth(n)
		default:
			return t, fmt.Errorf("bad vector width %d", n)
		}
	}
	return t, nil
}

// Support is one rung of the native-vs-emulated ladder.
type Support uint8

const (
	Unsupported  Support = iota
	Native               // single native instruction
	NativeBridge         // native instructions plus a short composed sequence
	Emulated             // decomposed through narrower widths / scratch memory
)

func (s Support) String() string {
	switch s {
	case Native:
		return "native"
	case NativeBridge:
		return "native+bridge"
	case Emulated:
		return "emulated"
	}
	return "unsupported"
}

type opKey struct {
	op   Op
	elem Width
	vec  VecWidth
}

// Profile is the immutable per-target lowering table: for every (opcode,
// width class) it records which ladder rung applies. Built once from the
// target selector and the capability mask, read-only afterwards, safe to
// share across concurrent sessions.
type Profile struct {
	Target Target
	Caps   CapMask

	// FMASingleRounding records whether FMA/FMS round once (native fused
	// instruction) or twice (emulated multiply-then-add). A documented
	// semantic difference, not an error condition.
	FMASingleRounding bool

	table map[opKey]Support
}

// NewProfile builds the lowering table for target given the capability mask.
// The requested vector width must be reachable: natively, or through the
// emulation ladder's narrower rungs.
func NewProfile(t Target, caps CapMask) (*Profile, error) {
	if t.Arch == ArchARM64 {
		// ASIMD is fixed 128-bit; wider widths ride the ladder.
		caps &= Cap128
	}
	if t.VecWidth != Scalar && !caps.Has(V128) {
		return nil, fmt.Errorf("target %s has no native vector rung at all: %w", t, asmerrors.ErrUVecWidth)
	}

	p := &Profile{
		Target: t,
		Caps:   caps,
		table:  make(map[opKey]Support),
	}
	switch t.Arch {
	case ArchX86:
		p.FMASingleRounding = caps.Has(V256) && ProbeFMA() // FMA3 ships with AVX2-era cores
	case ArchARM64:
		p.FMASingleRounding = true
	}
	p.build()
	log.Info(log.ProbeMonitoring, "encoding profile built", "target", t.String(), "caps", caps.String(), "fmaSingleRounding", p.FMASingleRounding)
	return p, nil
}

// Support returns the ladder rung for (op, elem, vec).
func (p *Profile) Support(op Op, elem Width, vec VecWidth) Support {
	return p.table[opKey{op, elem, vec}]
}

// FMAPath names the active fused-multiply-add path for callers that must
// know whether results round once or twice.
func (p *Profile) FMAPath() string {
	if p.FMASingleRounding {
		return "native single-rounding"
	}
	return "emulated double-rounding"
}

func (p *Profile) build() {
	scalarOps := []Op{MOV, MOVSX, MOVZX, NOT, AND, ANN, ORR, ORN, XOR, NEG, ADD, SUB, SHL, SHR, SAR, ROR, MUL, DIV, REM, CMP, JMP, CMJ, ARJ}
	for _, op := range scalarOps {
		for _, e := range []Width{E8, E16, E32, E64} {
			p.table[opKey{op, e, Scalar}] = p.scalarSupport(op, e)
		}
	}
	vectorOps := []Op{VAND, VANN, VORR, VORN, VXOR, VNOT, VADD, VSUB, VMUL, VMIN, VMAX, VCMP, VCVT, VCVN, VSHL, VSHR, FMA, FMS, MKJ}
	for _, op := range vectorOps {
		for _, e := range []Width{E32, E64} {
			for _, v := range []VecWidth{V128, V256, V512} {
				p.table[opKey{op, e, v}] = p.vectorSupport(op, e, v)
			}
		}
	}
}

func (p *Profile) scalarSupport(op Op, e Width) Support {
	switch p.Target.Arch {
	case ArchX86:
		switch op {
		case ANN, ORN:
			// composed from NOT plus AND/OR through scratch
			return NativeBridge
		case MOVSX:
			if e == E64 {
				return Unsupported // nothing wider to extend into
			}
		}
		return Native
	case ArchARM64:
		switch {
		case op == REM:
			return NativeBridge // SDIV/UDIV then MSUB
		case op == MOVSX && e == E64:
			return Unsupported
		case e == E8 || e == E16:
			// ALU is 32/64-bit; narrow widths ride extend bridges
			return NativeBridge
		}
		return Native
	}
	return Unsupported
}

func (p *Profile) vectorSupport(op Op, e Width, v VecWidth) Support {
	if !p.Caps.Has(V128) {
		return Unsupported
	}
	if !p.Caps.Has(v) {
		// ladder: decompose into halves until a native rung is reached
		return Emulated
	}
	switch p.Target.Arch {
	case ArchX86:
		if v == V512 {
			// no EVEX packing; 512-bit always rides the ladder as 256 pairs
			return Emulated
		}
		switch op {
		case VMUL, VMIN, VMAX:
			if e == E64 {
				return Emulated // no packed 64-bit lane form below AVX-512DQ
			}
		case FMA, FMS:
			if !p.FMASingleRounding {
				return Emulated
			}
			return Native
		case VCVT, VCVN:
			if e == E64 {
				return Emulated // 64-bit lane converts arrive with AVX-512
			}
			if op == VCVT {
				return NativeBridge // directed roundings compose ROUNDPS+CVTT
			}
			return Native
		case VCMP, MKJ, VANN, VORN, VNOT:
			return NativeBridge
		case VSHR:
			if e == E64 {
				return NativeBridge // arithmetic 64-bit shift is composed
			}
		}
		return Native
	case ArchARM64:
		switch op {
		case VMUL, VMIN, VMAX:
			if e == E64 {
				return Emulated // MUL/SMIN/UMAX lanes stop at 32 bits
			}
		case VCMP, MKJ:
			return NativeBridge
		}
		return Native
	}
	return Unsupported
}
