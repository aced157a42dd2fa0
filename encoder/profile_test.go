package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in   string
		want Target
		ok   bool
	}{
		{"x86", Target{ArchX86, V128}, true},
		{"amd64/256", Target{ArchX86, V256}, true},
		{"x86-64/512", Target{ArchX86, V512}, true},
		{"arm64", Target{ArchARM64, V128}, true},
		{"aarch64/128", Target{ArchARM64, V128}, true},
		{"a64/256", Target{ArchARM64, V256}, true},
		{"riscv", Target{}, false},
		{"x86/96", Target{}, false},
		{"x86/wide", Target{}, false},
	}
	for _, c := range cases {
		got, err := ParseTarget(c.in)
		if !c.ok {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestProfileX86Ladder(t *testing.T) {
	p, err := NewProfile(Target{ArchX86, V128}, Cap128)
	require.NoError(t, err)

	assert.Equal(t, Native, p.Support(ADD, E32, Scalar))
	assert.Equal(t, Native, p.Support(MOV, E8, Scalar))
	assert.Equal(t, NativeBridge, p.Support(ANN, E64, Scalar))
	assert.Equal(t, NativeBridge, p.Support(ORN, E32, Scalar))
	assert.Equal(t, Unsupported, p.Support(MOVSX, E64, Scalar))
	assert.Equal(t, Native, p.Support(MOVSX, E32, Scalar))

	assert.Equal(t, Native, p.Support(VADD, E32, V128))
	assert.Equal(t, Native, p.Support(VADD, E64, V128))
	assert.Equal(t, Emulated, p.Support(VMUL, E64, V128))
	assert.Equal(t, Emulated, p.Support(VMIN, E64, V128))
	assert.Equal(t, NativeBridge, p.Support(VSHR, E64, V128))
	assert.Equal(t, NativeBridge, p.Support(VCVT, E32, V128))
	assert.Equal(t, Emulated, p.Support(VCVT, E64, V128))
	assert.Equal(t, Native, p.Support(VCVN, E32, V128))
	assert.Equal(t, NativeBridge, p.Support(VCMP, E32, V128))
	assert.Equal(t, NativeBridge, p.Support(MKJ, E32, V128))

	// widths past the native rung ride the ladder
	assert.Equal(t, Emulated, p.Support(VADD, E32, V256))
	assert.Equal(t, Emulated, p.Support(VADD, E32, V512))

	// no 256-bit capability means FMA has no fused path
	assert.False(t, p.FMASingleRounding)
	assert.Equal(t, Emulated, p.Support(FMA, E32, V128))
	assert.Equal(t, "emulated double-rounding", p.FMAPath())
}

func TestProfileX86NoEVEX(t *testing.T) {
	p, err := NewProfile(Target{ArchX86, V512}, Cap128|Cap256|Cap512)
	require.NoError(t, err)
	// 512-bit packing is never emitted; the rung is always the ladder
	assert.Equal(t, Emulated, p.Support(VADD, E32, V512))
	assert.Equal(t, Native, p.Support(VADD, E32, V256))
}

func TestProfileARM64(t *testing.T) {
	// ASIMD is fixed at 128 bits; wider capability claims are discarded
	p, err := NewProfile(Target{ArchARM64, V256}, Cap128|Cap256|Cap512)
	require.NoError(t, err)
	assert.Equal(t, Cap128, p.Caps)

	assert.Equal(t, NativeBridge, p.Support(REM, E64, Scalar))
	assert.Equal(t, NativeBridge, p.Support(ADD, E8, Scalar))
	assert.Equal(t, NativeBridge, p.Support(CMP, E16, Scalar))
	assert.Equal(t, Native, p.Support(ADD, E32, Scalar))
	assert.Equal(t, Unsupported, p.Support(MOVSX, E64, Scalar))

	assert.Equal(t, Native, p.Support(VADD, E64, V128))
	assert.Equal(t, Emulated, p.Support(VMUL, E64, V128))
	assert.Equal(t, Native, p.Support(VMUL, E32, V128))
	assert.Equal(t, NativeBridge, p.Support(VCMP, E32, V128))
	assert.Equal(t, Native, p.Support(VCVT, E64, V128))
	assert.Equal(t, Emulated, p.Support(VADD, E32, V256))

	assert.True(t, p.FMASingleRounding)
	assert.Equal(t, Native, p.Support(FMA, E64, V128))
}

func TestProfileNeedsAVectorRung(t *testing.T) {
	_, err := NewProfile(Target{ArchX86, V256}, 0)
	assert.Error(t, err)
}

func TestCapMask(t *testing.T) {
	m := Cap128 | Cap256
	assert.True(t, m.Has(V128))
	assert.True(t, m.Has(V256))
	assert.False(t, m.Has(V512))
	assert.False(t, m.Has(Scalar))
	assert.Equal(t, V256, m.Widest())
	assert.Equal(t, "128 256", m.String())

	assert.Equal(t, Scalar, CapMask(0).Widest())
	assert.Equal(t, "none", CapMask(0).String())
	assert.Equal(t, V512, (Cap128 | Cap256 | Cap512).Widest())
}

func TestProbeIsStable(t *testing.T) {
	a, b := Probe(), Probe()
	assert.Equal(t, a, b)
	if a.Has(V512) {
		assert.True(t, a.Has(V256), "512-bit support implies 256")
	}
	if a != 0 {
		assert.True(t, a.Has(V128), "any vector support starts at 128")
	}
}
