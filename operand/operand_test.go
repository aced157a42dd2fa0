package operand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
)

func TestReservedRegisterRejected(t *testing.T) {
	_, err := NewReg(Register{ID: 12, Reserved: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, asmerrors.ErrOReservedRegister)

	_, err = NewMem(Register{ID: 12, Reserved: true}, 8)
	assert.ErrorIs(t, err, asmerrors.ErrOReservedRegister)

	o, err := NewReg(Register{ID: 3, Class: GP})
	require.NoError(t, err)
	assert.Equal(t, KindReg, o.Kind())
	assert.Equal(t, uint8(3), o.BareReg().ID)
}

func TestMemBaseMustBeGeneralPurpose(t *testing.T) {
	_, err := NewMem(Register{ID: 2, Class: Vec}, 0)
	assert.ErrorIs(t, err, asmerrors.ErrOClassMismatch)

	m, err := NewMem(Register{ID: 5, Class: GP}, -16)
	require.NoError(t, err)
	assert.Equal(t, KindMem, m.Kind())
	assert.Equal(t, uint8(5), m.AddrBase().ID)
	assert.Equal(t, int64(-16), m.Disp())
}

func TestImmediateWidthRange(t *testing.T) {
	cases := []struct {
		v    int64
		bits uint8
		ok   bool
	}{
		{0x7F, 8, true},
		{0xFF, 8, true},
		{-0x80, 8, true},
		{0x100, 8, false},
		{-0x81, 8, false},
		{0xFFFF, 16, true},
		{0x10000, 16, false},
		{-0x80000000, 32, true},
		{0x100000000, 32, false},
		{0x100000000, 64, true},
		{1, 12, false}, // only the four canonical widths exist
	}
	for _, c := range cases {
		o, err := NewImm(c.v, c.bits)
		if !c.ok {
			assert.ErrorIs(t, err, asmerrors.ErrEImmRange, "imm %#x/%d", c.v, c.bits)
			continue
		}
		require.NoError(t, err, "imm %#x/%d", c.v, c.bits)
		assert.Equal(t, c.v, o.Imm())
		assert.Equal(t, c.bits, o.ImmWidth())
	}
}

func TestWithBaseKeepsIndexAccounting(t *testing.T) {
	m := MustMem(Register{ID: 3, Class: GP}, 1<<20)
	scratch := Register{ID: 16, Class: GP, Reserved: true}

	re := m.WithBase(scratch, 0)
	assert.Equal(t, uint8(16), re.AddrBase().ID)
	assert.Equal(t, int64(0), re.Disp())
	assert.Equal(t, int64(1<<20), re.IndexDisp())

	// the original is unchanged; operands are values
	assert.Equal(t, uint8(3), m.AddrBase().ID)
	assert.Equal(t, int64(1<<20), m.Disp())
}

func TestAddDisp(t *testing.T) {
	m := MustMem(Register{ID: 7, Class: GP}, 32)
	hi := m.AddDisp(16)
	assert.Equal(t, int64(48), hi.Disp())
	assert.Equal(t, int64(32), m.Disp())
}

func TestScratchSet(t *testing.T) {
	s := ScratchSet{Addr: 16, Value: 17, SpillBase: 27, VecPair: [2]uint8{30, 31}}

	assert.True(t, s.ContainsGP(16))
	assert.True(t, s.ContainsGP(27))
	assert.False(t, s.ContainsGP(0))
	assert.True(t, s.ContainsVec(30))
	assert.False(t, s.ContainsVec(16))

	assert.True(t, s.Contains(Register{ID: 17, Class: GP}))
	assert.False(t, s.Contains(Register{ID: 17, Class: Vec}))

	slot := s.SpillSlot(64)
	assert.Equal(t, KindMem, slot.Kind())
	assert.Equal(t, uint8(27), slot.AddrBase().ID)
	assert.True(t, slot.AddrBase().Reserved)
	assert.Equal(t, int64(64), slot.Disp())

	// a reserved base never enters through the public constructor
	_, err := NewMem(s.SpillBaseReg(), 0)
	assert.ErrorIs(t, err, asmerrors.ErrOReservedRegister)
}
