package encoder

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
)

func TestLabelLifecycle(t *testing.T) {
	st := NewStream()
	l := st.NewLabel()
	assert.False(t, l.Bound())

	st.Append(0x90, 0x90)
	require.NoError(t, st.Bind(l))
	assert.True(t, l.Bound())
	assert.Equal(t, 2, l.Offset())

	assert.ErrorIs(t, st.Bind(l), asmerrors.ErrLRebound)

	other := NewStream()
	assert.ErrorIs(t, other.Bind(l), asmerrors.ErrLForeign)
	assert.ErrorIs(t, other.AddFixup(FixRel32, 0, 4, l), asmerrors.ErrLForeign)
}

func TestFinalizeUnresolved(t *testing.T) {
	st := NewStream()
	l := st.NewLabel()
	st.Append(0xE9, 0, 0, 0, 0)
	require.NoError(t, st.AddFixup(FixRel32, 1, 5, l))
	assert.Equal(t, 1, st.PendingFixups())

	_, err := st.Finalize()
	assert.ErrorIs(t, err, asmerrors.ErrLUnresolved)
}

func TestRel32Patch(t *testing.T) {
	st := NewStream()
	l := st.NewLabel()
	require.NoError(t, st.Bind(l)) // target at offset 0
	st.Append(0xE9, 0, 0, 0, 0)
	require.NoError(t, st.AddFixup(FixRel32, 1, 5, l))

	out, err := st.Finalize()
	require.NoError(t, err)
	// backward branch over the five-byte instruction itself
	assert.Equal(t, int32(-5), int32(binary.LittleEndian.Uint32(out[1:])))
}

func TestRel8Range(t *testing.T) {
	st := NewStream()
	l := st.NewLabel()
	require.NoError(t, st.Bind(l))
	for i := 0; i < 200; i++ {
		st.Append(0x90)
	}
	st.Append(0xEB, 0)
	require.NoError(t, st.AddFixup(FixRel8, st.Len()-1, st.Len(), l))

	_, err := st.Finalize()
	assert.ErrorIs(t, err, asmerrors.ErrEBranchRange)
}

func TestA64Br26Patch(t *testing.T) {
	st := NewStream()
	l := st.NewLabel()
	st.AppendU32(0x14000000) // B
	require.NoError(t, st.AddFixup(FixA64Br26, 0, 0, l))
	st.AppendU32(0xD503201F)       // NOP
	require.NoError(t, st.Bind(l)) // offset 8, two words ahead of the branch

	out, err := st.Finalize()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x14000002), binary.LittleEndian.Uint32(out[0:]))
}

func TestA64Cond19BackwardPatch(t *testing.T) {
	st := NewStream()
	l := st.NewLabel()
	require.NoError(t, st.Bind(l))
	st.AppendU32(0xD503201F)
	st.AppendU32(0x54000000) // B.EQ at offset 4
	require.NoError(t, st.AddFixup(FixA64Cond19, 4, 4, l))

	out, err := st.Finalize()
	require.NoError(t, err)
	word := binary.LittleEndian.Uint32(out[4:])
	// -1 word in imm19 bits 23:5, condition field untouched
	assert.Equal(t, uint32(0x54000000)|(0x7FFFF<<5), word)
}

func TestFinalizeIdempotent(t *testing.T) {
	st := NewStream()
	st.Append(0xC3)
	a, err := st.Finalize()
	require.NoError(t, err)
	b, err := st.Finalize()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
