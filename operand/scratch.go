package operand

// ScratchSet is the fixed per-architecture scratch-register convention.
// Addr stages computed addresses, Value materializes immediates, SpillBase
// points at the vector spill area, and VecPair holds the two vector scratch
// registers used by the emulation ladder. The set is disjoint from the
// client-visible register file and never changes for the life of a target.
type ScratchSet struct {
	Addr      uint8
	Value     uint8
	SpillBase uint8
	VecPair   [2]uint8
}

// ContainsGP reports whether id is one of the reserved general-purpose ids.
func (s ScratchSet) ContainsGP(id uint8) bool {
	return id == s.Addr || id == s.Value || id == s.SpillBase
}

// ContainsVec reports whether id is one of the reserved vector ids.
func (s ScratchSet) ContainsVec(id uint8) bool {
	return id == s.VecPair[0] || id == s.VecPair[1]
}

// Contains reports whether r falls inside the reserved set.
func (s ScratchSet) Contains(r Register) bool {
	if r.Class == Vec {
		return s.ContainsVec(r.ID)
	}
	return s.ContainsGP(r.ID)
}

// AddrReg returns the address scratch register, tagged reserved.
func (s ScratchSet) AddrReg() Register {
	return Register{ID: s.Addr, Class: GP, Reserved: true}
}

// ValueReg returns the value scratch register, tagged reserved.
func (s ScratchSet) ValueReg() Register {
	return Register{ID: s.Value, Class: GP, Reserved: true}
}

// SpillBaseReg returns the spill-area base register, tagged reserved.
func (s ScratchSet) SpillBaseReg() Register {
	return Register{ID: s.SpillBase, Class: GP, Reserved: true}
}

// VecReg returns the n-th vector scratch register, tagged reserved.
func (s ScratchSet) VecReg(n int) Register {
	return Register{ID: s.VecPair[n], Class: Vec, Reserved: true}
}

// SpillSlot returns a memory operand addressing the spill area at the given
// byte offset. Only backends construct these; the spill base is reserved and
// NewMem would reject it.
func (s ScratchSet) SpillSlot(disp int64) Operand {
	return Operand{kind: KindMem, reg: s.SpillBaseReg(), disp: disp}
}
