package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/neonkingfr/UniSIMD-sub001/a64"
	"github.com/neonkingfr/UniSIMD-sub001/asmerrors"
	"github.com/neonkingfr/UniSIMD-sub001/encoder"
	"github.com/neonkingfr/UniSIMD-sub001/x86"
)

func newTestSession(t *testing.T, target string) *encoder.Session {
	t.Helper()
	tgt, err := encoder.ParseTarget(target)
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	p, err := encoder.NewProfile(tgt, encoder.Cap128)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	var asm encoder.Assembler
	if tgt.Arch == encoder.ArchARM64 {
		asm = a64.New(p)
	} else {
		asm = x86.New(p)
	}
	s, err := encoder.NewSession(p, asm)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s
}

const countdown = `
; counts r0 down to zero
top:
  sub.64 r0, 1
  cmj.64 ne, r0, 0, top
  mov.64 r1, [r3+8]
`

func TestAssembleListing(t *testing.T) {
	for _, target := range []string{"x86", "arm64"} {
		s := newTestSession(t, target)
		if err := assemble(s, countdown); err != nil {
			t.Fatalf("%s: %v", target, err)
		}
		out, err := s.Finalize()
		if err != nil {
			t.Fatalf("%s finalize: %v", target, err)
		}
		if len(out) == 0 {
			t.Fatalf("%s produced no bytes", target)
		}
	}
}

func TestAssembleWidthBridges(t *testing.T) {
	s := newTestSession(t, "x86")
	src := `
  movzx.16 r0, r1
  movsx.8 r3, [r6-4]
`
	if err := assemble(s, src); err != nil {
		t.Fatalf("%v", err)
	}
	if _, err := s.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
}

func TestAssembleErrors(t *testing.T) {
	cases := []struct {
		src  string
		frag string
	}{
		{"frob.32 r0, r1", "unknown mnemonic"},
		{"add r0, r1", "width suffix"},
		{"cmj.64 sideways, r0, r1, top", "unknown condition"},
		{"mov.64 r99, 1", "not client-visible"},
		{"add.64 r0, [v2]", "must be a register"},
	}
	for _, c := range cases {
		s := newTestSession(t, "x86")
		err := assemble(s, c.src)
		if err == nil || !strings.Contains(err.Error(), c.frag) {
			t.Fatalf("%q: got %v, want error containing %q", c.src, err, c.frag)
		}
	}
}

func TestAssembleReservedRegister(t *testing.T) {
	// r10 is the value scratch on x86-64 and never client-visible
	s := newTestSession(t, "x86")
	err := assemble(s, "mov.64 r10, 0")
	if !errors.Is(err, asmerrors.ErrOReservedRegister) {
		t.Fatalf("scratch register accepted: %v", err)
	}
}

func TestAssembleUnboundLabel(t *testing.T) {
	s := newTestSession(t, "arm64")
	if err := assemble(s, "jmp nowhere"); err != nil {
		t.Fatalf("%v", err)
	}
	if _, err := s.Finalize(); !errors.Is(err, asmerrors.ErrLUnresolved) {
		t.Fatalf("finalize with unbound label: %v", err)
	}
}
