package encoder

import (
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/neonkingfr/UniSIMD-sub001/log"
)

// CapMask is the capability bitmask: which vector widths the hardware
// supports natively. It is the only input that may change which rung of the
// native-vs-emulated ladder a profile selects.
type CapMask uint8

const (
	Cap128 CapMask = 1 << iota
	Cap256
	Cap512
)

// Has reports whether the mask carries native support for the given width.
func (m CapMask) Has(v VecWidth) bool {
	switch v {
	case V128:
		return m&Cap128 != 0
	case V256:
		return m&Cap256 != 0
	case V512:
		return m&Cap512 != 0
	}
	return false
}

// Widest returns the largest natively supported vector width, or Scalar.
func (m CapMask) Widest() VecWidth {
	switch {
	case m&Cap512 != 0:
		return V512
	case m&Cap256 != 0:
		return V256
	case m&Cap128 != 0:
		return V128
	}
	return Scalar
}

func (m CapMask) String() string {
	s := ""
	if m&Cap128 != 0 {
		s += "128 "
	}
	if m&Cap256 != 0 {
		s += "256 "
	}
	if m&Cap512 != 0 {
		s += "512 "
	}
	if s == "" {
		return "none"
	}
	return s[:len(s)-1]
}

var (
	probeOnce sync.Once
	hostCaps  CapMask
	hostFMA   bool
)

// Probe reads the hardware-reported vector support once and caches it for
// the life of the process. The result is immutable configuration; repeated
// calls return the same mask.
func Probe() CapMask {
	probeOnce.Do(detectHost)
	return hostCaps
}

// ProbeFMA reports whether the host fuses multiply-add in one rounding.
func ProbeFMA() bool {
	probeOnce.Do(detectHost)
	return hostFMA
}

func detectHost() {
	switch runtime.GOARCH {
	case "amd64":
		// the 128-bit integer paths use SSE4.1/4.2 forms (PMULLD, PCMPGTQ)
		if cpu.X86.HasSSE42 {
			hostCaps = Cap128
		}
		if cpu.X86.HasAVX2 {
			hostCaps |= Cap256
		}
		if cpu.X86.HasAVX512F {
			hostCaps |= Cap512
		}
		hostFMA = cpu.X86.HasFMA
	case "arm64":
		hostCaps = Cap128 // ASIMD is architectural on AArch64
		hostFMA = true    // FMLA/FMLS are baseline
	default:
		hostCaps = 0
		hostFMA = false
	}
	log.Info(log.ProbeMonitoring, "host vector capability", "arch", runtime.GOARCH, "widths", hostCaps.String(), "fusedFMA", hostFMA)
}
