package asmerrors

import (
	"errors"
	"strings"
)

// Operand (O) Errors
var (
	ErrOReservedRegister = errors.New("O1|ReservedRegister: Operand references a register reserved as internal scratch.")
	ErrORoleMismatch     = errors.New("O2|RoleMismatch: Register role does not match the operand position it was issued in.")
	ErrOClassMismatch    = errors.New("O3|ClassMismatch: General-purpose register used where a vector register is required, or vice versa.")
	ErrOPinnedCollision  = errors.New("O4|PinnedCollision: Register combination collides with an architecture-pinned role (divide/shift convention).")
	ErrOBadOperandShape  = errors.New("O5|BadOperandShape: Operand list does not match any encodable shape for the opcode.")
)

// Encoding (E) Errors
var (
	ErrEDispRange    = errors.New("E1|DispRange: Memory displacement exceeds the architecture's representable range even after staging.")
	ErrEImmRange     = errors.New("E2|ImmRange: Immediate value exceeds the architecture's representable range even after staging.")
	ErrEBranchRange  = errors.New("E3|BranchRange: Branch target is outside the architecture's maximum branch displacement.")
	ErrEWidthBridge  = errors.New("E4|WidthBridge: Value of one width subset used in another width's operation without an explicit extend.")
	ErrEBadAlignment = errors.New("E5|BadAlignment: Displacement is not a multiple of the access element width on a scaled-offset architecture.")
)

// Unsupported (U) Errors
var (
	ErrUOpcode    = errors.New("U1|Opcode: Opcode has neither a native encoding nor an emulation path on the active target.")
	ErrUWidth     = errors.New("U2|Width: Requested (opcode, width) combination is not defined for the active target.")
	ErrUVecWidth  = errors.New("U3|VecWidth: Requested vector width is not in the target profile's capability mask.")
	ErrURoundMode = errors.New("U4|RoundMode: Requested rounding mode has no encoding on the active target.")
)

// Label (L) Errors
var (
	ErrLUnresolved = errors.New("L1|Unresolved: Stream finalized while a branch target remains unbound.")
	ErrLRebound    = errors.New("L2|Rebound: Label bound to a stream offset more than once.")
	ErrLForeign    = errors.New("L3|Foreign: Label belongs to a different encoding session.")
)

// InvalidOperand reports whether err is an operand-class (O) error.
func InvalidOperand(err error) bool { return hasCodeClass(err, "O") }

// EncodingError reports whether err is a range/encodability (E) error.
func EncodingError(err error) bool { return hasCodeClass(err, "E") }

// UnsupportedOperation reports whether err is an unsupported-operation (U) error.
func UnsupportedOperation(err error) bool { return hasCodeClass(err, "U") }

// UnresolvedLabel reports whether err is a label (L) error.
func UnresolvedLabel(err error) bool { return hasCodeClass(err, "L") }

func hasCodeClass(err error, class string) bool {
	for err != nil {
		code := GetErrorCode(err)
		if strings.HasPrefix(code, class) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameParts := strings.SplitN(parts[1], ":", 2)
	if len(nameParts) < 1 {
		return errStr
	}
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	parts := strings.SplitN(err.Error(), ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
