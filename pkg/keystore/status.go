package keystore

import "fmt"

// Status is a native provider status code. Zero means success.
type Status uint32

// Provider status codes. Values follow the NTE_* family so that codes read
// familiarly in diagnostics.
const (
	StatusSuccess          Status = 0
	StatusBadSignature     Status = 0x80090006
	StatusInvalidHandle    Status = 0x80090026
	StatusInvalidParameter Status = 0x80090027
	StatusNotSupported     Status = 0x80090029
	StatusBadKeyset        Status = 0x80090016
	StatusBufferTooSmall   Status = 0x80090028
	StatusInternalError    Status = 0x8009002D
)

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool { return s == StatusSuccess }

// String returns the symbolic name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusBadSignature:
		return "bad signature"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusInvalidParameter:
		return "invalid parameter"
	case StatusNotSupported:
		return "not supported"
	case StatusBadKeyset:
		return "bad keyset"
	case StatusBufferTooSmall:
		return "buffer too small"
	case StatusInternalError:
		return "internal error"
	default:
		return fmt.Sprintf("status 0x%08X", uint32(s))
	}
}
