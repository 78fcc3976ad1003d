package protocol

import "fmt"

// Status is an EFI-style status code.
type Status uint64

// errorBit marks error statuses.
const errorBit = 1 << 63

// Status codes.
const (
	StatusSuccess          Status = 0
	StatusLoadError        Status = errorBit | 1
	StatusInvalidParameter Status = errorBit | 2
	StatusUnsupported      Status = errorBit | 3
	StatusDeviceError      Status = errorBit | 7
	StatusNotStarted       Status = errorBit | 19
	StatusAlreadyStarted   Status = errorBit | 20
	StatusNotFound         Status = errorBit | 14
)

// IsError reports whether the status denotes an error.
func (s Status) IsError() bool {
	return s&errorBit != 0
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusLoadError:
		return "Load Error"
	case StatusInvalidParameter:
		return "Invalid Parameter"
	case StatusUnsupported:
		return "Unsupported"
	case StatusDeviceError:
		return "Device Error"
	case StatusNotFound:
		return "Not Found"
	case StatusNotStarted:
		return "Not Started"
	case StatusAlreadyStarted:
		return "Already started"
	default:
		return fmt.Sprintf("Status(%#x)", uint64(s))
	}
}
