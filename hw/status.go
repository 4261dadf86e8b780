package hw

import (
	"fmt"
)

// Status is the result code reported by the hardware layer.
type Status int

const (
	StatusSuccess Status = iota
	StatusENOMEM
	StatusENOSPC
	StatusEINVAL
	StatusENOSYS
	StatusENOENT
	StatusENXIO
	StatusEIO
	StatusESPIPE
	StatusECORRUPT
	StatusENOTREADY
	StatusECONFIG
	StatusEISCONN
	StatusENOTCONN
	StatusEAGAIN
	StatusEFAULT
)

var _ error = StatusEINVAL

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusENOMEM:
		return "out of memory"
	case StatusENOSPC:
		return "out of resources"
	case StatusEINVAL:
		return "invalid argument"
	case StatusENOSYS:
		return "function not implemented"
	case StatusENOENT:
		return "no such file or directory"
	case StatusENXIO:
		return "no such device or address"
	case StatusEIO:
		return "i/o error"
	case StatusESPIPE:
		return "illegal seek"
	case StatusECORRUPT:
		return "data is corrupt"
	case StatusENOTREADY:
		return "component is not ready"
	case StatusECONFIG:
		return "component is not configured"
	case StatusEISCONN:
		return "port is already connected"
	case StatusENOTCONN:
		return "port is disconnected"
	case StatusEAGAIN:
		return "resource temporarily unavailable"
	case StatusEFAULT:
		return "bad address"
	}
	return fmt.Sprintf("unknown status %d", int(s))
}

func (s Status) Error() string {
	return s.String()
}

// Err converts the status into an error value: nil on success.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return s
}
