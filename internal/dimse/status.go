package dimse

import "fmt"

// Status is the status field of a DIMSE response
type Status struct {
	Code uint16
}

// Well-known status codes
const (
	StatusSuccess          uint16 = 0x0000
	StatusPending          uint16 = 0xFF00
	StatusPendingWarning   uint16 = 0xFF01 // pending, optional keys not supported
	StatusCancel           uint16 = 0xFE00
	StatusCannotUnderstand uint16 = 0xC210
	StatusOutOfResourcesIO uint16 = 0xA700
	StatusOutOfResources   uint16 = 0xA701
	StatusRefused          uint16 = 0xA702
)

// NewStatus returns a status with the given code
func NewStatus(code uint16) *Status {
	return &Status{Code: code}
}

// IsSuccess reports a terminal success
func (s *Status) IsSuccess() bool {
	return s != nil && s.Code == StatusSuccess
}

// IsPending reports an intermediate reply
func (s *Status) IsPending() bool {
	return s != nil && (s.Code == StatusPending || s.Code == StatusPendingWarning)
}

// IsWarning reports a 0xB000-range warning
func (s *Status) IsWarning() bool {
	return s != nil && s.Code&0xF000 == 0xB000
}

// IsCancel reports a cancel status
func (s *Status) IsCancel() bool {
	return s != nil && s.Code == StatusCancel
}

// String renders the code as 0xNNNN
func (s *Status) String() string {
	if s == nil {
		return "none"
	}
	return fmt.Sprintf("0x%04X", s.Code)
}
