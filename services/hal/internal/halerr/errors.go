// services/hal/internal/halerr/errors.go
package halerr

import (
	"errors"

	"usarthal-go/errcode"
)

var (
	// Service/control plane
	ErrUnknownPort    = errors.New("unknown_port")
	ErrUnknownVerb    = errors.New("unknown_verb")
	ErrInvalidPayload = errors.New("invalid_payload")

	// Build/config
	ErrUnknownChip   = errors.New("unknown_chip")
	ErrDuplicatePort = errors.New("duplicate_port")
	ErrPinInUse      = errors.New("pin_in_use")
	ErrUnknownPin    = errors.New("unknown_pin")

	// Generic / pass-through
	ErrUnsupported = errors.New("unsupported")
)

// Code maps err onto the short string carried in an error reply. Driver
// errors keep their errcode; sentinels above reply with their own text.
func Code(err error) string {
	if err == nil {
		return string(errcode.OK)
	}
	for _, s := range []error{
		ErrUnknownPort, ErrUnknownVerb, ErrInvalidPayload, ErrUnknownChip,
		ErrDuplicatePort, ErrPinInUse, ErrUnknownPin, ErrUnsupported,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return string(errcode.Of(err))
}
