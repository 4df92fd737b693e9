package halerr

import (
	"fmt"
	"testing"

	"usarthal-go/errcode"
)

func TestErrorsAreStableStrings(t *testing.T) {
	cases := map[string]error{
		"unknown_port":    ErrUnknownPort,
		"unknown_verb":    ErrUnknownVerb,
		"invalid_payload": ErrInvalidPayload,
		"unknown_chip":    ErrUnknownChip,
		"duplicate_port":  ErrDuplicatePort,
		"pin_in_use":      ErrPinInUse,
		"unknown_pin":     ErrUnknownPin,
		"unsupported":     ErrUnsupported,
	}
	for want, e := range cases {
		if e == nil || e.Error() != want {
			t.Fatalf("error %q mismatch: got %#v", want, e)
		}
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("build uart0: %w", ErrPinInUse), "pin_in_use"},
		{errcode.Wrap(errcode.InvalidState, "write", "port not enabled"), "invalid_state"},
		{fmt.Errorf("x: %w", errcode.Timeout), "timeout"},
		{fmt.Errorf("plain"), "error"},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Fatalf("Code(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
