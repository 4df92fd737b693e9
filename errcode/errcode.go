package errcode

import "errors"

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK              Code = "ok"
	InvalidArgument Code = "invalid_argument"
	InvalidState    Code = "invalid_state"
	TooLarge        Code = "too_large"
	NotFound        Code = "not_found"
	NoMemory        Code = "no_memory"
	NotEnoughData   Code = "not_enough_data"
	Timeout         Code = "timeout"
	Busy            Code = "busy"
	Unsupported     Code = "unsupported"
	InvalidPayload  Code = "invalid_payload"
	UnknownPort     Code = "unknown_port"

	Error Code = "error" // generic fallback
)

// Numeric system-error values for the C-style surface. Success is zero,
// failures are negative.
var nums = map[Code]int{
	OK:              0,
	Error:           -100,
	Busy:            -110,
	NotEnoughData:   -120,
	InvalidPayload:  -130,
	InvalidState:    -210,
	Timeout:         -220,
	InvalidArgument: -230,
	TooLarge:        -240,
	NotFound:        -250,
	UnknownPort:     -251,
	NoMemory:        -260,
	Unsupported:     -300,
}

// Num returns the negative system-error value for c (0 for OK).
// Unknown codes map to the generic Error value.
func (c Code) Num() int {
	if n, ok := nums[c]; ok {
		return n
	}
	return nums[Error]
}

// FromNum is the inverse of Num. Non-negative values map to OK.
func FromNum(n int) Code {
	if n >= 0 {
		return OK
	}
	for c, v := range nums {
		if v == n {
			return c
		}
	}
	return Error
}

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.X) match a wrapped E carrying X.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap returns an *E for code c raised by op.
func Wrap(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}

// Num is a shorthand for Of(err).Num().
func Num(err error) int { return Of(err).Num() }
