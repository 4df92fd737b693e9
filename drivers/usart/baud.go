package usart

import (
	"sort"
	"strconv"

	"usarthal-go/errcode"
	"usarthal-go/x/mathx"
)

// BaudTable maps a requested baud rate to the chip's divisor register
// value. Unsupported rates fail with errcode.NotFound.
type BaudTable interface {
	Divisor(baud uint32) (uint32, error)
}

// ExactTable accepts only the listed rates.
type ExactTable map[uint32]uint32

func (t ExactTable) Divisor(baud uint32) (uint32, error) {
	if d, ok := t[baud]; ok {
		return d, nil
	}
	return 0, errcode.Wrap(errcode.NotFound, "baud", strconv.FormatUint(uint64(baud), 10))
}

// Rates lists the supported rates in ascending order.
func (t ExactTable) Rates() []uint32 {
	out := make([]uint32, 0, len(t))
	for b := range t {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OversampleTable derives the divisor from a peripheral clock as
// round(Clock / (Oversample*baud)) and rejects rates whose achieved value
// is off by more than TolPermille.
type OversampleTable struct {
	Clock       uint32
	Oversample  uint32
	MinDivisor  uint32
	MaxDivisor  uint32
	TolPermille uint32
}

func (t OversampleTable) Divisor(baud uint32) (uint32, error) {
	if baud == 0 || t.Oversample == 0 {
		return 0, errcode.Wrap(errcode.NotFound, "baud", "zero")
	}
	div := mathx.RoundDiv(uint64(t.Clock), uint64(t.Oversample)*uint64(baud))
	if div < uint64(t.MinDivisor) || (t.MaxDivisor != 0 && div > uint64(t.MaxDivisor)) || div == 0 {
		return 0, errcode.Wrap(errcode.NotFound, "baud", strconv.FormatUint(uint64(baud), 10))
	}
	got := uint64(t.Clock) / (uint64(t.Oversample) * div)
	if !mathx.WithinPermille(got, uint64(baud), uint64(t.TolPermille)) {
		return 0, errcode.Wrap(errcode.NotFound, "baud", strconv.FormatUint(uint64(baud), 10))
	}
	return uint32(div), nil
}

// AnyBaud passes the rate through as its own divisor, for engines that
// take a rate rather than a register value.
type AnyBaud struct{ Min, Max uint32 }

func (a AnyBaud) Divisor(baud uint32) (uint32, error) {
	if baud == 0 || baud < a.Min || (a.Max != 0 && baud > a.Max) {
		return 0, errcode.Wrap(errcode.NotFound, "baud", strconv.FormatUint(uint64(baud), 10))
	}
	return baud, nil
}
