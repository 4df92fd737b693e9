package types

import (
	"encoding/json"
	"strconv"
)

// ------------------------
// Serial frame
// ------------------------

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

func (p Parity) MarshalJSON() ([]byte, error) { return []byte(`"` + p.String() + `"`), nil }

func (p *Parity) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "", "none":
		*p = ParityNone
	case "even":
		*p = ParityEven
	case "odd":
		*p = ParityOdd
	default:
		return &json.UnsupportedValueError{Str: s}
	}
	return nil
}

type StopBits uint8

const (
	StopBits1 StopBits = iota
	StopBits1_5
	StopBits2
)

func (s StopBits) String() string {
	switch s {
	case StopBits1_5:
		return "1.5"
	case StopBits2:
		return "2"
	default:
		return "1"
	}
}

// halfBits is the stop length in half-bit periods.
func (s StopBits) halfBits() int {
	switch s {
	case StopBits1_5:
		return 3
	case StopBits2:
		return 4
	default:
		return 2
	}
}

func (s StopBits) MarshalJSON() ([]byte, error) { return []byte(`"` + s.String() + `"`), nil }

// UnmarshalJSON accepts "1", "1.5", "2" or the bare numbers.
func (s *StopBits) UnmarshalJSON(b []byte) error {
	str := string(b)
	if uq, err := strconv.Unquote(str); err == nil {
		str = uq
	}
	switch str {
	case "", "1":
		*s = StopBits1
	case "1.5":
		*s = StopBits1_5
	case "2":
		*s = StopBits2
	default:
		return &json.UnsupportedValueError{Str: str}
	}
	return nil
}

type FlowControl uint8

const (
	FlowNone FlowControl = iota
	FlowCTS
	FlowRTS
	FlowRTSCTS
)

func (f FlowControl) String() string {
	switch f {
	case FlowCTS:
		return "cts"
	case FlowRTS:
		return "rts"
	case FlowRTSCTS:
		return "rts_cts"
	default:
		return "none"
	}
}

func (f FlowControl) RTS() bool { return f == FlowRTS || f == FlowRTSCTS }
func (f FlowControl) CTS() bool { return f == FlowCTS || f == FlowRTSCTS }

func (f FlowControl) MarshalJSON() ([]byte, error) { return []byte(`"` + f.String() + `"`), nil }

func (f *FlowControl) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "", "none":
		*f = FlowNone
	case "cts":
		*f = FlowCTS
	case "rts":
		*f = FlowRTS
	case "rts_cts":
		*f = FlowRTSCTS
	default:
		return &json.UnsupportedValueError{Str: s}
	}
	return nil
}

// SerialConfig is the line configuration passed to Begin. Zero DataBits
// means 8.
type SerialConfig struct {
	Baud     uint32      `json:"baud"`
	DataBits uint8       `json:"data_bits,omitempty"`
	StopBits StopBits    `json:"stop_bits"`
	Parity   Parity      `json:"parity"`
	Flow     FlowControl `json:"flow"`
}

func (c SerialConfig) Bits() uint8 {
	if c.DataBits == 0 {
		return 8
	}
	return c.DataBits
}

// FrameBits is the on-wire length of one character, rounded up to whole
// bits: start + data + parity + stop.
func (c SerialConfig) FrameBits() int {
	n := 1 + int(c.Bits()) + (c.StopBits.halfBits()+1)/2
	if c.Parity != ParityNone {
		n++
	}
	return n
}

// ------------------------
// Port state and events
// ------------------------

type SerialState uint8

const (
	SerialDisabled SerialState = iota
	SerialEnabled
	SerialSuspended
)

func (s SerialState) String() string {
	switch s {
	case SerialEnabled:
		return "enabled"
	case SerialSuspended:
		return "suspended"
	default:
		return "disabled"
	}
}

func (s SerialState) MarshalJSON() ([]byte, error) { return []byte(`"` + s.String() + `"`), nil }

// EventFlags select the readiness conditions WaitEvent blocks on.
type EventFlags uint32

const (
	EventReadable EventFlags = 1 << iota
	EventWritable
)

// ------------------------
// Bus payloads
// ------------------------

type SerialWrite struct {
	Data []byte `json:"data"`
	// Block waits for the whole payload to be queued.
	Block bool `json:"block,omitempty"`
}

type SerialWriteReply struct {
	OK bool `json:"ok"`
	N  int  `json:"n"`
}

// SerialData is a chunk seen on the line, published on event/rx or, when
// echo is enabled, event/tx.
type SerialData struct {
	Data []byte `json:"data"`
	TS   int64  `json:"ts_ms"`
}

type SerialStatus struct {
	State  SerialState  `json:"state"`
	Config SerialConfig `json:"config"`
	TS     int64        `json:"ts_ms"`
}

type SerialStats struct {
	RxBytes  uint64 `json:"rx_bytes"`
	TxBytes  uint64 `json:"tx_bytes"`
	Overrun  uint32 `json:"overrun"`
	Framing  uint32 `json:"framing"`
	Parity   uint32 `json:"parity"`
	Break    uint32 `json:"break"`
	RxRearms uint32 `json:"rx_rearms"`
	Clamped  uint32 `json:"clamped"`
	Timeouts uint32 `json:"timeouts"`
	Wakeups  uint32 `json:"wakeups"`
	TS       int64  `json:"ts_ms"`
}
