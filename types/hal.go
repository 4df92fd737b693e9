package types

// ------------------------
// Common HAL state (retained)
// ------------------------

type HALState struct {
	Level  string `json:"level"`  // "idle", "ready", "error", "stopped"
	Status string `json:"status"` // freeform short code
	Error  string `json:"error,omitempty"`
	TS     int64  `json:"ts_ms"`
}

// ------------------------
// HAL configuration, supplied on topic "config/hal"
// ------------------------

type HALConfig struct {
	Ports []SerialPortSpec `json:"ports"`
	// StatsEveryMS is the default period of retained stats publication.
	// Zero disables it.
	StatsEveryMS int `json:"stats_every_ms,omitempty"`
}

// SerialPortSpec describes one port the HAL owns.
type SerialPortSpec struct {
	ID string `json:"id"` // bus-visible name, e.g. "uart0"
	// Chip selects the engine family and baud table: "sim", "sim_bytes",
	// "tty", "rp2", "nrf52840", "stm32f2xx", "sc16is7xx".
	Chip string `json:"chip"`
	// Device is the OS path for "tty" or the controller instance for
	// MCU chips ("uart0").
	Device string `json:"device,omitempty"`
	// Bridge locates a port behind an I2C UART bridge.
	Bridge   *BridgeSpec `json:"bridge,omitempty"`
	Pins     SerialPins  `json:"pins,omitempty"`
	RxBuffer int         `json:"rx_buffer,omitempty"`
	TxBuffer int         `json:"tx_buffer,omitempty"`
	MaxChunk int         `json:"max_chunk,omitempty"`
	Loopback bool        `json:"loopback,omitempty"` // sim chips only

	// Default is applied with Begin when the port is built. Nil leaves the
	// port disabled until a begin control arrives.
	Default *SerialConfig `json:"default,omitempty"`
	Reader  ReaderSpec    `json:"reader,omitempty"`

	StatsEveryMS int `json:"stats_every_ms,omitempty"`
}

type BridgeSpec struct {
	Address uint16 `json:"address,omitempty"` // 7-bit; zero means 0x48
	Channel uint8  `json:"channel,omitempty"`
}

// SerialPins are GPIO numbers. Nil means not connected.
type SerialPins struct {
	TX  *int `json:"tx,omitempty"`
	RX  *int `json:"rx,omitempty"`
	CTS *int `json:"cts,omitempty"`
	RTS *int `json:"rts,omitempty"`
}

// ReaderSpec shapes how received bytes are published.
type ReaderSpec struct {
	Mode        string `json:"mode,omitempty"` // "bytes" (default) | "lines"
	MaxFrame    int    `json:"max_frame,omitempty"`
	IdleFlushMS int    `json:"idle_flush_ms,omitempty"`
	Echo        bool   `json:"echo,omitempty"` // publish writes as tx events
}

// ------------------------
// Generic replies
// ------------------------

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
