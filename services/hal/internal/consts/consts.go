// services/hal/internal/consts/consts.go
package consts

// Topic tokens
const (
	TokConfig  = "config"
	TokHAL     = "hal"
	TokSerial  = "serial"
	TokState   = "state"
	TokStats   = "stats"
	TokControl = "control"
	TokEvent   = "event"
	TokRx      = "rx"
	TokTx      = "tx"
)

// Control verbs
const (
	CtrlBegin   = "begin"
	CtrlEnd     = "end"
	CtrlSuspend = "suspend"
	CtrlRestore = "restore"
	CtrlWrite   = "write"
	CtrlFlush   = "flush"
	CtrlStats   = "stats"
)

// Reader modes
const (
	ModeBytes = "bytes"
	ModeLines = "lines"
)

const (
	LevelIdle    = "idle"
	LevelReady   = "ready"
	LevelError   = "error"
	LevelStopped = "stopped"
)
