// Package timex holds small time helpers shared by drivers and services.
package timex

import (
	"runtime"
	"time"

	"usarthal-go/errcode"
)

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// Spin polls cond until it reports true or timeout elapses. A zero tick
// yields the processor between polls instead of sleeping. It returns
// errcode.Timeout on expiry.
func Spin(cond func() bool, timeout, tick time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if !time.Now().Before(deadline) {
			return errcode.Timeout
		}
		if tick > 0 {
			time.Sleep(tick)
		} else {
			runtime.Gosched()
		}
	}
	return nil
}

// CharTime is the on-wire duration of one frame of bits at baud.
func CharTime(baud uint32, bits int) time.Duration {
	if baud == 0 {
		return 0
	}
	return time.Duration(int64(bits) * int64(time.Second) / int64(baud))
}
