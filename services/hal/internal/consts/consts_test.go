package consts

import "testing"

func TestTokens(t *testing.T) {
	if TokConfig != "config" || TokHAL != "hal" || TokSerial != "serial" {
		t.Fatal("top-level tokens changed unexpectedly")
	}
	for want, got := range map[string]string{
		"begin": CtrlBegin, "end": CtrlEnd, "suspend": CtrlSuspend,
		"restore": CtrlRestore, "write": CtrlWrite, "flush": CtrlFlush,
	} {
		if got != want {
			t.Fatalf("control verb %q changed to %q", want, got)
		}
	}
}
