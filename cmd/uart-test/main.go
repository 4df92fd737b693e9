// Command uart-test pushes data from one port to another and checks it
// arrives intact. On a Pico wire GP0 (uart0 TX) to GP9 (uart1 RX); other
// builds loop uart0 back to itself.
package main

import (
	"bytes"
	"context"
	"hash/fnv"
	"time"

	"usarthal-go/drivers/usart"
	"usarthal-go/services/hal"
	"usarthal-go/types"
)

const line = 115200

func main() {
	println("[uart] boot …")
	time.Sleep(1500 * time.Millisecond)

	cfg, err := hal.Setup(hal.DefaultSetup)
	if err != nil {
		println("[uart] FAIL: setup:", err.Error())
		return
	}
	ports, err := hal.NewPorts(cfg)
	if err != nil {
		println("[uart] FAIL: ports:", err.Error())
		return
	}
	defer ports.Close()

	txID, rxID := "uart0", "uart1"
	if hal.DefaultSetup == "loopback" {
		rxID = txID
	}
	tx, err := open(ports, txID)
	if err != nil {
		println("[uart] FAIL:", err.Error())
		return
	}
	rx := tx
	if rxID != txID {
		if rx, err = open(ports, rxID); err != nil {
			println("[uart] FAIL:", err.Error())
			return
		}
	}

	println("[uart] smoke: send 'hello-uart' and verify")
	if sendReceiveExact(tx, rx, []byte("hello-uart"), 3*time.Second) {
		println("[uart] smoke: PASS")
	} else {
		println("[uart] smoke: FAIL")
	}

	println("[uart] integrity: 4096 bytes, chunk 64")
	if integrityTest(tx, rx, 4096, 64, 5*time.Second) {
		println("[uart] integrity: PASS")
	} else {
		println("[uart] integrity: FAIL")
	}

	println("[uart] throughput: 5s, chunk 256, concurrent R/W")
	thrConcurrent(tx, rx, 5*time.Second, 256, 256)

	st := rx.Stats().Snapshot()
	println("[uart] rx stats: bytes=", int(st.RxBytes), " overrun=", int(st.Overrun), " rearms=", int(st.RxRearms))
}

func open(ports *hal.Ports, id string) (*usart.SerialPort, error) {
	p, err := ports.Port(id)
	if err != nil {
		return nil, err
	}
	if p.IsEnabled() {
		return p, nil
	}
	return p, p.Begin(types.SerialConfig{Baud: line})
}

func drain(rx *usart.SerialPort, tmp []byte, fn func([]byte)) {
	for {
		n, _ := rx.TryRead(tmp)
		if n == 0 {
			return
		}
		fn(tmp[:n])
	}
}

// Smoke test: send msg and verify exact match.
func sendReceiveExact(tx, rx *usart.SerialPort, msg []byte, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := tx.WriteAll(ctx, msg); err != nil {
		println("[uart] smoke: write:", err.Error())
		return false
	}

	var buf []byte
	tmp := make([]byte, 128)
	for ctx.Err() == nil {
		drain(rx, tmp, func(b []byte) { buf = append(buf, b...) })
		if bytes.Contains(buf, msg) {
			return true
		}
		_, _ = rx.WaitEventContext(ctx, types.EventReadable)
	}
	println("[uart] smoke: not found; got bytes=", len(buf))
	return false
}

// Integrity test: send a deterministic stream and compare FNV-1a hashes.
func integrityTest(tx, rx *usart.SerialPort, totalBytes, chunk int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	gen := patternGenerator(0xA5)
	txHash, rxHash := fnv.New32a(), fnv.New32a()
	out := make([]byte, chunk)
	tmp := make([]byte, 128)
	var pending []byte
	written, received := 0, 0

	for (written < totalBytes || received < totalBytes) && ctx.Err() == nil {
		if written < totalBytes {
			if len(pending) == 0 {
				k := min(chunk, totalBytes-written)
				fillPattern(out[:k], &gen)
				pending = out[:k]
			}
			n, _ := tx.TryWrite(pending)
			txHash.Write(pending[:n])
			written += n
			pending = pending[n:]
		}
		drain(rx, tmp, func(b []byte) {
			rxHash.Write(b)
			received += len(b)
		})
		wctx, wcancel := context.WithTimeout(ctx, time.Millisecond)
		_, _ = rx.WaitEventContext(wctx, types.EventReadable|types.EventWritable)
		wcancel()
	}

	println("[uart] integrity: written=", written, " received=", received)
	println("[uart] integrity: txHash=", txHash.Sum32(), " rxHash=", rxHash.Sum32())
	return written == totalBytes && received == totalBytes && txHash.Sum32() == rxHash.Sum32()
}

// Concurrent throughput test: writer and reader goroutines with a shared stop.
func thrConcurrent(tx, rx *usart.SerialPort, duration time.Duration, writeChunk, readBuf int) {
	out := make([]byte, writeChunk)
	in := make([]byte, readBuf)
	gen := patternGenerator(0x42)
	fillPattern(out, &gen)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	doneW := make(chan struct{})
	doneR := make(chan struct{})
	var written, received int

	go func() {
		defer close(doneW)
		for ctx.Err() == nil {
			n, err := tx.WriteAll(ctx, out)
			written += n
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer close(doneR)
		for {
			drain(rx, in, func(b []byte) { received += len(b) })
			if _, err := rx.WaitEventContext(ctx, types.EventReadable); err != nil {
				// Grace drain for bytes still on the wire.
				grace, gcancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
				for grace.Err() == nil {
					drain(rx, in, func(b []byte) { received += len(b) })
					_, _ = rx.WaitEventContext(grace, types.EventReadable)
				}
				gcancel()
				return
			}
		}
	}()

	<-doneW
	<-doneR

	elapsed := max(time.Since(start), time.Nanosecond)
	txBps := (int64(written) * int64(time.Second)) / int64(elapsed)
	rxBps := (int64(received) * int64(time.Second)) / int64(elapsed)

	println("[uart] throughput(concurrent): TX bytes=", written, " (~", txBps, " B/s)")
	println("[uart] throughput(concurrent): RX bytes=", received, " (~", rxBps, " B/s)")
}

// Simple deterministic pattern generator (xorshift8 over byte).
type patGen struct{ s byte }

func patternGenerator(seed byte) patGen { return patGen{s: seed} }

func (g *patGen) next() byte {
	x := g.s
	x ^= x << 3
	x ^= x >> 5
	x ^= x << 1
	g.s = x
	return x
}

func fillPattern(dst []byte, g *patGen) {
	for i := range dst {
		dst[i] = g.next()
	}
}
