// Firmware entry point: the HAL, config and heartbeat services on one bus,
// with received serial data echoed to the console.
package main

import (
	"context"
	"time"

	"usarthal-go/bus"
	"usarthal-go/services/config"
	"usarthal-go/services/hal"
	"usarthal-go/services/heartbeat"
	"usarthal-go/types"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot", hal.DefaultSetup)

	ctx := context.Background()
	b := bus.NewBus(16)
	ui := b.NewConnection("ui")
	rx := ui.Subscribe(bus.T("hal", "serial", "+", "event", "rx"))
	state := ui.Subscribe(bus.T("hal", "state"))

	go hal.Run(ctx, b.NewConnection("hal"), hal.Options{})
	_ = (&heartbeat.Service{}).Start(ctx, b.NewConnection("heartbeat"))
	config.NewConfigService().Start(
		context.WithValue(ctx, config.CtxDeviceKey, hal.DefaultSetup),
		b.NewConnection("config"))

	for {
		select {
		case m := <-state.Channel():
			if st, ok := m.Payload.(types.HALState); ok {
				println("hal", st.Level, st.Status, st.Error)
			}
		case m := <-rx.Channel():
			if d, ok := m.Payload.(types.SerialData); ok {
				port, _ := m.Topic[2].(string)
				println(port, "<-", string(d.Data))
			}
		}
	}
}
