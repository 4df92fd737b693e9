//go:build !tinygo

// Command usarthal runs the serial HAL on a host: ports come from a board
// setup or a JSON device file, and can be driven from an interactive shell
// or mirrored to an MQTT broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"usarthal-go/bus"
	"usarthal-go/services/bridge"
	"usarthal-go/services/config"
	"usarthal-go/services/hal"
	"usarthal-go/services/heartbeat"
)

var (
	setupName  = flag.String("setup", hal.DefaultSetup, "built-in board setup")
	configPath = flag.String("config", "", "device JSON file; overrides -setup")
	mqttBroker = flag.String("mqtt", "", "mirror HAL traffic to this broker, e.g. tcp://localhost:1883")
	mqttPrefix = flag.String("prefix", "usarthal", "remote topic prefix")
	encoding   = flag.String("encoding", bridge.EncodingJSON, "remote payload encoding: json or proto")
	runShell   = flag.Bool("shell", true, "run the interactive shell")
	evalOnly   = flag.Bool("e", false, "run the shell command given as arguments and exit")
	writeTO    = flag.Duration("write-timeout", time.Second, "bound on a blocking write control")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(64)

	go hal.Run(ctx, b.NewConnection("hal"), hal.Options{WriteTimeout: *writeTO})

	hb := &heartbeat.Service{AppID: "usarthal"}
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		glog.Exitf("heartbeat: %v", err)
	}

	if *mqttBroker != "" {
		bc := b.NewConnection("bridge")
		go bridge.Start(ctx, bc)
		bc.Publish(bc.NewMessage(bus.T("config", "bridge"), bridge.Config{
			Transport: bridge.TransportConfig{Type: "mqtt", MQTT: &bridge.MQTTConfig{Broker: *mqttBroker}},
			Prefix:    *mqttPrefix,
			Encoding:  *encoding,
		}, true))
	}

	cfg := config.NewConfigService()
	cfg.Path = *configPath
	cfgCtx := context.WithValue(ctx, config.CtxDeviceKey, *setupName)
	cfg.Start(cfgCtx, b.NewConnection("config"))

	sh := newShell(b.NewConnection("shell"))
	if err := sh.waitReady(ctx, 3*time.Second); err != nil {
		glog.Errorf("hal: %v", err)
	}

	switch {
	case *evalOnly:
		if err := sh.Process(flag.Args()...); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case *runShell:
		go func() {
			<-ctx.Done()
			sh.Close()
		}()
		sh.Run()
	default:
		<-ctx.Done()
	}
}
