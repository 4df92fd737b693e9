//go:build !tinygo

package main

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"usarthal-go/bus"
	"usarthal-go/services/hal"
	"usarthal-go/types"
)

func TestShellFlagDefaultsOn(t *testing.T) {
	f := flag.Lookup("shell")
	require.NotNil(t, f)
	require.Equal(t, "true", f.DefValue)
	require.True(t, *runShell)
}

func TestParseWord(t *testing.T) {
	var cfg types.SerialConfig
	require.NoError(t, parseWord("even", &cfg.Parity))
	require.NoError(t, parseWord("2", &cfg.StopBits))
	require.Equal(t, types.ParityEven, cfg.Parity)
	require.Equal(t, types.StopBits2, cfg.StopBits)
	require.Error(t, parseWord("sideways", &cfg.Parity))
}

func TestShellRequestsReachHAL(t *testing.T) {
	b := bus.NewBus(32)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hal.Run(ctx, b.NewConnection("hal"), hal.Options{})
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	cfg, err := hal.Setup("loopback")
	require.NoError(t, err)
	conn := b.NewConnection("config")
	conn.Publish(conn.NewMessage(bus.T("config", "hal"), cfg, true))

	sh := newShell(b.NewConnection("shell"))
	require.NoError(t, sh.waitReady(ctx, 2*time.Second))

	rep, err := sh.request(cfg.Ports[0].ID, "stats", nil)
	require.NoError(t, err)
	_, ok := rep.(types.SerialStats)
	require.True(t, ok, "reply %#v", rep)

	_, err = sh.request("uart9", "end", nil)
	require.ErrorContains(t, err, "unknown_port")
}
