//go:build !tinygo

package hostport

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"usarthal-go/errcode"
	"usarthal-go/types"
)

func TestModeTranslatesFrame(t *testing.T) {
	m, err := Mode(types.SerialConfig{Baud: 9600, DataBits: 7, Parity: types.ParityEven, StopBits: types.StopBits2}, 9600)
	require.NoError(t, err)
	require.Equal(t, &serial.Mode{BaudRate: 9600, DataBits: 7, Parity: serial.EvenParity, StopBits: serial.TwoStopBits}, m)

	m, err = Mode(types.SerialConfig{}, 115200)
	require.NoError(t, err)
	require.Equal(t, 8, m.DataBits)
	require.Equal(t, serial.NoParity, m.Parity)
	require.Equal(t, serial.OneStopBit, m.StopBits)

	m, err = Mode(types.SerialConfig{Parity: types.ParityOdd, StopBits: types.StopBits1_5, Flow: types.FlowRTS}, 57600)
	require.NoError(t, err)
	require.Equal(t, serial.OddParity, m.Parity)
	require.Equal(t, serial.OnePointFiveStopBits, m.StopBits)
}

func TestModeRejectsCTS(t *testing.T) {
	_, err := Mode(types.SerialConfig{Flow: types.FlowRTSCTS}, 115200)
	require.ErrorIs(t, err, errcode.Unsupported)
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open("/dev/does-not-exist-usarthal")
	require.Error(t, err)
}
