package timex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"usarthal-go/errcode"
)

func TestSpinReturnsOnCondition(t *testing.T) {
	n := 0
	err := Spin(func() bool { n++; return n == 3 }, time.Second, 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestSpinTimesOut(t *testing.T) {
	start := time.Now()
	err := Spin(func() bool { return false }, 20*time.Millisecond, time.Millisecond)
	require.ErrorIs(t, err, errcode.Timeout)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestCharTime(t *testing.T) {
	require.Equal(t, time.Millisecond, CharTime(10000, 10))
	require.Equal(t, time.Duration(0), CharTime(0, 10))
}
