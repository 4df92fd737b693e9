package mathx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClampSwapsBounds(t *testing.T) {
	require.Equal(t, 5, Clamp(9, 5, 1))
	require.Equal(t, 1, Clamp(-3, 1, 5))
	require.Equal(t, 3, Clamp(3, 1, 5))
}

func TestDivisionHelpers(t *testing.T) {
	require.Equal(t, uint32(3), CeilDiv[uint32](7, 3))
	require.Equal(t, uint32(2), RoundDiv[uint32](7, 3))
	require.Equal(t, uint32(434), RoundDiv[uint32](50_000_000, 115200))
	require.Equal(t, uint32(0), RoundDiv[uint32](1, 0))
}

func TestWithinPermille(t *testing.T) {
	require.Equal(t, uint8(3), AbsDiff[uint8](2, 5))
	require.True(t, WithinPermille[uint32](115207, 115200, 30))
	require.False(t, WithinPermille[uint32](100000, 115200, 30))
}
