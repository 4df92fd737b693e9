package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOf_UnwrapsCodesAndWrappers(t *testing.T) {
	require.Equal(t, OK, Of(nil))
	require.Equal(t, TooLarge, Of(TooLarge))
	require.Equal(t, InvalidState, Of(fmt.Errorf("ring: %w", InvalidState)))
	require.Equal(t, NotFound, Of(Wrap(NotFound, "begin", "baud 300")))
	require.Equal(t, Timeout, Of(fmt.Errorf("outer: %w", &E{C: Timeout, Op: "flush"})))
	require.Equal(t, Error, Of(errors.New("plain")))
}

func TestE_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Wrap(InvalidArgument, "begin", "data bits 9"))
	require.True(t, errors.Is(err, InvalidArgument))
	require.False(t, errors.Is(err, InvalidState))
	require.Equal(t, "begin: invalid_argument: data bits 9", Wrap(InvalidArgument, "begin", "data bits 9").Error())
}

func TestNum_RoundTrip(t *testing.T) {
	require.Equal(t, 0, OK.Num())
	for _, c := range []Code{InvalidArgument, InvalidState, TooLarge, NotFound, NoMemory, NotEnoughData, Timeout} {
		n := c.Num()
		if n >= 0 {
			t.Fatalf("%s: got %d want negative", c, n)
		}
		require.Equal(t, c, FromNum(n))
	}
	require.Equal(t, OK, FromNum(5))
	require.Equal(t, Error.Num(), Code("nope").Num())
	require.Equal(t, TooLarge.Num(), Num(fmt.Errorf("x: %w", TooLarge)))
}
