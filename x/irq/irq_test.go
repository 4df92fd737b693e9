package irq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRaiseRunsImmediatelyWhenOpen(t *testing.T) {
	l := NewLine("rx")
	ran := false
	l.Raise(func() { ran = true })
	require.True(t, ran)
	require.Equal(t, 0, l.Pending())
}

func TestRaiseWhileMaskedIsDeferredUntilUnmask(t *testing.T) {
	l := NewLine("tx")
	var order []int
	l.Mask()
	l.Raise(func() { order = append(order, 1) })
	l.Raise(func() { order = append(order, 2) })
	require.Empty(t, order)
	require.Equal(t, 2, l.Pending())
	l.Unmask()
	require.Equal(t, []int{1, 2}, order)
}

func TestNestedRaiseFromHandlerRunsAfterIt(t *testing.T) {
	l := NewLine("tx")
	var order []string
	l.Raise(func() {
		l.Raise(func() { order = append(order, "inner") })
		order = append(order, "outer")
	})
	require.Equal(t, []string{"outer", "inner"}, order)
}

func TestGuardedExcludesConcurrentHandlers(t *testing.T) {
	g := NewGuarded(NewLine("rx"), 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				g.Raise(func(v *int) { *v++ })
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				g.With(func(v *int) { *v++ })
			}
		}()
	}
	wg.Wait()

	var got int
	require.Eventually(t, func() bool {
		g.With(func(v *int) { got = *v })
		return got == 8000
	}, time.Second, time.Millisecond)
}

func TestAtomicMasksAllLines(t *testing.T) {
	var c Controller
	rx, tx := c.NewLine("rx"), c.NewLine("tx")
	hits := 0
	c.Atomic(func() {
		rx.Raise(func() { hits++ })
		tx.Raise(func() { hits++ })
		require.Equal(t, 0, hits)
	})
	require.Equal(t, 2, hits)
}
