// Package evgroup is an event group: a word of flags that handler code sets
// and threads wait on.
package evgroup

import (
	"context"
	"sync"
	"time"

	"usarthal-go/errcode"
)

type Flags uint32

type Group struct {
	mu   sync.Mutex
	bits Flags
	ch   chan struct{} // closed and replaced on every Set
}

func New() *Group { return &Group{ch: make(chan struct{})} }

// Set raises flags and wakes every waiter. Safe from handler context.
func (g *Group) Set(f Flags) {
	g.mu.Lock()
	g.bits |= f
	close(g.ch)
	g.ch = make(chan struct{})
	g.mu.Unlock()
}

func (g *Group) Clear(f Flags) {
	g.mu.Lock()
	g.bits &^= f
	g.mu.Unlock()
}

func (g *Group) Get() Flags {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// Wait blocks until any flag in mask is set and returns the set subset,
// clearing it. It returns ctx.Err() if ctx ends first.
func (g *Group) Wait(ctx context.Context, mask Flags) (Flags, error) {
	for {
		g.mu.Lock()
		if got := g.bits & mask; got != 0 {
			g.bits &^= got
			g.mu.Unlock()
			return got, nil
		}
		ch := g.ch
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// WaitTimeout is Wait bounded by d. A non-positive d is InvalidArgument;
// expiry is errcode.Timeout and consumes no flags.
func (g *Group) WaitTimeout(mask Flags, d time.Duration) (Flags, error) {
	if d <= 0 {
		return 0, errcode.InvalidArgument
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	f, err := g.Wait(ctx, mask)
	if err == context.DeadlineExceeded {
		return 0, errcode.Timeout
	}
	return f, err
}
