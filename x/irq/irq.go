// Package irq models interrupt priority domains on a hosted runtime.
//
// A Line stands in for one peripheral interrupt. Thread code masks the line
// to exclude its handler; handlers raised while the line is masked (or while
// another handler on it runs) are queued and delivered in order when the
// line is released. Handlers on one line never run concurrently.
package irq

import "sync"

type Line struct {
	name    string
	mu      sync.Mutex // held while masked or while a handler runs
	pmu     sync.Mutex
	pending []func()
}

func NewLine(name string) *Line { return &Line{name: name} }

func (l *Line) Name() string { return l.name }

// Mask blocks until no handler runs on l, then keeps handlers out until
// Unmask. Masks do not nest.
func (l *Line) Mask() { l.mu.Lock() }

// Unmask delivers handlers raised while masked, then reopens the line.
func (l *Line) Unmask() { l.release() }

// Raise runs fn in handler context on l: immediately if the line is open,
// otherwise once the current holder releases it.
func (l *Line) Raise(fn func()) {
	l.pmu.Lock()
	if !l.mu.TryLock() {
		l.pending = append(l.pending, fn)
		l.pmu.Unlock()
		return
	}
	l.pmu.Unlock()
	fn()
	l.release()
}

// Pending is the number of queued handlers.
func (l *Line) Pending() int {
	l.pmu.Lock()
	defer l.pmu.Unlock()
	return len(l.pending)
}

// release runs queued handlers while still holding mu. mu is given up under
// pmu so a concurrent Raise either sees the line open or gets drained here.
func (l *Line) release() {
	for {
		l.pmu.Lock()
		if len(l.pending) == 0 {
			l.mu.Unlock()
			l.pmu.Unlock()
			return
		}
		fn := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		l.pmu.Unlock()
		fn()
	}
}

// Guarded is state owned jointly by thread code and one line's handlers.
type Guarded[T any] struct {
	line *Line
	v    T
}

func NewGuarded[T any](line *Line, v T) *Guarded[T] {
	return &Guarded[T]{line: line, v: v}
}

func (g *Guarded[T]) Line() *Line { return g.line }

// With runs fn in thread context with the line masked.
func (g *Guarded[T]) With(fn func(*T)) {
	g.line.Mask()
	defer g.line.Unmask()
	fn(&g.v)
}

// Raise runs fn in handler context.
func (g *Guarded[T]) Raise(fn func(*T)) {
	g.line.Raise(func() { fn(&g.v) })
}

// Controller groups the lines of one peripheral so a section can exclude
// every handler at once.
type Controller struct {
	lines []*Line
}

func (c *Controller) NewLine(name string) *Line {
	l := NewLine(name)
	c.lines = append(c.lines, l)
	return l
}

// Atomic runs fn with every line masked. Lines are taken in creation order
// and released in reverse.
func (c *Controller) Atomic(fn func()) {
	for _, l := range c.lines {
		l.Mask()
	}
	defer func() {
		for i := len(c.lines) - 1; i >= 0; i-- {
			c.lines[i].Unmask()
		}
	}()
	fn()
}

// With2 runs fn with both lines masked, a before b. Use it where one step
// must update both directions consistently.
func With2[A, B any](a *Guarded[A], b *Guarded[B], fn func(*A, *B)) {
	a.line.Mask()
	defer a.line.Unmask()
	b.line.Mask()
	defer b.line.Unmask()
	fn(&a.v, &b.v)
}
