package ringbuf

import "usarthal-go/errcode"

// Region is a staged span handed to a DMA engine: a destination on the
// producer side or a source on the consumer side. It stays valid until the
// matching commit drains it or the buffer is reset.
type Region[T any] struct {
	s   []T
	off int
}

// Slice is the staged span. Its capacity is clipped to its length so an
// engine cannot write past the grant through append.
func (g Region[T]) Slice() []T { return g.s }

// Len is the number of staged items.
func (g Region[T]) Len() int { return len(g.s) }

// Offset is the index of the first staged item in the backing array.
func (g Region[T]) Offset() int { return g.off }

// ---- producer side ----

// AcquireBegin performs producer housekeeping before a new acquisition: it
// realigns an idle empty buffer to offset zero and lifts a curSize truncation
// that is no longer needed.
func (r *RingBuffer[T]) AcquireBegin() {
	if r.headPending > 0 {
		return
	}
	if r.tailPending == 0 && r.used() == 0 {
		r.head, r.tail = 0, 0
		r.curSize = r.size
		return
	}
	r.restoreSize()
}

// Acquirable is the contiguous free run starting at head.
func (r *RingBuffer[T]) Acquirable() int {
	switch {
	case r.headPending > 0 || r.full:
		return 0
	case r.head >= r.tail:
		return r.curSize - r.head
	default:
		return r.tail - r.head
	}
}

// AcquirableWrapped is the contiguous free run at offset zero that an
// acquisition could use by wrapping early.
func (r *RingBuffer[T]) AcquirableWrapped() int {
	if r.headPending > 0 || r.full || r.head < r.tail {
		return 0
	}
	return r.tail
}

// Acquire stages n free slots for the producer. If the run after head is
// too short but the run at offset zero is long enough, the grant wraps and
// curSize shrinks to the old head until the consumer passes it. It reports
// false, without side effects, when neither run fits or a region is already
// staged.
func (r *RingBuffer[T]) Acquire(n int) (Region[T], bool) {
	if n <= 0 || r.headPending > 0 {
		return Region[T]{}, false
	}
	r.AcquireBegin()
	switch {
	case n <= r.Acquirable():
	case n <= r.AcquirableWrapped():
		r.curSize = r.head
		r.head = 0
	default:
		return Region[T]{}, false
	}
	r.headPending = n
	return Region[T]{s: r.buf[r.head : r.head+n : r.head+n], off: r.head}, true
}

// AcquirePending is the number of staged producer slots not yet committed.
func (r *RingBuffer[T]) AcquirePending() int { return r.headPending }

// AcquireCommit publishes n staged slots as data. cancel additional slots
// are released unused; cancel is only legal when n+cancel drains the staged
// region exactly. A commit larger than the staged region fails with TooLarge
// and leaves the buffer untouched.
func (r *RingBuffer[T]) AcquireCommit(n, cancel int) (int, error) {
	if err := checkCommit(n, cancel, r.headPending); err != nil {
		return 0, err
	}
	r.headPending -= n + cancel
	if n > 0 {
		r.advanceHead(n)
	} else {
		r.restoreSize()
	}
	return n, nil
}

// ---- consumer side ----

// Consumable is the contiguous committed run starting at tail.
func (r *RingBuffer[T]) Consumable() int {
	switch {
	case r.tailPending > 0:
		return 0
	case r.full || r.head < r.tail:
		return r.curSize - r.tail
	default:
		return r.head - r.tail
	}
}

// Consume stages n committed items for the consumer, e.g. as a DMA source.
// It reports false when n exceeds Consumable or a region is already staged.
func (r *RingBuffer[T]) Consume(n int) (Region[T], bool) {
	if n <= 0 || n > r.Consumable() {
		return Region[T]{}, false
	}
	r.tailPending = n
	return Region[T]{s: r.buf[r.tail : r.tail+n : r.tail+n], off: r.tail}, true
}

// ConsumePending is the number of staged consumer items not yet committed.
func (r *RingBuffer[T]) ConsumePending() int { return r.tailPending }

// ConsumeCommit releases n staged items; cancel returns the remainder to the
// buffer unconsumed under the same rule as AcquireCommit.
func (r *RingBuffer[T]) ConsumeCommit(n, cancel int) (int, error) {
	if err := checkCommit(n, cancel, r.tailPending); err != nil {
		return 0, err
	}
	r.tailPending -= n + cancel
	if n > 0 {
		r.advanceTail(n)
	}
	return n, nil
}

func checkCommit(n, cancel, pending int) error {
	if n < 0 || cancel < 0 {
		return errcode.InvalidArgument
	}
	if n+cancel > pending {
		return errcode.TooLarge
	}
	if cancel > 0 && n+cancel != pending {
		return errcode.InvalidArgument
	}
	return nil
}
