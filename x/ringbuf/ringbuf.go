// Package ringbuf provides a fixed-capacity circular buffer over caller-owned
// storage with a split-phase acquire/commit protocol for DMA engines.
//
// A RingBuffer has one producer side (Put, Acquire/AcquireCommit) and one
// consumer side (Get, Consume/ConsumeCommit). Each side may have at most one
// staged region outstanding. A staged region is granted before the transfer
// outcome is known and finalised by a commit that may be shorter than the
// grant.
//
// RingBuffer is not safe for concurrent use. The serial driver reaches it only
// through an x/irq guard, which provides the exclusion.
package ringbuf

import (
	"usarthal-go/errcode"
	"usarthal-go/x/mathx"
)

// RingBuffer is a circular buffer of T over a borrowed slice.
//
// Cursor invariants:
//   - head and tail are in [0, curSize).
//   - headPending bytes starting at head are staged by the producer.
//   - tailPending bytes starting at tail are staged by the consumer.
//   - full disambiguates head == tail; it is only set by a non-zero commit.
//   - curSize < size only after a wrapped acquire; it is restored once
//     head >= tail and the buffer is not full.
type RingBuffer[T any] struct {
	buf         []T
	size        int
	curSize     int
	head        int
	tail        int
	headPending int
	tailPending int
	full        bool
}

// New returns a RingBuffer over buf. The buffer keeps using buf for its whole
// lifetime; the caller must not touch it afterwards.
func New[T any](buf []T) *RingBuffer[T] {
	r := &RingBuffer[T]{}
	r.Init(buf)
	return r
}

// Init rebinds the buffer to storage buf and resets all cursors.
func (r *RingBuffer[T]) Init(buf []T) {
	r.buf = buf
	r.size = len(buf)
	r.Reset()
}

// Reset restores all cursors to zero. Staged regions are discarded.
func (r *RingBuffer[T]) Reset() {
	r.curSize = r.size
	r.head, r.tail = 0, 0
	r.headPending, r.tailPending = 0, 0
	r.full = false
}

// Size is the physical capacity.
func (r *RingBuffer[T]) Size() int { return r.size }

// CurSize is the current wrap boundary. It is smaller than Size only while a
// wrapped acquisition keeps the physical tail of the array out of use.
func (r *RingBuffer[T]) CurSize() int { return r.curSize }

// Full reports whether every slot up to the wrap boundary holds data.
func (r *RingBuffer[T]) Full() bool { return r.full }

// Empty reports whether no committed data is present.
func (r *RingBuffer[T]) Empty() bool { return r.used() == 0 }

// Space returns committed free capacity. It fails with InvalidState while the
// producer has a staged region.
//
// After a wrapped acquire the slots past the old head are unusable until the
// consumer drains them, so Space()+Data() equals CurSize(), which is then
// less than Size().
func (r *RingBuffer[T]) Space() (int, error) {
	if r.headPending > 0 {
		return 0, errcode.InvalidState
	}
	return r.free(), nil
}

// Data returns committed data available to the consumer. It fails with
// InvalidState while the consumer has a staged region.
func (r *RingBuffer[T]) Data() (int, error) {
	if r.tailPending > 0 {
		return 0, errcode.InvalidState
	}
	return r.used(), nil
}

func (r *RingBuffer[T]) used() int {
	switch {
	case r.full:
		return r.curSize
	case r.head >= r.tail:
		return r.head - r.tail
	default:
		return r.curSize - r.tail + r.head
	}
}

func (r *RingBuffer[T]) free() int { return r.curSize - r.used() }

// Put copies src into the buffer. The whole of src must fit.
func (r *RingBuffer[T]) Put(src []T) (int, error) {
	if r.headPending > 0 {
		return 0, errcode.InvalidState
	}
	n := len(src)
	if n == 0 {
		return 0, nil
	}
	r.AcquireBegin()
	if n > r.free() {
		return 0, errcode.TooLarge
	}
	first := mathx.Min(n, r.curSize-r.head)
	copy(r.buf[r.head:r.head+first], src[:first])
	if first < n {
		copy(r.buf[:n-first], src[first:])
	}
	r.advanceHead(n)
	return n, nil
}

// Get moves len(dst) items out of the buffer. All of them must be available.
func (r *RingBuffer[T]) Get(dst []T) (int, error) {
	n, err := r.Peek(dst)
	if err != nil || n == 0 {
		return n, err
	}
	r.advanceTail(n)
	return n, nil
}

// Peek copies len(dst) items without consuming them.
func (r *RingBuffer[T]) Peek(dst []T) (int, error) {
	if r.tailPending > 0 {
		return 0, errcode.InvalidState
	}
	n := len(dst)
	if n == 0 {
		return 0, nil
	}
	if n > r.used() {
		return 0, errcode.TooLarge
	}
	first := mathx.Min(n, r.curSize-r.tail)
	copy(dst[:first], r.buf[r.tail:r.tail+first])
	if first < n {
		copy(dst[first:n], r.buf[:n-first])
	}
	return n, nil
}

func (r *RingBuffer[T]) advanceHead(n int) {
	r.head = (r.head + n) % r.curSize
	if n > 0 && r.head == r.tail {
		r.full = true
	}
	r.restoreSize()
}

func (r *RingBuffer[T]) advanceTail(n int) {
	r.tail = (r.tail + n) % r.curSize
	if n > 0 {
		r.full = false
	}
}

// restoreSize lifts a wrap-induced curSize truncation once all committed data
// lies in [tail, head).
func (r *RingBuffer[T]) restoreSize() {
	if r.curSize == r.size || r.full {
		return
	}
	if r.head >= r.tail {
		r.curSize = r.size
	}
}
