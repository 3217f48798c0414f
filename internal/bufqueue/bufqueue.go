// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

// Package bufqueue provides the bounded, software-facing FIFO queue used on
// both sides of a channel: sender_queue_size on the sender, receiver_queue_size
// on the receiver. It carries whole TupleBuffer values instead of byte
// ranges, since there is no notion of replaying arbitrary offsets here — a
// buffer either gets delivered once or is gone.
package bufqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/nishisan-dev/streamnet/internal/model"
)

// ErrClosed is returned by Push and Pop once the queue has been closed.
var ErrClosed = errors.New("bufqueue: closed")

// Queue is a bounded FIFO of TupleBuffer values, safe for concurrent
// producers and a single or multiple consumers.
type Queue struct {
	items     chan model.TupleBuffer
	closed    chan struct{}
	closeOnce sync.Once
}

// New returns a Queue with room for capacity buffers before Push blocks.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items:  make(chan model.TupleBuffer, capacity),
		closed: make(chan struct{}),
	}
}

// TryPush attempts a non-blocking enqueue. pushed is true on success;
// isClosed is true if the queue was already closed (pushed is then always
// false). If both are false the queue was simply full.
func (q *Queue) TryPush(buf model.TupleBuffer) (pushed, isClosed bool) {
	select {
	case <-q.closed:
		return false, true
	default:
	}
	select {
	case q.items <- buf:
		return true, false
	case <-q.closed:
		return false, true
	default:
		return false, false
	}
}

// Push enqueues buf, blocking until there is room, the queue closes, or ctx
// is canceled.
func (q *Queue) Push(ctx context.Context, buf model.TupleBuffer) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.items <- buf:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the next buffer, blocking until one is available, ctx is
// canceled, or the queue is closed and drained. Any buffers already sitting
// in the queue at the time of Close are still delivered by Pop before
// ErrClosed is returned.
func (q *Queue) Pop(ctx context.Context) (model.TupleBuffer, error) {
	for {
		select {
		case buf := <-q.items:
			return buf, nil
		default:
		}

		select {
		case buf := <-q.items:
			return buf, nil
		case <-q.closed:
			select {
			case buf := <-q.items:
				return buf, nil
			default:
				return model.TupleBuffer{}, ErrClosed
			}
		case <-ctx.Done():
			return model.TupleBuffer{}, ctx.Err()
		}
	}
}

// Len reports a snapshot of the number of buffers currently queued.
func (q *Queue) Len() int {
	return len(q.items)
}

// Close marks the queue closed. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
