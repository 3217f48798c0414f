// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package sender

import (
	"context"
	"sync"

	"github.com/nishisan-dev/streamnet/internal/model"
)

// command is one entry in a channel's software-facing queue: either a
// buffer to send, or a flush query that must observe the state left behind
// by every command ahead of it in the queue.
type command struct {
	isData     bool
	data       model.TupleBuffer
	flushReply chan bool
}

// commandQueue is the bounded queue a SenderChannel's host-facing calls feed
// into, and the channel handler's event loop drains. It follows the same
// drain-before-closed discipline as bufqueue.Queue, parameterized here over
// command instead of a bare TupleBuffer so Data and Flush share one FIFO.
type commandQueue struct {
	ch        chan command
	closed    chan struct{}
	closeOnce sync.Once
}

func newCommandQueue(capacity int) *commandQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &commandQueue{
		ch:     make(chan command, capacity),
		closed: make(chan struct{}),
	}
}

// tryPushData is the non-blocking path used by SenderChannel.TrySendData.
func (q *commandQueue) tryPushData(buf model.TupleBuffer) (pushed, isClosed bool) {
	select {
	case <-q.closed:
		return false, true
	default:
	}
	select {
	case q.ch <- command{isData: true, data: buf}:
		return true, false
	case <-q.closed:
		return false, true
	default:
		return false, false
	}
}

// pushFlush enqueues a flush query behind every command already queued.
func (q *commandQueue) pushFlush(ctx context.Context, reply chan bool) error {
	select {
	case q.ch <- command{flushReply: reply}:
		return nil
	case <-q.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pop returns the next command, or ErrChannelClosed once the queue is
// closed and drained.
func (q *commandQueue) pop(ctx context.Context) (command, error) {
	for {
		select {
		case c := <-q.ch:
			return c, nil
		default:
		}

		select {
		case c := <-q.ch:
			return c, nil
		case <-q.closed:
			select {
			case c := <-q.ch:
				return c, nil
			default:
				return command{}, ErrChannelClosed
			}
		case <-ctx.Done():
			return command{}, ctx.Err()
		}
	}
}

func (q *commandQueue) close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *commandQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
