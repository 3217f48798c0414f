// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package receiver

import (
	"context"
	"sync"

	"github.com/nishisan-dev/streamnet/internal/bufqueue"
	"github.com/nishisan-dev/streamnet/internal/model"
)

// ReceiverChannel is the host-facing handle returned by
// ReceiverService.RegisterChannel: a downstream queue the host drains with
// Receive, and a Close the host calls when it no longer wants the channel's
// data regardless of what the peer is doing.
type ReceiverChannel struct {
	ChannelID model.ChannelIdentifier

	queue     *bufqueue.Queue
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newReceiverChannel(channelID model.ChannelIdentifier, queue *bufqueue.Queue, cancel context.CancelFunc) *ReceiverChannel {
	return &ReceiverChannel{ChannelID: channelID, queue: queue, cancel: cancel}
}

// Receive blocks until a buffer is available, ctx is canceled, or the
// channel has closed and its queue has drained.
func (c *ReceiverChannel) Receive(ctx context.Context) (model.TupleBuffer, error) {
	buf, err := c.queue.Pop(ctx)
	if err == bufqueue.ErrClosed {
		return model.TupleBuffer{}, ErrChannelClosed
	}
	return buf, err
}

// Close tells the channel the host is done consuming it. Any buffer a
// channel handler is mid-delivery of is abandoned; the peer is told Close if
// a handler is attached at the moment Close runs, otherwise it will simply
// never be admitted again.
func (c *ReceiverChannel) Close() {
	c.closeOnce.Do(func() {
		c.queue.Close()
		c.cancel()
	})
}
