// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package sender

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nishisan-dev/streamnet/internal/model"
)

// SenderChannel is the host-facing handle returned by
// SenderService.RegisterChannel. It is valid immediately, before any
// network connection exists: TrySendData succeeds as long as the local
// queue has room.
type SenderChannel struct {
	Target    model.ConnectionIdentifier
	ChannelID model.ChannelIdentifier

	queue *commandQueue

	terminal  atomic.Bool
	closeOnce sync.Once
}

func newSenderChannel(target model.ConnectionIdentifier, channelID model.ChannelIdentifier, queueSize int) *SenderChannel {
	return &SenderChannel{
		Target:    target,
		ChannelID: channelID,
		queue:     newCommandQueue(queueSize),
	}
}

// TrySendData is non-blocking: it returns SendFull if the local queue has
// no room, SendClosed once the channel has terminated for good, and SendOK
// otherwise. On anything but SendOK, buf is handed back in the result.
func (c *SenderChannel) TrySendData(buf model.TupleBuffer) SendResult {
	if c.terminal.Load() {
		return SendResult{Status: SendClosed, Buffer: buf}
	}
	pushed, isClosed := c.queue.tryPushData(buf)
	switch {
	case pushed:
		return SendResult{Status: SendOK}
	case isClosed:
		return SendResult{Status: SendClosed, Buffer: buf}
	default:
		return SendResult{Status: SendFull, Buffer: buf}
	}
}

// Flush waits until the channel handler has taken up every command
// submitted before this call, then reports whether the channel is fully
// drained at that moment (pending_writes and wait_for_ack both empty). It
// does not wait for outstanding acks: a caller that needs every buffer
// acknowledged calls Flush again until it reports true. It returns
// ErrChannelClosed if the channel has already terminated.
func (c *SenderChannel) Flush(ctx context.Context) (bool, error) {
	if c.terminal.Load() {
		return false, ErrChannelClosed
	}
	reply := make(chan bool, 1)
	if err := c.queue.pushFlush(ctx, reply); err != nil {
		return false, err
	}
	select {
	case drained := <-reply:
		return drained, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close requests that the channel shut down gracefully. It is idempotent;
// it returns true only for the call that actually performed the close.
func (c *SenderChannel) Close() bool {
	performed := false
	c.closeOnce.Do(func() {
		c.queue.close()
		performed = true
	})
	return performed
}

// markTerminal is called by the owning connection handler once the channel
// handler has exited for good (ClosedByOtherSide, ClosedBySoftware, or
// Cancelled — never on a transient error, which triggers a retry instead).
func (c *SenderChannel) markTerminal() {
	c.terminal.Store(true)
}
