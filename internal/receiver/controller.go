// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package receiver

import (
	"context"
	"io"
	"sync"

	"github.com/nishisan-dev/streamnet/internal/bufqueue"
	"github.com/nishisan-dev/streamnet/internal/model"
)

// dataLink is the (reader, writer) pair a freshly identified data-channel
// stream hands off to whichever goroutine is waiting for it.
type dataLink struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

// pendingKey names a data channel a control-socket handler has admitted but
// whose stream hasn't arrived yet: the remote endpoint that will dial it and
// the channel identifier it negotiated.
type pendingKey struct {
	other     model.ConnectionIdentifier
	channelID model.ChannelIdentifier
}

// registeredChannel is the controller's record of a host-registered channel:
// registered[channel_id] -> (downstream_queue, cancellation_token), carried
// alongside the public handle the host holds.
type registeredChannel struct {
	channelID model.ChannelIdentifier
	queue     *bufqueue.Queue
	ctx       context.Context
	cancel    context.CancelFunc
	channel   *ReceiverChannel
}

// controller holds the two maps a receiver service needs to route inbound
// work: channels the host has registered but no one has dialed yet, and
// data-channel streams a control-socket handler has admitted and is waiting
// to hand off to a channel handler goroutine.
type controller struct {
	mu         sync.Mutex
	registered map[model.ChannelIdentifier]*registeredChannel
	pending    map[pendingKey]chan dataLink
}

func newController() *controller {
	return &controller{
		registered: make(map[model.ChannelIdentifier]*registeredChannel),
		pending:    make(map[pendingKey]chan dataLink),
	}
}

func (c *controller) register(rc *registeredChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered[rc.channelID] = rc
}

// takeRegistered removes and returns the registration for channelID, if any.
// A control-socket handler calls this on a ChannelRequest: once taken, the
// channel is "in flight" and a second ChannelRequest for the same identifier
// is denied rather than handed the same registration twice.
func (c *controller) takeRegistered(channelID model.ChannelIdentifier) (*registeredChannel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc, ok := c.registered[channelID]
	if ok {
		delete(c.registered, channelID)
	}
	return rc, ok
}

// restoreRegistered puts a channel back into the registered set after a
// transient failure, so a later reconnect attempt from the sender can be
// admitted again. It is the receiver-side analogue of RetryChannel.
func (c *controller) restoreRegistered(rc *registeredChannel) {
	c.register(rc)
}

// registerPending records that a ChannelOk has been sent for (other,
// channelID) and returns the channel its data-channel stream will be
// delivered on.
func (c *controller) registerPending(other model.ConnectionIdentifier, channelID model.ChannelIdentifier) chan dataLink {
	linkCh := make(chan dataLink, 1)
	c.mu.Lock()
	c.pending[pendingKey{other: other, channelID: channelID}] = linkCh
	c.mu.Unlock()
	return linkCh
}

// deliverDataLink hands a freshly identified data-channel stream to whoever
// registered it as pending. It returns false when no one is waiting, which
// means the stream is unsolicited and should be dropped.
func (c *controller) deliverDataLink(other model.ConnectionIdentifier, channelID model.ChannelIdentifier, link dataLink) bool {
	key := pendingKey{other: other, channelID: channelID}
	c.mu.Lock()
	linkCh, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	linkCh <- link
	return true
}
