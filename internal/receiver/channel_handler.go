// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package receiver

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/nishisan-dev/streamnet/internal/bufqueue"
	"github.com/nishisan-dev/streamnet/internal/model"
	"github.com/nishisan-dev/streamnet/internal/protocol"
)

// channelHandler is the receiver side of a single data channel. It holds at
// most one buffer at a time: while a buffer is pending delivery to the
// downstream queue it does not read the next message from the peer. A Close
// from the peer can only be observed between deliveries, never while one is
// in flight; a host that wants to abandon a channel unconditionally uses
// ReceiverChannel.Close, which cancels the handler's context directly.
type channelHandler struct {
	channelID model.ChannelIdentifier
	queue     *bufqueue.Queue
	logger    *slog.Logger
}

func newChannelHandler(channelID model.ChannelIdentifier, queue *bufqueue.Queue, logger *slog.Logger) *channelHandler {
	return &channelHandler{
		channelID: channelID,
		queue:     queue,
		logger:    logger.With("channel", string(channelID)),
	}
}

type peerEvent struct {
	msg protocol.Message
	err error
}

func (h *channelHandler) run(ctx context.Context, reader io.ReadCloser, writer io.WriteCloser) channelOutcome {
	r := protocol.NewReader(reader)
	w := protocol.NewWriter(writer)

	peerCh := make(chan peerEvent)
	go h.readPeer(ctx, r, peerCh)

	var pending *model.TupleBuffer
	pushResultCh := make(chan error, 1)
	pushInFlight := false

	watchdog := time.NewTimer(noProgressWatchdog)
	defer watchdog.Stop()
	resetWatchdog := func() {
		if !watchdog.Stop() {
			select {
			case <-watchdog.C:
			default:
			}
		}
		watchdog.Reset(noProgressWatchdog)
	}

	for {
		if pending != nil && !pushInFlight {
			pushInFlight = true
			buf := *pending
			go func() {
				err := h.queue.Push(ctx, buf)
				select {
				case pushResultCh <- err:
				case <-ctx.Done():
				}
			}()
		}

		// The peer is only read between deliveries: once a buffer is held
		// pending, the handler commits to pushing it downstream (or
		// discovering the queue is closed) before it will look at anything
		// else the peer sends.
		var peerCase chan peerEvent
		if pending == nil {
			peerCase = peerCh
		}
		var pushCase chan error
		if pushInFlight {
			pushCase = pushResultCh
		}

		select {
		case ev := <-peerCase:
			resetWatchdog()
			if ev.err != nil {
				h.logger.Warn("data channel read failed", "error", ev.err)
				return outcomeTransientError
			}
			switch m := ev.msg.(type) {
			case protocol.Data:
				buf := m.Buffer
				pending = &buf
			case protocol.Close:
				return outcomeClosedByOtherSide
			default:
				h.logger.Error("unexpected message on data channel", "kind", ev.msg.Kind())
				return outcomeTransientError
			}

		case err := <-pushCase:
			pushInFlight = false
			resetWatchdog()
			if err != nil {
				if werr := w.WriteMessage(protocol.Close{}); werr != nil {
					h.logger.Warn("failed to propagate close to peer", "error", werr)
					return outcomeClosedBySoftwareButFailedToPropagate
				}
				return outcomeClosedBySoftware
			}
			seq := pending.Sequence()
			pending = nil
			if werr := w.WriteMessage(protocol.Ack{Sequence: seq}); werr != nil {
				h.logger.Warn("data channel write failed", "error", werr)
				return outcomeTransientError
			}

		case <-watchdog.C:
			h.logger.Warn("channel handler made no progress", "holding_pending", pending != nil)
			watchdog.Reset(noProgressWatchdog)

		case <-ctx.Done():
			// ReceiverChannel.Close closes the queue before canceling; tell
			// the peer so its side of the channel ends too.
			if h.queue.Closed() {
				if werr := w.WriteMessage(protocol.Close{}); werr != nil {
					h.logger.Warn("failed to propagate close to peer", "error", werr)
					return outcomeClosedBySoftwareButFailedToPropagate
				}
				return outcomeClosedBySoftware
			}
			return outcomeCancelled
		}
	}
}

func (h *channelHandler) readPeer(ctx context.Context, r *protocol.Reader, out chan<- peerEvent) {
	for {
		msg, err := r.ReadMessage()
		select {
		case out <- peerEvent{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
