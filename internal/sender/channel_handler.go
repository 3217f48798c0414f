// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package sender

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nishisan-dev/streamnet/internal/model"
	"github.com/nishisan-dev/streamnet/internal/protocol"
)

// channelHandler is the sender side of a single data channel: it owns the
// pending_writes FIFO and the wait_for_ack window, and is the sole reader
// and writer of the underlying data-channel stream for its lifetime.
//
// A fresh channelHandler is constructed on every (re)attempt; pendingWrites
// and waitForAck do not survive a reconnect, only the software-facing
// commandQueue does (see connection.go attemptChannelRegistration). Buffers
// already in flight toward the peer at the moment a connection drops are
// not redelivered.
type channelHandler struct {
	channelID      model.ChannelIdentifier
	queue          *commandQueue
	maxPendingAcks int
	logger         *slog.Logger

	pendingWrites []model.TupleBuffer
	waitForAck    map[model.OriginSequenceNumber]model.TupleBuffer
}

func newChannelHandler(channelID model.ChannelIdentifier, queue *commandQueue, maxPendingAcks int, logger *slog.Logger) *channelHandler {
	return &channelHandler{
		channelID:      channelID,
		queue:          queue,
		maxPendingAcks: maxPendingAcks,
		logger:         logger.With("channel", string(channelID)),
		waitForAck:     make(map[model.OriginSequenceNumber]model.TupleBuffer),
	}
}

type peerEvent struct {
	msg protocol.Message
	err error
}

type cmdEvent struct {
	cmd    command
	closed bool
}

type writeEvent struct {
	err error
}

// run drives the channel's send/ack event loop until it terminates, and
// reports why.
func (h *channelHandler) run(ctx context.Context, reader io.ReadCloser, writer io.WriteCloser) channelOutcome {
	r := protocol.NewReader(reader)
	w := protocol.NewWriter(writer)

	peerCh := make(chan peerEvent)
	go h.readPeer(ctx, r, peerCh)

	cmdCh := make(chan cmdEvent)
	go h.readSoftware(ctx, cmdCh)

	writeResultCh := make(chan writeEvent, 1)
	writeInFlight := false

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
		shouldReadSoftware := len(h.waitForAck) < h.maxPendingAcks
		// The peer may send an unsolicited Close at any time, independent of
		// whether anything is currently awaiting ack, so this side is always
		// read — unlike shouldReadSoftware, it is never gated on window
		// occupancy.
		shouldReadPeer := true
		shouldSendPending := len(h.pendingWrites) > 0

		if shouldSendPending && !writeInFlight {
			writeInFlight = true
			buf := h.pendingWrites[0]
			go func() {
				err := w.WriteMessage(protocol.Data{Buffer: buf})
				select {
				case writeResultCh <- writeEvent{err: err}:
				case <-ctx.Done():
				}
			}()
		}

		var softwareCase chan cmdEvent
		if shouldReadSoftware {
			softwareCase = cmdCh
		}
		var peerCase chan peerEvent
		if shouldReadPeer {
			peerCase = peerCh
		}
		var writeCase chan writeEvent
		if writeInFlight {
			writeCase = writeResultCh
		}

		select {
		case ev := <-softwareCase:
			resetWatchdog()
			if ev.closed {
				return h.closeOnSoftwareRequest(w)
			}
			if ev.cmd.isData {
				h.pendingWrites = append(h.pendingWrites, ev.cmd.data)
			} else if ev.cmd.flushReply != nil {
				drained := len(h.pendingWrites) == 0 && len(h.waitForAck) == 0
				select {
				case ev.cmd.flushReply <- drained:
				default:
				}
			}

		case ev := <-peerCase:
			resetWatchdog()
			if ev.err != nil {
				h.logger.Warn("data channel read failed", "error", ev.err)
				return outcomeTransientError
			}
			outcome, terminal := h.handlePeerMessage(ev.msg)
			if terminal {
				return outcome
			}

		case ev := <-writeCase:
			writeInFlight = false
			resetWatchdog()
			if ev.err != nil {
				h.logger.Warn("data channel write failed", "error", ev.err)
				return outcomeTransientError
			}
			buf := h.pendingWrites[0]
			h.pendingWrites = h.pendingWrites[1:]
			seq := buf.Sequence()
			if _, exists := h.waitForAck[seq]; exists {
				panic(fmt.Sprintf("sender: duplicate origin sequence %s inserted into wait_for_ack", seq))
			}
			h.waitForAck[seq] = buf

		case <-watchdog.C:
			h.logger.Warn("channel handler made no progress",
				"pending_writes", len(h.pendingWrites), "awaiting_ack", len(h.waitForAck))
			watchdog.Reset(noProgressWatchdog)

		case <-ctx.Done():
			return outcomeCancelled
		}
	}
}

// handlePeerMessage applies an Ack, Nack, or Close from the peer. The
// second return value is true when the loop must return immediately with
// the given outcome.
func (h *channelHandler) handlePeerMessage(msg protocol.Message) (channelOutcome, bool) {
	switch m := msg.(type) {
	case protocol.Ack:
		if _, ok := h.waitForAck[m.Sequence]; !ok {
			h.logger.Error("ack for sequence not in wait_for_ack window", "sequence", m.Sequence.String())
			return outcomeTransientError, true
		}
		delete(h.waitForAck, m.Sequence)
		return 0, false

	case protocol.Nack:
		buf, ok := h.waitForAck[m.Sequence]
		if !ok {
			h.logger.Error("nack for sequence not in wait_for_ack window", "sequence", m.Sequence.String())
			return outcomeTransientError, true
		}
		delete(h.waitForAck, m.Sequence)
		h.pendingWrites = append(h.pendingWrites, buf)
		return 0, false

	case protocol.Close:
		return outcomeClosedByOtherSide, true

	default:
		h.logger.Error("unexpected message on data channel", "kind", msg.Kind())
		return outcomeTransientError, true
	}
}

// closeOnSoftwareRequest attempts to propagate the local close to the peer.
// Failing to do so still ends the channel; it just means the peer will
// eventually notice via a dead connection instead of a clean Close.
func (h *channelHandler) closeOnSoftwareRequest(w *protocol.Writer) channelOutcome {
	if err := w.WriteMessage(protocol.Close{}); err != nil {
		h.logger.Warn("failed to propagate close to peer", "error", err)
		return outcomeClosedBySoftwareButFailedToPropagate
	}
	return outcomeClosedBySoftware
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

func (h *channelHandler) readSoftware(ctx context.Context, out chan<- cmdEvent) {
	for {
		cmd, err := h.queue.pop(ctx)
		if err != nil {
			select {
			case out <- cmdEvent{closed: true}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- cmdEvent{cmd: cmd}:
		case <-ctx.Done():
			return
		}
	}
}
