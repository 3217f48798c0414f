// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package receiver

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nishisan-dev/streamnet/internal/bufqueue"
	"github.com/nishisan-dev/streamnet/internal/config"
	"github.com/nishisan-dev/streamnet/internal/model"
	"github.com/nishisan-dev/streamnet/internal/protocol"
	"github.com/nishisan-dev/streamnet/internal/scoped"
	"github.com/nishisan-dev/streamnet/internal/transport"
)

// ReceiverService is the host-facing entry point on the receiving side of a
// connection: Start binds a listener, RegisterChannel admits a channel
// identifier the host expects a peer to dial, and Shutdown tears everything
// down.
type ReceiverService struct {
	this   model.ThisConnectionIdentifier
	tr     transport.Transport
	logger *slog.Logger

	ctrl     *controller
	listener transport.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool
}

// Start binds this and begins accepting connections. The returned service is
// ready for RegisterChannel calls immediately; channels registered before a
// matching ChannelRequest arrives are simply held until then.
func Start(this model.ThisConnectionIdentifier, tr transport.Transport, logger *slog.Logger) (*ReceiverService, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ln, err := tr.Bind(this)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &ReceiverService{
		this:     this,
		tr:       tr,
		logger:   logger.With("component", "receiver", "this", this.String()),
		ctrl:     newController(),
		listener: ln,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return s, nil
}

// RegisterChannel admits channelID: a ChannelRequest naming it from any
// remote endpoint will be accepted and routed to the returned handle's
// queue until the handle is closed.
func (s *ReceiverService) RegisterChannel(channelID model.ChannelIdentifier, queueSize int) (*ReceiverChannel, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}
	if queueSize <= 0 {
		queueSize = config.DefaultReceiverQueueSize
	}
	childCtx, cancel := context.WithCancel(s.ctx)
	queue := bufqueue.New(queueSize)
	rc := newReceiverChannel(channelID, queue, cancel)
	s.ctrl.register(&registeredChannel{
		channelID: channelID,
		queue:     queue,
		ctx:       childCtx,
		cancel:    cancel,
		channel:   rc,
	})
	return rc, nil
}

// Shutdown stops accepting new connections, cancels every channel and
// control-socket handler, and waits up to shutdownGrace for them to unwind.
func (s *ReceiverService) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	done := make(chan struct{})
	go func() {
		s.listener.Close()
		s.cancel()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Warn("shutdown exceeded grace period, returning without waiting further")
	}
}

func (s *ReceiverService) acceptLoop() {
	for {
		reader, writer, err := s.listener.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStream(reader, writer)
		}()
	}
}

// handleStream reads the one identification message every stream opens
// with and routes it: IAmConnection promotes the stream to a long-lived
// control-socket handler, IAmChannel hands it straight to whoever is
// waiting for that (other, channel) pair.
func (s *ReceiverService) handleStream(reader io.ReadCloser, writer io.WriteCloser) {
	r := protocol.NewReader(reader)
	w := protocol.NewWriter(writer)

	stop := scoped.CloseOnDone(s.ctx, reader, writer)
	msg, err := r.ReadMessage()
	stop()
	if err != nil {
		reader.Close()
		writer.Close()
		return
	}

	switch m := msg.(type) {
	case protocol.IAmConnection:
		if err := w.WriteMessage(protocol.IdentifyOk{}); err != nil {
			reader.Close()
			writer.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runControlSocketHandler(m.This, reader, writer)
		}()

	case protocol.IAmChannel:
		if err := w.WriteMessage(protocol.IdentifyOk{}); err != nil {
			reader.Close()
			writer.Close()
			return
		}
		if !s.ctrl.deliverDataLink(m.This, m.Channel, dataLink{reader: reader, writer: writer}) {
			s.logger.Warn("data channel stream with no pending registration", "other", m.This.String(), "channel", string(m.Channel))
			reader.Close()
			writer.Close()
		}

	default:
		s.logger.Error("unexpected identification message", "kind", msg.Kind())
		reader.Close()
		writer.Close()
	}
}

// runControlSocketHandler is the sole reader and writer of a control socket
// for the lifetime of the underlying connection. It serializes every
// ChannelRequest from that remote endpoint into an admit-or-deny decision.
func (s *ReceiverService) runControlSocketHandler(other model.ConnectionIdentifier, reader io.ReadCloser, writer io.WriteCloser) {
	defer reader.Close()
	defer writer.Close()

	r := protocol.NewReader(reader)
	w := protocol.NewWriter(writer)
	logger := s.logger.With("other", other.String(), "conn_id", uuid.NewString())

	stop := scoped.CloseOnDone(s.ctx, reader, writer)
	defer stop()

	for {
		msg, err := r.ReadMessage()
		if err != nil {
			return
		}
		req, ok := msg.(protocol.ChannelRequest)
		if !ok {
			logger.Error("unexpected message on control socket", "kind", msg.Kind())
			return
		}

		rc, ok := s.ctrl.takeRegistered(req.Channel)
		if ok && rc.ctx.Err() != nil {
			// The host closed this channel before any sender dialed it.
			ok = false
		}
		if !ok {
			if err := w.WriteMessage(protocol.ChannelDeny{}); err != nil {
				return
			}
			continue
		}

		linkCh := s.ctrl.registerPending(other, req.Channel)
		s.wg.Add(1)
		go func(rc *registeredChannel) {
			defer s.wg.Done()
			s.runChannel(rc, linkCh)
		}(rc)

		if err := w.WriteMessage(protocol.ChannelOk{Endpoint: s.this.AsPeer()}); err != nil {
			return
		}
	}
}

// runChannel waits for the data-channel stream a control-socket handler
// just admitted, then runs a channelHandler over it until it terminates or
// fails transiently. A transient failure puts the channel back into the
// registered set so a future reconnect from the sender is admitted again;
// the downstream queue and its contents survive across that boundary.
func (s *ReceiverService) runChannel(rc *registeredChannel, linkCh chan dataLink) {
	var link dataLink
	select {
	case link = <-linkCh:
	case <-rc.ctx.Done():
		return
	}

	h := newChannelHandler(rc.channelID, rc.queue, s.logger)
	outcome := h.run(rc.ctx, link.reader, link.writer)
	link.reader.Close()
	link.writer.Close()

	if outcome.terminal() {
		rc.queue.Close()
		return
	}
	s.ctrl.restoreRegistered(rc)
}
