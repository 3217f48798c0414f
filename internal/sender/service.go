// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package sender

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/streamnet/internal/backoff"
	"github.com/nishisan-dev/streamnet/internal/config"
	"github.com/nishisan-dev/streamnet/internal/model"
	"github.com/nishisan-dev/streamnet/internal/transport"
)

// defaultAttemptsPerSecond caps how often this service's connection
// handlers may collectively dial out, independent of each one's own
// backoff delay.
const defaultAttemptsPerSecond = 50

// SenderService is the host-facing entry point: one instance per process
// (or per worker, in an embedding host), owning a dispatcher and every
// ConnectionHandler it spawns.
type SenderService struct {
	this   model.ThisConnectionIdentifier
	logger *slog.Logger
	disp   *dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	closed atomic.Bool
}

// Start spawns the dispatcher goroutine and returns a ready-to-use handle.
// this is advertised during identification to every connection this
// service dials out.
func Start(this model.ThisConnectionIdentifier, tr transport.Transport, logger *slog.Logger) *SenderService {
	ctx, cancel := context.WithCancel(context.Background())
	disp := newDispatcher(this, tr, backoff.NewAttemptLimiter(defaultAttemptsPerSecond), logger.With("component", "sender"))
	go disp.run(ctx)

	return &SenderService{
		this:   this,
		logger: logger.With("component", "sender"),
		disp:   disp,
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterChannel returns a SenderChannel immediately, before any network
// connection to target necessarily exists: data submitted through it is
// buffered locally until the connection and channel negotiation complete.
func (s *SenderService) RegisterChannel(channelID model.ChannelIdentifier, target model.ConnectionIdentifier, cfg ChannelConfig) (*SenderChannel, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultSenderQueueSize
	}
	maxPendingAcks := cfg.MaxPendingAcks
	if maxPendingAcks <= 0 {
		maxPendingAcks = config.DefaultMaxPendingAcks
	}

	replyTo := make(chan dispatchReply, 1)
	select {
	case s.disp.requests <- dispatchRequest{target: target, channelID: channelID, queueSize: queueSize, maxPendingAcks: maxPendingAcks, replyTo: replyTo}:
	case <-s.ctx.Done():
		return nil, ErrServiceClosed
	}

	res := <-replyTo
	return res.channel, res.err
}

// Shutdown drops every connection handler, cancels their channels, and
// waits up to the standard grace period for everything to unwind.
func (s *SenderService) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	done := make(chan struct{})
	go func() {
		s.disp.shutdown()
		s.cancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Warn("sender service shutdown exceeded grace period")
	}
}
