// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package sender

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/streamnet/internal/backoff"
	"github.com/nishisan-dev/streamnet/internal/model"
	"github.com/nishisan-dev/streamnet/internal/transport"
)

// dispatchRequest is what RegisterChannel turns into on its way to the
// dispatcher goroutine.
type dispatchRequest struct {
	target         model.ConnectionIdentifier
	channelID      model.ChannelIdentifier
	queueSize      int
	maxPendingAcks int
	replyTo        chan dispatchReply
}

type dispatchReply struct {
	channel *SenderChannel
	err     error
}

// dispatcher owns the target → ConnectionHandler map and creates a handler
// lazily the first time a target is seen.
type dispatcher struct {
	this    model.ThisConnectionIdentifier
	tr      transport.Transport
	limiter *backoff.AttemptLimiter
	logger  *slog.Logger

	mu       sync.Mutex
	handlers map[model.ConnectionIdentifier]*ConnectionHandler

	requests chan dispatchRequest
	done     chan struct{}
}

func newDispatcher(this model.ThisConnectionIdentifier, tr transport.Transport, limiter *backoff.AttemptLimiter, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		this:     this,
		tr:       tr,
		limiter:  limiter,
		logger:   logger,
		handlers: make(map[model.ConnectionIdentifier]*ConnectionHandler),
		requests: make(chan dispatchRequest),
		done:     make(chan struct{}),
	}
}

func (d *dispatcher) run(ctx context.Context) {
	for {
		select {
		case req := <-d.requests:
			handler := d.handlerFor(ctx, req.target)
			sc, err := handler.registerChannel(req.channelID, req.queueSize, req.maxPendingAcks)
			req.replyTo <- dispatchReply{channel: sc, err: err}

		case <-ctx.Done():
			return
		case <-d.done:
			return
		}
	}
}

func (d *dispatcher) handlerFor(ctx context.Context, target model.ConnectionIdentifier) *ConnectionHandler {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.handlers[target]
	if ok {
		return h
	}

	h = newConnectionHandler(d.this, target, d.tr, d.limiter, d.logger)
	h.start(ctx)
	d.handlers[target] = h
	return h
}

func (d *dispatcher) shutdown() {
	d.mu.Lock()
	close(d.done)
	handlers := make([]*ConnectionHandler, 0, len(d.handlers))
	for _, h := range d.handlers {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h.stop()
	}
}
