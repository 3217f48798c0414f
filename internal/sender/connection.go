// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package sender

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nishisan-dev/streamnet/internal/backoff"
	"github.com/nishisan-dev/streamnet/internal/model"
	"github.com/nishisan-dev/streamnet/internal/protocol"
	"github.com/nishisan-dev/streamnet/internal/scoped"
	"github.com/nishisan-dev/streamnet/internal/transport"
)

// connCommand is either a fresh registration request from the host or a
// retry request produced when a channel handler ends with a transient
// error.
type connCommand interface{ isConnCommand() }

type registerChannelCmd struct {
	channelID      model.ChannelIdentifier
	queueSize      int
	maxPendingAcks int
	replyTo        chan *SenderChannel
}

func (registerChannelCmd) isConnCommand() {}

type retryChannelCmd struct {
	pending *pendingChannel
}

func (retryChannelCmd) isConnCommand() {}

// pendingChannel is the state that survives across reconnect attempts for
// one channel: the cancellation scope and the software-facing queue. The
// pendingWrites/waitForAck state inside a channelHandler does not survive;
// see channel_handler.go's doc comment.
type pendingChannel struct {
	id             model.ChannelIdentifier
	ctx            context.Context
	queue          *commandQueue
	maxPendingAcks int
	channel        *SenderChannel
}

type controlRequest struct {
	replyTo chan controlLinkResult
}

type controlLinkResult struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

type negotiationKind int

const (
	negotiationOk negotiationKind = iota
	negotiationReject
	negotiationBadConnection
)

type negotiationRequest struct {
	channelID model.ChannelIdentifier
	replyTo   chan negotiationResult
}

type negotiationResult struct {
	kind     negotiationKind
	endpoint model.ConnectionIdentifier
	err      error
}

// ConnectionHandler owns everything for one remote target: the keepalive
// task that maintains the physical control socket, the negotiator task that
// is the socket's sole owner, the main loop that dispatches RegisterChannel
// and RetryChannel, and one channelHandler goroutine per live channel.
type ConnectionHandler struct {
	this    model.ThisConnectionIdentifier
	target  model.ConnectionIdentifier
	tr      transport.Transport
	limiter *backoff.AttemptLimiter
	logger  *slog.Logger

	commands   chan connCommand
	controlReq chan controlRequest
	negotiate  chan negotiationRequest

	tokens    scoped.Tokens
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newConnectionHandler(this model.ThisConnectionIdentifier, target model.ConnectionIdentifier, tr transport.Transport, limiter *backoff.AttemptLimiter, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		this:       this,
		target:     target,
		tr:         tr,
		limiter:    limiter,
		logger:     logger.With("target", target.String(), "conn_id", uuid.NewString()),
		commands:   make(chan connCommand, 16),
		controlReq: make(chan controlRequest),
		negotiate:  make(chan negotiationRequest, 16),
		done:       make(chan struct{}),
	}
}

func (ch *ConnectionHandler) start(ctx context.Context) {
	ch.wg.Add(3)
	go func() { defer ch.wg.Done(); ch.keepalive(ctx) }()
	go func() { defer ch.wg.Done(); ch.negotiator(ctx) }()
	go func() { defer ch.wg.Done(); ch.mainLoop(ctx) }()
}

// stop cancels every channel scoped to this connection and waits for the
// three core tasks to return.
func (ch *ConnectionHandler) stop() {
	ch.closeOnce.Do(func() { close(ch.done) })
	ch.tokens.Close()
	ch.wg.Wait()
}

func (ch *ConnectionHandler) registerChannel(channelID model.ChannelIdentifier, queueSize, maxPendingAcks int) (*SenderChannel, error) {
	replyTo := make(chan *SenderChannel, 1)
	select {
	case ch.commands <- registerChannelCmd{channelID: channelID, queueSize: queueSize, maxPendingAcks: maxPendingAcks, replyTo: replyTo}:
	case <-ch.done:
		return nil, ErrServiceClosed
	}
	return <-replyTo, nil
}

func (ch *ConnectionHandler) mainLoop(ctx context.Context) {
	for {
		select {
		case cmd := <-ch.commands:
			switch c := cmd.(type) {
			case registerChannelCmd:
				sc := newSenderChannel(ch.target, c.channelID, c.queueSize)
				childCtx := ch.tokens.NewChild(ctx)
				pending := &pendingChannel{
					id:             c.channelID,
					ctx:            childCtx,
					queue:          sc.queue,
					maxPendingAcks: c.maxPendingAcks,
					channel:        sc,
				}
				go ch.attemptChannelRegistration(pending)
				c.replyTo <- sc

			case retryChannelCmd:
				go ch.attemptChannelRegistration(c.pending)
			}

		case <-ctx.Done():
			return
		case <-ch.done:
			return
		}
	}
}

// attemptChannelRegistration repeatedly asks the negotiator to establish
// the channel, backing off between tries, until it either gets a live data
// channel running or its scope is canceled.
func (ch *ConnectionHandler) attemptChannelRegistration(pending *pendingChannel) {
	seq := backoff.ChannelRegistration.New()

	for {
		select {
		case <-pending.ctx.Done():
			return
		default:
		}

		replyTo := make(chan negotiationResult, 1)
		select {
		case ch.negotiate <- negotiationRequest{channelID: pending.id, replyTo: replyTo}:
		case <-pending.ctx.Done():
			return
		case <-ch.done:
			return
		}

		var result negotiationResult
		select {
		case result = <-replyTo:
		case <-pending.ctx.Done():
			return
		}

		if result.kind == negotiationOk {
			outcome := ch.runChannel(pending, result.endpoint)
			if outcome.terminal() {
				pending.channel.markTerminal()
				return
			}
			select {
			case ch.commands <- retryChannelCmd{pending: pending}:
			case <-pending.ctx.Done():
			case <-ch.done:
			}
			return
		}

		ch.logger.Warn("channel negotiation did not succeed", "channel", pending.id, "reason", result.err)
		delay, _ := seq.Next()
		if err := backoff.Sleep(pending.ctx, delay); err != nil {
			return
		}
	}
}

// runChannel dials the data-channel stream, identifies it, and hands off to
// a fresh channelHandler for the rest of its lifetime.
func (ch *ConnectionHandler) runChannel(pending *pendingChannel, endpoint model.ConnectionIdentifier) channelOutcome {
	if err := ch.limiter.Wait(pending.ctx); err != nil {
		return outcomeCancelled
	}

	reader, writer, err := ch.tr.Connect(pending.ctx, endpoint)
	if err != nil {
		ch.logger.Warn("data channel connect failed", "channel", pending.id, "error", err)
		return outcomeTransientError
	}

	stop := scoped.CloseOnDone(pending.ctx, reader, writer)
	err = identifyAsChannel(reader, writer, ch.this, pending.id)
	stop()
	if err != nil {
		reader.Close()
		writer.Close()
		ch.logger.Warn("data channel identification failed", "channel", pending.id, "error", err)
		return outcomeTransientError
	}

	handler := newChannelHandler(pending.id, pending.queue, pending.maxPendingAcks, ch.logger)
	outcome := handler.run(pending.ctx, reader, writer)
	reader.Close()
	writer.Close()
	return outcome
}

// keepalive owns the physical control socket's lifecycle: one request at a
// time, reconnecting with backoff.ConnectIdentify on failure.
func (ch *ConnectionHandler) keepalive(ctx context.Context) {
	for {
		select {
		case req := <-ch.controlReq:
			ch.serveControlRequest(ctx, req)
		case <-ctx.Done():
			return
		case <-ch.done:
			return
		}
	}
}

func (ch *ConnectionHandler) serveControlRequest(ctx context.Context, req controlRequest) {
	seq := backoff.ConnectIdentify.New()

	for {
		if err := ch.limiter.Wait(ctx); err != nil {
			return
		}

		reader, writer, err := ch.tr.Connect(ctx, ch.target)
		if err == nil {
			stop := scoped.CloseOnDone(ctx, reader, writer)
			err = identifyAsConnection(reader, writer, ch.this)
			stop()
			if err == nil {
				select {
				case req.replyTo <- controlLinkResult{reader: reader, writer: writer}:
					return
				case <-ctx.Done():
					reader.Close()
					writer.Close()
					return
				}
			}
			reader.Close()
			writer.Close()
		}

		ch.logger.Warn("control channel connect failed, retrying", "error", err)
		delay, _ := seq.Next()
		if err := backoff.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// negotiator is the single owner of the control socket: it fetches a fresh
// one from the keepalive task, then serializes every channel-request
// handshake through it until an I/O error forces it to fetch a new one.
func (ch *ConnectionHandler) negotiator(ctx context.Context) {
	for {
		reader, writer, ok := ch.fetchControlLink(ctx)
		if !ok {
			return
		}
		ch.serveNegotiations(ctx, reader, writer)
		reader.Close()
		writer.Close()
	}
}

func (ch *ConnectionHandler) fetchControlLink(ctx context.Context) (io.ReadCloser, io.WriteCloser, bool) {
	replyTo := make(chan controlLinkResult, 1)
	select {
	case ch.controlReq <- controlRequest{replyTo: replyTo}:
	case <-ctx.Done():
		return nil, nil, false
	case <-ch.done:
		return nil, nil, false
	}

	select {
	case res := <-replyTo:
		return res.reader, res.writer, true
	case <-ctx.Done():
		return nil, nil, false
	}
}

func (ch *ConnectionHandler) serveNegotiations(ctx context.Context, reader io.ReadCloser, writer io.WriteCloser) {
	w := protocol.NewWriter(writer)
	r := protocol.NewReader(reader)

	stop := scoped.CloseOnDone(ctx, reader, writer)
	defer stop()

	for {
		var req negotiationRequest
		select {
		case req = <-ch.negotiate:
		case <-ctx.Done():
			return
		case <-ch.done:
			return
		}

		if err := w.WriteMessage(protocol.ChannelRequest{Channel: req.channelID}); err != nil {
			req.replyTo <- negotiationResult{kind: negotiationBadConnection, err: err}
			return
		}

		msg, err := r.ReadMessage()
		if err != nil {
			req.replyTo <- negotiationResult{kind: negotiationBadConnection, err: err}
			return
		}

		switch m := msg.(type) {
		case protocol.ChannelOk:
			req.replyTo <- negotiationResult{kind: negotiationOk, endpoint: m.Endpoint}
		case protocol.ChannelDeny:
			req.replyTo <- negotiationResult{kind: negotiationReject}
		default:
			req.replyTo <- negotiationResult{kind: negotiationBadConnection, err: fmt.Errorf("sender: unexpected control reply %T", msg)}
			return
		}
	}
}

func identifyAsConnection(reader io.ReadCloser, writer io.WriteCloser, this model.ThisConnectionIdentifier) error {
	w := protocol.NewWriter(writer)
	if err := w.WriteMessage(protocol.IAmConnection{This: this.AsPeer()}); err != nil {
		return err
	}
	r := protocol.NewReader(reader)
	msg, err := r.ReadMessage()
	if err != nil {
		return err
	}
	if _, ok := msg.(protocol.IdentifyOk); !ok {
		return fmt.Errorf("sender: expected IdentifyOk, got %T", msg)
	}
	return nil
}

func identifyAsChannel(reader io.ReadCloser, writer io.WriteCloser, this model.ThisConnectionIdentifier, channelID model.ChannelIdentifier) error {
	w := protocol.NewWriter(writer)
	if err := w.WriteMessage(protocol.IAmChannel{This: this.AsPeer(), Channel: channelID}); err != nil {
		return err
	}
	r := protocol.NewReader(reader)
	msg, err := r.ReadMessage()
	if err != nil {
		return err
	}
	if _, ok := msg.(protocol.IdentifyOk); !ok {
		return fmt.Errorf("sender: expected IdentifyOk, got %T", msg)
	}
	return nil
}
