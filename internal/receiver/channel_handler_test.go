// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package receiver

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nishisan-dev/streamnet/internal/bufqueue"
	"github.com/nishisan-dev/streamnet/internal/model"
	"github.com/nishisan-dev/streamnet/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loopbackLink wires a channelHandler's (reader, writer) to a pair the test
// can drive directly as "the peer" (the sender side, in production).
type loopbackLink struct {
	handlerReader io.ReadCloser
	handlerWriter io.WriteCloser
	peerReader    io.ReadCloser
	peerWriter    io.WriteCloser
}

func newLoopbackLink() *loopbackLink {
	peerToHandlerR, peerToHandlerW := io.Pipe()
	handlerToPeerR, handlerToPeerW := io.Pipe()
	return &loopbackLink{
		handlerReader: peerToHandlerR,
		handlerWriter: handlerToPeerW,
		peerReader:    handlerToPeerR,
		peerWriter:    peerToHandlerW,
	}
}

func TestChannelHandlerDeliversDataAndAcks(t *testing.T) {
	link := newLoopbackLink()
	queue := bufqueue.New(4)
	h := newChannelHandler(model.ChannelIdentifier("ch-1"), queue, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	outcomeCh := make(chan channelOutcome, 1)
	go func() { outcomeCh <- h.run(ctx, link.handlerReader, link.handlerWriter) }()

	peerWriter := protocol.NewWriter(link.peerWriter)
	peerReader := protocol.NewReader(link.peerReader)

	buf := model.TupleBuffer{OriginID: 1, SequenceNumber: 5, LastChunk: true, Data: []byte("payload")}
	if err := peerWriter.WriteMessage(protocol.Data{Buffer: buf}); err != nil {
		t.Fatalf("peer WriteMessage(Data): %v", err)
	}

	ack, err := peerReader.ReadMessage()
	if err != nil {
		t.Fatalf("peer ReadMessage: %v", err)
	}
	a, ok := ack.(protocol.Ack)
	if !ok || a.Sequence != buf.Sequence() {
		t.Fatalf("unexpected message from handler: %#v", ack)
	}

	got, err := queue.Pop(context.Background())
	if err != nil {
		t.Fatalf("queue.Pop: %v", err)
	}
	if got.SequenceNumber != 5 {
		t.Fatalf("delivered buffer seq = %d, want 5", got.SequenceNumber)
	}

	if err := peerWriter.WriteMessage(protocol.Close{}); err != nil {
		t.Fatalf("peer WriteMessage(Close): %v", err)
	}

	select {
	case outcome := <-outcomeCh:
		if outcome != outcomeClosedByOtherSide {
			t.Fatalf("outcome = %v, want outcomeClosedByOtherSide", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel handler did not return")
	}
}

func TestChannelHandlerPropagatesCloseWhenQueueCloses(t *testing.T) {
	link := newLoopbackLink()
	queue := bufqueue.New(1)
	h := newChannelHandler(model.ChannelIdentifier("ch-1"), queue, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	outcomeCh := make(chan channelOutcome, 1)
	go func() { outcomeCh <- h.run(ctx, link.handlerReader, link.handlerWriter) }()

	queue.Close()

	peerWriter := protocol.NewWriter(link.peerWriter)
	peerReader := protocol.NewReader(link.peerReader)

	buf := model.TupleBuffer{OriginID: 1, SequenceNumber: 1, LastChunk: true, Data: []byte("x")}
	if err := peerWriter.WriteMessage(protocol.Data{Buffer: buf}); err != nil {
		t.Fatalf("peer WriteMessage(Data): %v", err)
	}

	msg, err := peerReader.ReadMessage()
	if err != nil {
		t.Fatalf("peer ReadMessage: %v", err)
	}
	if _, ok := msg.(protocol.Close); !ok {
		t.Fatalf("expected Close from handler once its queue closed, got %#v", msg)
	}

	select {
	case outcome := <-outcomeCh:
		if outcome != outcomeClosedBySoftware {
			t.Fatalf("outcome = %v, want outcomeClosedBySoftware", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel handler did not return")
	}
}

func TestChannelHandlerReturnsCancelledOnContextDone(t *testing.T) {
	link := newLoopbackLink()
	queue := bufqueue.New(4)
	h := newChannelHandler(model.ChannelIdentifier("ch-1"), queue, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())

	outcomeCh := make(chan channelOutcome, 1)
	go func() { outcomeCh <- h.run(ctx, link.handlerReader, link.handlerWriter) }()

	cancel()

	select {
	case outcome := <-outcomeCh:
		if outcome != outcomeCancelled {
			t.Fatalf("outcome = %v, want outcomeCancelled", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel handler did not return")
	}
}
