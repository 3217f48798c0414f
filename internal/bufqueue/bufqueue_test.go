// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package bufqueue

import (
	"context"
	"testing"
	"time"

	"github.com/nishisan-dev/streamnet/internal/model"
)

func TestTryPushAndPop(t *testing.T) {
	q := New(2)
	buf := model.TupleBuffer{SequenceNumber: 1}

	pushed, closed := q.TryPush(buf)
	if !pushed || closed {
		t.Fatalf("TryPush = (%v, %v), want (true, false)", pushed, closed)
	}

	got, err := q.Pop(context.Background())
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got.SequenceNumber != 1 {
		t.Fatalf("got seq %d, want 1", got.SequenceNumber)
	}
}

func TestTryPushReportsFull(t *testing.T) {
	q := New(1)
	q.TryPush(model.TupleBuffer{SequenceNumber: 1})

	pushed, closed := q.TryPush(model.TupleBuffer{SequenceNumber: 2})
	if pushed || closed {
		t.Fatalf("TryPush on full queue = (%v, %v), want (false, false)", pushed, closed)
	}
}

func TestPushBlocksUntilSpaceOrCancel(t *testing.T) {
	q := New(1)
	q.TryPush(model.TupleBuffer{SequenceNumber: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Push(ctx, model.TupleBuffer{SequenceNumber: 2}); err == nil {
		t.Fatal("expected Push to time out on a full queue")
	}
}

func TestPopDrainsBeforeReportingClosed(t *testing.T) {
	q := New(2)
	q.TryPush(model.TupleBuffer{SequenceNumber: 1})
	q.TryPush(model.TupleBuffer{SequenceNumber: 2})
	q.Close()

	for _, want := range []uint64{1, 2} {
		got, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if got.SequenceNumber != want {
			t.Fatalf("got seq %d, want %d", got.SequenceNumber, want)
		}
	}

	if _, err := q.Pop(context.Background()); err != ErrClosed {
		t.Fatalf("Pop after drain = %v, want ErrClosed", err)
	}
}

func TestPushAfterCloseFails(t *testing.T) {
	q := New(2)
	q.Close()
	if err := q.Push(context.Background(), model.TupleBuffer{}); err != ErrClosed {
		t.Fatalf("Push after close = %v, want ErrClosed", err)
	}
}
