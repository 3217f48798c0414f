// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package backoff

import (
	"context"
	"testing"
	"time"
)

func TestSequenceRespectsMaxAttempts(t *testing.T) {
	s := MemComConnect.New()
	count := 0
	for {
		_, ok := s.Next()
		if !ok {
			break
		}
		count++
		if count > 100 {
			t.Fatal("policy with MaxAttempts did not stop")
		}
	}
	if count != MemComConnect.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", MemComConnect.MaxAttempts, count)
	}
}

func TestSequenceCapsDelayAtMax(t *testing.T) {
	s := ConnectIdentify.New()
	for i := 0; i < 50; i++ {
		d, ok := s.Next()
		if !ok {
			t.Fatal("unbounded policy should never stop")
		}
		if d > ConnectIdentify.Max {
			t.Fatalf("delay %v exceeds max %v", d, ConnectIdentify.Max)
		}
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Second); err == nil {
		t.Fatal("expected context error")
	}
}

func TestAttemptLimiterWaitsWithinBudget(t *testing.T) {
	l := NewAttemptLimiter(1000)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
}
