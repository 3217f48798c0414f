// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

// Package backoff provides the jittered exponential backoff used by every
// retry loop in streamnet: the MemCom connect retry, the sender's keepalive
// reconnect, and channel registration attempts.
//
// It also exposes a rate limiter that caps how often the connections sharing
// it may attempt new outbound connections (each SenderService holds one), so
// a large fleet of channels reconnecting at once doesn't turn into a connect
// storm on the peer. Built on golang.org/x/time/rate, throttling connection attempt
// rate rather than payload bytes.
package backoff

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Policy is an exponential backoff schedule with full jitter.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	// MaxAttempts bounds the number of Next() calls that return ok=true. Zero
	// means unbounded: the policy keeps being retried for as long as the
	// caller keeps asking.
	MaxAttempts int
}

// MemComConnect is the backoff schedule for the in-process transport's
// connect retry: initial 2ms, cap 32ms, up to ~10 attempts.
var MemComConnect = Policy{Initial: 2 * time.Millisecond, Max: 32 * time.Millisecond, MaxAttempts: 10}

// ConnectIdentify is the backoff schedule for the sender's keepalive task
// rebuilding the physical socket: 2ms to 500ms, jittered, unbounded.
var ConnectIdentify = Policy{Initial: 2 * time.Millisecond, Max: 500 * time.Millisecond}

// ChannelRegistration is the backoff schedule for repeated channel
// registration attempts: cap 500ms, jittered, unbounded.
var ChannelRegistration = Policy{Initial: 2 * time.Millisecond, Max: 500 * time.Millisecond}

// Sequence walks a Policy's delays, starting at Initial and doubling up to
// Max. It is not safe for concurrent use; each retry loop owns one.
type Sequence struct {
	policy  Policy
	attempt int
}

// New starts a fresh backoff sequence for p.
func (p Policy) New() *Sequence {
	return &Sequence{policy: p}
}

// Next returns the delay for the next attempt and whether the caller should
// retry at all (false once MaxAttempts is exhausted). The returned delay
// already has full jitter applied: a uniform random value in [0, delay].
func (s *Sequence) Next() (time.Duration, bool) {
	if s.policy.MaxAttempts > 0 && s.attempt >= s.policy.MaxAttempts {
		return 0, false
	}
	delay := s.policy.Initial << s.attempt
	if delay <= 0 || delay > s.policy.Max {
		delay = s.policy.Max
	}
	s.attempt++
	jittered := time.Duration(rand.Int63n(int64(delay) + 1))
	return jittered, true
}

// Attempt returns the number of delays already handed out (0 before the
// first Next).
func (s *Sequence) Attempt() int {
	return s.attempt
}

// Sleep waits for d, honoring ctx cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AttemptLimiter throttles how often its holders issue new connection
// attempts, across all connections and channels that share it, independent
// of any single retry loop's own backoff delay.
type AttemptLimiter struct {
	limiter *rate.Limiter
}

// NewAttemptLimiter returns a limiter allowing attemptsPerSecond connection
// attempts per second, with a burst of the same size.
func NewAttemptLimiter(attemptsPerSecond int) *AttemptLimiter {
	return &AttemptLimiter{limiter: rate.NewLimiter(rate.Limit(attemptsPerSecond), attemptsPerSecond)}
}

// Wait blocks until a connection attempt may proceed or ctx is canceled.
func (a *AttemptLimiter) Wait(ctx context.Context) error {
	if a == nil || a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}
