// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

// Package receiver implements the receiver side of streamnet: a
// ReceiverService that accepts inbound connections, negotiates data
// channels over a per-remote control-socket handler, and runs one
// channelHandler goroutine per live data channel.
package receiver

import (
	"errors"
	"time"
)

// ErrServiceClosed is returned by RegisterChannel once Shutdown has run.
var ErrServiceClosed = errors.New("receiver: service is shut down")

// ErrChannelClosed is returned by Receive once the channel has terminated
// for good and its downstream queue has been fully drained.
var ErrChannelClosed = errors.New("receiver: channel is closed")

// channelOutcome mirrors the sender side's: how a channel handler's run
// loop ended, and whether the connection should be retried.
type channelOutcome int

const (
	outcomeClosedByOtherSide channelOutcome = iota
	outcomeClosedBySoftware
	outcomeClosedBySoftwareButFailedToPropagate
	outcomeCancelled
	outcomeTransientError
)

func (o channelOutcome) terminal() bool {
	return o != outcomeTransientError
}

// noProgressWatchdog is how long a channel handler may go without making
// progress before it logs a warning.
const noProgressWatchdog = 10 * time.Second

// shutdownGrace bounds how long Shutdown waits before returning regardless
// of outstanding work.
const shutdownGrace = time.Second
