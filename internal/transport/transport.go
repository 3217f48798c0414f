// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

// Package transport is the pluggable byte-stream abstraction: bind/listen,
// connect, and the (reader, writer) halves they yield. Two implementations
// exist: tcp (IPv4/IPv6 sockets) and memcom (an in-process directory of
// simplex pipes used by tests).
package transport

import (
	"context"
	"io"

	"github.com/nishisan-dev/streamnet/internal/model"
)

// Transport can bind a local endpoint to accept connections, and connect out
// to a remote endpoint. Implementations must deliver bytes reliably and in
// order on each connection; reordering or loss is a transport bug, not
// something the protocol layer compensates for (other than the reconnect
// machinery above it, which assumes a connection either works or fails
// outright).
type Transport interface {
	// Bind starts listening on this's address and returns a Listener that
	// yields one (reader, writer) pair per accepted stream.
	Bind(this model.ThisConnectionIdentifier) (Listener, error)

	// Connect dials target and returns the (reader, writer) halves of the
	// resulting stream.
	Connect(ctx context.Context, target model.ConnectionIdentifier) (io.ReadCloser, io.WriteCloser, error)
}

// Listener accepts incoming streams on a bound endpoint.
type Listener interface {
	// Accept blocks until a new stream arrives, ctx is canceled, or the
	// listener is closed.
	Accept(ctx context.Context) (io.ReadCloser, io.WriteCloser, error)

	io.Closer
}
