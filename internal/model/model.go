// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

// Package model holds the wire-independent data types shared by the
// transport, protocol codec, sender and receiver packages: connection and
// channel identifiers, the per-origin sequence key, and the TupleBuffer
// payload itself.
package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ChannelIdentifier is an opaque string, unique within the (target,
// channel_id) namespace on the sender side and within the (source,
// channel_id) namespace on the receiver side.
type ChannelIdentifier string

// NewChannelIdentifier returns a fresh, globally unique ChannelIdentifier. A
// host is free to supply its own identifiers instead (e.g. derived from a
// query plan edge); this exists for hosts that have no natural naming scheme
// of their own.
func NewChannelIdentifier() ChannelIdentifier {
	return ChannelIdentifier(uuid.NewString())
}

// ConnectionIdentifier identifies a remote endpoint: a (host, port) pair.
// Host may be an IPv4/IPv6 literal or a DNS name. Equality is structural.
type ConnectionIdentifier struct {
	Host string
	Port uint16
}

// ThisConnectionIdentifier identifies the local endpoint a service is bound
// to. It is a distinct type so that "who am I" and "who am I talking to"
// can't be mixed up at compile time, but it converts freely to a
// ConnectionIdentifier when handed to a peer.
type ThisConnectionIdentifier ConnectionIdentifier

// AsPeer converts a local identifier into the identifier a peer would use to
// reach it.
func (t ThisConnectionIdentifier) AsPeer() ConnectionIdentifier {
	return ConnectionIdentifier(t)
}

func (c ConnectionIdentifier) String() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

func (t ThisConnectionIdentifier) String() string {
	return ConnectionIdentifier(t).String()
}

// ParseConnectionIdentifier parses the canonical "host:port" form via
// net.SplitHostPort; a bracketed IPv6 literal is accepted. Anything else
// (missing host or port, port 0, extra path/query components, a scheme) is
// rejected.
func ParseConnectionIdentifier(s string) (ConnectionIdentifier, error) {
	if strings.Contains(s, "://") {
		return ConnectionIdentifier{}, fmt.Errorf("model: connection identifier %q must not carry a scheme", s)
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return ConnectionIdentifier{}, fmt.Errorf("model: invalid connection identifier %q: %w", s, err)
	}
	if host == "" {
		return ConnectionIdentifier{}, fmt.Errorf("model: connection identifier %q has no host", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return ConnectionIdentifier{}, fmt.Errorf("model: connection identifier %q has an invalid port", s)
	}
	return ConnectionIdentifier{Host: host, Port: uint16(port)}, nil
}

// ParseThisConnectionIdentifier parses a local bind address using the same
// rules as ParseConnectionIdentifier.
func ParseThisConnectionIdentifier(s string) (ThisConnectionIdentifier, error) {
	c, err := ParseConnectionIdentifier(s)
	if err != nil {
		return ThisConnectionIdentifier{}, err
	}
	return ThisConnectionIdentifier(c), nil
}

// OriginSequenceNumber is the ack/nack key: a triple assumed unique within a
// single data channel's lifetime.
type OriginSequenceNumber struct {
	OriginID       uint64
	SequenceNumber uint64
	ChunkNumber    uint64
}

func (o OriginSequenceNumber) String() string {
	return fmt.Sprintf("(origin=%d seq=%d chunk=%d)", o.OriginID, o.SequenceNumber, o.ChunkNumber)
}

// TupleBuffer is the wire and in-memory payload carried by a data channel.
//
// EncodedData and EncodedChildren are inert passthrough metadata: this
// module performs no compression of its own (see Non-goals), but a host
// engine that compressed a buffer before handing it to try_send_data expects
// the flags to survive the round trip unchanged.
type TupleBuffer struct {
	SequenceNumber  uint64
	OriginID        uint64
	ChunkNumber     uint64
	Watermark       uint64
	NumberOfTuples  uint64
	LastChunk       bool
	EncodedData     bool
	EncodedChildren []bool
	Data            []byte
	ChildBuffers    [][]byte
}

// Sequence returns the OriginSequenceNumber for this buffer.
func (b TupleBuffer) Sequence() OriginSequenceNumber {
	return OriginSequenceNumber{
		OriginID:       b.OriginID,
		SequenceNumber: b.SequenceNumber,
		ChunkNumber:    b.ChunkNumber,
	}
}

// Validate checks the invariants a TupleBuffer must hold: every child
// buffer must be non-empty.
func (b TupleBuffer) Validate() error {
	for i, c := range b.ChildBuffers {
		if len(c) == 0 {
			return fmt.Errorf("model: child_buffers[%d] is empty", i)
		}
	}
	return nil
}

func (b TupleBuffer) String() string {
	return fmt.Sprintf("TupleBuffer{seq=%d origin=%d chunk=%d watermark=%d tuples=%d last=%t data=%dB children=%d}",
		b.SequenceNumber, b.OriginID, b.ChunkNumber, b.Watermark, b.NumberOfTuples, b.LastChunk, len(b.Data), len(b.ChildBuffers))
}
