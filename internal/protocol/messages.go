// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

// Package protocol implements the streamnet wire protocol: the three
// message sets exchanged between a sender and a receiver worker
// (identification, control, data), and the length-delimited CBOR framing
// that carries them.
package protocol

import (
	"fmt"

	"github.com/nishisan-dev/streamnet/internal/model"
)

// Kind discriminates the concrete message carried inside an envelope. CBOR
// has no native tagged-union support for Go interfaces, so each message
// carries its own Kind and is wrapped in envelope before going on the wire.
type Kind string

const (
	KindIAmConnection Kind = "conn"
	KindIAmChannel    Kind = "chan"
	KindIdentifyOk    Kind = "ok"

	KindChannelRequest Kind = "chreq"
	KindChannelOk      Kind = "chok"
	KindChannelDeny    Kind = "chdeny"

	KindData  Kind = "data"
	KindAck   Kind = "ack"
	KindNack  Kind = "nack"
	KindClose Kind = "close"
)

// Message is implemented by every protocol message. Kind must return one of
// the constants above and must be stable for the lifetime of the type.
type Message interface {
	Kind() Kind
}

// IAmConnection is the first message sent on a stream that will become a
// control channel.
type IAmConnection struct {
	This model.ConnectionIdentifier
}

func (IAmConnection) Kind() Kind { return KindIAmConnection }

// IAmChannel is the first message sent on a stream that will become a data
// channel, naming the channel negotiated over a prior control exchange.
type IAmChannel struct {
	This    model.ConnectionIdentifier
	Channel model.ChannelIdentifier
}

func (IAmChannel) Kind() Kind { return KindIAmChannel }

// IdentifyOk is the only identification response in this protocol version;
// there is no negative variant.
type IdentifyOk struct{}

func (IdentifyOk) Kind() Kind { return KindIdentifyOk }

// ChannelRequest asks the receiver's control channel to admit a data channel
// with the given identifier.
type ChannelRequest struct {
	Channel model.ChannelIdentifier
}

func (ChannelRequest) Kind() Kind { return KindChannelRequest }

// ChannelOk accepts a ChannelRequest. Endpoint is the connection identifier
// the sender must dial to establish the data channel; in this protocol
// version it is always the receiver's own control endpoint, carried as a
// forward-compatible field for future indirection.
type ChannelOk struct {
	Endpoint model.ConnectionIdentifier
}

func (ChannelOk) Kind() Kind { return KindChannelOk }

// ChannelDeny rejects a ChannelRequest, e.g. because no one has called
// register_channel for that identifier yet.
type ChannelDeny struct{}

func (ChannelDeny) Kind() Kind { return KindChannelDeny }

// Data carries one TupleBuffer down a data channel.
type Data struct {
	Buffer model.TupleBuffer
}

func (Data) Kind() Kind { return KindData }

// Ack confirms receipt and successful downstream delivery of a buffer.
type Ack struct {
	Sequence model.OriginSequenceNumber
}

func (Ack) Kind() Kind { return KindAck }

// Nack reports that a buffer could not be delivered and must be resent.
type Nack struct {
	Sequence model.OriginSequenceNumber
}

func (Nack) Kind() Kind { return KindNack }

// Close is sent in either direction on a data channel to end it gracefully.
type Close struct{}

func (Close) Kind() Kind { return KindClose }

// newByKind allocates the zero value for a Kind, used by the decoder before
// unmarshaling the envelope payload into it.
func newByKind(k Kind) (Message, error) {
	switch k {
	case KindIAmConnection:
		return &IAmConnection{}, nil
	case KindIAmChannel:
		return &IAmChannel{}, nil
	case KindIdentifyOk:
		return &IdentifyOk{}, nil
	case KindChannelRequest:
		return &ChannelRequest{}, nil
	case KindChannelOk:
		return &ChannelOk{}, nil
	case KindChannelDeny:
		return &ChannelDeny{}, nil
	case KindData:
		return &Data{}, nil
	case KindAck:
		return &Ack{}, nil
	case KindNack:
		return &Nack{}, nil
	case KindClose:
		return &Close{}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown message kind %q", k)
	}
}
