// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds a single decoded frame. It exists to stop a corrupt or
// malicious length prefix from triggering an enormous allocation; it is well
// above any legitimate TupleBuffer the sliding window would carry in one
// frame.
const MaxFrameSize = 64 * 1024 * 1024

// Errors returned by the codec. Both are fatal to the stream they occurred
// on and should cause the caller to terminate the handler that owns it.
var (
	ErrFrameTooLarge = errors.New("protocol: frame exceeds MaxFrameSize")
	ErrUnknownKind   = errors.New("protocol: envelope carries an unknown kind")
)

// envelope is the on-wire wrapper around every Message: a CBOR map with the
// message's Kind and its CBOR-encoded body, so that a single length-delimited
// stream can multiplex any message from the active message set.
type envelope struct {
	Kind    Kind            `cbor:"kind"`
	Payload cbor.RawMessage `cbor:"payload"`
}

// Encode serializes a Message into its on-wire envelope bytes, without the
// length prefix. Writer.WriteMessage is the usual entry point; Encode is
// exposed for tests and for callers that frame bytes themselves.
func Encode(msg Message) ([]byte, error) {
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding %T payload: %w", msg, err)
	}
	env := envelope{Kind: msg.Kind(), Payload: payload}
	out, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding envelope: %w", err)
	}
	return out, nil
}

// Decode parses the on-wire envelope bytes (without the length prefix) back
// into a concrete Message.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decoding envelope: %w", err)
	}
	msg, err := newByKind(env.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, env.Kind)
	}
	if err := cbor.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("protocol: decoding %s payload: %w", env.Kind, err)
	}
	return derefMessage(msg), nil
}

// derefMessage turns the pointer newByKind allocated back into the value
// type the rest of the codebase matches on with type switches.
func derefMessage(msg Message) Message {
	switch m := msg.(type) {
	case *IAmConnection:
		return *m
	case *IAmChannel:
		return *m
	case *IdentifyOk:
		return *m
	case *ChannelRequest:
		return *m
	case *ChannelOk:
		return *m
	case *ChannelDeny:
		return *m
	case *Data:
		return *m
	case *Ack:
		return *m
	case *Nack:
		return *m
	case *Close:
		return *m
	default:
		return msg
	}
}

// Writer writes length-delimited, CBOR-encoded Messages to an underlying
// io.Writer. It is not safe for concurrent use by multiple goroutines; each
// stream has exactly one owner on both the sender and receiver side.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w in a protocol Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteMessage encodes and writes one frame: a big-endian uint32 length
// prefix followed by the CBOR envelope.
func (w *Writer) WriteMessage(msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("protocol: writing frame length: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("protocol: writing frame body: %w", err)
	}
	return nil
}

// Reader reads length-delimited, CBOR-encoded Messages from an underlying
// io.Reader.
type Reader struct {
	r   io.Reader
	buf []byte
}

// NewReader wraps r in a protocol Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadMessage reads and decodes the next frame. It returns io.EOF (possibly
// wrapped) when the underlying stream is closed cleanly between frames.
func (r *Reader) ReadMessage() (Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("protocol: truncated frame length: %w", err)
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if cap(r.buf) < int(n) {
		r.buf = make([]byte, n)
	}
	body := r.buf[:n]
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, fmt.Errorf("protocol: reading frame body: %w", err)
	}
	return Decode(body)
}
