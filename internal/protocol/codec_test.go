// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package protocol

import (
	"bytes"
	"io"
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/nishisan-dev/streamnet/internal/model"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	this := model.ConnectionIdentifier{Host: "worker-1", Port: 4040}
	msgs := []Message{
		IAmConnection{This: this},
		IAmChannel{This: this, Channel: model.ChannelIdentifier("ch-1")},
		IdentifyOk{},
		ChannelRequest{Channel: model.ChannelIdentifier("ch-1")},
		ChannelOk{Endpoint: this},
		ChannelDeny{},
		Data{Buffer: model.TupleBuffer{
			OriginID: 1, SequenceNumber: 1, ChunkNumber: 0,
			Watermark: 42, NumberOfTuples: 3, LastChunk: true,
			Data:         []byte("A"),
			ChildBuffers: [][]byte{{1, 2, 3}},
		}},
		Ack{Sequence: model.OriginSequenceNumber{OriginID: 1, SequenceNumber: 1, ChunkNumber: 0}},
		Nack{Sequence: model.OriginSequenceNumber{OriginID: 1, SequenceNumber: 1, ChunkNumber: 0}},
		Close{},
	}

	for _, m := range msgs {
		if err := w.WriteMessage(m); err != nil {
			t.Fatalf("WriteMessage(%T): %v", m, err)
		}
	}

	for _, want := range msgs {
		got, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip mismatch:\n got  %#v\n want %#v", got, want)
		}
	}
}

func TestReaderReturnsEOFOnCleanClose(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, err := r.ReadMessage()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	r := NewReader(&buf)
	_, err := r.ReadMessage()
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	body, err := Encode(IdentifyOk{})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Corrupt by re-encoding an envelope with a bogus kind.
	env := envelope{Kind: Kind("bogus")}
	bogus, err := cbor.Marshal(env)
	if err != nil {
		t.Fatalf("marshal bogus envelope: %v", err)
	}
	if _, err := Decode(bogus); err == nil {
		t.Fatal("expected error decoding unknown kind")
	}
	// Sanity: the well-formed body still decodes fine.
	if _, err := Decode(body); err != nil {
		t.Fatalf("Decode(valid): %v", err)
	}
}
