// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package model

import "testing"

func TestConnectionIdentifierRoundTrip(t *testing.T) {
	cases := []string{
		"localhost:8080",
		"127.0.0.1:9000",
		"[::1]:9000",
		"worker-3.internal:4040",
	}
	for _, s := range cases {
		id, err := ParseConnectionIdentifier(s)
		if err != nil {
			t.Fatalf("parse(%q): %v", s, err)
		}
		got := id.String()
		reparsed, err := ParseConnectionIdentifier(got)
		if err != nil {
			t.Fatalf("reparse(%q): %v", got, err)
		}
		if reparsed != id {
			t.Fatalf("round trip mismatch: %q -> %+v -> %q -> %+v", s, id, got, reparsed)
		}
	}
}

func TestParseConnectionIdentifierRejectsMissingPort(t *testing.T) {
	if _, err := ParseConnectionIdentifier("localhost"); err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestParseConnectionIdentifierRejectsScheme(t *testing.T) {
	if _, err := ParseConnectionIdentifier("nes://localhost:8080"); err == nil {
		t.Fatal("expected error for scheme")
	}
	if _, err := ParseConnectionIdentifier("http://localhost:8080"); err == nil {
		t.Fatal("expected error for scheme")
	}
}

func TestThisConnectionIdentifierAsPeer(t *testing.T) {
	this, err := ParseThisConnectionIdentifier("localhost:9100")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	peer := this.AsPeer()
	if peer.Host != "localhost" || peer.Port != 9100 {
		t.Fatalf("unexpected peer identifier: %+v", peer)
	}
}

func TestTupleBufferSequence(t *testing.T) {
	b := TupleBuffer{OriginID: 1, SequenceNumber: 2, ChunkNumber: 3}
	seq := b.Sequence()
	want := OriginSequenceNumber{OriginID: 1, SequenceNumber: 2, ChunkNumber: 3}
	if seq != want {
		t.Fatalf("sequence mismatch: got %+v want %+v", seq, want)
	}
}

func TestTupleBufferValidateRejectsEmptyChild(t *testing.T) {
	b := TupleBuffer{Data: []byte("x"), ChildBuffers: [][]byte{{1}, {}}}
	if err := b.Validate(); err == nil {
		t.Fatal("expected error for empty child buffer")
	}
}
