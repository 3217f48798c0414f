// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/nishisan-dev/streamnet/internal/model"
)

func TestTCPRoundTripsBytes(t *testing.T) {
	tcpRegistry.mu.Lock()
	tcpRegistry.bound = make(map[string]struct{})
	tcpRegistry.mu.Unlock()

	tr := NewTCP()
	this, err := model.ParseThisConnectionIdentifier("127.0.0.1:18080")
	if err != nil {
		t.Fatalf("ParseThisConnectionIdentifier: %v", err)
	}
	ln, err := tr.Bind(this)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ln.Close()

	target, err := model.ParseConnectionIdentifier("127.0.0.1:18080")
	if err != nil {
		t.Fatalf("ParseConnectionIdentifier: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type accepted struct {
		r   io.ReadCloser
		w   io.WriteCloser
		err error
	}
	acceptCh := make(chan accepted, 1)
	go func() {
		r, w, err := ln.Accept(ctx)
		acceptCh <- accepted{r, w, err}
	}()

	clientR, clientW, err := tr.Connect(ctx, target)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer clientR.Close()
	defer clientW.Close()

	acc := <-acceptCh
	if acc.err != nil {
		t.Fatalf("Accept: %v", acc.err)
	}
	defer acc.r.Close()
	defer acc.w.Close()

	go clientW.Write([]byte("ping!"))
	buf := make([]byte, 5)
	if _, err := io.ReadFull(acc.r, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "ping!" {
		t.Fatalf("got %q", buf)
	}
}

func TestTCPBindRejectsSecondServiceInProcess(t *testing.T) {
	tcpRegistry.mu.Lock()
	tcpRegistry.bound = make(map[string]struct{})
	tcpRegistry.mu.Unlock()

	tr := NewTCP()
	this, err := model.ParseThisConnectionIdentifier("127.0.0.1:18080")
	if err != nil {
		t.Fatalf("ParseThisConnectionIdentifier: %v", err)
	}
	first, err := tr.Bind(this)
	if err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	defer first.Close()

	second, err := tr.Bind(this)
	if err == nil {
		second.Close()
		t.Fatal("expected second Bind in the same process to fail")
	}
}
