// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

package receiver

import (
	"context"
	"io"
	"testing"

	"github.com/nishisan-dev/streamnet/internal/bufqueue"
	"github.com/nishisan-dev/streamnet/internal/model"
)

func TestControllerTakeRegisteredRemovesEntry(t *testing.T) {
	c := newController()
	queue := bufqueue.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rc := &registeredChannel{channelID: model.ChannelIdentifier("ch-1"), queue: queue, ctx: ctx, cancel: cancel}
	c.register(rc)

	got, ok := c.takeRegistered(model.ChannelIdentifier("ch-1"))
	if !ok || got != rc {
		t.Fatalf("takeRegistered = (%v, %v), want (rc, true)", got, ok)
	}

	if _, ok := c.takeRegistered(model.ChannelIdentifier("ch-1")); ok {
		t.Fatal("expected second takeRegistered to miss after the first removed it")
	}
}

func TestControllerRestoreRegisteredReinserts(t *testing.T) {
	c := newController()
	queue := bufqueue.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rc := &registeredChannel{channelID: model.ChannelIdentifier("ch-1"), queue: queue, ctx: ctx, cancel: cancel}
	c.register(rc)
	c.takeRegistered(model.ChannelIdentifier("ch-1"))
	c.restoreRegistered(rc)

	if _, ok := c.takeRegistered(model.ChannelIdentifier("ch-1")); !ok {
		t.Fatal("expected the restored registration to be takeable again")
	}
}

func TestControllerDeliverDataLinkMatchesPending(t *testing.T) {
	c := newController()
	other := model.ConnectionIdentifier{Host: "worker-1", Port: 5000}
	channelID := model.ChannelIdentifier("ch-1")

	linkCh := c.registerPending(other, channelID)

	pr, pw := io.Pipe()
	pr.Close()
	pw.Close()
	link := dataLink{reader: pr, writer: pw}

	if !c.deliverDataLink(other, channelID, link) {
		t.Fatal("expected deliverDataLink to match the pending registration")
	}

	select {
	case got := <-linkCh:
		if got != link {
			t.Fatal("delivered link does not match what was sent")
		}
	default:
		t.Fatal("expected the link to be immediately available on linkCh")
	}
}

func TestControllerDeliverDataLinkWithoutPendingFails(t *testing.T) {
	c := newController()
	other := model.ConnectionIdentifier{Host: "worker-1", Port: 5000}

	pr, pw := io.Pipe()
	pr.Close()
	pw.Close()

	if c.deliverDataLink(other, model.ChannelIdentifier("ch-unknown"), dataLink{reader: pr, writer: pw}) {
		t.Fatal("expected deliverDataLink to fail when nothing is pending")
	}
}
