// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

// Command streamreceiver is a reference launcher for receiver.ReceiverService,
// analogous to streamsender on the other side of a connection. A real host
// embeds the receiver package directly and drains channels with its own
// RegisterChannel/Receive calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/nishisan-dev/streamnet/internal/config"
	"github.com/nishisan-dev/streamnet/internal/logging"
	"github.com/nishisan-dev/streamnet/internal/model"
	"github.com/nishisan-dev/streamnet/internal/receiver"
	"github.com/nishisan-dev/streamnet/internal/transport"
)

func main() {
	configPath := flag.String("config", "/etc/streamnet/receiver.yaml", "path to receiver config file")
	flag.Parse()

	cfg, err := config.LoadReceiverConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Receiver.IOThreads > 0 {
		runtime.GOMAXPROCS(cfg.Receiver.IOThreads)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	this, err := model.ParseThisConnectionIdentifier(cfg.Receiver.Bind)
	if err != nil {
		logger.Error("invalid receiver.bind", "error", err)
		os.Exit(1)
	}

	var tr transport.Transport
	if cfg.Receiver.UseMemCom {
		tr = transport.NewMemCom(logger)
	} else {
		tr = transport.NewTCP()
	}

	svc, err := receiver.Start(this, tr, logger)
	if err != nil {
		logger.Error("failed to start receiver", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	logger.Info("streamreceiver started", "bind", this.String(), "memcom", cfg.Receiver.UseMemCom)
	<-ctx.Done()
	svc.Shutdown()
}
