// SPDX-License-Identifier: Apache-2.0
// Copyright 2025 streamnet authors.

// Command streamsender is a reference launcher for sender.SenderService. A
// real host embeds the sender package directly and drives it with its own
// RegisterChannel calls. This binary only loads its config, starts the
// service and waits for a signal to shut it down; it registers no channels,
// so it dials no peer on its own.
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
	"github.com/nishisan-dev/streamnet/internal/sender"
	"github.com/nishisan-dev/streamnet/internal/transport"
)

func main() {
	configPath := flag.String("config", "/etc/streamnet/sender.yaml", "path to sender config file")
	flag.Parse()

	cfg, err := config.LoadSenderConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Sender.Bind == "" {
		fmt.Fprintln(os.Stderr, "Error: sender.bind is required to run as a standalone process")
		os.Exit(1)
	}
	if cfg.Sender.IOThreads > 0 {
		runtime.GOMAXPROCS(cfg.Sender.IOThreads)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	this, err := model.ParseThisConnectionIdentifier(cfg.Sender.Bind)
	if err != nil {
		logger.Error("invalid sender.bind", "error", err)
		os.Exit(1)
	}

	var tr transport.Transport
	if cfg.Sender.UseMemCom {
		tr = transport.NewMemCom(logger)
	} else {
		tr = transport.NewTCP()
	}

	svc := sender.Start(this, tr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	logger.Info("streamsender started", "bind", this.String(), "memcom", cfg.Sender.UseMemCom)
	<-ctx.Done()
	svc.Shutdown()
}
