// Copyright (c) 2025 streamnet authors.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadSenderConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
sender:
  bind: "127.0.0.1:4040"
`)
	cfg, err := LoadSenderConfig(path)
	if err != nil {
		t.Fatalf("LoadSenderConfig: %v", err)
	}
	if cfg.Sender.SenderQueueSize != DefaultSenderQueueSize {
		t.Errorf("SenderQueueSize = %d, want default %d", cfg.Sender.SenderQueueSize, DefaultSenderQueueSize)
	}
	if cfg.Sender.MaxPendingAcks != DefaultMaxPendingAcks {
		t.Errorf("MaxPendingAcks = %d, want default %d", cfg.Sender.MaxPendingAcks, DefaultMaxPendingAcks)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadSenderConfigRejectsNegativeIOThreads(t *testing.T) {
	path := writeTempConfig(t, `
sender:
  sender_io_threads: -1
`)
	if _, err := LoadSenderConfig(path); err == nil {
		t.Fatal("expected validation error for negative sender_io_threads")
	}
}

func TestLoadReceiverConfigRequiresBind(t *testing.T) {
	path := writeTempConfig(t, `
receiver: {}
`)
	if _, err := LoadReceiverConfig(path); err == nil {
		t.Fatal("expected validation error for missing receiver.bind")
	}
}

func TestLoadReceiverConfigAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
receiver:
  bind: "0.0.0.0:4040"
  use_memcom: true
`)
	cfg, err := LoadReceiverConfig(path)
	if err != nil {
		t.Fatalf("LoadReceiverConfig: %v", err)
	}
	if cfg.Receiver.ReceiverQueueSize != DefaultReceiverQueueSize {
		t.Errorf("ReceiverQueueSize = %d, want default %d", cfg.Receiver.ReceiverQueueSize, DefaultReceiverQueueSize)
	}
	if !cfg.Receiver.UseMemCom {
		t.Error("expected UseMemCom to round-trip as true")
	}
}
