// Copyright (c) 2025 streamnet authors.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default service-level settings; a zero value in config means "inherit
// this default".
const (
	DefaultSenderQueueSize   = 1024
	DefaultMaxPendingAcks    = 64
	DefaultReceiverQueueSize = 10
)

// SenderConfig is the on-disk configuration for cmd/streamsender.
type SenderConfig struct {
	Sender  SenderInfo  `yaml:"sender"`
	Logging LoggingInfo `yaml:"logging"`
}

// SenderInfo holds the tunables of the SenderService itself.
type SenderInfo struct {
	// Bind is this sender's own identifier, advertised to peers during
	// identification. The sender service never listens on it; it only dials
	// out. cmd/streamsender refuses to start when it is empty.
	Bind string `yaml:"bind"`

	// UseMemCom switches the default transport to the in-process transport.
	UseMemCom bool `yaml:"use_memcom"`

	// SenderQueueSize is the per-channel bounded software queue depth.
	// Zero inherits DefaultSenderQueueSize.
	SenderQueueSize int `yaml:"sender_queue_size"`

	// MaxPendingAcks bounds the sliding window: the sender stops
	// transmitting once this many buffers are awaiting ack. Zero inherits
	// DefaultMaxPendingAcks.
	MaxPendingAcks int `yaml:"max_pending_acks"`

	// IOThreads caps GOMAXPROCS for this sender's runtime. Zero means "use
	// all cores".
	IOThreads int `yaml:"sender_io_threads"`
}

// LoggingInfo controls the structured logger, shared by both services.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadSenderConfig reads and validates a sender YAML configuration file,
// filling in every zero-valued default.
func LoadSenderConfig(path string) (*SenderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sender config: %w", err)
	}

	var cfg SenderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing sender config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating sender config: %w", err)
	}

	return &cfg, nil
}

func (c *SenderConfig) applyDefaults() {
	if c.Sender.SenderQueueSize <= 0 {
		c.Sender.SenderQueueSize = DefaultSenderQueueSize
	}
	if c.Sender.MaxPendingAcks <= 0 {
		c.Sender.MaxPendingAcks = DefaultMaxPendingAcks
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *SenderConfig) validate() error {
	if c.Sender.IOThreads < 0 {
		return fmt.Errorf("sender.sender_io_threads must be >= 0, got %d", c.Sender.IOThreads)
	}
	if c.Sender.SenderQueueSize < 1 {
		return fmt.Errorf("sender.sender_queue_size must be positive, got %d", c.Sender.SenderQueueSize)
	}
	if c.Sender.MaxPendingAcks < 1 {
		return fmt.Errorf("sender.max_pending_acks must be positive, got %d", c.Sender.MaxPendingAcks)
	}
	return nil
}
