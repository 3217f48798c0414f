// Copyright (c) 2025 streamnet authors.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ReceiverConfig is the on-disk configuration for cmd/streamreceiver.
type ReceiverConfig struct {
	Receiver ReceiverInfo `yaml:"receiver"`
	Logging  LoggingInfo  `yaml:"logging"`
}

// ReceiverInfo holds the tunables of the ReceiverService itself.
type ReceiverInfo struct {
	// Bind is the address the receiver listens on for incoming connections.
	Bind string `yaml:"bind"`

	// UseMemCom switches the default transport to the in-process transport.
	UseMemCom bool `yaml:"use_memcom"`

	// ReceiverQueueSize is the per-channel downstream queue depth. Zero
	// inherits DefaultReceiverQueueSize.
	ReceiverQueueSize int `yaml:"receiver_queue_size"`

	// IOThreads caps GOMAXPROCS for this receiver's runtime. Zero means
	// "use all cores".
	IOThreads int `yaml:"receiver_io_threads"`
}

// LoadReceiverConfig reads and validates a receiver YAML configuration file.
func LoadReceiverConfig(path string) (*ReceiverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading receiver config: %w", err)
	}

	var cfg ReceiverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing receiver config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating receiver config: %w", err)
	}

	return &cfg, nil
}

func (c *ReceiverConfig) applyDefaults() {
	if c.Receiver.ReceiverQueueSize <= 0 {
		c.Receiver.ReceiverQueueSize = DefaultReceiverQueueSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *ReceiverConfig) validate() error {
	if c.Receiver.Bind == "" {
		return fmt.Errorf("receiver.bind is required")
	}
	if c.Receiver.IOThreads < 0 {
		return fmt.Errorf("receiver.receiver_io_threads must be >= 0, got %d", c.Receiver.IOThreads)
	}
	if c.Receiver.ReceiverQueueSize < 1 {
		return fmt.Errorf("receiver.receiver_queue_size must be positive, got %d", c.Receiver.ReceiverQueueSize)
	}
	return nil
}
