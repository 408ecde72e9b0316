package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/netcap/internal/config"
	"firestige.xyz/netcap/internal/log"
)

// KafkaCommand is the wire format of a command received from kafka.
//
//	{
//	  "target":     "node-01",
//	  "command":    "add-filter udp port 53",
//	  "timestamp":  "2024-01-15T10:30:00Z",
//	  "request_id": "req-abc-123"
//	}
type KafkaCommand struct {
	Target    string    `json:"target"`  // Hostname, "*" or empty for broadcast
	Command   string    `json:"command"` // One command line
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer executes commands consumed from a kafka topic.
type KafkaConsumer struct {
	reader     messageReader
	dispatcher *Dispatcher
	hostname   string
	ttl        time.Duration
	onQuit     func()
	logger     log.Logger
}

// NewKafkaConsumer creates a consumer for cfg. Commands addressed to other
// hosts or older than the configured TTL are skipped.
func NewKafkaConsumer(cfg config.CommandKafkaConfig, hostname string, d *Dispatcher, onQuit func()) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	startOffset := kafka.LastOffset
	if cfg.AutoOffsetReset == "earliest" {
		startOffset = kafka.FirstOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})
	return newKafkaConsumer(reader, hostname, cfg.CommandTTLDuration(), d, onQuit), nil
}

func newKafkaConsumer(r messageReader, hostname string, ttl time.Duration, d *Dispatcher, onQuit func()) *KafkaConsumer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KafkaConsumer{
		reader:     r,
		dispatcher: d,
		hostname:   hostname,
		ttl:        ttl,
		onQuit:     onQuit,
		logger:     log.GetLogger().WithField("component", "kafka-commands"),
	}
}

// Run consumes until ctx is done.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.WithError(err).Error("failed to fetch kafka message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := c.process(msg); err != nil {
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("failed to process command")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Error("failed to commit message")
		}
	}
}

func (c *KafkaConsumer) process(msg kafka.Message) error {
	var kc KafkaCommand
	if err := json.Unmarshal(msg.Value, &kc); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}
	logger := c.logger.WithFields(map[string]interface{}{
		"request_id": kc.RequestID,
		"command":    kc.Command,
	})

	if kc.Target != "" && kc.Target != "*" && kc.Target != c.hostname {
		logger.WithField("target", kc.Target).Debug("skipping command for another host")
		return nil
	}
	if !kc.Timestamp.IsZero() && time.Since(kc.Timestamp) > c.ttl {
		logger.WithField("age", time.Since(kc.Timestamp).String()).Warn("skipping stale command")
		return nil
	}

	var out bytes.Buffer
	quit, err := c.dispatcher.Execute(kc.Command, &out)
	if err != nil {
		return err
	}
	logger.WithField("output", strings.TrimSpace(out.String())).Info("command executed")
	if quit && c.onQuit != nil {
		c.onQuit()
	}
	return nil
}

// Close closes the reader.
func (c *KafkaConsumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
