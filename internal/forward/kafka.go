package forward

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"firestige.xyz/netcap/internal/dsl"
	"firestige.xyz/netcap/internal/log"
)

const (
	defaultKafkaBatchSize    = 100
	defaultKafkaBatchTimeout = 100 * time.Millisecond
	defaultKafkaCompression  = "snappy"
	defaultKafkaMaxAttempts  = 3
)

// KafkaConfig is decoded from the forwarder options.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Encoding     string        `mapstructure:"encoding"`      // optional: line|protobuf, default line
	KeyField     string        `mapstructure:"key_field"`     // optional record field used as message key
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder publishes records to a Kafka topic, one message per record.
type KafkaForwarder struct {
	writer messageWriter
	config KafkaConfig

	// Statistics
	sentCount  atomic.Uint64
	errorCount atomic.Uint64
}

// DecodeKafkaConfig applies defaults and decodes options.
func DecodeKafkaConfig(options map[string]any) (KafkaConfig, error) {
	cfg := KafkaConfig{
		BatchSize:    defaultKafkaBatchSize,
		BatchTimeout: defaultKafkaBatchTimeout,
		Compression:  defaultKafkaCompression,
		MaxAttempts:  defaultKafkaMaxAttempts,
		Encoding:     "line",
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(options); err != nil {
		return cfg, fmt.Errorf("invalid kafka options: %w", err)
	}

	if len(cfg.Brokers) == 0 {
		return cfg, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return cfg, fmt.Errorf("topic is required")
	}
	if cfg.Encoding != "line" && cfg.Encoding != "protobuf" {
		return cfg, fmt.Errorf("invalid encoding %q, must be line or protobuf", cfg.Encoding)
	}
	return cfg, nil
}

// NewKafka creates a Kafka forwarder from cfg.Options.
func NewKafka(c Config) (Forwarder, error) {
	cfg, err := DecodeKafkaConfig(c.Options)
	if err != nil {
		return nil, err
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // Use hash balancer for consistent routing
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false, // Synchronous for error handling
	}

	switch cfg.Compression {
	case "none", "":
		writerConfig.CompressionCodec = nil
	case "gzip":
		writerConfig.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerConfig.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerConfig.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("invalid compression type: %s", cfg.Compression)
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"brokers":     cfg.Brokers,
		"topic":       cfg.Topic,
		"compression": cfg.Compression,
		"encoding":    cfg.Encoding,
	}).Info("kafka forwarder created")

	return newKafkaForwarder(kafka.NewWriter(writerConfig), cfg), nil
}

func newKafkaForwarder(w messageWriter, cfg KafkaConfig) *KafkaForwarder {
	return &KafkaForwarder{writer: w, config: cfg}
}

func (f *KafkaForwarder) Name() string { return "kafka" }

// Forward writes all records as one synchronous batch.
func (f *KafkaForwarder) Forward(ctx context.Context, records []any) error {
	msgs := make([]kafka.Message, 0, len(records))
	now := time.Now()
	for _, r := range records {
		value, err := f.encode(r)
		if err != nil {
			f.errorCount.Add(1)
			return fmt.Errorf("serialize record failed: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: f.key(r), Value: value, Time: now})
	}

	if err := f.writer.WriteMessages(ctx, msgs...); err != nil {
		f.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	f.sentCount.Add(uint64(len(msgs)))
	return nil
}

// Flush is a no-op: writes are synchronous.
func (f *KafkaForwarder) Flush(context.Context) error { return nil }

func (f *KafkaForwarder) Close(context.Context) error {
	err := f.writer.Close()
	log.GetLogger().WithFields(map[string]interface{}{
		"total_sent":   f.sentCount.Load(),
		"total_errors": f.errorCount.Load(),
	}).Info("kafka forwarder stopped")
	return err
}

func (f *KafkaForwarder) encode(record any) ([]byte, error) {
	if f.config.Encoding != "protobuf" {
		return Encode(record)
	}
	v, err := structpb.NewValue(normalize(record))
	if err != nil {
		return nil, err
	}
	return proto.Marshal(v)
}

func (f *KafkaForwarder) key(record any) []byte {
	if f.config.KeyField == "" {
		return nil
	}
	var v any
	switch r := record.(type) {
	case *dsl.Record:
		v, _ = r.Get(f.config.KeyField)
	case map[string]any:
		v = r[f.config.KeyField]
	}
	if v == nil {
		return nil
	}
	return []byte(fmt.Sprint(v))
}

// normalize converts records into types structpb accepts.
func normalize(record any) any {
	switch r := record.(type) {
	case *dsl.Record:
		return r.Map()
	case []byte:
		b, _ := Encode(r)
		return string(b)
	}
	return record
}
