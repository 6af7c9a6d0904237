// Package kafka implements the Kafka observer.
// It dissects frames and publishes the records as JSON with batching and
// compression.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/anansi/internal/config"
	"firestige.xyz/anansi/internal/core"
	"firestige.xyz/anansi/internal/dissect"
	"firestige.xyz/anansi/internal/metrics"
	"firestige.xyz/anansi/pkg/plugin"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = time.Second
	defaultMaxAttempts  = 3
	writeTimeout        = 5 * time.Second
)

// messageWriter is the part of *kafka.Writer the observer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config represents Kafka observer configuration.
type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string // none|gzip|snappy|lz4|zstd
	Filter       config.FilterConfig
}

// Observer publishes dissected records to Kafka.
type Observer struct {
	config Config
	writer messageWriter

	// Statistics
	published atomic.Uint64
	filtered  atomic.Uint64
	errors    atomic.Uint64
}

// New creates an observer backed by an asynchronous kafka-go writer.
func New(cfg Config) (*Observer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	o := &Observer{config: cfg}
	writerConfig := kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{}, // same endpoints, same partition
		BatchSize:        cfg.BatchSize,
		BatchTimeout:     cfg.BatchTimeout,
		MaxAttempts:      defaultMaxAttempts,
		WriteTimeout:     writeTimeout,
		CompressionCodec: codec,
		// The capture loop must not wait for the broker.
		Async: true,
	}
	w := kafka.NewWriter(writerConfig)
	w.Completion = o.completion
	o.writer = w
	return o, nil
}

// newWithWriter wires an arbitrary writer; tests only.
func newWithWriter(cfg Config, w messageWriter) *Observer {
	return &Observer{config: cfg, writer: w}
}

// Factory builds the observer when output.kafka.brokers is set.
func Factory(env plugin.Env) (plugin.Observer, error) {
	k := env.Config.Output.Kafka
	if !k.Enabled() {
		return nil, nil
	}
	o, err := New(Config{
		Brokers:      k.Brokers,
		Topic:        k.Topic,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		Compression:  k.Compression,
		Filter:       env.Filter,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("kafka observer started",
		"brokers", k.Brokers,
		"topic", k.Topic,
		"batch_size", o.config.BatchSize,
		"batch_timeout", o.config.BatchTimeout,
		"compression", k.Compression,
	)
	return o, nil
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	default:
		return nil, fmt.Errorf("invalid compression type: %s", name)
	}
}

// Name returns the plugin name.
func (o *Observer) Name() string {
	return "kafka"
}

// HandleFrame dissects f and enqueues the record if the filter allows.
func (o *Observer) HandleFrame(f core.RawFrame) error {
	rec := dissect.Dissect(f)
	if !o.config.Filter.Allows(rec) {
		o.filtered.Add(1)
		return nil
	}

	value, err := json.Marshal(rec)
	if err != nil {
		o.errors.Add(1)
		return fmt.Errorf("serialize record failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(recordKey(rec)),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "protocol", Value: []byte(rec.Protocol)},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := o.writer.WriteMessages(ctx, msg); err != nil {
		o.errors.Add(1)
		metrics.KafkaMessagesTotal.WithLabelValues(o.config.Topic, "error").Inc()
		return fmt.Errorf("kafka write failed: %w", err)
	}
	o.published.Add(1)
	return nil
}

// completion receives the outcome of asynchronous batches.
func (o *Observer) completion(msgs []kafka.Message, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		o.errors.Add(uint64(len(msgs)))
		slog.Warn("kafka batch failed", "topic", o.config.Topic, "messages", len(msgs), "error", err)
	}
	metrics.KafkaMessagesTotal.WithLabelValues(o.config.Topic, status).Add(float64(len(msgs)))
}

// recordKey groups a conversation direction: "src:port>dst:port".
func recordKey(rec core.ProtocolRecord) string {
	if !rec.HasPorts() {
		return rec.Source + ">" + rec.Destination
	}
	return rec.Source + ":" + strconv.Itoa(int(rec.SrcPort)) + ">" +
		rec.Destination + ":" + strconv.Itoa(int(rec.DstPort))
}

// Close flushes pending messages and closes the writer.
func (o *Observer) Close() error {
	err := o.writer.Close()
	if err != nil {
		slog.Error("error closing kafka writer", "error", err)
	}
	slog.Info("kafka observer stopped",
		"total_published", o.published.Load(),
		"total_filtered", o.filtered.Load(),
		"total_errors", o.errors.Load(),
	)
	return err
}
