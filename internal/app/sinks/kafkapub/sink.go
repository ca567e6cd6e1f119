// Package kafkapub streams recorded samples to a Kafka topic for downstream
// archival pipelines.
package kafkapub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/services/refresh"
	"github.com/thermolink/sensord/pkg/logger"
)

// DefaultTopic receives samples when the configuration does not name one.
const DefaultTopic = "sensord.samples"

// messageWriter is the part of kafka.Writer the sink uses. Tests substitute
// a recorder.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Config carries producer settings for New.
type Config struct {
	Brokers []string
	Topic   string
}

// Sink implements refresh.HistorySink by producing one message per sample,
// keyed by device so each device's samples stay ordered within a partition.
type Sink struct {
	writer messageWriter
	log    *logger.Logger
}

var _ refresh.HistorySink = (*Sink)(nil)

// New builds a sink around a hash-balanced kafka.Writer.
func New(cfg Config, log *logger.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return newSink(w, log), nil
}

func newSink(w messageWriter, log *logger.Logger) *Sink {
	if log == nil {
		log = logger.NewDefault("kafkapub")
	}
	return &Sink{writer: w, log: log}
}

type samplePayload struct {
	DeviceID     string   `json:"deviceId"`
	TemperatureC *float64 `json:"temperatureC,omitempty"`
	HumidityPct  *float64 `json:"humidityPct,omitempty"`
	SampledAt    int64    `json:"sampledAt"`
}

// RecordSample produces one message per recorded observation.
func (s *Sink) RecordSample(ctx context.Context, deviceID string, r reading.Reading) error {
	payload, err := json.Marshal(samplePayload{
		DeviceID:     deviceID,
		TemperatureC: r.TemperatureC,
		HumidityPct:  r.HumidityPct,
		SampledAt:    r.SampledAt.UTC().Unix(),
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(deviceID),
		Value: payload,
		Time:  r.SampledAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write for device %s: %w", deviceID, err)
	}
	return nil
}

// Close flushes and closes the underlying producer.
func (s *Sink) Close() error {
	if w, ok := s.writer.(*kafka.Writer); ok {
		return w.Close()
	}
	return nil
}
