package kafkapub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/thermolink/sensord/internal/app/domain/reading"
)

type recordingWriter struct {
	err      error
	messages []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func TestSink_RecordSampleKeysByDevice(t *testing.T) {
	writer := &recordingWriter{}
	sink := newSink(writer, nil)

	at := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	err := sink.RecordSample(context.Background(), "meter-1", reading.Reading{
		TemperatureC: reading.Float(21.5),
		HumidityPct:  reading.Float(45),
		SampledAt:    at,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "meter-1" {
		t.Fatalf("wrong key: %q", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Fatalf("wrong message time: %v", msg.Time)
	}

	var decoded samplePayload
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.DeviceID != "meter-1" {
		t.Fatalf("device lost: %q", decoded.DeviceID)
	}
	if decoded.TemperatureC == nil || *decoded.TemperatureC != 21.5 {
		t.Fatalf("temperature lost: %v", decoded.TemperatureC)
	}
	if decoded.HumidityPct == nil || *decoded.HumidityPct != 45 {
		t.Fatalf("humidity lost: %v", decoded.HumidityPct)
	}
	if decoded.SampledAt != at.Unix() {
		t.Fatalf("sampled_at lost: %d", decoded.SampledAt)
	}
}

func TestSink_AbsentFieldsStayAbsent(t *testing.T) {
	writer := &recordingWriter{}
	sink := newSink(writer, nil)

	err := sink.RecordSample(context.Background(), "meter-1", reading.Reading{
		HumidityPct: reading.Float(52),
		SampledAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(writer.messages[0].Value, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, present := raw["temperatureC"]; present {
		t.Fatalf("absent temperature serialized: %v", raw)
	}
}

func TestSink_WriteErrorSurfaces(t *testing.T) {
	writer := &recordingWriter{err: errors.New("broker down")}
	sink := newSink(writer, nil)

	err := sink.RecordSample(context.Background(), "meter-1", reading.Reading{
		HumidityPct: reading.Float(40),
		SampledAt:   time.Now(),
	})
	if err == nil {
		t.Fatalf("expected write error")
	}
}

func TestNew_RequiresBrokers(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
