package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/thermolink/sensord/internal/app/domain/reading"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes. The embedded interface panics on anything the
// publisher should never call.
type fakeClient struct {
	mqtt.Client
	publishErr error
	messages   []published
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	body, _ := payload.([]byte)
	c.messages = append(c.messages, published{topic: topic, retained: retained, payload: body})
	return doneToken{err: c.publishErr}
}

func (c *fakeClient) Disconnect(uint) {}

func status(fault string) reading.Status {
	st := reading.Status{
		DeviceID:  "meter-1",
		Transport: "broadcast",
		UpdatedAt: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
	if fault != "" {
		st.Fault = fault
		return st
	}
	st.Reading = reading.Reading{
		TemperatureC: reading.Float(21.5),
		HumidityPct:  reading.Float(44),
		BatteryPct:   reading.Int(80),
	}
	return st
}

func TestPublisher_ReadingClearsRetainedFault(t *testing.T) {
	client := &fakeClient{}
	pub := New(client, "home", nil)

	if err := pub.PublishReading(context.Background(), status("")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(client.messages) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(client.messages))
	}

	msg := client.messages[0]
	if msg.topic != "home/meter-1/reading" {
		t.Fatalf("wrong topic: %s", msg.topic)
	}
	if !msg.retained {
		t.Fatalf("reading must be retained")
	}
	var decoded readingPayload
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.DeviceID != "meter-1" || decoded.TemperatureC == nil || *decoded.TemperatureC != 21.5 {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	if decoded.Transport != "broadcast" {
		t.Fatalf("transport lost: %q", decoded.Transport)
	}

	reset := client.messages[1]
	if reset.topic != "home/meter-1/fault" {
		t.Fatalf("wrong clear topic: %s", reset.topic)
	}
	if len(reset.payload) != 0 {
		t.Fatalf("fault clear must be empty, got %q", reset.payload)
	}
	if !reset.retained {
		t.Fatalf("fault clear must be retained")
	}
}

func TestPublisher_FaultKeepsReadingTopic(t *testing.T) {
	client := &fakeClient{}
	pub := New(client, "", nil)

	if err := pub.PublishFault(context.Background(), status("broadcast scan failed")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(client.messages) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.messages))
	}
	msg := client.messages[0]
	if msg.topic != DefaultTopicPrefix+"/meter-1/fault" {
		t.Fatalf("wrong topic: %s", msg.topic)
	}
	var decoded faultPayload
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Fault != "broadcast scan failed" {
		t.Fatalf("fault lost: %q", decoded.Fault)
	}
}

func TestPublisher_PublishErrorSurfaces(t *testing.T) {
	client := &fakeClient{publishErr: errors.New("broker gone")}
	pub := New(client, "", nil)

	if err := pub.PublishReading(context.Background(), status("")); err == nil {
		t.Fatalf("expected publish error")
	}
}
