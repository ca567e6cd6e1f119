// Package mqttpub republishes presentation state to an MQTT broker. Readings
// and faults go to distinct retained topics per device so late subscribers
// receive the latest state immediately.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/thermolink/sensord/internal/app/domain/reading"
	"github.com/thermolink/sensord/internal/app/services/refresh"
	"github.com/thermolink/sensord/pkg/logger"
)

// DefaultTopicPrefix roots the per-device topics when none is configured.
const DefaultTopicPrefix = "sensord"

const publishTimeout = 5 * time.Second

// Config carries broker settings for Connect.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher implements refresh.PresentationSink on top of an MQTT client.
type Publisher struct {
	client mqtt.Client
	prefix string
	log    *logger.Logger
}

var _ refresh.PresentationSink = (*Publisher)(nil)

// Connect dials the broker and returns a ready publisher.
func Connect(cfg Config, log *logger.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker address is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "sensord"
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return New(client, cfg.TopicPrefix, log), nil
}

// New wraps an already connected client. Used by Connect and by tests.
func New(client mqtt.Client, prefix string, log *logger.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if log == nil {
		log = logger.NewDefault("mqttpub")
	}
	return &Publisher{client: client, prefix: prefix, log: log}
}

type readingPayload struct {
	DeviceID     string   `json:"deviceId"`
	TemperatureC *float64 `json:"temperatureC,omitempty"`
	HumidityPct  *float64 `json:"humidityPct,omitempty"`
	BatteryPct   *int     `json:"batteryPct,omitempty"`
	LowBattery   bool     `json:"lowBattery"`
	Transport    string   `json:"transport"`
	UpdatedAt    int64    `json:"updatedAt"`
}

type faultPayload struct {
	DeviceID  string `json:"deviceId"`
	Fault     string `json:"fault"`
	Transport string `json:"transport"`
	UpdatedAt int64  `json:"updatedAt"`
}

// PublishReading publishes the reading retained and clears the retained fault
// so reconnecting subscribers cannot resurrect a failure that has recovered.
func (p *Publisher) PublishReading(_ context.Context, st reading.Status) error {
	payload, err := json.Marshal(readingPayload{
		DeviceID:     st.DeviceID,
		TemperatureC: st.Reading.TemperatureC,
		HumidityPct:  st.Reading.HumidityPct,
		BatteryPct:   st.Reading.BatteryPct,
		LowBattery:   st.Reading.LowBattery,
		Transport:    st.Transport,
		UpdatedAt:    st.UpdatedAt.UTC().Unix(),
	})
	if err != nil {
		return err
	}
	if err := p.publish(p.topic(st.DeviceID, "reading"), payload); err != nil {
		return err
	}
	return p.publish(p.topic(st.DeviceID, "fault"), nil)
}

// PublishFault publishes the fault retained. The reading topic keeps its last
// good value.
func (p *Publisher) PublishFault(_ context.Context, st reading.Status) error {
	payload, err := json.Marshal(faultPayload{
		DeviceID:  st.DeviceID,
		Fault:     st.Fault,
		Transport: st.Transport,
		UpdatedAt: st.UpdatedAt.UTC().Unix(),
	})
	if err != nil {
		return err
	}
	return p.publish(p.topic(st.DeviceID, "fault"), payload)
}

// Close disconnects from the broker, allowing in-flight messages to drain.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func (p *Publisher) topic(deviceID, leaf string) string {
	return p.prefix + "/" + deviceID + "/" + leaf
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
