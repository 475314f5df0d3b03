// Package publish forwards computed balancing reports to an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/CK6170/Rotorbalance-go/balance"
	"github.com/CK6170/Rotorbalance-go/internal/config"
	"github.com/CK6170/Rotorbalance-go/modern"
)

// Publisher receives every successful report.
type Publisher interface {
	Publish(r *modern.Report) error
	Close()
}

// Message is the wire payload; curves stay out of it.
type Message struct {
	Time            time.Time                  `json:"time"`
	Serial          string                     `json:"serial,omitempty"`
	Sensors         int                        `json:"sensors"`
	Planes          [2]balance.PlaneCorrection `json:"planes"`
	ResidualNorm    float64                    `json:"residual_norm"`
	Underdetermined bool                       `json:"underdetermined"`
	Opposite        bool                       `json:"opposite"`
}

func Payload(r *modern.Report, now time.Time) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("report nil")
	}
	return json.Marshal(Message{
		Time:            now.UTC(),
		Serial:          r.Serial,
		Sensors:         r.Sensors,
		Planes:          r.Planes,
		ResidualNorm:    r.ResidualNorm,
		Underdetermined: r.Underdetermined,
		Opposite:        r.Opposite,
	})
}

type nop struct{}

func (nop) Publish(*modern.Report) error { return nil }
func (nop) Close()                       {}

// MQTT publishes at QoS 0, not retained.
type MQTT struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// New connects to cfg.Broker. With no broker configured it returns a
// publisher that drops everything.
func New(cfg config.MQTTConfig, log *zap.Logger) (Publisher, error) {
	if cfg.Broker == "" {
		return nop{}, nil
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	log.Info("connected to MQTT", zap.String("broker", cfg.Broker), zap.String("topic", cfg.Topic))
	return newMQTT(client, cfg.Topic, log), nil
}

func newMQTT(client mqtt.Client, topic string, log *zap.Logger) *MQTT {
	return &MQTT{client: client, topic: topic, timeout: 2 * time.Second, log: log, now: time.Now}
}

func (m *MQTT) Publish(r *modern.Report) error {
	payload, err := Payload(r, m.now())
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, 0, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("MQTT publish to %s timed out", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish to %s: %w", m.topic, err)
	}
	m.log.Debug("report published", zap.String("topic", m.topic), zap.Int("bytes", len(payload)))
	return nil
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
