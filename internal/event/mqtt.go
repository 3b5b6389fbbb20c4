package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrWong99/ander/internal/resilience"
)

const (
	mqttQueue          = 64
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// mqttClient is the subset of [mqtt.Client] the sink uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTSink republishes bus events to an MQTT broker on
// "<prefix>/<owner>/<kind>". Security and door events are retained so a
// newly connected subscriber sees the current state.
type MQTTSink struct {
	client  mqttClient
	prefix  string
	qos     byte
	breaker *resilience.CircuitBreaker

	mu     sync.Mutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// DialMQTT connects to the broker and starts the publishing worker.
func DialMQTT(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("event: mqtt: broker is required")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("event: mqtt connection lost", "broker", cfg.Broker, "err", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("event: mqtt: connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("event: mqtt: connect to %s: %w", cfg.Broker, err)
	}
	slog.Info("event: mqtt connected", "broker", cfg.Broker)
	return newMQTTSink(client, cfg), nil
}

func newMQTTSink(client mqttClient, cfg MQTTConfig) *MQTTSink {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "ander"
	}
	s := &MQTTSink{
		client:  client,
		prefix:  prefix,
		qos:     cfg.QoS,
		breaker: resilience.New(resilience.Config{Name: "mqtt", MaxFailures: 3, ResetTimeout: 15 * time.Second}),
		queue:   make(chan Event, mqttQueue),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Handle is a [Handler] queueing ev for publication. Events are dropped
// when the queue is full.
func (s *MQTTSink) Handle(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		slog.Warn("event: mqtt queue full, dropping event", "kind", ev.Kind, "owner", ev.Owner)
	}
}

// Topic returns the topic an event is published on.
func (s *MQTTSink) Topic(ev Event) string {
	owner := ev.Owner
	if owner == "" {
		owner = "_"
	}
	return s.prefix + "/" + owner + "/" + string(ev.Kind)
}

// Connected reports whether the broker connection is up.
func (s *MQTTSink) Connected() bool { return s.client.IsConnected() }

// Close drains the queue and disconnects.
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	s.client.Disconnect(250)
	return nil
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		if err := s.publish(ev); err != nil {
			slog.Warn("event: mqtt publish failed", "topic", s.Topic(ev), "err", err)
		}
	}
}

func (s *MQTTSink) publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event: mqtt: encode: %w", err)
	}
	retained := ev.Kind != StateChanged
	ctx, cancel := context.WithTimeout(context.Background(), mqttPublishTimeout)
	defer cancel()

	return s.breaker.Execute(ctx, func(context.Context) error {
		token := s.client.Publish(s.Topic(ev), s.qos, retained, payload)
		if !token.WaitTimeout(mqttPublishTimeout) {
			return errors.New("event: mqtt: publish timed out")
		}
		return token.Error()
	})
}
