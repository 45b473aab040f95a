package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher publishes reading and historic payloads to the broker.
// Per spec §7, a broker disconnect is an external collaborator's
// problem: publish attempts are dropped, not queued unboundedly, while
// disconnected.
type MQTTPublisher struct {
	client  MQTT.Client
	channel string
	logger  *log.Logger
}

// NewMQTTPublisher connects to brokerURL and returns a publisher scoped
// to the given channel name (the "<channel>" in EMA/<channel>/...).
func NewMQTTPublisher(brokerURL, clientID, channel string, logger *log.Logger) (*MQTTPublisher, error) {
	opts := MQTT.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	client := MQTT.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("publish: timed out connecting to broker %s", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("publish: connecting to broker %s: %w", brokerURL, err)
	}
	return &MQTTPublisher{client: client, channel: channel, logger: logger}, nil
}

// topic builds EMA/<channel>/<suffix>.
func (m *MQTTPublisher) topic(suffix string) string {
	return fmt.Sprintf("EMA/%s/%s", m.channel, suffix)
}

// PublishRegister sends the one-time device parameter inventory.
func (m *MQTTPublisher) PublishRegister(p RegisterPayload) {
	m.publish("EMA/register", p)
}

// PublishEvent sends a level/message event.
func (m *MQTTPublisher) PublishEvent(p EventPayload) {
	m.publish(m.topic("events"), p)
}

// PublishCurrentState sends a per-upload-period snapshot.
func (m *MQTTPublisher) PublishCurrentState(p CurrentState) {
	m.publish(m.topic("current/state"), p)
}

// PublishHistoricMinmax sends the daily 24-tuple minmax payload.
func (m *MQTTPublisher) PublishHistoricMinmax(p HistoricMinmax) {
	m.publish(m.topic("historic/minmax"), p)
}

// PublishHistoricAverage sends the daily 288-tuple average payload.
func (m *MQTTPublisher) PublishHistoricAverage(p HistoricAverage) {
	m.publish(m.topic("historic/average"), p)
}

func (m *MQTTPublisher) publish(topic string, payload interface{}) {
	if !m.client.IsConnected() {
		if m.logger != nil {
			m.logger.Printf("publish: dropping message on %s, broker disconnected", topic)
		}
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		if m.logger != nil {
			m.logger.Printf("publish: encoding payload for %s: %v", topic, err)
		}
		return
	}
	token := m.client.Publish(topic, 0, false, b)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil && m.logger != nil {
			m.logger.Printf("publish: %s: %v", topic, err)
		}
	}()
}

// Close disconnects from the broker.
func (m *MQTTPublisher) Close() {
	m.client.Disconnect(250)
}
