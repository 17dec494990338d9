package mqtt

import (
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/status"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	prefix string
}

// NewRealPublisher connects to the broker. The system topic carries a
// retained ONLINE message, replaced by the broker with OFFLINE if the
// connection drops.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	prefix := strings.TrimSuffix(o.TopicPrefix, "/")
	p := &RealPublisher{prefix: prefix}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topic(TopicSystem), string(formatSystemPayload("OFFLINE", time.Time{})), 1, true).
		SetOnConnectHandler(func(c paho.Client) {
			log.Info().Str("broker", o.Broker).Msg("MQTT connected")
			c.Publish(p.topic(TopicSystem), 1, true, formatSystemPayload("ONLINE", time.Now()))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) topic(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(p.topic(topic), qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishEvent sends a pump transition at QoS 1.
func (p *RealPublisher) PublishEvent(e PumpEvent) error {
	payload, err := FormatEventPayload(e)
	if err != nil {
		return fmt.Errorf("format event payload: %w", err)
	}
	return p.publish(TopicEvents, 1, false, payload)
}

// PublishStatus sends a retained status document at QoS 0.
func (p *RealPublisher) PublishStatus(doc status.System) error {
	payload, err := FormatStatusPayload(doc)
	if err != nil {
		return fmt.Errorf("format status payload: %w", err)
	}
	return p.publish(TopicStatus, 0, true, payload)
}

// Close announces OFFLINE and disconnects.
func (p *RealPublisher) Close() error {
	if err := p.publish(TopicSystem, 1, true, formatSystemPayload("OFFLINE", time.Now())); err != nil {
		log.Warn().Err(err).Msg("Failed to publish MQTT offline message")
	}
	p.client.Disconnect(1000)
	return nil
}
