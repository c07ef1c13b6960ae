package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cell-balancer/internal/config"
	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

// CommandHandler answers one command payload. A nil reply publishes nothing.
type CommandHandler func(payload []byte) []byte

// RealClient publishes to an actual MQTT broker and feeds the command topic
// to a handler.
type RealClient struct {
	client paho.Client
	topics Topics
}

// NewRealClient connects to the configured broker. The command subscription
// is renewed on every reconnect.
func NewRealClient(cfg config.MQTT, onCommand CommandHandler) (*RealClient, error) {
	topics := NewTopics(cfg.TopicPrefix)

	will, err := FormatEvent(Event{Timestamp: time.Now(), Name: EventOffline})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(topics.Events, string(will), 1, false)

	c := &RealClient{topics: topics}
	opts.SetOnConnectHandler(func(client paho.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		if onCommand == nil {
			return
		}
		token := client.Subscribe(topics.Command, 1, commandHandler(onCommand, c.reply))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topics.Command).Msg("MQTT subscribe failed")
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func commandHandler(onCommand CommandHandler, reply func(payload []byte)) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		if out := onCommand(msg.Payload()); out != nil {
			reply(out)
		}
	}
}

func (c *RealClient) reply(payload []byte) {
	if err := c.publish(c.topics.Reply, 0, false, payload); err != nil {
		log.Warn().Err(err).Msg("MQTT reply failed")
	}
}

// PublishStatus sends the status retained so new subscribers see the latest.
func (c *RealClient) PublishStatus(status model.Status) error {
	payload, err := FormatStatus(status)
	if err != nil {
		return fmt.Errorf("format status: %w", err)
	}
	return c.publish(c.topics.Status, 0, true, payload)
}

// PublishEvent sends a lifecycle or fault event at QoS 1.
func (c *RealClient) PublishEvent(event Event) error {
	payload, err := FormatEvent(event)
	if err != nil {
		return fmt.Errorf("format event: %w", err)
	}
	return c.publish(c.topics.Events, 1, false, payload)
}

func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000)
	return nil
}
