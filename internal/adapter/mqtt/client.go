// Package mqtt is the MQTT ingress/egress adapter: an outbound client
// that subscribes to configured topic filters, converts received
// messages into universal contexts, and publishes contexts back out.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/YASSERRMD/naseejmesh/internal/logging"
	"github.com/YASSERRMD/naseejmesh/internal/message"
	"github.com/YASSERRMD/naseejmesh/internal/tracing"
)

// Subscription is one topic filter with its QoS.
type Subscription struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// Config describes the broker connection. It is the protocol-specific
// document carried by an MQTT listener spec.
type Config struct {
	ClientID      string         `json:"client_id"`
	BrokerURL     string         `json:"broker_url"`
	Username      string         `json:"username,omitempty"`
	Password      string         `json:"password,omitempty"`
	KeepAliveSecs int            `json:"keep_alive_secs"`
	CleanSession  *bool          `json:"clean_session,omitempty"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// ParseConfig decodes a listener's protocol config document.
func ParseConfig(doc json.RawMessage) (Config, error) {
	var cfg Config
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &cfg); err != nil {
			return cfg, fmt.Errorf("mqtt: decode config: %w", err)
		}
	}
	if cfg.BrokerURL == "" {
		return cfg, fmt.Errorf("mqtt: broker_url is required")
	}
	if cfg.ClientID == "" {
		return cfg, fmt.Errorf("mqtt: client_id is required")
	}
	if cfg.KeepAliveSecs <= 0 {
		cfg.KeepAliveSecs = 60
	}
	return cfg, nil
}

// Handler consumes contexts built from received messages. Messages on
// the same topic arrive in receipt order.
type Handler func(ctx *message.Context)

// Client wraps the paho client with reconnect backoff and context
// conversion.
type Client struct {
	cfg     Config
	client  paho.Client
	handler Handler
}

// NewClient builds a client; Connect must be called before use.
func NewClient(cfg Config, handler Handler) *Client {
	c := &Client{cfg: cfg, handler: handler}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(time.Duration(cfg.KeepAliveSecs) * time.Second).
		SetAutoReconnect(true).
		SetConnectionLostHandler(c.onConnectionLost).
		SetOnConnectHandler(c.onConnect)

	if cfg.CleanSession != nil {
		opts.SetCleanSession(*cfg.CleanSession)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.client = paho.NewClient(opts)
	return c
}

// Connect dials the broker, retrying with exponential backoff until it
// succeeds or the backoff gives up.
func (c *Client) Connect() error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute

	return backoff.Retry(func() error {
		tok := c.client.Connect()
		tok.Wait()
		if err := tok.Error(); err != nil {
			logging.Warn("mqtt connect failed, retrying",
				zap.String("broker", c.cfg.BrokerURL),
				zap.Error(err),
			)
			return err
		}
		return nil
	}, policy)
}

// onConnect re-establishes subscriptions after every (re)connect.
func (c *Client) onConnect(client paho.Client) {
	logging.Info("mqtt connected", zap.String("broker", c.cfg.BrokerURL))
	for _, sub := range c.cfg.Subscriptions {
		topic := sub.Topic
		tok := client.Subscribe(topic, sub.QoS, c.onMessage)
		tok.Wait()
		if err := tok.Error(); err != nil {
			logging.Error("mqtt subscribe failed",
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}
		logging.Debug("mqtt subscribed", zap.String("topic", topic))
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	logging.Warn("mqtt connection lost", zap.Error(err))
}

// onMessage converts a received message into a universal context and
// hands it to the handler.
func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	ctx := message.New(message.ProtocolMQTT, msg.Topic(), msg.Payload())
	ctx.Source = c.cfg.ClientID
	ctx.SetMeta("mqtt.qos", strconv.Itoa(int(msg.Qos())))
	ctx.SetMeta("mqtt.retain", strconv.FormatBool(msg.Retained()))

	// Only mqtt.qos and mqtt.retain are set in the metadata here: MQTT
	// user properties are not copied into the context, so the traceparent
	// and trace_id lookups below find a value only if some earlier step
	// set those keys. Otherwise the fresh trace ID from message.New stays.
	if tp := ctx.Meta("traceparent"); tp != "" {
		if traceID, spanID, ok := tracing.ParseTraceparent(tp); ok {
			ctx.TraceID = traceID
			ctx.ParentSpanID = spanID
		}
	} else if tid := ctx.Meta("trace_id"); len(tid) == 32 {
		ctx.TraceID = tid
	}

	if c.handler != nil {
		c.handler(ctx)
	}
}

// Publish sends a context's payload to its destination topic. The QoS
// comes from the context's mqtt.qos metadata, defaulting to 1.
func (c *Client) Publish(ctx *message.Context) error {
	qos := byte(1)
	if q, err := strconv.Atoi(ctx.Meta("mqtt.qos")); err == nil && q >= 0 && q <= 2 {
		qos = byte(q)
	}
	retain := ctx.Meta("mqtt.retain") == "true"

	tok := c.client.Publish(ctx.Destination, qos, retain, ctx.Payload.Bytes())
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", ctx.Destination, err)
	}
	return nil
}

// Disconnect closes the broker connection, allowing quiesce
// milliseconds for in-flight work.
func (c *Client) Disconnect(quiesceMS uint) {
	c.client.Disconnect(quiesceMS)
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
