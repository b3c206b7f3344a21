package listener

import (
	"context"
	"encoding/json"
	"time"

	"github.com/YASSERRMD/naseejmesh/internal/adapter/mqtt"
	"github.com/YASSERRMD/naseejmesh/internal/message"
)

// MQTTListener holds the broker connection for one MQTT listener spec.
// Unlike the socket listeners it is a client: "start" means connect
// and subscribe, "stop" means disconnect after a quiesce period.
type MQTTListener struct {
	id     string
	addr   string
	client *mqtt.Client
}

// NewMQTTListener builds the broker client from the listener's
// protocol config document.
func NewMQTTListener(id, addr string, doc json.RawMessage, handler mqtt.Handler) (*MQTTListener, error) {
	cfg, err := mqtt.ParseConfig(doc)
	if err != nil {
		return nil, err
	}
	return &MQTTListener{
		id:     id,
		addr:   addr,
		client: mqtt.NewClient(cfg, handler),
	}, nil
}

func (m *MQTTListener) ID() string                 { return m.id }
func (m *MQTTListener) Protocol() message.Protocol { return message.ProtocolMQTT }
func (m *MQTTListener) Addr() string               { return m.addr }

// Start connects to the broker; subscriptions are established on
// connect and re-established after every reconnect.
func (m *MQTTListener) Start(ctx context.Context) error {
	return m.client.Connect()
}

// Stop disconnects, allowing in-flight handlers the remainder of ctx's
// deadline to finish.
func (m *MQTTListener) Stop(ctx context.Context) error {
	quiesce := uint(1000)
	if deadline, ok := ctx.Deadline(); ok {
		if ms := time.Until(deadline).Milliseconds(); ms > 0 {
			quiesce = uint(ms)
		}
	}
	m.client.Disconnect(quiesce)
	return nil
}
