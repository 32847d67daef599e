package enrichment

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/list-enricher/internal/model"
)

// natsConn is the part of *nats.Conn the bridge uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type envelope struct {
	Origin string                `json:"origin"`
	Event  model.EnrichmentEvent `json:"event"`
}

// NATSBridge publishes events locally and on <prefix>.<listID>, and feeds
// events from other instances into the local registry.
type NATSBridge struct {
	conn     natsConn
	prefix   string
	origin   string
	registry *Registry
}

// NewNATSBridge wires a registry to a NATS connection.
func NewNATSBridge(conn natsConn, prefix string, registry *Registry) *NATSBridge {
	if prefix == "" {
		prefix = "enrichment"
	}
	return &NATSBridge{conn: conn, prefix: prefix, origin: uuid.NewString(), registry: registry}
}

// Publish implements Publisher.
func (b *NATSBridge) Publish(ev model.EnrichmentEvent) {
	b.registry.Publish(ev)

	data, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		zap.L().Error("enrichment: encode event", zap.Error(err))
		return
	}
	if err := b.conn.Publish(b.prefix+"."+ev.ListID, data); err != nil {
		zap.L().Warn("enrichment: nats publish", zap.String("list_id", ev.ListID), zap.Error(err))
	}
}

// Start subscribes to events from other instances.
func (b *NATSBridge) Start() (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(b.prefix+".*", b.handle)
	if err != nil {
		return nil, eris.Wrap(err, "enrichment: nats subscribe")
	}
	return sub, nil
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		zap.L().Warn("enrichment: decode nats event", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.registry.Publish(env.Event)
}
