package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/insightdesk/internal/insight/domain"
	"go.uber.org/zap"
)

// Publisher announces collection changes.
type Publisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

// NewEvent stamps a change event with a sortable unique id.
func NewEvent(kind domain.ChangeKind, insightID, origin string, at time.Time) domain.ChangeEvent {
	return domain.ChangeEvent{
		ID:        ulid.Make().String(),
		Kind:      kind,
		InsightID: insightID,
		Origin:    origin,
		At:        at.UTC(),
	}
}

// Origin names this process in change events.
func Origin(nodeID int64) string {
	return "node-" + strconv.FormatInt(nodeID, 10)
}

// Bus publishes to the local hub and, when redis is configured, to a pub/sub
// channel shared with the other nodes.
type Bus struct {
	hub     *Hub
	client  *redis.Client
	channel string
	origin  string
	log     *zap.Logger
}

func NewBus(hub *Hub, client *redis.Client, channel, origin string, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		hub:     hub,
		client:  client,
		channel: channel,
		origin:  origin,
		log:     log.Named("insight.events"),
	}
}

func (b *Bus) Origin() string { return b.origin }

// Publish always reaches local subscribers; a redis failure is returned but
// the local delivery stands.
func (b *Bus) Publish(ctx context.Context, event domain.ChangeEvent) error {
	if event.Origin == "" {
		event.Origin = b.origin
	}
	b.hub.Publish(TopicInsights, event)

	if b.client == nil {
		return nil
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Forward relays events published by other nodes into the local hub until
// ctx ends.
func (b *Bus) Forward(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				b.relay([]byte(m.Payload))
			}
		}
	}()
	return nil
}

func (b *Bus) relay(payload []byte) {
	var event domain.ChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		b.log.Warn("bad change event payload", zap.Error(err))
		return
	}
	if event.Origin == b.origin {
		return
	}
	b.hub.Publish(TopicInsights, event)
}
