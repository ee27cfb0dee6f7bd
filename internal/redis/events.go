package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"personarelay/internal/logger"
	"personarelay/internal/models"
)

const eventChannel = "relay:events"

// envelope is the pub/sub wire form of models.Event.
type envelope struct {
	Room string          `json:"room,omitempty"`
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// EventBus fans events out to every relay instance through redis pub/sub.
type EventBus struct {
	client  *Client
	channel string
	log     *slog.Logger
}

func NewEventBus(client *Client) *EventBus {
	return &EventBus{client: client, channel: eventChannel, log: logger.For("eventbus")}
}

// Broadcast publishes ev to all subscribers, including this instance.
func (b *EventBus) Broadcast(ctx context.Context, ev models.Event) error {
	raw := b.client.Raw()
	if raw == nil {
		return errNotInitialized
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Name, err)
	}
	payload, err := json.Marshal(envelope{Room: ev.Room, Name: ev.Name, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := raw.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Name, err)
	}
	return nil
}

// Listen delivers published events to handler until ctx is done. The
// subscription is confirmed before Listen returns.
func (b *EventBus) Listen(ctx context.Context, handler func(models.Event)) error {
	raw := b.client.Raw()
	if raw == nil {
		return errNotInitialized
	}
	if handler == nil {
		return errors.New("event handler required")
	}
	pubsub := raw.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Warn("event decode failed", "err", err)
					continue
				}
				handler(models.Event{Room: env.Room, Name: env.Name, Data: env.Data})
			}
		}
	}()
	return nil
}
