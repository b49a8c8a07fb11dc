package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

const (
	// defaultEventLogLen bounds each vault's event stream (XADD MAXLEN ~).
	defaultEventLogLen int64 = 10_000

	// eventField is the stream entry field holding the event JSON.
	eventField = "event"
)

// EventBus implements domain.EventBus. Every vault has a Pub/Sub channel for
// live delivery and a capped stream that late readers page through.
type EventBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewEventBus creates an EventBus keeping about maxLen events per vault. A
// non-positive maxLen uses the default of 10,000.
func NewEventBus(c *Client, maxLen int64) *EventBus {
	if maxLen <= 0 {
		maxLen = defaultEventLogLen
	}
	return &EventBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish appends payload to the vault's stream and publishes it on the
// vault's channel in one MULTI, so a subscriber never sees an event that
// the log does not hold.
func (b *EventBus) Publish(ctx context.Context, vault common.Address, payload []byte) (string, error) {
	var add *redis.StringCmd
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		add = p.XAdd(ctx, &redis.XAddArgs{
			Stream: eventLogKey(vault),
			MaxLen: b.maxLen,
			Approx: true,
			Values: map[string]any{eventField: payload},
		})
		p.Publish(ctx, eventChannel(vault), payload)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis: publish event for %s: %w", vault.Hex(), err)
	}
	return add.Val(), nil
}

// Subscribe delivers the vault's events until ctx is cancelled, then closes
// the returned channel.
func (b *EventBus) Subscribe(ctx context.Context, vault common.Address) (<-chan []byte, error) {
	channel := eventChannel(vault)
	pubsub := b.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
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
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Since reads up to count events logged after afterID, oldest first.
func (b *EventBus) Since(ctx context.Context, vault common.Address, afterID string, count int) ([]domain.EventRecord, error) {
	start := "-"
	if afterID != "" {
		if !validStreamID(afterID) {
			return nil, fmt.Errorf("redis: event id %q: %w", afterID, domain.ErrInvalidParam)
		}
		start = "(" + afterID
	}
	msgs, err := b.rdb.XRangeN(ctx, eventLogKey(vault), start, "+", int64(count)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: read events of %s: %w", vault.Hex(), err)
	}
	return eventRecords(msgs), nil
}

// Latest reads the newest count events, oldest first.
func (b *EventBus) Latest(ctx context.Context, vault common.Address, count int) ([]domain.EventRecord, error) {
	msgs, err := b.rdb.XRevRangeN(ctx, eventLogKey(vault), "+", "-", int64(count)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: read latest events of %s: %w", vault.Hex(), err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return eventRecords(msgs), nil
}

// eventRecords converts stream entries, skipping any without an event
// field.
func eventRecords(msgs []redis.XMessage) []domain.EventRecord {
	out := make([]domain.EventRecord, 0, len(msgs))
	for _, msg := range msgs {
		var data []byte
		switch v := msg.Values[eventField].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		out = append(out, domain.EventRecord{ID: msg.ID, Event: data})
	}
	return out
}

var _ domain.EventBus = (*EventBus)(nil)
