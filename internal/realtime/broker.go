package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisEventsChannel = "campuschat:events"
	subscriberBuffer   = 256
)

// Broker carries events between the services that produce them and every
// hub that delivers them.
type Broker interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel that is closed once ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// LocalBroker fans events out inside one process. Slow subscribers lose
// events rather than block publishers.
type LocalBroker struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	logger      *zap.Logger
}

func NewLocalBroker(logger *zap.Logger) *LocalBroker {
	return &LocalBroker{
		subscribers: make(map[chan Event]struct{}),
		logger:      logger,
	}
}

func (b *LocalBroker) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber",
				zap.String("type", event.Type),
				zap.Int64("conversation_id", event.ConversationID),
			)
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

// RedisBroker publishes events on a shared Redis channel so every server
// instance sees every notification.
type RedisBroker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBroker(rdb *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, redisEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := b.rdb.Subscribe(ctx, redisEventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", redisEventsChannel, err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("skipping malformed event", zap.Error(err))
					continue
				}
				select {
				case out <- event:
				default:
					b.logger.Warn("dropping event for slow subscriber",
						zap.String("type", event.Type),
						zap.Int64("conversation_id", event.ConversationID),
					)
				}
			}
		}
	}()

	return out, nil
}
