package operations

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/shared-redis/pkg/logging"
	"github.com/Sternrassler/shared-redis/pkg/storeerr"
)

// ErrSubscriptionClosed is returned by Next once the subscription is closed.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Message is one payload delivered on a channel.
type Message struct {
	Channel string
	Payload string
}

// BroadcastingData publishes payload on channel. Delivery is fire-and-forget:
// the call does not wait for subscribers and nothing is kept for late ones.
func BroadcastingData(ctx context.Context, rdb redis.UniversalClient, channel, payload string) error {
	receivers, err := rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fail("publish", channel, err)
	}

	PubSubPublished.Inc()
	logger := logging.NewLogger("operations")
	logger.Debug().
		Str("channel", channel).
		Int64("receivers", receivers).
		Msg("Published message")
	return nil
}

// BroadcastJSON publishes v encoded as JSON.
func BroadcastJSON(ctx context.Context, rdb redis.UniversalClient, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		OpsErrors.WithLabelValues("publish").Inc()
		return storeerr.Serialization("publish", channel, err)
	}
	return BroadcastingData(ctx, rdb, channel, string(payload))
}

// Subscription receives messages published on one channel after it was
// created. Each subscription holds its own connection until Close.
type Subscription struct {
	channel string
	ps      *redis.PubSub
	msgs    <-chan *redis.Message

	mu     sync.Mutex
	closed bool
}

// SubscribeData subscribes to channel. It returns once the store has
// confirmed the subscription, so anything published afterwards is delivered.
func SubscribeData(ctx context.Context, rdb redis.UniversalClient, channel string) (*Subscription, error) {
	ps := rdb.Subscribe(ctx, channel)

	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fail("subscribe", channel, err)
	}

	logger := logging.NewLogger("operations")
	logger.Debug().
		Str("channel", channel).
		Msg("Subscribed")

	return &Subscription{
		channel: channel,
		ps:      ps,
		msgs:    ps.Channel(),
	}, nil
}

// Channel returns the subscribed channel name.
func (s *Subscription) Channel() string {
	return s.channel
}

// Next blocks until a message arrives, ctx is done, or the subscription is
// closed.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	if s.isClosed() {
		return Message{}, ErrSubscriptionClosed
	}

	select {
	case msg, ok := <-s.msgs:
		if !ok {
			return Message{}, ErrSubscriptionClosed
		}
		PubSubReceived.Inc()
		return Message{Channel: msg.Channel, Payload: msg.Payload}, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Messages yields messages until ctx is done or the subscription is closed.
// Breaking out of the loop leaves the subscription open.
func (s *Subscription) Messages(ctx context.Context) iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for {
			msg, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(msg) {
				return
			}
		}
	}
}

// Close unsubscribes and releases the connection. It is safe to call more
// than once; other subscriptions are unaffected.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.ps.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fail("unsubscribe", s.channel, err)
	}
	return nil
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
