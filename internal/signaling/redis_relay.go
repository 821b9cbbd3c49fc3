package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"familycall-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisRelay implements Relay over Redis Pub/Sub with one channel per
// participant. Redis publishes to a channel in order, which gives the
// per-sender send-order guarantee as long as each device sends through one
// connection, and sequence numbers come from an atomic per-(session,device)
// counter.
type RedisRelay struct {
	rdb    *redis.Client
	log    *slog.Logger
	buffer int

	// seqTTL bounds how long abandoned sequence counters live.
	seqTTL time.Duration

	clock func() time.Time
}

func NewRedisRelay(rdb *redis.Client, log *slog.Logger, buffer int) *RedisRelay {
	if buffer <= 0 {
		buffer = 64
	}
	return &RedisRelay{
		rdb:    rdb,
		log:    log,
		buffer: buffer,
		seqTTL: time.Hour,
		clock:  time.Now,
	}
}

func seqKey(sessionID, device string) string {
	return fmt.Sprintf("signal:seq:%s:%s", sessionID, device)
}

func (r *RedisRelay) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}

	seq, err := utils.NextSequence(ctx, r.rdb, seqKey(m.SessionID, m.FromDevice), r.seqTTL)
	if err != nil {
		return fmt.Errorf("%w: sequence: %v", ErrDeliveryFailure, err)
	}
	m.Seq = seq
	if m.SentAt.IsZero() {
		m.SentAt = r.clock().UTC()
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("signaling: marshal: %w", err)
	}
	if err := r.rdb.Publish(ctx, ChannelFor(m.To), raw).Err(); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrDeliveryFailure, err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, participantID string) (Subscription, error) {
	if participantID == "" {
		return nil, ErrInvalidMessage
	}

	pubsub := r.rdb.Subscribe(ctx, ChannelFor(participantID))
	// Force the subscription onto the wire before we report success, so a
	// caller that sends right after subscribing cannot miss its own echo.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrDeliveryFailure, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message, r.buffer),
	}
	go sub.pump(r.log)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

func (s *redisSubscription) pump(log *slog.Logger) {
	defer close(s.out)
	for raw := range s.pubsub.Channel() {
		var m Message
		if err := json.Unmarshal([]byte(raw.Payload), &m); err != nil {
			if log != nil {
				log.Warn("signaling: dropping malformed message", "err", err)
			}
			continue
		}
		s.out <- m
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error { return s.pubsub.Close() }
