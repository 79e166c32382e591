package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marque-dev/marque/internal/logger"
	"github.com/redis/go-redis/v9"
)

// RedisOpener opens feed subscriptions over Redis pub/sub. The
// store client publishes one message per mutation on the owner's
// channel; Redis fans it out to every subscribed session.
type RedisOpener struct {
	client *redis.Client
	log    logger.Logger
}

func NewRedisOpener(client *redis.Client, log logger.Logger) *RedisOpener {
	return &RedisOpener{
		client: client,
		log:    log,
	}
}

// Open subscribes to the owner's channel and returns once the
// subscription is confirmed, so no event published after Open
// returns can be missed.
func (o *RedisOpener) Open(ctx context.Context, owner string) (Subscription, error) {
	ps := o.client.Subscribe(ctx, Channel(owner))

	// Receive blocks until the SUBSCRIBE ack (or failure).
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to feed for owner %s: %w", owner, err)
	}

	sub := &redisSubscription{
		ps:  ps,
		out: make(chan Event, 16),
	}
	go sub.pump(o.log, owner)

	o.log.Info("change feed opened", logger.String("owner", owner))
	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan Event
}

func (s *redisSubscription) Events() <-chan Event { return s.out }

func (s *redisSubscription) Close() error {
	// Closing the PubSub closes its message channel, which ends
	// pump and closes out.
	return s.ps.Close()
}

// pump decodes pub/sub messages into Events until the underlying
// channel closes. Undecodable payloads are dropped with a warning;
// the next list call reconciles anything missed.
func (s *redisSubscription) pump(log logger.Logger, owner string) {
	defer close(s.out)

	for msg := range s.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Warn("dropping malformed feed event",
				logger.String("owner", owner),
				logger.Error(err))
			continue
		}
		s.out <- ev
	}
}
