package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dedupeTTL = time.Minute

// RedisRelay shares change events between API instances. Every instance
// listens to Postgres, so the first instance to claim an event publishes it
// to the Redis channel and all instances replay the channel locally.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	local   Publisher
	log     *zap.Logger
}

func NewRedisRelay(client redis.UniversalClient, channel string, local Publisher, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{client: client, channel: channel, local: local, log: log}
}

// ParseRedisURL builds a client from a redis:// URL.
func ParseRedisURL(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func dedupeKey(channel string, ev Event) string {
	return channel + ":seen:" + ev.Table + ":" + string(ev.Type) + ":" + ev.ID() + ":" +
		strconv.FormatInt(ev.CommitTimestamp.UnixNano(), 10)
}

// Publish forwards ev to Redis. Events without a commit timestamp cannot be
// deduplicated and are always forwarded.
func (r *RedisRelay) Publish(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if !ev.CommitTimestamp.IsZero() {
		claimed, err := r.client.SetNX(ctx, dedupeKey(r.channel, ev), 1, dedupeTTL).Result()
		if err != nil {
			r.log.Warn("relay dedupe failed, publishing locally", zap.Error(err))
			r.local.Publish(ev)
			return
		}
		if !claimed {
			return
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("encode relayed event", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.Warn("relay publish failed, publishing locally", zap.Error(err))
		r.local.Publish(ev)
	}
}

// Run replays the Redis channel into the local publisher until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("dropping malformed relayed event", zap.Error(err))
				continue
			}
			r.local.Publish(ev)
		}
	}
}
