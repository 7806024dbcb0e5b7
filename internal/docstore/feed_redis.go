package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisFeed carries change notifications over Redis pub/sub so that
// subscribers on every API instance see writes made by any other.
type RedisFeed struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

func NewRedisFeed(client *redis.Client, logger zerolog.Logger) *RedisFeed {
	return &RedisFeed{
		client: client,
		prefix: "docstore:",
		log:    logger.With().Str("component", "redis_feed").Logger(),
	}
}

func (f *RedisFeed) channel(collection string) string {
	return f.prefix + collection
}

func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(change.Collection), payload).Err(); err != nil {
		return unavailable("publish change", err)
	}
	return nil
}

func (f *RedisFeed) Listen(ctx context.Context, collection string) (<-chan Change, func(), error) {
	pubsub := f.client.Subscribe(ctx, f.channel(collection))
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, unavailable("subscribe changes", err)
	}

	out := make(chan Change, 1)
	messages := pubsub.Channel()
	go func() {
		defer close(out)
		for msg := range messages {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				f.log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed change")
				continue
			}
			signal(out, change)
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				f.log.Debug().Err(err).Str("collection", collection).Msg("close pubsub")
			}
		})
	}
	return out, stop, nil
}
