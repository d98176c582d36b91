// README: Redis pub/sub relay so rooms span API instances.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "tabla:room:"

// RedisRelay publishes envelopes through Redis pub/sub so that every API
// instance delivers them to its own local hub members.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	prefix string
}

func NewRedisRelay(client *redis.Client, hub *Hub, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisRelay{client: client, hub: hub, prefix: prefix}
}

func (r *RedisRelay) Broadcast(ctx context.Context, topic Topic, env Envelope) error {
	env.Topic = topic
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("realtime: marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.prefix+string(topic), data).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", topic, err)
	}
	return nil
}

// Run forwards relayed envelopes into the local hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: psubscribe: %w", err)
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
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("realtime: bad relay payload on %s: %v", msg.Channel, err)
				continue
			}
			topic := Topic(strings.TrimPrefix(msg.Channel, r.prefix))
			_ = r.hub.Broadcast(ctx, topic, env)
		}
	}
}
