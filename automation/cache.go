package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// CacheInvalidator signals that cached read views of a resource are stale.
// Fire-and-forget: failures are logged, never surfaced.
type CacheInvalidator interface {
	Invalidate(tag string)
}

// Well-known cache tags.
func FlowTag(flowID uint) string { return fmt.Sprintf("automation:flow:%d", flowID) }

const QueueTag = "automation:queue"

// RedisInvalidator deletes cached view keys and publishes the tag on a
// channel so other instances drop their local copies too.
type RedisInvalidator struct {
	client  *redis.Client
	channel string
	log     *logrus.Logger
}

func NewRedisInvalidator(client *redis.Client, log *logrus.Logger) *RedisInvalidator {
	return &RedisInvalidator{client: client, channel: "shareplate:cache", log: log}
}

func (r *RedisInvalidator) Invalidate(tag string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.client.Del(ctx, tag).Err(); err != nil {
		r.log.WithField("tag", tag).WithError(err).Warn("cache delete failed")
	}
	if err := r.client.Publish(ctx, r.channel, tag).Err(); err != nil {
		r.log.WithField("tag", tag).WithError(err).Warn("cache publish failed")
	}
}

// NopInvalidator is used in tests and when Redis is disabled.
type NopInvalidator struct{}

func (NopInvalidator) Invalidate(string) {}
