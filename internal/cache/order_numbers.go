package cache

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const orderSeqPrefix = "pdv:order-seq:"

// RedisOrderNumbers issues order numbers from a per-day INCR counter, e.g.
// "PDV-20261018-0007". Counters expire two days after their first use; every
// call re-arms a missing TTL in the same transaction as the increment.
type RedisOrderNumbers struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisOrderNumbers(client *redis.Client, prefix string) *RedisOrderNumbers {
	if prefix == "" {
		prefix = "PDV"
	}
	return &RedisOrderNumbers{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (n *RedisOrderNumbers) GenerateOrderNumber(ctx context.Context) (string, error) {
	day := n.now().Format("20060102")
	key := orderSeqPrefix + day

	pipe := n.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", n.prefix, day, incr.Val()), nil
}
