package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig Redis 连接参数
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix 保存最新值使用的键前缀
	KeyPrefix string
}

// Redis 基于 Pub/Sub 的跨进程通道，最新值保存在普通键中
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis 连接 Redis 并验证连通性
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Redis{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

func (r *Redis) retainedKey(topic string) string {
	return r.prefix + topic + ":retained"
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if !retain {
		if err := r.rdb.Publish(ctx, topic, payload).Err(); err != nil {
			return fmt.Errorf("redis: publish %s: %w", topic, err)
		}
		return nil
	}
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.retainedKey(topic), payload, 0)
		p.Publish(ctx, topic, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish retained %s: %w", topic, err)
	}
	return nil
}

// Subscribe 订阅主题，确认订阅建立后返回
func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	pubsub := r.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", topic, err)
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

func (r *Redis) Retained(ctx context.Context, topic string) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, r.retainedKey(topic)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get retained %s: %w", topic, err)
	}
	return data, true, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
