package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/zyrae/internal/broadcast"
)

const (
	redisKeyPrefix    = "zyrae:storage:"
	redisEventChannel = "zyrae:storage:events"
)

// RedisBackend はRedisに保存するBackend。
// 複数プロセスで同じプロファイルを共有する場合に使用する。
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend はRedisBackendを生成する。
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return v, true, nil
}

func (r *RedisBackend) Put(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Close はクライアントを閉じない。クライアントの所有者（app）が閉じる。
func (r *RedisBackend) Close() error {
	return nil
}

func redisKey(key string) string {
	return redisKeyPrefix + key
}

// RedisRelay はRedis Pub/Subでプロセス間にイベントを中継するRelay。
type RedisRelay struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisRelay はRedisRelayを生成する。
func NewRedisRelay(client *redis.Client, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, logger: logger}
}

// Publish はイベントをチャネルへ送信する。
func (r *RedisRelay) Publish(ctx context.Context, ev broadcast.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := r.client.Publish(ctx, redisEventChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Listen はチャネルを購読し、メッセージを受信するたびにfnを呼ぶ。
func (r *RedisRelay) Listen(ctx context.Context, fn func(broadcast.Event)) error {
	pubsub := r.client.Subscribe(ctx, redisEventChannel)
	defer pubsub.Close()

	// 購読の確立を待つ
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("invalid storage message", slog.String("error", err.Error()))
				continue
			}
			fn(ev)
		}
	}
}

var (
	_ Backend = (*RedisBackend)(nil)
	_ Relay   = (*RedisRelay)(nil)
)
