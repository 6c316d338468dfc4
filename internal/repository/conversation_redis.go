package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"deepseek-chat/internal/domain"
)

const (
	redisConversationPrefix = "chat:conv:"
	redisConversationIndex  = "chat:conv:index"
)

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// RedisConversationRepository guarda cada transcript en una clave y mantiene un
// índice ordenado por fecha de actualización.
type RedisConversationRepository struct {
	client redisKV
	ttl    time.Duration
}

func NewRedisConversationRepository(client *redis.Client, ttl time.Duration) *RedisConversationRepository {
	return &RedisConversationRepository{client: client, ttl: ttl}
}

func (r *RedisConversationRepository) Save(ctx context.Context, name string, data []byte) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(time.Now())
	}
	score := float64(time.Now().UTC().UnixMilli())
	// Clave e índice van en el mismo MULTI/EXEC: List nunca ve una sin la otra.
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisConversationPrefix+name, data, r.ttl)
		pipe.ZAdd(ctx, redisConversationIndex, redis.Z{Score: score, Member: name})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}
	return "redis:" + name, nil
}

func (r *RedisConversationRepository) Load(ctx context.Context, name string) ([]byte, error) {
	name = strings.TrimSpace(name)
	data, err := r.client.Get(ctx, redisConversationPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrConversationNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return data, nil
}

func (r *RedisConversationRepository) List(ctx context.Context) ([]domain.ConversationInfo, error) {
	members, err := r.client.ZRevRangeWithScores(ctx, redisConversationIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]domain.ConversationInfo, 0, len(members))
	for _, m := range members {
		name, ok := m.Member.(string)
		if !ok {
			continue
		}
		out = append(out, domain.ConversationInfo{
			Name:        name,
			DisplayName: DisplayName(name),
			Location:    "redis:" + name,
			UpdatedAt:   time.UnixMilli(int64(m.Score)).UTC(),
		})
	}
	return out, nil
}
