package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chat_relay/internal/domain"
	"chat_relay/pkg/logger"
)

const (
	// TTL кеша истории комнаты
	historyCacheTTL = 6 * time.Hour

	historyKeyPrefix = "relay:room:%s:messages"
)

// HistoryCacheRepository - кеш последних сообщений комнаты в Redis
// (sorted set, score = unix-миллисекунды отправки). Источником истины
// остается Postgres, кеш ускоряет только хвост истории.
type HistoryCacheRepository interface {
	Push(ctx context.Context, roomKey domain.RoomKey, message *domain.Message, keep int) error
	Recent(ctx context.Context, roomKey domain.RoomKey, limit int) ([]*domain.Message, error)
	// Prime замещает содержимое кеша комнаты целиком
	Prime(ctx context.Context, roomKey domain.RoomKey, messages []*domain.Message) error
	Invalidate(ctx context.Context, roomKey domain.RoomKey) error
}

type historyCacheRepository struct {
	rdb *redis.Client
	log logger.Logger
}

func NewHistoryCacheRepository(rdb *redis.Client, log logger.Logger) HistoryCacheRepository {
	return &historyCacheRepository{rdb: rdb, log: log}
}

func (r *historyCacheRepository) key(roomKey domain.RoomKey) string {
	return fmt.Sprintf(historyKeyPrefix, roomKey.String())
}

func (r *historyCacheRepository) Push(ctx context.Context, roomKey domain.RoomKey, message *domain.Message, keep int) error {
	key := r.key(roomKey)

	messageJSON, err := json.Marshal(message)
	if err != nil {
		r.log.Error("Failed to marshal message for cache", "error", err)
		return err
	}

	score := float64(message.CreatedAt.UnixMilli())
	err = r.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: messageJSON}).Err()
	if err != nil {
		r.log.Error("Failed to cache message", "error", err, "room_key", roomKey.String())
		return err
	}

	// Храним только хвост истории
	if keep > 0 {
		r.rdb.ZRemRangeByRank(ctx, key, 0, int64(-keep-1))
	}

	if err := r.rdb.Expire(ctx, key, historyCacheTTL).Err(); err != nil {
		r.log.Warn("Failed to set TTL on history cache", "error", err)
	}

	return nil
}

func (r *historyCacheRepository) Recent(ctx context.Context, roomKey domain.RoomKey, limit int) ([]*domain.Message, error) {
	key := r.key(roomKey)

	messagesJSON, err := r.rdb.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		r.log.Error("Failed to read history cache", "error", err, "room_key", roomKey.String())
		return nil, err
	}

	messages := make([]*domain.Message, 0, len(messagesJSON))
	for _, msgJSON := range messagesJSON {
		var message domain.Message
		if err := json.Unmarshal([]byte(msgJSON), &message); err != nil {
			r.log.Warn("Failed to unmarshal cached message", "error", err)
			continue
		}
		messages = append(messages, &message)
	}

	// Возвращаем в хронологическом порядке
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// Prime перезаписывает ZSET комнаты хвостом истории из Postgres: после
// инвалидации кеш снова полный, а не набирается по одному сообщению
func (r *historyCacheRepository) Prime(ctx context.Context, roomKey domain.RoomKey, messages []*domain.Message) error {
	key := r.key(roomKey)

	members := make([]redis.Z, 0, len(messages))
	for _, message := range messages {
		messageJSON, err := json.Marshal(message)
		if err != nil {
			r.log.Error("Failed to marshal message for cache", "error", err)
			return err
		}
		members = append(members, redis.Z{
			Score:  float64(message.CreatedAt.UnixMilli()),
			Member: messageJSON,
		})
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, historyCacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to prime history cache", "error", err, "room_key", roomKey.String())
		return err
	}
	return nil
}

func (r *historyCacheRepository) Invalidate(ctx context.Context, roomKey domain.RoomKey) error {
	if err := r.rdb.Del(ctx, r.key(roomKey)).Err(); err != nil {
		r.log.Warn("Failed to invalidate history cache", "error", err, "room_key", roomKey.String())
		return err
	}
	return nil
}
