package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"chat_relay/pkg/logger"
)

type Repositories struct {
	User         UserRepository
	Group        GroupRepository
	Message      MessageRepository
	HistoryCache HistoryCacheRepository
	RateLimit    RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, rdb *redis.Client, log logger.Logger) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db, log),
		Group:        NewGroupRepository(db, log),
		Message:      NewMessageRepository(db, log),
		HistoryCache: NewHistoryCacheRepository(rdb, log),
		RateLimit:    NewRateLimitRepository(rdb, log),
	}
}
