package service

import (
	"chat_relay/internal/config"
	"chat_relay/internal/repository"
	"chat_relay/pkg/logger"
)

type Services struct {
	Auth       AuthService
	User       UserService
	Membership MembershipService
	Message    MessageService
	RateLimit  RateLimitService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, log logger.Logger) *Services {
	return &Services{
		Auth:       NewAuthService(repos.User, cfg.JWT, log),
		User:       NewUserService(repos.User, log),
		Membership: NewMembershipService(repos.Group, repos.User, log),
		Message:    NewMessageService(repos.Message, repos.HistoryCache, cfg.Relay.HistoryCacheSize, log),
		RateLimit:  NewRateLimitService(repos.RateLimit, log),
	}
}
