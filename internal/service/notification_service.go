package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/buddychat/buddychat-api/internal/dto"
	"github.com/buddychat/buddychat-api/internal/repository"
	"github.com/buddychat/buddychat-api/pkg/gid"
)

// NotificationService serves the read side of the unread markers created by
// chat and group fanout. The unread counter is cached briefly in redis since
// clients poll it aggressively.
type NotificationService interface {
	List(ctx context.Context, receiverID uint, limit, offset int) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, receiverID uint, notificationID string) (dto.NotificationResponse, error)
	UnreadCount(ctx context.Context, receiverID uint) (int64, error)
}

type notificationService struct {
	repo     repository.NotificationRepository
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// NewNotificationService constructs the notification read service. cache may
// be nil, in which case every count hits the database.
func NewNotificationService(repo repository.NotificationRepository, cache *redis.Client, cacheTTL time.Duration, logger zerolog.Logger) NotificationService {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &notificationService{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger.With().Str("component", "notification_service").Logger(),
	}
}

func (s *notificationService) List(ctx context.Context, receiverID uint, limit, offset int) ([]dto.NotificationResponse, error) {
	notifications, err := s.repo.ListByReceiver(ctx, receiverID, limit, offset)
	if err != nil {
		return nil, err
	}
	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) MarkRead(ctx context.Context, receiverID uint, notificationID string) (dto.NotificationResponse, error) {
	id, err := gid.Decode(gid.KindNotification, notificationID)
	if err != nil {
		return dto.NotificationResponse{}, err
	}

	notification, err := s.repo.MarkRead(ctx, id, receiverID)
	if err != nil {
		return dto.NotificationResponse{}, mapNotFound(err, "notification not found")
	}

	s.invalidateCount(ctx, receiverID)

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) UnreadCount(ctx context.Context, receiverID uint) (int64, error) {
	key := unreadCountKey(receiverID)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key).Result()
		if err == nil {
			if count, parseErr := strconv.ParseInt(cached, 10, 64); parseErr == nil {
				return count, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("unread count cache read failed")
		}
	}

	count, err := s.repo.UnreadCount(ctx, receiverID)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, strconv.FormatInt(count, 10), s.cacheTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("unread count cache write failed")
		}
	}

	return count, nil
}

func (s *notificationService) invalidateCount(ctx context.Context, receiverID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, unreadCountKey(receiverID)).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("unread count cache invalidation failed")
	}
}

func unreadCountKey(receiverID uint) string {
	return fmt.Sprintf("buddychat:unread:%d", receiverID)
}
