// membership.go — группы подписчиков для правил ACL (groupType=subscribers).
// Членство хранится в PostgreSQL и кэшируется в LRU с TTL
// (hashicorp/golang-lru/v2/expirable).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/repository"
	"github.com/bigkaa/goartstore/quote-module/internal/validation"
)

// Prometheus-метрики кэша членства.
var (
	membershipCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qt_membership_cache_hits_total",
		Help: "Общее количество попаданий в кэш членства в группах.",
	})
	membershipCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qt_membership_cache_misses_total",
		Help: "Общее количество промахов кэша членства в группах.",
	})
)

// memberRef — идентификация участника группы (для валидации входных данных).
type memberRef struct {
	GroupID string `json:"groupId" validate:"required,max=255,printascii"`
	UserID  string `json:"userId" validate:"required,max=255,printascii"`
}

// SubscriberMembership — проверка и управление членством в группах подписчиков.
// Реализует acl.MembershipChecker.
//
// Кэш свой у каждого экземпляра: изменения, сделанные другим экземпляром,
// становятся видны не позже TTL. Чтение из БД, пересёкшееся с изменением
// состава на этом экземпляре, в кэш не попадает (счётчик generation).
type SubscriberMembership struct {
	repo   repository.GroupMemberRepository
	cache  *expirable.LRU[string, bool]
	logger *slog.Logger

	// mu защищает generation и связку «проверка generation + запись в кэш».
	mu         sync.Mutex
	generation uint64
}

// NewSubscriberMembership создаёт сервис членства с LRU-кэшем.
// cacheSize — максимальное число записей, ttl — время жизни записи.
func NewSubscriberMembership(
	repo repository.GroupMemberRepository,
	cacheSize int,
	ttl time.Duration,
	logger *slog.Logger,
) *SubscriberMembership {
	return &SubscriberMembership{
		repo:   repo,
		cache:  expirable.NewLRU[string, bool](cacheSize, nil, ttl),
		logger: logger.With(slog.String("component", "subscriber_membership")),
	}
}

// IsMember проверяет, входит ли principal в группу подписчиков groupID.
func (m *SubscriberMembership) IsMember(ctx context.Context, groupID string, principal model.Principal) (bool, error) {
	if principal.IsAnonymous() {
		return false, nil
	}

	key := cacheKey(groupID, principal.ID)
	if member, ok := m.cache.Get(key); ok {
		membershipCacheHitsTotal.Inc()
		return member, nil
	}
	membershipCacheMissesTotal.Inc()

	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	member, err := m.repo.IsMember(ctx, groupID, principal.ID)
	if err != nil {
		return false, fmt.Errorf("проверка членства в группе %s: %w", groupID, err)
	}

	m.mu.Lock()
	if m.generation == gen {
		m.cache.Add(key, member)
	}
	m.mu.Unlock()
	return member, nil
}

// invalidate сбрасывает запись кэша и отменяет запись чтений, начатых до изменения.
func (m *SubscriberMembership) invalidate(groupID, userID string) {
	m.mu.Lock()
	m.generation++
	m.cache.Remove(cacheKey(groupID, userID))
	m.mu.Unlock()
}

// AddMember добавляет пользователя в группу подписчиков. Только для администратора.
func (m *SubscriberMembership) AddMember(ctx context.Context, actor model.Principal, groupID, userID string) (*repository.GroupMember, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	if err := validation.Struct(memberRef{GroupID: groupID, UserID: userID}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	member := &repository.GroupMember{GroupID: groupID, UserID: userID, AddedBy: actor.ID}
	if err := m.repo.Add(ctx, member); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	m.invalidate(groupID, userID)

	m.logger.Info("Участник добавлен в группу",
		slog.String("group_id", groupID),
		slog.String("user_id", userID),
		slog.String("actor", actor.ID),
	)
	return member, nil
}

// RemoveMember удаляет пользователя из группы подписчиков. Только для администратора.
func (m *SubscriberMembership) RemoveMember(ctx context.Context, actor model.Principal, groupID, userID string) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}
	if err := validation.Struct(memberRef{GroupID: groupID, UserID: userID}); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	err := m.repo.Remove(ctx, groupID, userID)
	m.invalidate(groupID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	m.logger.Info("Участник удалён из группы",
		slog.String("group_id", groupID),
		slog.String("user_id", userID),
		slog.String("actor", actor.ID),
	)
	return nil
}

// ListMembers возвращает участников группы. Только для администратора.
func (m *SubscriberMembership) ListMembers(ctx context.Context, actor model.Principal, groupID string) ([]*repository.GroupMember, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	members, err := m.repo.ListMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return members, nil
}

// cacheKey — ключ кэша для пары группа/пользователь.
func cacheKey(groupID, userID string) string {
	return groupID + "\x00" + userID
}
