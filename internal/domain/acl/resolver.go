// resolver.go — принятие решения о доступе к объекту по его политике.
package acl

import (
	"context"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/rbac"
)

// MembershipChecker — проверка членства субъекта в группе правила ACL.
// Реализация выбирается по GroupType правила.
type MembershipChecker interface {
	// IsMember возвращает true, если principal входит в группу groupID.
	IsMember(ctx context.Context, groupID string, principal model.Principal) (bool, error)
}

// MembershipFunc — адаптер функции к MembershipChecker.
type MembershipFunc func(ctx context.Context, groupID string, principal model.Principal) (bool, error)

// IsMember вызывает f.
func (f MembershipFunc) IsMember(ctx context.Context, groupID string, principal model.Principal) (bool, error) {
	return f(ctx, groupID, principal)
}

// Resolver — проверка доступа по политике объекта.
// Не имеет изменяемого состояния, безопасен для конкурентного использования.
type Resolver struct {
	checkers map[model.GroupType]MembershipChecker
}

// NewResolver создаёт Resolver со встроенными проверками user, email_domain и role.
// extra — дополнительные проверки (например, subscribers из БД);
// переопределяют встроенные при совпадении типа.
func NewResolver(extra map[model.GroupType]MembershipChecker) *Resolver {
	checkers := map[model.GroupType]MembershipChecker{
		model.GroupUser:        MembershipFunc(userMembership),
		model.GroupEmailDomain: MembershipFunc(emailDomainMembership),
		model.GroupRole:        MembershipFunc(roleMembership),
	}
	for t, c := range extra {
		checkers[t] = c
	}
	return &Resolver{checkers: checkers}
}

// CheckAccess решает, разрешено ли requester право requested на объект с политикой policy.
//
// Порядок:
//  1. владелец — разрешено всё;
//  2. public + read — разрешено всем, включая анонимных;
//  3. правила по порядку: первое правило, в группу которого входит requester,
//     решает исход (разрешено, если его право покрывает requested);
//     права из нескольких правил не суммируются;
//  4. ни одно правило не совпало — запрет.
//
// Ошибка возвращается только при сбое внешней проверки членства.
func (r *Resolver) CheckAccess(
	ctx context.Context,
	policy *model.ObjectPolicy,
	requester model.Principal,
	requested model.Permission,
) (bool, error) {
	if policy == nil {
		return false, nil
	}

	if !requester.IsAnonymous() && requester.ID == policy.OwnerID {
		return true, nil
	}

	if policy.Visibility == model.VisibilityPublic && requested == model.PermissionRead {
		return true, nil
	}

	if requester.IsAnonymous() {
		return false, nil
	}

	for _, rule := range policy.Rules {
		checker, ok := r.checkers[rule.GroupType]
		if !ok {
			// Неизвестный тип группы не совпадает ни с кем
			continue
		}
		member, err := checker.IsMember(ctx, rule.GroupID, requester)
		if err != nil {
			return false, fmt.Errorf("проверка членства %s/%s: %w", rule.GroupType, rule.GroupID, err)
		}
		if member {
			return rule.Permission.Covers(requested), nil
		}
	}

	return false, nil
}

// userMembership — группа из одного пользователя.
func userMembership(_ context.Context, groupID string, p model.Principal) (bool, error) {
	return p.ID == groupID, nil
}

// emailDomainMembership — пользователи с email в домене groupID.
func emailDomainMembership(_ context.Context, groupID string, p model.Principal) (bool, error) {
	_, domain, ok := strings.Cut(p.Email, "@")
	if !ok || domain == "" {
		return false, nil
	}
	return strings.EqualFold(domain, strings.TrimPrefix(groupID, "@")), nil
}

// roleMembership — пользователи с ролью groupID.
func roleMembership(_ context.Context, groupID string, p model.Principal) (bool, error) {
	switch groupID {
	case rbac.RoleAdmin:
		return p.IsAdmin, nil
	case rbac.RoleCustomer:
		return !p.IsAnonymous(), nil
	default:
		return false, nil
	}
}
