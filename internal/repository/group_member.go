package repository

import (
	"context"
	"fmt"
	"time"
)

// GroupMember — участник группы подписчиков (правила ACL с groupType=subscribers).
type GroupMember struct {
	GroupID   string
	UserID    string
	AddedBy   string
	CreatedAt time.Time
}

// GroupMemberRepository — интерфейс для таблицы access_group_members.
type GroupMemberRepository interface {
	// Add добавляет участника. Повторное добавление не считается ошибкой.
	Add(ctx context.Context, m *GroupMember) error
	// Remove удаляет участника. ErrNotFound, если его не было.
	Remove(ctx context.Context, groupID, userID string) error
	// IsMember проверяет членство пользователя в группе.
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	// ListMembers возвращает участников группы, отсортированных по user_id.
	ListMembers(ctx context.Context, groupID string) ([]*GroupMember, error)
}

// groupMemberRepo — реализация GroupMemberRepository.
type groupMemberRepo struct {
	db DBTX
}

// NewGroupMemberRepository создаёт репозиторий участников групп.
func NewGroupMemberRepository(db DBTX) GroupMemberRepository {
	return &groupMemberRepo{db: db}
}

func (r *groupMemberRepo) Add(ctx context.Context, m *GroupMember) error {
	query := `
		INSERT INTO access_group_members (group_id, user_id, added_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO UPDATE SET group_id = EXCLUDED.group_id
		RETURNING added_by, created_at`

	err := r.db.QueryRow(ctx, query, m.GroupID, m.UserID, m.AddedBy).Scan(&m.AddedBy, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка добавления участника группы: %w", err)
	}
	return nil
}

func (r *groupMemberRepo) Remove(ctx context.Context, groupID, userID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM access_group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("ошибка удаления участника группы: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *groupMemberRepo) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM access_group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки членства в группе: %w", err)
	}
	return exists, nil
}

func (r *groupMemberRepo) ListMembers(ctx context.Context, groupID string) ([]*GroupMember, error) {
	rows, err := r.db.Query(ctx, `
		SELECT group_id, user_id, added_by, created_at
		FROM access_group_members
		WHERE group_id = $1
		ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения участников группы: %w", err)
	}
	defer rows.Close()

	var result []*GroupMember
	for rows.Next() {
		m := &GroupMember{}
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.AddedBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования участника группы: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
