package model

// Visibility — видимость объекта в хранилище.
type Visibility string

const (
	// VisibilityPublic — чтение разрешено всем, включая анонимных
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate — доступ только владельцу и по правилам ACL
	VisibilityPrivate Visibility = "private"
)

// IsValid проверяет допустимость значения.
func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Permission — запрашиваемое или выдаваемое право.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// IsValid проверяет допустимость значения.
func (p Permission) IsValid() bool {
	return p == PermissionRead || p == PermissionWrite
}

// Covers проверяет, покрывает ли право p запрошенное право requested.
// write покрывает read.
func (p Permission) Covers(requested Permission) bool {
	switch p {
	case PermissionWrite:
		return requested == PermissionWrite || requested == PermissionRead
	case PermissionRead:
		return requested == PermissionRead
	default:
		return false
	}
}

// GroupType — способ проверки членства в группе правила ACL.
type GroupType string

const (
	// GroupUser — группа из одного пользователя (groupId = sub)
	GroupUser GroupType = "user"
	// GroupEmailDomain — все пользователи с email в домене groupId
	GroupEmailDomain GroupType = "email_domain"
	// GroupSubscribers — явный список участников (таблица access_group_members)
	GroupSubscribers GroupType = "subscribers"
	// GroupRole — пользователи с ролью groupId (сейчас только admin)
	GroupRole GroupType = "role"
)

// AccessRule — правило ACL объекта.
type AccessRule struct {
	GroupType  GroupType  `json:"groupType" validate:"required,oneof=user email_domain subscribers role"`
	GroupID    string     `json:"groupId" validate:"required,max=255,printascii,trimmed"`
	Permission Permission `json:"permission" validate:"required,oneof=read write"`
}

// ObjectPolicy — политика доступа, прикреплённая к объекту хранилища.
// Порядок Rules значим: при проверке срабатывает первое подходящее правило.
type ObjectPolicy struct {
	OwnerID    string       `json:"ownerId" validate:"required,max=255,printascii,trimmed"`
	Visibility Visibility   `json:"visibility" validate:"required,oneof=public private"`
	Rules      []AccessRule `json:"rules" validate:"dive"`
}

// Principal — аутентифицированный субъект запроса.
// Пустой ID означает анонимный запрос.
type Principal struct {
	ID      string
	Email   string
	IsAdmin bool
}

// IsAnonymous проверяет, является ли субъект анонимным.
func (p Principal) IsAnonymous() bool {
	return p.ID == ""
}
