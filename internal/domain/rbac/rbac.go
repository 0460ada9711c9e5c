// Пакет rbac — определение роли пользователя Quote Module по данным IdP.
// Роли: customer (любой аутентифицированный пользователь) и admin.
// Роль admin даёт capability администратора, которая передаётся
// в сервисный слой через model.Principal.IsAdmin.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleCustomer: 1,
	RoleAdmin:    2,
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// ResolveRole определяет роль по группам и realm-ролям из JWT.
// Группы из adminGroups дают admin; realm-роль "admin" — тоже.
// Любой аутентифицированный пользователь получает как минимум customer.
func ResolveRole(groups, realmRoles, adminGroups []string) string {
	adminSet := toSet(adminGroups)

	roles := []string{RoleCustomer}
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
	}
	for _, r := range realmRoles {
		if IsValidRole(r) {
			roles = append(roles, r)
		}
	}

	return HighestRole(roles)
}

// IsAdmin проверяет, даёт ли роль capability администратора.
func IsAdmin(role string) bool {
	return role == RoleAdmin
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
