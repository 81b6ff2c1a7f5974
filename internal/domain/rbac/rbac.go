// Пакет rbac — роли консоли и проверка прав на операции с топологией.
// Роль определяется группами IdP: manage разрешает мутирующие операции,
// read — только просмотр топологии и событий.
package rbac

import "context"

// Роли в порядке возрастания привилегий.
const (
	RoleRead   = "read"
	RoleManage = "manage"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleRead:   1,
	RoleManage: 2,
}

// Principal — субъект запроса.
type Principal struct {
	// Subject — sub из JWT
	Subject string
	// Role — итоговая роль (read, manage или пустая строка)
	Role string
}

// CanManage — субъект может запускать мутирующие операции.
func (p Principal) CanManage() bool {
	return roleWeight[p.Role] >= roleWeight[RoleManage]
}

// CanRead — субъект может просматривать топологию.
func (p Principal) CanRead() bool {
	return roleWeight[p.Role] >= roleWeight[RoleRead]
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
	highest := ""
	for _, r := range roles {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль по группам IdP.
// Если ни одна группа не совпала — возвращает пустую строку.
func MapGroupsToRole(groups []string, manageGroups, readGroups []string) string {
	manageSet := toSet(manageGroups)
	readSet := toSet(readGroups)

	var roles []string
	for _, g := range groups {
		if manageSet[g] {
			roles = append(roles, RoleManage)
		}
		if readSet[g] {
			roles = append(roles, RoleRead)
		}
	}
	return HighestRole(roles)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}

type contextKey struct{}

// WithPrincipal помещает субъекта в контекст.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext извлекает субъекта из контекста.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// CanManage проверяет право на мутирующие операции для субъекта из контекста.
// Без субъекта в контексте возвращает false.
func CanManage(ctx context.Context) bool {
	p, ok := FromContext(ctx)
	return ok && p.CanManage()
}
