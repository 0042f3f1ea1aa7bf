// Пакет roles — типизированные роли и политика диспетчеризации layout.
// Роли из claims токена резолвятся в Set один раз при сборке профиля;
// весь последующий код работает с типизированным набором, не со строками.
package roles

// Role — класс возможностей пользователя.
type Role string

const (
	// RoleDoctor — врач: назначения, ward-scoped.
	RoleDoctor Role = "doctor"
	// RolePharmacist — фармацевт: склад препаратов, ward-scoped.
	RolePharmacist Role = "pharmacist"
	// RoleNurse — медсестра: выдача препаратов, ward-scoped.
	RoleNurse Role = "nurse"
	// RoleAdmin — администратор: больницы и пользователи,
	// не привязан к отделению.
	RoleAdmin Role = "admin"
)

// dispatchPrecedence — фиксированный порядок приоритета операционных ролей
// при выборе layout для профиля с несколькими ролями.
// Это явная продуктовая политика, покрытая тестами, а не деталь реализации.
var dispatchPrecedence = []Role{RoleDoctor, RolePharmacist, RoleNurse}

// known — допустимые роли для парсинга строковых claims.
var known = map[Role]struct{}{
	RoleDoctor:     {},
	RolePharmacist: {},
	RoleNurse:      {},
	RoleAdmin:      {},
}

// Set — набор ролей пользователя.
type Set map[Role]struct{}

// FromStrings строит Set из строковых claims.
// Неизвестные строки отбрасываются (realm-роли Keycloak вроде
// offline_access не являются ролями приложения).
func FromStrings(raw []string) Set {
	s := make(Set, len(raw))
	for _, r := range raw {
		if Valid(r) {
			s[Role(r)] = struct{}{}
		}
	}
	return s
}

// Strings возвращает роли набора в порядке приоритета диспетчеризации
// (admin — последним). Для логов и сериализации.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for _, r := range dispatchPrecedence {
		if s.Has(r) {
			out = append(out, string(r))
		}
	}
	if s.Has(RoleAdmin) {
		out = append(out, string(RoleAdmin))
	}
	return out
}

// Has проверяет наличие роли в наборе.
func (s Set) Has(role Role) bool {
	_, ok := s[role]
	return ok
}

// IsAdmin — есть ли у набора административная роль.
func (s Set) IsAdmin() bool {
	return s.Has(RoleAdmin)
}

// Operational возвращает операционную роль для диспетчеризации layout.
// При нескольких ролях побеждает первая по порядку
// doctor > pharmacist > nurse. Если операционных ролей нет — ok == false.
func (s Set) Operational() (Role, bool) {
	for _, r := range dispatchPrecedence {
		if s.Has(r) {
			return r, true
		}
	}
	return "", false
}

// Valid проверяет, является ли строка известной ролью.
func Valid(raw string) bool {
	_, ok := known[Role(raw)]
	return ok
}
