// Пакет model — доменные модели Session Gateway:
// Credential (разобранный bearer-токен), UserProfile (авторитетный профиль
// из backend), Ward (отделение), SessionState (агрегат состояния сессии).
package model

import (
	"time"

	"github.com/baymed/medlogistics/session-gateway/internal/domain/roles"
)

// Credential — разобранный bearer-токен от identity provider.
// Создаётся при успешном login, не мутируется — только заменяется целиком.
// Единственный владелец — token.Store.
type Credential struct {
	// Raw — исходная строка токена (передаётся в Authorization header).
	Raw string
	// Subject — sub из токена (идентификатор пользователя в IdP).
	Subject string
	// Email — email из токена (placeholder, если claim отсутствует).
	Email string
	// DisplayName — отображаемое имя (name или preferred_username).
	DisplayName string
	// Roles — роли из claims токена.
	Roles roles.Set
	// ExpiresAt — момент истечения токена (exp).
	ExpiresAt time.Time
	// Issuer — iss из токена.
	Issuer string
}

// Expired сообщает, истёк ли токен на момент now.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// UserProfile — доменный профиль пользователя.
// Собирается из claims токена и авторитетного ответа GET /users/me:
// роли и ward-права могут отличаться от вложенных в токен.
type UserProfile struct {
	// Subject — идентификатор пользователя (совпадает с Credential.Subject).
	Subject string `json:"subject"`
	// Email — электронная почта.
	Email string `json:"email"`
	// DisplayName — отображаемое имя.
	DisplayName string `json:"display_name"`
	// Roles — типизированный набор ролей, вычисленный один раз при merge.
	Roles roles.Set `json:"roles"`
	// Permissions — опциональные ward-scoped права из backend.
	Permissions []string `json:"permissions,omitempty"`
}
