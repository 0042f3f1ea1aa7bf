// Пакет token — хранилище bearer-токена сессии.
// Store — единственный владелец credential: декодирует claims один раз
// при установке токена, отвечает на вопросы о сроке действия и ролях
// без повторного парсинга. Повреждённый токен никогда не приводит
// к panic за границей пакета — деградирует до "credential нет".
package token

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/roles"
)

// PlaceholderEmail подставляется, если в токене нет claim email.
const PlaceholderEmail = "unknown@example.com"

// ErrInvalidTokenFormat — токен не соответствует формату JWT
// или payload не декодируется.
var ErrInvalidTokenFormat = errors.New("недопустимый формат токена")

// Persistence — durable-хранилище сырого токена (зашифрованный cookie
// в проде, память в тестах). Прямой доступ к хранилищу из feature-кода
// запрещён — только через Store.
type Persistence interface {
	// Save сохраняет сырой токен.
	Save(raw string) error
	// Load возвращает сохранённый токен ("" — токена нет).
	Load() (string, error)
	// Delete удаляет сохранённый токен.
	Delete() error
}

// MemoryPersistence — хранилище в памяти (тесты, direct flow без cookie).
type MemoryPersistence struct {
	mu  sync.Mutex
	raw string
}

func (m *MemoryPersistence) Save(raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
	return nil
}

func (m *MemoryPersistence) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw, nil
}

func (m *MemoryPersistence) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = ""
	return nil
}

// Store — хранилище текущего credential одной сессии.
type Store struct {
	mu      sync.RWMutex
	persist Persistence
	cred    *model.Credential
	now     func() time.Time
}

// NewStore создаёт Store с указанным persistence.
// persist == nil — только память процесса.
func NewStore(persist Persistence) *Store {
	if persist == nil {
		persist = &MemoryPersistence{}
	}
	return &Store{
		persist: persist,
		now:     time.Now,
	}
}

// Restore загружает токен из persistence.
// Истёкший на момент загрузки токен уничтожается (credential не создаётся),
// повреждённый — молча отбрасывается.
func (s *Store) Restore() error {
	raw, err := s.persist.Load()
	if err != nil {
		return fmt.Errorf("чтение сохранённого токена: %w", err)
	}
	if raw == "" {
		return nil
	}

	cred, err := DecodeClaims(raw)
	if err != nil {
		// Повреждённый токен в хранилище — чистим и живём без credential
		_ = s.persist.Delete()
		return nil
	}
	if cred.Expired(s.now()) {
		_ = s.persist.Delete()
		return nil
	}

	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return nil
}

// SetToken декодирует и устанавливает новый токен, замещая прежний целиком.
// При ошибке декодирования токен отбрасывается, возвращается
// ErrInvalidTokenFormat; прежний credential не затрагивается.
func (s *Store) SetToken(raw string) error {
	cred, err := DecodeClaims(raw)
	if err != nil {
		return err
	}

	if err := s.persist.Save(raw); err != nil {
		return fmt.Errorf("сохранение токена: %w", err)
	}

	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
	return nil
}

// Token возвращает сырой токен, только пока он не истёк.
// Истёкший токен не очищает хранилище автоматически —
// решение "считать разлогиненным" принимает вызывающий.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cred == nil || s.cred.Expired(s.now()) {
		return "", false
	}
	return s.cred.Raw, true
}

// Credential возвращает текущий credential (nil — нет или истёк).
func (s *Store) Credential() *model.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cred == nil || s.cred.Expired(s.now()) {
		return nil
	}
	return s.cred
}

// HasRole проверяет роль по claims текущего credential.
// Единственный предикат ролей для всего role-gated кода.
func (s *Store) HasRole(role roles.Role) bool {
	cred := s.Credential()
	return cred != nil && cred.Roles.Has(role)
}

// Clear безусловно удаляет credential из памяти и persistence.
func (s *Store) Clear() {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	_ = s.persist.Delete()
}

// rawClaims — claims токена IdP для парсинга.
// Покрывает обе формы ролей: realm_access.roles (Keycloak)
// и плоский claim roles (Auth0-style custom claim).
type rawClaims struct {
	jwt.RegisteredClaims
	// PreferredUsername — имя пользователя.
	PreferredUsername string `json:"preferred_username,omitempty"`
	// Name — полное имя.
	Name string `json:"name,omitempty"`
	// Email — электронная почта.
	Email string `json:"email,omitempty"`
	// RealmAccess — вложенные роли Keycloak.
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
	// Roles — плоский список ролей.
	Roles []string `json:"roles,omitempty"`
}

// realmAccess — вложенная структура realm_access.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// DecodeClaims — чистая функция: декодирует payload токена (base64url JSON)
// без сетевых вызовов и без проверки подписи (подпись проверяет Verifier).
// Отсутствующие опциональные claims замещаются документированными
// значениями: email → PlaceholderEmail, роли → пустой набор.
// Отсутствующий exp оставляет нулевое время истечения — такой токен
// считается истёкшим при первом же чтении.
func DecodeClaims(raw string) (*model.Credential, error) {
	claims := &rawClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenFormat, err)
	}

	email := claims.Email
	if email == "" {
		email = PlaceholderEmail
	}

	displayName := claims.Name
	if displayName == "" {
		displayName = claims.PreferredUsername
	}

	var rawRoles []string
	if claims.RealmAccess != nil {
		rawRoles = claims.RealmAccess.Roles
	}
	rawRoles = append(rawRoles, claims.Roles...)

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &model.Credential{
		Raw:         raw,
		Subject:     claims.Subject,
		Email:       email,
		DisplayName: displayName,
		Roles:       roles.FromStrings(rawRoles),
		ExpiresAt:   expiresAt,
		Issuer:      claims.Issuer,
	}, nil
}
