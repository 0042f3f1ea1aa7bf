// Пакет autherr — таксономия ошибок сессии и аутентификации.
// Сетевые и библиотечные ошибки маппятся в Kind на границе fetch
// (identity, backend); handlers и UI-слой никогда не разбирают
// сырые HTTP-статусы сами.
package autherr

import (
	"errors"
	"fmt"
)

// Kind — класс ошибки сессии.
type Kind string

const (
	// KindInvalidTokenFormat — токен не декодируется.
	// Локально восстановимая: трактуется как "не аутентифицирован".
	KindInvalidTokenFormat Kind = "invalid_token_format"
	// KindCredentialExpired — токен истёк, обнаружено при чтении.
	// Локально восстановимая, отдельного сообщения пользователю нет.
	KindCredentialExpired Kind = "credential_expired"
	// KindAuthenticationFailed — login отклонён IdP.
	// Показывается inline рядом с формой входа.
	KindAuthenticationFailed Kind = "authentication_failed"
	// KindProfileFetchFailed — не удалось получить GET /users/me.
	// Retryable, не разлогинивает (если причина не 401).
	KindProfileFetchFailed Kind = "profile_fetch_failed"
	// KindWardFetchFailed — не удалось получить список отделений.
	// Retryable, не разлогинивает (если причина не 401).
	KindWardFetchFailed Kind = "ward_fetch_failed"
	// KindSessionExpired — 401 на аутентифицированном запросе.
	// Единственный фатальный для сессии класс: ClearSession + redirect на login.
	KindSessionExpired Kind = "session_expired"
	// KindBackendRejected — backend отклонил запрос (4xx, кроме 401 и 429).
	// Не retryable: повтор того же запроса даст тот же ответ.
	KindBackendRejected Kind = "backend_rejected"
)

// Error — ошибка с классом таксономии и сообщением для пользователя.
type Error struct {
	// Kind — класс ошибки.
	Kind Kind
	// Message — сообщение для UI.
	Message string
	// Err — исходная ошибка (для логов), может быть nil.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New создаёт ошибку указанного класса.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf возвращает класс ошибки или пустой Kind,
// если ошибка не принадлежит таксономии.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsSessionExpired — фатальна ли ошибка для сессии.
func IsSessionExpired(err error) bool {
	return KindOf(err) == KindSessionExpired
}

// Retryable — допускает ли класс ошибки автоматический повтор запроса.
// Повторяются только transient сбои загрузки данных (сеть, 5xx, 429);
// 401 и прочие 4xx не повторяются никогда.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProfileFetchFailed, KindWardFetchFailed:
		return true
	default:
		return false
	}
}

// Message возвращает сообщение для пользователя.
// Для ошибок вне таксономии — обобщённый текст.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error, retry later"
}
