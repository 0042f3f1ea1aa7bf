// cookie.go — durable-представление сессии: зашифрованный cookie
// (AES-256-GCM), привязанный к origin браузера. Feature-код к cookie
// не прикасается — только через Manager.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
)

// CookieName — имя cookie зашифрованной сессии.
const CookieName = "medlog_session"

// CookieMaxAge — максимальный возраст cookie сессии (12 часов смены).
const CookieMaxAge = 12 * 60 * 60

// CookieData — данные сессии, хранящиеся в зашифрованном cookie.
type CookieData struct {
	// SessionID — идентификатор сессии в Registry.
	SessionID string `json:"sid"`
	// AccessToken — bearer-токен от identity provider.
	AccessToken string `json:"access_token"`
	// ExpiresAt — момент истечения access token (Unix timestamp).
	ExpiresAt int64 `json:"expires_at"`
	// Subject — идентификатор пользователя.
	Subject string `json:"subject"`
	// Ward — выбранное отделение (nil до выбора).
	Ward *model.Ward `json:"ward,omitempty"`
}

// IsExpired проверяет, истёк ли access token.
// 30 секунд буфера, чтобы не отдать почти истёкший токен backend'у.
func (c *CookieData) IsExpired() bool {
	return time.Now().Unix() >= c.ExpiresAt-30
}

// Manager шифрует/дешифрует CookieData в HTTP cookie через AES-256-GCM.
type Manager struct {
	gcm    cipher.AEAD
	secure bool
}

// NewManager создаёт менеджер cookie сессий.
// key — ключ AES-256 (base64 или произвольная строка, хешируемая до
// 32 байт). Пустой key — случайный ключ, непостоянный между рестартами.
func NewManager(key string, secure bool) (*Manager, error) {
	var keyBytes []byte

	if key == "" {
		keyBytes = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
			return nil, fmt.Errorf("ошибка генерации ключа сессии: %w", err)
		}
	} else {
		var err error
		keyBytes, err = base64.StdEncoding.DecodeString(key)
		if err != nil || len(keyBytes) != 32 {
			// Не base64 — хешируем строку до 32 байт (удобство конфигурации)
			sum := sha256.Sum256([]byte(key))
			keyBytes = sum[:]
		}
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	return &Manager{gcm: gcm, secure: secure}, nil
}

// seal шифрует plaintext и возвращает base64-строку (nonce prepended).
func (m *Manager) seal(plaintext []byte) (string, error) {
	nonce := make([]byte, m.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	ciphertext := m.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// open дешифрует base64-строку обратно в plaintext.
func (m *Manager) open(encrypted string) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования base64: %w", err)
	}

	nonceSize := m.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("повреждённый cookie: данные короче nonce")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := m.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка дешифрования сессии: %w", err)
	}
	return plaintext, nil
}

// Encrypt шифрует CookieData и возвращает base64-строку.
func (m *Manager) Encrypt(data *CookieData) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации сессии: %w", err)
	}
	return m.seal(plaintext)
}

// Decrypt дешифрует base64-строку обратно в CookieData.
func (m *Manager) Decrypt(encrypted string) (*CookieData, error) {
	plaintext, err := m.open(encrypted)
	if err != nil {
		return nil, err
	}

	var data CookieData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("ошибка десериализации сессии: %w", err)
	}
	return &data, nil
}

// LoginStateCookieName — имя cookie состояния redirect flow.
const LoginStateCookieName = "medlog_login_state"

// loginStateMaxAge — время на прохождение hosted login (10 минут).
const loginStateMaxAge = 10 * 60

// LoginState — параметры незавершённого redirect flow: CSRF state и
// PKCE code_verifier между /login и /callback.
type LoginState struct {
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
}

// SetLoginStateCookie записывает зашифрованное состояние redirect flow.
func (m *Manager) SetLoginStateCookie(w http.ResponseWriter, st *LoginState) error {
	plaintext, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("ошибка сериализации login state: %w", err)
	}
	encrypted, err := m.seal(plaintext)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     LoginStateCookieName,
		Value:    encrypted,
		Path:     "/",
		MaxAge:   loginStateMaxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// LoginStateFromRequest извлекает состояние redirect flow из cookie.
// Отсутствие cookie — (nil, nil).
func (m *Manager) LoginStateFromRequest(r *http.Request) (*LoginState, error) {
	cookie, err := r.Cookie(LoginStateCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, nil
		}
		return nil, err
	}

	plaintext, err := m.open(cookie.Value)
	if err != nil {
		return nil, err
	}
	var st LoginState
	if err := json.Unmarshal(plaintext, &st); err != nil {
		return nil, fmt.Errorf("ошибка десериализации login state: %w", err)
	}
	return &st, nil
}

// ClearLoginStateCookie удаляет cookie состояния redirect flow.
func (m *Manager) ClearLoginStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     LoginStateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetCookie записывает зашифрованную сессию в response.
func (m *Manager) SetCookie(w http.ResponseWriter, data *CookieData) error {
	encrypted, err := m.Encrypt(data)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encrypted,
		Path:     "/",
		MaxAge:   CookieMaxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// FromRequest извлекает сессию из cookie запроса.
// Отсутствие cookie — (nil, nil); повреждённый cookie — ошибка.
func (m *Manager) FromRequest(r *http.Request) (*CookieData, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, nil
		}
		return nil, err
	}
	return m.Decrypt(cookie.Value)
}

// ClearCookie удаляет cookie сессии.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
