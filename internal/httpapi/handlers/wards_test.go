// wards_test.go — тесты списка отделений и фиксации выбора.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baymed/medlogistics/session-gateway/internal/backend"
	"github.com/baymed/medlogistics/session-gateway/internal/dispatch"
	"github.com/baymed/medlogistics/session-gateway/internal/httpapi/middleware"
	"github.com/baymed/medlogistics/session-gateway/internal/repository"
	"github.com/baymed/medlogistics/session-gateway/internal/session"
	"github.com/baymed/medlogistics/session-gateway/internal/ward"
)

// fakeAudit — журнал входов в памяти для тестов.
type fakeAudit struct {
	mu      sync.Mutex
	records []repository.LoginAuditRecord
}

func (f *fakeAudit) Insert(_ context.Context, rec *repository.LoginAuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeAudit) ListRecent(_ context.Context, _ int) ([]*repository.LoginAuditRecord, error) {
	return nil, nil
}

func (f *fakeAudit) CountByOutcome(_ context.Context, outcome string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.records {
		if rec.Outcome == outcome {
			n++
		}
	}
	return n, nil
}

// wardsFixture — WardsHandler с сессией медсестры и поддельным backend.
type wardsFixture struct {
	handler  http.Handler // List за SessionLoader
	selectH  http.Handler // Select за SessionLoader
	registry *session.Registry
	cookies  *session.Manager
	audit    *fakeAudit
	cookie   *http.Cookie
	sid      string
}

// newWardsFixture собирает обработчики отделений с готовой сессией
// медсестры. wardsHandler управляет ответом /users/me/wards;
// /users/me всегда отдаёт профиль медсестры.
func newWardsFixture(t *testing.T, wardsHandler http.HandlerFunc) *wardsFixture {
	t.Helper()
	logger := testLogger()

	be := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/me":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"subject":      "nurse-1",
				"email":        "nurse-1@hospital.example",
				"display_name": "Nurse One",
				"roles":        []string{"nurse"},
			})
		case "/users/me/wards":
			wardsHandler(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(be.Close)

	bc, err := backend.New(be.URL, "", logger)
	if err != nil {
		t.Fatalf("Ошибка создания backend-клиента: %v", err)
	}
	cookies, err := session.NewManager("test-session-key", false)
	if err != nil {
		t.Fatalf("Ошибка создания менеджера cookie: %v", err)
	}
	registry := session.NewRegistry()
	resolver := ward.NewResolver(bc, nil, logger)
	audit := &fakeAudit{}
	h := NewWardsHandler(resolver, registry, cookies, audit, logger)
	loader := middleware.NewSessionLoader(cookies, registry, bc, logger)

	// Сессия медсестры без отделения
	token := makeToken(t, "nurse-1", []string{"nurse"}, time.Now().Add(time.Hour))
	data := &session.CookieData{
		SessionID:   "sid-wards",
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
		Subject:     "nurse-1",
	}
	seed := httptest.NewRecorder()
	if err := cookies.SetCookie(seed, data); err != nil {
		t.Fatalf("Ошибка записи cookie: %v", err)
	}

	return &wardsFixture{
		handler:  loader.Middleware()(http.HandlerFunc(h.List)),
		selectH:  loader.Middleware()(http.HandlerFunc(h.Select)),
		registry: registry,
		cookies:  cookies,
		audit:    audit,
		cookie:   seed.Result().Cookies()[0],
		sid:      "sid-wards",
	}
}

func wardsJSON(wards ...map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"wards": wards})
	}
}

func TestWardsListReturnsAvailableWards(t *testing.T) {
	fx := newWardsFixture(t, wardsJSON(
		map[string]string{"id": "w-1", "name": "Терапия", "hospital_id": "h-1"},
		map[string]string{"id": "w-2", "name": "Хирургия", "hospital_id": "h-1"},
	))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wards", nil)
	req.AddCookie(fx.cookie)
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	var resp wardListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Ответ не JSON: %v", err)
	}
	if len(resp.Wards) != 2 || resp.NoneAvailable {
		t.Errorf("Ответ: %+v", resp)
	}
}

func TestWardsListEmptyIsTerminal(t *testing.T) {
	fx := newWardsFixture(t, wardsJSON())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wards", nil)
	req.AddCookie(fx.cookie)
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Статус = %d", rec.Code)
	}
	var resp wardListResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	// Пустой список — валидный терминальный результат, не ошибка
	if !resp.NoneAvailable || len(resp.Wards) != 0 {
		t.Errorf("Ответ: %+v", resp)
	}
	if resp.Message == "" {
		t.Error("Нет сообщения для пользователя")
	}
}

func TestWardsListUnauthorizedExpiresSession(t *testing.T) {
	var calls atomic.Int32
	fx := newWardsFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wards", nil)
	req.AddCookie(fx.cookie)
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Статус = %d", rec.Code)
	}
	// 401 не повторяется
	if n := calls.Load(); n != 1 {
		t.Errorf("Запросов к backend: %d, ожидался 1", n)
	}
	if _, ok := fx.registry.Get(fx.sid); ok {
		t.Error("Сессия должна быть завершена после 401")
	}

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("Cookie сессии не очищен")
	}
	if !strings.Contains(rec.Body.String(), "session_expired") {
		t.Errorf("Тело: %s", rec.Body.String())
	}

	// Завершение сессии попадает в журнал входов
	if n, _ := fx.audit.CountByOutcome(context.Background(), repository.AuditOutcomeExpired); n != 1 {
		t.Errorf("Записей expired в журнале: %d, ожидалась 1", n)
	}
}

func TestWardsListRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	fx := newWardsFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		wardsJSON(map[string]string{"id": "w-1", "name": "Терапия", "hospital_id": "h-1"})(w, r)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wards", nil)
	req.AddCookie(fx.cookie)
	fx.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("Запросов к backend: %d, ожидалось 3", n)
	}
}

func TestSelectWardNotEntitled(t *testing.T) {
	fx := newWardsFixture(t, wardsJSON(
		map[string]string{"id": "w-1", "name": "Терапия", "hospital_id": "h-1"},
	))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/wards/select",
		strings.NewReader(`{"ward_id":"w-999"}`))
	req.AddCookie(fx.cookie)
	fx.selectH.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("Статус = %d", rec.Code)
	}
}

func TestSelectWardCommitsAndUpdatesCookie(t *testing.T) {
	fx := newWardsFixture(t, wardsJSON(
		map[string]string{"id": "w-1", "name": "Терапия", "hospital_id": "h-1"},
	))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/wards/select",
		strings.NewReader(`{"ward_id":"w-1"}`))
	req.AddCookie(fx.cookie)
	fx.selectH.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.State != dispatch.StateNurseLayout || resp.RouteTree != "/nurse" {
		t.Errorf("state = %q, route_tree = %q", resp.State, resp.RouteTree)
	}
	if resp.ActiveWard == nil || resp.ActiveWard.ID != "w-1" {
		t.Errorf("ActiveWard: %+v", resp.ActiveWard)
	}

	// Выбор зафиксирован в Store
	store, ok := fx.registry.Get(fx.sid)
	if !ok {
		t.Fatal("Сессия пропала из Registry")
	}
	if st := store.Snapshot(); st.ActiveWard == nil || st.ActiveWard.ID != "w-1" {
		t.Errorf("Store.ActiveWard: %+v", st.ActiveWard)
	}

	// Cookie обновлён с выбранным отделением
	updated := sessionCookie(t, rec)
	if updated == nil {
		t.Fatal("Cookie не обновлён")
	}
	data, err := fx.cookies.Decrypt(updated.Value)
	if err != nil {
		t.Fatalf("Cookie не расшифровывается: %v", err)
	}
	if data.Ward == nil || data.Ward.ID != "w-1" {
		t.Errorf("Cookie.Ward: %+v", data.Ward)
	}
}
