package session

import (
	"testing"

	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/roles"
)

func testProfile(sub string) *model.UserProfile {
	return &model.UserProfile{
		Subject:     sub,
		Email:       sub + "@hospital.example",
		DisplayName: sub,
		Roles:       roles.FromStrings([]string{"nurse"}),
	}
}

// TestSetSessionFlipsAuthenticated проверяет инвариант
// Authenticated == true ⇔ Profile != nil.
func TestSetSessionFlipsAuthenticated(t *testing.T) {
	s := NewStore()

	st := s.Snapshot()
	if st.Authenticated || st.Profile != nil {
		t.Fatal("Новая сессия должна быть пустой")
	}

	s.SetError("предыдущая ошибка")
	s.SetSession(testProfile("u1"))

	st = s.Snapshot()
	if !st.Authenticated || st.Profile == nil {
		t.Error("После SetSession сессия должна быть аутентифицирована")
	}
	if st.LastError != "" {
		t.Error("SetSession должен сбрасывать lastError")
	}
	if st.Loading {
		t.Error("SetSession должен сбрасывать loading")
	}
}

// TestClearSessionIdempotent: повторный ClearSession не имеет
// дополнительного эффекта.
func TestClearSessionIdempotent(t *testing.T) {
	s := NewStore()
	s.SetSession(testProfile("u1"))
	s.SetActiveWard(&model.Ward{ID: "w1", Name: "Терапия", HospitalID: "h1"})

	s.ClearSession()
	first := s.Snapshot()
	firstGen := s.Generation()

	s.ClearSession()
	second := s.Snapshot()

	if first != second {
		t.Errorf("Состояние после повторного ClearSession отличается: %+v != %+v", first, second)
	}
	if s.Generation() != firstGen {
		t.Error("Повторный ClearSession не должен менять поколение")
	}
	if first != (model.SessionState{}) {
		t.Errorf("ClearSession должен вернуть начальное состояние, получено %+v", first)
	}
}

// TestWardRequiresProfile: инвариант ActiveWard != nil ⇒ Profile != nil.
// Очистка сессии сбрасывает отделение атомарно; установка отделения
// без профиля — ошибка программирования (panic).
func TestWardRequiresProfile(t *testing.T) {
	s := NewStore()
	s.SetSession(testProfile("u1"))
	s.SetActiveWard(&model.Ward{ID: "w1", Name: "Терапия", HospitalID: "h1"})

	s.ClearSession()
	st := s.Snapshot()
	if st.ActiveWard != nil {
		t.Error("ClearSession должен сбросить отделение вместе с профилем")
	}

	defer func() {
		if recover() == nil {
			t.Error("SetActiveWard без профиля должен паниковать")
		}
	}()
	s.SetActiveWard(&model.Ward{ID: "w2", Name: "Хирургия", HospitalID: "h1"})
}

// TestSubscribeSelectorSlices: подписчик среза уведомляется ровно тогда,
// когда меняется его срез, а не любое состояние.
func TestSubscribeSelectorSlices(t *testing.T) {
	s := NewStore()

	wardCh, cancelWard := Subscribe(s, func(st model.SessionState) string {
		if st.ActiveWard == nil {
			return ""
		}
		return st.ActiveWard.ID
	})
	defer cancelWard()

	authCh, cancelAuth := Subscribe(s, func(st model.SessionState) bool {
		return st.Authenticated
	})
	defer cancelAuth()

	// Установка профиля меняет auth-срез, но не ward-срез
	s.SetSession(testProfile("u1"))

	select {
	case got := <-authCh:
		if !got {
			t.Error("Ожидалось уведомление authenticated=true")
		}
	default:
		t.Error("Auth-подписчик должен получить уведомление")
	}
	select {
	case got := <-wardCh:
		t.Errorf("Ward-подписчик не должен получать уведомление, получено %q", got)
	default:
	}

	// Установка отделения меняет ward-срез, но не auth-срез
	s.SetActiveWard(&model.Ward{ID: "w1", Name: "Терапия", HospitalID: "h1"})

	select {
	case got := <-wardCh:
		if got != "w1" {
			t.Errorf("Ward-уведомление = %q, ожидалось w1", got)
		}
	default:
		t.Error("Ward-подписчик должен получить уведомление")
	}
	select {
	case <-authCh:
		t.Error("Auth-подписчик не должен получать уведомление при смене отделения")
	default:
	}
}

// TestGenerationInvalidatesInFlight: смена отделения до прихода ответа
// инвалидирует in-flight ward-scoped ответ (паттерн отбрасывания
// устаревших ответов).
func TestGenerationInvalidatesInFlight(t *testing.T) {
	s := NewStore()
	s.SetSession(testProfile("u1"))
	s.SetActiveWard(&model.Ward{ID: "A", Name: "Терапия", HospitalID: "h1"})

	// Запрос стартует в поколении отделения A
	gen := s.Generation()

	// До прихода ответа пользователь переключается на отделение B
	s.SetActiveWard(&model.Ward{ID: "B", Name: "Хирургия", HospitalID: "h1"})

	if s.Generation() == gen {
		t.Fatal("Смена отделения должна поднять поколение")
	}
	// Приёмник ответа сверяет поколение и обязан отбросить результат
	if stale := s.Generation() != gen; !stale {
		t.Error("Ответ для отделения A должен быть распознан как устаревший")
	}
}

// TestClearSessionBumpsGeneration: logout инвалидирует in-flight ответы.
func TestClearSessionBumpsGeneration(t *testing.T) {
	s := NewStore()
	s.SetSession(testProfile("u1"))

	gen := s.Generation()
	s.ClearSession()

	if s.Generation() == gen {
		t.Error("ClearSession должен поднять поколение")
	}
}
