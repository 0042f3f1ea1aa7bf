// Пакет session — состояние сессии Session Gateway.
// Store — единственный писатель истины о сессии: профиль, выбранное
// отделение, флаги аутентификации и загрузки. Никакой другой компонент
// не хранит дубликатов auth/role/ward состояния.
package session

import (
	"sync"

	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
)

// Store — реактивный контейнер состояния одной сессии.
// Жизненный цикл: создаётся пустым, наполняется один раз на успешный
// login, сбрасывается через ClearSession при logout или истечении
// credential.
type Store struct {
	mu     sync.Mutex
	state  model.SessionState
	gen    uint64
	subs   map[int]func(model.SessionState)
	nextID int
}

// NewStore создаёт пустой Store.
func NewStore() *Store {
	return &Store{
		subs: make(map[int]func(model.SessionState)),
	}
}

// Snapshot возвращает копию текущего состояния.
func (s *Store) Snapshot() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation возвращает поколение сессии. Поколение растёт при смене
// идентичности сессии или отделения; ответы ward-scoped запросов,
// стартовавших в прежнем поколении, обязаны отбрасываться.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// SetLoading выставляет флаг выполняющейся операции login/загрузки профиля.
func (s *Store) SetLoading(loading bool) {
	s.commit(func(st *model.SessionState) {
		st.Loading = loading
	}, false)
}

// SetError записывает последнюю ошибку для UI.
func (s *Store) SetError(msg string) {
	s.commit(func(st *model.SessionState) {
		st.LastError = msg
	}, false)
}

// SetSession устанавливает профиль после успешного fetch GET /users/me.
// Вызывается только с авторитетным профилем backend — никогда напрямую
// из claims токена. Поднимает флаг аутентификации, сбрасывает ошибку.
func (s *Store) SetSession(profile *model.UserProfile) {
	if profile == nil {
		panic("session: SetSession(nil) — используйте ClearSession")
	}
	s.commit(func(st *model.SessionState) {
		st.Profile = profile
		st.Authenticated = true
		st.Loading = false
		st.LastError = ""
	}, true)
}

// SetActiveWard фиксирует выбранное отделение.
// Вызов без установленного профиля — ошибка программирования,
// а не runtime-состояние, из которого нужно восстанавливаться.
func (s *Store) SetActiveWard(ward *model.Ward) {
	s.mu.Lock()
	if s.state.Profile == nil {
		s.mu.Unlock()
		panic("session: SetActiveWard до установки профиля")
	}
	s.mu.Unlock()

	s.commit(func(st *model.SessionState) {
		st.ActiveWard = ward
	}, true)
}

// ClearSession атомарно сбрасывает профиль, отделение, флаг аутентификации
// и прочее состояние сессии к начальным значениям. Идемпотентна:
// повторный вызов не имеет дополнительного эффекта.
func (s *Store) ClearSession() {
	s.mu.Lock()
	if s.state == (model.SessionState{}) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.commit(func(st *model.SessionState) {
		*st = model.SessionState{}
	}, true)
}

// commit применяет мутацию под мьютексом и уведомляет подписчиков.
// bumpGen — инвалидировать ли in-flight ward-scoped ответы.
func (s *Store) commit(mutate func(*model.SessionState), bumpGen bool) {
	s.mu.Lock()
	mutate(&s.state)
	if bumpGen {
		s.gen++
	}
	state := s.state
	for _, notify := range s.subs {
		notify(state)
	}
	s.mu.Unlock()
}

// Subscribe подписывает на срез состояния, вычисляемый селектором.
// Подписчик получает значение ровно тогда, когда его срез изменился;
// изменения других срезов уведомления не порождают. Непрочитанное
// значение замещается более новым (канал ёмкости 1).
// cancel снимает подписку.
func Subscribe[T comparable](s *Store, sel func(model.SessionState) T) (<-chan T, func()) {
	ch := make(chan T, 1)

	s.mu.Lock()
	last := sel(s.state)
	id := s.nextID
	s.nextID++
	s.subs[id] = func(st model.SessionState) {
		v := sel(st)
		if v == last {
			return
		}
		last = v
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return ch, cancel
}
