// Пакет ward — резолвер отделений: загрузка списка доступных отделений
// и фиксация выбора в Store сессии. Загрузка повторяется при transient
// сбоях (до 3 попыток с backoff); фиксация выбора локальна и не
// повторяется. Ответы, стартовавшие в прежнем поколении сессии,
// отбрасываются, а не применяются к уже изменившейся сессии.
package ward

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/baymed/medlogistics/session-gateway/internal/autherr"
	"github.com/baymed/medlogistics/session-gateway/internal/backend"
	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
	"github.com/baymed/medlogistics/session-gateway/internal/session"
)

// fetchAttempts — максимум попыток загрузки списка отделений.
const fetchAttempts = 3

// SelectionStore — персистентное хранилище последнего выбора отделения.
// Реализуется repository.WardSelectionRepository; nil — без персистентности.
type SelectionStore interface {
	// Save запоминает выбор отделения пользователя.
	Save(ctx context.Context, subject string, ward model.Ward) error
	// Last возвращает последний выбор (nil, nil — выбора не было).
	Last(ctx context.Context, subject string) (*model.Ward, error)
}

// List — результат резолва отделений для сессии.
type List struct {
	// Wards — доступные отделения (пустой список — терминальное
	// состояние "нет доступных отделений, обратитесь к администратору").
	Wards []model.Ward
	// Preselected — последний сохранённый выбор, если он всё ещё доступен.
	Preselected *model.Ward
	// Stale — сессия изменилась, пока ответ был в полёте;
	// результат отброшен и не должен применяться.
	Stale bool
}

// Resolver — резолвер отделений.
type Resolver struct {
	backend    *backend.Client
	selections SelectionStore
	logger     *slog.Logger
	// backoffBase — базовая задержка между попытками (тестах — меньше).
	backoffBase time.Duration
}

// NewResolver создаёт резолвер. selections может быть nil.
func NewResolver(bc *backend.Client, selections SelectionStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		backend:     bc,
		selections:  selections,
		logger:      logger.With(slog.String("component", "ward_resolver")),
		backoffBase: 500 * time.Millisecond,
	}
}

// ListAvailableWards загружает список отделений текущего credential.
// Transient сбои (сетевые, 5xx) повторяются до 3 попыток с backoff;
// 401 не повторяется никогда. Пустой список — валидный результат.
func (r *Resolver) ListAvailableWards(ctx context.Context, tokens backend.TokenProvider) ([]model.Ward, error) {
	var lastErr error

	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		wards, err := r.backend.Wards(ctx, tokens)
		if err == nil {
			return wards, nil
		}
		lastErr = err

		if !autherr.Retryable(err) {
			return nil, err
		}
		if attempt == fetchAttempts {
			break
		}

		r.logger.Warn("Сбой загрузки отделений, повтор",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("загрузка отделений прервана: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * r.backoffBase):
		}
	}

	return nil, lastErr
}

// ListForSession загружает отделения в контексте сессии.
// Поколение сессии фиксируется до запроса; если к приходу ответа
// поколение изменилось (logout, смена отделения), результат
// помечается Stale и отбрасывается.
func (r *Resolver) ListForSession(ctx context.Context, store *session.Store, tokens backend.TokenProvider) (*List, error) {
	gen := store.Generation()
	subject := ""
	if st := store.Snapshot(); st.Profile != nil {
		subject = st.Profile.Subject
	}

	wards, err := r.ListAvailableWards(ctx, tokens)
	if err != nil {
		return nil, err
	}

	if store.Generation() != gen {
		r.logger.Debug("Ответ списка отделений устарел, отброшен",
			slog.String("subject", subject),
		)
		return &List{Stale: true}, nil
	}

	return &List{
		Wards:       wards,
		Preselected: r.preselect(ctx, subject, wards),
	}, nil
}

// SelectWard фиксирует выбор отделения: локальный commit в Store сессии
// (без сетевого вызова и без повторов) и best-effort сохранение выбора.
func (r *Resolver) SelectWard(ctx context.Context, store *session.Store, ward model.Ward) {
	w := ward
	store.SetActiveWard(&w)

	st := store.Snapshot()
	if r.selections == nil || st.Profile == nil {
		return
	}
	if err := r.selections.Save(ctx, st.Profile.Subject, ward); err != nil {
		// Потеря preselection не мешает работе сессии
		r.logger.Warn("Не удалось сохранить выбор отделения",
			slog.String("subject", st.Profile.Subject),
			slog.String("ward_id", ward.ID),
			slog.String("error", err.Error()),
		)
	}
}

// preselect возвращает последний сохранённый выбор, если он входит
// в текущий список доступных отделений.
func (r *Resolver) preselect(ctx context.Context, subject string, wards []model.Ward) *model.Ward {
	if r.selections == nil || subject == "" {
		return nil
	}

	last, err := r.selections.Last(ctx, subject)
	if err != nil || last == nil {
		return nil
	}
	for i := range wards {
		if wards[i].ID == last.ID {
			return &wards[i]
		}
	}
	return nil
}
