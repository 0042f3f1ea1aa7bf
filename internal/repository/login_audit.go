package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Итоги попытки входа для журнала.
const (
	// AuditOutcomeSuccess — вход выполнен.
	AuditOutcomeSuccess = "success"
	// AuditOutcomeFailure — вход отклонён IdP.
	AuditOutcomeFailure = "failure"
	// AuditOutcomeLogout — явный выход.
	AuditOutcomeLogout = "logout"
	// AuditOutcomeExpired — сессия завершена по 401 backend'а.
	AuditOutcomeExpired = "expired"
)

// LoginAuditRecord — запись журнала входов.
type LoginAuditRecord struct {
	ID          uuid.UUID
	UserSubject string
	Username    string
	Provider    string
	Outcome     string
	RemoteAddr  string
	CreatedAt   time.Time
}

// LoginAuditRepository — журнал попыток входа.
// Читается админ-консолью; gateway только пишет.
type LoginAuditRepository interface {
	// Insert добавляет запись журнала.
	Insert(ctx context.Context, rec *LoginAuditRecord) error
	// ListRecent возвращает последние записи (новые первыми).
	ListRecent(ctx context.Context, limit int) ([]*LoginAuditRecord, error)
	// CountByOutcome возвращает количество записей с указанным итогом.
	CountByOutcome(ctx context.Context, outcome string) (int, error)
}

// loginAuditRepo — реализация LoginAuditRepository.
type loginAuditRepo struct {
	db DBTX
}

// NewLoginAuditRepository создаёт репозиторий журнала входов.
func NewLoginAuditRepository(db DBTX) LoginAuditRepository {
	return &loginAuditRepo{db: db}
}

func (r *loginAuditRepo) Insert(ctx context.Context, rec *LoginAuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	query := `
		INSERT INTO login_audit (id, user_subject, username, provider, outcome, remote_addr)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.UserSubject, rec.Username, rec.Provider, rec.Outcome, rec.RemoteAddr,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи журнала входов: %w", err)
	}
	return nil
}

func (r *loginAuditRepo) ListRecent(ctx context.Context, limit int) ([]*LoginAuditRecord, error) {
	query := `
		SELECT id, user_subject, username, provider, outcome, remote_addr, created_at
		FROM login_audit
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала входов: %w", err)
	}
	defer rows.Close()

	var records []*LoginAuditRecord
	for rows.Next() {
		rec := &LoginAuditRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.UserSubject, &rec.Username, &rec.Provider,
			&rec.Outcome, &rec.RemoteAddr, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *loginAuditRepo) CountByOutcome(ctx context.Context, outcome string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM login_audit WHERE outcome = $1`, outcome).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей журнала: %w", err)
	}
	return count, nil
}
