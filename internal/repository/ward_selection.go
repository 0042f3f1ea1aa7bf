package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/baymed/medlogistics/session-gateway/internal/domain/model"
)

// WardSelectionRepository — последний выбор отделения по пользователю.
// Используется Ward Resolver'ом для preselection при следующем входе.
type WardSelectionRepository interface {
	// Save создаёт или обновляет выбор отделения пользователя.
	Save(ctx context.Context, subject string, ward model.Ward) error
	// Last возвращает последний выбор (nil, nil — выбора не было).
	Last(ctx context.Context, subject string) (*model.Ward, error)
	// Delete удаляет сохранённый выбор.
	Delete(ctx context.Context, subject string) error
}

// wardSelectionRepo — реализация WardSelectionRepository.
type wardSelectionRepo struct {
	db DBTX
}

// NewWardSelectionRepository создаёт репозиторий выбора отделений.
func NewWardSelectionRepository(db DBTX) WardSelectionRepository {
	return &wardSelectionRepo{db: db}
}

func (r *wardSelectionRepo) Save(ctx context.Context, subject string, ward model.Ward) error {
	query := `
		INSERT INTO ward_selections (user_subject, ward_id, ward_name, hospital_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_subject) DO UPDATE SET
			ward_id = EXCLUDED.ward_id,
			ward_name = EXCLUDED.ward_name,
			hospital_id = EXCLUDED.hospital_id,
			selected_at = now()`

	if _, err := r.db.Exec(ctx, query, subject, ward.ID, ward.Name, ward.HospitalID); err != nil {
		return fmt.Errorf("ошибка сохранения выбора отделения: %w", err)
	}
	return nil
}

func (r *wardSelectionRepo) Last(ctx context.Context, subject string) (*model.Ward, error) {
	query := `
		SELECT ward_id, ward_name, hospital_id
		FROM ward_selections
		WHERE user_subject = $1`

	ward := &model.Ward{}
	err := r.db.QueryRow(ctx, query, subject).Scan(&ward.ID, &ward.Name, &ward.HospitalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения выбора отделения: %w", err)
	}
	return ward, nil
}

func (r *wardSelectionRepo) Delete(ctx context.Context, subject string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM ward_selections WHERE user_subject = $1`, subject); err != nil {
		return fmt.Errorf("ошибка удаления выбора отделения: %w", err)
	}
	return nil
}
