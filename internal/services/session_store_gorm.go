package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"streamvault/internal/models"
)

// GormSessionStore keeps sessions in the payment_sessions table. Updates lock
// the row with SELECT ... FOR UPDATE inside a transaction.
type GormSessionStore struct {
	db *gorm.DB
}

func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

func (s *GormSessionStore) Create(ctx context.Context, session *models.PaymentSession) error {
	record := models.NewPaymentSessionRecord(session)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("store session %s: %w", session.ID, err)
	}
	return nil
}

func (s *GormSessionStore) Get(ctx context.Context, id string) (*models.PaymentSession, error) {
	var record models.PaymentSessionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		return nil, translateGormError(err, id)
	}
	return record.Session(), nil
}

func (s *GormSessionStore) FindBySecondaryCode(ctx context.Context, code string) (*models.PaymentSession, error) {
	if code == "" {
		return nil, ErrSessionNotFound
	}

	var record models.PaymentSessionRecord
	err := s.db.WithContext(ctx).
		Where("payment_code = ? OR external_code = ?", code, code).
		Order("created_at_ms desc").
		First(&record).Error
	if err != nil {
		return nil, translateGormError(err, code)
	}
	return record.Session(), nil
}

func (s *GormSessionStore) Update(ctx context.Context, id string, patch models.SessionPatch) (*models.PaymentSession, error) {
	var (
		result   *models.PaymentSession
		patchErr error
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.PaymentSessionRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&record).Error
		if err != nil {
			return translateGormError(err, id)
		}

		current := record.Session()
		next := current.Clone()
		if patchErr = patch.Apply(next); patchErr != nil {
			result = current
			return nil
		}

		err = tx.Model(&models.PaymentSessionRecord{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     next.Status,
				"paid_at_ms": next.PaidAt,
			}).Error
		if err != nil {
			return fmt.Errorf("update session %s: %w", id, err)
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, patchErr
}

func (s *GormSessionStore) ListPendingBefore(ctx context.Context, cutoffMs int64) ([]*models.PaymentSession, error) {
	var records []models.PaymentSessionRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at_ms < ?", models.SessionStatusPending, cutoffMs).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}

	out := make([]*models.PaymentSession, 0, len(records))
	for i := range records {
		out = append(out, records[i].Session())
	}
	return out, nil
}

func translateGormError(err error, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	return fmt.Errorf("load session %s: %w", key, err)
}
