package services

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"streamvault/internal/models"
)

// CallbackRecorder keeps an audit trail of gateway callbacks.
type CallbackRecorder interface {
	Record(ctx context.Context, entry *models.PaymentCallbackHistory) error
}

type CallbackHistoryRepository struct {
	db *gorm.DB
}

func NewCallbackHistoryRepository(db *gorm.DB) *CallbackHistoryRepository {
	return &CallbackHistoryRepository{db: db}
}

func (r *CallbackHistoryRepository) Record(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	if entry.PaymentGateway == "" {
		entry.PaymentGateway = models.PaymentGatewayMangofy
	}
	if entry.Metadata == nil {
		entry.Metadata = datatypes.JSON("{}")
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// PurgeOlderThan hard deletes callback rows created before the cutoff.
func (r *CallbackHistoryRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Unscoped().
		Where("created_at < ?", cutoff).
		Delete(&models.PaymentCallbackHistory{})
	return res.RowsAffected, res.Error
}
