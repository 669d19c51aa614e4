package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentSessionRecord is the relational row behind a PaymentSession.
type PaymentSessionRecord struct {
	ID           string                              `gorm:"primaryKey;type:varchar(100)"`
	PlanID       string                              `gorm:"type:varchar(100);not null"`
	Status       SessionStatus                       `gorm:"type:varchar(20);not null;index:idx_payment_sessions_status_created,priority:1"`
	PixCode      string                              `gorm:"type:text"`
	QRImage      string                              `gorm:"type:text"`
	Amount       int64                               `gorm:"not null"`
	CreatedAtMs  int64                               `gorm:"column:created_at_ms;not null;index:idx_payment_sessions_status_created,priority:2"`
	PaidAtMs     *int64                              `gorm:"column:paid_at_ms"`
	PaymentCode  string                              `gorm:"type:varchar(100);index"`
	ExternalCode string                              `gorm:"type:varchar(100);index"`
	Metadata     datatypes.JSONType[SessionMetadata] `gorm:"type:jsonb"`
	UpdatedAt    time.Time
}

func (PaymentSessionRecord) TableName() string {
	return "payment_sessions"
}

// NewPaymentSessionRecord maps a session onto its row.
func NewPaymentSessionRecord(s *PaymentSession) *PaymentSessionRecord {
	c := s.Clone()
	return &PaymentSessionRecord{
		ID:           c.ID,
		PlanID:       c.PlanID,
		Status:       c.Status,
		PixCode:      c.PixCode,
		QRImage:      c.QRImage,
		Amount:       c.Amount,
		CreatedAtMs:  c.CreatedAt,
		PaidAtMs:     c.PaidAt,
		PaymentCode:  c.Metadata.GatewayPaymentCode,
		ExternalCode: c.Metadata.ExternalCode,
		Metadata:     datatypes.NewJSONType(c.Metadata),
	}
}

// Session maps the row back to the domain type.
func (r *PaymentSessionRecord) Session() *PaymentSession {
	s := &PaymentSession{
		ID:        r.ID,
		PlanID:    r.PlanID,
		Status:    r.Status,
		PixCode:   r.PixCode,
		QRImage:   r.QRImage,
		Amount:    r.Amount,
		CreatedAt: r.CreatedAtMs,
		PaidAt:    r.PaidAtMs,
		Metadata:  r.Metadata.Data(),
	}
	return s.Clone()
}
