package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentGateway string

const (
	PaymentGatewayMangofy PaymentGateway = "mangofy"
)

// PaymentCallbackHistory keeps the raw body of every gateway callback.
type PaymentCallbackHistory struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	PaymentGateway PaymentGateway `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	SessionID      string         `gorm:"type:varchar(100);index" json:"session_id"`
	PaymentCode    string         `gorm:"type:varchar(100);index" json:"payment_code"`
	PaymentStatus  string         `gorm:"type:varchar(50)" json:"payment_status"`
	Outcome        string         `gorm:"type:varchar(50)" json:"outcome"`
	Metadata       datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}
