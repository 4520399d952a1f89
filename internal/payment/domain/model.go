package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// RecordStatus is the state of a single payment audit record.
type RecordStatus string

const (
	RecordStatusCompleted RecordStatus = "COMPLETED"
	RecordStatusPending   RecordStatus = "PENDING"
	RecordStatusFailed    RecordStatus = "FAILED"
	RecordStatusRefund    RecordStatus = "REFUND"
)

func ParseRecordStatus(value string) (RecordStatus, error) {
	s := RecordStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", ErrInvalidRecordStatus
	}
	return s, nil
}

func (s RecordStatus) Valid() bool {
	switch s {
	case RecordStatusCompleted, RecordStatusPending, RecordStatusFailed, RecordStatusRefund:
		return true
	}
	return false
}

// Payment is an append-only audit record of money applied to an invoice.
type Payment struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	InvoiceID      snowflake.ID      `json:"invoice_id" gorm:"not null;index"`
	Method         string            `json:"method" gorm:"type:varchar(32);not null"`
	Status         RecordStatus      `json:"status" gorm:"type:varchar(16);not null"`
	Amount         decimal.Decimal   `json:"amount" gorm:"type:numeric(18,2);not null"`
	TransactionRef *string           `json:"transaction_ref,omitempty" gorm:"type:varchar(64)"`
	RecordedAt     time.Time         `json:"recorded_at" gorm:"not null;index"`
	RetryCount     int               `json:"retry_count" gorm:"not null;default:0"`
	Notes          string            `json:"notes" gorm:"type:text"`
	Metadata       datatypes.JSONMap `json:"metadata"`
}

func (Payment) TableName() string { return "payments" }
