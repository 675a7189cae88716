package models

import (
	"etix/src/types"
	"time"

	"github.com/google/uuid"
)

// PaymentTransaction is one attempt to settle a Registration through a
// provider. A registration may accumulate several (retries); at most one is
// ever completed. ProviderTxnID is the external id and doubles as the
// idempotency key for webhook reconciliation.
type PaymentTransaction struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid;default:gen_random_uuid()" json:"id"`

	RegistrationID uuid.UUID `gorm:"type:uuid;index" json:"registration_id,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	ProviderTxnID  string    `gorm:"uniqueIndex" json:"provider_txn_id,omitempty"`
	PaymentMethod  string    `json:"payment_method,omitempty"`
	Amount         float64   `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	Fee            float64   `json:"fee,omitempty"`

	Status        types.TransactionStatus `gorm:"default:'pending'" json:"status,omitempty"`
	FailureReason *string                 `json:"failure_reason,omitempty"`
	FailedAt      *time.Time              `json:"failed_at,omitempty"`
	ProcessedAt   *time.Time              `json:"processed_at,omitempty"`

	ProviderResponse types.JSONB `gorm:"type:jsonb" json:"-"`
	CallbackPayload  types.JSONB `gorm:"type:jsonb" json:"-"`

	Registration Registration `gorm:"foreignKey:registration_id" json:"-"`

	types.Timestamps
}
