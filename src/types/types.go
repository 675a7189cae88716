package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

type RegistrationStatus string

const (
	REGISTRATION_PENDING   RegistrationStatus = "pending"
	REGISTRATION_CONFIRMED RegistrationStatus = "confirmed"
	REGISTRATION_CANCELLED RegistrationStatus = "cancelled"
	REGISTRATION_DECLINED  RegistrationStatus = "declined"
)

type PaymentStatus string

const (
	PAYMENT_PENDING    PaymentStatus = "pending"
	PAYMENT_PROCESSING PaymentStatus = "processing"
	PAYMENT_COMPLETED  PaymentStatus = "completed"
	PAYMENT_FAILED     PaymentStatus = "failed"
	PAYMENT_REFUNDED   PaymentStatus = "refunded"
)

type TransactionStatus string

const (
	TRANSACTION_PENDING   TransactionStatus = "pending"
	TRANSACTION_COMPLETED TransactionStatus = "completed"
	TRANSACTION_FAILED    TransactionStatus = "failed"
	TRANSACTION_REFUNDED  TransactionStatus = "refunded"
)

type EventStatus string

const (
	EVENT_DRAFT  EventStatus = "draft"
	EVENT_OPEN   EventStatus = "open"
	EVENT_CLOSED EventStatus = "closed"
)

// Statuses a provider reports in a webhook payload.
const (
	PROVIDER_STATUS_SUCCESS    = "success"
	PROVIDER_STATUS_PROCESSING = "processing"
	PROVIDER_STATUS_FAILED     = "failed"
	PROVIDER_STATUS_REFUNDED   = "refunded"
)

type TicketSelection struct {
	TicketID  uint    `json:"ticket" binding:"required"`
	Qty       uint8   `json:"qty" binding:"required"`
	UnitPrice float64 `json:"unit_price,omitempty"`
}

type StageCheckoutRequestBody struct {
	Items    []TicketSelection `json:"items" binding:"required,min=1"`
	Currency string            `json:"currency" binding:"required,currency"`
}

type SubmitRegistrationRequestBody struct {
	Name          string `json:"name" binding:"required"`
	Email         string `json:"email" binding:"required,email"`
	Phone         string `json:"phone" binding:"required"`
	AcceptedTerms bool   `json:"accepted_terms" binding:"required"`
}

type DeclineRegistrationRequestBody struct {
	Reason string `json:"reason" binding:"required"`
}

type RefundTransactionRequestBody struct {
	Reason string `json:"reason" binding:"required"`
}

type UpdateWebhookSettingsRequestBody struct {
	Provider string  `json:"provider" binding:"required"`
	Secret   *string `json:"secret,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

type SimpleRequestParams struct {
	ID uint `uri:"id" binding:"required"`
}

// WebhookEvent is the normalized shape of a provider callback after the raw
// payload has been authenticated and parsed.
type WebhookEvent struct {
	Provider      string
	TransactionID string
	Status        string
	Amount        float64
	Fee           float64
	Currency      string
	Reason        string
	Method        string
	RawPayload    []byte
}

type VerificationResult struct {
	Valid    bool   `json:"valid"`
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

type Claims struct {
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}
