package models

import (
	"etix/src/types"
	"time"

	"github.com/google/uuid"
)

// Registration is one attendee's attempt to obtain tickets for an event.
// Rows are never hard-deleted outside an explicit admin delete; lifecycle
// is carried by the two status columns.
type Registration struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid;default:gen_random_uuid()" json:"id"`

	Name    string `json:"name,omitempty"`
	Email   string `gorm:"index" json:"email,omitempty"`
	Phone   string `gorm:"index" json:"phone,omitempty"`
	UserID  *uint  `json:"user_id,omitempty"`
	EventID uint   `gorm:"index" json:"event_id,omitempty"`

	RegistrationStatus types.RegistrationStatus `gorm:"default:'pending'" json:"registration_status,omitempty"`
	PaymentStatus      types.PaymentStatus      `gorm:"default:'pending'" json:"payment_status,omitempty"`

	PaymentProvider string  `json:"payment_provider,omitempty"`
	PaymentMethod   string  `json:"payment_method,omitempty"`
	TransactionID   *string `json:"transaction_id,omitempty"`
	Currency        string  `json:"currency,omitempty"`
	TotalAmount     float64 `json:"total_amount,omitempty"`

	MarkedAt           *time.Time `json:"marked_at,omitempty"`
	PaymentConfirmedAt *time.Time `json:"payment_confirmed_at,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedBy        *string    `json:"confirmed_by,omitempty"`
	DeclinedAt         *time.Time `json:"declined_at,omitempty"`
	DeclinedBy         *string    `json:"declined_by,omitempty"`
	DeclinedReason     *string    `json:"declined_reason,omitempty"`
	RefundedAt         *time.Time `json:"refunded_at,omitempty"`
	RefundReason       *string    `json:"refund_reason,omitempty"`
	TermsAcceptedAt    *time.Time `json:"terms_accepted_at,omitempty"`

	Event        *Event               `gorm:"foreignKey:event_id" json:"event,omitempty"`
	User         *User                `gorm:"foreignKey:user_id" json:"-"`
	Items        []RegistrationItem   `json:"items,omitempty"`
	Transactions []PaymentTransaction `json:"transactions,omitempty"`

	types.Timestamps
}

// RegistrationItem is one ticket line of a registration, with quantity and
// the unit price captured at checkout time.
type RegistrationItem struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	RegistrationID uuid.UUID `gorm:"type:uuid;index" json:"registration_id,omitempty"`
	TicketID       uint      `json:"ticket_id,omitempty"`
	Qty            uint8     `json:"qty,omitempty"`
	UnitPrice      float64   `json:"unit_price,omitempty"`
	Subtotal       float64   `json:"subtotal,omitempty"`

	Ticket Ticket `json:"ticket,omitempty"`

	types.Timestamps
}
