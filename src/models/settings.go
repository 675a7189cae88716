package models

import (
	"etix/src/types"
	"time"

	"github.com/google/uuid"
)

// WebhookSettings is per-provider webhook configuration plus diagnostic
// counters. The verification path only reads the secret; diagnostics are
// written after an event is applied and by the admin settings flow.
type WebhookSettings struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid;default:gen_random_uuid()" json:"id"`

	Provider string `gorm:"uniqueIndex" json:"provider"`
	Secret   string `json:"-"`
	Enabled  bool   `gorm:"default:true" json:"enabled"`

	RetryCount     uint       `json:"retry_count"`
	LastReceivedAt *time.Time `json:"last_received_at,omitempty"`
	LastTestOK     *bool      `json:"last_test_ok,omitempty"`
	LastTestedAt   *time.Time `json:"last_tested_at,omitempty"`

	types.Timestamps
}
