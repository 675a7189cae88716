package models

import (
	"time"

	"github.com/google/uuid"
)

// RegistrationLock is an exclusive claim on an (email, phone, event) triple.
// At most one unexpired row may match a given (email, event) or
// (phone, event) pair. The unique indexes are what enforce that under
// concurrency; acquisition deletes expired rows in the same transaction
// before inserting, so a stale row never blocks a fresh claim.
type RegistrationLock struct {
	Token uuid.UUID `gorm:"primarykey;type:uuid" json:"token"`

	Email   string `gorm:"uniqueIndex:idx_lock_email_event" json:"email"`
	Phone   string `gorm:"uniqueIndex:idx_lock_phone_event" json:"phone"`
	EventID uint   `gorm:"uniqueIndex:idx_lock_email_event;uniqueIndex:idx_lock_phone_event" json:"event_id"`

	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

func (l *RegistrationLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
