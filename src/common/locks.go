package common

import (
	"errors"
	"etix/src/db"
	"etix/src/models"
	"etix/src/types"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AcquireRegistrationLock claims the (email, phone, event) triple for one
// checkout attempt. Acquisition fails with a lock-kinded error when any
// unexpired row matches (email, event) OR (phone, event); the two identity
// channels are checked independently so the same person cannot run two
// concurrent attempts through different fields. The count is the fast path.
// Two transactions racing past it both see zero rows, so the unique indexes
// on (email, event_id) and (phone, event_id) are the real arbiter: the
// loser's INSERT fails with a duplicate-key error, which is reported as the
// same conflict. Expired rows are reaped inside the same transaction, so no
// sweep is needed for correctness.
func AcquireRegistrationLock(email, phone string, eventID uint, ttl time.Duration) (uuid.UUID, error) {
	token := uuid.New()
	now := time.Now()
	d := db.GetDb()
	err := d.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("event_id = ?", eventID).
			Where("expires_at <= ?", now).
			Delete(&models.RegistrationLock{}).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}

		var count int64
		if err := tx.
			Model(&models.RegistrationLock{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("event_id = ?", eventID).
			Where("expires_at > ?", now).
			Where("email = ? OR phone = ?", email, phone).
			Count(&count).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}
		if count > 0 {
			return types.NewLockConflictError(email, eventID)
		}

		lock := models.RegistrationLock{
			Token:     token,
			Email:     email,
			Phone:     phone,
			EventID:   eventID,
			LockedAt:  now,
			ExpiresAt: now.Add(ttl),
		}
		if err := tx.Create(&lock).Error; err != nil {
			if isDuplicateKey(err) {
				return types.NewLockConflictError(email, eventID)
			}
			return types.NewDatabaseError(err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	log.Printf("[locks] Acquired %s for event %d (ttl %s)\n", token.String(), eventID, ttl)
	return token, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLSTATE 23505 from the postgres driver when error translation is off.
	return strings.Contains(err.Error(), "duplicate key")
}

// ReleaseRegistrationLock drops the lock identified by token. Releasing a
// lock that no longer exists, or that has already expired, is a no-op.
func ReleaseRegistrationLock(token uuid.UUID) error {
	d := db.GetDb()
	result := d.
		Where("token = ?", token).
		Delete(&models.RegistrationLock{})
	if result.Error != nil {
		return types.NewDatabaseError(result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("[locks] Released %s\n", token.String())
	}
	return nil
}

// PurgeExpiredLocks is the storage-hygiene sweep run from the scheduler.
// Correctness never depends on it.
func PurgeExpiredLocks() {
	d := db.GetDb()
	result := d.
		Where("expires_at <= ?", time.Now()).
		Delete(&models.RegistrationLock{})
	if result.Error != nil {
		log.Printf("[locks] Error purging expired locks: %s\n", result.Error.Error())
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("[locks] Purged %d expired locks\n", result.RowsAffected)
	}
}
