package common

import (
	"encoding/json"
	"errors"
	"etix/src/db"
	"etix/src/models"
	"etix/src/types"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreateRegistrationInput struct {
	Name     string
	Email    string
	Phone    string
	UserID   *uint
	EventID  uint
	Items    []types.TicketSelection
	Currency string
	Provider string
}

// CreateRegistration persists a checkout submission: a pending Registration,
// its ticket lines, and a pending PaymentTransaction whose reference id the
// provider echoes back as transaction_id. The caller must hold the
// registration lock for the attendee/event pair.
func CreateRegistration(input *CreateRegistrationInput) (*models.Registration, error) {
	now := time.Now()
	reference := uuid.New().String()
	registration := models.Registration{
		Name:               input.Name,
		Email:              input.Email,
		Phone:              input.Phone,
		UserID:             input.UserID,
		EventID:            input.EventID,
		RegistrationStatus: types.REGISTRATION_PENDING,
		PaymentStatus:      types.PAYMENT_PENDING,
		PaymentProvider:    input.Provider,
		TransactionID:      &reference,
		Currency:           input.Currency,
		MarkedAt:           &now,
		TermsAcceptedAt:    &now,
	}

	d := db.GetDb()
	err := d.Transaction(func(tx *gorm.DB) error {
		var total float64
		items := make([]models.RegistrationItem, 0, len(input.Items))
		for _, sel := range input.Items {
			var ticket models.Ticket
			if err := tx.
				Model(&models.Ticket{}).
				Where("id = ? AND event_id = ?", sel.TicketID, input.EventID).
				First(&ticket).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return types.NewValidationError("unknown ticket for this event")
				}
				return types.NewDatabaseError(err)
			}
			subtotal := ticket.Price * float64(sel.Qty)
			total += subtotal
			items = append(items, models.RegistrationItem{
				TicketID:  ticket.ID,
				Qty:       sel.Qty,
				UnitPrice: ticket.Price,
				Subtotal:  subtotal,
			})
		}
		registration.TotalAmount = total

		if err := tx.Create(&registration).Error; err != nil {
			return types.NewDatabaseError(err)
		}
		for i := range items {
			items[i].RegistrationID = registration.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return types.NewDatabaseError(err)
		}
		txn := models.PaymentTransaction{
			RegistrationID: registration.ID,
			Provider:       input.Provider,
			ProviderTxnID:  reference,
			Amount:         total,
			Currency:       input.Currency,
			Status:         types.TRANSACTION_PENDING,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return types.NewDatabaseError(err)
		}
		registration.Items = items
		registration.Transactions = []models.PaymentTransaction{txn}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[registrations] Created %s for event %d (%s)\n", registration.ID.String(), input.EventID, reference)
	return &registration, nil
}

// ApplyResult reports what a webhook application actually did, so handlers
// can decide on side effects without re-reading state.
type ApplyResult struct {
	Applied        bool
	AlreadyApplied bool
	Confirmed      bool
	Registration   *models.Registration
}

// ApplyProviderSuccess settles the transaction identified by the external
// transaction id. Redelivery of an already-completed transaction id is a
// no-op reported as AlreadyApplied. The registration advances to confirmed
// only from pending; a success landing on a cancelled or declined
// registration still records the payment but leaves the registration alone
// and logs the inconsistency.
func ApplyProviderSuccess(event *types.WebhookEvent) (*ApplyResult, error) {
	result := &ApplyResult{}
	d := db.GetDb()
	err := d.Transaction(func(tx *gorm.DB) error {
		txn, err := findTransaction(tx, event.TransactionID)
		if err != nil {
			return err
		}
		if txn.Status == types.TRANSACTION_COMPLETED {
			log.Printf("[webhook] Transaction %s already completed, skipping\n", event.TransactionID)
			result.AlreadyApplied = true
			result.Registration = &txn.Registration
			return nil
		}

		var registration models.Registration
		if err := tx.
			Model(&models.Registration{}).
			Where("id = ?", txn.RegistrationID).
			First(&registration).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}

		// A registration settles at most once. A second success with a
		// different transaction id is a duplicate settlement, not a retry.
		var completed int64
		if err := tx.
			Model(&models.PaymentTransaction{}).
			Where("registration_id = ? AND status = ?", txn.RegistrationID, types.TRANSACTION_COMPLETED).
			Count(&completed).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}
		if completed > 0 {
			log.Printf("[webhook] WARN duplicate settlement for registration %s via %s\n", txn.RegistrationID.String(), event.TransactionID)
			reason := "duplicate settlement"
			now := time.Now()
			if err := tx.
				Model(&models.PaymentTransaction{}).
				Where("id = ?", txn.ID).
				Updates(&models.PaymentTransaction{
					Status:          types.TRANSACTION_FAILED,
					FailureReason:   &reason,
					FailedAt:        &now,
					CallbackPayload: callbackPayload(event),
				}).
				Error; err != nil {
				return types.NewDatabaseError(err)
			}
			result.Registration = &registration
			return nil
		}

		now := time.Now()
		updates := &models.PaymentTransaction{
			Status:          types.TRANSACTION_COMPLETED,
			ProcessedAt:     &now,
			CallbackPayload: callbackPayload(event),
		}
		if event.Amount > 0 {
			updates.Amount = event.Amount
		}
		if event.Fee > 0 {
			updates.Fee = event.Fee
		}
		if event.Currency != "" {
			updates.Currency = event.Currency
		}
		if event.Method != "" {
			updates.PaymentMethod = event.Method
		}
		if err := tx.
			Model(&models.PaymentTransaction{}).
			Where("id = ?", txn.ID).
			Updates(updates).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}

		regUpdates := &models.Registration{
			PaymentStatus:      types.PAYMENT_COMPLETED,
			PaymentConfirmedAt: &now,
		}
		if registration.RegistrationStatus == types.REGISTRATION_PENDING {
			regUpdates.RegistrationStatus = types.REGISTRATION_CONFIRMED
			regUpdates.ConfirmedAt = &now
			result.Confirmed = true
		} else {
			log.Printf("[webhook] WARN payment completed for registration %s in status %s; registration left untouched\n",
				registration.ID.String(), registration.RegistrationStatus)
		}
		if err := tx.
			Model(&models.Registration{}).
			Where("id = ?", registration.ID).
			Updates(regUpdates).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}

		result.Applied = true
		registration.PaymentStatus = regUpdates.PaymentStatus
		if result.Confirmed {
			registration.RegistrationStatus = types.REGISTRATION_CONFIRMED
			registration.ConfirmedAt = &now
		}
		result.Registration = &registration
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyProviderFailure marks the transaction failed. The registration stays
// pending so the attendee can retry or cancel.
func ApplyProviderFailure(event *types.WebhookEvent) (*ApplyResult, error) {
	result := &ApplyResult{}
	d := db.GetDb()
	err := d.Transaction(func(tx *gorm.DB) error {
		txn, err := findTransaction(tx, event.TransactionID)
		if err != nil {
			return err
		}
		if txn.Status == types.TRANSACTION_FAILED {
			result.AlreadyApplied = true
			return nil
		}
		if txn.Status == types.TRANSACTION_COMPLETED {
			log.Printf("[webhook] WARN failure reported for completed transaction %s, ignoring\n", event.TransactionID)
			result.AlreadyApplied = true
			return nil
		}
		now := time.Now()
		reason := event.Reason
		if reason == "" {
			reason = "provider reported failure"
		}
		if err := tx.
			Model(&models.PaymentTransaction{}).
			Where("id = ?", txn.ID).
			Updates(&models.PaymentTransaction{
				Status:          types.TRANSACTION_FAILED,
				FailureReason:   &reason,
				FailedAt:        &now,
				CallbackPayload: callbackPayload(event),
			}).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}
		if err := tx.
			Model(&models.Registration{}).
			Where("id = ? AND payment_status <> ?", txn.RegistrationID, types.PAYMENT_COMPLETED).
			Update("payment_status", types.PAYMENT_FAILED).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyProviderProcessing records that the provider has picked the attempt
// up: the registration moves from pending to processing. The transaction
// itself stays pending until a settlement or failure arrives.
func ApplyProviderProcessing(event *types.WebhookEvent) (*ApplyResult, error) {
	result := &ApplyResult{}
	d := db.GetDb()
	err := d.Transaction(func(tx *gorm.DB) error {
		txn, err := findTransaction(tx, event.TransactionID)
		if err != nil {
			return err
		}
		if txn.Status != types.TRANSACTION_PENDING {
			result.AlreadyApplied = true
			return nil
		}
		res := tx.
			Model(&models.Registration{}).
			Where("id = ? AND payment_status = ?", txn.RegistrationID, types.PAYMENT_PENDING).
			Update("payment_status", types.PAYMENT_PROCESSING)
		if res.Error != nil {
			return types.NewDatabaseError(res.Error)
		}
		result.Applied = res.RowsAffected > 0
		result.AlreadyApplied = res.RowsAffected == 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyProviderRefund moves a completed transaction to refunded. Refunds are
// only accepted from the verified webhook path or the admin flow; the
// handler enforces that, this enforces the state rule.
func ApplyProviderRefund(event *types.WebhookEvent) (*ApplyResult, error) {
	result := &ApplyResult{}
	d := db.GetDb()
	err := d.Transaction(func(tx *gorm.DB) error {
		txn, err := findTransaction(tx, event.TransactionID)
		if err != nil {
			return err
		}
		if txn.Status == types.TRANSACTION_REFUNDED {
			result.AlreadyApplied = true
			return nil
		}
		if txn.Status != types.TRANSACTION_COMPLETED {
			return types.NewValidationError("only a completed transaction can be refunded")
		}
		now := time.Now()
		reason := event.Reason
		if err := tx.
			Model(&models.PaymentTransaction{}).
			Where("id = ?", txn.ID).
			Updates(&models.PaymentTransaction{
				Status:          types.TRANSACTION_REFUNDED,
				CallbackPayload: callbackPayload(event),
			}).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}
		regUpdates := &models.Registration{
			PaymentStatus: types.PAYMENT_REFUNDED,
			RefundedAt:    &now,
		}
		if reason != "" {
			regUpdates.RefundReason = &reason
		}
		if err := tx.
			Model(&models.Registration{}).
			Where("id = ?", txn.RegistrationID).
			Updates(regUpdates).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdminConfirm moves a registration to confirmed on an operator's authority.
// This is the manual override: it does not require a completed payment, but
// it always records who decided.
func AdminConfirm(registrationID uuid.UUID, operator string) (*models.Registration, error) {
	var registration models.Registration
	d := db.GetDb()
	err := d.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Model(&models.Registration{}).
			Where("id = ?", registrationID).
			First(&registration).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewValidationError("registration not found")
			}
			return types.NewDatabaseError(err)
		}
		if registration.RegistrationStatus == types.REGISTRATION_CONFIRMED {
			return nil
		}
		now := time.Now()
		if err := tx.
			Model(&models.Registration{}).
			Where("id = ?", registrationID).
			Updates(&models.Registration{
				RegistrationStatus: types.REGISTRATION_CONFIRMED,
				ConfirmedAt:        &now,
				ConfirmedBy:        &operator,
			}).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}
		registration.RegistrationStatus = types.REGISTRATION_CONFIRMED
		registration.ConfirmedAt = &now
		registration.ConfirmedBy = &operator
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &registration, nil
}

// AdminDecline declines a registration, recording the operator and reason.
func AdminDecline(registrationID uuid.UUID, operator, reason string) (*models.Registration, error) {
	var registration models.Registration
	d := db.GetDb()
	err := d.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Model(&models.Registration{}).
			Where("id = ?", registrationID).
			First(&registration).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewValidationError("registration not found")
			}
			return types.NewDatabaseError(err)
		}
		if registration.RegistrationStatus == types.REGISTRATION_DECLINED {
			return nil
		}
		now := time.Now()
		if err := tx.
			Model(&models.Registration{}).
			Where("id = ?", registrationID).
			Updates(&models.Registration{
				RegistrationStatus: types.REGISTRATION_DECLINED,
				DeclinedAt:         &now,
				DeclinedBy:         &operator,
				DeclinedReason:     &reason,
			}).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}
		registration.RegistrationStatus = types.REGISTRATION_DECLINED
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &registration, nil
}

// RetryPayment issues a fresh pending PaymentTransaction with a new reference
// for a registration whose last attempt failed. The old transaction keeps its
// failed record; the provider settles against the new reference.
func RetryPayment(registrationID uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	d := db.GetDb()
	err := d.Transaction(func(tx *gorm.DB) error {
		var registration models.Registration
		if err := tx.
			Model(&models.Registration{}).
			Where("id = ?", registrationID).
			First(&registration).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewValidationError("registration not found")
			}
			return types.NewDatabaseError(err)
		}
		if registration.RegistrationStatus != types.REGISTRATION_PENDING {
			return types.NewValidationError("registration is not pending")
		}
		if registration.PaymentStatus == types.PAYMENT_COMPLETED {
			return types.NewValidationError("payment already completed")
		}
		var inflight int64
		if err := tx.
			Model(&models.PaymentTransaction{}).
			Where("registration_id = ? AND status = ?", registrationID, types.TRANSACTION_PENDING).
			Count(&inflight).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}
		if inflight > 0 {
			return types.NewValidationError("a payment attempt is already in flight")
		}
		reference := uuid.New().String()
		txn = models.PaymentTransaction{
			RegistrationID: registrationID,
			Provider:       registration.PaymentProvider,
			ProviderTxnID:  reference,
			Amount:         registration.TotalAmount,
			Currency:       registration.Currency,
			Status:         types.TRANSACTION_PENDING,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return types.NewDatabaseError(err)
		}
		if err := tx.
			Model(&models.Registration{}).
			Where("id = ?", registrationID).
			Updates(map[string]any{
				"payment_status": types.PAYMENT_PENDING,
				"transaction_id": reference,
			}).
			Error; err != nil {
			return types.NewDatabaseError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[registrations] Retry issued for %s (%s)\n", registrationID.String(), txn.ProviderTxnID)
	return &txn, nil
}

// CancelRegistration is the attendee-facing cancellation of a still-pending
// registration.
func CancelRegistration(registrationID uuid.UUID) error {
	d := db.GetDb()
	return d.Transaction(func(tx *gorm.DB) error {
		result := tx.
			Model(&models.Registration{}).
			Where("id = ? AND registration_status = ?", registrationID, types.REGISTRATION_PENDING).
			Update("registration_status", types.REGISTRATION_CANCELLED)
		if result.Error != nil {
			return types.NewDatabaseError(result.Error)
		}
		if result.RowsAffected == 0 {
			return types.NewValidationError("registration is not pending")
		}
		return nil
	})
}

// ExpireStalePendingRegistrations cancels registrations that have sat in
// pending with no settled payment for longer than maxAge. Hygiene sweep,
// scheduled from boot.
func ExpireStalePendingRegistrations(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	d := db.GetDb()
	result := d.
		Model(&models.Registration{}).
		Where("registration_status = ?", types.REGISTRATION_PENDING).
		Where("payment_status IN ?", []types.PaymentStatus{types.PAYMENT_PENDING, types.PAYMENT_FAILED}).
		Where("created_at < ?", cutoff).
		Update("registration_status", types.REGISTRATION_CANCELLED)
	if result.Error != nil {
		log.Printf("[registrations] Error expiring stale registrations: %s\n", result.Error.Error())
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("[registrations] Cancelled %d stale pending registrations\n", result.RowsAffected)
	}
}

func findTransaction(tx *gorm.DB, providerTxnID string) (*models.PaymentTransaction, error) {
	if providerTxnID == "" {
		return nil, types.NewValidationError("missing transaction id")
	}
	// FOR UPDATE serializes concurrent deliveries of the same transaction
	// id: the second delivery blocks here and then lands on the
	// already-applied short-circuit instead of repeating the side effects.
	var txn models.PaymentTransaction
	if err := tx.
		Model(&models.PaymentTransaction{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider_txn_id = ?", providerTxnID).
		Preload("Registration").
		First(&txn).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewValidationError("unknown transaction id")
		}
		return nil, types.NewDatabaseError(err)
	}
	return &txn, nil
}

func callbackPayload(event *types.WebhookEvent) types.JSONB {
	if len(event.RawPayload) == 0 {
		return nil
	}
	var payload types.JSONB
	if err := json.Unmarshal(event.RawPayload, &payload); err != nil {
		return types.JSONB{"raw": string(event.RawPayload)}
	}
	return payload
}
