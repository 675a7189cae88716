package common

import (
	"etix/src/db"
	"etix/src/types"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func transactionRows(txnID, regID uuid.UUID, reference string, status types.TransactionStatus) *sqlmock.Rows {
	return sqlmock.
		NewRows([]string{"id", "registration_id", "provider", "provider_txn_id", "status"}).
		AddRow(txnID.String(), regID.String(), "generic", reference, string(status))
}

func registrationRows(regID uuid.UUID, regStatus types.RegistrationStatus, payStatus types.PaymentStatus) *sqlmock.Rows {
	return sqlmock.
		NewRows([]string{"id", "registration_status", "payment_status"}).
		AddRow(regID.String(), string(regStatus), string(payStatus))
}

func TestApplyProviderSuccess(t *testing.T) {
	t.Run("redelivery of a completed transaction is a no-op", func(t *testing.T) {
		gormDB, mock := newMockDB()
		db.NewDB(gormDB)

		txnID := uuid.New()
		regID := uuid.New()
		reference := uuid.New().String()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "payment_transactions"`).
			WillReturnRows(transactionRows(txnID, regID, reference, types.TRANSACTION_COMPLETED))
		mock.ExpectQuery(`SELECT \* FROM "registrations"`).
			WillReturnRows(registrationRows(regID, types.REGISTRATION_CONFIRMED, types.PAYMENT_COMPLETED))
		mock.ExpectCommit()

		result, err := ApplyProviderSuccess(&types.WebhookEvent{
			Provider:      "generic",
			TransactionID: reference,
			Status:        types.PROVIDER_STATUS_SUCCESS,
		})
		assert.NoError(t, err)
		assert.True(t, result.AlreadyApplied)
		assert.False(t, result.Applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locks the transaction row against concurrent delivery", func(t *testing.T) {
		gormDB, mock := newMockDB()
		db.NewDB(gormDB)

		txnID := uuid.New()
		regID := uuid.New()
		reference := uuid.New().String()

		// The lookup must carry FOR UPDATE so a second delivery of the
		// same transaction id blocks and then sees the completed row.
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "payment_transactions" .*FOR UPDATE`).
			WillReturnRows(transactionRows(txnID, regID, reference, types.TRANSACTION_COMPLETED))
		mock.ExpectQuery(`SELECT \* FROM "registrations"`).
			WillReturnRows(registrationRows(regID, types.REGISTRATION_CONFIRMED, types.PAYMENT_COMPLETED))
		mock.ExpectCommit()

		result, err := ApplyProviderSuccess(&types.WebhookEvent{
			Provider:      "generic",
			TransactionID: reference,
			Status:        types.PROVIDER_STATUS_SUCCESS,
		})
		assert.NoError(t, err)
		assert.True(t, result.AlreadyApplied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown transaction id is a validation error", func(t *testing.T) {
		gormDB, mock := newMockDB()
		db.NewDB(gormDB)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "payment_transactions"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		result, err := ApplyProviderSuccess(&types.WebhookEvent{
			TransactionID: "txn_does_not_exist",
			Status:        types.PROVIDER_STATUS_SUCCESS,
		})
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.Equal(t, types.KindValidation, types.Classify(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing transaction id is a validation error", func(t *testing.T) {
		gormDB, mock := newMockDB()
		db.NewDB(gormDB)

		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := ApplyProviderSuccess(&types.WebhookEvent{Status: types.PROVIDER_STATUS_SUCCESS})
		assert.Error(t, err)
		assert.Equal(t, types.KindValidation, types.Classify(err))
	})
}

func TestApplyProviderFailure(t *testing.T) {
	t.Run("marks the transaction failed and keeps the registration pending", func(t *testing.T) {
		gormDB, mock := newMockDB()
		db.NewDB(gormDB)

		txnID := uuid.New()
		regID := uuid.New()
		reference := uuid.New().String()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "payment_transactions"`).
			WillReturnRows(transactionRows(txnID, regID, reference, types.TRANSACTION_PENDING))
		mock.ExpectQuery(`SELECT \* FROM "registrations"`).
			WillReturnRows(registrationRows(regID, types.REGISTRATION_PENDING, types.PAYMENT_PENDING))
		mock.ExpectExec(`UPDATE "payment_transactions"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE "registrations"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := ApplyProviderFailure(&types.WebhookEvent{
			TransactionID: reference,
			Status:        types.PROVIDER_STATUS_FAILED,
			Reason:        "card declined",
		})
		assert.NoError(t, err)
		assert.True(t, result.Applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure after completion is ignored", func(t *testing.T) {
		gormDB, mock := newMockDB()
		db.NewDB(gormDB)

		txnID := uuid.New()
		regID := uuid.New()
		reference := uuid.New().String()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "payment_transactions"`).
			WillReturnRows(transactionRows(txnID, regID, reference, types.TRANSACTION_COMPLETED))
		mock.ExpectQuery(`SELECT \* FROM "registrations"`).
			WillReturnRows(registrationRows(regID, types.REGISTRATION_CONFIRMED, types.PAYMENT_COMPLETED))
		mock.ExpectCommit()

		result, err := ApplyProviderFailure(&types.WebhookEvent{
			TransactionID: reference,
			Status:        types.PROVIDER_STATUS_FAILED,
		})
		assert.NoError(t, err)
		assert.False(t, result.Applied)
		assert.True(t, result.AlreadyApplied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestApplyProviderProcessing(t *testing.T) {
	t.Run("moves a pending registration to processing", func(t *testing.T) {
		gormDB, mock := newMockDB()
		db.NewDB(gormDB)

		txnID := uuid.New()
		regID := uuid.New()
		reference := uuid.New().String()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "payment_transactions"`).
			WillReturnRows(transactionRows(txnID, regID, reference, types.TRANSACTION_PENDING))
		mock.ExpectQuery(`SELECT \* FROM "registrations"`).
			WillReturnRows(registrationRows(regID, types.REGISTRATION_PENDING, types.PAYMENT_PENDING))
		mock.ExpectExec(`UPDATE "registrations"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := ApplyProviderProcessing(&types.WebhookEvent{
			TransactionID: reference,
			Status:        types.PROVIDER_STATUS_PROCESSING,
		})
		assert.NoError(t, err)
		assert.True(t, result.Applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a settled transaction ignores a late processing event", func(t *testing.T) {
		gormDB, mock := newMockDB()
		db.NewDB(gormDB)

		txnID := uuid.New()
		regID := uuid.New()
		reference := uuid.New().String()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "payment_transactions"`).
			WillReturnRows(transactionRows(txnID, regID, reference, types.TRANSACTION_COMPLETED))
		mock.ExpectQuery(`SELECT \* FROM "registrations"`).
			WillReturnRows(registrationRows(regID, types.REGISTRATION_CONFIRMED, types.PAYMENT_COMPLETED))
		mock.ExpectCommit()

		result, err := ApplyProviderProcessing(&types.WebhookEvent{
			TransactionID: reference,
			Status:        types.PROVIDER_STATUS_PROCESSING,
		})
		assert.NoError(t, err)
		assert.False(t, result.Applied)
		assert.True(t, result.AlreadyApplied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestApplyProviderRefund(t *testing.T) {
	t.Run("refund requires a completed transaction", func(t *testing.T) {
		gormDB, mock := newMockDB()
		db.NewDB(gormDB)

		txnID := uuid.New()
		regID := uuid.New()
		reference := uuid.New().String()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "payment_transactions"`).
			WillReturnRows(transactionRows(txnID, regID, reference, types.TRANSACTION_PENDING))
		mock.ExpectQuery(`SELECT \* FROM "registrations"`).
			WillReturnRows(registrationRows(regID, types.REGISTRATION_PENDING, types.PAYMENT_PENDING))
		mock.ExpectRollback()

		_, err := ApplyProviderRefund(&types.WebhookEvent{
			TransactionID: reference,
			Status:        types.PROVIDER_STATUS_REFUNDED,
		})
		assert.Error(t, err)
		assert.Equal(t, types.KindValidation, types.Classify(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
