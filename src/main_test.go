package main

import (
	"encoding/json"
	"etix/src/db"
	"etix/src/lib"
	"etix/src/types"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const webhookTestSecret = "whsec_test"

type TestSuite struct {
	suite.Suite
}

func NewMockDB() (*gorm.DB, sqlmock.Sqlmock) {
	mockdb, mock, err := sqlmock.New()
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening a stub database connection", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: mockdb,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("An error '%s' was not expected when opening gorm database", err)
	}

	return gormDB, mock
}

func (s *TestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	os.Setenv("WEBHOOK_SECRET", webhookTestSecret)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("currency", currencyValidatorFunc)
	}
}

func (s *TestSuite) TestPingRoute() {
	router := setupRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/", nil)
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 200, w.Code)
}

func (s *TestSuite) TestMaintenanceMode() {
	os.Setenv("MAINTENANCE_MODE", "true")
	defer os.Unsetenv("MAINTENANCE_MODE")

	router := setupRouter()
	router = maintenanceModeMiddleware(router)
	apiv1Group(router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1", nil)
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 503, w.Code)
}

func (s *TestSuite) TestWebhookAuthentication() {
	payload := `{"transaction_id":"txn_abc","status":"success","amount":25.5}`

	s.Run("Should reject a wrong signature with 401", func() {
		router := setupRouter()
		webhookRoutes(router)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/payment/webhook", strings.NewReader(payload))
		req.Header.Set(providerSignatureHeader, lib.SignPayload([]byte(payload), "wrong-secret"))
		router.ServeHTTP(w, req)

		assert.Equal(s.T(), 401, w.Code)
		assert.Equal(s.T(), "signature mismatch", gjson.Get(w.Body.String(), "error").String())
	})

	s.Run("Should reject a missing signature with 401", func() {
		router := setupRouter()
		webhookRoutes(router)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/payment/webhook", strings.NewReader(payload))
		router.ServeHTTP(w, req)

		assert.Equal(s.T(), 401, w.Code)
	})

	s.Run("Should reject a signed but malformed payload with 400", func() {
		router := setupRouter()
		webhookRoutes(router)

		body := "this is not json"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/payment/webhook", strings.NewReader(body))
		req.Header.Set(providerSignatureHeader, lib.SignPayload([]byte(body), webhookTestSecret))
		router.ServeHTTP(w, req)

		assert.Equal(s.T(), 400, w.Code)
	})

	s.Run("Should reject a payload missing transaction_id with 400", func() {
		router := setupRouter()
		webhookRoutes(router)

		body := `{"status":"success"}`
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/payment/webhook", strings.NewReader(body))
		req.Header.Set(providerSignatureHeader, lib.SignPayload([]byte(body), webhookTestSecret))
		router.ServeHTTP(w, req)

		assert.Equal(s.T(), 400, w.Code)
	})
}

func (s *TestSuite) TestWebhookApplication() {
	s.Run("Should answer 400 for an unknown transaction id", func() {
		gormDB, mock := NewMockDB()
		db.NewDB(gormDB)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "payment_transactions"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		router := setupRouter()
		webhookRoutes(router)

		body := `{"transaction_id":"txn_unknown","status":"success"}`
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/payment/webhook", strings.NewReader(body))
		req.Header.Set(providerSignatureHeader, lib.SignPayload([]byte(body), webhookTestSecret))
		router.ServeHTTP(w, req)

		assert.Equal(s.T(), 400, w.Code)
		assert.NoError(s.T(), mock.ExpectationsWereMet())
	})

	s.Run("Should answer 200 without re-applying a completed transaction", func() {
		gormDB, mock := NewMockDB()
		db.NewDB(gormDB)

		txnID := uuid.New()
		regID := uuid.New()
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "payment_transactions"`).
			WillReturnRows(sqlmock.
				NewRows([]string{"id", "registration_id", "provider", "provider_txn_id", "status"}).
				AddRow(txnID.String(), regID.String(), "generic", "txn_done", "completed"))
		mock.ExpectQuery(`SELECT \* FROM "registrations"`).
			WillReturnRows(sqlmock.
				NewRows([]string{"id", "registration_status", "payment_status"}).
				AddRow(regID.String(), "confirmed", "completed"))
		mock.ExpectCommit()
		// Receipt diagnostics: a redelivery bumps the provider retry count.
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "webhook_settings" SET .*retry_count.*`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		router := setupRouter()
		webhookRoutes(router)

		body := `{"transaction_id":"txn_done","status":"success"}`
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/payment/webhook", strings.NewReader(body))
		req.Header.Set(providerSignatureHeader, lib.SignPayload([]byte(body), webhookTestSecret))
		router.ServeHTTP(w, req)

		assert.Equal(s.T(), 200, w.Code)
		res := w.Body.String()
		assert.True(s.T(), gjson.Get(res, "received").Bool())
		assert.False(s.T(), gjson.Get(res, "applied").Bool())
		assert.True(s.T(), gjson.Get(res, "verified").Bool())
		assert.NoError(s.T(), mock.ExpectationsWereMet())
	})
}

func (s *TestSuite) TestCheckoutFunnel() {
	s.Run("Should refuse checkout on an event that is not open", func() {
		gormDB, mock := NewMockDB()
		db.NewDB(gormDB)

		mock.ExpectQuery(`SELECT \* FROM "events"`).
			WillReturnRows(sqlmock.
				NewRows([]string{"id", "name", "status"}).
				AddRow(1, "Summer Fest", "draft"))
		mock.ExpectQuery(`SELECT (.+) FROM "events"`).
			WillReturnRows(sqlmock.
				NewRows([]string{"id", "name"}).
				AddRow(1, "Summer Fest"))

		router := setupRouter()
		checkoutRoutes(router)

		jbody := map[string]any{
			"items":    []map[string]any{{"ticket": 1, "qty": 1}},
			"currency": "USD",
		}
		sbody, _ := json.Marshal(&jbody)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/events/1/checkout", strings.NewReader(string(sbody)))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(s.T(), 400, w.Code)
		res := w.Body.String()
		assert.False(s.T(), gjson.Get(res, "success").Bool())
		assert.Equal(s.T(), types.UserMessage(types.KindValidation), gjson.Get(res, "message").String())
		assert.Equal(s.T(), "/events/1-summer-fest", gjson.Get(res, "redirect_url").String())
	})

	s.Run("Should answer 410 when registering without a checkout session", func() {
		router := setupRouter()
		checkoutRoutes(router)

		jbody := map[string]any{
			"name":           "Jo Reyes",
			"email":          "jo@example.com",
			"phone":          "+63917000001",
			"accepted_terms": true,
		}
		sbody, _ := json.Marshal(&jbody)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/events/1/register", strings.NewReader(string(sbody)))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(s.T(), 410, w.Code)
		assert.Equal(s.T(), types.UserMessage(types.KindSession), gjson.Get(w.Body.String(), "message").String())
	})
}

func TestRunner(t *testing.T) {
	suite.Run(t, new(TestSuite))
}
