package main

import (
	"errors"
	"etix/src/common"
	"etix/src/config"
	"etix/src/db"
	"etix/src/middlewares"
	"etix/src/models"
	"etix/src/types"
	"etix/src/utils"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func checkoutRoutes(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	cfg := config.Checkout()
	limits := config.RateLimits()

	funnel := apiv1.Group("", middlewares.Recovery, middlewares.SessionSweeper)

	funnel.POST("/events/:id/checkout", func(ctx *gin.Context) {
		var params types.SimpleRequestParams
		if err := ctx.ShouldBindUri(&params); err != nil {
			ctx.Error(types.NewValidationError("invalid event id"))
			return
		}
		var body types.StageCheckoutRequestBody
		if err := ctx.ShouldBindBodyWithJSON(&body); err != nil {
			ctx.Error(types.NewValidationError("invalid checkout payload"))
			return
		}
		if !cfg.ValidCurrency(body.Currency) {
			ctx.Error(types.NewValidationError("unsupported currency"))
			return
		}

		var event models.Event
		if err := db.GetDb().
			Model(&models.Event{}).
			Where("id = ?", params.ID).
			First(&event).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ctx.Error(types.NewValidationError("event not found"))
				return
			}
			ctx.Error(types.NewDatabaseError(err))
			return
		}
		if event.Status != types.EVENT_OPEN {
			ctx.Error(types.NewValidationError("event is not open for registration"))
			return
		}

		var total float64
		for _, sel := range body.Items {
			if sel.Qty == 0 {
				ctx.Error(types.NewValidationError("ticket quantity must be positive"))
				return
			}
			var ticket models.Ticket
			if err := db.GetDb().
				Model(&models.Ticket{}).
				Where("id = ? AND event_id = ?", sel.TicketID, params.ID).
				First(&ticket).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Error(types.NewValidationError("unknown ticket for this event"))
					return
				}
				ctx.Error(types.NewDatabaseError(err))
				return
			}
			total += ticket.Price * float64(sel.Qty)
		}
		if !cfg.ValidAmount(total) {
			ctx.Error(types.NewValidationError("order total is outside the accepted range"))
			return
		}

		session := &common.CheckoutSession{
			ID:        uuid.New().String(),
			EventID:   params.ID,
			Items:     body.Items,
			Currency:  body.Currency,
			Total:     total,
			ExpiresAt: time.Now().Add(cfg.SessionTTL),
		}
		if err := common.StageCheckoutSession(ctx.Request.Context(), common.StagingRegistrationData, session); err != nil {
			ctx.Error(err)
			return
		}
		ctx.SetCookie(middlewares.CheckoutSessionCookie, session.ID, int(cfg.SessionTTL.Seconds()), "/", "", false, true)
		ctx.JSON(http.StatusOK, gin.H{
			"session_id": session.ID,
			"total":      total,
			"currency":   session.Currency,
			"expires_at": session.ExpiresAt,
		})
	})

	funnel.POST("/events/:id/register",
		middlewares.RateLimit(limits["payment"], middlewares.LimitPolicyJSON),
		func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.Error(types.NewValidationError("invalid event id"))
				return
			}
			var body types.SubmitRegistrationRequestBody
			if err := ctx.ShouldBindBodyWithJSON(&body); err != nil {
				ctx.Error(types.NewValidationError("invalid registration payload"))
				return
			}
			sid, _ := ctx.Cookie(middlewares.CheckoutSessionCookie)
			if sid == "" {
				ctx.Error(types.NewSessionError("no checkout session"))
				return
			}
			session, err := common.LoadCheckoutSession(ctx.Request.Context(), sid, common.StagingRegistrationData)
			if err != nil {
				ctx.Error(err)
				return
			}
			if session == nil {
				// Older clients stage under the legacy entry.
				session, err = common.LoadCheckoutSession(ctx.Request.Context(), sid, common.StagingTicketSelection)
				if err != nil {
					ctx.Error(err)
					return
				}
			}
			if session == nil {
				ctx.Error(types.NewSessionError("checkout session expired"))
				return
			}
			if session.EventID != params.ID {
				ctx.Error(types.NewValidationError("checkout session does not match this event"))
				return
			}

			token, err := common.AcquireRegistrationLock(body.Email, body.Phone, params.ID, cfg.LockTTL)
			if err != nil {
				ctx.Error(err)
				return
			}
			defer common.ReleaseRegistrationLock(token)

			var userID *uint
			if id := ctx.GetUint("id"); id > 0 {
				userID = &id
			}
			registration, err := common.CreateRegistration(&common.CreateRegistrationInput{
				Name:     body.Name,
				Email:    body.Email,
				Phone:    body.Phone,
				UserID:   userID,
				EventID:  params.ID,
				Items:    session.Items,
				Currency: session.Currency,
				Provider: ctx.DefaultQuery("provider", "generic"),
			})
			if err != nil {
				ctx.Error(err)
				return
			}

			common.ClearCheckoutSession(ctx.Request.Context(), sid)
			ctx.SetCookie(middlewares.CheckoutSessionCookie, "", -1, "/", "", false, true)
			ctx.JSON(http.StatusCreated, gin.H{
				"id":        registration.ID,
				"reference": registration.TransactionID,
				"status":    registration.RegistrationStatus,
				"total":     registration.TotalAmount,
				"currency":  registration.Currency,
			})
		})

	funnel.POST("/checkout/cancel", func(ctx *gin.Context) {
		sid, _ := ctx.Cookie(middlewares.CheckoutSessionCookie)
		if sid != "" {
			common.ClearCheckoutSession(ctx.Request.Context(), sid)
			ctx.SetCookie(middlewares.CheckoutSessionCookie, "", -1, "/", "", false, true)
		}
		ctx.JSON(http.StatusOK, gin.H{"cancelled": true})
	})

	funnel.GET("/payment/confirm",
		middlewares.RateLimit(limits["payment-detail"], middlewares.LimitPolicyRedirect),
		func(ctx *gin.Context) {
			reference := ctx.Query("reference")
			if reference == "" {
				ctx.Error(types.NewValidationError("missing reference"))
				return
			}
			var txn models.PaymentTransaction
			if err := db.GetDb().
				Model(&models.PaymentTransaction{}).
				Where("provider_txn_id = ?", reference).
				Preload("Registration").
				First(&txn).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Error(types.NewValidationError("unknown reference"))
					return
				}
				ctx.Error(types.NewDatabaseError(err))
				return
			}
			if strings.Contains(ctx.GetHeader("Accept"), "text/html") {
				target := utils.EventPagePath(txn.Registration.EventID)
				ctx.Redirect(http.StatusSeeOther, fmt.Sprintf("%s?payment=%s", target, txn.Status))
				return
			}
			ctx.JSON(http.StatusOK, gin.H{
				"registration_id":     txn.RegistrationID,
				"payment_status":      txn.Registration.PaymentStatus,
				"registration_status": txn.Registration.RegistrationStatus,
				"transaction_status":  txn.Status,
			})
		})

	funnel.GET("/registrations/:id",
		middlewares.RateLimit(limits["payment-detail"], middlewares.LimitPolicyJSON),
		func(ctx *gin.Context) {
			registrationID, err := uuid.Parse(ctx.Param("id"))
			if err != nil {
				ctx.Error(types.NewValidationError("invalid registration id"))
				return
			}
			var registration models.Registration
			if err := db.GetDb().
				Model(&models.Registration{}).
				Where("id = ?", registrationID).
				Preload("Items").
				First(&registration).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					ctx.Error(types.NewValidationError("registration not found"))
					return
				}
				ctx.Error(types.NewDatabaseError(err))
				return
			}
			ctx.JSON(http.StatusOK, gin.H{
				"id":                  registration.ID,
				"event_id":            registration.EventID,
				"registration_status": registration.RegistrationStatus,
				"payment_status":      registration.PaymentStatus,
				"total":               registration.TotalAmount,
				"currency":            registration.Currency,
				"items":               registration.Items,
			})
		})

	funnel.POST("/registrations/:id/retry",
		middlewares.RateLimit(limits["retry"], middlewares.LimitPolicyJSON),
		func(ctx *gin.Context) {
			registrationID, err := uuid.Parse(ctx.Param("id"))
			if err != nil {
				ctx.Error(types.NewValidationError("invalid registration id"))
				return
			}
			txn, err := common.RetryPayment(registrationID)
			if err != nil {
				ctx.Error(err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{
				"registration_id": txn.RegistrationID,
				"reference":       txn.ProviderTxnID,
				"status":          txn.Status,
			})
		})

	funnel.POST("/registrations/:id/cancel", func(ctx *gin.Context) {
		registrationID, err := uuid.Parse(ctx.Param("id"))
		if err != nil {
			ctx.Error(types.NewValidationError("invalid registration id"))
			return
		}
		if err := common.CancelRegistration(registrationID); err != nil {
			ctx.Error(err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"cancelled": true})
	})

	return apiv1
}
