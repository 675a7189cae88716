package main

import (
	"errors"
	"etix/src/common"
	"etix/src/db"
	"etix/src/lib"
	"etix/src/middlewares"
	"etix/src/models"
	"etix/src/types"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// adminRoutes is the operator surface: approvals, declines, refunds, and
// webhook settings. Everything here requires an authenticated admin.
func adminRoutes(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	admin := apiv1.Group("/admin", middlewares.AuthMiddleware, middlewares.RequireRole("admin"))

	admin.GET("/registrations", func(ctx *gin.Context) {
		query := db.GetDb().Model(&models.Registration{})
		if event := ctx.Query("event"); event != "" {
			if id, err := strconv.Atoi(event); err == nil {
				query = query.Where("event_id = ?", id)
			}
		}
		if status := ctx.Query("status"); status != "" {
			query = query.Where("registration_status = ?", status)
		}
		limit := 50
		if l := ctx.Query("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}
		var registrations []models.Registration
		if err := query.
			Order("created_at DESC").
			Limit(limit).
			Preload("Items").
			Find(&registrations).
			Error; err != nil {
			log.Printf("Error listing registrations: %s\n", err.Error())
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not list registrations"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"data": registrations})
	})

	admin.PUT("/registrations/:id/approve", func(ctx *gin.Context) {
		registrationID, err := uuid.Parse(ctx.Param("id"))
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid registration id"})
			return
		}
		operator := ctx.GetString("email")
		registration, err := common.AdminConfirm(registrationID, operator)
		if err != nil {
			respondAdminError(ctx, err)
			return
		}
		go notifyRegistrationConfirmed(registration)
		ctx.JSON(http.StatusOK, gin.H{"data": registration})
	})

	admin.PUT("/registrations/:id/decline", func(ctx *gin.Context) {
		registrationID, err := uuid.Parse(ctx.Param("id"))
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid registration id"})
			return
		}
		var body types.DeclineRegistrationRequestBody
		if err := ctx.ShouldBindBodyWithJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
			return
		}
		operator := ctx.GetString("email")
		registration, err := common.AdminDecline(registrationID, operator, body.Reason)
		if err != nil {
			respondAdminError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"data": registration})
	})

	admin.DELETE("/registrations/:id", func(ctx *gin.Context) {
		registrationID, err := uuid.Parse(ctx.Param("id"))
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid registration id"})
			return
		}
		d := db.GetDb()
		err = d.Transaction(func(tx *gorm.DB) error {
			if err := tx.
				Where("registration_id = ?", registrationID).
				Delete(&models.RegistrationItem{}).
				Error; err != nil {
				return err
			}
			if err := tx.
				Where("registration_id = ?", registrationID).
				Delete(&models.PaymentTransaction{}).
				Error; err != nil {
				return err
			}
			result := tx.
				Where("id = ?", registrationID).
				Delete(&models.Registration{})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ctx.JSON(http.StatusNotFound, gin.H{"error": "registration not found"})
				return
			}
			log.Printf("Error deleting registration %s: %s\n", registrationID.String(), err.Error())
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete registration"})
			return
		}
		ctx.Status(http.StatusNoContent)
	})

	admin.POST("/transactions/:id/refund", func(ctx *gin.Context) {
		txnID, err := uuid.Parse(ctx.Param("id"))
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
			return
		}
		var body types.RefundTransactionRequestBody
		if err := ctx.ShouldBindBodyWithJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
			return
		}
		var txn models.PaymentTransaction
		if err := db.GetDb().
			Model(&models.PaymentTransaction{}).
			Where("id = ?", txnID).
			First(&txn).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ctx.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
				return
			}
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not load transaction"})
			return
		}
		if txn.Provider == "stripe" {
			intentID := txn.ProviderTxnID
			if raw, ok := txn.CallbackPayload["id"].(string); ok && raw != "" {
				intentID = raw
			}
			if _, err := lib.StripeCreateRefund(ctx.Request.Context(), intentID, body.Reason); err != nil {
				ctx.JSON(http.StatusBadGateway, gin.H{"error": "provider refund failed"})
				return
			}
		}
		result, err := common.ApplyProviderRefund(&types.WebhookEvent{
			Provider:      txn.Provider,
			TransactionID: txn.ProviderTxnID,
			Status:        types.PROVIDER_STATUS_REFUNDED,
			Reason:        body.Reason,
		})
		if err != nil {
			respondAdminError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{
			"refunded":        result.Applied || result.AlreadyApplied,
			"already_applied": result.AlreadyApplied,
		})
	})

	admin.GET("/settings/webhook", func(ctx *gin.Context) {
		var settings []models.WebhookSettings
		if err := db.GetDb().
			Model(&models.WebhookSettings{}).
			Find(&settings).
			Error; err != nil {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not load settings"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"data": settings})
	})

	admin.PUT("/settings/webhook", func(ctx *gin.Context) {
		var body types.UpdateWebhookSettingsRequestBody
		if err := ctx.ShouldBindBodyWithJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "provider is required"})
			return
		}
		d := db.GetDb()
		var settings models.WebhookSettings
		err := d.Transaction(func(tx *gorm.DB) error {
			err := tx.
				Model(&models.WebhookSettings{}).
				Where("provider = ?", body.Provider).
				First(&settings).
				Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				settings = models.WebhookSettings{Provider: body.Provider}
			} else if err != nil {
				return err
			}
			if body.Secret != nil {
				settings.Secret = *body.Secret
			}
			if body.Enabled != nil {
				settings.Enabled = *body.Enabled
			}
			return tx.Save(&settings).Error
		})
		if err != nil {
			log.Printf("Error saving webhook settings for %s: %s\n", body.Provider, err.Error())
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not save settings"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"data": settings})
	})

	// Self-test: sign a sample payload with the stored secret and run it
	// through the same verification as inbound webhooks. Updates the
	// diagnostic fields; never touches registrations.
	admin.POST("/settings/webhook/test", func(ctx *gin.Context) {
		provider := ctx.DefaultQuery("provider", "generic")
		d := db.GetDb()
		var settings models.WebhookSettings
		if err := d.
			Model(&models.WebhookSettings{}).
			Where("provider = ?", provider).
			First(&settings).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ctx.JSON(http.StatusNotFound, gin.H{"error": "no settings for provider"})
				return
			}
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not load settings"})
			return
		}
		sample := []byte(`{"self_test":true,"provider":"` + provider + `"}`)
		result := lib.VerifySignature(sample, lib.SignPayload(sample, settings.Secret), settings.Secret, false)
		now := time.Now()
		ok := result.Verified
		if err := d.
			Model(&models.WebhookSettings{}).
			Where("id = ?", settings.ID).
			Updates(map[string]any{
				"last_test_ok":   ok,
				"last_tested_at": now,
			}).
			Error; err != nil {
			log.Printf("Error recording webhook test for %s: %s\n", provider, err.Error())
		}
		ctx.JSON(http.StatusOK, gin.H{"ok": ok, "reason": result.Reason})
	})

	return apiv1
}

func respondAdminError(ctx *gin.Context, err error) {
	kind := types.Classify(err)
	status := http.StatusInternalServerError
	switch kind {
	case types.KindValidation:
		status = http.StatusBadRequest
	case types.KindLock:
		status = http.StatusConflict
	}
	ctx.JSON(status, gin.H{"error": types.UserMessage(kind)})
}
