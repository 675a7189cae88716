package main

import (
	"etix/src/db"
	"etix/src/lib"
	"etix/src/lib/mailer"
	"etix/src/models"
	"log"
)

// notifyRegistrationConfirmed fires the confirmation side effects: a
// status-change message on the broker and a confirmation mail. Best-effort,
// always run off the request goroutine.
func notifyRegistrationConfirmed(registration *models.Registration) {
	if registration == nil {
		return
	}
	d := db.GetDb()
	var event models.Event
	if err := d.
		Model(&models.Event{}).
		Where("id = ?", registration.EventID).
		First(&event).
		Error; err != nil {
		log.Printf("Could not load event %d for notification: %s\n", registration.EventID, err.Error())
	}

	if err := lib.KafkaProduceMessage(
		"registrationStatusProducer",
		"registration-status",
		map[string]any{
			"registration_id": registration.ID.String(),
			"event_id":        registration.EventID,
			"status":          registration.RegistrationStatus,
			"payment_status":  registration.PaymentStatus,
		},
	); err != nil {
		log.Printf("Error producing status message for %s: %s\n", registration.ID.String(), err.Error())
	}

	if registration.Email != "" {
		if err := mailer.SendRegistrationConfirmed(registration, event.Title); err != nil {
			log.Printf("Error sending confirmation mail for %s: %s\n", registration.ID.String(), err.Error())
		}
	}
}
