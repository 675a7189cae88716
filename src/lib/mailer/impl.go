package mailer

import (
	"etix/src/lib"
	"etix/src/models"
	"fmt"
	"log"
	"os"
)

// SendRegistrationConfirmed mails the attendee once their registration is
// confirmed. Best-effort: callers fire it in a goroutine and a failure is
// only logged.
func SendRegistrationConfirmed(reg *models.Registration, eventTitle string) error {
	from := os.Getenv("MAIL_FROM")
	if from == "" {
		from = "tickets@etix.local"
	}
	input := &lib.SendMailInput{
		From:     from,
		FromName: "Ticketing",
		To:       reg.Email,
		Subject:  fmt.Sprintf("Your registration for %s is confirmed", eventTitle),
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour registration for %s has been confirmed. Total paid: %.2f %s.\n\nSee you there!",
			reg.Name, eventTitle, reg.TotalAmount, reg.Currency,
		),
	}
	if err := lib.SendMail(input); err != nil {
		log.Printf("[mailer] Error sending confirmation to %s: %s\n", reg.Email, err.Error())
		return err
	}
	return nil
}
