package utils

import (
	"etix/src/db"
	"etix/src/models"
	"fmt"
	"log"

	"github.com/gosimple/slug"
)

// EventPagePath resolves the public page path for an event, used as the
// redirect target by rate limiting and failure recovery. Falls back to the
// event listing when the id is unknown.
func EventPagePath(eventID uint) string {
	if eventID == 0 {
		return "/events"
	}
	d := db.GetDb()
	var event models.Event
	if err := d.
		Model(&models.Event{}).
		Where("id = ?", eventID).
		Select("id", "name").
		First(&event).
		Error; err != nil {
		log.Printf("Could not resolve event %d for redirect: %s\n", eventID, err.Error())
		return "/events"
	}
	return fmt.Sprintf("/events/%d-%s", event.ID, slug.Make(event.Name))
}
