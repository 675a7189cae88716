package models

import (
	"etix/src/types"
	"time"
)

// Event is a collaborator owned by the event-management surface. The core
// only reads it: ticket pricing at checkout and the slugged page URL used
// by redirect targets.
type Event struct {
	ID       uint              `json:"id"`
	Title    string            `json:"title,omitempty"`
	Name     string            `gorm:"uniqueIndex" json:"name,omitempty"`
	Location string            `json:"location,omitempty"`
	DateTime time.Time         `json:"date_time,omitempty"`
	Status   types.EventStatus `gorm:"default:'draft'" json:"status,omitempty"`

	Tickets []Ticket `json:"tickets,omitempty"`

	types.Timestamps
}

type Ticket struct {
	ID       uint    `gorm:"primarykey" json:"id"`
	Tier     string  `json:"tier,omitempty"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
	EventID  uint    `json:"event_id,omitempty"`

	Event Event `json:"-"`

	types.Timestamps
}
