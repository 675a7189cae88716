package models

import "etix/src/types"

// User is the authenticated operator identity referenced by administrative
// transitions. Account management itself lives outside this core.
type User struct {
	ID    uint   `gorm:"primarykey" json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `gorm:"uniqueIndex" json:"email,omitempty"`
	Role  string `gorm:"default:'operator'" json:"role,omitempty"`

	types.Timestamps
}
