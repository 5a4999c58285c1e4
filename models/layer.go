package models

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

// Layer is a named base file tree overlaid read-only onto a job's
// workspace. Layer-modify jobs mount it read-write.
type Layer struct {
	Name      string    `gorm:"primaryKey" json:"name" binding:"required"`
	OwnerID   uuid.UUID `gorm:"type:uuid;index" json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
