package models

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

// ApiKey is the credential pair a machine authenticates with. The secret
// is returned by the API so the setup flow can fetch and store it.
type ApiKey struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	OwnerID   uuid.UUID `gorm:"type:uuid;index" json:"-"`
	SecretKey string    `json:"secret_key"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created"`
}
