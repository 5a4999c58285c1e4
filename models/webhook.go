package models

import (
	"time"

	uuid "github.com/satori/go.uuid"
	"gorm.io/gorm"
)

// Webhook submits its stored command as a job whenever a signed delivery
// arrives. The delivery body becomes the job's stdin; when Schema is set
// the body must validate against it first.
type Webhook struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid" json:"id"`
	Owner       uuid.UUID  `gorm:"type:uuid" json:"owner"`
	Secret      string     `json:"secret,omitempty"`
	Description string     `json:"description,omitempty"`
	Command     string     `json:"command,omitempty"`
	Core        string     `json:"core,omitempty"`
	Schema      JSONObject `gorm:"type:jsonb" json:"schema,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (w *Webhook) BeforeCreate(tx *gorm.DB) error {
	if uuid.Equal(w.ID, uuid.Nil) {
		w.ID = uuid.NewV4()
	}
	return nil
}
