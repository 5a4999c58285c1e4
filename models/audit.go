package models

import (
	"time"

	"github.com/satori/go.uuid"
	"gorm.io/gorm"
)

type AuditLog struct {
	ID            uuid.UUID `gorm:"column:auditlog_id;type:uuid" json:"auditlog_id"`
	UserID        uuid.UUID `gorm:"column:user_id" json:"user_id"`
	UserName      string    `gorm:"column:user_name" json:"user_name"`
	Provider      string    `gorm:"column:provider" json:"provider"`
	IP            string    `gorm:"column:ip" json:"ip"`
	EventType     string    `gorm:"column:event_type" json:"event_type"`
	EventCategory string    `gorm:"column:event_category" json:"event_category"`
	EventTarget   string    `gorm:"column:event_target" json:"event_target"`
	Status        string    `gorm:"column:status" json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if uuid.Equal(a.ID, uuid.Nil) {
		a.ID = uuid.NewV4()
	}
	return nil
}
