package models

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

// Volume is a named persistent file tree mounted into jobs at MountPath.
type Volume struct {
	Name        string    `gorm:"primaryKey" json:"name" binding:"required"`
	OwnerID     uuid.UUID `gorm:"type:uuid;index" json:"-"`
	MountPath   string    `json:"mount_path" binding:"required"`
	MountType   string    `json:"mount_type"`
	Description string    `json:"description,omitempty"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// VolumeFile describes one entry of a volume or layer tree. Contents is
// only populated by the file-fetch operations.
type VolumeFile struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Mode     uint32 `json:"mode"`
	Size     int64  `json:"size"`
	Contents []byte `json:"contents,omitempty"`
}

const (
	FileTypeRegular = "f"
	FileTypeDir     = "d"
)
