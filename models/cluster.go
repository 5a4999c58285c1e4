package models

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

const (
	ClusterStateRequested   = "requested"
	ClusterStateProvisioned = "provisioned"
	ClusterStateReleased    = "released"
)

// Cluster reserves CoreCount cores of type Core for the owner's jobs
// until released or until MaxDuration hours elapse.
type Cluster struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID       uuid.UUID  `gorm:"type:uuid;index" json:"-"`
	State         string     `json:"state"`
	Core          string     `json:"core"`
	CoreCount     int        `json:"core_count"`
	MaxDuration   *int       `json:"max_duration"`
	RequestedAt   time.Time  `json:"requested_at"`
	ProvisionedAt *time.Time `json:"provisioned_at"`
	ReleasedAt    *time.Time `json:"released_at"`
	Duration      float64    `gorm:"-" json:"duration"`
}

type ClusterRequest struct {
	Core        string `json:"core" binding:"required"`
	CoreCount   int    `json:"core_count" binding:"required"`
	MaxDuration *int   `json:"max_duration"`
}
