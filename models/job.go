package models

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

// Job statuses. A job is born waiting (unmet dependencies) or queued,
// becomes processing when a worker picks it up and ends in exactly one
// of the finished statuses.
const (
	JobStatusWaiting    = "waiting"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusError      = "error"
	JobStatusKilled     = "killed"
	JobStatusStalled    = "stalled"
)

var (
	UnfinishedStatuses = []string{JobStatusWaiting, JobStatusQueued, JobStatusProcessing}
	FinishedStatuses   = []string{JobStatusDone, JobStatusError, JobStatusKilled, JobStatusStalled}
)

const (
	ResultSourceStdout     = "stdout"
	ResultSourceFilePrefix = "file:"

	ResultTypeBinary = "binary"
	ResultTypeJSON   = "json"
)

type Job struct {
	JID            int64       `gorm:"column:jid;primaryKey;autoIncrement" json:"jid"`
	OwnerID        uuid.UUID   `gorm:"column:owner_id;type:uuid;index" json:"-"`
	Name           string      `gorm:"index" json:"name,omitempty"`
	Cmd            string      `json:"cmd"`
	Core           string      `json:"core"`
	Multicore      int         `json:"multicore"`
	Status         string      `gorm:"index" json:"status"`
	Stdin          []byte      `json:"-"`
	Env            JSONMap     `gorm:"type:jsonb" json:"env,omitempty"`
	Tags           JSONMap     `gorm:"type:jsonb" json:"tags,omitempty"`
	Volumes        JSONStrings `gorm:"type:jsonb" json:"vol,omitempty"`
	LayerName      string      `json:"layer,omitempty"`
	LayerRW        bool        `json:"layer_rw,omitempty"`
	DependsOn      JSONInt64s  `gorm:"type:jsonb" json:"depends_on,omitempty"`
	ResultSource   string      `json:"result_source"`
	ResultType     string      `json:"result_type"`
	Result         []byte      `json:"result,omitempty"`
	ReturnCode     *int        `json:"return_code"`
	Stdout         string      `json:"stdout,omitempty"`
	Stderr         string      `json:"stderr,omitempty"`
	MaxRuntime     int         `json:"max_runtime,omitempty"`
	Restartable    bool        `json:"restartable"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at"`
	FinishedAt     *time.Time  `json:"finished_at"`
	Runtime        float64     `json:"runtime"`
	QueueDelay     float64     `json:"queue_delay"`
	OverheadDelay  float64     `json:"overhead_delay"`
	CPUTimeUser    float64     `gorm:"column:cputime_user" json:"cputime_user"`
	CPUTimeSystem  float64     `gorm:"column:cputime_system" json:"cputime_system"`
	MemoryMaxUsage int64       `json:"memory_max_usage"`
}

func (j *Job) Finished() bool {
	switch j.Status {
	case JobStatusDone, JobStatusError, JobStatusKilled, JobStatusStalled:
		return true
	}
	return false
}

// JobRequest is one entry of a bulk submission. Field names match the
// wire format the clients send.
type JobRequest struct {
	Cmd          string            `json:"cmd" binding:"required"`
	Core         string            `json:"core"`
	Multicore    int               `json:"multicore"`
	Name         string            `json:"name"`
	Env          map[string]string `json:"env"`
	Tags         map[string]string `json:"tags"`
	Volumes      []string          `json:"vol"`
	LayerName    string            `json:"layer"`
	LayerRW      bool              `json:"layer_rw"`
	DependsOn    []int64           `json:"depends_on"`
	ResultSource string            `json:"result_source"`
	ResultType   string            `json:"result_type"`
	MaxRuntime   int               `json:"max_runtime"`
	Restartable  *bool             `json:"restartable"`
	Stdin        []byte            `json:"stdin"`
}

type JobSubmission struct {
	Jobs []JobRequest `json:"jobs" binding:"required"`
}

// JobQuery carries the supported list filters. before/after paginate on
// jid, status and jid params may repeat.
type JobQuery struct {
	JIDs     []int64  `form:"jid"`
	Name     string   `form:"name"`
	Limit    int      `form:"limit,default=50"`
	Before   int64    `form:"before"`
	After    int64    `form:"after"`
	Statuses []string `form:"status"`
	Fields   []string `form:"field"`
}

type QueueStats map[string]int64

type Invoice struct {
	Date        string  `json:"date"`
	JobCount    int64   `json:"job_count"`
	Runtime     float64 `json:"runtime"`
	CoreSeconds float64 `json:"core_seconds"`
}
