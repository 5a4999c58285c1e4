package services

import (
	"log"
	"strings"
	"time"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/models"
	"github.com/multyvac/vac/worker"

	"github.com/go-errors/errors"
	uuid "github.com/satori/go.uuid"
	"gorm.io/gorm"
)

// ErrJobNotFound is returned for a jid the account does not own.
var ErrJobNotFound = errors.New("job not found")

// jobColumns whitelists the projections accepted through the `field`
// query parameter. jid is always included so callers can correlate.
var jobColumns = map[string]string{
	"jid":              "jid",
	"name":             "name",
	"cmd":              "cmd",
	"core":             "core",
	"multicore":        "multicore",
	"status":           "status",
	"tags":             "tags",
	"result":           "result",
	"result_type":      "result_type",
	"result_source":    "result_source",
	"return_code":      "return_code",
	"stdout":           "stdout",
	"stderr":           "stderr",
	"created_at":       "created_at",
	"started_at":       "started_at",
	"finished_at":      "finished_at",
	"runtime":          "runtime",
	"queue_delay":      "queue_delay",
	"overhead_delay":   "overhead_delay",
	"cputime_user":     "cputime_user",
	"cputime_system":   "cputime_system",
	"memory_max_usage": "memory_max_usage",
}

type JobService interface {
	CreateJobs(uuid.UUID, models.JobSubmission) ([]int64, error)
	ListJobs(uuid.UUID, models.JobQuery) ([]models.Job, error)
	GetJob(uuid.UUID, int64) (models.Job, error)
	KillJob(uuid.UUID, int64) error
	KillAll(uuid.UUID) error
	QueueStats(uuid.UUID) (models.QueueStats, error)
	Invoice(uuid.UUID, string) (models.Invoice, error)
}

type JobServiceImpl struct {
	db     *gorm.DB
	pool   *worker.Pool
	config config.Config
}

func NewJobService(database *gorm.DB, pool *worker.Pool, config config.Config) JobService {
	return &JobServiceImpl{
		db:     database,
		pool:   pool,
		config: config,
	}
}

// CreateJobs persists a bulk submission and returns the new jids in
// submission order. The whole batch is validated first; one bad entry
// rejects the submission.
func (j *JobServiceImpl) CreateJobs(userID uuid.UUID, submission models.JobSubmission) ([]int64, error) {
	if len(submission.Jobs) == 0 {
		return nil, errors.New("submission contains no jobs")
	}

	jobs := make([]models.Job, 0, len(submission.Jobs))
	for i := range submission.Jobs {
		job, err := j.buildJob(userID, &submission.Jobs[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	err := j.db.Transaction(func(tx *gorm.DB) error {
		for i := range jobs {
			if err := tx.Create(&jobs[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	jids := make([]int64, len(jobs))
	for i := range jobs {
		jids[i] = jobs[i].JID
	}

	j.notifyDispatcher()

	return jids, nil
}

func (j *JobServiceImpl) buildJob(userID uuid.UUID, req *models.JobRequest) (models.Job, error) {
	if req.Cmd == "" {
		return models.Job{}, errors.New("cmd is required")
	}

	core := req.Core
	if core == "" {
		core = "c1"
	}
	if _, ok := j.config.Worker.CoreTypes[core]; !ok {
		return models.Job{}, errors.Errorf("unknown core type %q", core)
	}

	multicore := req.Multicore
	if multicore == 0 {
		multicore = 1
	}
	if multicore < 1 {
		return models.Job{}, errors.New("multicore must be at least 1")
	}

	resultSource := req.ResultSource
	if resultSource == "" {
		resultSource = models.ResultSourceStdout
	}
	if resultSource != models.ResultSourceStdout {
		relpath := strings.TrimPrefix(resultSource, models.ResultSourceFilePrefix)
		if relpath == resultSource || relpath == "" {
			return models.Job{}, errors.New("result_source must be \"stdout\" or \"file:<path>\"")
		}
	}

	resultType := req.ResultType
	if resultType == "" {
		resultType = models.ResultTypeBinary
	}
	if resultType != models.ResultTypeBinary && resultType != models.ResultTypeJSON {
		return models.Job{}, errors.Errorf("unknown result type %q", resultType)
	}

	if req.MaxRuntime < 0 {
		return models.Job{}, errors.New("max_runtime cannot be negative")
	}

	for _, name := range req.Volumes {
		var count int64
		if err := j.db.Model(&models.Volume{}).
			Where("name = ? AND owner_id = ?", name, userID).Count(&count).Error; err != nil {
			return models.Job{}, err
		}
		if count == 0 {
			return models.Job{}, errors.Errorf("volume %q not found", name)
		}
	}

	if req.LayerName != "" {
		var count int64
		if err := j.db.Model(&models.Layer{}).
			Where("name = ? AND owner_id = ?", req.LayerName, userID).Count(&count).Error; err != nil {
			return models.Job{}, err
		}
		if count == 0 {
			return models.Job{}, errors.Errorf("layer %q not found", req.LayerName)
		}
	}

	status := models.JobStatusQueued
	if len(req.DependsOn) > 0 {
		var count int64
		if err := j.db.Model(&models.Job{}).
			Where("owner_id = ? AND jid IN ?", userID, req.DependsOn).Count(&count).Error; err != nil {
			return models.Job{}, err
		}
		if count != int64(len(req.DependsOn)) {
			return models.Job{}, errors.New("depends_on references unknown jobs")
		}
		status = models.JobStatusWaiting
	}

	restartable := true
	if req.Restartable != nil {
		restartable = *req.Restartable
	}

	return models.Job{
		OwnerID:      userID,
		Name:         req.Name,
		Cmd:          req.Cmd,
		Core:         core,
		Multicore:    multicore,
		Status:       status,
		Stdin:        req.Stdin,
		Env:          req.Env,
		Tags:         req.Tags,
		Volumes:      req.Volumes,
		LayerName:    req.LayerName,
		LayerRW:      req.LayerRW,
		DependsOn:    req.DependsOn,
		ResultSource: resultSource,
		ResultType:   resultType,
		MaxRuntime:   req.MaxRuntime,
		Restartable:  restartable,
	}, nil
}

// notifyDispatcher wakes the local pool and, on postgres, every other
// server listening on the jobs channel.
func (j *JobServiceImpl) notifyDispatcher() {
	if j.pool != nil {
		j.pool.Wake()
	}

	if j.db.Dialector.Name() == "postgres" {
		if err := j.db.Exec("SELECT pg_notify(?, '')", worker.JobsChannel).Error; err != nil {
			log.Println("Error notifying dispatcher: " + err.Error())
		}
	}
}

func (j *JobServiceImpl) ListJobs(userID uuid.UUID, query models.JobQuery) ([]models.Job, error) {
	var jobs []models.Job

	tx := j.db.Where("owner_id = ?", userID)
	if len(query.JIDs) > 0 {
		tx = tx.Where("jid IN ?", query.JIDs)
	}
	if query.Name != "" {
		tx = tx.Where("name = ?", query.Name)
	}
	if len(query.Statuses) > 0 {
		tx = tx.Where("status IN ?", query.Statuses)
	}
	if query.Before > 0 {
		tx = tx.Where("jid < ?", query.Before)
	}
	if query.After > 0 {
		tx = tx.Where("jid > ?", query.After)
	}

	if len(query.Fields) > 0 {
		columns := []string{"jid"}
		for _, field := range query.Fields {
			if column, ok := jobColumns[field]; ok && column != "jid" {
				columns = append(columns, column)
			}
		}
		tx = tx.Select(columns)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	res := tx.Order("jid desc").Limit(limit).Find(&jobs)
	if res.Error != nil {
		return jobs, res.Error
	}

	return jobs, nil
}

func (j *JobServiceImpl) GetJob(userID uuid.UUID, jid int64) (models.Job, error) {
	var job models.Job
	res := j.db.Where("owner_id = ? AND jid = ?", userID, jid).Find(&job)
	if res.Error != nil {
		return models.Job{}, res.Error
	}

	if job.JID == 0 {
		return models.Job{}, ErrJobNotFound
	}

	return job, nil
}

// KillJob terminates one job. Killing an already finished job is a
// no-op.
func (j *JobServiceImpl) KillJob(userID uuid.UUID, jid int64) error {
	job, err := j.GetJob(userID, jid)
	if err != nil {
		return err
	}

	if job.Finished() {
		return nil
	}

	return j.pool.Kill(job.JID)
}

func (j *JobServiceImpl) KillAll(userID uuid.UUID) error {
	var jids []int64
	err := j.db.Model(&models.Job{}).
		Where("owner_id = ? AND status IN ?", userID, models.UnfinishedStatuses).
		Pluck("jid", &jids).Error
	if err != nil {
		return err
	}

	for _, jid := range jids {
		if err := j.pool.Kill(jid); err != nil {
			return err
		}
	}

	return nil
}

func (j *JobServiceImpl) QueueStats(userID uuid.UUID) (models.QueueStats, error) {
	stats := models.QueueStats{}
	for _, status := range models.UnfinishedStatuses {
		stats[status] = 0
	}

	var rows []struct {
		Status string
		Count  int64
	}
	err := j.db.Model(&models.Job{}).
		Select("status, count(*) as count").
		Where("owner_id = ? AND status IN ?", userID, models.UnfinishedStatuses).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		stats[row.Status] = row.Count
	}

	return stats, nil
}

// Invoice aggregates the jobs that finished on the given day. Core
// seconds weigh each job's runtime by its core demand.
func (j *JobServiceImpl) Invoice(userID uuid.UUID, date string) (models.Invoice, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return models.Invoice{}, errors.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}

	var jobs []models.Job
	err = j.db.Select("jid", "core", "multicore", "runtime").
		Where("owner_id = ? AND finished_at >= ? AND finished_at < ?",
			userID, day, day.Add(24*time.Hour)).
		Find(&jobs).Error
	if err != nil {
		return models.Invoice{}, err
	}

	invoice := models.Invoice{Date: date, JobCount: int64(len(jobs))}
	for i := range jobs {
		weight := j.config.Worker.CoreTypes[jobs[i].Core]
		if weight < 1 {
			weight = 1
		}
		multicore := jobs[i].Multicore
		if multicore < 1 {
			multicore = 1
		}
		invoice.Runtime += jobs[i].Runtime
		invoice.CoreSeconds += jobs[i].Runtime * float64(weight*multicore)
	}

	return invoice, nil
}
