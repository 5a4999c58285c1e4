package worker

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/models"

	uuid "github.com/satori/go.uuid"
	"gorm.io/gorm"
)

// Pool schedules queued jobs onto the configured runner, within the
// core capacity of the ledger. One pool instance runs inside each
// server process; claims go through the database so several instances
// can share a queue.
type Pool struct {
	db      *gorm.DB
	runner  Runner
	cfg     config.WorkerConfig
	dataDir string
	ledger  *coreLedger
	wake    chan struct{}

	mu      sync.Mutex
	running map[int64]*runningJob

	wg         sync.WaitGroup
	stopDispat context.CancelFunc
}

type runningJob struct {
	cancel          context.CancelFunc
	owner           uuid.UUID
	cores           int
	fromReservation bool
}

func NewPool(db *gorm.DB, runner Runner, cfg config.WorkerConfig, dataDir string) *Pool {
	return &Pool{
		db:      db,
		runner:  runner,
		cfg:     cfg,
		dataDir: dataDir,
		ledger:  newCoreLedger(cfg.TotalCores),
		wake:    make(chan struct{}, 1),
		running: make(map[int64]*runningJob),
	}
}

// Start reconciles jobs left processing by a dead server and launches
// the dispatch loop.
func (p *Pool) Start() {
	p.reconcile()

	ctx, cancel := context.WithCancel(context.Background())
	p.stopDispat = cancel
	go p.dispatchLoop(ctx)
}

// Stop ends dispatching and waits for running jobs until ctx expires.
// Jobs still running by then stay processing and are reconciled on the
// next boot.
func (p *Pool) Stop(ctx context.Context) error {
	if p.stopDispat != nil {
		p.stopDispat()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs still running at shutdown")
	}
}

// Wake nudges the dispatcher after an enqueue.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Reserve carves cores out of the shared capacity for owner.
func (p *Pool) Reserve(owner uuid.UUID, cores int) error {
	return p.ledger.Reserve(owner, cores)
}

// ReleaseReservation returns owner's cores to the shared pool.
func (p *Pool) ReleaseReservation(owner uuid.UUID, cores int) {
	p.ledger.Release(owner, cores)
	p.Wake()
}

// CoreDemand translates a job's core type and multicore count into
// core units.
func (p *Pool) CoreDemand(core string, multicore int) (int, error) {
	weight, ok := p.cfg.CoreTypes[core]
	if !ok {
		return 0, fmt.Errorf("unknown core type %q", core)
	}
	if multicore < 1 {
		multicore = 1
	}
	return weight * multicore, nil
}

// Kill terminates a job: unstarted jobs flip straight to killed,
// running jobs get their context cancelled. Finished jobs are left
// untouched.
func (p *Pool) Kill(jid int64) error {
	now := time.Now()
	res := p.db.Model(&models.Job{}).
		Where("jid = ? AND status IN ?", jid, []string{models.JobStatusWaiting, models.JobStatusQueued}).
		Updates(map[string]interface{}{"status": models.JobStatusKilled, "finished_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	p.mu.Lock()
	rj, ok := p.running[jid]
	p.mu.Unlock()
	if ok {
		rj.cancel()
	}
	return nil
}

func (p *Pool) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		p.promoteWaiting()
		p.startEligible()

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// promoteWaiting moves jobs whose dependencies all finished well to
// queued, and fails jobs with a dead dependency.
func (p *Pool) promoteWaiting() {
	var waiting []models.Job
	if err := p.db.Where("status = ?", models.JobStatusWaiting).Order("jid").Find(&waiting).Error; err != nil {
		log.Println("dispatch: listing waiting jobs:", err)
		return
	}

	for i := range waiting {
		job := &waiting[i]
		if len(job.DependsOn) == 0 {
			p.markQueued(job.JID)
			continue
		}

		var deps []models.Job
		if err := p.db.Select("jid", "status").Where("jid IN ?", []int64(job.DependsOn)).Find(&deps).Error; err != nil {
			log.Println("dispatch: loading dependencies:", err)
			continue
		}
		byJID := make(map[int64]string, len(deps))
		for _, d := range deps {
			byJID[d.JID] = d.Status
		}

		done := 0
		failed := int64(0)
		for _, dep := range job.DependsOn {
			switch byJID[dep] {
			case models.JobStatusDone:
				done++
			case models.JobStatusError, models.JobStatusKilled, models.JobStatusStalled:
				failed = dep
			case "":
				failed = dep
			}
		}

		if failed != 0 {
			p.finishUnstarted(job.JID, models.JobStatusError,
				fmt.Sprintf("dependency %d did not complete", failed))
		} else if done == len(job.DependsOn) {
			p.markQueued(job.JID)
		}
	}
}

func (p *Pool) markQueued(jid int64) {
	err := p.db.Model(&models.Job{}).
		Where("jid = ? AND status = ?", jid, models.JobStatusWaiting).
		Update("status", models.JobStatusQueued).Error
	if err != nil {
		log.Println("dispatch: queueing job:", err)
	}
}

func (p *Pool) finishUnstarted(jid int64, status, stderr string) {
	now := time.Now()
	err := p.db.Model(&models.Job{}).
		Where("jid = ? AND status IN ?", jid, models.UnfinishedStatuses).
		Updates(map[string]interface{}{
			"status":      status,
			"stderr":      stderr,
			"finished_at": now,
		}).Error
	if err != nil {
		log.Println("dispatch: failing job:", err)
	}
}

// startEligible claims queued jobs that fit the free capacity, oldest
// first.
func (p *Pool) startEligible() {
	var queued []models.Job
	if err := p.db.Where("status = ?", models.JobStatusQueued).Order("jid").Limit(100).Find(&queued).Error; err != nil {
		log.Println("dispatch: listing queued jobs:", err)
		return
	}

	for i := range queued {
		job := queued[i]

		cores, err := p.CoreDemand(job.Core, job.Multicore)
		if err != nil {
			p.finishUnstarted(job.JID, models.JobStatusError, err.Error())
			continue
		}

		fromReservation, ok := p.ledger.Acquire(job.OwnerID, cores)
		if !ok {
			continue
		}

		jobCtx, cancel := context.WithCancel(context.Background())
		rj := &runningJob{cancel: cancel, owner: job.OwnerID, cores: cores, fromReservation: fromReservation}
		p.mu.Lock()
		p.running[job.JID] = rj
		p.mu.Unlock()

		now := time.Now()
		claim := p.db.Model(&models.Job{}).
			Where("jid = ? AND status = ?", job.JID, models.JobStatusQueued).
			Updates(map[string]interface{}{
				"status":      models.JobStatusProcessing,
				"started_at":  now,
				"queue_delay": now.Sub(job.CreatedAt).Seconds(),
			})
		if claim.Error != nil || claim.RowsAffected == 0 {
			p.unregister(job.JID, rj)
			cancel()
			if claim.Error != nil {
				log.Println("dispatch: claiming job:", claim.Error)
			}
			continue
		}

		job.Status = models.JobStatusProcessing
		job.StartedAt = &now

		p.wg.Add(1)
		go p.runJob(jobCtx, job, rj)
	}
}

func (p *Pool) unregister(jid int64, rj *runningJob) {
	p.mu.Lock()
	delete(p.running, jid)
	p.mu.Unlock()
	p.ledger.ReleaseJob(rj.owner, rj.cores, rj.fromReservation)
}

func (p *Pool) runJob(ctx context.Context, job models.Job, rj *runningJob) {
	defer p.wg.Done()
	defer rj.cancel()
	defer func() {
		p.unregister(job.JID, rj)
		p.Wake()
	}()

	if job.MaxRuntime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.MaxRuntime)*time.Minute)
		defer cancel()
	}

	spec, err := p.buildSpec(&job)
	if err != nil {
		p.finishJob(&job, &RunResult{ReturnCode: 1, Stderr: err.Error()})
		return
	}

	res, err := p.runner.Run(ctx, spec)
	if err != nil {
		res = &RunResult{ReturnCode: 1, Stderr: err.Error()}
	}
	p.finishJob(&job, res)
}

func (p *Pool) buildSpec(job *models.Job) (*RunSpec, error) {
	spec := &RunSpec{Job: job}

	for _, name := range job.Volumes {
		var vol models.Volume
		if err := p.db.First(&vol, "name = ?", name).Error; err != nil {
			return nil, fmt.Errorf("volume %q not found", name)
		}
		spec.Mounts = append(spec.Mounts, Mount{
			Source: filepath.Join(p.dataDir, "volumes", vol.Name),
			Target: vol.MountPath,
		})
	}

	if job.LayerName != "" {
		var layer models.Layer
		if err := p.db.First(&layer, "name = ?", job.LayerName).Error; err != nil {
			return nil, fmt.Errorf("layer %q not found", job.LayerName)
		}
		spec.Mounts = append(spec.Mounts, Mount{
			Source:  filepath.Join(p.dataDir, "layers", layer.Name),
			Overlay: true,
		})
	}

	return spec, nil
}

func (p *Pool) finishJob(job *models.Job, res *RunResult) {
	status := models.JobStatusError
	switch {
	case res.Killed:
		status = models.JobStatusKilled
	case res.ReturnCode == 0:
		status = models.JobStatusDone
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":           status,
		"result":           res.Result,
		"stdout":           res.Stdout,
		"stderr":           res.Stderr,
		"return_code":      res.ReturnCode,
		"finished_at":      now,
		"overhead_delay":   res.Overhead.Seconds(),
		"cputime_user":     res.CPUTimeUser,
		"cputime_system":   res.CPUTimeSystem,
		"memory_max_usage": res.MemoryMaxUsage,
	}
	if job.StartedAt != nil {
		updates["runtime"] = now.Sub(*job.StartedAt).Seconds()
	}

	err := p.db.Model(&models.Job{}).Where("jid = ?", job.JID).Updates(updates).Error
	if err != nil {
		log.Println("dispatch: finishing job:", err)
	}
}

// reconcile fixes rows left processing by a previous server: jobs that
// opted into restarts go back to the queue, the rest are stalled.
func (p *Pool) reconcile() {
	now := time.Now()

	err := p.db.Model(&models.Job{}).
		Where("status = ? AND restartable", models.JobStatusProcessing).
		Updates(map[string]interface{}{"status": models.JobStatusQueued, "started_at": nil, "queue_delay": 0}).Error
	if err != nil {
		log.Println("reconcile: requeueing restartable jobs:", err)
	}

	err = p.db.Model(&models.Job{}).
		Where("status = ?", models.JobStatusProcessing).
		Updates(map[string]interface{}{"status": models.JobStatusStalled, "finished_at": now}).Error
	if err != nil {
		log.Println("reconcile: stalling jobs:", err)
	}
}
