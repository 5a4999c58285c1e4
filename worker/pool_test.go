package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/fn"
	"github.com/multyvac/vac/models"

	"github.com/glebarez/sqlite"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "vac.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.Volume{}, &models.Layer{}))
	return db
}

func testPool(t *testing.T, db *gorm.DB, reg *fn.Registry) *Pool {
	t.Helper()
	dataDir := t.TempDir()
	cfg := config.WorkerConfig{
		Executor:     "local",
		TotalCores:   4,
		CoreTypes:    map[string]int{"c1": 1, "c2": 2},
		BootstrapCmd: "vac-bootstrap",
		PollInterval: 1,
	}
	runner := &LocalRunner{
		DataDir:      dataDir,
		BootstrapCmd: cfg.BootstrapCmd,
		MaxOutput:    64 * 1024,
		Registry:     reg,
	}
	pool := NewPool(db, runner, cfg, dataDir)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	return pool
}

func queueJob(t *testing.T, db *gorm.DB, job *models.Job) *models.Job {
	t.Helper()
	if job.Core == "" {
		job.Core = "c1"
	}
	if job.Multicore == 0 {
		job.Multicore = 1
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	require.NoError(t, db.Create(job).Error)
	return job
}

func reload(t *testing.T, db *gorm.DB, jid int64) *models.Job {
	t.Helper()
	var job models.Job
	require.NoError(t, db.First(&job, "jid = ?", jid).Error)
	return &job
}

func waitForStatus(t *testing.T, db *gorm.DB, jid int64, status string) *models.Job {
	t.Helper()
	var job models.Job
	require.Eventually(t, func() bool {
		if err := db.First(&job, "jid = ?", jid).Error; err != nil {
			return false
		}
		return job.Status == status
	}, 15*time.Second, 25*time.Millisecond, "job %d never reached %s", jid, status)
	return &job
}

func TestPoolRunsShellJob(t *testing.T) {
	db := testDB(t)
	pool := testPool(t, db, nil)
	pool.Start()

	job := queueJob(t, db, &models.Job{Cmd: "printf hello", ResultSource: models.ResultSourceStdout})
	pool.Wake()

	got := waitForStatus(t, db, job.JID, models.JobStatusDone)
	assert.Equal(t, "hello", got.Stdout)
	assert.Equal(t, []byte("hello"), got.Result)
	require.NotNil(t, got.ReturnCode)
	assert.Equal(t, 0, *got.ReturnCode)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.GreaterOrEqual(t, got.QueueDelay, 0.0)
}

func TestPoolRunsFunctionJob(t *testing.T) {
	reg := fn.NewRegistry()
	require.NoError(t, reg.Register("add", func(x, y int) int { return x + y }))

	db := testDB(t)
	pool := testPool(t, db, reg)
	pool.Start()

	payload, err := fn.NewCall("add", 1, 2).Encode()
	require.NoError(t, err)

	job := queueJob(t, db, &models.Job{
		Cmd:          "vac-bootstrap",
		Stdin:        payload,
		ResultSource: "file:.result",
		ResultType:   models.ResultTypeJSON,
	})
	pool.Wake()

	got := waitForStatus(t, db, job.JID, models.JobStatusDone)
	assert.JSONEq(t, "3", string(got.Result))
}

func TestPoolFailedJob(t *testing.T) {
	db := testDB(t)
	pool := testPool(t, db, nil)
	pool.Start()

	job := queueJob(t, db, &models.Job{Cmd: "printf broken >&2; exit 2"})
	pool.Wake()

	got := waitForStatus(t, db, job.JID, models.JobStatusError)
	assert.Equal(t, "broken", got.Stderr)
	require.NotNil(t, got.ReturnCode)
	assert.Equal(t, 2, *got.ReturnCode)
}

func TestPoolDependencies(t *testing.T) {
	db := testDB(t)
	pool := testPool(t, db, nil)
	pool.Start()

	first := queueJob(t, db, &models.Job{Cmd: "printf first"})
	second := queueJob(t, db, &models.Job{
		Cmd:       "printf second",
		Status:    models.JobStatusWaiting,
		DependsOn: models.JSONInt64s{first.JID},
	})
	pool.Wake()

	waitForStatus(t, db, first.JID, models.JobStatusDone)
	got := waitForStatus(t, db, second.JID, models.JobStatusDone)
	assert.Equal(t, "second", got.Stdout)
}

func TestPoolFailedDependency(t *testing.T) {
	db := testDB(t)
	pool := testPool(t, db, nil)
	pool.Start()

	first := queueJob(t, db, &models.Job{Cmd: "exit 1"})
	second := queueJob(t, db, &models.Job{
		Cmd:       "printf never",
		Status:    models.JobStatusWaiting,
		DependsOn: models.JSONInt64s{first.JID},
	})
	pool.Wake()

	waitForStatus(t, db, first.JID, models.JobStatusError)
	got := waitForStatus(t, db, second.JID, models.JobStatusError)
	assert.Contains(t, got.Stderr, "dependency")
	assert.Empty(t, got.Stdout)
}

func TestPoolKillQueuedJob(t *testing.T) {
	db := testDB(t)
	pool := testPool(t, db, nil)
	pool.Start()

	// Demands more cores than the pool has, so it can never start.
	job := queueJob(t, db, &models.Job{Cmd: "printf never", Multicore: 100})
	pool.Wake()

	require.NoError(t, pool.Kill(job.JID))
	got := waitForStatus(t, db, job.JID, models.JobStatusKilled)
	assert.NotNil(t, got.FinishedAt)
}

func TestPoolKillRunningJob(t *testing.T) {
	db := testDB(t)
	pool := testPool(t, db, nil)
	pool.Start()

	job := queueJob(t, db, &models.Job{Cmd: "sleep 60"})
	pool.Wake()

	waitForStatus(t, db, job.JID, models.JobStatusProcessing)
	require.NoError(t, pool.Kill(job.JID))

	got := waitForStatus(t, db, job.JID, models.JobStatusKilled)
	assert.NotNil(t, got.FinishedAt)
}

func TestPoolKillFinishedJobIsNoop(t *testing.T) {
	db := testDB(t)
	pool := testPool(t, db, nil)
	pool.Start()

	job := queueJob(t, db, &models.Job{Cmd: "printf done"})
	pool.Wake()
	waitForStatus(t, db, job.JID, models.JobStatusDone)

	require.NoError(t, pool.Kill(job.JID))
	got := reload(t, db, job.JID)
	assert.Equal(t, models.JobStatusDone, got.Status)
}

func TestPoolUnknownCoreType(t *testing.T) {
	db := testDB(t)
	pool := testPool(t, db, nil)
	pool.Start()

	job := queueJob(t, db, &models.Job{Cmd: "printf never", Core: "z9"})
	pool.Wake()

	got := waitForStatus(t, db, job.JID, models.JobStatusError)
	assert.Contains(t, got.Stderr, "unknown core type")
}

func TestPoolReservationScheduling(t *testing.T) {
	alice := uuid.NewV4()
	bob := uuid.NewV4()

	db := testDB(t)
	pool := testPool(t, db, nil)
	require.NoError(t, pool.Reserve(alice, 4))
	pool.Start()

	bobJob := queueJob(t, db, &models.Job{Cmd: "printf bob", OwnerID: bob})
	aliceJob := queueJob(t, db, &models.Job{Cmd: "printf alice", OwnerID: alice})
	pool.Wake()

	// Alice holds every core, so only her job runs.
	waitForStatus(t, db, aliceJob.JID, models.JobStatusDone)
	assert.Equal(t, models.JobStatusQueued, reload(t, db, bobJob.JID).Status)

	pool.ReleaseReservation(alice, 4)
	waitForStatus(t, db, bobJob.JID, models.JobStatusDone)
}

func TestPoolReconcile(t *testing.T) {
	db := testDB(t)

	now := time.Now()
	restartable := queueJob(t, db, &models.Job{
		Cmd: "printf again", Status: models.JobStatusProcessing, Restartable: true, StartedAt: &now,
	})
	doomed := queueJob(t, db, &models.Job{
		Cmd: "printf never", Status: models.JobStatusProcessing, StartedAt: &now,
	})

	pool := testPool(t, db, nil)
	pool.Start()

	got := waitForStatus(t, db, restartable.JID, models.JobStatusDone)
	assert.Equal(t, "again", got.Stdout)

	stalled := waitForStatus(t, db, doomed.JID, models.JobStatusStalled)
	assert.NotNil(t, stalled.FinishedAt)
}

func TestPoolVolumeJob(t *testing.T) {
	db := testDB(t)
	pool := testPool(t, db, nil)

	volDir := filepath.Join(pool.dataDir, "volumes", "data")
	require.NoError(t, writeFileTree(volDir, map[string]string{"hello.txt": "from volume"}))
	require.NoError(t, db.Create(&models.Volume{Name: "data", MountPath: "/data", MountType: "bind"}).Error)

	pool.Start()

	job := queueJob(t, db, &models.Job{Cmd: "cat data/hello.txt", Volumes: models.JSONStrings{"data"}})
	pool.Wake()

	got := waitForStatus(t, db, job.JID, models.JobStatusDone)
	assert.Equal(t, "from volume", got.Stdout)
}

func writeFileTree(dir string, files map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, contents := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestPoolMissingVolume(t *testing.T) {
	db := testDB(t)
	pool := testPool(t, db, nil)
	pool.Start()

	job := queueJob(t, db, &models.Job{Cmd: "true", Volumes: models.JSONStrings{"ghost"}})
	pool.Wake()

	got := waitForStatus(t, db, job.JID, models.JobStatusError)
	assert.Contains(t, got.Stderr, `volume "ghost" not found`)
}
