package services

import (
	"testing"
	"time"

	"github.com/multyvac/vac/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJobService(t *testing.T) (JobService, *testFixture) {
	t.Helper()
	f := newFixture(t)
	return NewJobService(f.db, f.pool, f.config), f
}

func TestCreateJobsDefaults(t *testing.T) {
	svc, f := newJobService(t)

	jids, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "echo hi"}},
	})
	require.NoError(t, err)
	require.Len(t, jids, 1)

	job, err := svc.GetJob(f.user.ID, jids[0])
	require.NoError(t, err)
	assert.Equal(t, "c1", job.Core)
	assert.Equal(t, 1, job.Multicore)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, models.ResultSourceStdout, job.ResultSource)
	assert.Equal(t, models.ResultTypeBinary, job.ResultType)
	assert.True(t, job.Restartable)
}

func TestCreateJobsBulkOrder(t *testing.T) {
	svc, f := newJobService(t)

	jids, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{
			{Cmd: "echo 1", Name: "first"},
			{Cmd: "echo 2", Name: "second"},
			{Cmd: "echo 3", Name: "third"},
		},
	})
	require.NoError(t, err)
	require.Len(t, jids, 3)
	assert.Less(t, jids[0], jids[1])
	assert.Less(t, jids[1], jids[2])

	second, err := svc.GetJob(f.user.ID, jids[1])
	require.NoError(t, err)
	assert.Equal(t, "second", second.Name)
}

func TestCreateJobsValidation(t *testing.T) {
	svc, f := newJobService(t)

	cases := []struct {
		name string
		req  models.JobRequest
		want string
	}{
		{"empty submission", models.JobRequest{}, "cmd is required"},
		{"unknown core", models.JobRequest{Cmd: "true", Core: "c9"}, `unknown core type "c9"`},
		{"negative multicore", models.JobRequest{Cmd: "true", Multicore: -1}, "multicore must be at least 1"},
		{"bad result source", models.JobRequest{Cmd: "true", ResultSource: "socket"}, "result_source"},
		{"empty file path", models.JobRequest{Cmd: "true", ResultSource: "file:"}, "result_source"},
		{"bad result type", models.JobRequest{Cmd: "true", ResultType: "pickle"}, `unknown result type "pickle"`},
		{"negative runtime", models.JobRequest{Cmd: "true", MaxRuntime: -5}, "max_runtime cannot be negative"},
		{"missing volume", models.JobRequest{Cmd: "true", Volumes: []string{"nope"}}, `volume "nope" not found`},
		{"missing layer", models.JobRequest{Cmd: "true", LayerName: "nope"}, `layer "nope" not found`},
		{"missing dependency", models.JobRequest{Cmd: "true", DependsOn: []int64{999}}, "depends_on references unknown jobs"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
				Jobs: []models.JobRequest{tc.req},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := svc.CreateJobs(f.user.ID, models.JobSubmission{})
	assert.ErrorContains(t, err, "submission contains no jobs")
}

func TestCreateJobsRejectsWholeBatch(t *testing.T) {
	svc, f := newJobService(t)

	_, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{
			{Cmd: "echo ok"},
			{Cmd: ""},
		},
	})
	require.Error(t, err)

	jobs, err := svc.ListJobs(f.user.ID, models.JobQuery{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "a bad entry must not persist its siblings")
}

func TestCreateJobsWithDependencies(t *testing.T) {
	svc, f := newJobService(t)

	first, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "echo base"}},
	})
	require.NoError(t, err)

	dependent, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "echo after", DependsOn: []int64{first[0]}}},
	})
	require.NoError(t, err)

	job, err := svc.GetJob(f.user.ID, dependent[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusWaiting, job.Status)
}

func TestCreateJobsChecksMountOwnership(t *testing.T) {
	svc, f := newJobService(t)

	require.NoError(t, f.db.Create(&models.Volume{
		Name: "data", OwnerID: f.user.ID, MountPath: "/data", MountType: "bind",
	}).Error)

	jids, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "ls /data", Volumes: []string{"data"}}},
	})
	require.NoError(t, err)
	require.Len(t, jids, 1)

	// Another account cannot mount it.
	other := seedUser(t, f.db, "other")
	_, err = svc.CreateJobs(other.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "ls /data", Volumes: []string{"data"}}},
	})
	assert.ErrorContains(t, err, `volume "data" not found`)
}

func TestListJobsFilters(t *testing.T) {
	svc, f := newJobService(t)

	var jids []int64
	for _, req := range []models.JobRequest{
		{Cmd: "echo 1", Name: "batch"},
		{Cmd: "echo 2", Name: "batch"},
		{Cmd: "echo 3", Name: "solo"},
	} {
		ids, err := svc.CreateJobs(f.user.ID, models.JobSubmission{Jobs: []models.JobRequest{req}})
		require.NoError(t, err)
		jids = append(jids, ids...)
	}

	jobs, err := svc.ListJobs(f.user.ID, models.JobQuery{})
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, jids[2], jobs[0].JID, "newest first")

	jobs, err = svc.ListJobs(f.user.ID, models.JobQuery{Name: "batch"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = svc.ListJobs(f.user.ID, models.JobQuery{JIDs: []int64{jids[0], jids[2]}})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = svc.ListJobs(f.user.ID, models.JobQuery{Statuses: []string{models.JobStatusQueued}})
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	jobs, err = svc.ListJobs(f.user.ID, models.JobQuery{Before: jids[1]})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jids[0], jobs[0].JID)

	jobs, err = svc.ListJobs(f.user.ID, models.JobQuery{After: jids[1]})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jids[2], jobs[0].JID)

	jobs, err = svc.ListJobs(f.user.ID, models.JobQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	// Another account sees nothing.
	other := seedUser(t, f.db, "other")
	jobs, err = svc.ListJobs(other.ID, models.JobQuery{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestListJobsFieldProjection(t *testing.T) {
	svc, f := newJobService(t)

	jids, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "echo full", Name: "projected"}},
	})
	require.NoError(t, err)

	jobs, err := svc.ListJobs(f.user.ID, models.JobQuery{Fields: []string{"status"}})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jids[0], jobs[0].JID, "jid always selected")
	assert.Equal(t, models.JobStatusQueued, jobs[0].Status)
	assert.Empty(t, jobs[0].Cmd)
	assert.Empty(t, jobs[0].Name)

	// Unknown fields are dropped, not passed to the database.
	jobs, err = svc.ListJobs(f.user.ID, models.JobQuery{Fields: []string{"status", "password; drop table jobs"}})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestGetJobNotFound(t *testing.T) {
	svc, f := newJobService(t)

	_, err := svc.GetJob(f.user.ID, 12345)
	assert.ErrorIs(t, err, ErrJobNotFound)

	jids, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "echo mine"}},
	})
	require.NoError(t, err)

	other := seedUser(t, f.db, "other")
	_, err = svc.GetJob(other.ID, jids[0])
	assert.ErrorIs(t, err, ErrJobNotFound, "jobs are invisible across accounts")
}

func TestKillJob(t *testing.T) {
	svc, f := newJobService(t)

	jids, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "sleep 60"}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.KillJob(f.user.ID, jids[0]))

	job, err := svc.GetJob(f.user.ID, jids[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusKilled, job.Status)
	require.NotNil(t, job.FinishedAt)

	// Killing a finished job is a no-op.
	require.NoError(t, svc.KillJob(f.user.ID, jids[0]))

	assert.ErrorIs(t, svc.KillJob(f.user.ID, 999), ErrJobNotFound)
}

func TestKillAll(t *testing.T) {
	svc, f := newJobService(t)
	other := seedUser(t, f.db, "other")

	mine, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "sleep 60"}, {Cmd: "sleep 60"}},
	})
	require.NoError(t, err)

	theirs, err := svc.CreateJobs(other.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "sleep 60"}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.KillAll(f.user.ID))

	for _, jid := range mine {
		job, err := svc.GetJob(f.user.ID, jid)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusKilled, job.Status)
	}

	job, err := svc.GetJob(other.ID, theirs[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status, "other accounts are untouched")
}

func TestQueueStats(t *testing.T) {
	svc, f := newJobService(t)

	_, err := svc.CreateJobs(f.user.ID, models.JobSubmission{
		Jobs: []models.JobRequest{{Cmd: "echo a"}, {Cmd: "echo b"}},
	})
	require.NoError(t, err)

	finished := time.Now()
	require.NoError(t, f.db.Create(&models.Job{
		OwnerID: f.user.ID, Cmd: "echo done", Core: "c1", Multicore: 1,
		Status: models.JobStatusDone, FinishedAt: &finished,
		ResultSource: models.ResultSourceStdout, ResultType: models.ResultTypeBinary,
	}).Error)

	stats, err := svc.QueueStats(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats[models.JobStatusQueued])
	assert.Equal(t, int64(0), stats[models.JobStatusProcessing])
	assert.Equal(t, int64(0), stats[models.JobStatusWaiting])
	_, counted := stats[models.JobStatusDone]
	assert.False(t, counted, "finished statuses stay out of queue stats")
}

func TestInvoice(t *testing.T) {
	svc, f := newJobService(t)

	day := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	for _, job := range []models.Job{
		{Core: "c1", Multicore: 1, Runtime: 10, FinishedAt: &day},
		{Core: "c2", Multicore: 2, Runtime: 5, FinishedAt: &day},
	} {
		job.OwnerID = f.user.ID
		job.Cmd = "true"
		job.Status = models.JobStatusDone
		job.ResultSource = models.ResultSourceStdout
		job.ResultType = models.ResultTypeBinary
		require.NoError(t, f.db.Create(&job).Error)
	}

	invoice, err := svc.Invoice(f.user.ID, "2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, int64(2), invoice.JobCount)
	assert.Equal(t, 15.0, invoice.Runtime)
	// c1x1 weighs 1, c2x2 weighs 4.
	assert.Equal(t, 10.0+5.0*4, invoice.CoreSeconds)

	empty, err := svc.Invoice(f.user.ID, "2026-08-23")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.JobCount)

	_, err = svc.Invoice(f.user.ID, "23-08-2026")
	assert.ErrorContains(t, err, "invalid date")
}
