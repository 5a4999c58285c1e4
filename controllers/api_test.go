package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/fn"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/models"
	"github.com/multyvac/vac/services"
	"github.com/multyvac/vac/vac"
	"github.com/multyvac/vac/worker"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// apiFixture is a full server: sqlite database, a running worker pool
// with an in-process function registry, the whole route table, and an
// SDK client authenticated with a fresh api key.
type apiFixture struct {
	srv      *httptest.Server
	client   *vac.Client
	db       *gorm.DB
	config   config.Config
	user     models.User
	key      models.ApiKey
	registry *fn.Registry
	webhooks services.WebhookService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("MULTYVAC_API_KEY", "")
	t.Setenv("MULTYVAC_API_SECRET_KEY", "")
	t.Setenv("MULTYVAC_API_URL", "")
	t.Setenv("HOME", t.TempDir())

	dataDir := t.TempDir()
	cfg := config.Config{
		Environment: "test",
		RootSecret:  "root-secret",
		DataDir:     dataDir,
		JWT: config.JWTConfig{
			Key:           []byte("jwt-test-key"),
			ExpirySeconds: 3600,
		},
		Worker: config.WorkerConfig{
			Executor:     "local",
			TotalCores:   4,
			CoreTypes:    map[string]int{"c1": 1, "c2": 2},
			BootstrapCmd: "vac-bootstrap",
			MaxOutputKB:  64,
			PollInterval: 1,
		},
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(dataDir, "vac.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	config.InitDB(db)

	registry := fn.NewRegistry()
	pool := worker.NewPool(db, &worker.LocalRunner{
		DataDir:      dataDir,
		BootstrapCmd: cfg.Worker.BootstrapCmd,
		MaxOutput:    cfg.Worker.MaxOutputKB * 1024,
		Registry:     registry,
	}, cfg.Worker, dataDir)
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	es := helpers.ElasticSearch{}
	us := services.NewUserService(db, cfg)
	as := services.NewAuthService(db, cfg, us)
	als := services.NewAuditService(db, es, cfg)
	js := services.NewJobService(db, pool, cfg)
	ks := services.NewKeyService(db, cfg)
	vs := services.NewVolumeService(db, cfg)
	ls := services.NewLayerService(db, cfg)
	cs := services.NewClusterService(db, pool, cfg)
	ws := services.NewWebhookService(db, cfg, js)

	providers := []string{"local"}
	ac := NewAuthController(as, als, providers)
	uc := NewUserController(us, as, als, providers)
	alc := NewAuditController(als, as)
	jc := NewJobController(js, as, als)
	kc := NewKeyController(ks, as, als)
	vc := NewVolumeController(vs, as, als)
	lc := NewLayerController(ls, as, als)
	cc := NewClusterController(cs, as, als)
	rc := NewReportController(as, als, dataDir)
	wc := NewWebhookController(ws, as, als)

	router := gin.New()
	ac.SetAuthRoutes(&router.RouterGroup)
	jc.SetJobRoutes(router.Group("/job"), cfg)
	jc.SetInvoiceRoutes(router.Group("/invoice"), cfg)
	kc.SetKeyRoutes(router.Group("/key"), cfg)
	vc.SetVolumeRoutes(router.Group("/volume"), cfg)
	lc.SetLayerRoutes(router.Group("/layer"), cfg)
	cc.SetClusterRoutes(router.Group("/cluster"), cfg)
	rc.SetReportRoutes(router.Group("/report"), cfg)
	wc.SetWebhookRoutes(router.Group("/webhook"), cfg)
	uc.SetUserRoutes(router.Group("/users"), cfg)
	alc.SetAuditRoutes(router.Group("/audit_logs"), cfg)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	user, err := us.CreateUser(models.User{Username: "alice", Password: "hunter2", Provider: "local"})
	require.NoError(t, err)
	key, err := ks.CreateKey(user.ID)
	require.NoError(t, err)

	client, err := vac.NewClient(
		vac.WithAPIURL(srv.URL),
		vac.WithCredentials(key.ID, key.SecretKey),
		vac.WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)

	return &apiFixture{
		srv:      srv,
		client:   client,
		db:       db,
		config:   cfg,
		user:     user,
		key:      key,
		registry: registry,
		webhooks: ws,
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	return ctx
}

func TestShellJobRoundTrip(t *testing.T) {
	f := newAPIFixture(t)
	ctx := testCtx(t)

	jid, err := f.client.ShellSubmit(ctx, "echo hello")
	require.NoError(t, err)
	require.Positive(t, jid)

	job, err := f.client.Job(ctx, jid)
	require.NoError(t, err)
	require.NoError(t, job.Wait(ctx))

	assert.Equal(t, vac.StatusDone, job.Status)
	assert.Equal(t, "hello\n", job.Stdout)
	assert.NotNil(t, job.FinishedAt)

	result, err := job.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\n"), result)
}

func TestFunctionJobRoundTrip(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.registry.Register("add", func(a, b int) int { return a + b }))
	require.NoError(t, fn.Register("add", func(a, b int) int { return a + b }))
	ctx := testCtx(t)

	jid, err := f.client.Submit(ctx, fn.NewCall("add", 19, 23))
	require.NoError(t, err)

	job, err := f.client.Job(ctx, jid)
	require.NoError(t, err)

	var sum int
	require.NoError(t, job.ResultInto(ctx, &sum))
	assert.Equal(t, 42, sum)
	assert.Equal(t, "add", job.Tags["fname"])
}

func TestFunctionJobErrorSurfaces(t *testing.T) {
	f := newAPIFixture(t)
	ctx := testCtx(t)

	// Registered for submission here, but absent from the pool's
	// registry, like a worker build that lacks the client's functions.
	require.NoError(t, fn.Register("missing", func() {}))
	jid, err := f.client.Submit(ctx, fn.NewCall("missing"))
	require.NoError(t, err)

	job, err := f.client.Job(ctx, jid)
	require.NoError(t, err)

	_, err = job.Result(ctx)
	var jobErr *vac.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, vac.StatusError, jobErr.Status)
	assert.Contains(t, jobErr.Stderr, "not registered")
}

func TestJobReadsVolume(t *testing.T) {
	f := newAPIFixture(t)
	ctx := testCtx(t)

	require.NoError(t, f.client.CreateVolume(ctx, vac.Volume{Name: "data", MountPath: "/data"}))
	volume, err := f.client.Volume(ctx, "data")
	require.NoError(t, err)
	require.NoError(t, volume.PutContents(ctx, []byte("from the volume\n"), "input.txt", 0))

	// The volume tree is linked at its mount path inside the workspace.
	jid, err := f.client.ShellSubmit(ctx, "cat data/input.txt", vac.WithVolumes("data"))
	require.NoError(t, err)

	job, err := f.client.Job(ctx, jid)
	require.NoError(t, err)
	require.NoError(t, job.Wait(ctx))
	assert.Equal(t, vac.StatusDone, job.Status)
	assert.Equal(t, "from the volume\n", job.Stdout)
}

func TestFailedShellJob(t *testing.T) {
	f := newAPIFixture(t)
	ctx := testCtx(t)

	jid, err := f.client.ShellSubmit(ctx, "echo boom >&2; exit 3")
	require.NoError(t, err)

	job, err := f.client.Job(ctx, jid)
	require.NoError(t, err)
	require.NoError(t, job.Wait(ctx))

	assert.Equal(t, vac.StatusError, job.Status)
	assert.Equal(t, "boom\n", job.Stderr)
	require.NotNil(t, job.ReturnCode)
	assert.Equal(t, 3, *job.ReturnCode)

	_, err = job.Result(ctx)
	var jobErr *vac.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, jid, jobErr.JID)
}

func TestKillRunningJob(t *testing.T) {
	f := newAPIFixture(t)
	ctx := testCtx(t)

	jid, err := f.client.ShellSubmit(ctx, "sleep 60")
	require.NoError(t, err)

	job, err := f.client.Job(ctx, jid)
	require.NoError(t, err)
	require.NoError(t, job.WaitStatus(ctx, vac.StatusProcessing))

	require.NoError(t, f.client.KillJobs(ctx, jid))
	require.NoError(t, job.Wait(ctx))
	assert.Equal(t, vac.StatusKilled, job.Status)
}

func TestUnauthenticatedRequest(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.srv.URL + "/job")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var envelope helpers.ErrorEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, helpers.ErrCodeUnauthorized, envelope.Error.Code)
	assert.Equal(t, "please authenticate", envelope.Error.Message)
	assert.False(t, envelope.Error.Retry)
}

func TestBadAPIKeyOverSDK(t *testing.T) {
	f := newAPIFixture(t)
	ctx := testCtx(t)

	client, err := vac.NewClient(
		vac.WithAPIURL(f.srv.URL),
		vac.WithCredentials(f.key.ID, "wrong-secret"),
		vac.WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)

	_, err = client.QueueStats(ctx)
	var reqErr *vac.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.HTTPStatusCode)
	assert.Equal(t, helpers.ErrCodeUnauthorized, reqErr.Code)
	assert.False(t, reqErr.Retry)
}

func TestKeysViaWebCredentials(t *testing.T) {
	f := newAPIFixture(t)
	ctx := testCtx(t)

	keys, err := f.client.Keys(ctx, &vac.WebCredentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, f.key.ID, keys[0].ID)

	_, err = f.client.Keys(ctx, &vac.WebCredentials{Username: "alice", Password: "wrong"})
	var reqErr *vac.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.HTTPStatusCode)
}

func TestWebhookDelivery(t *testing.T) {
	f := newAPIFixture(t)
	ctx := testCtx(t)

	webhook, err := f.webhooks.CreateWebhook(models.Webhook{
		Owner:   f.user.ID,
		Command: "cat",
	})
	require.NoError(t, err)

	body := []byte(`{"event":"push","repo":"vac"}`)
	msgID := "msg_1"
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := helpers.GenerateHMAC(webhook.Secret, msgID+"."+ts+"."+string(body))

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/webhook/run/"+webhook.ID.String(), bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("webhook-id", msgID)
	req.Header.Set("webhook-timestamp", ts)
	req.Header.Set("webhook-signature", "v1,"+sig)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		JID int64 `json:"jid"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Positive(t, out.JID)

	// The delivery body went in as stdin; cat echoes it back out.
	job, err := f.client.Job(ctx, out.JID)
	require.NoError(t, err)
	require.NoError(t, job.Wait(ctx))
	assert.Equal(t, vac.StatusDone, job.Status)
	assert.Equal(t, string(body), job.Stdout)

	// A tampered body fails signature validation.
	req, err = http.NewRequest(http.MethodPost, f.srv.URL+"/webhook/run/"+webhook.ID.String(), bytes.NewReader([]byte("tampered")))
	require.NoError(t, err)
	req.Header.Set("webhook-id", msgID)
	req.Header.Set("webhook-timestamp", ts)
	req.Header.Set("webhook-signature", "v1,"+sig)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginAndAdminGate(t *testing.T) {
	f := newAPIFixture(t)

	login := func(username, password string) (string, int) {
		t.Helper()
		creds, err := json.Marshal(models.Credentials{Username: username, Password: password, Provider: "local"})
		require.NoError(t, err)
		resp, err := http.Post(f.srv.URL+"/login", "application/json", bytes.NewReader(creds))
		require.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", resp.StatusCode
		}
		var out struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out.Token, resp.StatusCode
	}

	getUsers := func(token string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/users", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	rootToken, status := login("root", "root-secret")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, http.StatusOK, getUsers(rootToken))

	aliceToken, status := login("alice", "hunter2")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, http.StatusForbidden, getUsers(aliceToken))

	_, status = login("root", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestQueueStatsAndInvoiceOverAPI(t *testing.T) {
	f := newAPIFixture(t)
	ctx := testCtx(t)

	jid, err := f.client.ShellSubmit(ctx, "echo done")
	require.NoError(t, err)
	job, err := f.client.Job(ctx, jid)
	require.NoError(t, err)
	require.NoError(t, job.Wait(ctx))

	stats, err := f.client.QueueStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[vac.StatusProcessing])

	today := time.Now().UTC().Format("2006-01-02")
	invoice, err := f.client.Invoice(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, today, invoice.Date)
	assert.Equal(t, int64(1), invoice.JobCount)
}
