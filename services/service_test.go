package services

import (
	"path/filepath"
	"testing"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/models"
	"github.com/multyvac/vac/worker"

	"github.com/glebarez/sqlite"
	uuid "github.com/satori/go.uuid"
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
	require.NoError(t, db.AutoMigrate(
		&models.AuditLog{},
		&models.User{},
		&models.ApiKey{},
		&models.Job{},
		&models.Volume{},
		&models.Layer{},
		&models.Cluster{},
		&models.Webhook{},
	))
	return db
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Environment: "test",
		RootSecret:  "root-secret",
		DataDir:     t.TempDir(),
		JWT: config.JWTConfig{
			Key:           []byte("jwt-test-key"),
			ExpirySeconds: 3600,
		},
		Worker: config.WorkerConfig{
			Executor:     "local",
			TotalCores:   8,
			CoreTypes:    map[string]int{"c1": 1, "c2": 2},
			BootstrapCmd: "vac-bootstrap",
			MaxOutputKB:  64,
			PollInterval: 1,
		},
	}
}

// testPool builds an idle pool. Kill, Wake and the reservation calls
// work without the dispatch loop running.
func testPool(t *testing.T, db *gorm.DB, cfg config.Config) *worker.Pool {
	t.Helper()
	runner := &worker.LocalRunner{
		DataDir:      cfg.DataDir,
		BootstrapCmd: cfg.Worker.BootstrapCmd,
		MaxOutput:    cfg.Worker.MaxOutputKB * 1024,
	}
	return worker.NewPool(db, runner, cfg.Worker, cfg.DataDir)
}

func seedUser(t *testing.T, db *gorm.DB, username string) models.User {
	t.Helper()
	user := models.User{
		ID:       uuid.NewV4(),
		Username: username,
		Provider: "local",
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

// testFixture bundles the stores a service test needs.
type testFixture struct {
	db     *gorm.DB
	pool   *worker.Pool
	config config.Config
	user   models.User
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	db := testDB(t)
	cfg := testConfig(t)
	return &testFixture{
		db:     db,
		pool:   testPool(t, db, cfg),
		config: cfg,
		user:   seedUser(t, db, "alice"),
	}
}
