package services

import (
	"time"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/models"
	"github.com/multyvac/vac/worker"

	"github.com/go-errors/errors"
	uuid "github.com/satori/go.uuid"
	"gorm.io/gorm"
)

var ErrClusterNotFound = errors.New("cluster not found")

type ClusterService interface {
	ListClusters(ownerID uuid.UUID) ([]models.Cluster, error)
	GetCluster(ownerID uuid.UUID, id int64) (models.Cluster, error)
	Provision(ownerID uuid.UUID, req models.ClusterRequest) (models.Cluster, error)
	Release(ownerID uuid.UUID, id int64) error
	UpdateMaxDuration(ownerID uuid.UUID, id int64, maxDuration int) error
	ExpireClusters() error
}

type ClusterServiceImpl struct {
	db     *gorm.DB
	pool   *worker.Pool
	config config.Config
}

func NewClusterService(database *gorm.DB, pool *worker.Pool, config config.Config) ClusterService {
	return &ClusterServiceImpl{
		db:     database,
		pool:   pool,
		config: config,
	}
}

func (c *ClusterServiceImpl) ListClusters(ownerID uuid.UUID) ([]models.Cluster, error) {
	var clusters []models.Cluster

	res := c.db.Where("owner_id = ?", ownerID).Order("id").Find(&clusters)
	if res.Error != nil {
		return nil, res.Error
	}
	for i := range clusters {
		fillDuration(&clusters[i])
	}
	return clusters, nil
}

func (c *ClusterServiceImpl) GetCluster(ownerID uuid.UUID, id int64) (models.Cluster, error) {
	var cluster models.Cluster

	res := c.db.Where("owner_id = ? AND id = ?", ownerID, id).Find(&cluster)
	if res.Error != nil {
		return cluster, res.Error
	}
	if cluster.ID == 0 {
		return cluster, ErrClusterNotFound
	}
	fillDuration(&cluster)
	return cluster, nil
}

// Provision carves the requested cores out of the worker pool and
// records the cluster. Capacity is committed before the row exists, so
// a failed insert has to hand the cores back.
func (c *ClusterServiceImpl) Provision(ownerID uuid.UUID, req models.ClusterRequest) (models.Cluster, error) {
	var cluster models.Cluster

	weight, ok := c.config.Worker.CoreTypes[req.Core]
	if !ok {
		return cluster, errors.Errorf("unknown core type %q", req.Core)
	}
	if req.CoreCount < 1 {
		return cluster, errors.New("core_count must be at least 1")
	}
	if req.MaxDuration != nil && *req.MaxDuration < 1 {
		return cluster, errors.New("max_duration must be at least 1 hour")
	}

	cores := weight * req.CoreCount
	if err := c.pool.Reserve(ownerID, cores); err != nil {
		return cluster, err
	}

	now := time.Now().UTC()
	cluster = models.Cluster{
		OwnerID:       ownerID,
		State:         models.ClusterStateProvisioned,
		Core:          req.Core,
		CoreCount:     req.CoreCount,
		MaxDuration:   req.MaxDuration,
		RequestedAt:   now,
		ProvisionedAt: &now,
	}
	if res := c.db.Create(&cluster); res.Error != nil {
		c.pool.ReleaseReservation(ownerID, cores)
		return cluster, res.Error
	}
	fillDuration(&cluster)
	return cluster, nil
}

// Release returns the cluster's cores to the shared pool. Releasing a
// cluster that is already released is a no-op.
func (c *ClusterServiceImpl) Release(ownerID uuid.UUID, id int64) error {
	cluster, err := c.GetCluster(ownerID, id)
	if err != nil {
		return err
	}
	if cluster.State == models.ClusterStateReleased {
		return nil
	}
	return c.release(&cluster)
}

func (c *ClusterServiceImpl) release(cluster *models.Cluster) error {
	weight := c.config.Worker.CoreTypes[cluster.Core]
	if weight < 1 {
		weight = 1
	}
	c.pool.ReleaseReservation(cluster.OwnerID, weight*cluster.CoreCount)

	now := time.Now().UTC()
	res := c.db.Model(cluster).Updates(map[string]interface{}{
		"state":       models.ClusterStateReleased,
		"released_at": now,
	})
	return res.Error
}

func (c *ClusterServiceImpl) UpdateMaxDuration(ownerID uuid.UUID, id int64, maxDuration int) error {
	cluster, err := c.GetCluster(ownerID, id)
	if err != nil {
		return err
	}
	if cluster.State == models.ClusterStateReleased {
		return errors.Errorf("cluster %d is already released", id)
	}
	if maxDuration < 1 {
		return errors.New("max_duration must be at least 1 hour")
	}
	return c.db.Model(&cluster).Update("max_duration", maxDuration).Error
}

// ExpireClusters releases every provisioned cluster whose max_duration
// has elapsed. The dispatcher's owner calls this on a ticker.
func (c *ClusterServiceImpl) ExpireClusters() error {
	var clusters []models.Cluster

	res := c.db.Where("state = ? AND max_duration IS NOT NULL", models.ClusterStateProvisioned).
		Find(&clusters)
	if res.Error != nil {
		return res.Error
	}

	now := time.Now().UTC()
	for i := range clusters {
		cluster := &clusters[i]
		deadline := cluster.ProvisionedAt.Add(time.Duration(*cluster.MaxDuration) * time.Hour)
		if now.Before(deadline) {
			continue
		}
		if err := c.release(cluster); err != nil {
			return err
		}
	}
	return nil
}

// fillDuration computes the hours the cluster has been held. Released
// clusters stop accruing at released_at.
func fillDuration(cluster *models.Cluster) {
	if cluster.ProvisionedAt == nil {
		return
	}
	end := time.Now().UTC()
	if cluster.ReleasedAt != nil {
		end = *cluster.ReleasedAt
	}
	cluster.Duration = end.Sub(*cluster.ProvisionedAt).Hours()
}
