package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/middlewares"
	"github.com/multyvac/vac/models"
	"github.com/multyvac/vac/services"

	"github.com/gin-gonic/gin"
	"github.com/go-errors/errors"
	uuid "github.com/satori/go.uuid"
)

type ClusterController struct {
	ClusterService services.ClusterService
	AuthService    services.AuthService
	AuditService   services.AuditService
	AuditCategory  string
}

func NewClusterController(cs services.ClusterService, as services.AuthService, als services.AuditService) ClusterController {
	return ClusterController{
		ClusterService: cs,
		AuthService:    as,
		AuditService:   als,
		AuditCategory:  "clusters",
	}
}

func (cc *ClusterController) SetClusterRoutes(rg *gin.RouterGroup, config config.Config) {
	r := rg.Group("").Use(
		middlewares.AuthenticationMiddleware(cc.AuthService, config.JWT))

	r.GET("", cc.ListClusters)
	r.POST("", cc.CreateCluster)
	r.GET("/:id", cc.GetCluster)
	r.POST("/:id/release", cc.ReleaseCluster)
	r.PATCH("/:id/update_max_duration", cc.UpdateMaxDuration)
}

// ListClusters godoc
//
//	@Summary		List clusters
//	@Description	List own clusters, past and present
//	@Tags			clusters
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	map[string][]models.Cluster
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/cluster [get]
//	@Security		BasicAuth
func (cc *ClusterController) ListClusters(ctx *gin.Context) {
	audit := cc.AuditService.InitialiseAuditLog(ctx, "list", cc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	clusters, err := cc.ClusterService.ListClusters(userid)
	if err != nil {
		cc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	cc.AuditService.CreateAudit(audit)

	ctx.Header("Content-range", fmt.Sprintf("%v", len(clusters)))
	if clusters == nil {
		clusters = []models.Cluster{}
	}
	ctx.JSON(http.StatusOK, gin.H{"clusters": clusters})
}

// CreateCluster godoc
//
//	@Summary		Request a cluster
//	@Description	Reserve dedicated cores and get the cluster id back
//	@Tags			clusters
//	@Accept			json
//	@Produce		json
//	@Param			cluster	body		object	true	"Cluster to provision"
//	@Success		200		{object}	map[string]int64
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Router			/cluster [post]
//	@Security		BasicAuth
func (cc *ClusterController) CreateCluster(ctx *gin.Context) {
	audit := cc.AuditService.InitialiseAuditLog(ctx, "create", cc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	var req struct {
		Cluster models.ClusterRequest `json:"cluster" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		cc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}

	cluster, err := cc.ClusterService.Provision(userid, req.Cluster)
	if err != nil {
		cc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}
	audit.EventTarget = strconv.FormatInt(cluster.ID, 10)

	audit.Status = "success"
	cc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, gin.H{"id": cluster.ID})
}

// GetCluster godoc
//
//	@Summary		Get a cluster
//	@Tags			clusters
//	@Accept			json
//	@Produce		json
//	@Param			id	path		int	true	"Cluster id"
//	@Success		200	{object}	map[string]models.Cluster
//	@Failure		404	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/cluster/{id} [get]
//	@Security		BasicAuth
func (cc *ClusterController) GetCluster(ctx *gin.Context) {
	audit := cc.AuditService.InitialiseAuditLog(ctx, "get", cc.AuditCategory, ctx.Param("id"))
	userid := ctx.MustGet("userID").(uuid.UUID)

	id, err := cc.clusterID(ctx)
	if err != nil {
		cc.AuditService.CreateAudit(audit)
		return
	}

	cluster, err := cc.ClusterService.GetCluster(userid, id)
	if err != nil {
		cc.AuditService.CreateAudit(audit)
		cc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	cc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, gin.H{"cluster": cluster})
}

// ReleaseCluster godoc
//
//	@Summary		Release a cluster
//	@Description	Return the cluster's cores to the shared pool
//	@Tags			clusters
//	@Accept			json
//	@Produce		json
//	@Param			id	path		int	true	"Cluster id"
//	@Success		200	{object}	map[string]string
//	@Failure		404	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/cluster/{id}/release [post]
//	@Security		BasicAuth
func (cc *ClusterController) ReleaseCluster(ctx *gin.Context) {
	audit := cc.AuditService.InitialiseAuditLog(ctx, "release", cc.AuditCategory, ctx.Param("id"))
	userid := ctx.MustGet("userID").(uuid.UUID)

	id, err := cc.clusterID(ctx)
	if err != nil {
		cc.AuditService.CreateAudit(audit)
		return
	}

	if err := cc.ClusterService.Release(userid, id); err != nil {
		cc.AuditService.CreateAudit(audit)
		cc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	cc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// UpdateMaxDuration godoc
//
//	@Summary		Update a cluster's max duration
//	@Description	Move the automatic release deadline of the cluster
//	@Tags			clusters
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			id				path		int	true	"Cluster id"
//	@Param			max_duration	formData	int	true	"New duration in hours"
//	@Success		200				{object}	map[string]string
//	@Failure		400				{object}	helpers.ErrorEnvelope
//	@Failure		404				{object}	helpers.ErrorEnvelope
//	@Router			/cluster/{id}/update_max_duration [patch]
//	@Security		BasicAuth
func (cc *ClusterController) UpdateMaxDuration(ctx *gin.Context) {
	audit := cc.AuditService.InitialiseAuditLog(ctx, "update_max_duration", cc.AuditCategory, ctx.Param("id"))
	userid := ctx.MustGet("userID").(uuid.UUID)

	id, err := cc.clusterID(ctx)
	if err != nil {
		cc.AuditService.CreateAudit(audit)
		return
	}

	maxDuration, err := strconv.Atoi(ctx.PostForm("max_duration"))
	if err != nil {
		cc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, "max_duration must be a number of hours", "")
		return
	}

	if err := cc.ClusterService.UpdateMaxDuration(userid, id, maxDuration); err != nil {
		cc.AuditService.CreateAudit(audit)
		cc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	cc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// clusterID parses the id path param and aborts the request when it is
// not a number.
func (cc *ClusterController) clusterID(ctx *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		helpers.AbortInvalid(ctx, fmt.Sprintf("cluster id %q is not an integer", ctx.Param("id")), "")
	}
	return id, err
}

func (cc *ClusterController) respondError(ctx *gin.Context, err error) {
	if errors.Is(err, services.ErrClusterNotFound) {
		helpers.AbortNotFound(ctx, err.Error())
		return
	}
	helpers.AbortInvalid(ctx, err.Error(), "")
}
