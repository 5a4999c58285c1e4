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

type JobController struct {
	JobService    services.JobService
	AuthService   services.AuthService
	AuditService  services.AuditService
	AuditCategory string
}

func NewJobController(js services.JobService, as services.AuthService, als services.AuditService) JobController {
	return JobController{
		JobService:    js,
		AuthService:   as,
		AuditService:  als,
		AuditCategory: "jobs",
	}
}

func (jc *JobController) SetJobRoutes(rg *gin.RouterGroup, config config.Config) {
	r := rg.Group("").Use(
		middlewares.AuthenticationMiddleware(jc.AuthService, config.JWT))

	r.GET("", jc.ListJobs)
	r.GET("/queue_stats", jc.QueueStats)

	r.POST("", jc.SubmitJobs)
	r.POST("/kill", jc.KillJobs)
	r.POST("/kill_all", jc.KillAll)
}

func (jc *JobController) SetInvoiceRoutes(rg *gin.RouterGroup, config config.Config) {
	r := rg.Group("").Use(
		middlewares.AuthenticationMiddleware(jc.AuthService, config.JWT))

	r.GET("/:date", jc.GetInvoice)
}

// SubmitJobs godoc
//
//	@Summary		Submit jobs
//	@Description	Submit a batch of jobs and get their ids back in order
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			jobs	body		models.JobSubmission	true	"Jobs to submit"
//	@Success		200		{object}	map[string][]int64
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/job [post]
//	@Security		BasicAuth
func (jc *JobController) SubmitJobs(ctx *gin.Context) {
	audit := jc.AuditService.InitialiseAuditLog(ctx, "submit", jc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	var submission models.JobSubmission
	if err := ctx.ShouldBindJSON(&submission); err != nil {
		jc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}

	jids, err := jc.JobService.CreateJobs(userid, submission)
	if err != nil {
		jc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}

	audit.Status = "success"
	jc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, gin.H{"jids": jids})
}

// ListJobs godoc
//
//	@Summary		List jobs
//	@Description	List own jobs, filtered by jid, name or status
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			jid		query		[]int		false	"Job ids"
//	@Param			name	query		string		false	"Job name"
//	@Param			status	query		[]string	false	"Job statuses"
//	@Param			field	query		[]string	false	"Columns to return"
//	@Param			limit	query		int			false	"Page size"
//	@Param			before	query		int			false	"Return jobs with jid below"
//	@Param			after	query		int			false	"Return jobs with jid above"
//	@Success		200		{object}	map[string][]models.Job
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/job [get]
//	@Security		BasicAuth
func (jc *JobController) ListJobs(ctx *gin.Context) {
	audit := jc.AuditService.InitialiseAuditLog(ctx, "list", jc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	var query models.JobQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		jc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}

	jobs, err := jc.JobService.ListJobs(userid, query)
	if err != nil {
		jc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	jc.AuditService.CreateAudit(audit)

	ctx.Header("Content-range", fmt.Sprintf("%v", len(jobs)))
	if jobs == nil {
		jobs = []models.Job{}
	}
	ctx.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// KillJobs godoc
//
//	@Summary		Kill jobs
//	@Description	Kill the jobs named by the jid form values
//	@Tags			jobs
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			jid	formData	[]int	true	"Job ids"
//	@Success		200	{object}	map[string]string
//	@Failure		400	{object}	helpers.ErrorEnvelope
//	@Failure		404	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/job/kill [post]
//	@Security		BasicAuth
func (jc *JobController) KillJobs(ctx *gin.Context) {
	audit := jc.AuditService.InitialiseAuditLog(ctx, "kill", jc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	jidParams := ctx.PostFormArray("jid")
	if len(jidParams) == 0 {
		jc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, "jid is required", "")
		return
	}

	var jids []int64
	for _, param := range jidParams {
		jid, err := strconv.ParseInt(param, 10, 64)
		if err != nil {
			jc.AuditService.CreateAudit(audit)
			helpers.AbortInvalid(ctx, fmt.Sprintf("jid %q is not an integer", param), "")
			return
		}
		jids = append(jids, jid)
	}

	for _, jid := range jids {
		if err := jc.JobService.KillJob(userid, jid); err != nil {
			jc.AuditService.CreateAudit(audit)
			if errors.Is(err, services.ErrJobNotFound) {
				helpers.AbortNotFound(ctx, err.Error())
			} else {
				helpers.AbortInternal(ctx, err)
			}
			return
		}
	}

	audit.Status = "success"
	jc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// KillAll godoc
//
//	@Summary		Kill all jobs
//	@Description	Kill every unfinished job owned by the caller
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/job/kill_all [post]
//	@Security		BasicAuth
func (jc *JobController) KillAll(ctx *gin.Context) {
	audit := jc.AuditService.InitialiseAuditLog(ctx, "kill_all", jc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	if err := jc.JobService.KillAll(userid); err != nil {
		jc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	jc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// QueueStats godoc
//
//	@Summary		Queue statistics
//	@Description	Count the caller's unfinished jobs per status
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	map[string]models.QueueStats
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/job/queue_stats [get]
//	@Security		BasicAuth
func (jc *JobController) QueueStats(ctx *gin.Context) {
	audit := jc.AuditService.InitialiseAuditLog(ctx, "queue_stats", jc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	stats, err := jc.JobService.QueueStats(userid)
	if err != nil {
		jc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	jc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, gin.H{"stats": stats})
}

// GetInvoice godoc
//
//	@Summary		Get an invoice
//	@Description	Usage totals for the jobs finished on the given day
//	@Tags			invoices
//	@Accept			json
//	@Produce		json
//	@Param			date	path		string	true	"Day in YYYY-MM-DD form"
//	@Success		200		{object}	models.Invoice
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/invoice/{date} [get]
//	@Security		BasicAuth
func (jc *JobController) GetInvoice(ctx *gin.Context) {
	date := ctx.Param("date")
	audit := jc.AuditService.InitialiseAuditLog(ctx, "invoice", jc.AuditCategory, date)
	userid := ctx.MustGet("userID").(uuid.UUID)

	invoice, err := jc.JobService.Invoice(userid, date)
	if err != nil {
		jc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "expected a YYYY-MM-DD date")
		return
	}

	audit.Status = "success"
	jc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, invoice)
}
