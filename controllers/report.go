package controllers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/middlewares"
	"github.com/multyvac/vac/models"
	"github.com/multyvac/vac/services"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"
)

// ReportController receives diagnostics from clients. Install reports
// land in the audit trail, client logs on disk for support to inspect.
type ReportController struct {
	AuthService   services.AuthService
	AuditService  services.AuditService
	AuditCategory string
	dataDir       string
}

func NewReportController(as services.AuthService, als services.AuditService, dataDir string) ReportController {
	return ReportController{
		AuthService:   as,
		AuditService:  als,
		AuditCategory: "reports",
		dataDir:       dataDir,
	}
}

func (rc *ReportController) SetReportRoutes(rg *gin.RouterGroup, config config.Config) {
	r := rg.Group("").Use(
		middlewares.AuthenticationMiddleware(rc.AuthService, config.JWT))

	r.POST("/install/", rc.ReportInstall)
	r.POST("/client_log/", rc.ReportClientLog)
}

// ReportInstall godoc
//
//	@Summary		Report an install
//	@Description	Record that the client was installed on a new machine
//	@Tags			reports
//	@Accept			x-www-form-urlencoded
//	@Produce		json
//	@Param			hostname	formData	string	false	"Machine hostname"
//	@Param			platform	formData	string	false	"OS and version"
//	@Param			processor	formData	string	false	"Processor description"
//	@Param			language	formData	string	false	"Client language"
//	@Success		200			{object}	map[string]string
//	@Failure		400			{object}	helpers.ErrorEnvelope
//	@Router			/report/install/ [post]
//	@Security		BasicAuth
func (rc *ReportController) ReportInstall(ctx *gin.Context) {
	audit := rc.AuditService.InitialiseAuditLog(ctx, "install", rc.AuditCategory, "*")

	var report models.InstallReport
	if err := ctx.ShouldBind(&report); err != nil {
		rc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}
	if report.Hostname != "" {
		audit.EventTarget = report.Hostname
	}

	audit.Status = "success"
	rc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// ReportClientLog godoc
//
//	@Summary		Upload a client log
//	@Description	Store the client's log file for support
//	@Tags			reports
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Log file"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/report/client_log/ [post]
//	@Security		BasicAuth
func (rc *ReportController) ReportClientLog(ctx *gin.Context) {
	audit := rc.AuditService.InitialiseAuditLog(ctx, "client_log", rc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		rc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, "file is required", err.Error())
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		rc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}
	defer file.Close()

	dir := filepath.Join(rc.dataDir, "client_logs", userid.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		rc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	name := fmt.Sprintf("%d.log", time.Now().UnixNano())
	target, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		rc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}
	defer target.Close()

	if _, err := io.Copy(target, file); err != nil {
		rc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}
	audit.EventTarget = name

	audit.Status = "success"
	rc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}
