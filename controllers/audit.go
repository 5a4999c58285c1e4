package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/middlewares"
	"github.com/multyvac/vac/services"

	"github.com/gin-gonic/gin"
)

type AuditController struct {
	AuditService services.AuditService
	AuthService  services.AuthService
}

func NewAuditController(als services.AuditService, as services.AuthService) AuditController {
	return AuditController{
		AuditService: als,
		AuthService:  as,
	}
}

func (ac *AuditController) SetAuditRoutes(rg *gin.RouterGroup, config config.Config) {
	r := rg.Group("").Use(
		middlewares.AuthenticationMiddleware(ac.AuthService, config.JWT),
		middlewares.AdminMiddleware())

	r.GET("", ac.ListAuditLogs)
	r.GET("/:id", ac.GetAuditLog)
}

// ListAuditLogs godoc
//
//	@Summary		List audit logs
//	@Description	List the most recent audit logs
//	@Tags			audit
//	@Accept			json
//	@Produce		json
//	@Param			max	query		int	false	"Maximum logs to return"
//	@Success		200	{array}		models.AuditLog
//	@Failure		403	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/audit_logs [get]
//	@Security		Bearer
func (ac *AuditController) ListAuditLogs(ctx *gin.Context) {
	var err error
	// Default limit
	max := 100
	param := ctx.Request.URL.Query().Get("max")

	if param != "" {
		max, err = strconv.Atoi(param)
		if err != nil {
			helpers.AbortInvalid(ctx, "max must be an integer", "")
			return
		}
	}

	auditLogs, err := ac.AuditService.ListAuditLogs(max)
	if err != nil {
		helpers.AbortInternal(ctx, err)
		return
	}

	ctx.Header("Content-range", fmt.Sprintf("%v", len(auditLogs)))
	if len(auditLogs) == 0 {
		var arr [0]int
		ctx.JSON(http.StatusOK, arr)
		return
	}

	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.JSON(http.StatusOK, auditLogs)
}

// GetAuditLog godoc
//
//	@Summary		Get audit log
//	@Description	Get information about a specific audit log
//	@Tags			audit
//	@Accept			json
//	@Produce		json
//	@Param			id	path		string	true	"Audit Log ID"
//	@Success		200	{object}	models.AuditLog
//	@Failure		403	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/audit_logs/{id} [get]
//	@Security		Bearer
func (ac *AuditController) GetAuditLog(ctx *gin.Context) {
	auditLogID := ctx.Param("id")
	auditLog, err := ac.AuditService.GetAuditLog(auditLogID)

	if err != nil {
		helpers.AbortInternal(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, auditLog)
}
