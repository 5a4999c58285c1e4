package controllers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/middlewares"
	"github.com/multyvac/vac/models"
	"github.com/multyvac/vac/services"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"
)

type WebhookController struct {
	WebhookService services.WebhookService
	AuthService    services.AuthService
	AuditService   services.AuditService
	AuditCategory  string
}

func NewWebhookController(ws services.WebhookService, as services.AuthService, als services.AuditService) WebhookController {
	return WebhookController{
		WebhookService: ws,
		AuthService:    as,
		AuditService:   als,
		AuditCategory:  "webhooks",
	}
}

func (wc *WebhookController) SetWebhookRoutes(rg *gin.RouterGroup, config config.Config) {
	r := rg.Group("").Use(
		middlewares.AuthenticationMiddleware(wc.AuthService, config.JWT))

	r.GET("", wc.ListWebhooks)
	r.GET("/:id", wc.GetWebhook)
	r.POST("", wc.CreateWebhook)
	r.DELETE("/:id", wc.DeleteWebhook)

	// Deliveries authenticate with the webhook signature headers, not
	// with caller credentials.
	r.POST("/run/:id", wc.RunWebhook)
}

// ListWebhooks godoc
//
//	@Summary		List own webhooks
//	@Description	List the webhooks owned by the caller
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Success		200	{array}		models.Webhook
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/webhook [get]
//	@Security		Bearer
func (wc *WebhookController) ListWebhooks(ctx *gin.Context) {
	audit := wc.AuditService.InitialiseAuditLog(ctx, "list", wc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	webHooks, err := wc.WebhookService.ListWebhooks(userid)
	if err != nil {
		wc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	wc.AuditService.CreateAudit(audit)

	ctx.Header("Content-range", fmt.Sprintf("%v", len(webHooks)))
	if len(webHooks) == 0 {
		var arr [0]int
		ctx.JSON(http.StatusOK, arr)
		return
	}

	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.JSON(http.StatusOK, webHooks)
}

// GetWebhook godoc
//
//	@Summary		Get a webhook
//	@Description	Get information about a specific webhook
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			id	path		string	true	"Webhook ID"
//	@Success		200	{object}	models.Webhook
//	@Failure		404	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/webhook/{id} [get]
//	@Security		Bearer
func (wc *WebhookController) GetWebhook(ctx *gin.Context) {
	webhookID := ctx.Param("id")
	audit := wc.AuditService.InitialiseAuditLog(ctx, "get", wc.AuditCategory, webhookID)

	webhook, err := wc.WebhookService.GetWebhook(webhookID)
	if err != nil {
		wc.AuditService.CreateAudit(audit)
		helpers.AbortNotFound(ctx, err.Error())
		return
	}

	audit.Status = "success"
	wc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, webhook)
}

// CreateWebhook godoc
//
//	@Summary		Create a new webhook
//	@Description	Register a command to run on signed deliveries
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			webhook	body		models.Webhook	true	"New Webhook"
//	@Success		200		{object}	models.Webhook
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/webhook [post]
//	@Security		Bearer
func (wc *WebhookController) CreateWebhook(ctx *gin.Context) {
	userid := ctx.MustGet("userID").(uuid.UUID)
	audit := wc.AuditService.InitialiseAuditLog(ctx, "create", wc.AuditCategory, "*")
	var webhook models.Webhook

	if err := ctx.ShouldBindJSON(&webhook); err != nil {
		wc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}

	webhook.Owner = userid

	webhook, err := wc.WebhookService.CreateWebhook(webhook)
	if err != nil {
		wc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}
	audit.EventTarget = webhook.ID.String()

	audit.Status = "success"
	wc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, webhook)
}

// DeleteWebhook godoc
//
//	@Summary		Delete a webhook
//	@Description	Delete by webhook ID
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			id	path		string	true	"Webhook ID"
//	@Success		200	{object}	map[string]string
//	@Failure		404	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/webhook/{id} [delete]
//	@Security		Bearer
func (wc *WebhookController) DeleteWebhook(ctx *gin.Context) {
	webhookID := ctx.Param("id")
	audit := wc.AuditService.InitialiseAuditLog(ctx, "delete", wc.AuditCategory, webhookID)

	err := wc.WebhookService.DeleteWebhook(webhookID)
	if err != nil {
		wc.AuditService.CreateAudit(audit)
		helpers.AbortNotFound(ctx, err.Error())
		return
	}

	audit.Status = "success"
	wc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, gin.H{"msg": "webhook deleted successfully"})
}

// RunWebhook godoc
//
//	@Summary		Run a webhook
//	@Description	Submit the webhook's command as a job, with the delivery body as stdin
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string	true	"Webhook ID"
//	@Param			body	body		object	false	"Delivery payload"
//	@Success		200		{object}	map[string]interface{}
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		401		{object}	helpers.ErrorEnvelope
//	@Router			/webhook/run/{id} [post]
//	@Security		Signature
func (wc *WebhookController) RunWebhook(ctx *gin.Context) {
	webhookID := ctx.Param("id")
	webhook := ctx.MustGet("webhook").(models.Webhook)
	audit := wc.AuditService.InitialiseAuditLog(ctx, "run", wc.AuditCategory, webhookID)

	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		wc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, "failed to read request body", "")
		return
	}

	jid, err := wc.WebhookService.RunWebhook(webhook, body)
	if err != nil {
		wc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}

	audit.Status = "success"
	wc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, gin.H{"msg": "job submitted successfully", "jid": jid})
}
