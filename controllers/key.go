package controllers

import (
	"fmt"
	"net/http"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/middlewares"
	"github.com/multyvac/vac/models"
	"github.com/multyvac/vac/services"

	"github.com/gin-gonic/gin"
	"github.com/go-errors/errors"
	uuid "github.com/satori/go.uuid"
)

type KeyController struct {
	KeyService    services.KeyService
	AuthService   services.AuthService
	AuditService  services.AuditService
	AuditCategory string
}

func NewKeyController(ks services.KeyService, as services.AuthService, als services.AuditService) KeyController {
	return KeyController{
		KeyService:    ks,
		AuthService:   as,
		AuditService:  als,
		AuditCategory: "keys",
	}
}

func (kc *KeyController) SetKeyRoutes(rg *gin.RouterGroup, config config.Config) {
	r := rg.Group("").Use(
		middlewares.AuthenticationMiddleware(kc.AuthService, config.JWT))

	r.GET("", kc.ListKeys)
	r.POST("", kc.CreateKey)
	r.POST("/:id/activate", kc.ActivateKey)
	r.POST("/:id/deactivate", kc.DeactivateKey)
}

// ListKeys godoc
//
//	@Summary		List api keys
//	@Description	List own api keys, optionally restricted to the given ids
//	@Tags			keys
//	@Accept			json
//	@Produce		json
//	@Param			id	query		[]string	false	"Key ids"
//	@Success		200	{object}	map[string][]models.ApiKey
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/key [get]
//	@Security		BasicAuth
func (kc *KeyController) ListKeys(ctx *gin.Context) {
	audit := kc.AuditService.InitialiseAuditLog(ctx, "list", kc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	keys, err := kc.KeyService.ListKeys(userid, ctx.QueryArray("id"))
	if err != nil {
		kc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	kc.AuditService.CreateAudit(audit)

	ctx.Header("Content-range", fmt.Sprintf("%v", len(keys)))
	if keys == nil {
		keys = []models.ApiKey{}
	}
	ctx.JSON(http.StatusOK, gin.H{"keys": keys})
}

// CreateKey godoc
//
//	@Summary		Create an api key
//	@Description	Mint a new active api key for the caller
//	@Tags			keys
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	map[string]models.ApiKey
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/key [post]
//	@Security		BasicAuth
func (kc *KeyController) CreateKey(ctx *gin.Context) {
	audit := kc.AuditService.InitialiseAuditLog(ctx, "create", kc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	key, err := kc.KeyService.CreateKey(userid)
	if err != nil {
		kc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}
	audit.EventTarget = key.ID

	audit.Status = "success"
	kc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, gin.H{"key": key})
}

// ActivateKey godoc
//
//	@Summary		Activate an api key
//	@Description	Allow the key to authenticate again
//	@Tags			keys
//	@Accept			json
//	@Produce		json
//	@Param			id	path		string	true	"Key id"
//	@Success		200	{object}	map[string]string
//	@Failure		404	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/key/{id}/activate [post]
//	@Security		BasicAuth
func (kc *KeyController) ActivateKey(ctx *gin.Context) {
	kc.setKeyActive(ctx, "activate", true)
}

// DeactivateKey godoc
//
//	@Summary		Deactivate an api key
//	@Description	Stop the key from authenticating
//	@Tags			keys
//	@Accept			json
//	@Produce		json
//	@Param			id	path		string	true	"Key id"
//	@Success		200	{object}	map[string]string
//	@Failure		404	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/key/{id}/deactivate [post]
//	@Security		BasicAuth
func (kc *KeyController) DeactivateKey(ctx *gin.Context) {
	kc.setKeyActive(ctx, "deactivate", false)
}

func (kc *KeyController) setKeyActive(ctx *gin.Context, event string, active bool) {
	keyID := ctx.Param("id")
	audit := kc.AuditService.InitialiseAuditLog(ctx, event, kc.AuditCategory, keyID)
	userid := ctx.MustGet("userID").(uuid.UUID)

	if _, err := kc.KeyService.SetKeyActive(userid, keyID, active); err != nil {
		kc.AuditService.CreateAudit(audit)
		if errors.Is(err, services.ErrKeyNotFound) {
			helpers.AbortNotFound(ctx, err.Error())
		} else {
			helpers.AbortInternal(ctx, err)
		}
		return
	}

	audit.Status = "success"
	kc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}
