package controllers

import (
	"fmt"
	"io/fs"
	"mime"
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

// LayerController exposes the same file surface as volumes. Layers are
// built by jobs that mount them read-write, then snapshot the result.
type LayerController struct {
	LayerService  services.LayerService
	AuthService   services.AuthService
	AuditService  services.AuditService
	AuditCategory string
}

func NewLayerController(ls services.LayerService, as services.AuthService, als services.AuditService) LayerController {
	return LayerController{
		LayerService:  ls,
		AuthService:   as,
		AuditService:  als,
		AuditCategory: "layers",
	}
}

func (lc *LayerController) SetLayerRoutes(rg *gin.RouterGroup, config config.Config) {
	r := rg.Group("").Use(
		middlewares.AuthenticationMiddleware(lc.AuthService, config.JWT))

	r.GET("", lc.ListLayers)
	r.POST("", lc.CreateLayer)

	r.GET("/:name", lc.GetFiles)
	r.PUT("/:name", lc.PutFile)
	r.DELETE("/:name", lc.DeleteLayer)

	r.PUT("/:name/mkdir", lc.Mkdir)
	r.GET("/:name/ls", lc.Ls)
	r.POST("/:name/rm", lc.Rm)
}

// ListLayers godoc
//
//	@Summary		List layers
//	@Tags			layers
//	@Accept			json
//	@Produce		json
//	@Param			name	query		[]string	false	"Layer names"
//	@Success		200		{object}	map[string][]models.Layer
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/layer [get]
//	@Security		BasicAuth
func (lc *LayerController) ListLayers(ctx *gin.Context) {
	audit := lc.AuditService.InitialiseAuditLog(ctx, "list", lc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	layers, err := lc.LayerService.ListLayers(userid, ctx.QueryArray("name"))
	if err != nil {
		lc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	lc.AuditService.CreateAudit(audit)

	ctx.Header("Content-range", fmt.Sprintf("%v", len(layers)))
	if layers == nil {
		layers = []models.Layer{}
	}
	ctx.JSON(http.StatusOK, gin.H{"layers": layers})
}

// CreateLayer godoc
//
//	@Summary		Create a layer
//	@Tags			layers
//	@Accept			json
//	@Produce		json
//	@Param			layer	body		object	true	"Layer to create"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Router			/layer [post]
//	@Security		BasicAuth
func (lc *LayerController) CreateLayer(ctx *gin.Context) {
	audit := lc.AuditService.InitialiseAuditLog(ctx, "create", lc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	var req struct {
		Layer models.Layer `json:"layer" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		lc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}
	audit.EventTarget = req.Layer.Name

	if _, err := lc.LayerService.CreateLayer(userid, req.Layer); err != nil {
		lc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}

	audit.Status = "success"
	lc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// DeleteLayer godoc
//
//	@Summary		Delete a layer
//	@Tags			layers
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string	true	"Layer name"
//	@Success		200		{object}	map[string]string
//	@Failure		404		{object}	helpers.ErrorEnvelope
//	@Router			/layer/{name} [delete]
//	@Security		BasicAuth
func (lc *LayerController) DeleteLayer(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := lc.AuditService.InitialiseAuditLog(ctx, "delete", lc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	if err := lc.LayerService.DeleteLayer(userid, name); err != nil {
		lc.AuditService.CreateAudit(audit)
		lc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	lc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// GetFiles godoc
//
//	@Summary		Fetch files from a layer
//	@Tags			layers
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string		true	"Layer name"
//	@Param			path	query		[]string	true	"Paths inside the layer"
//	@Success		200		{object}	map[string][]models.VolumeFile
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		404		{object}	helpers.ErrorEnvelope
//	@Router			/layer/{name} [get]
//	@Security		BasicAuth
func (lc *LayerController) GetFiles(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := lc.AuditService.InitialiseAuditLog(ctx, "get_files", lc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	files, err := lc.LayerService.GetFiles(userid, name, ctx.QueryArray("path"))
	if err != nil {
		lc.AuditService.CreateAudit(audit)
		lc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	lc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, gin.H{"files": files})
}

// PutFile godoc
//
//	@Summary		Upload a file to a layer
//	@Tags			layers
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			name		path		string	true	"Layer name"
//	@Param			file		formData	file	true	"File, named after its target path"
//	@Param			file_mode	formData	string	false	"File mode bits"
//	@Success		200			{object}	map[string]string
//	@Failure		400			{object}	helpers.ErrorEnvelope
//	@Failure		404			{object}	helpers.ErrorEnvelope
//	@Router			/layer/{name} [put]
//	@Security		BasicAuth
func (lc *LayerController) PutFile(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := lc.AuditService.InitialiseAuditLog(ctx, "put_file", lc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		lc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, "file is required", err.Error())
		return
	}

	// FormFile strips any directory from the filename, so the target
	// path has to come from the raw Content-Disposition header.
	target := fileHeader.Filename
	if _, params, err := mime.ParseMediaType(fileHeader.Header.Get("Content-Disposition")); err == nil {
		if filename := params["filename"]; filename != "" {
			target = filename
		}
	}

	var mode fs.FileMode
	if modeParam := ctx.PostForm("file_mode"); modeParam != "" {
		parsed, err := strconv.ParseUint(modeParam, 0, 32)
		if err != nil {
			lc.AuditService.CreateAudit(audit)
			helpers.AbortInvalid(ctx, fmt.Sprintf("file_mode %q is not a mode", modeParam), "")
			return
		}
		mode = fs.FileMode(parsed)
	}

	file, err := fileHeader.Open()
	if err != nil {
		lc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}
	defer file.Close()

	if err := lc.LayerService.PutFile(userid, name, target, mode, file); err != nil {
		lc.AuditService.CreateAudit(audit)
		lc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	lc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// Mkdir godoc
//
//	@Summary		Create a directory in a layer
//	@Tags			layers
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string	true	"Layer name"
//	@Param			path	query		string	true	"Directory path inside the layer"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		404		{object}	helpers.ErrorEnvelope
//	@Router			/layer/{name}/mkdir [put]
//	@Security		BasicAuth
func (lc *LayerController) Mkdir(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := lc.AuditService.InitialiseAuditLog(ctx, "mkdir", lc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	if err := lc.LayerService.Mkdir(userid, name, ctx.Query("path")); err != nil {
		lc.AuditService.CreateAudit(audit)
		lc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	lc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// Ls godoc
//
//	@Summary		List a directory in a layer
//	@Tags			layers
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string	true	"Layer name"
//	@Param			path	query		string	true	"Directory path inside the layer"
//	@Success		200		{object}	map[string][]models.VolumeFile
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		404		{object}	helpers.ErrorEnvelope
//	@Router			/layer/{name}/ls [get]
//	@Security		BasicAuth
func (lc *LayerController) Ls(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := lc.AuditService.InitialiseAuditLog(ctx, "ls", lc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	entries, err := lc.LayerService.Ls(userid, name, ctx.Query("path"))
	if err != nil {
		lc.AuditService.CreateAudit(audit)
		lc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	lc.AuditService.CreateAudit(audit)

	if entries == nil {
		entries = []models.VolumeFile{}
	}
	ctx.JSON(http.StatusOK, gin.H{"ls": entries})
}

// Rm godoc
//
//	@Summary		Remove a path from a layer
//	@Tags			layers
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string	true	"Layer name"
//	@Param			path	query		string	true	"Path inside the layer"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		404		{object}	helpers.ErrorEnvelope
//	@Router			/layer/{name}/rm [post]
//	@Security		BasicAuth
func (lc *LayerController) Rm(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := lc.AuditService.InitialiseAuditLog(ctx, "rm", lc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	if err := lc.LayerService.Rm(userid, name, ctx.Query("path")); err != nil {
		lc.AuditService.CreateAudit(audit)
		lc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	lc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

func (lc *LayerController) respondError(ctx *gin.Context, err error) {
	if errors.Is(err, services.ErrLayerNotFound) {
		helpers.AbortNotFound(ctx, err.Error())
		return
	}
	helpers.AbortInvalid(ctx, err.Error(), "")
}
