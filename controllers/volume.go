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

type VolumeController struct {
	VolumeService services.VolumeService
	AuthService   services.AuthService
	AuditService  services.AuditService
	AuditCategory string
}

func NewVolumeController(vs services.VolumeService, as services.AuthService, als services.AuditService) VolumeController {
	return VolumeController{
		VolumeService: vs,
		AuthService:   as,
		AuditService:  als,
		AuditCategory: "volumes",
	}
}

func (vc *VolumeController) SetVolumeRoutes(rg *gin.RouterGroup, config config.Config) {
	r := rg.Group("").Use(
		middlewares.AuthenticationMiddleware(vc.AuthService, config.JWT))

	r.GET("", vc.ListVolumes)
	r.POST("", vc.CreateVolume)

	r.GET("/:name", vc.GetFiles)
	r.PUT("/:name", vc.PutFile)
	r.DELETE("/:name", vc.DeleteVolume)

	r.PUT("/:name/mkdir", vc.Mkdir)
	r.GET("/:name/ls", vc.Ls)
	r.POST("/:name/rm", vc.Rm)
}

// ListVolumes godoc
//
//	@Summary		List volumes
//	@Description	List own volumes, optionally restricted to the given names
//	@Tags			volumes
//	@Accept			json
//	@Produce		json
//	@Param			name	query		[]string	false	"Volume names"
//	@Success		200		{object}	map[string][]models.Volume
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/volume [get]
//	@Security		BasicAuth
func (vc *VolumeController) ListVolumes(ctx *gin.Context) {
	audit := vc.AuditService.InitialiseAuditLog(ctx, "list", vc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	volumes, err := vc.VolumeService.ListVolumes(userid, ctx.QueryArray("name"))
	if err != nil {
		vc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	vc.AuditService.CreateAudit(audit)

	ctx.Header("Content-range", fmt.Sprintf("%v", len(volumes)))
	if volumes == nil {
		volumes = []models.Volume{}
	}
	ctx.JSON(http.StatusOK, gin.H{"volumes": volumes})
}

// CreateVolume godoc
//
//	@Summary		Create a volume
//	@Description	Create an empty volume with the given name and mount path
//	@Tags			volumes
//	@Accept			json
//	@Produce		json
//	@Param			volume	body		object	true	"Volume to create"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/volume [post]
//	@Security		BasicAuth
func (vc *VolumeController) CreateVolume(ctx *gin.Context) {
	audit := vc.AuditService.InitialiseAuditLog(ctx, "create", vc.AuditCategory, "*")
	userid := ctx.MustGet("userID").(uuid.UUID)

	var req struct {
		Volume models.Volume `json:"volume" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		vc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}
	audit.EventTarget = req.Volume.Name

	if _, err := vc.VolumeService.CreateVolume(userid, req.Volume); err != nil {
		vc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}

	audit.Status = "success"
	vc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// DeleteVolume godoc
//
//	@Summary		Delete a volume
//	@Description	Delete the volume and every file in it
//	@Tags			volumes
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string	true	"Volume name"
//	@Success		200		{object}	map[string]string
//	@Failure		404		{object}	helpers.ErrorEnvelope
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/volume/{name} [delete]
//	@Security		BasicAuth
func (vc *VolumeController) DeleteVolume(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := vc.AuditService.InitialiseAuditLog(ctx, "delete", vc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	if err := vc.VolumeService.DeleteVolume(userid, name); err != nil {
		vc.AuditService.CreateAudit(audit)
		vc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	vc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// GetFiles godoc
//
//	@Summary		Fetch files
//	@Description	Fetch the contents of the files named by the path params
//	@Tags			volumes
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string		true	"Volume name"
//	@Param			path	query		[]string	true	"Paths inside the volume"
//	@Success		200		{object}	map[string][]models.VolumeFile
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		404		{object}	helpers.ErrorEnvelope
//	@Router			/volume/{name} [get]
//	@Security		BasicAuth
func (vc *VolumeController) GetFiles(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := vc.AuditService.InitialiseAuditLog(ctx, "get_files", vc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	files, err := vc.VolumeService.GetFiles(userid, name, ctx.QueryArray("path"))
	if err != nil {
		vc.AuditService.CreateAudit(audit)
		vc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	vc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, gin.H{"files": files})
}

// PutFile godoc
//
//	@Summary		Upload a file
//	@Description	Write the uploaded file at the path given by its filename
//	@Tags			volumes
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			name		path		string	true	"Volume name"
//	@Param			file		formData	file	true	"File, named after its target path"
//	@Param			file_mode	formData	string	false	"File mode bits"
//	@Success		200			{object}	map[string]string
//	@Failure		400			{object}	helpers.ErrorEnvelope
//	@Failure		404			{object}	helpers.ErrorEnvelope
//	@Router			/volume/{name} [put]
//	@Security		BasicAuth
func (vc *VolumeController) PutFile(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := vc.AuditService.InitialiseAuditLog(ctx, "put_file", vc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		vc.AuditService.CreateAudit(audit)
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
			vc.AuditService.CreateAudit(audit)
			helpers.AbortInvalid(ctx, fmt.Sprintf("file_mode %q is not a mode", modeParam), "")
			return
		}
		mode = fs.FileMode(parsed)
	}

	file, err := fileHeader.Open()
	if err != nil {
		vc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}
	defer file.Close()

	if err := vc.VolumeService.PutFile(userid, name, target, mode, file); err != nil {
		vc.AuditService.CreateAudit(audit)
		vc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	vc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// Mkdir godoc
//
//	@Summary		Create a directory
//	@Description	Create the directory and any missing parents
//	@Tags			volumes
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string	true	"Volume name"
//	@Param			path	query		string	true	"Directory path inside the volume"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		404		{object}	helpers.ErrorEnvelope
//	@Router			/volume/{name}/mkdir [put]
//	@Security		BasicAuth
func (vc *VolumeController) Mkdir(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := vc.AuditService.InitialiseAuditLog(ctx, "mkdir", vc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	if err := vc.VolumeService.Mkdir(userid, name, ctx.Query("path")); err != nil {
		vc.AuditService.CreateAudit(audit)
		vc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	vc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// Ls godoc
//
//	@Summary		List a directory
//	@Description	List the entries of a directory inside the volume
//	@Tags			volumes
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string	true	"Volume name"
//	@Param			path	query		string	true	"Directory path inside the volume"
//	@Success		200		{object}	map[string][]models.VolumeFile
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		404		{object}	helpers.ErrorEnvelope
//	@Router			/volume/{name}/ls [get]
//	@Security		BasicAuth
func (vc *VolumeController) Ls(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := vc.AuditService.InitialiseAuditLog(ctx, "ls", vc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	entries, err := vc.VolumeService.Ls(userid, name, ctx.Query("path"))
	if err != nil {
		vc.AuditService.CreateAudit(audit)
		vc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	vc.AuditService.CreateAudit(audit)

	if entries == nil {
		entries = []models.VolumeFile{}
	}
	ctx.JSON(http.StatusOK, gin.H{"ls": entries})
}

// Rm godoc
//
//	@Summary		Remove a path
//	@Description	Remove the file or directory at the given path
//	@Tags			volumes
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string	true	"Volume name"
//	@Param			path	query		string	true	"Path inside the volume"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		404		{object}	helpers.ErrorEnvelope
//	@Router			/volume/{name}/rm [post]
//	@Security		BasicAuth
func (vc *VolumeController) Rm(ctx *gin.Context) {
	name := ctx.Param("name")
	audit := vc.AuditService.InitialiseAuditLog(ctx, "rm", vc.AuditCategory, name)
	userid := ctx.MustGet("userID").(uuid.UUID)

	if err := vc.VolumeService.Rm(userid, name, ctx.Query("path")); err != nil {
		vc.AuditService.CreateAudit(audit)
		vc.respondError(ctx, err)
		return
	}

	audit.Status = "success"
	vc.AuditService.CreateAudit(audit)
	helpers.StatusOK(ctx)
}

// respondError maps service failures onto the error envelope. A missing
// volume is the only not found case; path level errors read as bad
// requests.
func (vc *VolumeController) respondError(ctx *gin.Context, err error) {
	if errors.Is(err, services.ErrVolumeNotFound) {
		helpers.AbortNotFound(ctx, err.Error())
		return
	}
	helpers.AbortInvalid(ctx, err.Error(), "")
}
