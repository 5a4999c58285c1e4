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
	uuid "github.com/satori/go.uuid"
	"golang.org/x/exp/slices"
)

type UserController struct {
	UserService   services.UserService
	AuthService   services.AuthService
	providers     []string
	AuditService  services.AuditService
	AuditCategory string
}

func NewUserController(us services.UserService, as services.AuthService, als services.AuditService, p []string) UserController {
	return UserController{
		UserService:   us,
		AuthService:   as,
		AuditService:  als,
		AuditCategory: "users",
		providers:     p,
	}
}

func (uc *UserController) SetUserRoutes(rg *gin.RouterGroup, config config.Config) {
	r := rg.Group("").Use(
		middlewares.AuthenticationMiddleware(uc.AuthService, config.JWT),
		middlewares.AdminMiddleware())

	r.GET("", uc.ListUsers)
	r.GET("/:id", uc.GetUser)
	r.POST("", uc.CreateUser)
	r.PATCH("/:id", uc.UpdateUser)
	r.PUT("/:id", uc.UpdateUser)
	r.DELETE("/:id", uc.DeleteUser)
}

// ListUsers godoc
//
//	@Summary		List all users
//	@Description	List every account known to the service
//	@Tags			users
//	@Accept			json
//	@Produce		json
//	@Success		200	{array}		models.User
//	@Failure		403	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/users [get]
//	@Security		Bearer
func (uc *UserController) ListUsers(ctx *gin.Context) {
	audit := uc.AuditService.InitialiseAuditLog(ctx, "list", uc.AuditCategory, "*")
	users, err := uc.UserService.ListUsers()

	if err != nil {
		uc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	uc.AuditService.CreateAudit(audit)

	for i := range users {
		users[i].Password = ""
	}

	ctx.Header("Content-range", fmt.Sprintf("%v", len(users)))
	if len(users) == 0 {
		var arr [0]int
		ctx.JSON(http.StatusOK, arr)
		return
	}

	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.JSON(http.StatusOK, users)
}

// GetUser godoc
//
//	@Summary		Get a user
//	@Description	Get information about a specific user
//	@Tags			users
//	@Accept			json
//	@Produce		json
//	@Param			id	path		string	true	"User ID"
//	@Success		200	{object}	models.User
//	@Failure		403	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/users/{id} [get]
//	@Security		Bearer
func (uc *UserController) GetUser(ctx *gin.Context) {
	userID := ctx.Param("id")
	audit := uc.AuditService.InitialiseAuditLog(ctx, "get", uc.AuditCategory, userID)
	user, err := uc.UserService.GetUser(userID)

	if err != nil {
		uc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	uc.AuditService.CreateAudit(audit)

	user.Password = ""
	ctx.JSON(http.StatusOK, user)
}

// CreateUser godoc
//
//	@Summary		Create a new user
//	@Description	Add an account
//	@Tags			users
//	@Accept			json
//	@Produce		json
//	@Param			user	body		models.User	true	"New user"
//	@Success		200		{object}	models.User
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		403		{object}	helpers.ErrorEnvelope
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/users [post]
//	@Security		Bearer
func (uc *UserController) CreateUser(ctx *gin.Context) {
	audit := uc.AuditService.InitialiseAuditLog(ctx, "create", uc.AuditCategory, "*")
	var user models.User

	if err := ctx.ShouldBindJSON(&user); err != nil {
		uc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}
	audit.EventTarget = user.Username

	if !slices.Contains(uc.providers, user.Provider) {
		uc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, "provider does not exist", "")
		return
	}

	user, err := uc.UserService.CreateUser(user)
	if err != nil {
		uc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	uc.AuditService.CreateAudit(audit)

	user.Password = ""
	ctx.JSON(http.StatusOK, user)
}

// UpdateUser godoc
//
//	@Summary		Update a user
//	@Description	Update an account's password or admin flag
//	@Tags			users
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"User ID"
//	@Param			user	body		models.User	true	"Update user"
//	@Success		200		{object}	models.User
//	@Failure		400		{object}	helpers.ErrorEnvelope
//	@Failure		403		{object}	helpers.ErrorEnvelope
//	@Failure		500		{object}	helpers.ErrorEnvelope
//	@Router			/users/{id} [patch]
//	@Security		Bearer
func (uc *UserController) UpdateUser(ctx *gin.Context) {
	userID := ctx.Param("id")
	audit := uc.AuditService.InitialiseAuditLog(ctx, "update", uc.AuditCategory, userID)
	var user models.User
	var err error

	if err := ctx.ShouldBindJSON(&user); err != nil {
		uc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}

	if !slices.Contains(uc.providers, user.Provider) {
		uc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, "provider does not exist", "")
		return
	}

	user.ID, err = uuid.FromString(userID)
	if err != nil {
		uc.AuditService.CreateAudit(audit)
		helpers.AbortInvalid(ctx, err.Error(), "")
		return
	}

	user, err = uc.UserService.UpdateUser(user)
	if err != nil {
		uc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	uc.AuditService.CreateAudit(audit)

	user.Password = ""
	ctx.JSON(http.StatusOK, user)
}

// DeleteUser godoc
//
//	@Summary		Delete a user
//	@Description	Delete by user ID
//	@Tags			users
//	@Accept			json
//	@Produce		json
//	@Param			id	path		string	true	"User ID"
//	@Success		200	{object}	map[string]string
//	@Failure		403	{object}	helpers.ErrorEnvelope
//	@Failure		500	{object}	helpers.ErrorEnvelope
//	@Router			/users/{id} [delete]
//	@Security		Bearer
func (uc *UserController) DeleteUser(ctx *gin.Context) {
	userID := ctx.Param("id")
	audit := uc.AuditService.InitialiseAuditLog(ctx, "delete", uc.AuditCategory, userID)

	err := uc.UserService.DeleteUser(userID)
	if err != nil {
		uc.AuditService.CreateAudit(audit)
		helpers.AbortInternal(ctx, err)
		return
	}

	audit.Status = "success"
	uc.AuditService.CreateAudit(audit)
	ctx.JSON(http.StatusOK, gin.H{"msg": "user deleted successfully"})
}
