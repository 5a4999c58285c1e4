package middlewares

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/models"
	"github.com/multyvac/vac/services"

	"github.com/gin-gonic/gin"
)

// webCredentialsPrefix marks a basic auth username as a web login
// rather than an api key id. Clients use it to list their keys before
// any key is stored on the machine.
const webCredentialsPrefix = "web-"

func AuthenticationMiddleware(as services.AuthService, jwtConf config.JWTConfig) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if strings.Contains(ctx.Request.URL.String(), "/webhook/run") {
			webhookID := ctx.Param("id")
			webhookTimestamp := ctx.GetHeader("webhook-timestamp")
			webhookMsgID := ctx.GetHeader("webhook-id")
			signature := ctx.GetHeader("webhook-signature")
			if signature == "" {
				helpers.AbortUnauthorized(ctx, "webhook authentication failed")
				return
			}

			body, err := io.ReadAll(ctx.Request.Body)
			if err != nil {
				helpers.AbortInvalid(ctx, "failed to read request body", "")
				return
			}
			owner, webhook, err := as.ValidateWebhookSignature(webhookID, webhookMsgID, webhookTimestamp, signature, body)
			if err != nil {
				helpers.AbortUnauthorized(ctx, "webhook authentication failed")
				return
			}
			setIdentity(ctx, owner)
			ctx.Set("webhook", webhook)

			ctx.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		} else if id, secret, ok := ctx.Request.BasicAuth(); ok {
			var owner models.User
			var err error
			if strings.HasPrefix(id, webCredentialsPrefix) {
				owner, err = as.ValidateWebCredentials(strings.TrimPrefix(id, webCredentialsPrefix), secret)
			} else {
				owner, err = as.ValidateAPIKey(id, secret)
			}
			if err != nil {
				helpers.AbortUnauthorized(ctx, err.Error())
				return
			}
			setIdentity(ctx, owner)
		} else {
			// No api key, checking for Bearer or Cookies
			var token string
			bearer := strings.Split(ctx.GetHeader("Authorization"), "Bearer ")
			if len(bearer) > 1 {
				token = bearer[1]
			}
			cookie, err := ctx.Request.Cookie("token")
			if token == "" {
				if err != nil {
					helpers.AbortUnauthorized(ctx, "please authenticate")
					return
				}
				token = cookie.Value
			}

			claims, err := helpers.ValidateJWTToken(token, jwtConf)
			if err != nil {
				helpers.AbortUnauthorized(ctx, "invalid token")
				return
			}

			ctx.Set("userID", claims.UserID)
			ctx.Set("username", claims.Username)
			ctx.Set("provider", claims.Provider)
			ctx.Set("admin", claims.Admin)
		}
		ctx.Next()
	}
}

// AdminMiddleware guards the user and audit endpoints. It runs after
// AuthenticationMiddleware, which set the admin flag.
func AdminMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !ctx.MustGet("admin").(bool) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, helpers.ErrorEnvelope{
				Error: helpers.APIError{
					Code:    helpers.ErrCodeForbidden,
					Message: "user cannot access resource",
				},
			})
			return
		}
		ctx.Next()
	}
}

func setIdentity(ctx *gin.Context, user models.User) {
	ctx.Set("userID", user.ID)
	ctx.Set("username", user.Username)
	ctx.Set("provider", user.Provider)
	ctx.Set("admin", user.Admin)
}
