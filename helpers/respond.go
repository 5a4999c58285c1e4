package helpers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// API error codes carried in the error envelope.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeForbidden      = "forbidden"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInternal       = "internal"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
	Retry   bool   `json:"retry"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// AbortWithError writes the error envelope clients expect. Retry is
// set on server-side and rate-limit statuses so well-behaved clients
// back off and try again.
func AbortWithError(ctx *gin.Context, status int, code string, message string, hint string) {
	ctx.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Code:    code,
			Message: message,
			Hint:    hint,
			Retry:   status >= http.StatusInternalServerError || status == http.StatusTooManyRequests,
		},
	})
}

func AbortInvalid(ctx *gin.Context, message string, hint string) {
	AbortWithError(ctx, http.StatusBadRequest, ErrCodeInvalidRequest, message, hint)
}

func AbortUnauthorized(ctx *gin.Context, message string) {
	AbortWithError(ctx, http.StatusUnauthorized, ErrCodeUnauthorized, message, "")
}

func AbortNotFound(ctx *gin.Context, message string) {
	AbortWithError(ctx, http.StatusNotFound, ErrCodeNotFound, message, "")
}

func AbortInternal(ctx *gin.Context, err error) {
	log.Println(err)
	AbortWithError(ctx, http.StatusInternalServerError, ErrCodeInternal, err.Error(), "")
}

// StatusOK is the mutation acknowledgement body.
func StatusOK(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}
