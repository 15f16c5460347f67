package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voicestudio-server/internal/platform/errors"
)

// APIResponse is the uniform envelope for every JSON endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// RespondSuccess writes a success envelope.
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}

	resp := APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	}

	c.JSON(httpStatus, resp)
}

// RespondError writes a failure envelope.
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	resp := APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	}

	c.JSON(httpStatus, resp)
}

// RespondDomainError maps an error's kind onto an HTTP status: validation
// errors are 400, missing resources 404, everything else 500.
func RespondDomainError(c *gin.Context, err error) {
	switch {
	case errors.IsKind(err, errors.KindValidation):
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
	case errors.IsKind(err, errors.KindNotFound):
		RespondError(c, http.StatusNotFound, err.Error(), nil)
	default:
		RespondError(c, http.StatusInternalServerError, err.Error(), nil)
	}
}
