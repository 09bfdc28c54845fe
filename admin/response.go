package admin

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"

	"staging-backend/ledger"
)

// envelope is the body of every admin response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Message: msg, Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, envelope{Error: msg})
}

// fail maps a ledger error to its status. data, when set, is returned
// alongside the error; a nil pointer is omitted.
func fail(c *gin.Context, err error, data any) {
	if v := reflect.ValueOf(data); v.Kind() == reflect.Pointer && v.IsNil() {
		data = nil
	}
	c.JSON(statusOf(err), envelope{Error: err.Error(), Data: data})
}

func statusOf(err error) int {
	var partial *ledger.PartialBatchFailure
	switch {
	case errors.As(err, &partial):
		return http.StatusMultiStatus
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
