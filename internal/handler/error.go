package handler

import (
	"net/http"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/labstack/echo/v4"
)

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EWEBHOOK:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests
	case domain.EPROVIDER:
		return http.StatusBadGateway
	case domain.ECONFIG:
		return http.StatusInternalServerError
	case domain.EINTERNAL:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// ErrorResponse writes a JSON error envelope derived from a domain error.
// Internal and config errors hide their details from the client.
func ErrorResponse(c echo.Context, err error) error {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	return c.JSON(status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: domain.ErrorMessage(err),
	}})
}
