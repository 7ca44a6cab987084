package handler

import (
	"encoding/json"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// RequestValidator adapts go-playground/validator to echo's Validator
// interface. Validation failures surface as EINVALID domain errors so the
// error envelope stays uniform.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates the validator.
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate implements echo.Validator.
func (v *RequestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return domain.WrapError(err, domain.EINVALID, "handler.validate", err.Error())
	}
	return nil
}

// unmarshalAndValidate decodes an already-read body and runs struct
// validation. Handlers that need the raw bytes for idempotency hashing cannot
// use echo's Bind directly.
func unmarshalAndValidate(c echo.Context, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return domain.Invalid("handler.decode", "invalid JSON body")
	}
	return c.Validate(out)
}
