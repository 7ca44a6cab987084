package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil error", nil, ""},
		{"domain error", &Error{Code: ENOTFOUND}, ENOTFOUND},
		{"wrapped domain error", fmt.Errorf("outer: %w", &Error{Code: ECONFLICT}), ECONFLICT},
		{"nested domain error takes outer code", &Error{Code: EPROVIDER, Err: &Error{Code: EINVALID}}, EPROVIDER},
		{"plain error", errors.New("boom"), EINTERNAL},
		{"sentinel", ErrPlanNotFound, ENOTFOUND},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestErrorMessageHidesInternals(t *testing.T) {
	internal := &Error{Code: EINTERNAL, Message: "pg: connection refused at 10.0.0.5"}
	assert.NotContains(t, ErrorMessage(internal), "10.0.0.5")

	config := &Error{Code: ECONFIG, Message: "MP_CLIENT_SECRET missing"}
	assert.NotContains(t, ErrorMessage(config), "MP_CLIENT_SECRET")

	visible := &Error{Code: EINVALID, Message: "price must be positive"}
	assert.Equal(t, "price must be positive", ErrorMessage(visible))
}

func TestIsCode(t *testing.T) {
	err := WrapError(errors.New("timeout"), EPROVIDER, "mercadopago.get_payment", "provider call failed")

	assert.True(t, IsCode(err, EPROVIDER))
	assert.False(t, IsCode(err, ENOTFOUND))
	assert.False(t, IsCode(nil, EPROVIDER))
}

func TestWrapPreservesChain(t *testing.T) {
	root := errors.New("root cause")
	wrapped := WrapError(root, EINTERNAL, "op", "something failed")

	assert.True(t, errors.Is(wrapped, root))
}

func TestErrorString(t *testing.T) {
	err := &Error{Code: ENOTFOUND, Op: "billing.get_plan", Message: "Plan not found"}
	s := err.Error()
	assert.Contains(t, s, "billing.get_plan")
	assert.Contains(t, s, "Plan not found")
}
