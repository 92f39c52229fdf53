package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addressBody struct {
	Line1 string `json:"line1" validate:"required"`
	State string `json:"state" validate:"required,len=2,alpha"`
}

type checkoutBody struct {
	AddressID string       `json:"address_id" validate:"omitempty,uuid"`
	Address   *addressBody `json:"address" validate:"required_without=AddressID,omitempty"`
	Method    string       `json:"payment_method" validate:"required,oneof=card wallet"`
	Quantity  int          `json:"quantity" validate:"gte=0,lte=100"`
}

func TestValidate_Success(t *testing.T) {
	err := Validate(checkoutBody{
		Address: &addressBody{Line1: "1 Main St", State: "CA"},
		Method:  "card",
	})
	assert.NoError(t, err)
}

func TestValidate_FieldsUseJSONNames(t *testing.T) {
	err := Validate(checkoutBody{
		Address: &addressBody{Line1: "1 Main St", State: "California"},
		Method:  "cheque",
	})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "must be exactly 2 characters", fields["address.state"])
	assert.Equal(t, "must be one of: card wallet", fields["payment_method"])
}

func TestValidate_RequiredWithout(t *testing.T) {
	err := Validate(checkoutBody{Method: "card"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields(), "address")
	assert.Contains(t, err.Error(), "field 'address' is required when")
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"address_id":"6f1c2a9e-4a55-4d7e-9c38-0b7a4d5c1e11","payment_method":"wallet"}`, ""},
		{"malformed", `{"payment_method":`, "decode request body"},
		{"unknown field", `{"payment_method":"card","address_id":"6f1c2a9e-4a55-4d7e-9c38-0b7a4d5c1e11","extra":1}`, "unknown field"},
		{"trailing data", `{"payment_method":"card","address_id":"6f1c2a9e-4a55-4d7e-9c38-0b7a4d5c1e11"} {}`, "unexpected data"},
		{"invalid", `{"payment_method":"card","address_id":"nope"}`, "must be a valid UUID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst checkoutBody
			err := DecodeAndValidate(req, &dst)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
