package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/tidywork/tidywork/internal/errors"
)

func TestWrapValidationError(t *testing.T) {
	assert.NoError(t, WrapValidationError(nil))

	wrapped := WrapValidationError(assert.AnError)
	assert.Error(t, wrapped)
	assert.True(t, apperrors.Is(wrapped, apperrors.ErrInvalidInput))
}

func TestEmail(t *testing.T) {
	assert.NoError(t, Email.Validate("ops@tidywork.example"))
	assert.Error(t, Email.Validate("not-an-email"))
	assert.Error(t, Email.Validate("missing@tld"))
}

func TestNotBlank(t *testing.T) {
	assert.NoError(t, NotBlank.Validate("value"))
	assert.Error(t, NotBlank.Validate(""))
	assert.Error(t, NotBlank.Validate("   "))
}

func TestHTTPURL(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"https url", "https://partner.example/hooks", false},
		{"http url", "http://partner.example/hooks", false},
		{"missing scheme", "partner.example/hooks", true},
		{"unsupported scheme", "ftp://partner.example/export", true},
		{"no host", "https://", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HTTPURL.Validate(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
