package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
)

func TestCredential_Validate(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
		code errors.ErrorCode
	}{
		{"valid", Credential{Token: "Bearer abc", Endpoint: "ws://h/mcp"}, 0},
		{"case insensitive", Credential{Token: "BEARER abc", Endpoint: "ws://h/mcp"}, 0},
		{"surrounding space", Credential{Token: "  Bearer abc  ", Endpoint: "ws://h/mcp"}, 0},
		{"empty token", Credential{Endpoint: "ws://h/mcp"}, errors.ErrCodeCredentialInvalid},
		{"no scheme", Credential{Token: "abc", Endpoint: "ws://h/mcp"}, errors.ErrCodeCredentialInvalid},
		{"scheme only", Credential{Token: "Bearer", Endpoint: "ws://h/mcp"}, errors.ErrCodeCredentialInvalid},
		{"no endpoint", Credential{Token: "Bearer abc"}, errors.ErrCodeConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cred.Validate()
			if tt.code == 0 {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}
