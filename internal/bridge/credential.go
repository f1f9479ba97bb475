package bridge

import (
	"strings"

	"github.com/turtacn/cathedral-bridge/pkg/errors"
)

const bearerPrefix = "bearer "

// Credential is the static bearer token and the orchestrator endpoint it is
// presented to.
type Credential struct {
	Token    string // "Bearer <token>"
	Endpoint string // ws:// or wss:// URL
}

// Validate checks the credential before any dial is attempted.
func (c Credential) Validate() error {
	token := strings.TrimSpace(c.Token)
	if token == "" {
		return errors.New(errors.ErrCodeCredentialInvalid, "Validate", "missing AUTH 'Bearer <token>'", nil)
	}
	if !strings.HasPrefix(strings.ToLower(token), bearerPrefix) {
		return errors.New(errors.ErrCodeCredentialInvalid, "Validate", "AUTH must start with 'Bearer '", nil)
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "Validate", "orchestrator URL is not set", nil)
	}
	return nil
}

// Personal.AI order the ending
