package credentials

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/turtacn/cathedral-bridge/internal/bridge"
	"github.com/turtacn/cathedral-bridge/internal/envstore"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
)

// File is the bridge's own .env holding AUTH and ORCH_URL for auto-connect.
type File struct {
	path string
	log  logger.Logger
}

// New returns the credentials file at path.
func New(path string) *File {
	return &File{path: path, log: logger.Log.With("component", "credentials")}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Load returns the stored values, or an empty map when the file is missing
// or unreadable.
func (f *File) Load() map[string]string {
	values, err := godotenv.Read(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Warn("Credentials file unreadable", "path", f.path, "err", err)
		}
		return map[string]string{}
	}
	return values
}

// Save merges auth and orchURL into the file. Empty arguments keep what is
// already stored. AUTH must end up set; ORCH_URL falls back to the default.
func (f *File) Save(auth, orchURL string) error {
	values := f.Load()
	if v := strings.TrimSpace(auth); v != "" {
		values[consts.KeyAuth] = v
	}
	if v := strings.TrimSpace(orchURL); v != "" {
		values[consts.KeyOrchURL] = v
	}
	if values[consts.KeyAuth] == "" {
		return errors.New(errors.ErrCodeCredentialInvalid, "Save", "please supply 'auth' Bearer token", nil)
	}
	if values[consts.KeyOrchURL] == "" {
		values[consts.KeyOrchURL] = consts.DefaultOrchURL
	}

	data, err := godotenv.Marshal(values)
	if err != nil {
		return errors.New(errors.ErrCodeStoreWrite, "Save", "encode credentials", err)
	}
	if err := envstore.WriteFileAtomic(f.path, []byte(data+"\n"), 0o600); err != nil {
		return err
	}
	f.log.Info("Credentials saved", "path", f.path, "url", values[consts.KeyOrchURL])
	return nil
}

// Resolve picks each field from the explicit arguments, then the file, then
// the fallback credential (environment or configuration).
func (f *File) Resolve(auth, orchURL string, fallback bridge.Credential) bridge.Credential {
	stored := f.Load()
	return bridge.Credential{
		Token:    first(auth, stored[consts.KeyAuth], fallback.Token),
		Endpoint: first(orchURL, stored[consts.KeyOrchURL], fallback.Endpoint, consts.DefaultOrchURL),
	}
}

func first(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Personal.AI order the ending
