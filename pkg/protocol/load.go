package protocol

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads the YAML config at path (a missing file yields defaults),
// overlays CATHEDRAL_* environment variables and fills remaining defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	// 1. File
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, errors.New(errors.ErrCodeConfigInvalid, "LoadConfig", "parse "+path, err)
			}
		case !os.IsNotExist(err):
			return nil, errors.New(errors.ErrCodeConfigInvalid, "LoadConfig", "read "+path, err)
		}
	}

	// 2. Environment overrides
	k := koanf.New(".")
	if err := k.Load(env.Provider(consts.EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "LoadConfig", "load environment", err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "LoadConfig", "apply environment", err)
	}

	// 3. Defaults
	cfg.applyDefaults()
	return &cfg, nil
}

// envKey maps CATHEDRAL_MPC_TOKEN and CATHEDRAL_MPC_URL onto the bridge
// credential and CATHEDRAL_<SECTION>__<KEY> onto section.key.
func envKey(s string) string {
	switch s {
	case consts.EnvToken:
		return "bridge.auth"
	case consts.EnvURL:
		return "bridge.orch_url"
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, consts.EnvPrefix)), "__", ".")
}

func (c *Config) applyDefaults() {
	c.Bridge.OrchURL = strings.TrimSpace(c.Bridge.OrchURL)
	c.Bridge.Auth = strings.TrimSpace(c.Bridge.Auth)
	if c.Bridge.OrchURL == "" {
		c.Bridge.OrchURL = consts.DefaultOrchURL
	}
	if c.Bridge.WorkspaceID == "" {
		c.Bridge.WorkspaceID = consts.DefaultWorkspaceID
	}
	if c.Bridge.Client == "" {
		c.Bridge.Client = consts.DefaultClientName
	}
	if c.Bridge.ClientVersion == "" {
		c.Bridge.ClientVersion = consts.DefaultClientVersion
	}
	if c.Bridge.CredentialsFile == "" {
		c.Bridge.CredentialsFile = filepath.Join(stateDir(), ".env")
	}
	if c.Store.StorageDir == "" {
		c.Store.StorageDir = DefaultStorageDir()
	}
	if c.Store.EnvPath == "" {
		c.Store.EnvPath = filepath.Join(c.Store.StorageDir, ".env")
	}
	if c.Control.SocketPath == "" {
		c.Control.SocketPath = filepath.Join(stateDir(), consts.DefaultSocketName)
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
}

// DefaultStorageDir is the AnythingLLM desktop storage directory for this OS.
func DefaultStorageDir() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, "anythingllm-desktop", "storage")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "anythingllm-desktop", "storage")
	}
	return filepath.Join(home, ".config", "anythingllm-desktop", "storage")
}

func stateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cathedral-bridge")
	}
	return filepath.Join(os.TempDir(), "cathedral-bridge")
}

// Duration parses s, falling back to def when s is empty, invalid or not positive.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Personal.AI order the ending
