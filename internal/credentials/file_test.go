package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/cathedral-bridge/internal/bridge"
	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
)

func newFile(t *testing.T) *File {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "nested", ".env"))
}

func TestFile_LoadMissing(t *testing.T) {
	f := newFile(t)
	assert.Empty(t, f.Load())
}

func TestFile_SaveAndLoad(t *testing.T) {
	f := newFile(t)
	require.NoError(t, f.Save("Bearer abc def", "ws://orch:5005/mcp"))

	values := f.Load()
	assert.Equal(t, "Bearer abc def", values[consts.KeyAuth])
	assert.Equal(t, "ws://orch:5005/mcp", values[consts.KeyOrchURL])

	info, err := os.Stat(f.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFile_SaveRequiresAuth(t *testing.T) {
	f := newFile(t)
	err := f.Save("", "ws://orch/mcp")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCredentialInvalid, errors.CodeOf(err))

	_, statErr := os.Stat(f.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestFile_SaveDefaultsURLAndKeepsStored(t *testing.T) {
	f := newFile(t)
	require.NoError(t, f.Save("Bearer abc", ""))
	assert.Equal(t, consts.DefaultOrchURL, f.Load()[consts.KeyOrchURL])

	require.NoError(t, f.Save("", "wss://other/mcp"))
	values := f.Load()
	assert.Equal(t, "Bearer abc", values[consts.KeyAuth])
	assert.Equal(t, "wss://other/mcp", values[consts.KeyOrchURL])
}

func TestFile_SavePreservesOtherKeys(t *testing.T) {
	f := newFile(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.Path()), 0o700))
	require.NoError(t, os.WriteFile(f.Path(), []byte("EXTRA=1\n"), 0o600))

	require.NoError(t, f.Save("Bearer abc", ""))
	assert.Equal(t, "1", f.Load()["EXTRA"])
}

func TestFile_ResolvePrecedence(t *testing.T) {
	f := newFile(t)
	fallback := bridge.Credential{Token: "Bearer env", Endpoint: "ws://env/mcp"}

	// Nothing stored: fallback wins.
	assert.Equal(t, fallback, f.Resolve("", "", fallback))

	require.NoError(t, f.Save("Bearer file", "ws://file/mcp"))
	assert.Equal(t, bridge.Credential{Token: "Bearer file", Endpoint: "ws://file/mcp"}, f.Resolve("", "", fallback))

	got := f.Resolve(" Bearer param ", "ws://param/mcp", fallback)
	assert.Equal(t, bridge.Credential{Token: "Bearer param", Endpoint: "ws://param/mcp"}, got)
}

func TestFile_ResolveDefaultEndpoint(t *testing.T) {
	f := newFile(t)
	got := f.Resolve("", "", bridge.Credential{})
	assert.Equal(t, "", got.Token)
	assert.Equal(t, consts.DefaultOrchURL, got.Endpoint)
}
