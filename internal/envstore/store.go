package envstore

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/cathedral-bridge/pkg/errors"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
)

// Store reads and writes a KEY=VALUE configuration file. Writes are full-file
// rewrites through a temp file renamed over the target, so a concurrent reader
// sees either the old or the new file and never a partial one.
type Store struct {
	path string
	mu   sync.Mutex // serialises read-merge-write cycles
	log  logger.Logger
}

// New returns a Store backed by path. The file does not need to exist.
func New(path string) *Store {
	return &Store{
		path: path,
		log:  logger.Log.With("component", "envstore", "path", path),
	}
}

// Read returns every persisted key. A missing or unreadable file yields an
// empty map; malformed lines are skipped.
func (s *Store) Read() map[string]string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("Read failed, using empty configuration", "err", err)
		}
		return map[string]string{}
	}
	values, _ := parse(data)
	return values
}

// Write merges updates into the persisted mapping. Keys not named in updates,
// including ones the bridge does not recognise, are carried over untouched.
func (s *Store) Write(updates map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		values map[string]string
		order  []string
	)
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		values, order = parse(data)
	case os.IsNotExist(err):
		values = map[string]string{}
	default:
		return errors.New(errors.ErrCodeStoreRead, "Write", "read existing file", err)
	}

	added := make([]string, 0, len(updates))
	for k, v := range updates {
		if _, exists := values[k]; !exists {
			added = append(added, k)
		}
		values[k] = v
	}
	sort.Strings(added)
	order = append(order, added...)

	if err := WriteFileAtomic(s.path, render(values, order), 0o600); err != nil {
		return err
	}
	s.log.Debug("Configuration written", "keys", len(updates))
	return nil
}

// WriteFileAtomic writes data to a temp file next to path, syncs it and
// renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.New(errors.ErrCodeStoreWrite, "WriteFileAtomic", "create directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.New(errors.ErrCodeStoreWrite, "WriteFileAtomic", "create temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.New(errors.ErrCodeStoreWrite, "WriteFileAtomic", "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return errors.New(errors.ErrCodeStoreWrite, "WriteFileAtomic", "sync temp file", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return errors.New(errors.ErrCodeStoreWrite, "WriteFileAtomic", "chmod temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.ErrCodeStoreWrite, "WriteFileAtomic", "close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		committed = true
		return errors.New(errors.ErrCodeStoreWrite, "WriteFileAtomic", "rename over target", err)
	}
	committed = true
	return nil
}

// parse returns the key/value pairs of an env file and the order in which
// keys first appear. A key that repeats keeps its last value.
func parse(data []byte) (map[string]string, []string) {
	values := make(map[string]string)
	var order []string

	for _, line := range strings.Split(string(data), "\n") {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		i := strings.Index(t, "=")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(t[:i])
		if key == "" {
			continue
		}
		if _, seen := values[key]; !seen {
			order = append(order, key)
		}
		values[key] = unquote(strings.TrimSpace(t[i+1:]))
	}
	return values, order
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if first == '"' && last == '"' {
			return unescape(v[1 : len(v)-1])
		}
		if first == '\'' && last == '\'' {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func render(values map[string]string, order []string) []byte {
	var buf bytes.Buffer
	for _, k := range order {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(quoteIfNeeded(values[k]))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// escaper keeps a quoted value on a single line.
var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)

func quoteIfNeeded(v string) string {
	if !strings.ContainsAny(v, " \t\r\n\"'#") {
		return v
	}
	return `"` + escaper.Replace(v) + `"`
}

// unescape reverses escaper. Unknown sequences such as `\p` in a
// hand-written Windows path are kept verbatim.
func unescape(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' || i+1 == len(v) {
			b.WriteByte(v[i])
			continue
		}
		switch v[i+1] {
		case '\\', '"':
			b.WriteByte(v[i+1])
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(v[i])
			b.WriteByte(v[i+1])
		}
		i++
	}
	return b.String()
}

// Personal.AI order the ending
