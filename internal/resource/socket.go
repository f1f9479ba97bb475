package resource

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/turtacn/cathedral-bridge/pkg/consts"
	"github.com/turtacn/cathedral-bridge/pkg/errors"
	"github.com/turtacn/cathedral-bridge/pkg/logger"
	"golang.org/x/sys/unix"
)

// listenFDsStart is the first descriptor passed by a socket-activating parent.
const listenFDsStart = 3

const unixPrefix = "unix:"

// SocketManager owns the daemon's listening sockets: the control unix socket
// and the optional metrics address. Listeners handed over through socket
// activation are claimed before anything new is bound.
type SocketManager struct {
	mu sync.Mutex

	// Active listeners keyed by requested and canonical address
	listeners map[string]net.Listener
	// Unix socket files bound here, removed on Close
	owned map[string]bool

	// Activated but not yet claimed listeners
	inherited map[string]net.Listener

	discovered bool
}

func NewSocketManager() *SocketManager {
	return &SocketManager{
		listeners: make(map[string]net.Listener),
		owned:     make(map[string]bool),
		inherited: make(map[string]net.Listener),
	}
}

func isSocket(fd int) bool {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return false
	}
	return stat.Mode&unix.S_IFMT == unix.S_IFSOCK
}

// setNonblock puts the listener's descriptor back into non-blocking mode for
// the runtime poller.
func setNonblock(l net.Listener) {
	var raw syscall.RawConn
	var err error
	switch v := l.(type) {
	case *net.TCPListener:
		raw, err = v.SyscallConn()
	case *net.UnixListener:
		raw, err = v.SyscallConn()
	default:
		return
	}
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		_ = unix.SetNonblock(int(fd), true)
	})
}

// keyOf returns the map key for a bound address.
func keyOf(addr net.Addr) string {
	if addr.Network() == "unix" {
		return unixPrefix + addr.String()
	}
	return addr.String()
}

// normalize turns a requested address into a key. Anything containing a
// slash, or prefixed with "unix:", is a unix socket path.
func normalize(addr string) (key string, isUnix bool) {
	if strings.HasPrefix(addr, unixPrefix) {
		return addr, true
	}
	if strings.Contains(addr, "/") {
		return unixPrefix + addr, true
	}
	return addr, false
}

// discoverInherited picks up LISTEN_FDS descriptors meant for this process.
func (sm *SocketManager) discoverInherited() {
	if sm.discovered {
		return
	}
	sm.discovered = true

	fds := os.Getenv(consts.EnvListenFDs)
	if fds == "" {
		return
	}
	if pid := os.Getenv(consts.EnvListenPID); pid != "" && pid != strconv.Itoa(os.Getpid()) {
		return
	}

	count, err := strconv.Atoi(fds)
	if err != nil || count <= 0 {
		return
	}

	// Children must not see these
	os.Unsetenv(consts.EnvListenFDs)
	os.Unsetenv(consts.EnvListenPID)

	logger.Log.Info("Socket activation: discovering listeners", "count", count)

	for i := 0; i < count; i++ {
		fd := listenFDsStart + i
		if !isSocket(fd) {
			logger.Log.Warn("Socket activation: fd is not a socket, skipping", "fd", fd)
			continue
		}

		f := os.NewFile(uintptr(fd), "listener")
		if f == nil {
			continue
		}
		l, err := net.FileListener(f)
		// FileListener dups the descriptor
		f.Close()
		if err != nil {
			logger.Log.Error("Socket activation: failed to create listener", "fd", fd, "err", err)
			continue
		}
		setNonblock(l)

		k := keyOf(l.Addr())
		sm.inherited[k] = l
		logger.Log.Info("Socket activation: discovered listener", "addr", k, "fd", fd)
	}
}

// claimInherited finds an activated listener for key. A TCP request for an
// unspecified host (":9090") matches the listener bound to that port.
func (sm *SocketManager) claimInherited(key string, isUnix bool) net.Listener {
	if l, ok := sm.inherited[key]; ok {
		delete(sm.inherited, key)
		return l
	}
	if isUnix {
		return nil
	}
	host, port, err := net.SplitHostPort(key)
	if err != nil || !unspecified(host) {
		return nil
	}
	for k, l := range sm.inherited {
		h, p, err := net.SplitHostPort(k)
		if err == nil && p == port && unspecified(h) {
			delete(sm.inherited, k)
			return l
		}
	}
	return nil
}

func unspecified(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}

// EnsureListener returns the listener for addr, claiming an activated socket
// or binding a new one. Repeated calls with the requested or the canonical
// address return the same listener.
func (sm *SocketManager) EnsureListener(addr string) (net.Listener, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key, isUnix := normalize(addr)

	// 1. Already active
	if l, ok := sm.listeners[key]; ok {
		return l, nil
	}

	// 2. Handed over by the parent
	sm.discoverInherited()
	if l := sm.claimInherited(key, isUnix); l != nil {
		logger.Log.Info("Claiming activated socket", "addr", key)
		sm.track(key, l)
		return l, nil
	}

	// 3. Bind
	var (
		l   net.Listener
		err error
	)
	if isUnix {
		l, err = sm.listenUnix(strings.TrimPrefix(key, unixPrefix))
	} else {
		l, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "EnsureListener", "listen on "+addr, err)
	}
	logger.Log.Info("Bound listener", "addr", keyOf(l.Addr()))
	sm.track(key, l)
	return l, nil
}

func (sm *SocketManager) track(key string, l net.Listener) {
	sm.listeners[key] = l
	sm.listeners[keyOf(l.Addr())] = l
}

// listenUnix binds path after clearing a stale socket file. A socket that
// still accepts connections belongs to a running daemon and is left alone.
func (sm *SocketManager) listenUnix(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		if c, err := net.DialTimeout("unix", path, time.Second); err == nil {
			c.Close()
			return nil, fmt.Errorf("%s is in use by a running daemon", path)
		}
		os.Remove(path)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	// Owner only
	if err := os.Chmod(path, 0o700); err != nil {
		l.Close()
		return nil, err
	}
	sm.owned[path] = true
	return l, nil
}

// Addrs returns the active listener addresses in sorted order.
func (sm *SocketManager) Addrs() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	seen := make(map[net.Listener]bool, len(sm.listeners))
	addrs := make([]string, 0, len(sm.listeners))
	for _, l := range sm.listeners {
		if seen[l] {
			continue
		}
		seen[l] = true
		addrs = append(addrs, keyOf(l.Addr()))
	}
	sort.Strings(addrs)
	return addrs
}

// Close shuts every listener and removes the unix socket files bound here.
func (sm *SocketManager) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	closed := make(map[net.Listener]bool, len(sm.listeners))
	for _, l := range sm.listeners {
		if closed[l] {
			continue
		}
		closed[l] = true
		l.Close()
	}
	sm.listeners = make(map[string]net.Listener)

	for path := range sm.owned {
		os.Remove(path)
	}
	sm.owned = make(map[string]bool)

	for _, l := range sm.inherited {
		l.Close()
	}
	sm.inherited = make(map[string]net.Listener)
}

// Personal.AI order the ending
