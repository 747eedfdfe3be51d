//go:build !windows

package registry

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lucli-dev/lucli/internal/atomicfile"
)

// probeTimeout bounds one TCP liveness probe step.
const probeTimeout = 2 * time.Second

// pidFreshnessWindow is the fallback: a PID file touched this recently is
// treated as a live-but-not-yet-listening instance (a server mid-startup
// has a process but no open port).
const pidFreshnessWindow = 2 * time.Minute

// IsPIDAlive reports whether the OS knows a process with this id. Signal 0
// probes without delivering anything; EPERM still means the process exists.
func IsPIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// ProbePort reports whether a TCP connection to host:port completes within
// the probe timeout.
func ProbePort(host string, port int) bool {
	if port <= 0 {
		return false
	}
	if host == "" {
		host = "127.0.0.1"
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// IsLive implements the liveness rule: a PID is live when the OS reports
// the process and the TCP probe succeeds, or (fallback) the PID file's
// mtime is within the freshness window.
func IsLive(pid, port int, pidFilePath string) bool {
	if !IsPIDAlive(pid) {
		return false
	}
	if ProbePort("", port) {
		return true
	}
	if info, err := os.Stat(pidFilePath); err == nil {
		return time.Since(info.ModTime()) < pidFreshnessWindow
	}
	return false
}

// ReadPIDFile parses a PID file. A missing, empty, or malformed file reads
// as "not running", never as an error.
func ReadPIDFile(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// WritePIDFile records pid atomically.
func WritePIDFile(path string, pid int) error {
	return atomicfile.Write(path, []byte(fmt.Sprintf("%d\n", pid)), 0o644)
}

// RemovePIDFile deletes the PID file; already-gone is fine.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
