package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lucli-dev/lucli/internal/registry"
)

// MonitorServer streams an instance's server log over a loopback websocket
// at /ws/monitor/{name}, so `server monitor` gets live lines without
// re-reading the file. It runs alongside the TCP JSON protocol on its own
// port and, like everything else here, binds only to loopback.
type MonitorServer struct {
	Port     int
	Registry *registry.Registry

	httpServer *http.Server
}

var monitorUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowMonitorOrigin,
}

func allowMonitorOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// ListenAndServe serves the monitor endpoint until ctx is canceled.
func (m *MonitorServer) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/monitor/", m.handleMonitorWS)

	m.httpServer = &http.Server{
		Addr:    monitorAddr(m.Port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.httpServer.Shutdown(shutdownCtx)
	}()

	err := m.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func monitorAddr(port int) string {
	if port <= 0 {
		port = DefaultPort + 1
	}
	return "127.0.0.1:" + strconv.Itoa(port)
}

func (m *MonitorServer) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/ws/monitor/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "instance name is required", http.StatusBadRequest)
		return
	}
	inst, err := m.Registry.Get(name)
	if err != nil {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}

	conn, err := monitorUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	m.streamLog(r.Context(), conn, filepath.Join(inst.BaseDir, "logs", "server.out"))
}

// streamLog follows the log file: its whole current content first, then
// appended bytes as they arrive, polling the file size rather than holding
// a watcher.
func (m *MonitorServer) streamLog(ctx context.Context, conn *websocket.Conn, path string) {
	var offset int64
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		newOffset, chunk, err := readFrom(path, offset)
		if err == nil && len(chunk) > 0 {
			offset = newOffset
			if err := conn.WriteMessage(websocket.TextMessage, chunk); err != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readFrom returns the file content past offset. A truncated or rotated
// file resets the offset to the start.
func readFrom(path string, offset int64) (int64, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, nil, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return offset, nil, nil
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return offset, nil, err
	}
	chunk := make([]byte, info.Size()-offset)
	n, err := f.Read(chunk)
	if err != nil {
		return offset, nil, err
	}
	return offset + int64(n), chunk[:n], nil
}
