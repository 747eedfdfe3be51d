package command

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lucli-dev/lucli/internal/daemon"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

// serverMonitor follows an instance's log: through the daemon's loopback
// websocket stream when a daemon is running, otherwise a plain one-shot
// tail of the log file.
func (f *Facade) serverMonitor(inv *invocation) error {
	fs := flag.NewFlagSet("server monitor", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	port := fs.Int("port", daemon.DefaultPort+1, "daemon monitor port")
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}

	reg := f.registry()
	defer reg.Close()
	inst, err := f.targetInstance(inv, reg, fs.Args())
	if err != nil {
		return err
	}

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws/monitor/%s", *port, inst.Name)
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.DialContext(inv.ctx, url, nil)
	if err != nil {
		// No daemon: fall back to a static tail.
		inv.printf("daemon not reachable, showing current log tail for %q:\n", inst.Name)
		raw, readErr := os.ReadFile(filepath.Join(inst.BaseDir, "logs", "server.out"))
		if readErr != nil {
			inv.println("no log output yet")
			return nil
		}
		inv.out.Write(tailBytes(raw, 50))
		return nil
	}
	defer conn.Close()

	inv.printf("monitoring %q (interrupt to stop)\n", inst.Name)
	for {
		select {
		case <-inv.ctx.Done():
			return nil
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Minute))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		inv.out.Write(message)
	}
}
