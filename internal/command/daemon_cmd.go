package command

import (
	"flag"

	"golang.org/x/sync/errgroup"

	"github.com/lucli-dev/lucli/internal/daemon"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

// runDaemon starts the long-running dispatcher: the TCP JSON protocol on
// the requested port and the websocket log monitor on the next one. Blocks
// until the invocation context is canceled.
func (f *Facade) runDaemon(inv *invocation) error {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	port := fs.Int("port", daemon.DefaultPort, "loopback port to listen on")
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}

	srv := &daemon.Server{Port: *port, Executor: f, CWD: inv.cwd}
	monitor := &daemon.MonitorServer{Port: *port + 1, Registry: f.registry()}

	inv.printf("daemon listening on %s\n", srv.Addr())

	g, gctx := errgroup.WithContext(inv.ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error { return monitor.ListenAndServe(gctx) })
	if err := g.Wait(); err != nil {
		return lucerr.Wrap(lucerr.KindInternal, err, "daemon terminated")
	}
	return nil
}
