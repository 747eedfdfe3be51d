// Package command is the single dispatch seam (C13): the one-shot CLI, the
// interactive mode, and the daemon all call Execute with (argv, cwd) and
// get back (exit code, captured output). Keeping one entrypoint is what
// makes behavior reproducible across front-ends and drivable from tests.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lucli-dev/lucli/internal/logging"
	"github.com/lucli-dev/lucli/internal/lucerr"
	"github.com/lucli-dev/lucli/internal/prefs"
	"github.com/lucli-dev/lucli/internal/registry"
	"github.com/lucli-dev/lucli/internal/secrets"
)

var log = logging.ForComponent(logging.CompCommand)

// Version is LuCLI's own version, stamped into lock files and shown by the
// version command.
const Version = "1.4.0"

// Facade dispatches commands. Global state — the home path and the
// passphrase source — is injected here once rather than read from
// process-wide singletons further down.
type Facade struct {
	// Home is the resolved LuCLI home directory.
	Home string

	// Passphrase supplies the secret store passphrase; nil means the
	// env-or-prompt default.
	Passphrase secrets.PassphraseSource

	// Prefs carries operator-level defaults; nil loads from the home.
	Prefs *prefs.Preferences
}

// invocation is the per-call context handlers run against.
type invocation struct {
	ctx  context.Context
	cwd  string
	out  io.Writer
	args []string
	f    *Facade
}

func (inv *invocation) printf(format string, args ...any) {
	fmt.Fprintf(inv.out, format, args...)
}

func (inv *invocation) println(args ...any) {
	fmt.Fprintln(inv.out, args...)
}

// Execute dispatches argv against cwd, returning the exit code and
// everything the command printed (stdout and stderr interleaved, the way
// the daemon protocol reports it).
func (f *Facade) Execute(ctx context.Context, argv []string, cwd string) (int, string) {
	var buf bytes.Buffer
	err := f.run(&invocation{ctx: ctx, cwd: cwd, out: &buf, f: f}, argv)
	if err != nil {
		fmt.Fprintf(&buf, "error: %s\n", err.Error())
		code := lucerr.ExitCode(err)
		log.Debug("command_failed", slog.Any("argv", argv), slog.Int("exit", code))
		return code, buf.String()
	}
	return 0, buf.String()
}

func (f *Facade) run(inv *invocation, argv []string) error {
	if len(argv) == 0 {
		return lucerr.New(lucerr.KindUsage, "no command given").
			WithRemedy("run 'lucli help'")
	}
	inv.args = argv[1:]

	switch argv[0] {
	case "server":
		return f.runServer(inv)
	case "install":
		return f.runInstall(inv, false)
	case "update":
		return f.runInstall(inv, true)
	case "uninstall":
		return f.runUninstall(inv)
	case "secrets":
		return f.runSecrets(inv)
	case "daemon":
		return f.runDaemon(inv)
	case "versions-list":
		return f.runVersionsList(inv)
	case "version":
		inv.println("lucli", Version)
		return nil
	case "help":
		printUsage(inv)
		return nil
	// Bare aliases kept for muscle memory: `lucli status` works like
	// `lucli server status`.
	case "start", "run", "stop", "restart", "status", "list", "prune", "log", "monitor":
		inv.args = argv
		return f.runServer(inv)
	default:
		return lucerr.Newf(lucerr.KindUsage, "unknown command %q", argv[0]).
			WithRemedy("run 'lucli help'")
	}
}

func (f *Facade) registry() *registry.Registry {
	return registry.New(f.Home)
}

// preferences returns the injected preferences, loading from the home on
// first use. A broken preferences file degrades to defaults with a logged
// warning rather than failing every command.
func (f *Facade) preferences() *prefs.Preferences {
	if f.Prefs != nil {
		return f.Prefs
	}
	p, err := prefs.Load(f.Home)
	if err != nil {
		log.Warn("preferences_unreadable", slog.String("error", err.Error()))
	}
	f.Prefs = p
	return p
}

func (f *Facade) secretStore() *secrets.Store {
	return secrets.New(f.Home, f.Passphrase)
}

func printUsage(inv *invocation) {
	inv.println(strings.TrimSpace(`
lucli — CFML application server toolkit

Usage:
  lucli server start|run|stop|restart|status|list|prune|log|monitor [flags]
  lucli install|update [name...] [--dev] [--force] [--dry-run]
  lucli uninstall <name>
  lucli secrets init|set|get|list|rm [flags]
  lucli daemon [--port N]
  lucli versions-list
  lucli version

Common flags:
  --env NAME     apply environments.NAME from lucee.json
  --home DIR     override the LuCLI home (default $LUCLI_HOME or ~/.lucli)
`))
}
