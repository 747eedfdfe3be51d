package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lucli-dev/lucli/internal/command"
	"github.com/lucli-dev/lucli/internal/logging"
	"github.com/lucli-dev/lucli/internal/prefs"
)

// exitInterrupted is the conventional exit code for SIGINT-terminated
// processes.
const exitInterrupted = 130

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("lucli", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	homeFlag := fs.String("home", "", "LuCLI home directory (default $LUCLI_HOME or ~/.lucli)")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: lucli [--home DIR] [--debug] <command> [args]")
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}

	home, err := command.ResolveHome(*homeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		return 1
	}

	p, _ := prefs.Load(home)
	if locale := os.Getenv("LUCLI_LOCALE"); locale != "" {
		p.Locale = locale
	}
	logging.Init(logging.Config{
		Home:       home,
		Level:      p.Log.Level,
		Format:     p.Log.Format,
		MaxSizeMB:  p.Log.MaxSizeMB,
		MaxBackups: p.Log.MaxBackups,
		MaxAgeDays: p.Log.MaxAgeDays,
		Debug:      *debug,
	})
	defer logging.Shutdown()

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: resolve working directory: %s\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First interrupt cancels the command context so foreground runs and
	// the daemon shut down cleanly; a second one kills the process the
	// hard way.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	interrupted := false
	go func() {
		<-sigCh
		interrupted = true
		cancel()
		<-sigCh
		os.Exit(exitInterrupted)
	}()

	facade := &command.Facade{Home: home, Prefs: p}
	code, output := facade.Execute(ctx, fs.Args(), cwd)
	fmt.Fprint(os.Stdout, output)

	if interrupted {
		return exitInterrupted
	}
	return code
}
