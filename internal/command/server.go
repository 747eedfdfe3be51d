package command

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"sort"

	"github.com/lucli-dev/lucli/internal/config"
	"github.com/lucli-dev/lucli/internal/deps"
	"github.com/lucli-dev/lucli/internal/logging"
	"github.com/lucli-dev/lucli/internal/lucerr"
	"github.com/lucli-dev/lucli/internal/registry"
	"github.com/lucli-dev/lucli/internal/runtime"
	"github.com/lucli-dev/lucli/internal/supervisor"
)

func (f *Facade) runServer(inv *invocation) error {
	if len(inv.args) == 0 {
		return lucerr.New(lucerr.KindUsage, "server: missing subcommand").
			WithRemedy("one of start, run, stop, restart, status, list, prune, log, monitor")
	}
	sub, rest := inv.args[0], inv.args[1:]
	inv.args = rest

	switch sub {
	case "start":
		return f.serverStart(inv, false)
	case "run":
		return f.serverStart(inv, true)
	case "stop":
		return f.serverStop(inv)
	case "restart":
		return f.serverRestart(inv)
	case "status":
		return f.serverStatus(inv)
	case "list":
		return f.serverList(inv)
	case "prune":
		return f.serverPrune(inv)
	case "log":
		return f.serverLog(inv)
	case "monitor":
		return f.serverMonitor(inv)
	default:
		return lucerr.Newf(lucerr.KindUsage, "server: unknown subcommand %q", sub)
	}
}

// loadProjectConfig resolves the configuration for the invocation's
// directory. Mutating commands get the real secret store; read-only
// inspections get an inert resolver so they never trigger a passphrase
// prompt.
func (f *Facade) loadProjectConfig(inv *invocation, environment string, mutating bool) (*config.ServerConfig, error) {
	var resolver config.SecretResolver
	if mutating {
		resolver = f.secretStore()
	} else {
		resolver = inertSecrets{}
	}
	result, err := config.Load(config.LoadOptions{
		ProjectDir:  inv.cwd,
		Environment: environment,
		Secrets:     resolver,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		inv.printf("warning: %s\n", w)
	}
	return result.Config, nil
}

// inertSecrets satisfies ${secret:...} placeholders with a masked value so
// read-only commands can resolve a configuration without the store.
type inertSecrets struct{}

func (inertSecrets) ResolveSecret(name string) (string, error) {
	return "«secret:" + name + "»", nil
}

func (f *Facade) serverStart(inv *invocation, foreground bool) error {
	fs := flag.NewFlagSet("server start", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	environment := fs.String("env", "", "environment overlay to apply")
	force := fs.Bool("force", false, "wipe and rebuild the runtime base")
	dryRun := fs.Bool("dry-run", false, "render everything, write nothing")
	timeout := fs.Duration("timeout", supervisor.DefaultReadyTimeout, "readiness probe budget")
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}

	cfg, err := f.loadProjectConfig(inv, *environment, !*dryRun)
	if err != nil {
		return err
	}
	// The operator's preferred runtime applies only when the project does
	// not pick one itself.
	if cfg.Runtime.Type == "" {
		cfg.Runtime.Type = f.preferences().DefaultRuntimeType
	}

	reg := f.registry()
	defer reg.Close()
	baseDir := reg.BaseDir(cfg.Name)

	provider, err := runtime.Select(cfg, f.Home)
	if err != nil {
		return err
	}

	installed, err := deps.Install(inv.ctx, cfg, inv.cwd, deps.InstallOptions{
		DryRun:      *dryRun,
		ToolVersion: Version,
	})
	if err != nil {
		return err
	}
	mappings := make([]runtime.Mapping, 0, len(installed.Installed))
	for _, d := range installed.Installed {
		mappings = append(mappings, runtime.Mapping{Prefix: d.Mapping, Path: d.Locked.InstallPath})
	}

	buildResult, err := runtime.BuildBase(cfg, baseDir, runtime.BuildOptions{
		Force:    *force,
		DryRun:   *dryRun,
		Mappings: mappings,
	})
	if err != nil {
		return err
	}

	if *dryRun {
		inv.printf("dry run for %q (runtime %s, port %d):\n", cfg.Name, runtimeLabel(cfg), cfg.Port)
		var rels []string
		for rel := range buildResult.Rendered {
			rels = append(rels, rel)
		}
		sort.Strings(rels)
		for _, rel := range rels {
			inv.printf("  would write %s (%d bytes)\n", filepath.Join(baseDir, rel), len(buildResult.Rendered[rel]))
		}
		for _, d := range installed.Installed {
			inv.printf("  would install %s\n", d)
		}
		return nil
	}

	if configHash, hashErr := deps.HashConfig(cfg); hashErr == nil {
		if err := installed.Lock.RecordServerLock(inv.cwd, cfg.Environment, configHash); err != nil {
			return err
		}
	}

	if err := provider.Provision(inv.ctx, cfg, baseDir); err != nil {
		return err
	}

	sup := &supervisor.Supervisor{Registry: reg, Provider: provider}
	if foreground {
		inv.printf("running %q on http://%s:%d (interrupt to stop)\n", cfg.Name, cfg.Host, cfg.Port)
		return sup.RunForeground(inv.ctx, cfg)
	}

	inst, err := sup.Start(inv.ctx, cfg, supervisor.StartOptions{ReadyTimeout: *timeout})
	if err != nil {
		return err
	}
	inv.printf("started %q on http://%s:%d (pid %d)\n", cfg.Name, cfg.Host, cfg.Port, inst.PID)
	if cfg.OpenBrowser {
		openBrowser(inv, browserURL(cfg))
	}
	return nil
}

func (f *Facade) serverStop(inv *invocation) error {
	fs := flag.NewFlagSet("server stop", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}

	reg := f.registry()
	defer reg.Close()
	inst, err := f.targetInstance(inv, reg, fs.Args())
	if err != nil {
		return err
	}

	sup := &supervisor.Supervisor{Registry: reg, Provider: providerForInstance(inst, f.Home)}
	if err := sup.Stop(inv.ctx, instanceConfig(inst)); err != nil {
		return err
	}
	inv.printf("stopped %q\n", inst.Name)
	return nil
}

func (f *Facade) serverRestart(inv *invocation) error {
	fs := flag.NewFlagSet("server restart", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	environment := fs.String("env", "", "environment overlay to apply")
	timeout := fs.Duration("timeout", supervisor.DefaultReadyTimeout, "readiness probe budget")
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}

	cfg, err := f.loadProjectConfig(inv, *environment, true)
	if err != nil {
		return err
	}
	provider, err := runtime.Select(cfg, f.Home)
	if err != nil {
		return err
	}

	reg := f.registry()
	defer reg.Close()
	sup := &supervisor.Supervisor{Registry: reg, Provider: provider}
	inst, err := sup.Restart(inv.ctx, cfg, supervisor.StartOptions{ReadyTimeout: *timeout})
	if err != nil {
		return err
	}
	inv.printf("restarted %q on http://%s:%d (pid %d)\n", cfg.Name, cfg.Host, cfg.Port, inst.PID)
	return nil
}

func (f *Facade) serverStatus(inv *invocation) error {
	reg := f.registry()
	defer reg.Close()
	inst, err := f.targetInstance(inv, reg, inv.args)
	if err != nil {
		return err
	}
	inv.printf("%s  port=%d  pid=%d  status=%s", inst.Name, inst.Port, inst.PID, inst.Status)
	if inst.Environment != "" {
		inv.printf("  env=%s", inst.Environment)
	}
	inv.println()
	return nil
}

func (f *Facade) serverList(inv *invocation) error {
	reg := f.registry()
	defer reg.Close()
	instances, err := reg.List()
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		inv.println("no instances")
		return nil
	}
	inv.printf("%-20s %-6s %-8s %-8s %s\n", "NAME", "PORT", "PID", "STATUS", "ENV")
	for _, inst := range instances {
		pid := "-"
		if inst.PID > 0 {
			pid = fmt.Sprintf("%d", inst.PID)
		}
		env := inst.Environment
		if env == "" {
			env = "-"
		}
		inv.printf("%-20s %-6d %-8s %-8s %s\n", inst.Name, inst.Port, pid, inst.Status, env)
	}
	return nil
}

func (f *Facade) serverPrune(inv *invocation) error {
	fs := flag.NewFlagSet("server prune", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	all := fs.Bool("all", false, "remove every non-live instance")
	force := fs.Bool("force", false, "skip confirmation")
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}

	if !*force {
		prompt := "remove all stale instances? [y/N] "
		if *all {
			prompt = "remove every non-running instance? [y/N] "
		}
		inv.printf("%s", prompt)
		var answer string
		fmt.Fscanln(os.Stdin, &answer)
		if answer != "y" && answer != "Y" {
			inv.println("aborted")
			return nil
		}
	}

	reg := f.registry()
	defer reg.Close()
	removed, err := reg.Prune(*all)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		inv.println("nothing to prune")
		return nil
	}
	for _, name := range removed {
		inv.printf("removed %s\n", name)
	}
	return nil
}

func (f *Facade) serverLog(inv *invocation) error {
	fs := flag.NewFlagSet("server log", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	lines := fs.Int("tail", 50, "number of trailing lines")
	self := fs.Bool("self", false, "show LuCLI's own recent log lines instead of the instance log")
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}

	if *self {
		recent := logging.Recent(*lines)
		if len(recent) == 0 {
			inv.println("no recent log lines")
			return nil
		}
		for _, line := range recent {
			inv.println(line)
		}
		return nil
	}

	reg := f.registry()
	defer reg.Close()
	inst, err := f.targetInstance(inv, reg, fs.Args())
	if err != nil {
		return err
	}

	path := filepath.Join(inst.BaseDir, "logs", "server.out")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			inv.printf("no log yet at %s\n", path)
			return nil
		}
		return lucerr.Wrap(lucerr.KindInternal, err, "read server log")
	}
	inv.out.Write(tailBytes(raw, *lines))
	return nil
}

// targetInstance picks the instance a server subcommand operates on: the
// positional name when given, else the instance registered for the current
// directory.
func (f *Facade) targetInstance(inv *invocation, reg *registry.Registry, args []string) (*registry.Instance, error) {
	if len(args) > 0 {
		return reg.Resolve(args[0])
	}
	inst, err := reg.ForDirectory(inv.cwd)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, lucerr.Newf(lucerr.KindNotRunning,
			"no instance is registered for %s", inv.cwd).
			WithRemedy("pass an instance name or run from the project directory")
	}
	return inst, nil
}

// instanceConfig reconstructs the minimal configuration a stop needs from
// the registry record, so stopping works even when the project directory
// (or its lucee.json) is gone.
func instanceConfig(inst *registry.Instance) *config.ServerConfig {
	return &config.ServerConfig{
		Name:         inst.Name,
		Host:         "127.0.0.1",
		Port:         inst.Port,
		ShutdownPort: inst.Port + 1000,
		Webroot:      inst.Webroot,
		Runtime:      config.RuntimeSelector{Type: inst.Runtime},
	}
}

func providerForInstance(inst *registry.Instance, home string) runtime.Provider {
	provider, err := runtime.Select(instanceConfig(inst), home)
	if err != nil {
		// Unknown recorded type degrades to embedded: its Stop is a plain
		// signal, which is the right fallback for any local process.
		return &runtime.EmbeddedProvider{LucliHome: home}
	}
	return provider
}

func runtimeLabel(cfg *config.ServerConfig) string {
	if cfg.Runtime.Type == "" {
		return runtime.TypeEmbedded
	}
	return cfg.Runtime.Type
}

func browserURL(cfg *config.ServerConfig) string {
	if cfg.OpenBrowserURL != "" {
		return cfg.OpenBrowserURL
	}
	return fmt.Sprintf("http://%s:%d/", cfg.Host, cfg.Port)
}

// openBrowser best-effort opens url in the operator's browser. Failure is
// not worth more than a log line.
func openBrowser(inv *invocation, url string) {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Debug("open_browser_failed", slog.String("url", url), slog.String("error", err.Error()))
		return
	}
	go func() { _ = cmd.Wait() }()
	inv.printf("opened %s\n", url)
}

// tailBytes returns the last n lines of raw.
func tailBytes(raw []byte, n int) []byte {
	if n <= 0 || len(raw) == 0 {
		return nil
	}
	i := len(raw)
	if raw[i-1] == '\n' {
		i--
	}
	count := 0
	for ; i > 0; i-- {
		if raw[i-1] == '\n' {
			count++
			if count == n {
				return raw[i:]
			}
		}
	}
	return raw
}
