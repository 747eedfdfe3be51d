package command

import (
	"flag"

	"github.com/lucli-dev/lucli/internal/deps"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

// runInstall handles both `install` (reuse the lock) and `update` (force a
// fresh resolve for the named — or all — dependencies).
func (f *Facade) runInstall(inv *invocation, forceResolve bool) error {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	dev := fs.Bool("dev", false, "also install devDependencies")
	force := fs.Bool("force", false, "re-resolve even when the lock pins a version")
	dryRun := fs.Bool("dry-run", false, "resolve and plan, write nothing")
	environment := fs.String("env", "", "environment overlay to apply")
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}

	cfg, err := f.loadProjectConfig(inv, *environment, !*dryRun)
	if err != nil {
		return err
	}

	result, err := deps.Install(inv.ctx, cfg, inv.cwd, deps.InstallOptions{
		IncludeDev:  *dev,
		Force:       *force || forceResolve,
		DryRun:      *dryRun,
		Only:        fs.Args(),
		ToolVersion: Version,
	})
	if err != nil {
		return err
	}

	if len(result.Installed) == 0 {
		inv.println("no dependencies declared")
		return nil
	}
	reused := map[string]bool{}
	for _, name := range result.Reused {
		reused[name] = true
	}
	for _, d := range result.Installed {
		verb := "installed"
		if *dryRun {
			verb = "would install"
		} else if reused[d.Name] {
			verb = "up to date"
		}
		inv.printf("%s %s\n", verb, d)
	}
	return nil
}

func (f *Facade) runUninstall(inv *invocation) error {
	if len(inv.args) != 1 {
		return lucerr.New(lucerr.KindUsage, "usage: lucli uninstall <name>")
	}
	cfg, err := f.loadProjectConfig(inv, "", false)
	if err != nil {
		return err
	}
	if err := deps.Uninstall(cfg, inv.cwd, inv.args[0]); err != nil {
		return err
	}
	inv.printf("removed %s\n", inv.args[0])
	return nil
}
