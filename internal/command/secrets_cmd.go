package command

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/lucli-dev/lucli/internal/lucerr"
)

func (f *Facade) runSecrets(inv *invocation) error {
	if len(inv.args) == 0 {
		return lucerr.New(lucerr.KindUsage, "secrets: missing subcommand").
			WithRemedy("one of init, set, get, list, rm")
	}
	sub, rest := inv.args[0], inv.args[1:]
	inv.args = rest

	switch sub {
	case "init":
		return f.secretsInit(inv)
	case "set":
		return f.secretsSet(inv)
	case "get":
		return f.secretsGet(inv)
	case "list":
		return f.secretsList(inv)
	case "rm":
		return f.secretsRm(inv)
	default:
		return lucerr.Newf(lucerr.KindUsage, "secrets: unknown subcommand %q", sub)
	}
}

func (f *Facade) secretsInit(inv *invocation) error {
	fs := flag.NewFlagSet("secrets init", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	reset := fs.Bool("reset", false, "destroy the existing store and start over")
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}

	if err := f.secretStore().Init(*reset); err != nil {
		return err
	}
	inv.println("secret store ready")
	return nil
}

func (f *Facade) secretsSet(inv *invocation) error {
	fs := flag.NewFlagSet("secrets set", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	description := fs.String("description", "", "free-form note shown by list")
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}
	if fs.NArg() == 0 {
		return lucerr.New(lucerr.KindUsage, "usage: lucli secrets set <name> [--description ...]")
	}
	name := fs.Arg(0)
	// Flags may also follow the name, as the usage line shows.
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}
	if fs.NArg() != 0 {
		return lucerr.New(lucerr.KindUsage, "usage: lucli secrets set <name> [--description ...]")
	}

	value, err := readSecretValue(name)
	if err != nil {
		return lucerr.Wrap(lucerr.KindInternal, err, "read secret value")
	}

	if err := f.secretStore().Set(name, value, *description); err != nil {
		return err
	}
	inv.printf("stored %q\n", name)
	return nil
}

// readSecretValue prompts for the value with no echo. The prompt goes to
// stderr so captured command output never contains it.
func readSecretValue(name string) (string, error) {
	fmt.Fprintf(os.Stderr, "value for %q: ", name)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (f *Facade) secretsGet(inv *invocation) error {
	fs := flag.NewFlagSet("secrets get", flag.ContinueOnError)
	fs.SetOutput(inv.out)
	show := fs.Bool("show", false, "print the decrypted value to stdout")
	if err := fs.Parse(inv.args); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}
	if fs.NArg() == 0 {
		return lucerr.New(lucerr.KindUsage, "usage: lucli secrets get <name> [--show]")
	}
	name := fs.Arg(0)
	// Flags may also follow the name, as the usage line shows.
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return lucerr.Wrap(lucerr.KindUsage, err, "parse flags")
	}
	if fs.NArg() != 0 {
		return lucerr.New(lucerr.KindUsage, "usage: lucli secrets get <name> [--show]")
	}

	if !*show {
		// The value stays usable through ${secret:...} substitution; stdout
		// exposure is opt-in only.
		return lucerr.Newf(lucerr.KindUsage,
			"refusing to print %q without --show", name)
	}

	value, err := f.secretStore().Get(name)
	if err != nil {
		return err
	}
	inv.println(value)
	return nil
}

func (f *Facade) secretsList(inv *invocation) error {
	infos, err := f.secretStore().List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		inv.println("no secrets stored")
		return nil
	}
	for _, info := range infos {
		if info.Description != "" {
			inv.printf("%s  %s\n", info.Name, info.Description)
		} else {
			inv.println(info.Name)
		}
	}
	return nil
}

func (f *Facade) secretsRm(inv *invocation) error {
	if len(inv.args) != 1 {
		return lucerr.New(lucerr.KindUsage, "usage: lucli secrets rm <name>")
	}
	name := inv.args[0]
	if err := f.secretStore().Delete(name); err != nil {
		return err
	}
	inv.printf("deleted %q\n", name)
	return nil
}
