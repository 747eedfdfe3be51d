package command

import (
	"github.com/lucli-dev/lucli/internal/lucerr"
	"github.com/lucli-dev/lucli/internal/runtime"
)

// runVersionsList prints the available engine versions, one per line, for
// shell completion and operators alike. Results come from the 24 h on-disk
// cache when fresh.
func (f *Facade) runVersionsList(inv *invocation) error {
	versions, err := runtime.ListEngineVersions(inv.ctx, f.Home)
	if err != nil {
		return lucerr.Wrap(lucerr.KindInternal, err, "list engine versions").
			WithRemedy("check network access to the engine update provider")
	}
	for _, v := range versions {
		inv.println(v)
	}
	return nil
}
