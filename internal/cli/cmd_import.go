package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/thub/thub/internal/config"
	"github.com/thub/thub/internal/store"
)

// runImport copies a config file into the selected store. The target
// defaults to sqlite unless --store is given.
func runImport(ctx context.Context, args []string, std streams) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(std.err)
	sc := config.BindStoreFlags(fs)
	var from string
	fs.StringVar(&from, "from", "", "Source JSON/YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	from = strings.TrimSpace(from)
	if from == "" {
		fmtErrln(std.err, "import error: missing --from")
		return 2
	}
	storeSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "store" {
			storeSet = true
		}
	})
	if !storeSet {
		sc.Backend = config.StoreBackendSQLite
	}

	if _, err := os.Stat(from); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%s not found", from)
		}
		fmtErrln(std.err, "import error:", err)
		return 1
	}
	src, err := store.Open(store.BackendFile, from, store.Options{})
	if err != nil {
		fmtErrln(std.err, "import error:", err)
		return 1
	}
	defer func() { _ = src.Close() }()
	cfg, err := src.Load(ctx)
	if err != nil {
		fmtErrln(std.err, "import error:", err)
		return 1
	}

	dst, err := openAdminStore(sc)
	if err != nil {
		fmtErrln(std.err, "store error:", err)
		return 1
	}
	defer func() { _ = dst.Close() }()

	users, routes, err := store.Import(ctx, dst, cfg)
	if err != nil {
		fmtErrln(std.err, "import error:", err)
		return 1
	}
	_, _ = fmt.Fprintf(std.out, "imported %d users and %d routes into %s\n", users, routes, sc.Path())
	return 0
}
