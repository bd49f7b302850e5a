package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/thub/thub/internal/auth"
	"github.com/thub/thub/internal/config"
)

func runSecretAdmin(ctx context.Context, args []string, std streams) int {
	if len(args) == 0 || args[0] != "rotate" {
		fmtErrln(std.err, "usage: thub secret rotate [flags]")
		return 2
	}

	fs := flag.NewFlagSet("secret-rotate", flag.ContinueOnError)
	fs.SetOutput(std.err)
	sc := config.BindStoreFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	st, err := openAdminStore(sc)
	if err != nil {
		fmtErrln(std.err, "store error:", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	secret, err := auth.GenerateSecret()
	if err != nil {
		fmtErrln(std.err, "secret rotate error:", err)
		return 1
	}
	if err := st.SetJWTSecret(ctx, secret); err != nil {
		fmtErrln(std.err, "secret rotate error:", err)
		return 1
	}
	_, _ = fmt.Fprintln(std.out, "rotated signing secret; restart the server to apply. Existing sessions are now invalid.")
	return 0
}
