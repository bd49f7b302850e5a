// Package cli implements the thub command line: the server and the admin
// subcommands that edit the config store.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// streams are the process stdio, swapped out in tests.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// Run is the main CLI entry point. It parses args and dispatches to the
// appropriate subcommand, returning a process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return run(ctx, args, streams{in: os.Stdin, out: os.Stdout, err: os.Stderr})
}

func run(ctx context.Context, args []string, std streams) int {
	if len(args) == 0 {
		printUsage(std.err)
		return 2
	}

	switch args[0] {
	case "serve", "server":
		return runServe(ctx, args[1:], std)
	case "adduser":
		return runAddUser(ctx, args[1:], std)
	case "deluser":
		return runDelUser(ctx, args[1:], std)
	case "users":
		return runListUsers(ctx, args[1:], std)
	case "proxy":
		return runProxyAdmin(ctx, args[1:], std)
	case "secret":
		return runSecretAdmin(ctx, args[1:], std)
	case "import":
		return runImport(ctx, args[1:], std)
	case "version", "--version", "-v":
		printVersion(std.out)
		return 0
	case "-h", "--help", "help":
		printUsage(std.out)
		return 0
	default:
		fmtErrln(std.err, "unknown command:", args[0])
		printUsage(std.err)
		return 2
	}
}
