package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/thub/thub/internal/auth"
	"github.com/thub/thub/internal/config"
	"github.com/thub/thub/internal/domain"
)

func runAddUser(ctx context.Context, args []string, std streams) int {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(std.err)
	sc := config.BindStoreFlags(fs)
	password := envOr("THUB_PASSWORD", "")
	var force bool
	fs.StringVar(&password, "password", password, "Password (otherwise THUB_PASSWORD or one line from stdin)")
	fs.BoolVar(&force, "force", false, "Replace the user if it already exists")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmtErrln(std.err, "adduser error: expected exactly one username")
		return 2
	}
	username := strings.TrimSpace(fs.Arg(0))
	if username == "" {
		fmtErrln(std.err, "adduser error: username must not be empty")
		return 2
	}

	if password == "" {
		p, err := readPassword(std, "Password: ")
		if err != nil {
			fmtErrln(std.err, "adduser error:", err)
			return 1
		}
		password = p
	}
	if password == "" {
		fmtErrln(std.err, "adduser error: password must not be empty")
		return 2
	}

	st, err := openAdminStore(sc)
	if err != nil {
		fmtErrln(std.err, "store error:", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	hash, salt, err := auth.HashPassword(password)
	if err != nil {
		fmtErrln(std.err, "adduser error:", err)
		return 1
	}
	err = st.PutUser(ctx, domain.Credential{Username: username, PasswordHash: hash, Salt: salt}, force)
	if errors.Is(err, domain.ErrUserExists) {
		fmtErrln(std.err, "adduser warning: user", username, "already exists; pass --force to replace it")
		return 1
	}
	if err != nil {
		fmtErrln(std.err, "adduser error:", err)
		return 1
	}
	if force {
		_, _ = fmt.Fprintln(std.out, "saved user:", username)
	} else {
		_, _ = fmt.Fprintln(std.out, "added user:", username)
	}
	return 0
}

func runDelUser(ctx context.Context, args []string, std streams) int {
	fs := flag.NewFlagSet("deluser", flag.ContinueOnError)
	fs.SetOutput(std.err)
	sc := config.BindStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmtErrln(std.err, "deluser error: expected exactly one username")
		return 2
	}
	username := strings.TrimSpace(fs.Arg(0))

	st, err := openAdminStore(sc)
	if err != nil {
		fmtErrln(std.err, "store error:", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	if err := st.DeleteUser(ctx, username); err != nil {
		fmtErrln(std.err, "deluser error:", err)
		return 1
	}
	_, _ = fmt.Fprintln(std.out, "removed user:", username)
	return 0
}

func runListUsers(ctx context.Context, args []string, std streams) int {
	fs := flag.NewFlagSet("users", flag.ContinueOnError)
	fs.SetOutput(std.err)
	sc := config.BindStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	st, err := openAdminStore(sc)
	if err != nil {
		fmtErrln(std.err, "store error:", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	cfg, err := st.Load(ctx)
	if err != nil {
		fmtErrln(std.err, "users error:", err)
		return 1
	}
	names := make([]string, 0, len(cfg.Users))
	for name := range cfg.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintln(std.out, name)
	}
	return 0
}

// readPassword reads one line from stdin, prompting with echo off when
// stdin is a terminal.
func readPassword(std streams, label string) (string, error) {
	if f, ok := std.in.(*os.File); ok && isInteractiveInput(f) {
		return promptSecret(f, std.err, label)
	}
	line, err := bufio.NewReader(std.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
