package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thub/thub/internal/auth"
	"github.com/thub/thub/internal/domain"
	"github.com/thub/thub/internal/store"
)

type runResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) runResult {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, streams{in: strings.NewReader(stdin), out: &out, err: &errOut})
	return runResult{code: code, stdout: out.String(), stderr: errOut.String()}
}

func clearCLIEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"THUB_STORE", "THUB_CONFIG", "THUB_DB_PATH", "THUB_PASSWORD"} {
		t.Setenv(key, "")
	}
}

func openFileStore(t *testing.T, path string) store.Store {
	t.Helper()
	st, err := store.Open(store.BackendFile, path, store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUnknownCommandIsUsageError(t *testing.T) {
	res := runCLI(t, "", "frobnicate")
	if res.code != 2 {
		t.Fatalf("expected exit 2, got %d", res.code)
	}
	if !strings.Contains(res.stderr, "unknown command: frobnicate") {
		t.Fatalf("unexpected stderr %q", res.stderr)
	}
	if res := runCLI(t, ""); res.code != 2 {
		t.Fatalf("expected exit 2 without args, got %d", res.code)
	}
}

func TestVersionAndHelp(t *testing.T) {
	res := runCLI(t, "", "version")
	if res.code != 0 || !strings.HasPrefix(res.stdout, "thub ") {
		t.Fatalf("unexpected version output %d %q", res.code, res.stdout)
	}
	res = runCLI(t, "", "help")
	if res.code != 0 || !strings.Contains(res.stdout, "thub adduser") {
		t.Fatalf("unexpected help output %d %q", res.code, res.stdout)
	}
}

func TestAddUserFromStdinAndDuplicates(t *testing.T) {
	clearCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.json")

	res := runCLI(t, "s3cret-pass\n", "adduser", "--config", cfgPath, "alice")
	if res.code != 0 {
		t.Fatalf("adduser failed: %d %s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "added user: alice") {
		t.Fatalf("unexpected stdout %q", res.stdout)
	}

	st := openFileStore(t, cfgPath)
	cred, ok, err := st.LookupCredential(context.Background(), "alice")
	if err != nil || !ok {
		t.Fatalf("expected alice stored, ok=%v err=%v", ok, err)
	}
	if valid, err := auth.VerifyPassword(cred, "s3cret-pass"); err != nil || !valid {
		t.Fatalf("stored password does not verify: %v %v", valid, err)
	}

	res = runCLI(t, "other\n", "adduser", "--config", cfgPath, "alice")
	if res.code != 1 || !strings.Contains(res.stderr, "already exists") {
		t.Fatalf("expected duplicate warning, got %d %q", res.code, res.stderr)
	}

	res = runCLI(t, "", "adduser", "--config", cfgPath, "--force", "--password", "replaced", "alice")
	if res.code != 0 {
		t.Fatalf("adduser --force failed: %d %s", res.code, res.stderr)
	}
	cred, _, _ = st.LookupCredential(context.Background(), "alice")
	if valid, _ := auth.VerifyPassword(cred, "replaced"); !valid {
		t.Fatal("expected --force to replace the password")
	}
}

func TestAddUserPasswordFromEnv(t *testing.T) {
	clearCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("THUB_CONFIG", cfgPath)
	t.Setenv("THUB_PASSWORD", "from-env")

	if res := runCLI(t, "", "adduser", "bob"); res.code != 0 {
		t.Fatalf("adduser failed: %d %s", res.code, res.stderr)
	}
	cred, ok, _ := openFileStore(t, cfgPath).LookupCredential(context.Background(), "bob")
	if !ok {
		t.Fatal("expected bob stored")
	}
	if valid, _ := auth.VerifyPassword(cred, "from-env"); !valid {
		t.Fatal("expected THUB_PASSWORD to be used")
	}
}

func TestAddUserUsageErrors(t *testing.T) {
	clearCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.json")

	if res := runCLI(t, "pw\n", "adduser", "--config", cfgPath); res.code != 2 {
		t.Fatalf("expected exit 2 without username, got %d", res.code)
	}
	if res := runCLI(t, "\n", "adduser", "--config", cfgPath, "carol"); res.code != 2 {
		t.Fatalf("expected exit 2 for empty password, got %d", res.code)
	}
	if res := runCLI(t, "pw\n", "adduser", "--store", "redis", "carol"); res.code != 1 {
		t.Fatalf("expected exit 1 for bad store, got %d", res.code)
	}
}

func TestUsersAndDelUser(t *testing.T) {
	clearCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	for _, name := range []string{"zed", "amy"} {
		if res := runCLI(t, "pw\n", "adduser", "--config", cfgPath, name); res.code != 0 {
			t.Fatalf("adduser %s failed: %s", name, res.stderr)
		}
	}

	res := runCLI(t, "", "users", "--config", cfgPath)
	if res.code != 0 || res.stdout != "amy\nzed\n" {
		t.Fatalf("unexpected users output %d %q", res.code, res.stdout)
	}

	if res := runCLI(t, "", "deluser", "--config", cfgPath, "zed"); res.code != 0 {
		t.Fatalf("deluser failed: %s", res.stderr)
	}
	res = runCLI(t, "", "deluser", "--config", cfgPath, "zed")
	if res.code != 1 || !strings.Contains(res.stderr, domain.ErrUserNotFound.Error()) {
		t.Fatalf("expected not found, got %d %q", res.code, res.stderr)
	}
	if res := runCLI(t, "", "users", "--config", cfgPath); res.stdout != "amy\n" {
		t.Fatalf("unexpected users after delete %q", res.stdout)
	}
}

func TestProxyCommands(t *testing.T) {
	clearCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.json")

	res := runCLI(t, "", "proxy", "add", "--config", cfgPath, "-H", "Authorization: Bearer sk-live", "-H", "X-Org: acme", "openai", "https://api.openai.com/v1")
	if res.code != 0 {
		t.Fatalf("proxy add failed: %d %s", res.code, res.stderr)
	}
	route, ok, err := openFileStore(t, cfgPath).LookupRoute(context.Background(), "openai")
	if err != nil || !ok {
		t.Fatalf("expected route stored, ok=%v err=%v", ok, err)
	}
	if route.BaseURL != "https://api.openai.com/v1" || route.Headers["Authorization"] != "Bearer sk-live" || route.Headers["X-Org"] != "acme" {
		t.Fatalf("unexpected route %+v", route)
	}

	res = runCLI(t, "", "proxy", "list", "--config", cfgPath)
	if res.code != 0 {
		t.Fatalf("proxy list failed: %s", res.stderr)
	}
	if res.stdout != "openai\thttps://api.openai.com/v1\theaders=Authorization,X-Org\n" {
		t.Fatalf("unexpected list output %q", res.stdout)
	}
	if strings.Contains(res.stdout, "sk-live") {
		t.Fatal("header values must not be printed")
	}

	if res := runCLI(t, "", "proxy", "rm", "--config", cfgPath, "openai"); res.code != 0 {
		t.Fatalf("proxy rm failed: %s", res.stderr)
	}
	if res := runCLI(t, "", "proxy", "rm", "--config", cfgPath, "openai"); res.code != 1 {
		t.Fatalf("expected exit 1 removing a missing route, got %d", res.code)
	}
}

func TestProxyAddValidation(t *testing.T) {
	clearCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.json")

	cases := [][]string{
		{"proxy", "add", "--config", cfgPath, "api", "ftp://example.com"},
		{"proxy", "add", "--config", cfgPath, "api", "https://"},
		{"proxy", "add", "--config", cfgPath, "only-name"},
		{"proxy", "add", "--config", cfgPath, "-H", "no-colon", "api", "https://example.com"},
		{"proxy"},
		{"proxy", "edit"},
	}
	for _, args := range cases {
		if res := runCLI(t, "", args...); res.code != 2 {
			t.Fatalf("%v: expected exit 2, got %d (%s)", args, res.code, res.stderr)
		}
	}
}

func TestSecretRotate(t *testing.T) {
	clearCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	st := openFileStore(t, cfgPath)
	ctx := context.Background()
	before, err := st.EnsureJWTSecret(ctx, auth.GenerateSecret)
	if err != nil {
		t.Fatal(err)
	}

	if res := runCLI(t, "", "secret", "rotate", "--config", cfgPath); res.code != 0 {
		t.Fatalf("secret rotate failed: %d %s", res.code, res.stderr)
	}
	after, err := openFileStore(t, cfgPath).EnsureJWTSecret(ctx, auth.GenerateSecret)
	if err != nil {
		t.Fatal(err)
	}
	if after == "" || after == before {
		t.Fatalf("expected a new secret, before=%q after=%q", before, after)
	}

	if res := runCLI(t, "", "secret"); res.code != 2 {
		t.Fatalf("expected exit 2 without subcommand, got %d", res.code)
	}
}

func TestImportIntoSQLite(t *testing.T) {
	clearCLIEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	dbPath := filepath.Join(dir, "thub.db")

	src := openFileStore(t, cfgPath)
	ctx := context.Background()
	hash, salt, err := auth.HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	if err := src.PutUser(ctx, domain.Credential{Username: "alice", PasswordHash: hash, Salt: salt}, false); err != nil {
		t.Fatal(err)
	}
	if err := src.PutRoute(ctx, domain.ProxyRoute{Name: "gh", BaseURL: "https://api.github.com"}); err != nil {
		t.Fatal(err)
	}

	res := runCLI(t, "", "import", "--from", cfgPath, "--db", dbPath)
	if res.code != 0 {
		t.Fatalf("import failed: %d %s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "imported 1 users and 1 routes") {
		t.Fatalf("unexpected stdout %q", res.stdout)
	}

	dst, err := store.Open(store.BackendSQLite, dbPath, store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = dst.Close() }()
	if _, ok, _ := dst.LookupCredential(ctx, "alice"); !ok {
		t.Fatal("expected alice imported")
	}
	if _, ok, _ := dst.LookupRoute(ctx, "gh"); !ok {
		t.Fatal("expected gh route imported")
	}

	if res := runCLI(t, "", "import", "--db", dbPath); res.code != 2 {
		t.Fatalf("expected exit 2 without --from, got %d", res.code)
	}
	if res := runCLI(t, "", "import", "--from", filepath.Join(dir, "missing.json"), "--db", dbPath); res.code != 1 {
		t.Fatalf("expected exit 1 for missing source, got %d", res.code)
	}
}

func TestServeRequiresConfigFile(t *testing.T) {
	clearServeEnv(t)
	missing := filepath.Join(t.TempDir(), "config.json")

	res := runCLI(t, "", "serve", "--config", missing, "--listen", "127.0.0.1:0")
	if res.code != 1 || !strings.Contains(res.stderr, "not found") {
		t.Fatalf("expected missing config error, got %d %q", res.code, res.stderr)
	}
	if res := runCLI(t, "", "serve", "--tls-mode", "bogus"); res.code != 2 {
		t.Fatalf("expected exit 2 for bad flags, got %d", res.code)
	}
}

func TestServeRunsUntilCancelled(t *testing.T) {
	clearServeEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	if res := runCLI(t, "pw\n", "adduser", "--config", cfgPath, "alice"); res.code != 0 {
		t.Fatalf("adduser failed: %s", res.stderr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out, errOut bytes.Buffer
	code := run(ctx, []string{"serve", "--config", cfgPath, "--listen", "127.0.0.1:0", "--static-root", dir, "--watch-config=false"},
		streams{in: strings.NewReader(""), out: &out, err: &errOut})
	if code != 0 {
		t.Fatalf("serve exited %d: %s", code, errOut.String())
	}
	for _, event := range []string{"application_startup", "configuration_loaded", "user_count=1", "application_shutdown"} {
		if !strings.Contains(out.String(), event) {
			t.Fatalf("expected %q in log output:\n%s", event, out.String())
		}
	}
}

func clearServeEnv(t *testing.T) {
	t.Helper()
	clearCLIEnv(t)
	for _, key := range []string{
		"THUB_LISTEN", "THUB_STATIC_ROOT", "THUB_LOG_LEVEL", "THUB_LOG_FORMAT", "THUB_TLS_MODE",
		"THUB_DEBUG_LISTEN", "THUB_HTTP3", "THUB_WATCH_CONFIG",
	} {
		t.Setenv(key, "")
	}
	// serve loads ./.env; run from an empty directory so a developer's file
	// does not leak into the test.
	t.Chdir(t.TempDir())
}

func TestLoadEnvFromDotEnv(t *testing.T) {
	t.Setenv("THUB_LISTEN", "")
	t.Setenv("THUB_LOG_LEVEL", "warn")
	t.Setenv("OTHER_VAR", "")
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "THUB_LISTEN=:9000\nexport THUB_LOG_LEVEL=debug\nOTHER_VAR=skip\n# comment\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	loadEnvFromDotEnv(envPath)

	if got := os.Getenv("THUB_LISTEN"); got != ":9000" {
		t.Fatalf("expected THUB_LISTEN loaded from file, got %q", got)
	}
	if got := os.Getenv("THUB_LOG_LEVEL"); got != "warn" {
		t.Fatalf("expected existing env to win, got %q", got)
	}
	if got := os.Getenv("OTHER_VAR"); got != "" {
		t.Fatalf("expected non-THUB var not to be loaded, got %q", got)
	}
}

func TestParseEnvAssignment(t *testing.T) {
	tests := []struct {
		line  string
		key   string
		value string
		ok    bool
	}{
		{line: "A=1", key: "A", value: "1", ok: true},
		{line: "  export B = two ", key: "B", value: "two", ok: true},
		{line: `C="quoted value"`, key: "C", value: "quoted value", ok: true},
		{line: "D='single'", key: "D", value: "single", ok: true},
		{line: "# comment", ok: false},
		{line: "", ok: false},
		{line: "NOEQUALS", ok: false},
		{line: "BAD KEY=1", ok: false},
	}
	for _, tt := range tests {
		key, value, ok := parseEnvAssignment(tt.line)
		if key != tt.key || value != tt.value || ok != tt.ok {
			t.Fatalf("parseEnvAssignment(%q) = (%q, %q, %v), want (%q, %q, %v)", tt.line, key, value, ok, tt.key, tt.value, tt.ok)
		}
	}
}
