package cli

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/thub/thub/internal/versionutil"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `thub - authenticated hub for WebSocket channels, API proxying and static files

Usage:
  thub serve [flags]                       Start the hub server
  thub adduser [flags] <name>              Add a user (password from --password, THUB_PASSWORD or stdin)
                                           --force replaces an existing user
  thub deluser [flags] <name>              Remove a user
  thub users [flags]                       List users
  thub proxy add [flags] <name> <base_url> Add or replace an API route
                                           -H 'Header: value' may be repeated
  thub proxy rm [flags] <name>             Remove an API route
  thub proxy list [flags]                  List API routes
  thub secret rotate [flags]               Replace the token signing secret (invalidates all sessions)
  thub import --from config.json [flags]   Copy a config file into the selected store
  thub version                             Print version
  thub help                                Show this help

Store flags (all admin commands):
  --store file|sqlite                      Config store backend (default: file)
  --config PATH                            JSON/YAML config file (default: ./config.json)
  --db PATH                                SQLite database path (default: ./thub.db)

Environment Variables:
  THUB_LISTEN             Listen address (default: :8000)
  THUB_CONFIG             Config file path (default: ./config.json)
  THUB_STORE              Store backend: file|sqlite (default: file)
  THUB_DB_PATH            SQLite database path (default: ./thub.db)
  THUB_STATIC_ROOT        Directory served to signed-in users (default: ./static)
  THUB_TLS_MODE           TLS mode: off|files|auto-pem|acme (default: off)
  THUB_LOG_LEVEL          Log level: debug|info|warn|error (default: info)
  THUB_LOG_FORMAT         Log format: text|json (default: text)
  THUB_DEBUG_LISTEN       pprof and /metrics listen address (default: disabled)
  THUB_PASSWORD           Password for adduser`)
}

// Version is set at build time via -ldflags.
var Version = versionutil.Dev

func init() {
	Version = versionutil.Resolve(Version, gitDescribe)
}

func gitDescribe() (string, error) {
	out, err := exec.Command("git", "describe", "--tags", "--always").Output()
	return string(out), err
}

func printVersion(w io.Writer) {
	_, _ = fmt.Fprintln(w, "thub", Version)
}
