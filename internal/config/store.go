package config

import (
	"errors"
	"flag"
	"strings"
)

// Store backends accepted by --store.
const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
)

// StoreConfig locates the config store. The admin subcommands bind only
// these flags.
type StoreConfig struct {
	Backend    string
	ConfigPath string
	DBPath     string
}

// BindStoreFlags registers --store, --config and --db on fs with THUB_*
// env defaults.
func BindStoreFlags(fs *flag.FlagSet) *StoreConfig {
	c := &StoreConfig{
		Backend:    envOrDefault("THUB_STORE", StoreBackendFile),
		ConfigPath: envOrDefault("THUB_CONFIG", defaultServerConfigPath),
		DBPath:     envOrDefault("THUB_DB_PATH", defaultServerDBPath),
	}
	fs.StringVar(&c.Backend, "store", c.Backend, "Config store backend: file|sqlite")
	fs.StringVar(&c.ConfigPath, "config", c.ConfigPath, "JSON/YAML config file (file store)")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path (sqlite store)")
	return c
}

// Validate normalizes the backend name and checks that its path is set.
func (c *StoreConfig) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case "", StoreBackendFile:
		c.Backend = StoreBackendFile
		if strings.TrimSpace(c.ConfigPath) == "" {
			return errors.New("missing --config or THUB_CONFIG")
		}
	case StoreBackendSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return errors.New("missing --db or THUB_DB_PATH")
		}
	default:
		return errors.New("store must be one of: file, sqlite")
	}
	return nil
}

// Path is the path the selected backend opens.
func (c StoreConfig) Path() string {
	if c.Backend == StoreBackendSQLite {
		return c.DBPath
	}
	return c.ConfigPath
}
