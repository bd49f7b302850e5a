package cli

import (
	"github.com/thub/thub/internal/config"
	"github.com/thub/thub/internal/store"
)

// openAdminStore opens the store the admin commands edit. The file watcher
// stays off because the process exits right after the write.
func openAdminStore(sc *config.StoreConfig) (store.Store, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return store.Open(sc.Backend, sc.Path(), store.Options{})
}
