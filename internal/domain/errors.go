package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrUnauthorized indicates missing, invalid, or expired credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotConfigured means the requested proxy API name has no route.
	ErrNotConfigured = errors.New("api not configured")

	// ErrUpstream wraps transport failures talking to a proxied API.
	ErrUpstream = errors.New("upstream request failed")

	// ErrSecretPersist is returned when a freshly generated signing secret
	// cannot be written back to the config store.
	ErrSecretPersist = errors.New("persist jwt secret")

	// ErrUserExists is returned when adding a user that is already present.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound means the requested username does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrRouteNotFound means the requested proxy route does not exist.
	ErrRouteNotFound = errors.New("proxy route not found")

	// ErrInvalidSalt indicates a stored credential whose salt is not valid hex.
	ErrInvalidSalt = errors.New("invalid password salt")
)

// ProxyError wraps an underlying error with proxy route context.
type ProxyError struct {
	API string
	Op  string
	Err error
}

func (e *ProxyError) Error() string {
	if e.API != "" {
		return fmt.Sprintf("proxy %s: %s: %v", e.API, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}
