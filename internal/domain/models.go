// Package domain defines the core data types shared across the thub
// server, config stores, channel registry, and proxy layers.
package domain

import "time"

// DefaultJWTExpiryHours is the token lifetime used when configuration does
// not specify one.
const DefaultJWTExpiryHours = 24

// SessionCookieName is the cookie that carries the signed session token.
const SessionCookieName = "session"

// Credential is a stored login record. PasswordHash and Salt are hex
// encodings of 32-byte values; the hash is sha256(salt || password).
type Credential struct {
	Username     string
	PasswordHash string
	Salt         string
}

// ProxyRoute maps a logical API name to an upstream base URL and the static
// headers injected into every forwarded request.
type ProxyRoute struct {
	Name    string
	BaseURL string
	Headers map[string]string
}

// JWTSettings holds the shared signing secret and token lifetime.
type JWTSettings struct {
	Secret      string
	ExpiryHours int
}

// Config is the full configuration shape persisted by a config store.
type Config struct {
	Users   map[string]Credential
	Proxies map[string]ProxyRoute
	JWT     JWTSettings
}

// NewConfig returns an empty configuration with defaults applied.
func NewConfig() Config {
	return Config{
		Users:   map[string]Credential{},
		Proxies: map[string]ProxyRoute{},
		JWT:     JWTSettings{ExpiryHours: DefaultJWTExpiryHours},
	}
}

// Normalize fills nil maps and a non-positive expiry with defaults.
func (c *Config) Normalize() {
	if c.Users == nil {
		c.Users = map[string]Credential{}
	}
	if c.Proxies == nil {
		c.Proxies = map[string]ProxyRoute{}
	}
	if c.JWT.ExpiryHours <= 0 {
		c.JWT.ExpiryHours = DefaultJWTExpiryHours
	}
	for name, u := range c.Users {
		if u.Username == "" {
			u.Username = name
			c.Users[name] = u
		}
	}
	for name, r := range c.Proxies {
		if r.Name == "" {
			r.Name = name
			c.Proxies[name] = r
		}
	}
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := Config{
		Users:   make(map[string]Credential, len(c.Users)),
		Proxies: make(map[string]ProxyRoute, len(c.Proxies)),
		JWT:     c.JWT,
	}
	for k, v := range c.Users {
		out.Users[k] = v
	}
	for k, v := range c.Proxies {
		out.Proxies[k] = v.Clone()
	}
	return out
}

// Clone returns a copy of r with its own header map.
func (r ProxyRoute) Clone() ProxyRoute {
	if r.Headers != nil {
		h := make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			h[k] = v
		}
		r.Headers = h
	}
	return r
}

// Member is one authenticated connection participating in a channel. ID is
// stable for the lifetime of the connection and unrelated to the socket.
type Member struct {
	ID       string
	Username string
	Channel  string
	JoinedAt time.Time
}
