package jsonfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thub/thub/internal/domain"
)

// fileConfig is the on-disk shape. It matches the historical config.json
// layout so existing files load unchanged.
type fileConfig struct {
	Users   map[string]fileCredential `json:"users" yaml:"users"`
	Proxies map[string]fileRoute      `json:"proxies" yaml:"proxies"`
	JWT     *fileJWT                  `json:"jwt" yaml:"jwt"`
}

type fileRoute struct {
	BaseURL string            `json:"base_url" yaml:"base_url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type fileJWT struct {
	Secret      *string `json:"secret" yaml:"secret"`
	ExpiryHours int     `json:"expiry_hours" yaml:"expiry_hours"`
}

// fileCredential accepts both the legacy ["hash", "salt"] pair and the
// {"password_hash": ..., "salt": ...} object. It is always written as an
// object.
type fileCredential struct {
	PasswordHash string `json:"password_hash" yaml:"password_hash"`
	Salt         string `json:"salt" yaml:"salt"`
}

type credentialObject fileCredential

func (c *fileCredential) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []string
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		return c.fromPair(pair)
	}
	var obj credentialObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*c = fileCredential(obj)
	return nil
}

func (c *fileCredential) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var pair []string
		if err := node.Decode(&pair); err != nil {
			return err
		}
		return c.fromPair(pair)
	}
	var obj credentialObject
	if err := node.Decode(&obj); err != nil {
		return err
	}
	*c = fileCredential(obj)
	return nil
}

func (c *fileCredential) fromPair(pair []string) error {
	if len(pair) != 2 {
		return fmt.Errorf("credential pair must have 2 elements, got %d", len(pair))
	}
	c.PasswordHash, c.Salt = pair[0], pair[1]
	return nil
}

type codec interface {
	marshal(fileConfig) ([]byte, error)
	unmarshal([]byte, *fileConfig) error
}

type jsonCodec struct{}

func (jsonCodec) marshal(fc fileConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (jsonCodec) unmarshal(data []byte, fc *fileConfig) error {
	return json.Unmarshal(data, fc)
}

type yamlCodec struct{}

func (yamlCodec) marshal(fc fileConfig) ([]byte, error) {
	return yaml.Marshal(fc)
}

func (yamlCodec) unmarshal(data []byte, fc *fileConfig) error {
	return yaml.Unmarshal(data, fc)
}

func codecForPath(path string) codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlCodec{}
	default:
		return jsonCodec{}
	}
}

func decodeConfig(c codec, data []byte) (domain.Config, error) {
	cfg := domain.NewConfig()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	var fc fileConfig
	if err := c.unmarshal(data, &fc); err != nil {
		return cfg, err
	}
	for name, u := range fc.Users {
		cfg.Users[name] = domain.Credential{Username: name, PasswordHash: u.PasswordHash, Salt: u.Salt}
	}
	for name, r := range fc.Proxies {
		cfg.Proxies[name] = domain.ProxyRoute{Name: name, BaseURL: r.BaseURL, Headers: r.Headers}
	}
	if fc.JWT != nil {
		if fc.JWT.Secret != nil {
			cfg.JWT.Secret = *fc.JWT.Secret
		}
		cfg.JWT.ExpiryHours = fc.JWT.ExpiryHours
	}
	cfg.Normalize()
	return cfg, nil
}

func encodeConfig(c codec, cfg domain.Config) ([]byte, error) {
	cfg.Normalize()
	fc := fileConfig{
		Users:   make(map[string]fileCredential, len(cfg.Users)),
		Proxies: make(map[string]fileRoute, len(cfg.Proxies)),
		JWT:     &fileJWT{ExpiryHours: cfg.JWT.ExpiryHours},
	}
	for name, u := range cfg.Users {
		fc.Users[name] = fileCredential{PasswordHash: u.PasswordHash, Salt: u.Salt}
	}
	for name, r := range cfg.Proxies {
		fc.Proxies[name] = fileRoute{BaseURL: r.BaseURL, Headers: r.Headers}
	}
	if cfg.JWT.Secret != "" {
		secret := cfg.JWT.Secret
		fc.JWT.Secret = &secret
	}
	return c.marshal(fc)
}
