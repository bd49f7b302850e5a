// Package auth implements password verification, signed session tokens,
// and the request gate shared by the channel and proxy routes.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/thub/thub/internal/domain"
)

const saltBytes = 32

// dummySalt keeps the unknown-user path doing the same hashing work as a
// real comparison.
var dummySalt = strings.Repeat("00", saltBytes)

// CredentialLookup resolves a stored credential by username.
type CredentialLookup interface {
	LookupCredential(ctx context.Context, username string) (domain.Credential, bool, error)
}

// GenerateSecret returns a cryptographically random, URL-safe secret string.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashPassword returns the hex sha256(salt || password) digest and the hex
// encoding of the freshly generated 32-byte salt.
func HashPassword(password string) (hashHex, saltHex string, err error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("crypto/rand: %w", err)
	}
	saltHex = hex.EncodeToString(salt)
	return digest(salt, password), saltHex, nil
}

// VerifyPassword recomputes the salted digest for password and compares it
// with the stored hash in constant time. A salt that is not valid hex is a
// configuration error and is reported as [domain.ErrInvalidSalt].
func VerifyPassword(cred domain.Credential, password string) (bool, error) {
	salt, err := hex.DecodeString(strings.TrimSpace(cred.Salt))
	if err != nil {
		return false, fmt.Errorf("%w for user %q: %v", domain.ErrInvalidSalt, cred.Username, err)
	}
	got := digest(salt, password)
	want := strings.ToLower(strings.TrimSpace(cred.PasswordHash))
	return ConstantTimeHashEquals(got, want), nil
}

// ConstantTimeHashEquals compares two hex hash strings in constant time.
func ConstantTimeHashEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func digest(salt []byte, password string) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	return hex.EncodeToString(h.Sum(nil))
}

// Verifier checks username/password pairs against a credential lookup.
type Verifier struct {
	lookup CredentialLookup
}

// NewVerifier returns a Verifier backed by lookup.
func NewVerifier(lookup CredentialLookup) *Verifier {
	return &Verifier{lookup: lookup}
}

// Verify reports whether password matches the stored credential for
// username. Unknown users fail closed with no error.
func (v *Verifier) Verify(ctx context.Context, username, password string) (bool, error) {
	cred, ok, err := v.lookup.LookupCredential(ctx, username)
	if err != nil {
		return false, err
	}
	if !ok {
		_, _ = VerifyPassword(domain.Credential{Salt: dummySalt}, password)
		return false, nil
	}
	return VerifyPassword(cred, password)
}
