package domain

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// SecretKind identifies how a secret reference is resolved.
type SecretKind int

// Secret kinds.
const (
	// SecretLiteral is the stored value itself.
	SecretLiteral SecretKind = iota
	// SecretEnv names an environment variable holding the value.
	SecretEnv
	// SecretInline is a value sealed with the service secret key.
	SecretInline
)

const (
	secretEnvPrefix    = "ENV:"
	secretInlinePrefix = "KEY:"
	secretNonceSize    = 24
)

// Secret errors.
var (
	ErrSecretEnvUnset   = errors.New("secret environment variable is not set")
	ErrSecretKeyMissing = errors.New("secret key is not configured")
	ErrSecretMalformed  = errors.New("sealed secret is malformed")
)

// SecretRef is a parsed reference to an SMTP password.
type SecretRef struct {
	Kind  SecretKind
	Value string
}

// ParseSecretRef parses the stored form: "ENV:<name>", "KEY:<sealed>", or a literal.
func ParseSecretRef(raw string) SecretRef {
	switch {
	case strings.HasPrefix(raw, secretEnvPrefix):
		return SecretRef{Kind: SecretEnv, Value: strings.TrimPrefix(raw, secretEnvPrefix)}
	case strings.HasPrefix(raw, secretInlinePrefix):
		return SecretRef{Kind: SecretInline, Value: strings.TrimPrefix(raw, secretInlinePrefix)}
	default:
		return SecretRef{Kind: SecretLiteral, Value: raw}
	}
}

// String returns the stored form of the reference.
func (r SecretRef) String() string {
	switch r.Kind {
	case SecretEnv:
		return secretEnvPrefix + r.Value
	case SecretInline:
		return secretInlinePrefix + r.Value
	default:
		return r.Value
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r SecretRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *SecretRef) UnmarshalText(text []byte) error {
	*r = ParseSecretRef(string(text))
	return nil
}

// ResolveSecret returns the plain secret for ref.
// lookupEnv is consulted only for SecretEnv references; key only for SecretInline ones.
func ResolveSecret(ref SecretRef, lookupEnv func(string) (string, bool), key *[32]byte) (string, error) {
	switch ref.Kind {
	case SecretEnv:
		if lookupEnv == nil {
			return "", fmt.Errorf("%w: %s", ErrSecretEnvUnset, ref.Value)
		}
		value, ok := lookupEnv(ref.Value)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrSecretEnvUnset, ref.Value)
		}
		return value, nil
	case SecretInline:
		return openSecret(ref.Value, key)
	default:
		return ref.Value, nil
	}
}

// SealSecret seals plain with key and returns the "KEY:" stored form.
func SealSecret(plain string, key *[32]byte) (string, error) {
	if key == nil {
		return "", ErrSecretKeyMissing
	}
	var nonce [secretNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, key)
	return secretInlinePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func openSecret(encoded string, key *[32]byte) (string, error) {
	if key == nil {
		return "", ErrSecretKeyMissing
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretMalformed, err)
	}
	if len(raw) < secretNonceSize+secretbox.Overhead {
		return "", ErrSecretMalformed
	}
	var nonce [secretNonceSize]byte
	copy(nonce[:], raw[:secretNonceSize])
	plain, ok := secretbox.Open(nil, raw[secretNonceSize:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("%w: authentication failed", ErrSecretMalformed)
	}
	return string(plain), nil
}

// ParseSecretKey decodes a base64 encoded 32-byte key. An empty string yields nil.
func ParseSecretKey(encoded string) (*[32]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
