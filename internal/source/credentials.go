package source

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// ErrCredentialStoreUnavailable means the store could not answer, as opposed to
// answering that a key is absent
var ErrCredentialStoreUnavailable = errors.New("credential store unavailable")

// CredentialStore resolves per-source API keys by name. found=false means absent;
// found=true with an empty value means present but empty.
type CredentialStore interface {
	Lookup(name string) (value string, found bool, err error)
}

// EnvKeyringStore checks the environment, then optionally the OS keyring
type EnvKeyringStore struct {
	keyringEnabled bool
	service        string
	lookupEnv      func(string) (string, bool)
	keyringGet     func(service, user string) (string, error)
}

// NewEnvKeyringStore creates a store. service groups the importer's keys in the keyring.
func NewEnvKeyringStore(keyringEnabled bool, service string) *EnvKeyringStore {
	return &EnvKeyringStore{
		keyringEnabled: keyringEnabled,
		service:        service,
		lookupEnv:      os.LookupEnv,
		keyringGet:     keyring.Get,
	}
}

// Lookup implements CredentialStore
func (s *EnvKeyringStore) Lookup(name string) (string, bool, error) {
	if v, ok := s.lookupEnv(name); ok {
		return v, true, nil
	}
	if !s.keyringEnabled {
		return "", false, nil
	}

	v, err := s.keyringGet(s.service, name)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, keyring.ErrNotFound):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: keyring lookup %s: %v", ErrCredentialStoreUnavailable, name, err)
	}
}

// StoreKeyringCredential saves value under name in the OS keyring
func StoreKeyringCredential(service, name, value string) error {
	if name == "" {
		return errors.New("credential name is empty")
	}
	return keyring.Set(service, name, value)
}

// StaticCredentials is a fixed set of keys
type StaticCredentials map[string]string

// Lookup implements CredentialStore
func (c StaticCredentials) Lookup(name string) (string, bool, error) {
	v, ok := c[name]
	return v, ok, nil
}
