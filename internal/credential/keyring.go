// Package credential resolves secrets from the environment or the system
// keyring. Secrets are never stored in the config file.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "quickans"

// Keyring item keys.
const (
	KeyMailboxPassword = "mailbox-password"
	KeyOpenAI          = "openai-api-key"
	KeyAnthropic       = "anthropic-api-key"
	KeyGemini          = "gemini-api-key"
)

// ErrNotFound is returned when a secret is in neither the environment nor
// the keyring.
var ErrNotFound = errors.New("credential not found")

// commonEnv lists the provider-standard variable checked after the
// QUICKANS_ one.
var commonEnv = map[string]string{
	KeyOpenAI:    "OPENAI_API_KEY",
	KeyAnthropic: "ANTHROPIC_API_KEY",
	KeyGemini:    "GEMINI_API_KEY",
}

// LLMKey returns the keyring key holding the API key for provider.
func LLMKey(provider string) string {
	return provider + "-api-key"
}

// EnvName returns the QUICKANS_ environment variable for key,
// e.g. QUICKANS_MAILBOX_PASSWORD.
func EnvName(key string) string {
	return "QUICKANS_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Store looks secrets up in the environment first, then the keyring.
type Store struct {
	getenv func(string) string
	open   func() (keyring.Keyring, error)

	once    sync.Once
	ring    keyring.Keyring
	ringErr error
}

// Open returns a Store backed by the system keyring. The keyring itself
// is opened on first use so environment-only setups never touch it.
func Open() *Store {
	return &Store{getenv: os.Getenv, open: openKeyring}
}

// NewStore returns a Store over ring with the given environment lookup.
func NewStore(ring keyring.Keyring, getenv func(string) string) *Store {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	return &Store{
		getenv: getenv,
		open:   func() (keyring.Keyring, error) { return ring, nil },
	}
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/quickans/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("quickans-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func (s *Store) keyring() (keyring.Keyring, error) {
	s.once.Do(func() {
		s.ring, s.ringErr = s.open()
	})
	return s.ring, s.ringErr
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	if v := s.getenv(EnvName(key)); v != "" {
		return v, nil
	}
	if name, ok := commonEnv[key]; ok {
		if v := s.getenv(name); v != "" {
			return v, nil
		}
	}

	ring, err := s.keyring()
	if err != nil {
		return "", fmt.Errorf("%w: %s (set %s or run quickans setup): %v", ErrNotFound, key, EnvName(key), err)
	}

	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: %s (set %s or run quickans setup)", ErrNotFound, key, EnvName(key))
		}
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the keyring.
func (s *Store) Set(key string, value string) error {
	ring, err := s.keyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "QuickAns " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the keyring.
func (s *Store) Delete(key string) error {
	ring, err := s.keyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
