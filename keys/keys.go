// Package keys stores the credential pair of each namespace and implements the
// "save API keys" action used to change it.
//
// Keys are kept as named options, "<namespace>_api_public_key" and
// "<namespace>_api_secret_key", in a Store.
package keys

import (
	"context"
	"fmt"

	"secure-xmlrpc/message"
)

// Messages reported by Save.
const (
	PublicKeyUpdated = "Public Key has been updated."
	SecretKeyUpdated = "Secret Key has been updated."
	NothingUpdated   = "Nothing has been updated."
)

// Credentials is the shared-secret pair of one namespace.
type Credentials struct {
	PublicKey string `yaml:"public_key" json:"public_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
}

// Validate returns message.ErrMissingCredentials unless both keys are set.
func (c Credentials) Validate() error {
	if c.PublicKey == "" || c.SecretKey == "" {
		return message.ErrMissingCredentials
	}
	return nil
}

// PublicKeyOption and SecretKeyOption name the options holding a namespace's
// keys.
func PublicKeyOption(namespace string) string { return namespace + "_api_public_key" }
func SecretKeyOption(namespace string) string { return namespace + "_api_secret_key" }

// Store is a flat option store.
type Store interface {
	// Get returns the option value and whether it exists.
	Get(ctx context.Context, name string) (string, bool, error)
	// Set stores value and reports whether the stored value changed.
	Set(ctx context.Context, name, value string) (bool, error)
}

// Result is the outcome of Save, encoded as {"success":…,"message":[…]}.
type Result struct {
	Success  bool     `json:"success"`
	Messages []string `json:"message"`
}

// Manager reads and updates namespace credentials in a Store.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Save stores both keys of namespace. Success is true when at least one of
// them changed; an unchanged key adds no message.
func (m *Manager) Save(ctx context.Context, namespace string, creds Credentials) (Result, error) {
	var res Result

	changed, err := m.store.Set(ctx, PublicKeyOption(namespace), creds.PublicKey)
	if err != nil {
		return Result{}, fmt.Errorf("keys: save public key: %w", err)
	}
	if changed {
		res.Messages = append(res.Messages, PublicKeyUpdated)
		res.Success = true
	}

	changed, err = m.store.Set(ctx, SecretKeyOption(namespace), creds.SecretKey)
	if err != nil {
		return Result{}, fmt.Errorf("keys: save secret key: %w", err)
	}
	if changed {
		res.Messages = append(res.Messages, SecretKeyUpdated)
		res.Success = true
	}

	if len(res.Messages) == 0 {
		res.Messages = []string{NothingUpdated}
	}
	return res, nil
}

// Load returns the stored credentials of namespace. Missing options yield
// empty keys; use Credentials.Validate to require both.
func (m *Manager) Load(ctx context.Context, namespace string) (Credentials, error) {
	public, _, err := m.store.Get(ctx, PublicKeyOption(namespace))
	if err != nil {
		return Credentials{}, fmt.Errorf("keys: load public key: %w", err)
	}
	secret, _, err := m.store.Get(ctx, SecretKeyOption(namespace))
	if err != nil {
		return Credentials{}, fmt.Errorf("keys: load secret key: %w", err)
	}
	return Credentials{PublicKey: public, SecretKey: secret}, nil
}
