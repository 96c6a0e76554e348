package credentials

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// KeyringBackend stores records in the desktop secret service
// (GNOME Keyring, KWallet) through D-Bus
type KeyringBackend struct {
	service string
}

func NewKeyringBackend() *KeyringBackend {
	return &KeyringBackend{service: Service}
}

func (b *KeyringBackend) Get(key string) ([]byte, error) {
	secret, err := keyring.Get(b.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

func (b *KeyringBackend) Set(key string, value []byte) error {
	return keyring.Set(b.service, key, string(value))
}

func (b *KeyringBackend) Delete(key string) error {
	if err := keyring.Delete(b.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
