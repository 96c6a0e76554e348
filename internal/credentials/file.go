package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bnema/waybar-pulse/internal/security"
)

// FileBackend keeps each record as an AES-GCM sealed file in a private directory
type FileBackend struct {
	dir       string
	encryptor *security.TokenEncryptor
	logger    *security.SecureLogger
}

// NewFileBackend creates dir with 0700 permissions and derives the record key
func NewFileBackend(dir string, logger *security.SecureLogger) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	encryptor, err := security.NewTokenEncryptor(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential encryption: %w", err)
	}

	if logger == nil {
		logger = security.NewSecureLogger(false)
	}

	return &FileBackend{dir: dir, encryptor: encryptor, logger: logger}, nil
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, Service+"."+key+".enc")
}

func (b *FileBackend) Get(key string) ([]byte, error) {
	sealed, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := b.encryptor.Open(key, string(sealed))
	if err != nil {
		b.logger.LogCryptoEvent("open_"+key, false, err.Error())
		return nil, err
	}

	b.logger.LogCryptoEvent("open_"+key, true, "")
	return plaintext, nil
}

// Set writes through a temp file and rename so readers never see a partial record
func (b *FileBackend) Set(key string, value []byte) error {
	sealed, err := b.encryptor.Seal(key, value)
	if err != nil {
		b.logger.LogCryptoEvent("seal_"+key, false, err.Error())
		return err
	}

	tmp, err := os.CreateTemp(b.dir, "."+key+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.WriteString(sealed); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, b.path(key)); err != nil {
		return err
	}

	b.logger.LogCryptoEvent("seal_"+key, true, "")
	return nil
}

func (b *FileBackend) Delete(key string) error {
	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
