package credentials

import (
	"fmt"
	"path/filepath"

	"github.com/bnema/waybar-pulse/internal/security"
)

const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
)

// Open builds the credential store for the configured backend. File records
// live under dataDir/credentials.
func Open(backend, dataDir string, logger *security.SecureLogger) (*Store, error) {
	switch backend {
	case "", BackendFile:
		b, err := NewFileBackend(filepath.Join(dataDir, "credentials"), logger)
		if err != nil {
			return nil, err
		}
		return NewStore(b, logger), nil
	case BackendKeyring:
		return NewStore(NewKeyringBackend(), logger), nil
	default:
		return nil, fmt.Errorf("unknown credentials backend %q", backend)
	}
}
