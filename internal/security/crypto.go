package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltFile      = ".salt"
	saltSize      = 32
	keySize       = 32
	kdfIterations = 100000
)

var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// TokenEncryptor seals credential records with AES-GCM. The key is derived
// from the machine id, the user's home directory and a salt kept in dir.
type TokenEncryptor struct {
	aead cipher.AEAD
}

// NewTokenEncryptor derives the record key, creating the salt on first use
func NewTokenEncryptor(dir string) (*TokenEncryptor, error) {
	salt, err := loadOrCreateSalt(dir)
	if err != nil {
		return nil, NewCryptoError("key derivation", "salt unavailable").WithCause(err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, NewCryptoError("key derivation", "home directory unknown").WithCause(err)
	}

	material := machineID() + ":" + home
	key := pbkdf2.Key([]byte(material), salt, kdfIterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewCryptoError("key derivation", "cipher setup").WithCause(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, NewCryptoError("key derivation", "GCM setup").WithCause(err)
	}

	return &TokenEncryptor{aead: aead}, nil
}

// Seal encrypts plaintext for the record called name. The name is bound as
// associated data so a record copied under another name will not open.
func (te *TokenEncryptor) Seal(name string, plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", NewCryptoError("seal", "empty plaintext")
	}

	nonce := make([]byte, te.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", NewCryptoError("seal", "nonce generation").WithCause(err)
	}

	sealed := te.aead.Seal(nonce, nonce, plaintext, []byte(name))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal
func (te *TokenEncryptor) Open(name, sealed string) ([]byte, error) {
	if sealed == "" {
		return nil, NewCryptoError("open", "empty ciphertext")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return nil, NewCryptoError("open", "invalid encoding").WithCause(err)
	}

	nonceSize := te.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, NewCryptoError("open", "ciphertext too short")
	}

	plaintext, err := te.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(name))
	if err != nil {
		return nil, NewCryptoError("open", "authentication failed").WithCause(err)
	}

	return plaintext, nil
}

func loadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, saltFile)

	if salt, err := os.ReadFile(path); err == nil && len(salt) == saltSize {
		return salt, nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("failed to save salt: %w", err)
	}

	return salt, nil
}

// machineID prefers the systemd/dbus machine id and falls back to hostname + uid
func machineID() string {
	for _, p := range machineIDPaths {
		if data, err := os.ReadFile(p); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}

	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, os.Getuid())
}
