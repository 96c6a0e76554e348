package credentials

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/bnema/waybar-pulse/internal/github"
	"github.com/bnema/waybar-pulse/internal/security"
)

// Service namespaces every record this application stores
const Service = "waybar-pulse"

const (
	tokenKey = "token"
	userKey  = "user"
)

// Backend is a flat key/value secret store. Get returns ErrNotFound for an
// absent key and Delete of an absent key succeeds.
type Backend interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Store persists the access token and the cached user profile
type Store struct {
	backend Backend
	logger  *security.SecureLogger
}

// NewStore creates a credential store over backend
func NewStore(backend Backend, logger *security.SecureLogger) *Store {
	if logger == nil {
		logger = security.NewSecureLogger(false)
	}
	return &Store{backend: backend, logger: logger}
}

// SaveToken replaces the stored access token
func (s *Store) SaveToken(token string) error {
	return s.save(tokenKey, []byte(token))
}

// Token returns the stored access token. A missing or unreadable record
// reports ok=false.
func (s *Store) Token() (string, bool) {
	data, ok := s.load(tokenKey)
	if !ok || !utf8.Valid(data) {
		return "", false
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", false
	}
	return token, true
}

// DeleteToken removes the stored access token
func (s *Store) DeleteToken() error {
	return s.remove(tokenKey)
}

// SaveProfile replaces the cached user profile
func (s *Store) SaveProfile(profile *github.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return newWriteError(userKey, err)
	}
	return s.save(userKey, data)
}

// Profile returns the cached user profile. A malformed record reads as absent.
func (s *Store) Profile() (*github.UserProfile, bool) {
	data, ok := s.load(userKey)
	if !ok {
		return nil, false
	}

	var profile github.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil || profile.Login == "" {
		s.logger.Warn("Ignoring malformed profile record", "error", err)
		return nil, false
	}
	return &profile, true
}

// DeleteProfile removes the cached user profile
func (s *Store) DeleteProfile() error {
	return s.remove(userKey)
}

// save deletes any existing record before writing the new one
func (s *Store) save(key string, value []byte) error {
	if err := s.backend.Delete(key); err != nil {
		return newWriteError(key, err)
	}
	if err := s.backend.Set(key, value); err != nil {
		s.logger.Error("Failed to store credential", "key", key, "error", err)
		return newWriteError(key, err)
	}
	return nil
}

func (s *Store) load(key string) ([]byte, bool) {
	data, err := s.backend.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Credential record unreadable", "key", key, "error", err)
		}
		return nil, false
	}
	return data, true
}

func (s *Store) remove(key string) error {
	if err := s.backend.Delete(key); err != nil {
		return newDeleteError(key, err)
	}
	return nil
}
