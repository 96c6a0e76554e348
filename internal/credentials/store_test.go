package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/bnema/waybar-pulse/internal/github"
)

// memoryBackend records calls and can be told to fail
type memoryBackend struct {
	mu        sync.Mutex
	data      map[string][]byte
	calls     []string
	setErr    error
	deleteErr error
	getErr    error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{data: map[string][]byte{}}
}

func (m *memoryBackend) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "get:"+key)
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *memoryBackend) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "set:"+key)
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "delete:"+key)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.data, key)
	return nil
}

var octocat = &github.UserProfile{
	ID:          583231,
	Login:       "octocat",
	DisplayName: "The Octocat",
	AvatarURL:   "https://avatars.githubusercontent.com/u/583231",
}

func TestStoreTokenRoundTrip(t *testing.T) {
	s := NewStore(newMemoryBackend(), nil)

	_, ok := s.Token()
	assert.False(t, ok)

	require.NoError(t, s.SaveToken("gho_first"))
	require.NoError(t, s.SaveToken("gho_second"))

	token, ok := s.Token()
	require.True(t, ok)
	assert.Equal(t, "gho_second", token)

	require.NoError(t, s.DeleteToken())
	_, ok = s.Token()
	assert.False(t, ok)

	require.NoError(t, s.DeleteToken(), "deleting an absent token succeeds")
}

func TestStoreSaveDeletesBeforeWriting(t *testing.T) {
	b := newMemoryBackend()
	s := NewStore(b, nil)

	require.NoError(t, s.SaveToken("gho_x"))
	assert.Equal(t, []string{"delete:token", "set:token"}, b.calls)
}

func TestStoreProfileRoundTrip(t *testing.T) {
	s := NewStore(newMemoryBackend(), nil)

	require.NoError(t, s.SaveProfile(octocat))
	got, ok := s.Profile()
	require.True(t, ok)
	assert.Equal(t, octocat, got)

	require.NoError(t, s.DeleteProfile())
	_, ok = s.Profile()
	assert.False(t, ok)
}

func TestStoreMalformedRecordsReadAsAbsent(t *testing.T) {
	b := newMemoryBackend()
	b.data[userKey] = []byte("{not json")
	b.data[tokenKey] = []byte{0xff, 0xfe}
	s := NewStore(b, nil)

	_, ok := s.Profile()
	assert.False(t, ok)
	_, ok = s.Token()
	assert.False(t, ok)
}

func TestStoreUnreadableBackendReadsAsAbsent(t *testing.T) {
	b := newMemoryBackend()
	b.getErr = errors.New("secret service locked")
	s := NewStore(b, nil)

	_, ok := s.Token()
	assert.False(t, ok)
}

func TestStoreWriteFailure(t *testing.T) {
	b := newMemoryBackend()
	b.setErr = errors.New("disk full")
	s := NewStore(b, nil)

	err := s.SaveToken("gho_x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageWriteFailed)
	assert.NotErrorIs(t, err, ErrStorageDeleteFailed)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, tokenKey, se.Key)
	assert.EqualError(t, se.Err, "disk full")
}

func TestStoreDeleteFailure(t *testing.T) {
	b := newMemoryBackend()
	b.deleteErr = errors.New("permission denied")
	s := NewStore(b, nil)

	assert.ErrorIs(t, s.DeleteProfile(), ErrStorageDeleteFailed)
	assert.ErrorIs(t, s.SaveProfile(octocat), ErrStorageWriteFailed)
}

func TestFileBackend(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := filepath.Join(t.TempDir(), "credentials")

	b, err := NewFileBackend(dir, nil)
	require.NoError(t, err)
	s := NewStore(b, nil)

	require.NoError(t, s.SaveToken("gho_file"))
	require.NoError(t, s.SaveProfile(octocat))

	info, err := os.Stat(b.path(tokenKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	raw, err := os.ReadFile(b.path(tokenKey))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "gho_file")

	// A second backend over the same directory reads the same records
	b2, err := NewFileBackend(dir, nil)
	require.NoError(t, err)
	s2 := NewStore(b2, nil)

	token, ok := s2.Token()
	require.True(t, ok)
	assert.Equal(t, "gho_file", token)
	profile, ok := s2.Profile()
	require.True(t, ok)
	assert.Equal(t, "octocat", profile.Login)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files are cleaned up")
	}
}

func TestFileBackendTamperedRecordReadsAsAbsent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	b, err := NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)
	s := NewStore(b, nil)

	require.NoError(t, s.SaveToken("gho_file"))
	require.NoError(t, os.WriteFile(b.path(tokenKey), []byte("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"), 0600))

	_, ok := s.Token()
	assert.False(t, ok)
}

func TestKeyringBackend(t *testing.T) {
	keyring.MockInit()
	s := NewStore(NewKeyringBackend(), nil)

	_, ok := s.Token()
	assert.False(t, ok)

	require.NoError(t, s.SaveToken("gho_keyring"))
	token, ok := s.Token()
	require.True(t, ok)
	assert.Equal(t, "gho_keyring", token)

	stored, err := keyring.Get(Service, tokenKey)
	require.NoError(t, err)
	assert.Equal(t, "gho_keyring", stored)

	require.NoError(t, s.DeleteToken())
	require.NoError(t, s.DeleteToken())
	_, ok = s.Token()
	assert.False(t, ok)
}

func TestKeyringBackendFailure(t *testing.T) {
	keyring.MockInitWithError(errors.New("no secret service"))
	s := NewStore(NewKeyringBackend(), nil)

	assert.ErrorIs(t, s.SaveToken("gho_x"), ErrStorageWriteFailed)
	assert.ErrorIs(t, s.DeleteToken(), ErrStorageDeleteFailed)
	_, ok := s.Token()
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s, err := Open("", t.TempDir(), nil)
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, s.backend)

	s, err = Open(BackendKeyring, t.TempDir(), nil)
	require.NoError(t, err)
	assert.IsType(t, &KeyringBackend{}, s.backend)

	_, err = Open("vault", t.TempDir(), nil)
	assert.Error(t, err)
}
