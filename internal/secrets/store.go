package secrets

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lucli-dev/lucli/internal/atomicfile"
	"github.com/lucli-dev/lucli/internal/filelock"
	"github.com/lucli-dev/lucli/internal/lucerr"
)

var errAuthFailed = lucerr.New(lucerr.KindSecretStoreCorrupt, "passphrase may be incorrect")

// Store is the per-home-directory secret store. It is safe for concurrent
// use by one process; cross-process contention is rejected via an
// advisory file lock rather than silently interleaved.
type Store struct {
	home       string
	passphrase PassphraseSource

	mu  sync.Mutex
	key []byte // derived on first use, cached for the Store's lifetime
}

// New returns a Store rooted at lucliHome, acquiring its passphrase (when
// needed) through src.
func New(lucliHome string, src PassphraseSource) *Store {
	if src == nil {
		src = EnvOrPrompt{}
	}
	return &Store{home: lucliHome, passphrase: src}
}

func (s *Store) path() string {
	return filepath.Join(s.home, "secrets", FileName)
}

func (s *Store) lockPath() string {
	return filepath.Join(s.home, "secrets", ".lock")
}

// Init creates the store if it does not exist. With reset=true it destroys
// and recreates it (forgetting every existing secret and invalidating the
// cached key), even if one already exists.
func (s *Store) Init(reset bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !reset {
		if _, err := os.Stat(s.path()); err == nil {
			return nil // already initialized, idempotent
		}
	}

	lock, err := s.withLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	salt, err := newSalt()
	if err != nil {
		return err
	}
	sf := &storeFile{
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Secrets: map[string]entry{},
	}
	if err := s.write(sf); err != nil {
		return err
	}
	s.key = nil
	return nil
}

// Set stores value under name, preserving CreatedAt across updates.
func (s *Store) Set(name, value, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.withLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	key, sf, err := s.loadLocked()
	if err != nil {
		return err
	}

	nonce, ciphertext, err := sealValue(key, []byte(value))
	if err != nil {
		return err
	}

	now := stamp()
	createdAt := now
	if existing, ok := sf.Secrets[name]; ok {
		createdAt = existing.CreatedAt
	}
	sf.Secrets[name] = entry{
		Nonce:       base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:  base64.StdEncoding.EncodeToString(ciphertext),
		Description: description,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}
	return s.write(sf)
}

// Get decrypts and returns the value stored under name.
func (s *Store) Get(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, sf, err := s.loadLocked()
	if err != nil {
		return "", err
	}
	return s.decrypt(key, sf, name)
}

// ResolveSecret implements config.SecretResolver.
func (s *Store) ResolveSecret(name string) (string, error) {
	return s.Get(name)
}

// List returns every stored secret's metadata, values never included.
func (s *Store) List() ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, sf, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(sf.Secrets))
	for name, e := range sf.Secrets {
		out = append(out, Info{Name: name, Description: e.Description, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes name from the store. Deleting a name that does not exist
// is a SecretNotFound error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.withLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	_, sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := sf.Secrets[name]; !ok {
		return lucerr.Newf(lucerr.KindSecretNotFound, "no secret named %q", name)
	}
	delete(sf.Secrets, name)
	return s.write(sf)
}

func (s *Store) decrypt(key []byte, sf *storeFile, name string) (string, error) {
	e, ok := sf.Secrets[name]
	if !ok {
		return "", lucerr.Newf(lucerr.KindSecretNotFound, "no secret named %q", name)
	}
	nonce, err := base64.StdEncoding.DecodeString(e.Nonce)
	if err != nil {
		return "", lucerr.Wrap(lucerr.KindSecretStoreCorrupt, err, "decode nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(e.Ciphertext)
	if err != nil {
		return "", lucerr.Wrap(lucerr.KindSecretStoreCorrupt, err, "decode ciphertext")
	}
	plaintext, err := openValue(key, nonce, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// loadLocked reads the store file and derives (or reuses the cached) key.
// Caller must hold s.mu.
func (s *Store) loadLocked() ([]byte, *storeFile, error) {
	raw, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, lucerr.New(lucerr.KindSecretStoreLocked, "secret store not initialized").
				WithRemedy("run 'lucli secrets init'")
		}
		return nil, nil, lucerr.Wrap(lucerr.KindSecretStoreCorrupt, err, "read secret store")
	}
	var sf storeFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, nil, lucerr.Wrap(lucerr.KindSecretStoreCorrupt, err, "parse secret store")
	}
	if sf.Secrets == nil {
		sf.Secrets = map[string]entry{}
	}

	if s.key != nil {
		return s.key, &sf, nil
	}

	salt, err := base64.StdEncoding.DecodeString(sf.Salt)
	if err != nil {
		return nil, nil, lucerr.Wrap(lucerr.KindSecretStoreCorrupt, err, "decode salt")
	}
	passphrase, err := s.passphrase.Acquire("secrets passphrase: ")
	if err != nil {
		return nil, nil, lucerr.Wrap(lucerr.KindSecretStoreLocked, err, "acquire passphrase")
	}
	key := deriveKey(passphrase, salt)

	// Verify against an existing entry (if any) so a wrong passphrase
	// fails fast here instead of on whichever Get happens to run first.
	for name := range sf.Secrets {
		if _, err := s.decrypt(key, &sf, name); err != nil {
			return nil, nil, err
		}
		break
	}

	s.key = key
	return key, &sf, nil
}

func (s *Store) write(sf *storeFile) error {
	raw, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("secrets: marshal: %w", err)
	}
	if err := atomicfile.Write(s.path(), raw, 0o600); err != nil {
		return fmt.Errorf("secrets: write: %w", err)
	}
	return nil
}

func (s *Store) withLock() (*filelock.Lock, error) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath()), 0o700); err != nil {
		return nil, fmt.Errorf("secrets: mkdir: %w", err)
	}
	lock, err := filelock.TryAcquire(s.lockPath())
	if err != nil {
		return nil, lucerr.Wrap(lucerr.KindLockConflict, err,
			"another LuCLI process is using the secret store")
	}
	return lock, nil
}

// stamp returns the current time; isolated so tests can't accidentally
// depend on wall-clock value equality across calls within one assertion.
var stamp = func() time.Time { return time.Now().UTC() }
