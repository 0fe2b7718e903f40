package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/Laisky/errors/v2"
)

// lightweight per-user secret store (file, 0600) with AES-GCM obfuscation.
// Not a replacement for OS keychains but avoids plain-text config.

const fileName = "keys.json"

var ErrNotFound = errors.New("secrets: not found")

type secretFile struct {
	Keys  map[string]string `json:"keys"`  // provider -> base64(ciphertext)
	Pause map[string]string `json:"pause"` // identity -> base64(ciphertext)
}

// Store reads and writes the secret file in dir.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore uses dir, or the user config dir when dir is empty.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, errors.Wrap(err, "user config dir")
		}
		dir = filepath.Join(base, "focusguard")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil { // restrict directory
		return nil, errors.Wrap(err, "mkdir secrets dir")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path() string { return filepath.Join(s.dir, fileName) }

func (s *Store) StoreProviderKey(provider, key string) error {
	if provider = norm(provider); provider == "" {
		return errors.New("provider required")
	}
	return s.put(func(sf *secretFile) map[string]string {
		if sf.Keys == nil {
			sf.Keys = map[string]string{}
		}
		return sf.Keys
	}, provider, key)
}

func (s *Store) FetchProviderKey(provider string) (string, error) {
	if provider = norm(provider); provider == "" {
		return "", errors.New("provider required")
	}
	return s.get(func(sf secretFile) map[string]string { return sf.Keys }, provider)
}

func (s *Store) DeleteProviderKey(provider string) error {
	if provider = norm(provider); provider == "" {
		return errors.New("provider required")
	}
	return s.del(func(sf *secretFile) map[string]string { return sf.Keys }, provider)
}

// SetPauseSecret stores the secret required to pause identity's sessions.
func (s *Store) SetPauseSecret(identity, secret string) error {
	if identity = strings.TrimSpace(identity); identity == "" {
		return errors.New("identity required")
	}
	if secret == "" {
		return errors.New("secret required")
	}
	return s.put(func(sf *secretFile) map[string]string {
		if sf.Pause == nil {
			sf.Pause = map[string]string{}
		}
		return sf.Pause
	}, identity, secret)
}

func (s *Store) ClearPauseSecret(identity string) error {
	return s.del(func(sf *secretFile) map[string]string { return sf.Pause }, strings.TrimSpace(identity))
}

// HasPauseSecret reports whether identity has a pause secret configured.
func (s *Store) HasPauseSecret(identity string) bool {
	_, err := s.get(func(sf secretFile) map[string]string { return sf.Pause }, strings.TrimSpace(identity))
	return err == nil
}

// Verify implements session.Verifier. An identity without a stored secret
// can never pause.
func (s *Store) Verify(ctx context.Context, identity, secret string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	want, err := s.get(func(sf secretFile) map[string]string { return sf.Pause }, strings.TrimSpace(identity))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(secret)) == 1, nil
}

func (s *Store) put(bucket func(*secretFile) map[string]string, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := load(s.path())
	if err != nil {
		return err
	}
	ct, err := encrypt([]byte(value))
	if err != nil {
		return err
	}
	bucket(&sf)[name] = base64.StdEncoding.EncodeToString(ct)
	return save(s.path(), sf)
}

func (s *Store) get(bucket func(secretFile) map[string]string, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := load(s.path())
	if err != nil {
		return "", err
	}
	enc, ok := bucket(sf)[name]
	if !ok {
		return "", ErrNotFound
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", errors.Wrap(err, "decode secret")
	}
	pt, err := decrypt(raw)
	if err != nil {
		return "", errors.Wrap(err, "decrypt secret")
	}
	return string(pt), nil
}

func (s *Store) del(bucket func(*secretFile) map[string]string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := load(s.path())
	if err != nil {
		return err
	}
	delete(bucket(&sf), name)
	return save(s.path(), sf)
}

func load(path string) (secretFile, error) {
	var sf secretFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return secretFile{}, nil
		}
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, errors.Wrap(err, "parse secrets file")
	}
	return sf, nil
}

func save(path string, sf secretFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func norm(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func masterKey() ([]byte, error) {
	user := os.Getenv("USER")
	base := fmt.Sprintf("focusguard-%s-%s", runtime.GOOS, user)
	hash := sha256.Sum256([]byte(base))
	return hash[:], nil
}

func encrypt(plain []byte) ([]byte, error) {
	key, err := masterKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func decrypt(ciphertext []byte) ([]byte, error) {
	key, err := masterKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	body := ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
