// Package credentials stores the secrets meetmem hands to its collaborators:
// the OpenAI API key and the Hugging Face token used for diarization. They
// live in ~/.meetmem/credentials.yaml, encrypted with AES-GCM under a key
// held in the system keyring (macOS Keychain, Windows Credential Manager,
// Linux Secret Service).
//
// Environment variables always win over stored values, so CI and containers
// never need a keyring.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
)

// Storage locations.
const (
	DefaultDir  = ".meetmem"
	DefaultFile = "credentials.yaml"
	// EnvConfigDir overrides the configuration directory.
	EnvConfigDir = "MEETMEM_CONFIG_DIR"
)

// Known providers.
const (
	ProviderOpenAI      = "openai"
	ProviderHuggingFace = "huggingface"
)

// ProviderEnv maps each provider to the environment variable checked first.
var ProviderEnv = map[string]string{
	ProviderOpenAI:      "OPENAI_API_KEY",
	ProviderHuggingFace: "HUGGINGFACE_TOKEN",
}

var (
	// ErrNoCredential is returned when a provider has no stored secret.
	ErrNoCredential = fmt.Errorf("%w: no credential stored", mmerrors.ErrNotFound)
	// ErrUnknownProvider is returned for a provider outside ProviderEnv.
	ErrUnknownProvider = fmt.Errorf("%w: unknown provider", mmerrors.ErrValidation)
	// ErrEncryptionFailed is returned when encryption or decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Source says where a resolved secret came from.
type Source string

const (
	SourceEnv   Source = "env"
	SourceStore Source = "store"
)

type storedSecret struct {
	Value     string    `yaml:"value"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

type credentialsFile struct {
	Secrets map[string]storedSecret `yaml:"secrets"`
}

// Entry describes a stored secret without revealing it.
type Entry struct {
	Provider  string    `json:"provider"`
	Masked    string    `json:"masked"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes the encrypted credentials file.
type Store struct {
	mu          sync.Mutex
	dir         string
	key         []byte
	keyProvider KeyProvider
}

// NewStore opens the store in Dir() with DefaultKeyProvider.
func NewStore() (*Store, error) {
	dir, err := Dir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}
	kp, err := DefaultKeyProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(dir, kp)
}

// NewStoreWithKeyProvider opens the store in dir with kp.
func NewStoreWithKeyProvider(dir string, kp KeyProvider) (*Store, error) {
	key, err := kp.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}
	return &Store{dir: dir, key: key, keyProvider: kp}, nil
}

// Dir returns $MEETMEM_CONFIG_DIR, or ~/.meetmem.
func Dir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultDir), nil
}

// Path returns the credentials file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, DefaultFile)
}

// KeyDescription names where the encryption key lives.
func (s *Store) KeyDescription() string {
	return s.keyProvider.Description()
}

// ValidateProvider rejects providers meetmem does not use.
func ValidateProvider(provider string) error {
	if _, ok := ProviderEnv[provider]; !ok {
		return fmt.Errorf("%w %q (want %s)", ErrUnknownProvider, provider, strings.Join(Providers(), " or "))
	}
	return nil
}

// Providers lists the known providers in name order.
func Providers() []string {
	out := make([]string, 0, len(ProviderEnv))
	for p := range ProviderEnv {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Set encrypts and stores secret for provider.
func (s *Store) Set(provider, secret string) error {
	if err := ValidateProvider(provider); err != nil {
		return err
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("%w: secret is empty", mmerrors.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	encrypted, err := s.encrypt(secret)
	if err != nil {
		return fmt.Errorf("encrypting %s secret: %w", provider, err)
	}
	f.Secrets[provider] = storedSecret{Value: encrypted, UpdatedAt: time.Now().UTC()}
	return s.write(f)
}

// Get returns the stored secret for provider.
func (s *Store) Get(provider string) (string, error) {
	if err := ValidateProvider(provider); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return "", err
	}
	stored, ok := f.Secrets[provider]
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrNoCredential, provider)
	}
	secret, err := s.decrypt(stored.Value)
	if err != nil {
		return "", fmt.Errorf("decrypting %s secret: %w", provider, err)
	}
	return secret, nil
}

// Delete removes provider's secret. Deleting a missing secret is not an
// error.
func (s *Store) Delete(provider string) error {
	if err := ValidateProvider(provider); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := f.Secrets[provider]; !ok {
		return nil
	}
	delete(f.Secrets, provider)
	return s.write(f)
}

// List describes every stored secret in provider order.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(f.Secrets))
	for provider, stored := range f.Secrets {
		masked := "(unreadable)"
		if secret, err := s.decrypt(stored.Value); err == nil {
			masked = MaskCredential(secret)
		}
		entries = append(entries, Entry{Provider: provider, Masked: masked, UpdatedAt: stored.UpdatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Provider < entries[j].Provider })
	return entries, nil
}

// Resolve returns provider's secret from its environment variable or, when
// that is unset, from s. A nil store only consults the environment.
func Resolve(s *Store, provider string) (string, Source, error) {
	if err := ValidateProvider(provider); err != nil {
		return "", "", err
	}
	if v := strings.TrimSpace(os.Getenv(ProviderEnv[provider])); v != "" {
		return v, SourceEnv, nil
	}
	if s == nil {
		return "", "", fmt.Errorf("%w for %s (set %s)", ErrNoCredential, provider, ProviderEnv[provider])
	}
	secret, err := s.Get(provider)
	if err != nil {
		return "", "", err
	}
	return secret, SourceStore, nil
}

func (s *Store) read() (*credentialsFile, error) {
	f := &credentialsFile{Secrets: map[string]storedSecret{}}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if f.Secrets == nil {
		f.Secrets = map[string]storedSecret{}
	}
	return f, nil
}

func (s *Store) write(f *credentialsFile) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.WriteFile(s.Path(), data, 0o600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

func (s *Store) encrypt(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}
	nonce, body := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}
	return string(plaintext), nil
}

// MaskCredential shows the first and last four characters of longer
// secrets and masks short ones completely.
func MaskCredential(cred string) string {
	if len(cred) <= 8 {
		return strings.Repeat("*", len(cred))
	}
	return cred[:4] + strings.Repeat("*", len(cred)-8) + cred[len(cred)-4:]
}
