package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
)

const appDirName = "go-auth-client"

// FileBackend is the default durable backend: one JSON document on disk,
// readable only by the owner. Every operation re-reads the file so that
// sibling processes sharing it observe each other's writes. Writes go through
// a temp file and a rename, so a batch lands as a whole or not at all.
//
// When constructed with a key the document is sealed with
// XChaCha20-Poly1305.
type FileBackend struct {
	mu   sync.Mutex
	path string
	aead cipher.AEAD
}

var (
	_ Backend = (*FileBackend)(nil)
	_ Batcher = (*FileBackend)(nil)
	_ Watcher = (*FileBackend)(nil)
)

// fileContents is the JSON structure stored on disk
type fileContents struct {
	Values map[string]string `json:"values"`
}

// NewFileBackend creates a file backend at path. An empty path defaults to
// <user config dir>/go-auth-client/session.json. key may be nil for an
// unsealed file; otherwise it must be chacha20poly1305.KeySize bytes.
func NewFileBackend(path string, key []byte) (*FileBackend, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath("session.json"); err != nil {
			return nil, err
		}
	}

	fb := &FileBackend{path: filepath.Clean(path)}
	if len(key) > 0 {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create file sealer: %w", err)
		}
		fb.aead = aead
	}
	return fb, nil
}

// ParseKey decodes a base64 sealing key as found in configuration.
func ParseKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: storage key is not base64: %v", autherrors.ErrInvalidConfig, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: storage key must be %d bytes, got %d", autherrors.ErrInvalidConfig, chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// DefaultPath returns name inside the per-user config directory.
func DefaultPath(name string) (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, appDirName, name), nil
}

// Path returns the location of the backing file.
func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

func (f *FileBackend) Set(key, value string) error {
	return f.SetMany(map[string]string{key: value})
}

func (f *FileBackend) Remove(key string) error {
	return f.RemoveMany([]string{key})
}

func (f *FileBackend) Keys(prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *FileBackend) SetMany(entries map[string]string) error {
	return f.update(func(values map[string]string) bool {
		for k, v := range entries {
			values[k] = v
		}
		return true
	})
}

func (f *FileBackend) RemoveMany(keys []string) error {
	return f.update(func(values map[string]string) bool {
		changed := false
		for _, k := range keys {
			if _, ok := values[k]; ok {
				delete(values, k)
				changed = true
			}
		}
		return changed
	})
}

// Watch reports changes to the backing file made by any process, this one
// included.
func (f *FileBackend) Watch(ctx context.Context) (<-chan struct{}, error) {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// The file is replaced by rename, so watch the directory rather than the inode.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	changes := make(chan struct{}, 1)
	go func() {
		defer close(changes)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != f.path {
					continue
				}
				if event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
					select {
					case changes <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("path", f.path).Msg("storage file watcher error")
			}
		}
	}()
	return changes, nil
}

// update applies mutate to the current contents and writes them back when
// mutate reports a change. A corrupt file is replaced; a file sealed under a
// different key is left alone.
func (f *FileBackend) update(mutate func(map[string]string) bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		if !errors.Is(err, autherrors.ErrCorruptValue) {
			return err
		}
		log.Warn().Err(err).Str("path", f.path).Msg("replacing corrupt storage file")
		values = make(map[string]string)
	}
	if !mutate(values) {
		return nil
	}
	return f.save(values)
}

func (f *FileBackend) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	if f.aead != nil {
		if data, err = f.open(data); err != nil {
			return nil, err
		}
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, autherrors.Wrapf(autherrors.ErrCorruptValue, "failed to parse %s: %v", f.path, err)
	}
	if contents.Values == nil {
		contents.Values = make(map[string]string)
	}
	return contents.Values, nil
}

func (f *FileBackend) save(values map[string]string) error {
	data, err := json.MarshalIndent(fileContents{Values: values}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize storage: %w", err)
	}
	if f.aead != nil {
		if data, err = f.seal(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return classifyWriteErr(fmt.Errorf("failed to create storage directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return classifyWriteErr(fmt.Errorf("failed to create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return classifyWriteErr(fmt.Errorf("failed to write storage: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return classifyWriteErr(fmt.Errorf("failed to write storage: %w", err))
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to restrict storage permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}

func (f *FileBackend) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, f.aead.NonceSize(), f.aead.NonceSize()+len(plain)+f.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return f.aead.Seal(nonce, nonce, plain, nil), nil
}

func (f *FileBackend) open(sealed []byte) ([]byte, error) {
	if len(sealed) < f.aead.NonceSize() {
		return nil, autherrors.ErrSealedStore
	}
	nonce, ciphertext := sealed[:f.aead.NonceSize()], sealed[f.aead.NonceSize():]
	plain, err := f.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, autherrors.ErrSealedStore
	}
	return plain, nil
}

// classifyWriteErr maps a full disk onto ErrQuotaExceeded.
func classifyWriteErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", autherrors.ErrQuotaExceeded, err)
	}
	return err
}
