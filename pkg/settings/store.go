package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/vikashloomba/mcp-hub-go/pkg/mcpmgr"
)

const serversKey = "mcpServers"

// ErrMalformed reports a settings file that is not a JSON object with an
// mcpServers object.
var ErrMalformed = errors.New("settings: malformed settings file")

// DefaultPath returns ~/.multi-chat/mcp_settings.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("settings: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".multi-chat", "mcp_settings.json"), nil
}

// FileStore implements mcpmgr.ProviderStore on top of a JSON file. Writes
// keep unknown top-level and per-provider fields.
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ mcpmgr.ProviderStore = (*FileStore)(nil)

// Open returns a store for path, creating the file with an empty mcpServers
// object when it does not exist.
func Open(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{path: filepath.Clean(path), logger: logger}
	if err := s.ensure(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the settings file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("settings: stat %s: %w", s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: create directory: %w", err)
	}
	s.logger.Info("creating settings file", "path", s.path)
	return s.writeLocked(map[string]json.RawMessage{serversKey: json.RawMessage(`{}`)})
}

// readLocked returns the whole document and its decoded mcpServers object.
func (s *FileStore) readLocked() (map[string]json.RawMessage, map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("settings: read %s: %w", s.path, err)
	}
	doc := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		// A literal null decodes to a nil map.
		if doc == nil {
			doc = map[string]json.RawMessage{}
		}
	}
	servers := map[string]json.RawMessage{}
	if raw, ok := doc[serversKey]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &servers); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, serversKey, err)
		}
	}
	return doc, servers, nil
}

func (s *FileStore) writeLocked(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("settings: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("settings: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("settings: replace %s: %w", s.path, err)
	}
	return nil
}

// Providers returns the raw entry of every provider.
func (s *FileStore) Providers(_ context.Context) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, servers, err := s.readLocked()
	return servers, err
}

// UpdateProvider applies mutate to the decoded entry for name and writes the
// document back.
func (s *FileStore) UpdateProvider(_ context.Context, name string, mutate func(map[string]any) error) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, servers, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	raw, ok := servers[name]
	if !ok {
		return nil, fmt.Errorf("settings: %w: %q", mcpmgr.ErrNotFound, name)
	}
	entry := map[string]any{}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("%w: provider %q: %v", ErrMalformed, name, err)
	}
	if err := mutate(entry); err != nil {
		return nil, err
	}
	updated, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("settings: encode %q: %w", name, err)
	}
	servers[name] = updated
	if err := s.putServersLocked(doc, servers); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteProvider removes name and returns the remaining providers.
func (s *FileStore) DeleteProvider(_ context.Context, name string) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, servers, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	if _, ok := servers[name]; !ok {
		return nil, fmt.Errorf("settings: %w: %q", mcpmgr.ErrNotFound, name)
	}
	delete(servers, name)
	if err := s.putServersLocked(doc, servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// PutProvider adds or replaces the entry for name.
func (s *FileStore) PutProvider(_ context.Context, name string, entry json.RawMessage) error {
	if !json.Valid(entry) {
		return fmt.Errorf("%w: provider %q is not valid JSON", ErrMalformed, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, servers, err := s.readLocked()
	if err != nil {
		return err
	}
	servers[name] = entry
	return s.putServersLocked(doc, servers)
}

func (s *FileStore) putServersLocked(doc, servers map[string]json.RawMessage) error {
	encoded, err := json.Marshal(servers)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", serversKey, err)
	}
	doc[serversKey] = encoded
	return s.writeLocked(doc)
}
