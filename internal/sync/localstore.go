package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mkarpov/foliosync/internal/models"
)

// LocalStore is the client's durable cache: holdings, groups, settings and the
// sync metadata with its pending change queue. Implementations must be safe
// for concurrent use.
type LocalStore interface {
	LoadMeta() (models.SyncMetadata, error)
	SaveMeta(models.SyncMetadata) error

	Holdings(kind models.HoldingKind) ([]models.Holding, error)
	PutHolding(models.Holding) error
	DeleteHolding(kind models.HoldingKind, id string) error

	Groups() ([]models.AccountGroup, error)
	SaveGroups([]models.AccountGroup) error

	Settings() (models.Settings, error)
	SaveSettings(models.Settings) error

	// Reload re-reads durable state so dependent views observe one
	// consistent snapshot after a batch of writes.
	Reload() error
}

type fileState struct {
	Meta   models.SyncMetadata   `json:"meta"`
	Funds  []models.Holding      `json:"fundHoldings"`
	Stocks []models.Holding      `json:"stockHoldings"`
	Groups []models.AccountGroup `json:"accountGroups"`
	Config models.Settings       `json:"settings"`
}

// FileStore is a JSON-file-backed LocalStore. Every mutation is flushed
// synchronously (write to temp file, rename) so queued changes survive a
// restart.
type FileStore struct {
	mu    sync.Mutex
	path  string
	state fileState
}

// NewFileStore opens (or initializes) the store file at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		f.state = fileState{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("local store: %w", err)
	}
	var st fileState
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("local store %s: %w", f.path, err)
	}
	f.state = st
	return nil
}

func (f *FileStore) flush() error {
	raw, err := json.MarshalIndent(f.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) LoadMeta() (models.SyncMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Meta, nil
}

func (f *FileStore) SaveMeta(meta models.SyncMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Meta = meta
	return f.flush()
}

func (f *FileStore) Holdings(kind models.HoldingKind) ([]models.Holding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.state.Funds
	if kind == models.KindStock {
		src = f.state.Stocks
	}
	out := make([]models.Holding, len(src))
	copy(out, src)
	return out, nil
}

func (f *FileStore) PutHolding(h models.Holding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &f.state.Funds
	if h.Kind == models.KindStock {
		list = &f.state.Stocks
	}
	replaced := false
	for i := range *list {
		if (*list)[i].ID == h.ID {
			(*list)[i] = h
			replaced = true
			break
		}
	}
	if !replaced {
		*list = append(*list, h)
	}
	return f.flush()
}

func (f *FileStore) DeleteHolding(kind models.HoldingKind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &f.state.Funds
	if kind == models.KindStock {
		list = &f.state.Stocks
	}
	kept := (*list)[:0]
	for _, h := range *list {
		if h.ID != id {
			kept = append(kept, h)
		}
	}
	*list = kept
	return f.flush()
}

func (f *FileStore) Groups() ([]models.AccountGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AccountGroup, len(f.state.Groups))
	copy(out, f.state.Groups)
	return out, nil
}

func (f *FileStore) SaveGroups(groups []models.AccountGroup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Groups = groups
	return f.flush()
}

func (f *FileStore) Settings() (models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Config, nil
}

func (f *FileStore) SaveSettings(s models.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Config = s
	return f.flush()
}

func (f *FileStore) Reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// MemStore is an in-memory LocalStore for embedding and tests.
type MemStore struct {
	mu    sync.Mutex
	state fileState
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (m *MemStore) LoadMeta() (models.SyncMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Meta, nil
}

func (m *MemStore) SaveMeta(meta models.SyncMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Meta = meta
	return nil
}

func (m *MemStore) Holdings(kind models.HoldingKind) ([]models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.state.Funds
	if kind == models.KindStock {
		src = m.state.Stocks
	}
	out := make([]models.Holding, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemStore) PutHolding(h models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := &m.state.Funds
	if h.Kind == models.KindStock {
		list = &m.state.Stocks
	}
	for i := range *list {
		if (*list)[i].ID == h.ID {
			(*list)[i] = h
			return nil
		}
	}
	*list = append(*list, h)
	return nil
}

func (m *MemStore) DeleteHolding(kind models.HoldingKind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := &m.state.Funds
	if kind == models.KindStock {
		list = &m.state.Stocks
	}
	kept := (*list)[:0]
	for _, h := range *list {
		if h.ID != id {
			kept = append(kept, h)
		}
	}
	*list = kept
	return nil
}

func (m *MemStore) Groups() ([]models.AccountGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AccountGroup, len(m.state.Groups))
	copy(out, m.state.Groups)
	return out, nil
}

func (m *MemStore) SaveGroups(groups []models.AccountGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Groups = groups
	return nil
}

func (m *MemStore) Settings() (models.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Config, nil
}

func (m *MemStore) SaveSettings(s models.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Config = s
	return nil
}

func (m *MemStore) Reload() error { return nil }
