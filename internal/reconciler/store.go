package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mkarpov/foliosync/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound reports a user without a stored document yet.
var ErrNotFound = errors.New("portfolio document not found")

// ErrVersionConflict reports a lost optimistic save; the caller should
// re-read and retry the merge.
var ErrVersionConflict = errors.New("portfolio document version conflict")

// DocumentStore persists one authoritative Portfolio per user.
type DocumentStore interface {
	Load(ctx context.Context, userID string) (*models.Portfolio, error)
	Save(ctx context.Context, userID string, p *models.Portfolio) error
}

// MemoryStore keeps documents in process memory. Used in cache mode and in
// tests; state does not survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*models.Portfolio
}

// NewMemoryStore returns an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*models.Portfolio)}
}

func (s *MemoryStore) Load(ctx context.Context, userID string) (*models.Portfolio, error) {
	s.mu.RLock()
	doc, ok := s.docs[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return clonePortfolio(doc)
}

func (s *MemoryStore) Save(ctx context.Context, userID string, p *models.Portfolio) error {
	cloned, err := clonePortfolio(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.docs[userID]; ok && existing.Version != p.Version {
		return ErrVersionConflict
	}
	cloned.Version++
	s.docs[userID] = cloned
	p.Version = cloned.Version
	return nil
}

func clonePortfolio(p *models.Portfolio) (*models.Portfolio, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out models.Portfolio
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GormStore persists documents as JSONB rows with an optimistic version
// check on save, guarding against lost updates across server processes.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open GORM handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load(ctx context.Context, userID string) (*models.Portfolio, error) {
	var row models.PortfolioDocument
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load portfolio document: %w", err)
	}
	return row.Decode()
}

func (s *GormStore) Save(ctx context.Context, userID string, p *models.Portfolio) error {
	prevVersion := p.Version
	p.Version++
	row, err := models.EncodeDocument(userID, p)
	if err != nil {
		p.Version = prevVersion
		return err
	}

	if prevVersion == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.PortfolioDocument{}).
			Where("user_id = ?", userID).Count(&count).Error; err != nil {
			p.Version = prevVersion
			return err
		}
		if count == 0 {
			if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
				p.Version = prevVersion
				return fmt.Errorf("create portfolio document: %w", err)
			}
			return nil
		}
	}

	res := s.db.WithContext(ctx).Model(&models.PortfolioDocument{}).
		Where("user_id = ? AND version = ?", userID, prevVersion).
		Updates(map[string]any{
			"funds":        row.Funds,
			"stocks":       row.Stocks,
			"groups":       row.Groups,
			"settings":     row.Settings,
			"last_updated": row.LastUpdated,
			"version":      row.Version,
		})
	if res.Error != nil {
		p.Version = prevVersion
		return fmt.Errorf("save portfolio document: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		p.Version = prevVersion
		return ErrVersionConflict
	}
	return nil
}

// keyedMutex serializes merge-and-persist per user within this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
