package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mkarpov/foliosync/internal/models"
	"github.com/mkarpov/foliosync/internal/sync"
)

// ValidationError rejects a malformed request before anything is applied.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Notifier fans a completed merge out to the user's other connected devices.
type Notifier interface {
	NotifySync(userID, sourceDevice string, serverTime int64)
}

// Reconciler merges incoming client changes into the per-user authoritative
// document. The read-merge-write runs under a per-user mutex; the store's
// optimistic version check additionally guards multi-process deployments.
type Reconciler struct {
	store  DocumentStore
	locks  *keyedMutex
	notify Notifier
}

// New creates a reconciler over store. notify may be nil.
func New(store DocumentStore, notify Notifier) *Reconciler {
	return &Reconciler{
		store:  store,
		locks:  newKeyedMutex(),
		notify: notify,
	}
}

// Merge applies one upload request and returns the post-merge server view.
// Unless forced, any conflict short-circuits the request and leaves the
// document untouched.
func (r *Reconciler) Merge(ctx context.Context, userID string, req models.UploadRequest) (*models.SyncResponse, error) {
	for i := range req.Changes {
		if err := req.Changes[i].Validate(); err != nil {
			return nil, &ValidationError{Reason: err.Error()}
		}
	}

	unlock := r.locks.Lock(userID)
	defer unlock()

	// The per-user mutex serializes merges in this process; the version check
	// in Save catches concurrent writers in other processes, and a lost save
	// is retried against the re-read document.
	for attempt := 0; ; attempt++ {
		resp, err := r.mergeOnce(ctx, userID, req)
		if errors.Is(err, ErrVersionConflict) && attempt < 2 {
			continue
		}
		return resp, err
	}
}

func (r *Reconciler) mergeOnce(ctx context.Context, userID string, req models.UploadRequest) (*models.SyncResponse, error) {
	doc, seeded, err := r.loadOrCreate(ctx, userID, &req)
	if err != nil {
		return nil, err
	}

	conflicts := sync.DetectConflicts(req.Changes, doc.Funds, doc.Stocks)
	if len(conflicts) > 0 && !req.Force {
		return &models.SyncResponse{
			Success:            false,
			Message:            fmt.Sprintf("%d conflicts require resolution", len(conflicts)),
			Conflicts:          conflicts,
			RequiresResolution: true,
			ServerTimestamp:    time.Now().UnixMilli(),
		}, nil
	}

	applied := 0
	for _, change := range req.Changes {
		if r.applyChange(doc, change) {
			applied++
		}
	}
	if !seeded {
		r.applyGroups(doc, req.AccountGroups)
	}

	now := time.Now().UnixMilli()
	doc.LastUpdated = now
	doc.Settings = req.Settings
	doc.Settings.LastSyncTime = now

	if err := r.store.Save(ctx, userID, doc); err != nil {
		return nil, fmt.Errorf("persist merged document: %w", err)
	}

	if r.notify != nil {
		r.notify.NotifySync(userID, req.DeviceID, now)
	}
	log.Printf("sync merge: user=%s device=%s changes=%d applied=%d", userID, req.DeviceID, len(req.Changes), applied)

	return &models.SyncResponse{
		Success:         true,
		Message:         fmt.Sprintf("applied %d of %d changes", applied, len(req.Changes)),
		Data:            doc.Snapshot(),
		ServerTimestamp: now,
	}, nil
}

// loadOrCreate lazily creates the user's document, seeding a brand-new one
// from the request's full snapshot so a first sync carries the client state
// over wholesale.
func (r *Reconciler) loadOrCreate(ctx context.Context, userID string, req *models.UploadRequest) (*models.Portfolio, bool, error) {
	doc, err := r.store.Load(ctx, userID)
	if err == nil {
		return doc, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	doc = models.NewPortfolio()
	if req != nil {
		for _, h := range append(append([]models.Holding{}, req.FundHoldings...), req.StockHoldings...) {
			if err := h.Validate(); err != nil {
				return nil, false, &ValidationError{Reason: err.Error()}
			}
		}
		doc.Funds = append(doc.Funds, req.FundHoldings...)
		doc.Stocks = append(doc.Stocks, req.StockHoldings...)
		doc.Groups = append(doc.Groups, req.AccountGroups...)
		doc.Settings = req.Settings
	}
	return doc, true, nil
}

// applyChange applies one change with idempotent semantics: CREATE is a no-op
// when the id exists (first writer wins), UPDATE is last-writer-wins by
// timestamp comparison, DELETE removes unconditionally.
func (r *Reconciler) applyChange(doc *models.Portfolio, change models.PositionChange) bool {
	list := doc.Collection(change.Target)
	idx := -1
	for i := range list {
		if list[i].ID == change.ID {
			idx = i
			break
		}
	}

	switch change.Op {
	case models.OpCreate:
		if idx >= 0 {
			return false
		}
		h, err := models.HoldingFromPayload(change.Data)
		if err != nil {
			log.Printf("sync merge: decode create %s: %v", change.ID, err)
			return false
		}
		h.ID = change.ID
		h.Kind = change.Target
		if h.CreatedAt == 0 {
			h.CreatedAt = change.Timestamp
		}
		h.UpdatedAt = change.Timestamp
		if err := h.Validate(); err != nil {
			log.Printf("sync merge: reject create %s: %v", change.ID, err)
			return false
		}
		doc.SetCollection(change.Target, append(list, h))
		return true

	case models.OpUpdate:
		if idx < 0 {
			return false
		}
		existing := list[idx]
		if existing.LastModified() > change.Timestamp {
			return false
		}
		merged, err := mergeHolding(existing, change.Data)
		if err != nil {
			log.Printf("sync merge: decode update %s: %v", change.ID, err)
			return false
		}
		merged.ID = existing.ID
		merged.Kind = existing.Kind
		merged.CreatedAt = existing.CreatedAt
		merged.UpdatedAt = change.Timestamp
		if err := merged.Validate(); err != nil {
			log.Printf("sync merge: reject update %s: %v", change.ID, err)
			return false
		}
		list[idx] = merged
		doc.SetCollection(change.Target, list)
		return true

	case models.OpDelete:
		if idx < 0 {
			return false
		}
		doc.SetCollection(change.Target, append(list[:idx], list[idx+1:]...))
		return true
	}
	return false
}

// mergeHolding lays the partial payload over the existing record.
func mergeHolding(existing models.Holding, data map[string]any) (models.Holding, error) {
	base, err := existing.Payload()
	if err != nil {
		return models.Holding{}, err
	}
	for k, v := range data {
		base[k] = v
	}
	return models.HoldingFromPayload(base)
}

// applyGroups replaces the document's groups with the client's set. A group
// that disappears has its reference nulled on every holding pointing at it;
// the holdings themselves are never cascaded away.
func (r *Reconciler) applyGroups(doc *models.Portfolio, groups []models.AccountGroup) {
	remaining := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		remaining[g.ID] = struct{}{}
	}
	for _, kind := range []models.HoldingKind{models.KindFund, models.KindStock} {
		list := doc.Collection(kind)
		for i := range list {
			if list[i].GroupID == nil {
				continue
			}
			if _, ok := remaining[*list[i].GroupID]; !ok {
				list[i].GroupID = nil
			}
		}
		doc.SetCollection(kind, list)
	}
	doc.Groups = groups
}

// Snapshot returns the user's current server view without merging anything.
func (r *Reconciler) Snapshot(ctx context.Context, userID string) (*models.SyncResponse, error) {
	doc, err := r.store.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		doc = models.NewPortfolio()
	} else if err != nil {
		return nil, err
	}
	return &models.SyncResponse{
		Success:         true,
		Data:            doc.Snapshot(),
		ServerTimestamp: time.Now().UnixMilli(),
	}, nil
}

// Status reports the last sync time and per-collection counts.
func (r *Reconciler) Status(ctx context.Context, userID string) (*models.SyncStatus, error) {
	doc, err := r.store.Load(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &models.SyncStatus{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.SyncStatus{
		LastSyncTime: doc.Settings.LastSyncTime,
		FundCount:    len(doc.Funds),
		StockCount:   len(doc.Stocks),
		GroupCount:   len(doc.Groups),
	}, nil
}

// ApplyBatch imports holdings wholesale: full replace of each supplied
// collection when ReplaceAll is set, otherwise an upsert merge by id.
func (r *Reconciler) ApplyBatch(ctx context.Context, userID string, req models.BatchRequest) (*models.SyncResponse, error) {
	for i := range req.FundHoldings {
		req.FundHoldings[i].Kind = models.KindFund
		if err := req.FundHoldings[i].Validate(); err != nil {
			return nil, &ValidationError{Reason: err.Error()}
		}
	}
	for i := range req.StockHoldings {
		req.StockHoldings[i].Kind = models.KindStock
		if err := req.StockHoldings[i].Validate(); err != nil {
			return nil, &ValidationError{Reason: err.Error()}
		}
	}

	unlock := r.locks.Lock(userID)
	defer unlock()

	doc, _, err := r.loadOrCreate(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	if req.ReplaceAll {
		doc.Funds = req.FundHoldings
		doc.Stocks = req.StockHoldings
		if req.AccountGroups != nil {
			r.applyGroups(doc, req.AccountGroups)
		}
	} else {
		doc.Funds = upsertHoldings(doc.Funds, req.FundHoldings)
		doc.Stocks = upsertHoldings(doc.Stocks, req.StockHoldings)
		doc.Groups = upsertGroups(doc.Groups, req.AccountGroups)
	}

	now := time.Now().UnixMilli()
	doc.LastUpdated = now
	if err := r.store.Save(ctx, userID, doc); err != nil {
		return nil, fmt.Errorf("persist batch import: %w", err)
	}
	return &models.SyncResponse{
		Success:         true,
		Data:            doc.Snapshot(),
		ServerTimestamp: now,
	}, nil
}

func upsertHoldings(existing, incoming []models.Holding) []models.Holding {
	byID := make(map[string]int, len(existing))
	for i, h := range existing {
		byID[h.ID] = i
	}
	for _, h := range incoming {
		if i, ok := byID[h.ID]; ok {
			existing[i] = h
		} else {
			existing = append(existing, h)
		}
	}
	return existing
}

func upsertGroups(existing, incoming []models.AccountGroup) []models.AccountGroup {
	byID := make(map[string]int, len(existing))
	for i, g := range existing {
		byID[g.ID] = i
	}
	for _, g := range incoming {
		if i, ok := byID[g.ID]; ok {
			existing[i] = g
		} else {
			existing = append(existing, g)
		}
	}
	return existing
}
