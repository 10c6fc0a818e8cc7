package sync

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkarpov/foliosync/internal/models"
)

// ChangeLog is the client-side durable queue of pending mutations. At most one
// pending change exists per holding id: repeated edits coalesce. Safe to call
// from UI callbacks concurrently with an in-progress sync.
type ChangeLog struct {
	mu    sync.Mutex
	store LocalStore
	meta  models.SyncMetadata
}

// NewChangeLog loads persisted metadata from store, generating and persisting
// a device id on first use.
func NewChangeLog(store LocalStore) (*ChangeLog, error) {
	meta, err := store.LoadMeta()
	if err != nil {
		return nil, err
	}
	l := &ChangeLog{store: store, meta: meta}
	if l.meta.DeviceID == "" {
		l.meta.DeviceID = uuid.NewString()
		l.persistLocked()
	}
	return l, nil
}

// Record appends or coalesces a change. A DELETE replaces any pending change
// for the id outright; otherwise the new payload is shallow-merged over the
// existing one, the timestamp refreshed and the checksum recomputed. A CREATE
// absorbing a later UPDATE stays a CREATE.
func (l *ChangeLog) Record(op models.ChangeOp, target models.HoldingKind, id string, data map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UnixMilli()
	idx := l.indexLocked(id)

	var change models.PositionChange
	switch {
	case idx < 0:
		change = models.PositionChange{ID: id, Op: op, Target: target, Timestamp: now, Data: cloneMap(data)}
	case op == models.OpDelete:
		change = models.PositionChange{ID: id, Op: models.OpDelete, Target: target, Timestamp: now}
	default:
		existing := l.meta.Pending[idx]
		merged := cloneMap(existing.Data)
		if merged == nil {
			merged = make(map[string]any, len(data))
		}
		for k, v := range data {
			merged[k] = v
		}
		keepOp := existing.Op
		if existing.Op == models.OpDelete {
			keepOp = op
		}
		change = models.PositionChange{ID: id, Op: keepOp, Target: target, Timestamp: now, Data: merged}
	}

	if change.Op != models.OpDelete {
		sum, err := Checksum(change.Data)
		if err != nil {
			log.Printf("change log: checksum for %s: %v", id, err)
		} else {
			change.Checksum = sum
		}
	}

	l.meta.LastSeq++
	change.Seq = l.meta.LastSeq

	if idx < 0 {
		l.meta.Pending = append(l.meta.Pending, change)
	} else {
		l.meta.Pending[idx] = change
	}
	l.meta.Version = time.Now().Unix()
	l.persistLocked()
}

// Pending returns a copy of the queued changes in record order.
func (l *ChangeLog) Pending() []models.PositionChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.PositionChange, len(l.meta.Pending))
	copy(out, l.meta.Pending)
	return out
}

// PendingCount returns the number of queued changes.
func (l *ChangeLog) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.meta.Pending)
}

// HasPending reports whether any change is queued.
func (l *ChangeLog) HasPending() bool {
	return l.PendingCount() > 0
}

// Ack removes queued entries that match an uploaded snapshot entry by id and
// sequence. A change coalesced onto the same id after the snapshot was taken
// carries a newer sequence and keeps its place in the queue.
func (l *ChangeLog) Ack(uploaded []models.PositionChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acked := make(map[string]int64, len(uploaded))
	for _, c := range uploaded {
		acked[c.ID] = c.Seq
	}
	kept := l.meta.Pending[:0]
	for _, c := range l.meta.Pending {
		if seq, ok := acked[c.ID]; ok && seq == c.Seq {
			continue
		}
		kept = append(kept, c)
	}
	l.meta.Pending = kept
	l.persistLocked()
}

// Clear drops every queued change.
func (l *ChangeLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.meta.Pending = nil
	l.persistLocked()
}

// Discard removes the pending change for id, accepting the server's version.
func (l *ChangeLog) Discard(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.indexLocked(id)
	if idx < 0 {
		return false
	}
	l.meta.Pending = append(l.meta.Pending[:idx], l.meta.Pending[idx+1:]...)
	l.persistLocked()
	return true
}

// Bump refreshes the pending change's timestamp to now so it wins the next
// conflict detection pass.
func (l *ChangeLog) Bump(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.indexLocked(id)
	if idx < 0 {
		return false
	}
	l.meta.Pending[idx].Timestamp = time.Now().UnixMilli()
	l.meta.LastSeq++
	l.meta.Pending[idx].Seq = l.meta.LastSeq
	l.persistLocked()
	return true
}

// SetLastSync stamps the last successful sync time.
func (l *ChangeLog) SetLastSync(ts int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.meta.LastSyncTime = ts
	l.persistLocked()
}

// Metadata returns a snapshot of the sync bookkeeping.
func (l *ChangeLog) Metadata() models.SyncMetadata {
	l.mu.Lock()
	defer l.mu.Unlock()
	meta := l.meta
	meta.Pending = make([]models.PositionChange, len(l.meta.Pending))
	copy(meta.Pending, l.meta.Pending)
	return meta
}

// DeviceID returns the persisted device identifier.
func (l *ChangeLog) DeviceID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta.DeviceID
}

// persistLocked flushes metadata to the local store. Failures are logged, not
// propagated: a UI action must not crash because the cache write failed, at
// the cost of possibly losing queued changes across a restart.
func (l *ChangeLog) persistLocked() {
	if err := l.store.SaveMeta(l.meta); err != nil {
		log.Printf("change log: persist metadata: %v", err)
	}
}

func (l *ChangeLog) indexLocked(id string) int {
	for i, c := range l.meta.Pending {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
