package sync

import (
	"context"
	"sync"

	"github.com/mkarpov/foliosync/internal/models"
)

// Applier writes a computed diff into local storage in size-bounded batches:
// concurrent within a batch, sequential across batches, followed by a single
// reload so dependent views never observe a half-applied state.
type Applier struct {
	store     LocalStore
	batchSize int
}

// NewApplier creates an applier with the given batch size (minimum 1).
func NewApplier(store LocalStore, batchSize int) *Applier {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Applier{store: store, batchSize: batchSize}
}

// ApplyDiff applies the three operation sets for one holding kind.
func (a *Applier) ApplyDiff(ctx context.Context, kind models.HoldingKind, diff DiffResult[models.Holding]) (int, error) {
	applied := 0

	put := func(h models.Holding) error { return a.store.PutHolding(h) }
	n, err := applyBatched(ctx, append(append([]models.Holding{}, diff.ToCreate...), diff.ToUpdate...), a.batchSize, put)
	applied += n
	if err != nil {
		return applied, err
	}

	del := func(id string) error { return a.store.DeleteHolding(kind, id) }
	n, err = applyBatched(ctx, diff.ToDelete, a.batchSize, del)
	applied += n
	if err != nil {
		return applied, err
	}

	return applied, a.store.Reload()
}

func applyBatched[T any](ctx context.Context, items []T, batchSize int, op func(T) error) (int, error) {
	applied := 0
	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error
		for _, item := range items[start:end] {
			wg.Add(1)
			go func(it T) {
				defer wg.Done()
				if err := op(it); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				mu.Lock()
				applied++
				mu.Unlock()
			}(item)
		}
		wg.Wait()
		if firstErr != nil {
			return applied, firstErr
		}
	}
	return applied, nil
}
