package sync

import "github.com/mkarpov/foliosync/internal/models"

// DiffResult partitions two record collections into the operations that make
// the local side match the server side.
type DiffResult[T any] struct {
	ToCreate []T
	ToUpdate []T
	ToDelete []string
}

// Empty reports whether the diff carries no work.
func (d DiffResult[T]) Empty() bool {
	return len(d.ToCreate) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// Diff compares local against server, keyed by key. Server records absent
// locally land in ToCreate; records on both sides whose checksums differ land
// in ToUpdate (server copy); local records absent from the server land in
// ToDelete by id. Checksum equality short-circuits to no change.
func Diff[T any](local, server []T, key func(T) string, sum func(T) (string, error)) (DiffResult[T], error) {
	var result DiffResult[T]

	localByID := make(map[string]T, len(local))
	for _, rec := range local {
		localByID[key(rec)] = rec
	}
	serverIDs := make(map[string]struct{}, len(server))

	for _, srv := range server {
		id := key(srv)
		serverIDs[id] = struct{}{}
		loc, ok := localByID[id]
		if !ok {
			result.ToCreate = append(result.ToCreate, srv)
			continue
		}
		localSum, err := sum(loc)
		if err != nil {
			return DiffResult[T]{}, err
		}
		serverSum, err := sum(srv)
		if err != nil {
			return DiffResult[T]{}, err
		}
		if localSum != serverSum {
			result.ToUpdate = append(result.ToUpdate, srv)
		}
	}

	for _, rec := range local {
		if _, ok := serverIDs[key(rec)]; !ok {
			result.ToDelete = append(result.ToDelete, key(rec))
		}
	}
	return result, nil
}

// DiffHoldings diffs two holding collections by id, comparing checksums over
// the wire payload (update timestamps excluded).
func DiffHoldings(local, server []models.Holding) (DiffResult[models.Holding], error) {
	return Diff(local, server,
		func(h models.Holding) string { return h.ID },
		func(h models.Holding) (string, error) {
			payload, err := h.Payload()
			if err != nil {
				return "", err
			}
			return Checksum(payload)
		})
}
