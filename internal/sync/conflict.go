package sync

import (
	"fmt"
	"log"
	"sort"

	"github.com/mkarpov/foliosync/internal/models"
)

// DetectConflicts compares pending local changes against the server's current
// holdings and returns every disagreement. CREATE never conflicts. A conflict
// fires only when the server copy was modified strictly after the local
// change's timestamp, or when an UPDATE targets an id the server does not
// have (nil ServerData). Nothing is auto-resolved.
func DetectConflicts(changes []models.PositionChange, funds, stocks []models.Holding) []models.SyncConflict {
	byID := make(map[models.HoldingKind]map[string]models.Holding, 2)
	byID[models.KindFund] = indexHoldings(funds)
	byID[models.KindStock] = indexHoldings(stocks)

	var conflicts []models.SyncConflict
	for _, change := range changes {
		if change.Op == models.OpCreate {
			continue
		}
		server, ok := byID[change.Target][change.ID]
		if !ok {
			if change.Op == models.OpUpdate {
				conflicts = append(conflicts, models.SyncConflict{
					ID:             change.ID,
					Target:         change.Target,
					LocalData:      change.Data,
					ServerData:     nil,
					LocalTimestamp: change.Timestamp,
					Resolution:     models.ResolveManual,
					Message:        fmt.Sprintf("update target %s does not exist on the server", change.ID),
				})
			}
			continue
		}

		serverTS := server.LastModified()
		if serverTS <= change.Timestamp {
			continue
		}
		serverPayload, err := server.Payload()
		if err != nil {
			log.Printf("conflict detection: payload for %s: %v", server.ID, err)
			continue
		}
		conflicts = append(conflicts, models.SyncConflict{
			ID:                change.ID,
			Target:            change.Target,
			LocalData:         change.Data,
			ServerData:        serverPayload,
			ConflictingFields: conflictingFields(change.Data, serverPayload),
			LocalTimestamp:    change.Timestamp,
			ServerTimestamp:   serverTS,
			Resolution:        models.ResolveManual,
		})
	}
	return conflicts
}

func indexHoldings(hs []models.Holding) map[string]models.Holding {
	m := make(map[string]models.Holding, len(hs))
	for _, h := range hs {
		m[h.ID] = h
	}
	return m
}

// conflictingFields returns the sorted field names present in both payloads
// whose canonical JSON values differ.
func conflictingFields(local, server map[string]any) []string {
	var fields []string
	for k, lv := range local {
		sv, ok := server[k]
		if !ok {
			continue
		}
		lc, lerr := CanonicalJSON(lv)
		sc, serr := CanonicalJSON(sv)
		if lerr != nil || serr != nil {
			fields = append(fields, k)
			continue
		}
		if string(lc) != string(sc) {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}
