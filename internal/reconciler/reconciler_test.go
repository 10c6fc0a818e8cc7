package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mkarpov/foliosync/internal/models"
	"github.com/shopspring/decimal"
)

func testHolding(id string, kind models.HoldingKind, code string, share int64) models.Holding {
	return models.Holding{
		ID:        id,
		Kind:      kind,
		Code:      code,
		Share:     decimal.NewFromInt(share),
		CostPrice: decimal.NewFromInt(1),
		CreatedAt: 1700000000000,
	}
}

func createChange(id string, target models.HoldingKind, ts int64, data map[string]any) models.PositionChange {
	data["id"] = id
	return models.PositionChange{ID: id, Op: models.OpCreate, Target: target, Timestamp: ts, Data: data}
}

func updateChange(id string, target models.HoldingKind, ts int64, data map[string]any) models.PositionChange {
	return models.PositionChange{ID: id, Op: models.OpUpdate, Target: target, Timestamp: ts, Data: data}
}

func TestMerge_FirstSyncSeedsSnapshot(t *testing.T) {
	r := New(NewMemoryStore(), nil)

	resp, err := r.Merge(context.Background(), "user-1", models.UploadRequest{
		FundHoldings:  []models.Holding{testHolding("f-1", models.KindFund, "110022", 100)},
		StockHoldings: []models.Holding{testHolding("s-1", models.KindStock, "600519", 10)},
		AccountGroups: []models.AccountGroup{{ID: "g-1", Name: "retirement"}},
		Settings:      models.Settings{Currency: "CNY"},
		DeviceID:      "device-a",
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Expected success, got %+v", resp)
	}

	snap := resp.Data
	if len(snap.FundHoldings) != 1 || len(snap.StockHoldings) != 1 || len(snap.AccountGroups) != 1 {
		t.Errorf("First sync should adopt the client snapshot wholesale, got %+v", snap)
	}
	if snap.Settings.Currency != "CNY" {
		t.Error("Settings should carry over")
	}
	if snap.Settings.LastSyncTime == 0 {
		t.Error("LastSyncTime should be stamped")
	}
}

func TestMerge_CreateIsIdempotent(t *testing.T) {
	r := New(NewMemoryStore(), nil)
	ctx := context.Background()

	change := createChange("f-1", models.KindFund, 1700000000000, map[string]any{
		"kind": "fund", "code": "110022", "share": 100, "costPrice": 1.5,
	})
	req := models.UploadRequest{Changes: []models.PositionChange{change}, DeviceID: "device-a"}

	if _, err := r.Merge(ctx, "user-1", req); err != nil {
		t.Fatalf("First merge failed: %v", err)
	}
	resp, err := r.Merge(ctx, "user-1", req)
	if err != nil {
		t.Fatalf("Replayed merge failed: %v", err)
	}
	if len(resp.Data.FundHoldings) != 1 {
		t.Errorf("Replaying a CREATE must not duplicate the holding, got %d", len(resp.Data.FundHoldings))
	}
}

func TestMerge_UpdateLastWriterWins(t *testing.T) {
	r := New(NewMemoryStore(), nil)
	ctx := context.Background()
	const base = int64(1700000000000)

	seed := models.UploadRequest{
		Changes: []models.PositionChange{createChange("f-1", models.KindFund, base, map[string]any{
			"kind": "fund", "code": "110022", "share": 100, "note": "original",
		})},
	}
	if _, err := r.Merge(ctx, "user-1", seed); err != nil {
		t.Fatalf("Seed merge failed: %v", err)
	}

	// A newer update merges over the stored record.
	newer := models.UploadRequest{
		Changes: []models.PositionChange{updateChange("f-1", models.KindFund, base+5000, map[string]any{"share": 250})},
	}
	resp, err := r.Merge(ctx, "user-1", newer)
	if err != nil {
		t.Fatalf("Update merge failed: %v", err)
	}
	h := resp.Data.FundHoldings[0]
	if !h.Share.Equal(decimal.NewFromInt(250)) {
		t.Errorf("Expected updated share, got %s", h.Share)
	}
	if h.Note != "original" {
		t.Error("Fields absent from a partial update must survive")
	}
	if h.UpdatedAt != base+5000 {
		t.Errorf("UpdatedAt should track the change timestamp, got %d", h.UpdatedAt)
	}

	// A stale update forced through still loses to the stored record.
	stale := models.UploadRequest{
		Force:   true,
		Changes: []models.PositionChange{updateChange("f-1", models.KindFund, base+1000, map[string]any{"share": 999})},
	}
	resp, err = r.Merge(ctx, "user-1", stale)
	if err != nil {
		t.Fatalf("Stale merge failed: %v", err)
	}
	if !resp.Data.FundHoldings[0].Share.Equal(decimal.NewFromInt(250)) {
		t.Error("A change older than the stored record must not be applied")
	}
}

func TestMerge_ConflictLeavesDocumentUntouched(t *testing.T) {
	r := New(NewMemoryStore(), nil)
	ctx := context.Background()
	const base = int64(1700000000000)

	seed := models.UploadRequest{
		Changes: []models.PositionChange{createChange("f-1", models.KindFund, base+9000, map[string]any{
			"kind": "fund", "code": "110022", "share": 100,
		})},
	}
	if _, err := r.Merge(ctx, "user-1", seed); err != nil {
		t.Fatalf("Seed merge failed: %v", err)
	}

	// This change predates the server record, so it conflicts.
	resp, err := r.Merge(ctx, "user-1", models.UploadRequest{
		Changes: []models.PositionChange{updateChange("f-1", models.KindFund, base, map[string]any{"share": 1})},
	})
	if err != nil {
		t.Fatalf("Conflicting merge returned an error: %v", err)
	}
	if resp.Success || !resp.RequiresResolution {
		t.Fatalf("Expected a conflict outcome, got %+v", resp)
	}
	if len(resp.Conflicts) != 1 {
		t.Fatalf("Expected 1 conflict, got %d", len(resp.Conflicts))
	}

	// The stored document is untouched.
	status, err := r.Status(ctx, "user-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.FundCount != 1 {
		t.Errorf("Conflict must not mutate the document, fund count %d", status.FundCount)
	}
	snap, _ := r.Snapshot(ctx, "user-1")
	if !snap.Data.FundHoldings[0].Share.Equal(decimal.NewFromInt(100)) {
		t.Error("Stored share should be unchanged after a rejected merge")
	}
}

func TestMerge_ForceBypassesConflicts(t *testing.T) {
	r := New(NewMemoryStore(), nil)
	ctx := context.Background()
	const base = int64(1700000000000)

	seed := models.UploadRequest{
		Changes: []models.PositionChange{createChange("f-1", models.KindFund, base+9000, map[string]any{
			"kind": "fund", "code": "110022", "share": 100,
		})},
	}
	if _, err := r.Merge(ctx, "user-1", seed); err != nil {
		t.Fatalf("Seed merge failed: %v", err)
	}

	resp, err := r.Merge(ctx, "user-1", models.UploadRequest{
		Force:   true,
		Changes: []models.PositionChange{{ID: "f-1", Op: models.OpDelete, Target: models.KindFund, Timestamp: base}},
	})
	if err != nil {
		t.Fatalf("Forced merge failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Force should bypass conflict detection, got %+v", resp)
	}
	if len(resp.Data.FundHoldings) != 0 {
		t.Error("Forced DELETE should remove the holding")
	}
}

func TestMerge_GroupRemovalNullsReferences(t *testing.T) {
	r := New(NewMemoryStore(), nil)
	ctx := context.Background()

	groupID := "g-1"
	h := testHolding("f-1", models.KindFund, "110022", 100)
	h.GroupID = &groupID

	seed := models.UploadRequest{
		FundHoldings:  []models.Holding{h},
		AccountGroups: []models.AccountGroup{{ID: groupID, Name: "retirement"}},
	}
	if _, err := r.Merge(ctx, "user-1", seed); err != nil {
		t.Fatalf("Seed merge failed: %v", err)
	}

	// Second sync drops the group.
	resp, err := r.Merge(ctx, "user-1", models.UploadRequest{AccountGroups: nil})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(resp.Data.AccountGroups) != 0 {
		t.Errorf("Group should be gone, got %+v", resp.Data.AccountGroups)
	}
	if len(resp.Data.FundHoldings) != 1 {
		t.Fatal("Deleting a group must never delete its holdings")
	}
	if resp.Data.FundHoldings[0].GroupID != nil {
		t.Error("Holding should have its group reference nulled")
	}
}

func TestMerge_RejectsMalformedChanges(t *testing.T) {
	r := New(NewMemoryStore(), nil)

	_, err := r.Merge(context.Background(), "user-1", models.UploadRequest{
		Changes: []models.PositionChange{{ID: "f-1", Op: "UPSERT", Target: models.KindFund}},
	})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("Expected a validation error, got %v", err)
	}
}

func TestMerge_ConcurrentDevices(t *testing.T) {
	r := New(NewMemoryStore(), nil)
	ctx := context.Background()
	const base = int64(1700000000000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("f-%d", n)
			req := models.UploadRequest{
				DeviceID: fmt.Sprintf("device-%d", n),
				Changes: []models.PositionChange{createChange(id, models.KindFund, base+int64(n), map[string]any{
					"kind": "fund", "code": "110022", "share": n,
				})},
			}
			if _, err := r.Merge(ctx, "user-1", req); err != nil {
				t.Errorf("Merge %d failed: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	status, err := r.Status(ctx, "user-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.FundCount != 10 {
		t.Errorf("Expected all 10 creates to land, got %d", status.FundCount)
	}
}

func TestSnapshotAndStatus_UnknownUser(t *testing.T) {
	r := New(NewMemoryStore(), nil)
	ctx := context.Background()

	snap, err := r.Snapshot(ctx, "nobody")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Data == nil || len(snap.Data.FundHoldings) != 0 {
		t.Errorf("Unknown user should get an empty snapshot, got %+v", snap.Data)
	}

	status, err := r.Status(ctx, "nobody")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.FundCount != 0 || status.LastSyncTime != 0 {
		t.Errorf("Unknown user should get a zero status, got %+v", status)
	}
}

func TestApplyBatch_ReplaceAll(t *testing.T) {
	r := New(NewMemoryStore(), nil)
	ctx := context.Background()

	if _, err := r.ApplyBatch(ctx, "user-1", models.BatchRequest{
		FundHoldings: []models.Holding{
			testHolding("f-1", models.KindFund, "110022", 100),
			testHolding("f-2", models.KindFund, "161725", 50),
		},
	}); err != nil {
		t.Fatalf("Seed batch failed: %v", err)
	}

	resp, err := r.ApplyBatch(ctx, "user-1", models.BatchRequest{
		ReplaceAll:   true,
		FundHoldings: []models.Holding{testHolding("f-9", models.KindFund, "005827", 75)},
	})
	if err != nil {
		t.Fatalf("Replace batch failed: %v", err)
	}
	if len(resp.Data.FundHoldings) != 1 || resp.Data.FundHoldings[0].ID != "f-9" {
		t.Errorf("ReplaceAll should swap the collection wholesale, got %+v", resp.Data.FundHoldings)
	}
}

func TestApplyBatch_MergeUpserts(t *testing.T) {
	r := New(NewMemoryStore(), nil)
	ctx := context.Background()

	if _, err := r.ApplyBatch(ctx, "user-1", models.BatchRequest{
		FundHoldings: []models.Holding{testHolding("f-1", models.KindFund, "110022", 100)},
	}); err != nil {
		t.Fatalf("Seed batch failed: %v", err)
	}

	resp, err := r.ApplyBatch(ctx, "user-1", models.BatchRequest{
		FundHoldings: []models.Holding{
			testHolding("f-1", models.KindFund, "110022", 300), // updates in place
			testHolding("f-2", models.KindFund, "161725", 50),  // appended
		},
	})
	if err != nil {
		t.Fatalf("Merge batch failed: %v", err)
	}
	if len(resp.Data.FundHoldings) != 2 {
		t.Fatalf("Expected 2 funds after upsert, got %d", len(resp.Data.FundHoldings))
	}
	for _, h := range resp.Data.FundHoldings {
		if h.ID == "f-1" && !h.Share.Equal(decimal.NewFromInt(300)) {
			t.Errorf("Upsert should replace the existing record, got share %s", h.Share)
		}
	}
}

func TestApplyBatch_Validates(t *testing.T) {
	r := New(NewMemoryStore(), nil)

	bad := testHolding("f-1", models.KindFund, "110022", 100)
	bad.Share = decimal.NewFromInt(-5)

	_, err := r.ApplyBatch(context.Background(), "user-1", models.BatchRequest{
		FundHoldings: []models.Holding{bad},
	})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("Expected a validation error for a negative share, got %v", err)
	}
}
