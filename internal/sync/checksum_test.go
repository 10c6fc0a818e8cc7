package sync

import (
	"encoding/json"
	"testing"

	"github.com/mkarpov/foliosync/internal/models"
	"github.com/shopspring/decimal"
)

func TestChecksum_Deterministic(t *testing.T) {
	h := models.Holding{
		ID:        "f-001",
		Kind:      models.KindFund,
		Code:      "110022",
		Name:      "CSI 300 Index",
		Share:     decimal.NewFromFloat(1500.25),
		CostPrice: decimal.NewFromFloat(1.8342),
		CreatedAt: 1700000000000,
	}

	hash1, err := Checksum(h)
	if err != nil {
		t.Fatalf("Failed to compute checksum: %v", err)
	}

	if len(hash1) != 64 {
		t.Errorf("Expected 64-character SHA256 hash, got %d characters", len(hash1))
	}

	// Compute again - should be deterministic
	hash2, err := Checksum(h)
	if err != nil {
		t.Fatalf("Failed to compute checksum on second attempt: %v", err)
	}
	if hash1 != hash2 {
		t.Error("Checksum should be deterministic")
	}

	// Change a field - hash should change
	h.Name = "CSI 500 Index"
	hash3, err := Checksum(h)
	if err != nil {
		t.Fatalf("Failed to compute checksum after modification: %v", err)
	}
	if hash1 == hash3 {
		t.Error("Checksum should change when content changes")
	}
}

func TestChecksum_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"id": "s-1", "code": "600519", "share": 100}
	b := map[string]any{"share": 100, "id": "s-1", "code": "600519"}

	hashA, err := Checksum(a)
	if err != nil {
		t.Fatalf("Failed to compute checksum: %v", err)
	}
	hashB, err := Checksum(b)
	if err != nil {
		t.Fatalf("Failed to compute checksum: %v", err)
	}
	if hashA != hashB {
		t.Error("Checksum should not depend on map key order")
	}
}

func TestChecksum_NestedValues(t *testing.T) {
	a := map[string]any{
		"id":     "g-1",
		"nested": map[string]any{"x": 1, "y": []any{"a", "b"}},
	}
	b := map[string]any{
		"nested": map[string]any{"y": []any{"a", "b"}, "x": 1},
		"id":     "g-1",
	}

	hashA, _ := Checksum(a)
	hashB, _ := Checksum(b)
	if hashA != hashB {
		t.Error("Nested maps should canonicalize identically")
	}

	// Array order is significant
	c := map[string]any{
		"id":     "g-1",
		"nested": map[string]any{"x": 1, "y": []any{"b", "a"}},
	}
	hashC, _ := Checksum(c)
	if hashA == hashC {
		t.Error("Array element order should affect the checksum")
	}
}

func TestChecksum_PayloadExcludesUpdatedAt(t *testing.T) {
	h := models.Holding{
		ID:        "f-002",
		Kind:      models.KindFund,
		Code:      "161725",
		Share:     decimal.NewFromInt(200),
		CostPrice: decimal.NewFromFloat(0.9),
		CreatedAt: 1700000000000,
		UpdatedAt: 1700000001000,
	}

	p1, err := h.Payload()
	if err != nil {
		t.Fatalf("Failed to build payload: %v", err)
	}
	hash1, _ := Checksum(p1)

	h.UpdatedAt = 1700009999000
	p2, _ := h.Payload()
	hash2, _ := Checksum(p2)

	if hash1 != hash2 {
		t.Error("updatedAt should not affect the payload checksum")
	}
}

func TestChecksum_SurvivesWireRoundTrip(t *testing.T) {
	groupID := "g-1"
	holdings := []models.Holding{
		{
			ID: "f-1", Kind: models.KindFund, Code: "110022", Name: "CSI 300 Index",
			Share: decimal.NewFromFloat(1500.25), CostPrice: decimal.NewFromFloat(1.8342),
			GroupID: &groupID, CreatedAt: 1700000000000, UpdatedAt: 1700000001000,
		},
		{
			ID: "s-1", Kind: models.KindStock, Code: "600519",
			Share: decimal.NewFromInt(100), CostPrice: decimal.NewFromFloat(1688.88),
			Note: "long term", CreatedAt: 1700000000000,
		},
	}

	raw, err := json.Marshal(holdings)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	var imported []models.Holding
	if err := json.Unmarshal(raw, &imported); err != nil {
		t.Fatalf("Failed to import: %v", err)
	}

	for i := range holdings {
		want, err := Checksum(holdings[i])
		if err != nil {
			t.Fatalf("Failed to compute checksum: %v", err)
		}
		got, err := Checksum(imported[i])
		if err != nil {
			t.Fatalf("Failed to compute checksum: %v", err)
		}
		if want != got {
			t.Errorf("Holding %s changed across the wire round trip", holdings[i].ID)
		}
	}
}

func TestChecksum_DecimalMatchesPlainNumber(t *testing.T) {
	// A typed holding and the equivalent generic payload map must hash the
	// same, otherwise every upload would look like a modification.
	h := models.Holding{
		ID:        "s-003",
		Kind:      models.KindStock,
		Code:      "000001",
		Share:     decimal.NewFromFloat(10.5),
		CostPrice: decimal.NewFromFloat(12.34),
		CreatedAt: 1700000000000,
	}

	typed, err := Checksum(h)
	if err != nil {
		t.Fatalf("Failed to compute checksum: %v", err)
	}

	generic, err := Checksum(map[string]any{
		"id":        "s-003",
		"kind":      "stock",
		"code":      "000001",
		"share":     10.5,
		"costPrice": 12.34,
		"createdAt": 1700000000000,
	})
	if err != nil {
		t.Fatalf("Failed to compute checksum: %v", err)
	}

	if typed != generic {
		t.Errorf("Typed and generic representations should hash identically:\n  typed   %s\n  generic %s", typed, generic)
	}
}
