package sync

import (
	"testing"

	"github.com/mkarpov/foliosync/internal/models"
	"github.com/shopspring/decimal"
)

func holding(id string, kind models.HoldingKind, code string, share float64) models.Holding {
	return models.Holding{
		ID:        id,
		Kind:      kind,
		Code:      code,
		Share:     decimal.NewFromFloat(share),
		CostPrice: decimal.NewFromInt(1),
		CreatedAt: 1700000000000,
	}
}

func TestDiffHoldings(t *testing.T) {
	h1Local := holding("1", models.KindFund, "110022", 100)
	h1Server := holding("1", models.KindFund, "110022", 250) // modified on the server
	h2Server := holding("2", models.KindFund, "161725", 50)  // new on the server
	h3Local := holding("3", models.KindFund, "005827", 75)   // gone from the server

	diff, err := DiffHoldings(
		[]models.Holding{h1Local, h3Local},
		[]models.Holding{h1Server, h2Server},
	)
	if err != nil {
		t.Fatalf("DiffHoldings failed: %v", err)
	}

	if len(diff.ToCreate) != 1 || diff.ToCreate[0].ID != "2" {
		t.Errorf("Expected server-only holding 2 in ToCreate, got %+v", diff.ToCreate)
	}
	if len(diff.ToUpdate) != 1 || diff.ToUpdate[0].ID != "1" {
		t.Errorf("Expected modified holding 1 in ToUpdate, got %+v", diff.ToUpdate)
	}
	if !diff.ToUpdate[0].Share.Equal(decimal.NewFromInt(250)) {
		t.Error("ToUpdate should carry the server copy")
	}
	if len(diff.ToDelete) != 1 || diff.ToDelete[0] != "3" {
		t.Errorf("Expected local-only holding 3 in ToDelete, got %v", diff.ToDelete)
	}
}

func TestDiffHoldings_IdenticalSidesAreEmpty(t *testing.T) {
	local := []models.Holding{holding("1", models.KindStock, "600519", 10)}
	server := []models.Holding{holding("1", models.KindStock, "600519", 10)}

	// Different update stamps must not register as a change.
	local[0].UpdatedAt = 1700000001000
	server[0].UpdatedAt = 1700000999000

	diff, err := DiffHoldings(local, server)
	if err != nil {
		t.Fatalf("DiffHoldings failed: %v", err)
	}
	if !diff.Empty() {
		t.Errorf("Expected empty diff, got %+v", diff)
	}
}

func TestDiff_EmptySides(t *testing.T) {
	server := []models.Holding{holding("1", models.KindFund, "110022", 100)}

	diff, err := DiffHoldings(nil, server)
	if err != nil {
		t.Fatalf("DiffHoldings failed: %v", err)
	}
	if len(diff.ToCreate) != 1 || len(diff.ToUpdate) != 0 || len(diff.ToDelete) != 0 {
		t.Errorf("Empty local side should create everything, got %+v", diff)
	}

	diff, err = DiffHoldings(server, nil)
	if err != nil {
		t.Fatalf("DiffHoldings failed: %v", err)
	}
	if len(diff.ToDelete) != 1 || diff.ToDelete[0] != "1" {
		t.Errorf("Empty server side should delete everything, got %+v", diff)
	}
}
