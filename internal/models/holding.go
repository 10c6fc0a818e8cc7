package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as plain JSON numbers so that change payloads
	// (generic maps) and typed holdings serialize identically.
	decimal.MarshalJSONWithoutQuotes = true
}

// HoldingKind separates the two position collections.
type HoldingKind string

const (
	KindFund  HoldingKind = "fund"
	KindStock HoldingKind = "stock"
)

// Holding is a user's position in a fund or stock.
// The ID is client-generated, globally unique and immutable once assigned.
type Holding struct {
	ID        string          `json:"id"`
	Kind      HoldingKind     `json:"kind"`
	Code      string          `json:"code"`
	Name      string          `json:"name,omitempty"`
	Share     decimal.Decimal `json:"share"`
	CostPrice decimal.Decimal `json:"costPrice"`
	Note      string          `json:"note,omitempty"`
	GroupID   *string         `json:"groupId,omitempty"`
	CreatedAt int64           `json:"createdAt"`
	UpdatedAt int64           `json:"updatedAt,omitempty"`
}

// Validate checks the holding invariants before it is accepted into a store.
func (h *Holding) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("holding: missing id")
	}
	if h.Kind != KindFund && h.Kind != KindStock {
		return fmt.Errorf("holding %s: invalid kind %q", h.ID, h.Kind)
	}
	if h.Share.IsNegative() {
		return fmt.Errorf("holding %s: negative share", h.ID)
	}
	if h.CostPrice.IsNegative() {
		return fmt.Errorf("holding %s: negative cost price", h.ID)
	}
	return nil
}

// LastModified returns the update timestamp, falling back to creation time.
func (h *Holding) LastModified() int64 {
	if h.UpdatedAt > 0 {
		return h.UpdatedAt
	}
	return h.CreatedAt
}

// Payload converts the holding to its wire map, with sync bookkeeping
// (updatedAt) stripped so checksums stay stable across merges.
func (h *Holding) Payload() (map[string]any, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "updatedAt")
	return m, nil
}

// HoldingFromPayload decodes a change payload into a Holding.
func HoldingFromPayload(data map[string]any) (Holding, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Holding{}, err
	}
	var h Holding
	if err := json.Unmarshal(raw, &h); err != nil {
		return Holding{}, err
	}
	return h, nil
}

// AccountGroup is a user-defined bucket holdings can point to.
// Deleting a group nulls the reference on its holdings, never the holdings.
type AccountGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
}

// Settings is the small per-user preference blob synced alongside holdings.
type Settings struct {
	Currency     string `json:"currency,omitempty"`
	AutoSync     bool   `json:"autoSync,omitempty"`
	LastSyncTime int64  `json:"lastSyncTime,omitempty"`
}
