package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Portfolio is the authoritative per-user document the reconciler merges into.
type Portfolio struct {
	Funds       []Holding      `json:"fundHoldings"`
	Stocks      []Holding      `json:"stockHoldings"`
	Groups      []AccountGroup `json:"accountGroups"`
	Settings    Settings       `json:"settings"`
	LastUpdated int64          `json:"lastUpdated"`
	Version     int64          `json:"version"`
}

// NewPortfolio returns an empty document ready for first-sync seeding.
func NewPortfolio() *Portfolio {
	return &Portfolio{
		Funds:  []Holding{},
		Stocks: []Holding{},
		Groups: []AccountGroup{},
	}
}

// Collection returns the holdings slice for a kind.
func (p *Portfolio) Collection(kind HoldingKind) []Holding {
	if kind == KindStock {
		return p.Stocks
	}
	return p.Funds
}

// SetCollection replaces the holdings slice for a kind.
func (p *Portfolio) SetCollection(kind HoldingKind, hs []Holding) {
	if kind == KindStock {
		p.Stocks = hs
		return
	}
	p.Funds = hs
}

// Snapshot converts the document to its wire form.
func (p *Portfolio) Snapshot() *SyncSnapshot {
	return &SyncSnapshot{
		FundHoldings:  p.Funds,
		StockHoldings: p.Stocks,
		AccountGroups: p.Groups,
		Settings:      p.Settings,
		LastUpdated:   p.LastUpdated,
	}
}

// PortfolioDocument is the persistent row backing one user's Portfolio.
type PortfolioDocument struct {
	UserID      string         `gorm:"primaryKey;type:varchar(255)" json:"userId"`
	Funds       datatypes.JSON `gorm:"type:jsonb" json:"funds"`
	Stocks      datatypes.JSON `gorm:"type:jsonb" json:"stocks"`
	Groups      datatypes.JSON `gorm:"type:jsonb" json:"groups"`
	Settings    datatypes.JSON `gorm:"type:jsonb" json:"settings"`
	LastUpdated int64          `json:"lastUpdated"`
	Version     int64          `gorm:"default:0" json:"version"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (PortfolioDocument) TableName() string {
	return "portfolio_documents"
}

// Decode inflates the JSON columns into a runtime Portfolio.
func (d *PortfolioDocument) Decode() (*Portfolio, error) {
	p := NewPortfolio()
	for _, col := range []struct {
		raw datatypes.JSON
		dst any
	}{
		{d.Funds, &p.Funds},
		{d.Stocks, &p.Stocks},
		{d.Groups, &p.Groups},
		{d.Settings, &p.Settings},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("decode portfolio document %s: %w", d.UserID, err)
		}
	}
	p.LastUpdated = d.LastUpdated
	p.Version = d.Version
	return p, nil
}

// EncodeDocument flattens a Portfolio into its persistent row.
func EncodeDocument(userID string, p *Portfolio) (*PortfolioDocument, error) {
	doc := &PortfolioDocument{
		UserID:      userID,
		LastUpdated: p.LastUpdated,
		Version:     p.Version,
	}
	for _, col := range []struct {
		src any
		dst *datatypes.JSON
	}{
		{p.Funds, &doc.Funds},
		{p.Stocks, &doc.Stocks},
		{p.Groups, &doc.Groups},
		{p.Settings, &doc.Settings},
	} {
		raw, err := json.Marshal(col.src)
		if err != nil {
			return nil, fmt.Errorf("encode portfolio document %s: %w", userID, err)
		}
		*col.dst = datatypes.JSON(raw)
	}
	return doc, nil
}
