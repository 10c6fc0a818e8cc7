package models

import "fmt"

// ChangeOp is the mutation kind of a queued change.
type ChangeOp string

const (
	OpCreate ChangeOp = "CREATE"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// PositionChange is one queued local mutation awaiting upload.
// The Target tag is required; the server never guesses the collection
// from payload shape.
type PositionChange struct {
	ID        string         `json:"id"`
	Op        ChangeOp       `json:"operation"`
	Target    HoldingKind    `json:"target"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Checksum  string         `json:"checksum,omitempty"`

	// Seq is local bookkeeping: a per-queue generation counter bumped on
	// every record or coalesce, so an upload acknowledgment can tell a
	// snapshotted change apart from an edit made while it was in flight.
	// Millisecond timestamps cannot make that distinction.
	Seq int64 `json:"seq,omitempty"`
}

// Validate rejects malformed changes before they touch any store.
func (c *PositionChange) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("change: missing id")
	}
	switch c.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("change %s: invalid operation %q", c.ID, c.Op)
	}
	if c.Target != KindFund && c.Target != KindStock {
		return fmt.Errorf("change %s: invalid target %q", c.ID, c.Target)
	}
	if c.Op != OpDelete && len(c.Data) == 0 {
		return fmt.Errorf("change %s: %s without payload", c.ID, c.Op)
	}
	return nil
}

// ConflictResolution tags how a conflict was (or should be) settled.
type ConflictResolution string

const (
	ResolveLocal  ConflictResolution = "local"
	ResolveServer ConflictResolution = "server"
	ResolveManual ConflictResolution = "manual"
)

// SyncConflict records a disagreement between a pending local change and the
// server's copy of the same holding. A nil ServerData means the update target
// does not exist server-side.
type SyncConflict struct {
	ID                string             `json:"id"`
	Target            HoldingKind        `json:"target"`
	LocalData         map[string]any     `json:"localData"`
	ServerData        map[string]any     `json:"serverData,omitempty"`
	ConflictingFields []string           `json:"conflictingFields,omitempty"`
	LocalTimestamp    int64              `json:"localTimestamp"`
	ServerTimestamp   int64              `json:"serverTimestamp"`
	Resolution        ConflictResolution `json:"resolution,omitempty"`
	Message           string             `json:"message,omitempty"`
}

// SyncMetadata is the client-side sync bookkeeping persisted with the
// pending change queue.
type SyncMetadata struct {
	DeviceID     string           `json:"deviceId"`
	LastSyncTime int64            `json:"lastSyncTime"`
	Version      int64            `json:"version"`
	LastSeq      int64            `json:"lastSeq,omitempty"`
	Pending      []PositionChange `json:"pending,omitempty"`
}

// UploadRequest is the client's push: queued changes plus a full snapshot.
type UploadRequest struct {
	Changes       []PositionChange `json:"changes,omitempty"`
	FundHoldings  []Holding        `json:"fundHoldings"`
	StockHoldings []Holding        `json:"stockHoldings"`
	AccountGroups []AccountGroup   `json:"accountGroups"`
	Settings      Settings         `json:"settings"`
	DeviceID      string           `json:"deviceId"`
	Timestamp     int64            `json:"timestamp"`
	Force         bool             `json:"force,omitempty"`
}

// SyncSnapshot is the server's post-merge view of one user's portfolio.
type SyncSnapshot struct {
	FundHoldings  []Holding      `json:"fundHoldings"`
	StockHoldings []Holding      `json:"stockHoldings"`
	AccountGroups []AccountGroup `json:"accountGroups"`
	Settings      Settings       `json:"settings"`
	LastUpdated   int64          `json:"lastUpdated"`
}

// SyncResponse is the envelope every sync endpoint answers with.
type SyncResponse struct {
	Success            bool           `json:"success"`
	Message            string         `json:"message,omitempty"`
	Data               *SyncSnapshot  `json:"data,omitempty"`
	Conflicts          []SyncConflict `json:"conflicts,omitempty"`
	RequiresResolution bool           `json:"requiresResolution,omitempty"`
	ServerTimestamp    int64          `json:"serverTimestamp,omitempty"`
}

// SyncStatus is the lightweight answer of the status endpoint.
type SyncStatus struct {
	LastSyncTime int64 `json:"lastSyncTime"`
	FundCount    int   `json:"fundCount"`
	StockCount   int   `json:"stockCount"`
	GroupCount   int   `json:"groupCount"`
}

// BatchRequest imports holdings wholesale, either replacing the stored
// collections or merging into them.
type BatchRequest struct {
	FundHoldings  []Holding      `json:"fundHoldings,omitempty"`
	StockHoldings []Holding      `json:"stockHoldings,omitempty"`
	AccountGroups []AccountGroup `json:"accountGroups,omitempty"`
	ReplaceAll    bool           `json:"replaceAll,omitempty"`
}
