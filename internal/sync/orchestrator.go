package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mkarpov/foliosync/internal/models"
)

// Status is the orchestrator's externally visible state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusSyncing  Status = "syncing"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusConflict Status = "conflict"
)

var (
	// ErrSyncInProgress rejects a sync while another is in flight.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrNotAuthenticated rejects a sync without a credential.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionExpired reports a 401 from the server; the stored credential
	// has been cleared and the user must log in again.
	ErrSessionExpired = errors.New("session expired")
)

// Options tunes one sync pass.
type Options struct {
	SkipUpload   bool
	SkipDownload bool
	Force        bool
	Timeout      time.Duration
}

// Result is the outcome of one sync pass.
type Result struct {
	Success   bool                  `json:"success"`
	Status    Status                `json:"status"`
	Message   string                `json:"message,omitempty"`
	Conflicts []models.SyncConflict `json:"conflicts,omitempty"`
	Uploaded  int                   `json:"uploaded"`
	Applied   int                   `json:"applied"`
	Timestamp int64                 `json:"timestamp"`
}

// Config holds the orchestrator's retry and batching knobs.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	BatchSize   int
	Timeout     time.Duration
}

// DefaultConfig mirrors the production retry budget: three attempts with a
// one second base delay, doubling each retry.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		BatchSize:   20,
		Timeout:     2 * time.Minute,
	}
}

// Orchestrator drives the upload -> download -> reconcile -> verify sequence.
// One logical sync runs at a time; concurrent calls are rejected, not queued.
// All collaborators are injected so tests can substitute them.
type Orchestrator struct {
	mu        sync.Mutex
	status    Status
	conflicts []models.SyncConflict

	store     LocalStore
	log       *ChangeLog
	transport Transport
	creds     Credentials
	applier   *Applier
	cfg       Config
}

// New wires an orchestrator from its collaborators.
func New(store LocalStore, changeLog *ChangeLog, transport Transport, creds Credentials, cfg Config) *Orchestrator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Orchestrator{
		status:    StatusIdle,
		store:     store,
		log:       changeLog,
		transport: transport,
		creds:     creds,
		applier:   NewApplier(store, cfg.BatchSize),
		cfg:       cfg,
	}
}

// Status returns the last observed state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Conflicts returns the conflicts from the last pass, if any.
func (o *Orchestrator) Conflicts() []models.SyncConflict {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.SyncConflict, len(o.conflicts))
	copy(out, o.conflicts)
	return out
}

// Sync performs one full synchronization pass. Pending changes survive every
// failure path, so a failed call is always safe to retry.
func (o *Orchestrator) Sync(ctx context.Context, opts Options) (*Result, error) {
	if o.creds.Token() == "" {
		return &Result{Success: false, Status: StatusError, Message: "not authenticated"}, ErrNotAuthenticated
	}

	o.mu.Lock()
	if o.status == StatusSyncing {
		o.mu.Unlock()
		return &Result{Success: false, Status: StatusSyncing, Message: "sync already in progress"}, ErrSyncInProgress
	}
	o.status = StatusSyncing
	o.conflicts = nil
	o.mu.Unlock()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now().UnixMilli()
	result := &Result{Timestamp: start}

	if !opts.SkipUpload {
		if err := o.upload(ctx, opts, result); err != nil {
			return result, err
		}
		if result.Status == StatusConflict {
			// Server rejected the merge: resolve before converging.
			return result, nil
		}
	}
	if !opts.SkipDownload {
		done, err := o.download(ctx, result)
		if err != nil {
			return result, err
		}
		if done {
			// Conflict outcome: caller must resolve before converging.
			return result, nil
		}
	}

	o.verify(start)

	o.setStatus(StatusSuccess)
	result.Success = true
	result.Status = StatusSuccess
	return result, nil
}

// upload pushes pending changes plus the full local snapshot.
func (o *Orchestrator) upload(ctx context.Context, opts Options, result *Result) error {
	pending := o.log.Pending()

	funds, err := o.store.Holdings(models.KindFund)
	if err != nil {
		return o.fail(result, fmt.Errorf("load local funds: %w", err))
	}
	stocks, err := o.store.Holdings(models.KindStock)
	if err != nil {
		return o.fail(result, fmt.Errorf("load local stocks: %w", err))
	}
	groups, err := o.store.Groups()
	if err != nil {
		return o.fail(result, fmt.Errorf("load local groups: %w", err))
	}
	settings, err := o.store.Settings()
	if err != nil {
		return o.fail(result, fmt.Errorf("load local settings: %w", err))
	}

	req := models.UploadRequest{
		Changes:       pending,
		FundHoldings:  funds,
		StockHoldings: stocks,
		AccountGroups: groups,
		Settings:      settings,
		DeviceID:      o.log.DeviceID(),
		Timestamp:     time.Now().UnixMilli(),
		Force:         opts.Force,
	}

	var resp *models.SyncResponse
	err = o.withRetry(ctx, func() error {
		r, uploadErr := o.transport.Upload(ctx, req)
		if uploadErr != nil {
			return uploadErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return o.failTransport(result, "upload", err)
	}

	if resp.RequiresResolution {
		o.finishConflict(result, resp.Conflicts)
		return nil
	}

	o.log.Ack(pending)
	ts := resp.ServerTimestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	o.log.SetLastSync(ts)
	result.Uploaded = len(pending)
	return nil
}

// download pulls the server snapshot and reconciles local storage to it.
// Returns true when the pass stopped on conflicts.
func (o *Orchestrator) download(ctx context.Context, result *Result) (bool, error) {
	var resp *models.SyncResponse
	err := o.withRetry(ctx, func() error {
		r, dlErr := o.transport.Download(ctx)
		if dlErr != nil {
			return dlErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return false, o.failTransport(result, "download", err)
	}
	if resp.Data == nil {
		return false, o.fail(result, errors.New("download: empty server snapshot"))
	}
	snap := resp.Data

	// Changes recorded while the upload was in flight are still pending;
	// they decide whether reconciliation may proceed.
	if conflicts := DetectConflicts(o.log.Pending(), snap.FundHoldings, snap.StockHoldings); len(conflicts) > 0 {
		o.finishConflict(result, conflicts)
		return true, nil
	}

	for _, kind := range []models.HoldingKind{models.KindFund, models.KindStock} {
		local, err := o.store.Holdings(kind)
		if err != nil {
			return false, o.fail(result, fmt.Errorf("load local %ss: %w", kind, err))
		}
		server := snap.FundHoldings
		if kind == models.KindStock {
			server = snap.StockHoldings
		}
		diff, err := DiffHoldings(local, server)
		if err != nil {
			return false, o.fail(result, fmt.Errorf("diff %ss: %w", kind, err))
		}
		applied, err := o.applier.ApplyDiff(ctx, kind, diff)
		result.Applied += applied
		if err != nil {
			return false, o.fail(result, fmt.Errorf("apply %s diff: %w", kind, err))
		}
	}

	if err := o.reconcileGroups(snap.AccountGroups); err != nil {
		return false, o.fail(result, fmt.Errorf("reconcile groups: %w", err))
	}
	if err := o.store.SaveSettings(snap.Settings); err != nil {
		return false, o.fail(result, fmt.Errorf("save settings: %w", err))
	}
	return false, nil
}

// reconcileGroups converges the local group set on the server's ids: local
// groups absent server-side are dropped, server groups absent locally added.
func (o *Orchestrator) reconcileGroups(server []models.AccountGroup) error {
	local, err := o.store.Groups()
	if err != nil {
		return err
	}
	serverIDs := make(map[string]struct{}, len(server))
	for _, g := range server {
		serverIDs[g.ID] = struct{}{}
	}
	localIDs := make(map[string]struct{}, len(local))

	merged := make([]models.AccountGroup, 0, len(server))
	for _, g := range local {
		localIDs[g.ID] = struct{}{}
		if _, ok := serverIDs[g.ID]; ok {
			merged = append(merged, g)
		}
	}
	for _, g := range server {
		if _, ok := localIDs[g.ID]; !ok {
			merged = append(merged, g)
		}
	}
	return o.store.SaveGroups(merged)
}

// verify is a best-effort post-condition check; failures are logged only and
// never flip a successful sync to a failure.
func (o *Orchestrator) verify(start int64) {
	meta := o.log.Metadata()
	if meta.LastSyncTime < start {
		log.Printf("sync verify: last sync time not advanced (have %d, started %d)", meta.LastSyncTime, start)
	}
}

// ForceSync discards all pending local changes and adopts the server state.
// This is the designated escape hatch when the user declines to resolve
// conflicts individually.
func (o *Orchestrator) ForceSync(ctx context.Context) (*Result, error) {
	o.log.Clear()
	return o.Sync(ctx, Options{Force: true})
}

// ResolveConflict settles one conflict by id. ResolveLocal bumps the pending
// change so it wins the next pass; ResolveServer drops it. A manual (merge)
// resolution without a field list behaves like ResolveLocal.
func (o *Orchestrator) ResolveConflict(id string, strategy models.ConflictResolution) bool {
	o.mu.Lock()
	found := false
	kept := o.conflicts[:0]
	for _, c := range o.conflicts {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	o.conflicts = kept
	o.mu.Unlock()
	if !found {
		return false
	}

	switch strategy {
	case models.ResolveServer:
		return o.log.Discard(id)
	case models.ResolveLocal, models.ResolveManual:
		return o.log.Bump(id)
	default:
		return false
	}
}

// AutoSync runs a normal sync when a credential is present and changes are
// queued; otherwise it is a no-op. Meant to be called on a fixed interval by
// an external scheduler.
func (o *Orchestrator) AutoSync(ctx context.Context) error {
	if o.creds.Token() == "" || !o.log.HasPending() {
		return nil
	}
	_, err := o.Sync(ctx, Options{})
	return err
}

// withRetry runs fn with exponential backoff for transient failures, bounded
// by the attempt budget and cancellable via ctx.
func (o *Orchestrator) withRetry(ctx context.Context, fn func() error) error {
	delay := o.cfg.BaseDelay
	var err error
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		log.Printf("sync: transient failure (attempt %d/%d): %v", attempt+1, o.cfg.MaxAttempts, err)
	}
	return err
}

func (o *Orchestrator) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func (o *Orchestrator) fail(result *Result, err error) error {
	o.setStatus(StatusError)
	result.Success = false
	result.Status = StatusError
	result.Message = err.Error()
	return err
}

// failTransport maps transport errors onto the error taxonomy: 401 clears the
// credential and becomes a session-expired signal, everything else surfaces
// as a plain failure with the queue intact.
func (o *Orchestrator) failTransport(result *Result, phase string, err error) error {
	if errors.Is(err, ErrUnauthorized) {
		o.creds.Clear()
		o.setStatus(StatusError)
		result.Success = false
		result.Status = StatusError
		result.Message = "session expired"
		return ErrSessionExpired
	}
	return o.fail(result, fmt.Errorf("%s: %w", phase, err))
}

func (o *Orchestrator) finishConflict(result *Result, conflicts []models.SyncConflict) {
	o.mu.Lock()
	o.status = StatusConflict
	o.conflicts = conflicts
	o.mu.Unlock()
	result.Success = false
	result.Status = StatusConflict
	result.Conflicts = conflicts
	result.Message = fmt.Sprintf("%d conflicts require resolution", len(conflicts))
}
