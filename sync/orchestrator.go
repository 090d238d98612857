package sync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hogarapp/finsync/core"
	"github.com/hogarapp/finsync/resilience"
)

// Orchestrator runs the sync pipeline for a connection: decrypt
// credentials, build the provider adapter, fetch movements since the last
// successful sync, categorize, and merge into the ledger. A connection's
// sync timestamp only advances after the whole pipeline succeeds, so a
// failed run is retried from the same window next time.
type Orchestrator struct {
	Connections core.ConnectionStore
	Ledger      core.LedgerStore
	Registry    core.Registry
	Codec       *core.CredentialCodec
	Lifecycles  map[core.ProviderKind]core.TokenLifecycle
	Retryer     *resilience.Retryer
	Categorizer *core.Categorizer
	Logger      core.Logger
	Metrics     core.MetricsRecorder
	Now         func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type Config struct {
	Connections core.ConnectionStore
	Ledger      core.LedgerStore
	Registry    core.Registry
	Codec       *core.CredentialCodec
	Lifecycles  map[core.ProviderKind]core.TokenLifecycle
	Retryer     *resilience.Retryer
	Categorizer *core.Categorizer
	Logger      core.Logger
	Metrics     core.MetricsRecorder
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Connections == nil {
		return nil, fmt.Errorf("sync: connection store is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("sync: ledger store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("sync: provider registry is required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("sync: credential codec is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &Orchestrator{
		Connections: cfg.Connections,
		Ledger:      cfg.Ledger,
		Registry:    cfg.Registry,
		Codec:       cfg.Codec,
		Lifecycles:  cfg.Lifecycles,
		Retryer:     cfg.Retryer,
		Categorizer: cfg.Categorizer,
		Logger:      cfg.Logger,
		Metrics:     metrics,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		inFlight: map[string]struct{}{},
	}, nil
}

// SyncOne runs the pipeline for a single connection. Concurrent calls for
// the same connection are rejected; the caller retries after the running
// sync finishes.
func (o *Orchestrator) SyncOne(ctx context.Context, connectionID string) (core.SyncOutcome, error) {
	if o == nil {
		return core.SyncOutcome{}, fmt.Errorf("sync: orchestrator is nil")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return core.SyncOutcome{}, core.NewConfigurationError("sync: connection id is required", nil)
	}

	if !o.acquire(connectionID) {
		err := core.NewConflictError(fmt.Sprintf("sync already running for connection %s", connectionID))
		return core.SyncOutcome{ConnectionID: connectionID, Err: err}, err
	}
	defer o.release(connectionID)

	conn, err := o.Connections.Get(ctx, connectionID)
	if err != nil {
		return core.SyncOutcome{ConnectionID: connectionID, Err: err}, err
	}

	outcome := o.run(ctx, conn)
	o.record(ctx, conn.Provider, outcome)
	if outcome.Err != nil {
		return outcome, outcome.Err
	}
	return outcome, nil
}

// SyncAll runs every auto-sync connection matching the given frequencies
// sequentially. One connection's failure never aborts the rest.
func (o *Orchestrator) SyncAll(ctx context.Context, frequencies ...core.SyncFrequency) ([]core.SyncOutcome, error) {
	if o == nil {
		return nil, fmt.Errorf("sync: orchestrator is nil")
	}
	connections, err := o.Connections.ListEligible(ctx, frequencies...)
	if err != nil {
		return nil, err
	}

	outcomes := make([]core.SyncOutcome, 0, len(connections))
	for _, conn := range connections {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcome, _ := o.SyncOne(ctx, conn.ID)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (o *Orchestrator) run(ctx context.Context, conn core.Connection) core.SyncOutcome {
	outcome := core.SyncOutcome{ConnectionID: conn.ID, Provider: conn.Provider}
	syncStart := o.now()

	tokens, err := o.Codec.Open(ctx, conn.Credentials)
	if err != nil {
		return o.fail(ctx, conn, outcome, err)
	}

	factory, ok := o.Registry.Resolve(conn.Provider)
	if !ok {
		err := core.NewConfigurationError(
			fmt.Sprintf("sync: provider %q is not registered", conn.Provider), nil)
		return o.fail(ctx, conn, outcome, err)
	}

	refreshed := false
	if tokens.Expired(o.now()) {
		o.logInfo("access token expired, refreshing before fetch", conn)
		tokens, err = o.refreshTokens(ctx, conn, tokens)
		if err != nil {
			return o.fail(ctx, conn, outcome, err)
		}
		refreshed = true
	}

	movements, err := o.fetchMovements(ctx, conn, factory, tokens)
	if err != nil {
		if core.IsAuthorization(err) && !refreshed {
			movements, err = o.refreshAndRetry(ctx, conn, factory, tokens)
		}
		if err != nil {
			return o.fail(ctx, conn, outcome, err)
		}
	}

	for _, movement := range movements {
		if err := movement.Validate(); err != nil {
			outcome.Skipped++
			o.logWarn("skipping malformed movement", conn, "error", err)
			continue
		}
		result, err := o.ingest(ctx, conn, movement)
		if err != nil {
			return o.fail(ctx, conn, outcome, err)
		}
		switch {
		case result.Created:
			outcome.Created++
		case result.Updated:
			outcome.Updated++
		default:
			outcome.Skipped++
		}
	}

	update := core.SyncStatusUpdate{
		State:      core.SyncStateActive,
		LastSyncAt: &syncStart,
		Created:    outcome.Created,
		Updated:    outcome.Updated,
	}
	if err := o.Connections.UpdateSyncStatus(ctx, conn.ID, update); err != nil {
		outcome.Err = err
		return outcome
	}

	o.logInfo("sync completed", conn,
		"created", outcome.Created,
		"updated", outcome.Updated,
		"skipped", outcome.Skipped,
	)
	return outcome
}

func (o *Orchestrator) fetchMovements(
	ctx context.Context,
	conn core.Connection,
	factory core.ProviderFactory,
	tokens core.TokenPair,
) ([]core.Movement, error) {
	provider, err := factory(ctx, conn, tokens)
	if err != nil {
		return nil, err
	}

	var movements []core.Movement
	fetch := func(ctx context.Context) error {
		fetched, err := provider.Movements(ctx, conn.LastSyncAt)
		if err != nil {
			return err
		}
		movements = fetched
		return nil
	}

	if o.Retryer != nil {
		err = o.Retryer.Do(ctx, "movements", fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// refreshAndRetry performs the reactive leg of the one-refresh-per-run
// budget. A second authorization failure is final.
func (o *Orchestrator) refreshAndRetry(
	ctx context.Context,
	conn core.Connection,
	factory core.ProviderFactory,
	stale core.TokenPair,
) ([]core.Movement, error) {
	o.logInfo("credentials rejected, attempting refresh", conn)
	refreshed, err := o.refreshTokens(ctx, conn, stale)
	if err != nil {
		return nil, err
	}
	return o.fetchMovements(ctx, conn, factory, refreshed)
}

// refreshTokens rotates the stored pair through the provider's token
// lifecycle and persists the sealed result before any fetch proceeds.
func (o *Orchestrator) refreshTokens(ctx context.Context, conn core.Connection, stale core.TokenPair) (core.TokenPair, error) {
	lifecycle, ok := o.Lifecycles[conn.Provider]
	if !ok || lifecycle == nil {
		return core.TokenPair{}, core.NewAuthorizationError(
			fmt.Sprintf("sync: credential refresh needed but no refresh path for %s", conn.Provider), nil)
	}
	if strings.TrimSpace(stale.RefreshToken) == "" {
		return core.TokenPair{}, core.NewAuthorizationError("sync: credential refresh needed but no refresh token stored", nil)
	}

	refreshed, err := lifecycle.Refresh(ctx, stale.RefreshToken)
	if err != nil {
		return core.TokenPair{}, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = stale.RefreshToken
	}
	if refreshed.ProviderUserID == "" {
		refreshed.ProviderUserID = stale.ProviderUserID
	}

	sealed, err := o.Codec.Seal(ctx, refreshed)
	if err != nil {
		return core.TokenPair{}, err
	}
	if err := o.Connections.SaveCredentials(ctx, conn.ID, sealed); err != nil {
		return core.TokenPair{}, err
	}
	return refreshed, nil
}

func (o *Orchestrator) ingest(ctx context.Context, conn core.Connection, movement core.Movement) (core.UpsertResult, error) {
	category := core.CategoryOther
	if conn.Settings.AutoCategorize {
		category = o.Categorizer.Categorize(movement.Description)
	}
	return o.Ledger.UpsertByOrigin(ctx, core.UpsertLedgerEntryInput{
		AccountID:   conn.AccountID,
		Description: movement.Description,
		Amount:      movement.Amount,
		Currency:    movement.Currency,
		Date:        movement.CreatedAt,
		Category:    category,
		Status:      movement.Status,
		Direction:   movement.Direction,
		Origin: core.MovementOrigin{
			Provider:     conn.Provider,
			ConnectionID: conn.ID,
			ProviderTxID: movement.ProviderTxID,
			Raw:          movement.Raw,
		},
	})
}

// fail parks the connection in ERROR state with the failure message. The
// sync timestamp is left untouched so the window is re-fetched next run.
// Unrecoverable authorization failures also drop the stored credentials.
func (o *Orchestrator) fail(ctx context.Context, conn core.Connection, outcome core.SyncOutcome, cause error) core.SyncOutcome {
	outcome.Err = cause

	update := core.SyncStatusUpdate{
		State:         core.SyncStateError,
		LastSyncError: cause.Error(),
	}
	if err := o.Connections.UpdateSyncStatus(ctx, conn.ID, update); err != nil {
		o.logWarn("sync failure state update failed", conn, "error", err)
	}
	if core.IsAuthorization(cause) {
		if err := o.Connections.ClearCredentials(ctx, conn.ID, cause.Error()); err != nil {
			o.logWarn("credential clear failed", conn, "error", err)
		}
	}

	o.logWarn("sync failed", conn, "error", cause)
	return outcome
}

func (o *Orchestrator) acquire(connectionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight == nil {
		o.inFlight = map[string]struct{}{}
	}
	if _, running := o.inFlight[connectionID]; running {
		return false
	}
	o.inFlight[connectionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(connectionID string) {
	o.mu.Lock()
	delete(o.inFlight, connectionID)
	o.mu.Unlock()
}

func (o *Orchestrator) record(ctx context.Context, kind core.ProviderKind, outcome core.SyncOutcome) {
	result := "ok"
	if outcome.Err != nil {
		result = "error"
	}
	o.Metrics.Counter(ctx, "finsync.sync.run", 1, map[string]string{
		"provider": string(kind),
		"result":   result,
	})
	if outcome.Err == nil {
		o.Metrics.Counter(ctx, "finsync.sync.entries_created", float64(outcome.Created), map[string]string{
			"provider": string(kind),
		})
	}
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logInfo(msg string, conn core.Connection, args ...any) {
	if o.Logger == nil {
		return
	}
	fields := append([]any{"connection_id", conn.ID, "provider", string(conn.Provider)}, args...)
	o.Logger.Info(msg, fields...)
}

func (o *Orchestrator) logWarn(msg string, conn core.Connection, args ...any) {
	if o.Logger == nil {
		return
	}
	fields := append([]any{"connection_id", conn.ID, "provider", string(conn.Provider)}, args...)
	o.Logger.Warn(msg, fields...)
}

var _ core.Syncer = (*Orchestrator)(nil)
