package sync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hogarapp/finsync/core"
	"github.com/hogarapp/finsync/resilience"
	"github.com/shopspring/decimal"
)

type fakeSecrets struct{}

func (fakeSecrets) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return []byte("sealed:" + string(plaintext)), nil
}

func (fakeSecrets) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	raw := string(ciphertext)
	if !strings.HasPrefix(raw, "sealed:") {
		return nil, fmt.Errorf("bad ciphertext")
	}
	return []byte(strings.TrimPrefix(raw, "sealed:")), nil
}

type fakeConnStore struct {
	mu      sync.Mutex
	conns   map[string]core.Connection
	cleared []string
}

func newFakeConnStore(conns ...core.Connection) *fakeConnStore {
	store := &fakeConnStore{conns: map[string]core.Connection{}}
	for _, conn := range conns {
		store.conns[conn.ID] = conn
	}
	return store
}

func (s *fakeConnStore) Create(_ context.Context, in core.CreateConnectionInput) (core.Connection, error) {
	return core.Connection{}, fmt.Errorf("not used")
}

func (s *fakeConnStore) Get(_ context.Context, id string) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return core.Connection{}, core.ErrConnectionNotFound
	}
	return conn, nil
}

func (s *fakeConnStore) ListEligible(_ context.Context, frequencies ...core.SyncFrequency) ([]core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[core.SyncFrequency]struct{}{}
	for _, f := range frequencies {
		wanted[f] = struct{}{}
	}
	out := []core.Connection{}
	for _, conn := range s.conns {
		if !conn.Settings.AutoSync {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[conn.Settings.Frequency]; !ok {
				continue
			}
		}
		out = append(out, conn)
	}
	return out, nil
}

func (s *fakeConnStore) ListByOwner(context.Context, string) ([]core.Connection, error) {
	return nil, nil
}

func (s *fakeConnStore) UpdateSyncStatus(_ context.Context, id string, update core.SyncStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return core.ErrConnectionNotFound
	}
	conn.State = update.State
	conn.LastSyncError = update.LastSyncError
	if update.LastSyncAt != nil {
		conn.LastSyncAt = update.LastSyncAt
	}
	conn.LastCreated = update.Created
	conn.LastUpdated = update.Updated
	s.conns[id] = conn
	return nil
}

func (s *fakeConnStore) SaveCredentials(_ context.Context, id string, credentials map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return core.ErrConnectionNotFound
	}
	conn.Credentials = credentials
	s.conns[id] = conn
	return nil
}

func (s *fakeConnStore) ClearCredentials(_ context.Context, id string, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return core.ErrConnectionNotFound
	}
	conn.Credentials = nil
	s.conns[id] = conn
	s.cleared = append(s.cleared, id)
	return nil
}

func (s *fakeConnStore) Delete(context.Context, string) error { return nil }

type fakeLedger struct {
	mu      sync.Mutex
	entries map[string]core.LedgerEntry
	failing bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: map[string]core.LedgerEntry{}}
}

func (l *fakeLedger) UpsertByOrigin(_ context.Context, in core.UpsertLedgerEntryInput) (core.UpsertResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failing {
		return core.UpsertResult{}, fmt.Errorf("ledger unavailable")
	}
	key := in.AccountID + "|" + in.Origin.ProviderTxID
	if existing, ok := l.entries[key]; ok {
		if existing.Status == in.Status {
			return core.UpsertResult{Entry: existing}, nil
		}
		existing.Status = in.Status
		l.entries[key] = existing
		return core.UpsertResult{Entry: existing, Updated: true}, nil
	}
	entry := core.LedgerEntry{
		ID:        fmt.Sprintf("entry-%d", len(l.entries)+1),
		AccountID: in.AccountID,
		Amount:    in.Amount,
		Category:  in.Category,
		Status:    in.Status,
		Direction: in.Direction,
		Origin:    in.Origin,
	}
	l.entries[key] = entry
	return core.UpsertResult{Entry: entry, Created: true}, nil
}

func (l *fakeLedger) FindByOrigin(_ context.Context, accountID string, providerTxID string) (core.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[accountID+"|"+providerTxID]
	if !ok {
		return core.LedgerEntry{}, core.ErrLedgerEntryNotFound
	}
	return entry, nil
}

type scriptedProvider struct {
	mu       sync.Mutex
	batches  [][]core.Movement
	errs     []error
	calls    int
	sinceLog []*time.Time
}

func (p *scriptedProvider) Kind() core.ProviderKind { return core.ProviderKindMercadoPago }

func (p *scriptedProvider) Identity(context.Context) (core.Identity, error) {
	return core.Identity{ProviderUserID: "111"}, nil
}

func (p *scriptedProvider) Movements(_ context.Context, since *time.Time) ([]core.Movement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := p.calls
	p.calls++
	p.sinceLog = append(p.sinceLog, since)
	if call < len(p.errs) && p.errs[call] != nil {
		return nil, p.errs[call]
	}
	if call < len(p.batches) {
		return p.batches[call], nil
	}
	if len(p.batches) > 0 {
		return p.batches[len(p.batches)-1], nil
	}
	return nil, nil
}

type refreshStub struct {
	pair  core.TokenPair
	err   error
	calls int
}

func (r *refreshStub) AuthorizationURL(string) (string, error) { return "", nil }

func (r *refreshStub) Exchange(context.Context, string, string) (core.TokenPair, error) {
	return core.TokenPair{}, fmt.Errorf("not used")
}

func (r *refreshStub) Refresh(context.Context, string) (core.TokenPair, error) {
	r.calls++
	if r.err != nil {
		return core.TokenPair{}, r.err
	}
	return r.pair, nil
}

func movement(id string, amount float64, status core.EntryStatus) core.Movement {
	return core.Movement{
		ProviderTxID: id,
		Amount:       decimal.NewFromFloat(amount),
		Currency:     "ARS",
		CreatedAt:    time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Description:  "alquiler marzo",
		Status:       status,
		Direction:    core.EntryDirectionIncome,
	}
}

func sealedCredentials(t *testing.T, tokens core.TokenPair) map[string]string {
	t.Helper()
	codec := &core.CredentialCodec{Secrets: fakeSecrets{}}
	sealed, err := codec.Seal(context.Background(), tokens)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return sealed
}

func testConnection(t *testing.T) core.Connection {
	return core.Connection{
		ID:        "conn-1",
		OwnerID:   "owner-1",
		Provider:  core.ProviderKindMercadoPago,
		AccountID: "acct-1",
		Credentials: sealedCredentials(t, core.TokenPair{
			AccessToken:  "access",
			RefreshToken: "refresh",
		}),
		Settings: core.ConnectionSettings{
			AutoSync:       true,
			Frequency:      core.SyncFrequencyDaily,
			AutoCategorize: true,
		},
		State: core.SyncStateActive,
	}
}

type orchestratorFixture struct {
	orchestrator  *Orchestrator
	store         *fakeConnStore
	ledger        *fakeLedger
	provider      *scriptedProvider
	refresher     *refreshStub
	factoryTokens []string
}

func newFixture(t *testing.T, conn core.Connection, provider *scriptedProvider) *orchestratorFixture {
	t.Helper()
	store := newFakeConnStore(conn)
	ledger := newFakeLedger()
	registry := core.NewProviderRegistry()
	fx := &orchestratorFixture{store: store, ledger: ledger, provider: provider}
	if err := registry.Register(core.ProviderKindMercadoPago,
		func(_ context.Context, _ core.Connection, tokens core.TokenPair) (core.Provider, error) {
			fx.factoryTokens = append(fx.factoryTokens, tokens.AccessToken)
			return provider, nil
		}); err != nil {
		t.Fatalf("register: %v", err)
	}
	refresher := &refreshStub{pair: core.TokenPair{AccessToken: "fresh-access"}}

	orchestrator, err := NewOrchestrator(Config{
		Connections: store,
		Ledger:      ledger,
		Registry:    registry,
		Codec:       &core.CredentialCodec{Secrets: fakeSecrets{}},
		Lifecycles:  map[core.ProviderKind]core.TokenLifecycle{core.ProviderKindMercadoPago: refresher},
		Categorizer: core.DefaultCategorizer(),
		Retryer: &resilience.Retryer{
			MaxAttempts:    3,
			AttemptTimeout: time.Second,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Sleep:          func(context.Context, time.Duration) error { return nil },
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	orchestrator.Now = func() time.Time {
		return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	}
	fx.orchestrator = orchestrator
	fx.refresher = refresher
	return fx
}

func TestSyncOne_FirstRunCreatesEntries(t *testing.T) {
	provider := &scriptedProvider{batches: [][]core.Movement{{
		movement("p1", 500, core.EntryStatusCompleted),
		movement("p2", 300, core.EntryStatusCompleted),
	}}}
	fx := newFixture(t, testConnection(t), provider)

	outcome, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if outcome.Created != 2 || outcome.Updated != 0 || outcome.Skipped != 0 {
		t.Fatalf("unexpected counts: %+v", outcome)
	}

	conn, _ := fx.store.Get(context.Background(), "conn-1")
	if conn.State != core.SyncStateActive {
		t.Fatalf("state: %s", conn.State)
	}
	if conn.LastSyncAt == nil || !conn.LastSyncAt.Equal(fx.orchestrator.Now()) {
		t.Fatalf("sync timestamp not advanced: %v", conn.LastSyncAt)
	}
}

func TestSyncOne_SecondRunSkipsExistingEntries(t *testing.T) {
	provider := &scriptedProvider{batches: [][]core.Movement{
		{
			movement("p1", 500, core.EntryStatusCompleted),
			movement("p2", 300, core.EntryStatusCompleted),
		},
		{
			movement("p1", 500, core.EntryStatusCompleted),
			movement("p2", 300, core.EntryStatusCompleted),
			movement("p3", 100, core.EntryStatusCompleted),
		},
	}}
	fx := newFixture(t, testConnection(t), provider)

	if _, err := fx.orchestrator.SyncOne(context.Background(), "conn-1"); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	outcome, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if outcome.Created != 1 {
		t.Fatalf("expected 1 new entry, got %d", outcome.Created)
	}
	if outcome.Skipped != 2 {
		t.Fatalf("expected 2 unchanged entries skipped, got %d", outcome.Skipped)
	}
	if len(fx.ledger.entries) != 3 {
		t.Fatalf("expected 3 ledger entries total, got %d", len(fx.ledger.entries))
	}
}

func TestSyncOne_StatusChangeUpdatesEntry(t *testing.T) {
	provider := &scriptedProvider{batches: [][]core.Movement{
		{movement("p1", 500, core.EntryStatusPending)},
		{movement("p1", 500, core.EntryStatusCompleted)},
	}}
	fx := newFixture(t, testConnection(t), provider)

	if _, err := fx.orchestrator.SyncOne(context.Background(), "conn-1"); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	outcome, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if outcome.Updated != 1 || outcome.Created != 0 {
		t.Fatalf("unexpected counts: %+v", outcome)
	}

	entry, err := fx.ledger.FindByOrigin(context.Background(), "acct-1", "p1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if entry.Status != core.EntryStatusCompleted {
		t.Fatalf("status not updated: %s", entry.Status)
	}
}

func TestSyncOne_UsesLastSyncAtAsWindow(t *testing.T) {
	lastSync := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	conn := testConnection(t)
	conn.LastSyncAt = &lastSync

	provider := &scriptedProvider{}
	fx := newFixture(t, conn, provider)

	if _, err := fx.orchestrator.SyncOne(context.Background(), "conn-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(provider.sinceLog) == 0 || provider.sinceLog[0] == nil {
		t.Fatalf("provider did not receive the last sync timestamp")
	}
	if !provider.sinceLog[0].Equal(lastSync) {
		t.Fatalf("since: %v", provider.sinceLog[0])
	}
}

func TestSyncOne_TransientFailureExhaustsRetriesAndParks(t *testing.T) {
	transient := core.NewTransientError("provider timeout", nil)
	provider := &scriptedProvider{errs: []error{transient, transient, transient}}
	lastSync := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	conn := testConnection(t)
	conn.LastSyncAt = &lastSync
	fx := newFixture(t, conn, provider)

	_, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if err == nil || !core.IsTransient(err) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", provider.calls)
	}

	parked, _ := fx.store.Get(context.Background(), "conn-1")
	if parked.State != core.SyncStateError {
		t.Fatalf("state: %s", parked.State)
	}
	if parked.LastSyncError == "" {
		t.Fatalf("expected failure message recorded")
	}
	if parked.LastSyncAt == nil || !parked.LastSyncAt.Equal(lastSync) {
		t.Fatalf("sync timestamp must not advance on failure: %v", parked.LastSyncAt)
	}
	if len(fx.store.cleared) != 0 {
		t.Fatalf("transient failure must not clear credentials")
	}
}

func TestSyncOne_TransientThenSuccessWithinBudget(t *testing.T) {
	transient := core.NewTransientError("provider 503", nil)
	provider := &scriptedProvider{
		errs:    []error{transient, transient, nil},
		batches: [][]core.Movement{nil, nil, {movement("p1", 500, core.EntryStatusCompleted)}},
	}
	fx := newFixture(t, testConnection(t), provider)

	outcome, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("sync should recover within retry budget: %v", err)
	}
	if outcome.Created != 1 {
		t.Fatalf("created: %d", outcome.Created)
	}
}

func TestSyncOne_AuthFailureTriggersOneRefresh(t *testing.T) {
	authErr := core.NewAuthorizationError("token expired", nil)
	provider := &scriptedProvider{
		errs:    []error{authErr, nil},
		batches: [][]core.Movement{nil, {movement("p1", 500, core.EntryStatusCompleted)}},
	}
	fx := newFixture(t, testConnection(t), provider)

	outcome, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("sync after refresh: %v", err)
	}
	if fx.refresher.calls != 1 {
		t.Fatalf("expected exactly one refresh, got %d", fx.refresher.calls)
	}
	if outcome.Created != 1 {
		t.Fatalf("created: %d", outcome.Created)
	}

	conn, _ := fx.store.Get(context.Background(), "conn-1")
	codec := &core.CredentialCodec{Secrets: fakeSecrets{}}
	tokens, err := codec.Open(context.Background(), conn.Credentials)
	if err != nil {
		t.Fatalf("open rotated credentials: %v", err)
	}
	if tokens.AccessToken != "fresh-access" {
		t.Fatalf("rotated access token not persisted: %q", tokens.AccessToken)
	}
	// Provider omitted the refresh token; the previous one carries over.
	if tokens.RefreshToken != "refresh" {
		t.Fatalf("refresh token lost: %q", tokens.RefreshToken)
	}
}

func TestSyncOne_RefreshFailureParksAndClearsCredentials(t *testing.T) {
	authErr := core.NewAuthorizationError("token expired", nil)
	provider := &scriptedProvider{errs: []error{authErr}}
	fx := newFixture(t, testConnection(t), provider)
	fx.refresher.err = core.NewAuthorizationError("refresh token revoked", nil)

	_, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if !core.IsAuthorization(err) {
		t.Fatalf("expected authorization failure, got %v", err)
	}

	parked, _ := fx.store.Get(context.Background(), "conn-1")
	if parked.State != core.SyncStateError {
		t.Fatalf("state: %s", parked.State)
	}
	if len(parked.Credentials) != 0 {
		t.Fatalf("stale credentials must be cleared after failed refresh")
	}
}

func TestSyncOne_SecondAuthFailureAfterRefreshIsFinal(t *testing.T) {
	authErr := core.NewAuthorizationError("token rejected", nil)
	provider := &scriptedProvider{errs: []error{authErr, authErr}}
	fx := newFixture(t, testConnection(t), provider)

	_, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if !core.IsAuthorization(err) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	if fx.refresher.calls != 1 {
		t.Fatalf("only one reactive refresh is allowed, got %d", fx.refresher.calls)
	}
	if provider.calls != 2 {
		t.Fatalf("expected original attempt plus one post-refresh attempt, got %d", provider.calls)
	}
}

func TestSyncOne_ExpiredTokenRefreshedBeforeFetch(t *testing.T) {
	expired := time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC)
	conn := testConnection(t)
	conn.Credentials = sealedCredentials(t, core.TokenPair{
		AccessToken:  "stale-access",
		RefreshToken: "refresh",
		ExpiresAt:    &expired,
	})
	provider := &scriptedProvider{batches: [][]core.Movement{{
		movement("p1", 500, core.EntryStatusCompleted),
	}}}
	fx := newFixture(t, conn, provider)

	outcome, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("sync with expired token: %v", err)
	}
	if fx.refresher.calls != 1 {
		t.Fatalf("expected one proactive refresh of the expired token, got %d", fx.refresher.calls)
	}
	if len(fx.factoryTokens) != 1 || fx.factoryTokens[0] != "fresh-access" {
		t.Fatalf("stale token must never reach the adapter: %v", fx.factoryTokens)
	}
	if outcome.Created != 1 {
		t.Fatalf("created: %d", outcome.Created)
	}

	stored, _ := fx.store.Get(context.Background(), "conn-1")
	codec := &core.CredentialCodec{Secrets: fakeSecrets{}}
	tokens, err := codec.Open(context.Background(), stored.Credentials)
	if err != nil {
		t.Fatalf("open rotated credentials: %v", err)
	}
	if tokens.AccessToken != "fresh-access" {
		t.Fatalf("rotated access token not persisted: %q", tokens.AccessToken)
	}
}

func TestSyncOne_ProactiveRefreshConsumesTheBudget(t *testing.T) {
	expired := time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC)
	conn := testConnection(t)
	conn.Credentials = sealedCredentials(t, core.TokenPair{
		AccessToken:  "stale-access",
		RefreshToken: "refresh",
		ExpiresAt:    &expired,
	})
	authErr := core.NewAuthorizationError("token rejected", nil)
	provider := &scriptedProvider{errs: []error{authErr}}
	fx := newFixture(t, conn, provider)

	_, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if !core.IsAuthorization(err) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	if fx.refresher.calls != 1 {
		t.Fatalf("proactive refresh counts toward the single budget, got %d refreshes", fx.refresher.calls)
	}
	if provider.calls != 1 {
		t.Fatalf("no second fetch after a post-refresh rejection, got %d", provider.calls)
	}
}

func TestSyncOne_DecryptFailureIsFatalWithoutProviderCalls(t *testing.T) {
	conn := testConnection(t)
	conn.Credentials = map[string]string{"access_token": "garbage"}
	provider := &scriptedProvider{}
	fx := newFixture(t, conn, provider)

	_, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if !core.IsConfiguration(err) {
		t.Fatalf("expected configuration failure, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("no provider call may happen after decrypt failure, got %d", provider.calls)
	}

	parked, _ := fx.store.Get(context.Background(), "conn-1")
	if parked.State != core.SyncStateError {
		t.Fatalf("state: %s", parked.State)
	}
}

func TestSyncOne_UnknownProviderKind(t *testing.T) {
	conn := testConnection(t)
	conn.Provider = core.ProviderKind("plaid")
	fx := newFixture(t, conn, &scriptedProvider{})

	_, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if !core.IsConfiguration(err) {
		t.Fatalf("expected configuration failure for unknown provider, got %v", err)
	}
}

func TestSyncOne_MalformedMovementSkipped(t *testing.T) {
	bad := movement("", 100, core.EntryStatusCompleted)
	provider := &scriptedProvider{batches: [][]core.Movement{{
		movement("p1", 500, core.EntryStatusCompleted),
		bad,
	}}}
	fx := newFixture(t, testConnection(t), provider)

	outcome, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("malformed movement must not abort the run: %v", err)
	}
	if outcome.Created != 1 || outcome.Skipped != 1 {
		t.Fatalf("unexpected counts: %+v", outcome)
	}
}

func TestSyncOne_AutoCategorizeApplied(t *testing.T) {
	provider := &scriptedProvider{batches: [][]core.Movement{{
		movement("p1", 500, core.EntryStatusCompleted),
	}}}
	fx := newFixture(t, testConnection(t), provider)

	if _, err := fx.orchestrator.SyncOne(context.Background(), "conn-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	entry, err := fx.ledger.FindByOrigin(context.Background(), "acct-1", "p1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if entry.Category != "Rent" {
		t.Fatalf("expected Rent category for %q, got %q", "alquiler marzo", entry.Category)
	}
}

func TestSyncOne_CategorizeDisabled(t *testing.T) {
	conn := testConnection(t)
	conn.Settings.AutoCategorize = false
	provider := &scriptedProvider{batches: [][]core.Movement{{
		movement("p1", 500, core.EntryStatusCompleted),
	}}}
	fx := newFixture(t, conn, provider)

	if _, err := fx.orchestrator.SyncOne(context.Background(), "conn-1"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	entry, _ := fx.ledger.FindByOrigin(context.Background(), "acct-1", "p1")
	if entry.Category != core.CategoryOther {
		t.Fatalf("expected %q when categorization is off, got %q", core.CategoryOther, entry.Category)
	}
}

func TestSyncOne_OverlapRejected(t *testing.T) {
	provider := &scriptedProvider{}
	fx := newFixture(t, testConnection(t), provider)

	if !fx.orchestrator.acquire("conn-1") {
		t.Fatalf("acquire failed")
	}
	defer fx.orchestrator.release("conn-1")

	_, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if !core.IsConflict(err) {
		t.Fatalf("expected conflict for overlapping sync, got %v", err)
	}
}

func TestSyncAll_PartialFailureIsolation(t *testing.T) {
	healthy := testConnection(t)
	broken := testConnection(t)
	broken.ID = "conn-2"
	broken.Credentials = map[string]string{"access_token": "garbage"}

	store := newFakeConnStore(healthy, broken)
	ledger := newFakeLedger()
	registry := core.NewProviderRegistry()
	provider := &scriptedProvider{batches: [][]core.Movement{{
		movement("p1", 500, core.EntryStatusCompleted),
	}}}
	_ = registry.Register(core.ProviderKindMercadoPago,
		func(context.Context, core.Connection, core.TokenPair) (core.Provider, error) {
			return provider, nil
		})

	orchestrator, err := NewOrchestrator(Config{
		Connections: store,
		Ledger:      ledger,
		Registry:    registry,
		Codec:       &core.CredentialCodec{Secrets: fakeSecrets{}},
		Categorizer: core.DefaultCategorizer(),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	outcomes, err := orchestrator.SyncAll(context.Background(), core.SyncFrequencyDaily)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}

	failures := 0
	successes := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failures++
		} else {
			successes++
		}
	}
	if failures != 1 || successes != 1 {
		t.Fatalf("one failure must not abort the batch: %d failures, %d successes", failures, successes)
	}
}

func TestSyncAll_FrequencyFilter(t *testing.T) {
	daily := testConnection(t)
	weekly := testConnection(t)
	weekly.ID = "conn-2"
	weekly.Settings.Frequency = core.SyncFrequencyWeekly
	manual := testConnection(t)
	manual.ID = "conn-3"
	manual.Settings.AutoSync = false

	store := newFakeConnStore(daily, weekly, manual)
	registry := core.NewProviderRegistry()
	_ = registry.Register(core.ProviderKindMercadoPago,
		func(context.Context, core.Connection, core.TokenPair) (core.Provider, error) {
			return &scriptedProvider{}, nil
		})

	orchestrator, err := NewOrchestrator(Config{
		Connections: store,
		Ledger:      newFakeLedger(),
		Registry:    registry,
		Codec:       &core.CredentialCodec{Secrets: fakeSecrets{}},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	outcomes, err := orchestrator.SyncAll(context.Background(), core.SyncFrequencyDaily)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected only the daily auto-sync connection, got %d", len(outcomes))
	}
	if outcomes[0].ConnectionID != "conn-1" {
		t.Fatalf("wrong connection synced: %s", outcomes[0].ConnectionID)
	}
}

func TestSyncOne_LedgerFailureParksConnection(t *testing.T) {
	provider := &scriptedProvider{batches: [][]core.Movement{{
		movement("p1", 500, core.EntryStatusCompleted),
	}}}
	fx := newFixture(t, testConnection(t), provider)
	fx.ledger.failing = true

	_, err := fx.orchestrator.SyncOne(context.Background(), "conn-1")
	if err == nil {
		t.Fatalf("expected ledger failure to surface")
	}
	parked, _ := fx.store.Get(context.Background(), "conn-1")
	if parked.State != core.SyncStateError {
		t.Fatalf("state: %s", parked.State)
	}
}
