package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memSecrets struct {
	failEncrypt bool
	failDecrypt bool
}

// Encrypt encodes the payload so sealed values never contain the plaintext
// and confidentiality assertions can compare substrings.
func (s memSecrets) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if s.failEncrypt {
		return nil, fmt.Errorf("encrypt unavailable")
	}
	return []byte("sealed:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (s memSecrets) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if s.failDecrypt {
		return nil, fmt.Errorf("decrypt unavailable")
	}
	raw := string(ciphertext)
	if !strings.HasPrefix(raw, "sealed:") {
		return nil, fmt.Errorf("unexpected ciphertext %q", raw)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, "sealed:"))
	if err != nil {
		return nil, fmt.Errorf("malformed ciphertext %q: %w", raw, err)
	}
	return decoded, nil
}

type memConnectionStore struct {
	mu          sync.Mutex
	connections map[string]Connection
	cleared     []string
	deleted     []string
	updates     map[string][]SyncStatusUpdate
}

func newMemConnectionStore() *memConnectionStore {
	return &memConnectionStore{
		connections: map[string]Connection{},
		updates:     map[string][]SyncStatusUpdate{},
	}
}

func (s *memConnectionStore) Create(_ context.Context, in CreateConnectionInput) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	conn := Connection{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		Provider:    in.Provider,
		AccountID:   in.AccountID,
		Credentials: in.Credentials,
		Settings:    in.Settings,
		State:       in.State,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.connections[conn.ID] = conn
	return conn, nil
}

func (s *memConnectionStore) Get(_ context.Context, id string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[id]
	if !ok {
		return Connection{}, ErrConnectionNotFound
	}
	return conn, nil
}

func (s *memConnectionStore) ListEligible(_ context.Context, frequencies ...SyncFrequency) ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[SyncFrequency]struct{}{}
	for _, f := range frequencies {
		wanted[f] = struct{}{}
	}
	out := []Connection{}
	for _, conn := range s.connections {
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

func (s *memConnectionStore) ListByOwner(_ context.Context, ownerID string) ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Connection{}
	for _, conn := range s.connections {
		if conn.OwnerID == ownerID {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (s *memConnectionStore) UpdateSyncStatus(_ context.Context, id string, update SyncStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[id]
	if !ok {
		return ErrConnectionNotFound
	}
	conn.State = update.State
	conn.LastSyncError = update.LastSyncError
	if update.LastSyncAt != nil {
		conn.LastSyncAt = update.LastSyncAt
	}
	conn.LastCreated = update.Created
	conn.LastUpdated = update.Updated
	s.connections[id] = conn
	s.updates[id] = append(s.updates[id], update)
	return nil
}

func (s *memConnectionStore) SaveCredentials(_ context.Context, id string, credentials map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[id]
	if !ok {
		return ErrConnectionNotFound
	}
	conn.Credentials = credentials
	s.connections[id] = conn
	return nil
}

func (s *memConnectionStore) ClearCredentials(_ context.Context, id string, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[id]
	if !ok {
		return ErrConnectionNotFound
	}
	conn.Credentials = nil
	s.connections[id] = conn
	s.cleared = append(s.cleared, id)
	return nil
}

func (s *memConnectionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[id]; !ok {
		return ErrConnectionNotFound
	}
	delete(s.connections, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type memLedgerStore struct {
	mu      sync.Mutex
	entries map[string]LedgerEntry
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{entries: map[string]LedgerEntry{}}
}

func ledgerKey(accountID, providerTxID string) string {
	return accountID + "|" + providerTxID
}

func (s *memLedgerStore) UpsertByOrigin(_ context.Context, in UpsertLedgerEntryInput) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ledgerKey(in.AccountID, in.Origin.ProviderTxID)
	if existing, ok := s.entries[key]; ok {
		if existing.Status == in.Status {
			return UpsertResult{Entry: existing}, nil
		}
		existing.Status = in.Status
		s.entries[key] = existing
		return UpsertResult{Entry: existing, Updated: true}, nil
	}
	entry := LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   in.AccountID,
		Description: in.Description,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Date:        in.Date,
		Category:    in.Category,
		Status:      in.Status,
		Direction:   in.Direction,
		Origin:      in.Origin,
	}
	s.entries[key] = entry
	return UpsertResult{Entry: entry, Created: true}, nil
}

func (s *memLedgerStore) FindByOrigin(_ context.Context, accountID string, providerTxID string) (LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ledgerKey(accountID, providerTxID)]
	if !ok {
		return LedgerEntry{}, ErrLedgerEntryNotFound
	}
	return entry, nil
}

type stubLifecycle struct {
	authURL       string
	authErr       error
	exchanged     TokenPair
	exchangeErr   error
	refreshed     TokenPair
	refreshErr    error
	refreshCalls  int
	exchangeCalls int
}

func (l *stubLifecycle) AuthorizationURL(redirectURI string) (string, error) {
	if l.authErr != nil {
		return "", l.authErr
	}
	return l.authURL + "?redirect_uri=" + redirectURI, nil
}

func (l *stubLifecycle) Exchange(_ context.Context, code string, _ string) (TokenPair, error) {
	l.exchangeCalls++
	if l.exchangeErr != nil {
		return TokenPair{}, l.exchangeErr
	}
	if code == "" {
		return TokenPair{}, NewAuthorizationError("missing code", nil)
	}
	return l.exchanged, nil
}

func (l *stubLifecycle) Refresh(_ context.Context, refreshToken string) (TokenPair, error) {
	l.refreshCalls++
	if l.refreshErr != nil {
		return TokenPair{}, l.refreshErr
	}
	if refreshToken == "" {
		return TokenPair{}, NewAuthorizationError("missing refresh token", nil)
	}
	return l.refreshed, nil
}

func newTestService(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, store *memConnectionStore, ledger *memLedgerStore, lifecycle TokenLifecycle) *Service {
	t.Helper()
	options := []Option{
		WithSecretProvider(memSecrets{}),
		WithConnectionStore(store),
		WithLedgerStore(ledger),
	}
	if lifecycle != nil {
		options = append(options, WithTokenLifecycle(ProviderKindMercadoPago, lifecycle))
	}
	svc, err := NewService(context.Background(), Config{}, options...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}
