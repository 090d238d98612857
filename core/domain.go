package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidProviderKind        = errors.New("core: invalid provider kind")
	ErrInvalidSyncStateTransition = errors.New("core: invalid sync state transition")
	ErrInvalidSyncFrequency       = errors.New("core: invalid sync frequency")
	ErrConnectionNotFound         = errors.New("core: connection not found")
	ErrLedgerEntryNotFound        = errors.New("core: ledger entry not found")
)

type ProviderKind string

const (
	ProviderKindMercadoPago ProviderKind = "mercadopago"
	ProviderKindPayPal      ProviderKind = "paypal"
)

func (k ProviderKind) Validate() error {
	if strings.TrimSpace(string(k)) == "" {
		return fmt.Errorf("%w: empty kind", ErrInvalidProviderKind)
	}
	return nil
}

type SyncState string

const (
	SyncStatePending SyncState = "pending"
	SyncStateActive  SyncState = "active"
	SyncStateError   SyncState = "error"
)

type SyncFrequency string

const (
	SyncFrequencyDaily   SyncFrequency = "daily"
	SyncFrequencyWeekly  SyncFrequency = "weekly"
	SyncFrequencyMonthly SyncFrequency = "monthly"
)

func (f SyncFrequency) Validate() error {
	switch f {
	case SyncFrequencyDaily, SyncFrequencyWeekly, SyncFrequencyMonthly:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidSyncFrequency, string(f))
}

// Credential field names stored in a connection's encrypted credential map.
// Each field is encrypted independently so rotating one token does not
// require re-encrypting the whole record.
const (
	CredentialFieldAccessToken    = "access_token"
	CredentialFieldRefreshToken   = "refresh_token"
	CredentialFieldProviderUserID = "provider_user_id"
	CredentialFieldExpiresAt      = "expires_at"
)

type ConnectionSettings struct {
	AutoSync       bool
	Frequency      SyncFrequency
	AutoCategorize bool
}

// Connection links one application user to one external financial provider.
// Credentials holds ciphertext only; plaintext token material never reaches
// a Connection value that is persisted or serialized.
type Connection struct {
	ID            string
	OwnerID       string
	Provider      ProviderKind
	AccountID     string
	Credentials   map[string]string
	Settings      ConnectionSettings
	State         SyncState
	LastSyncAt    *time.Time
	LastSyncError string
	LastCreated   int
	LastUpdated   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (c *Connection) TransitionTo(state SyncState, reason string, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.State == state {
		c.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			c.LastSyncError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !syncStateTransitionAllowed(c.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSyncStateTransition, c.State, state)
	}
	c.State = state
	c.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		c.LastSyncError = strings.TrimSpace(reason)
	}
	if state == SyncStateActive {
		c.LastSyncError = ""
	}
	return nil
}

func syncStateTransitionAllowed(current, next SyncState) bool {
	allowed := map[SyncState]map[SyncState]struct{}{
		SyncStatePending: {
			SyncStateActive: {},
			SyncStateError:  {},
		},
		SyncStateActive: {
			SyncStateError: {},
		},
		SyncStateError: {
			SyncStateActive:  {},
			SyncStatePending: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusCancelled EntryStatus = "cancelled"
)

type EntryDirection string

const (
	EntryDirectionIncome  EntryDirection = "income"
	EntryDirectionExpense EntryDirection = "expense"
)

// MovementOrigin identifies the remote source of a provider-ingested entry.
// (AccountID, ProviderTxID) is the idempotency key for ingestion.
type MovementOrigin struct {
	Provider     ProviderKind
	ConnectionID string
	ProviderTxID string
	Raw          map[string]any
}

func (o MovementOrigin) IsZero() bool {
	return strings.TrimSpace(o.ProviderTxID) == ""
}

type LedgerEntry struct {
	ID          string
	AccountID   string
	Description string
	Amount      decimal.Decimal
	Currency    string
	Date        time.Time
	Category    string
	Status      EntryStatus
	Direction   EntryDirection
	Origin      MovementOrigin
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Movement is a provider-sourced financial movement normalized by an
// adapter, before categorization and ledger ingestion.
type Movement struct {
	ProviderTxID   string
	Amount         decimal.Decimal
	Currency       string
	CreatedAt      time.Time
	Description    string
	CounterpartyID string
	Status         EntryStatus
	Direction      EntryDirection
	Raw            map[string]any
}

func (m Movement) Validate() error {
	if strings.TrimSpace(m.ProviderTxID) == "" {
		return fmt.Errorf("core: movement is missing a provider transaction id")
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("core: movement %q is missing a creation date", m.ProviderTxID)
	}
	return nil
}

type Identity struct {
	ProviderUserID string
	DisplayName    string
	Email          string
}

// TokenPair is the transient OAuth credential set. It only exists in memory
// between a token-endpoint call and the vault; it is never persisted in
// clear form.
type TokenPair struct {
	AccessToken    string
	RefreshToken   string
	ProviderUserID string
	ExpiresAt      *time.Time
}

func (t TokenPair) Expired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Before(*t.ExpiresAt)
}

type SyncOutcome struct {
	ConnectionID string
	Provider     ProviderKind
	Created      int
	Updated      int
	Skipped      int
	Err          error
}
