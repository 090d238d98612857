package core

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/shopspring/decimal"
)

// Provider is the per-kind adapter capability: fetch the remote account
// identity and fetch movements created since a timestamp. Adapters perform
// no persistence and no retries; both belong to the callers.
type Provider interface {
	Kind() ProviderKind
	Identity(ctx context.Context) (Identity, error)
	// Movements returns normalized movements. A nil since means "the
	// provider's default recent window", never "everything".
	Movements(ctx context.Context, since *time.Time) ([]Movement, error)
}

// ProviderFactory builds an adapter from a connection's decrypted token
// pair. Factories are registered per provider kind.
type ProviderFactory func(ctx context.Context, conn Connection, tokens TokenPair) (Provider, error)

// SecretProvider encrypts and decrypts individual credential fields. The
// key is process-wide, read-only state constructed at startup.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type CreateConnectionInput struct {
	OwnerID     string
	Provider    ProviderKind
	AccountID   string
	Credentials map[string]string
	Settings    ConnectionSettings
	State       SyncState
}

func (in CreateConnectionInput) Validate() error {
	if strings.TrimSpace(in.OwnerID) == "" {
		return NewConfigurationError("owner id is required", nil)
	}
	if err := in.Provider.Validate(); err != nil {
		return err
	}
	if in.Settings.Frequency != "" {
		if err := in.Settings.Frequency.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type SyncStatusUpdate struct {
	State         SyncState
	LastSyncAt    *time.Time
	LastSyncError string
	Created       int
	Updated       int
}

type ConnectionStore interface {
	Create(ctx context.Context, in CreateConnectionInput) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	ListEligible(ctx context.Context, frequencies ...SyncFrequency) ([]Connection, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Connection, error)
	UpdateSyncStatus(ctx context.Context, id string, update SyncStatusUpdate) error
	SaveCredentials(ctx context.Context, id string, credentials map[string]string) error
	ClearCredentials(ctx context.Context, id string, reason string) error
	Delete(ctx context.Context, id string) error
}

type UpsertLedgerEntryInput struct {
	AccountID   string
	Description string
	Amount      decimal.Decimal
	Currency    string
	Date        time.Time
	Category    string
	Status      EntryStatus
	Direction   EntryDirection
	Origin      MovementOrigin
}

type UpsertResult struct {
	Entry   LedgerEntry
	Created bool
	Updated bool
}

// LedgerStore ingests provider movements with upsert-by-natural-key
// semantics on (account id, provider transaction id). An existing entry is
// only touched when the provider reports a different status for the same
// transaction id.
type LedgerStore interface {
	UpsertByOrigin(ctx context.Context, in UpsertLedgerEntryInput) (UpsertResult, error)
	FindByOrigin(ctx context.Context, accountID string, providerTxID string) (LedgerEntry, error)
}

// Syncer is the orchestration surface the scheduler and the command layer
// drive. Implemented by the sync package.
type Syncer interface {
	SyncOne(ctx context.Context, connectionID string) (SyncOutcome, error)
	SyncAll(ctx context.Context, frequencies ...SyncFrequency) ([]SyncOutcome, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// Job contracts decouple the manual-sync queue from the go-job runtime; the
// adapters/gojob package maps these onto go-job's queue types.

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

// TokenLifecycle is the OAuth credential lifecycle for one provider kind:
// authorization URL construction, code exchange, and token refresh.
type TokenLifecycle interface {
	AuthorizationURL(redirectURI string) (string, error)
	Exchange(ctx context.Context, code string, redirectURI string) (TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

type MetricsRecorder interface {
	Counter(ctx context.Context, name string, value float64, tags map[string]string)
	Histogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) Counter(context.Context, string, float64, map[string]string)   {}
func (NopMetricsRecorder) Histogram(context.Context, string, float64, map[string]string) {}

type Registry interface {
	Resolve(kind ProviderKind) (ProviderFactory, bool)
}

type StoreProvider interface {
	ConnectionStore() ConnectionStore
	LedgerStore() LedgerStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}
