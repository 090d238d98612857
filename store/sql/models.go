package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:finsync_connections,alias:fc"`

	ID             string            `bun:"id,pk"`
	OwnerID        string            `bun:"owner_id,notnull"`
	Provider       string            `bun:"provider,notnull"`
	AccountID      string            `bun:"account_id,notnull"`
	Credentials    map[string]string `bun:"credentials,type:jsonb,notnull"`
	AutoSync       bool              `bun:"auto_sync,notnull"`
	Frequency      string            `bun:"frequency,notnull"`
	AutoCategorize bool              `bun:"auto_categorize,notnull"`
	State          string            `bun:"state,notnull"`
	LastSyncAt     *time.Time        `bun:"last_sync_at,nullzero"`
	LastSyncError  string            `bun:"last_sync_error"`
	LastCreated    int               `bun:"last_created,notnull"`
	LastUpdated    int               `bun:"last_updated,notnull"`
	CreatedAt      time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt      *time.Time        `bun:"deleted_at,soft_delete"`
}

type ledgerEntryRecord struct {
	bun.BaseModel `bun:"table:finsync_ledger_entries,alias:fle"`

	ID                 string         `bun:"id,pk"`
	AccountID          string         `bun:"account_id,notnull"`
	Description        string         `bun:"description"`
	Amount             string         `bun:"amount,notnull"`
	Currency           string         `bun:"currency,notnull"`
	EntryDate          time.Time      `bun:"entry_date,nullzero,notnull"`
	Category           string         `bun:"category"`
	Status             string         `bun:"status,notnull"`
	Direction          string         `bun:"direction,notnull"`
	OriginProvider     string         `bun:"origin_provider,notnull"`
	OriginConnectionID string         `bun:"origin_connection_id,notnull"`
	OriginTxID         string         `bun:"origin_tx_id,notnull"`
	OriginRaw          map[string]any `bun:"origin_raw,type:jsonb"`
	CreatedAt          time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func copyStringMap(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}

func copyAnyMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}
