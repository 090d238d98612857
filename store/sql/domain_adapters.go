package sqlstore

import (
	"time"

	"github.com/hogarapp/finsync/core"
	"github.com/shopspring/decimal"
)

func newConnectionRecord(in core.CreateConnectionInput, now time.Time) *connectionRecord {
	return &connectionRecord{
		OwnerID:        in.OwnerID,
		Provider:       string(in.Provider),
		AccountID:      in.AccountID,
		Credentials:    copyStringMap(in.Credentials),
		AutoSync:       in.Settings.AutoSync,
		Frequency:      string(in.Settings.Frequency),
		AutoCategorize: in.Settings.AutoCategorize,
		State:          string(in.State),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	connection := core.Connection{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Provider:    core.ProviderKind(r.Provider),
		AccountID:   r.AccountID,
		Credentials: copyStringMap(r.Credentials),
		Settings: core.ConnectionSettings{
			AutoSync:       r.AutoSync,
			Frequency:      core.SyncFrequency(r.Frequency),
			AutoCategorize: r.AutoCategorize,
		},
		State:         core.SyncState(r.State),
		LastSyncError: r.LastSyncError,
		LastCreated:   r.LastCreated,
		LastUpdated:   r.LastUpdated,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.LastSyncAt != nil {
		value := *r.LastSyncAt
		connection.LastSyncAt = &value
	}
	return connection
}

func newLedgerEntryRecord(in core.UpsertLedgerEntryInput, now time.Time) *ledgerEntryRecord {
	return &ledgerEntryRecord{
		AccountID:          in.AccountID,
		Description:        in.Description,
		Amount:             in.Amount.String(),
		Currency:           in.Currency,
		EntryDate:          in.Date,
		Category:           in.Category,
		Status:             string(in.Status),
		Direction:          string(in.Direction),
		OriginProvider:     string(in.Origin.Provider),
		OriginConnectionID: in.Origin.ConnectionID,
		OriginTxID:         in.Origin.ProviderTxID,
		OriginRaw:          copyAnyMap(in.Origin.Raw),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (r *ledgerEntryRecord) toDomain() core.LedgerEntry {
	if r == nil {
		return core.LedgerEntry{}
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	return core.LedgerEntry{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Description: r.Description,
		Amount:      amount,
		Currency:    r.Currency,
		Date:        r.EntryDate,
		Category:    r.Category,
		Status:      core.EntryStatus(r.Status),
		Direction:   core.EntryDirection(r.Direction),
		Origin: core.MovementOrigin{
			Provider:     core.ProviderKind(r.OriginProvider),
			ConnectionID: r.OriginConnectionID,
			ProviderTxID: r.OriginTxID,
			Raw:          copyAnyMap(r.OriginRaw),
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
