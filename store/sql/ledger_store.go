package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/hogarapp/finsync/core"
	"github.com/uptrace/bun"
)

type LedgerStore struct {
	db   *bun.DB
	repo repository.Repository[*ledgerEntryRecord]
}

func NewLedgerStore(db *bun.DB) (*LedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*ledgerEntryRecord](db, ledgerEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid ledger repository wiring: %w", err)
		}
	}
	return &LedgerStore{db: db, repo: repo}, nil
}

// UpsertByOrigin keys entries on (account id, provider transaction id). A
// movement replayed with the same status is a no-op; a status change updates
// the stored entry in place. Concurrent first inserts race through the
// unique index and the loser re-reads the winner's row.
func (s *LedgerStore) UpsertByOrigin(ctx context.Context, in core.UpsertLedgerEntryInput) (core.UpsertResult, error) {
	if s == nil || s.db == nil {
		return core.UpsertResult{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}

	in.AccountID = strings.TrimSpace(in.AccountID)
	in.Origin.ProviderTxID = strings.TrimSpace(in.Origin.ProviderTxID)
	if in.AccountID == "" {
		return core.UpsertResult{}, fmt.Errorf("sqlstore: account id is required")
	}
	if in.Origin.ProviderTxID == "" {
		return core.UpsertResult{}, fmt.Errorf("sqlstore: provider transaction id is required")
	}
	now := time.Now().UTC()

	var out core.UpsertResult
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findLedgerEntryTx(ctx, tx, in.AccountID, in.Origin.ProviderTxID)
		if err != nil {
			return err
		}
		if record == nil {
			record = newLedgerEntryRecord(in, now)
			record.ID = uuid.NewString()
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if !isUniqueViolation(insertErr) {
					return insertErr
				}
				record, err = findLedgerEntryTx(ctx, tx, in.AccountID, in.Origin.ProviderTxID)
				if err != nil {
					return err
				}
				if record == nil {
					return insertErr
				}
			} else {
				out = core.UpsertResult{Entry: record.toDomain(), Created: true}
				return nil
			}
		}

		if record.Status == string(in.Status) {
			out = core.UpsertResult{Entry: record.toDomain()}
			return nil
		}

		record.Status = string(in.Status)
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = core.UpsertResult{Entry: record.toDomain(), Updated: true}
		return nil
	})
	if err != nil {
		return core.UpsertResult{}, err
	}
	return out, nil
}

func (s *LedgerStore) FindByOrigin(ctx context.Context, accountID string, providerTxID string) (core.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return core.LedgerEntry{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	accountID = strings.TrimSpace(accountID)
	providerTxID = strings.TrimSpace(providerTxID)
	if accountID == "" || providerTxID == "" {
		return core.LedgerEntry{}, fmt.Errorf("%w: account id and provider transaction id are required", core.ErrLedgerEntryNotFound)
	}

	record := &ledgerEntryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.account_id = ?", accountID).
		Where("?TableAlias.origin_tx_id = ?", providerTxID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.LedgerEntry{}, fmt.Errorf("%w: %s/%s", core.ErrLedgerEntryNotFound, accountID, providerTxID)
		}
		return core.LedgerEntry{}, err
	}
	return record.toDomain(), nil
}

func findLedgerEntryTx(ctx context.Context, tx bun.Tx, accountID string, providerTxID string) (*ledgerEntryRecord, error) {
	record := &ledgerEntryRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.account_id = ?", accountID).
		Where("?TableAlias.origin_tx_id = ?", providerTxID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
