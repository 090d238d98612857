package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/hogarapp/finsync/core"
	"github.com/uptrace/bun"
)

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func NewConnectionStore(db *bun.DB) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	return &ConnectionStore{db: db, repo: repo}, nil
}

func (s *ConnectionStore) Create(ctx context.Context, in core.CreateConnectionInput) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if err := in.Validate(); err != nil {
		return core.Connection{}, err
	}

	state := in.State
	if strings.TrimSpace(string(state)) == "" {
		state = core.SyncStatePending
	}
	frequency := in.Settings.Frequency
	if strings.TrimSpace(string(frequency)) == "" {
		frequency = core.SyncFrequencyDaily
	}

	record := newConnectionRecord(core.CreateConnectionInput{
		OwnerID:     strings.TrimSpace(in.OwnerID),
		Provider:    in.Provider,
		AccountID:   strings.TrimSpace(in.AccountID),
		Credentials: in.Credentials,
		Settings: core.ConnectionSettings{
			AutoSync:       in.Settings.AutoSync,
			Frequency:      frequency,
			AutoCategorize: in.Settings.AutoCategorize,
		},
		State: state,
	}, time.Now().UTC())

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Connection{}, err
	}
	return created.toDomain(), nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.Connection{}, fmt.Errorf("%w: empty connection id", core.ErrConnectionNotFound)
	}
	record, err := s.getRecord(ctx, trimmedID)
	if err != nil {
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

// ListEligible returns the connections the scheduler should sync: auto-sync
// enabled, not parked in the error state, optionally narrowed to a cadence.
func (s *ConnectionStore) ListEligible(ctx context.Context, frequencies ...core.SyncFrequency) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	wanted := make([]string, 0, len(frequencies))
	for _, frequency := range frequencies {
		trimmed := strings.TrimSpace(string(frequency))
		if trimmed == "" {
			continue
		}
		wanted = append(wanted, trimmed)
	}

	criteria := []repository.SelectCriteria{
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.Where("?TableAlias.auto_sync = TRUE")
			q = q.Where("?TableAlias.deleted_at IS NULL")
			q = q.Where("?TableAlias.state != ?", string(core.SyncStateError))
			if len(wanted) > 0 {
				q = q.Where("?TableAlias.frequency IN (?)", bun.In(wanted))
			}
			return q
		}),
		repository.OrderBy("created_at ASC"),
	}

	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ConnectionStore) ListByOwner(ctx context.Context, ownerID string) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedOwner := strings.TrimSpace(ownerID)
	if trimmedOwner == "" {
		return nil, fmt.Errorf("sqlstore: owner id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("owner_id", "=", trimmedOwner),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ConnectionStore) UpdateSyncStatus(ctx context.Context, id string, update core.SyncStatusUpdate) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("%w: empty connection id", core.ErrConnectionNotFound)
	}
	record, err := s.getRecord(ctx, trimmedID)
	if err != nil {
		return err
	}

	if strings.TrimSpace(string(update.State)) != "" {
		record.State = string(update.State)
	}
	record.LastSyncError = strings.TrimSpace(update.LastSyncError)
	if update.LastSyncAt != nil {
		value := update.LastSyncAt.UTC()
		record.LastSyncAt = &value
		record.LastCreated = update.Created
		record.LastUpdated = update.Updated
	}
	record.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) SaveCredentials(ctx context.Context, id string, credentials map[string]string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("%w: empty connection id", core.ErrConnectionNotFound)
	}
	record, err := s.getRecord(ctx, trimmedID)
	if err != nil {
		return err
	}

	record.Credentials = copyStringMap(credentials)
	record.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) ClearCredentials(ctx context.Context, id string, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("%w: empty connection id", core.ErrConnectionNotFound)
	}
	record, err := s.getRecord(ctx, trimmedID)
	if err != nil {
		return err
	}

	record.Credentials = map[string]string{}
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		record.LastSyncError = trimmed
	}
	record.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, record, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("%w: empty connection id", core.ErrConnectionNotFound)
	}
	if _, err := s.getRecord(ctx, trimmedID); err != nil {
		return err
	}
	_, err := s.db.NewDelete().
		Model((*connectionRecord)(nil)).
		Where("id = ?", trimmedID).
		Exec(ctx)
	return err
}

func (s *ConnectionStore) getRecord(ctx context.Context, id string) (*connectionRecord, error) {
	record := &connectionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.deleted_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrConnectionNotFound, id)
		}
		return nil, err
	}
	return record, nil
}
