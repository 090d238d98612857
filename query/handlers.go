package query

import (
	"context"

	"github.com/hogarapp/finsync/core"
)

// ConnectionReader is the redacting read surface implemented by
// core.Service. Credentials never travel through the query layer.
type ConnectionReader interface {
	ListConnections(ctx context.Context, ownerID string) ([]core.Connection, error)
}

type ConnectionGetter interface {
	Get(ctx context.Context, id string) (core.Connection, error)
}

type LedgerReader interface {
	FindByOrigin(ctx context.Context, accountID string, providerTxID string) (core.LedgerEntry, error)
}

type ListConnectionsQuery struct {
	reader ConnectionReader
}

func NewListConnectionsQuery(reader ConnectionReader) *ListConnectionsQuery {
	return &ListConnectionsQuery{reader: reader}
}

func (q *ListConnectionsQuery) Query(ctx context.Context, msg ListConnectionsMessage) ([]core.Connection, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: connection reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListConnections(ctx, msg.OwnerID)
}

type GetConnectionQuery struct {
	getter ConnectionGetter
}

func NewGetConnectionQuery(getter ConnectionGetter) *GetConnectionQuery {
	return &GetConnectionQuery{getter: getter}
}

func (q *GetConnectionQuery) Query(ctx context.Context, msg GetConnectionMessage) (core.Connection, error) {
	if q == nil || q.getter == nil {
		return core.Connection{}, queryDependencyError("query: connection getter is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Connection{}, err
	}
	conn, err := q.getter.Get(ctx, msg.ConnectionID)
	if err != nil {
		return core.Connection{}, err
	}
	conn.Credentials = nil
	return conn, nil
}

type FindLedgerEntryQuery struct {
	reader LedgerReader
}

func NewFindLedgerEntryQuery(reader LedgerReader) *FindLedgerEntryQuery {
	return &FindLedgerEntryQuery{reader: reader}
}

func (q *FindLedgerEntryQuery) Query(ctx context.Context, msg FindLedgerEntryMessage) (core.LedgerEntry, error) {
	if q == nil || q.reader == nil {
		return core.LedgerEntry{}, queryDependencyError("query: ledger reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	return q.reader.FindByOrigin(ctx, msg.AccountID, msg.ProviderTxID)
}
