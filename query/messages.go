package query

import "strings"

const (
	TypeListConnections = "finsync.query.connections.list"
	TypeGetConnection   = "finsync.query.connection.get"
	TypeFindLedgerEntry = "finsync.query.ledger.find_by_origin"
)

type ListConnectionsMessage struct {
	OwnerID string
}

func (ListConnectionsMessage) Type() string { return TypeListConnections }

func (m ListConnectionsMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return queryValidationError("owner_id", "owner id is required")
	}
	return nil
}

type GetConnectionMessage struct {
	ConnectionID string
}

func (GetConnectionMessage) Type() string { return TypeGetConnection }

func (m GetConnectionMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return queryValidationError("connection_id", "connection id is required")
	}
	return nil
}

type FindLedgerEntryMessage struct {
	AccountID    string
	ProviderTxID string
}

func (FindLedgerEntryMessage) Type() string { return TypeFindLedgerEntry }

func (m FindLedgerEntryMessage) Validate() error {
	if strings.TrimSpace(m.AccountID) == "" {
		return queryValidationError("account_id", "account id is required")
	}
	if strings.TrimSpace(m.ProviderTxID) == "" {
		return queryValidationError("provider_tx_id", "provider transaction id is required")
	}
	return nil
}
