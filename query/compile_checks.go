package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/hogarapp/finsync/core"
)

var (
	_ gocmd.Querier[ListConnectionsMessage, []core.Connection] = (*ListConnectionsQuery)(nil)
	_ gocmd.Querier[GetConnectionMessage, core.Connection]     = (*GetConnectionQuery)(nil)
	_ gocmd.Querier[FindLedgerEntryMessage, core.LedgerEntry]  = (*FindLedgerEntryQuery)(nil)
)
