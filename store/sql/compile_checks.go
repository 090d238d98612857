package sqlstore

import "github.com/hogarapp/finsync/core"

var (
	_ core.ConnectionStore        = (*ConnectionStore)(nil)
	_ core.LedgerStore            = (*LedgerStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
