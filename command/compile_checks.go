package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[BeginAuthorizationMessage]    = (*BeginAuthorizationCommand)(nil)
	_ gocmd.Commander[CompleteAuthorizationMessage] = (*CompleteAuthorizationCommand)(nil)
	_ gocmd.Commander[CreateConnectionMessage]      = (*CreateConnectionCommand)(nil)
	_ gocmd.Commander[RefreshCredentialsMessage]    = (*RefreshCredentialsCommand)(nil)
	_ gocmd.Commander[SyncConnectionMessage]        = (*SyncConnectionCommand)(nil)
	_ gocmd.Commander[SyncAllMessage]               = (*SyncAllCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]            = (*DisconnectCommand)(nil)
)
