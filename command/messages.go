package command

import (
	"strings"

	"github.com/hogarapp/finsync/core"
)

const (
	TypeBeginAuthorization    = "finsync.command.authorization.begin"
	TypeCompleteAuthorization = "finsync.command.authorization.complete"
	TypeCreateConnection      = "finsync.command.connection.create"
	TypeRefreshCredentials    = "finsync.command.credentials.refresh"
	TypeSyncConnection        = "finsync.command.sync.connection"
	TypeSyncAll               = "finsync.command.sync.all"
	TypeDisconnect            = "finsync.command.disconnect"
)

type BeginAuthorizationMessage struct {
	Provider    core.ProviderKind
	RedirectURI string
	ClientAddr  string
}

func (BeginAuthorizationMessage) Type() string { return TypeBeginAuthorization }

func (m BeginAuthorizationMessage) Validate() error {
	if strings.TrimSpace(string(m.Provider)) == "" {
		return commandValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.RedirectURI) == "" {
		return commandValidationError("redirect_uri", "redirect uri is required")
	}
	return nil
}

type CompleteAuthorizationMessage struct {
	Input       core.CreateConnectionInput
	Code        string
	RedirectURI string
	ClientAddr  string
}

func (CompleteAuthorizationMessage) Type() string { return TypeCompleteAuthorization }

func (m CompleteAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Input.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if strings.TrimSpace(string(m.Input.Provider)) == "" {
		return commandValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type CreateConnectionMessage struct {
	Input      core.CreateConnectionInput
	Tokens     core.TokenPair
	ClientAddr string
}

func (CreateConnectionMessage) Type() string { return TypeCreateConnection }

func (m CreateConnectionMessage) Validate() error {
	if strings.TrimSpace(m.Input.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if strings.TrimSpace(string(m.Input.Provider)) == "" {
		return commandValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.Tokens.AccessToken) == "" {
		return commandValidationError("access_token", "access token is required")
	}
	return nil
}

type RefreshCredentialsMessage struct {
	ConnectionID string
}

func (RefreshCredentialsMessage) Type() string { return TypeRefreshCredentials }

func (m RefreshCredentialsMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	return nil
}

type SyncConnectionMessage struct {
	ConnectionID string
	ClientAddr   string
}

func (SyncConnectionMessage) Type() string { return TypeSyncConnection }

func (m SyncConnectionMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	return nil
}

type SyncAllMessage struct {
	Frequencies []core.SyncFrequency
	ClientAddr  string
}

func (SyncAllMessage) Type() string { return TypeSyncAll }

func (m SyncAllMessage) Validate() error {
	for _, frequency := range m.Frequencies {
		if err := frequency.Validate(); err != nil {
			return commandValidationError("frequencies", err.Error())
		}
	}
	return nil
}

type DisconnectMessage struct {
	ConnectionID string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	return nil
}
