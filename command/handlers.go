package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/hogarapp/finsync/core"
)

// ConnectionService is the mutation surface the command layer drives.
// Implemented by core.Service.
type ConnectionService interface {
	AuthorizationURL(kind core.ProviderKind, redirectURI string) (string, error)
	CompleteAuthorization(ctx context.Context, input core.CreateConnectionInput, code, redirectURI string) (core.Connection, error)
	CreateConnection(ctx context.Context, input core.CreateConnectionInput, tokens core.TokenPair) (core.Connection, error)
	RefreshCredentials(ctx context.Context, connectionID string) (core.Connection, error)
	Disconnect(ctx context.Context, connectionID string) error
}

// RateGuard meters inbound traffic before a command reaches its service.
// Satisfied by ratelimit.ScopedLimiter. A nil guard admits everything.
type RateGuard interface {
	Allow(ctx context.Context, clientKey string) error
}

func firstGuard(guard []RateGuard) RateGuard {
	if len(guard) == 0 {
		return nil
	}
	return guard[0]
}

func admit(ctx context.Context, guard RateGuard, clientKey string) error {
	if guard == nil {
		return nil
	}
	return guard.Allow(ctx, clientKey)
}

type BeginAuthorizationCommand struct {
	service ConnectionService
	guard   RateGuard
}

func NewBeginAuthorizationCommand(service ConnectionService, guard ...RateGuard) *BeginAuthorizationCommand {
	return &BeginAuthorizationCommand{service: service, guard: firstGuard(guard)}
}

func (c *BeginAuthorizationCommand) Execute(ctx context.Context, msg BeginAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorization service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := admit(ctx, c.guard, msg.ClientAddr); err != nil {
		return err
	}
	url, err := c.service.AuthorizationURL(msg.Provider, msg.RedirectURI)
	if err != nil {
		return err
	}
	storeResult(ctx, url)
	return nil
}

type CompleteAuthorizationCommand struct {
	service ConnectionService
	guard   RateGuard
}

func NewCompleteAuthorizationCommand(service ConnectionService, guard ...RateGuard) *CompleteAuthorizationCommand {
	return &CompleteAuthorizationCommand{service: service, guard: firstGuard(guard)}
}

func (c *CompleteAuthorizationCommand) Execute(ctx context.Context, msg CompleteAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorization service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := admit(ctx, c.guard, msg.ClientAddr); err != nil {
		return err
	}
	connection, err := c.service.CompleteAuthorization(ctx, msg.Input, msg.Code, msg.RedirectURI)
	if err != nil {
		return err
	}
	storeResult(ctx, connection)
	return nil
}

type CreateConnectionCommand struct {
	service ConnectionService
	guard   RateGuard
}

func NewCreateConnectionCommand(service ConnectionService, guard ...RateGuard) *CreateConnectionCommand {
	return &CreateConnectionCommand{service: service, guard: firstGuard(guard)}
}

func (c *CreateConnectionCommand) Execute(ctx context.Context, msg CreateConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := admit(ctx, c.guard, msg.ClientAddr); err != nil {
		return err
	}
	connection, err := c.service.CreateConnection(ctx, msg.Input, msg.Tokens)
	if err != nil {
		return err
	}
	storeResult(ctx, connection)
	return nil
}

type RefreshCredentialsCommand struct {
	service ConnectionService
}

func NewRefreshCredentialsCommand(service ConnectionService) *RefreshCredentialsCommand {
	return &RefreshCredentialsCommand{service: service}
}

func (c *RefreshCredentialsCommand) Execute(ctx context.Context, msg RefreshCredentialsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	connection, err := c.service.RefreshCredentials(ctx, msg.ConnectionID)
	if err != nil {
		return err
	}
	storeResult(ctx, connection)
	return nil
}

type SyncConnectionCommand struct {
	syncer core.Syncer
	guard  RateGuard
}

func NewSyncConnectionCommand(syncer core.Syncer, guard ...RateGuard) *SyncConnectionCommand {
	return &SyncConnectionCommand{syncer: syncer, guard: firstGuard(guard)}
}

func (c *SyncConnectionCommand) Execute(ctx context.Context, msg SyncConnectionMessage) error {
	if c == nil || c.syncer == nil {
		return commandDependencyError("command: syncer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := admit(ctx, c.guard, msg.ClientAddr); err != nil {
		return err
	}
	outcome, err := c.syncer.SyncOne(ctx, msg.ConnectionID)
	if err != nil {
		return err
	}
	storeResult(ctx, outcome)
	return nil
}

type SyncAllCommand struct {
	syncer core.Syncer
	guard  RateGuard
}

func NewSyncAllCommand(syncer core.Syncer, guard ...RateGuard) *SyncAllCommand {
	return &SyncAllCommand{syncer: syncer, guard: firstGuard(guard)}
}

func (c *SyncAllCommand) Execute(ctx context.Context, msg SyncAllMessage) error {
	if c == nil || c.syncer == nil {
		return commandDependencyError("command: syncer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := admit(ctx, c.guard, msg.ClientAddr); err != nil {
		return err
	}
	outcomes, err := c.syncer.SyncAll(ctx, msg.Frequencies...)
	if err != nil {
		return err
	}
	storeResult(ctx, outcomes)
	return nil
}

type DisconnectCommand struct {
	service ConnectionService
}

func NewDisconnectCommand(service ConnectionService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.Disconnect(ctx, msg.ConnectionID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
