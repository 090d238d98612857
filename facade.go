package finsync

import (
	"context"
	"fmt"

	finsynccommand "github.com/hogarapp/finsync/command"
	"github.com/hogarapp/finsync/core"
	"github.com/hogarapp/finsync/query"
	"github.com/hogarapp/finsync/ratelimit"
	"github.com/hogarapp/finsync/resilience"
	"github.com/hogarapp/finsync/schedule"
	"github.com/hogarapp/finsync/security"
	syncengine "github.com/hogarapp/finsync/sync"
)

// CommandQueryService is the full boundary surface the facade drives.
// Implemented by core.Service.
type CommandQueryService interface {
	finsynccommand.ConnectionService
	query.ConnectionReader
}

type Commands struct {
	BeginAuthorization    *finsynccommand.BeginAuthorizationCommand
	CompleteAuthorization *finsynccommand.CompleteAuthorizationCommand
	CreateConnection      *finsynccommand.CreateConnectionCommand
	RefreshCredentials    *finsynccommand.RefreshCredentialsCommand
	SyncConnection        *finsynccommand.SyncConnectionCommand
	SyncAll               *finsynccommand.SyncAllCommand
	Disconnect            *finsynccommand.DisconnectCommand
}

type Queries struct {
	ListConnections *query.ListConnectionsQuery
	GetConnection   *query.GetConnectionQuery
	FindLedgerEntry *query.FindLedgerEntryQuery
}

type Facade struct {
	service  CommandQueryService
	syncer   core.Syncer
	commands Commands
	queries  Queries
}

// NewFacade wires the command and query handlers around a service and a
// syncer. When a limiter is given, authorization traffic and manual sync
// triggers pass through its auth and sync budgets before reaching the
// service.
func NewFacade(service CommandQueryService, syncer core.Syncer, limiter ...*ratelimit.Limiter) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("finsync: connection service is required")
	}
	if syncer == nil {
		return nil, fmt.Errorf("finsync: syncer is required")
	}

	var authGuard, syncGuard finsynccommand.RateGuard
	if len(limiter) > 0 && limiter[0] != nil {
		authGuard = ratelimit.ScopedLimiter{Limiter: limiter[0], Scope: ratelimit.ScopeAuth}
		syncGuard = ratelimit.ScopedLimiter{Limiter: limiter[0], Scope: ratelimit.ScopeSync}
	}

	facade := &Facade{service: service, syncer: syncer}
	facade.commands = Commands{
		BeginAuthorization:    finsynccommand.NewBeginAuthorizationCommand(service, authGuard),
		CompleteAuthorization: finsynccommand.NewCompleteAuthorizationCommand(service, authGuard),
		CreateConnection:      finsynccommand.NewCreateConnectionCommand(service, authGuard),
		RefreshCredentials:    finsynccommand.NewRefreshCredentialsCommand(service),
		SyncConnection:        finsynccommand.NewSyncConnectionCommand(syncer, syncGuard),
		SyncAll:               finsynccommand.NewSyncAllCommand(syncer, syncGuard),
		Disconnect:            finsynccommand.NewDisconnectCommand(service),
	}
	facade.queries = Queries{
		ListConnections: query.NewListConnectionsQuery(service),
		GetConnection:   query.NewGetConnectionQuery(resolveConnectionGetter(service)),
		FindLedgerEntry: query.NewFindLedgerEntryQuery(resolveLedgerReader(service)),
	}
	return facade, nil
}

// resolveConnectionGetter picks the connection lookup surface off the
// service when one is reachable. core.Service exposes its store through the
// Connections accessor; a custom service may implement Get directly.
func resolveConnectionGetter(service CommandQueryService) query.ConnectionGetter {
	if getter, ok := service.(query.ConnectionGetter); ok {
		return getter
	}
	if accessor, ok := service.(interface{ Connections() core.ConnectionStore }); ok {
		if store := accessor.Connections(); store != nil {
			return store
		}
	}
	return nil
}

func resolveLedgerReader(service CommandQueryService) query.LedgerReader {
	if reader, ok := service.(query.LedgerReader); ok {
		return reader
	}
	if accessor, ok := service.(interface{ Ledger() core.LedgerStore }); ok {
		if store := accessor.Ledger(); store != nil {
			return store
		}
	}
	return nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func (f *Facade) Syncer() core.Syncer {
	if f == nil {
		return nil
	}
	return f.syncer
}

// Runtime bundles the fully wired engine: connection service, movement
// syncer, cron scheduler, rate limiter, and the command facade.
type Runtime struct {
	Service   *core.Service
	Syncer    *syncengine.Orchestrator
	Scheduler *schedule.Scheduler
	Limiter   *ratelimit.Limiter
	Facade    *Facade
}

// Setup wires the whole engine from configuration and a store provider:
// vault from the vault section, provider adapters and token clients from the
// provider sections, the retrying sync orchestrator, the cron scheduler, and
// the fixed-window rate limiter. Options pass through to NewService, so any
// collaborator it wires (secret provider, registry, token lifecycles) can be
// overridden by the caller.
func Setup(ctx context.Context, runtime Config, stores core.StoreProvider, opts ...Option) (*Runtime, error) {
	if stores == nil {
		return nil, core.NewConfigurationError("store provider is required", nil)
	}

	base := core.DefaultConfig()
	cfg, err := core.GoOptionsResolver{}.Resolve(base, base, runtime)
	if err != nil {
		return nil, err
	}

	vault, err := security.NewVaultFromConfig(cfg.Vault)
	if err != nil {
		return nil, err
	}

	registry := core.NewProviderRegistry()
	lifecycles, err := RegisterDefaultProviders(registry, cfg)
	if err != nil {
		return nil, err
	}

	options := []Option{
		WithSecretProvider(vault),
		WithRegistry(registry),
		WithConnectionStore(stores.ConnectionStore()),
		WithLedgerStore(stores.LedgerStore()),
		WithCategorizer(core.DefaultCategorizer()),
	}
	for kind, lifecycle := range lifecycles {
		options = append(options, WithTokenLifecycle(kind, lifecycle))
	}
	options = append(options, opts...)

	service, err := core.NewService(ctx, runtime, options...)
	if err != nil {
		return nil, err
	}

	orchestrator, err := syncengine.NewOrchestrator(syncengine.Config{
		Connections: stores.ConnectionStore(),
		Ledger:      stores.LedgerStore(),
		Registry:    service.Registry(),
		Codec:       service.Codec(),
		Lifecycles:  lifecycles,
		Retryer:     resilience.NewRetryer(service.Config().Retry, service.Logger()),
		Categorizer: service.Categorizer(),
		Logger:      service.Logger(),
	})
	if err != nil {
		return nil, err
	}

	scheduler, err := schedule.NewScheduler(orchestrator, service.Config().Schedule, service.Logger())
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryWindowStore(), service.Config().RateLimit)

	facade, err := NewFacade(service, orchestrator, limiter)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Service:   service,
		Syncer:    orchestrator,
		Scheduler: scheduler,
		Limiter:   limiter,
		Facade:    facade,
	}, nil
}
