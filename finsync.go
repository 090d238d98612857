package finsync

import (
	"context"

	"github.com/hogarapp/finsync/core"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type Connection = core.Connection
type ConnectionSettings = core.ConnectionSettings
type CreateConnectionInput = core.CreateConnectionInput
type LedgerEntry = core.LedgerEntry
type Movement = core.Movement
type ProviderKind = core.ProviderKind
type SyncFrequency = core.SyncFrequency
type SyncOutcome = core.SyncOutcome
type SyncState = core.SyncState
type TokenPair = core.TokenPair

type ConnectionStore = core.ConnectionStore
type LedgerStore = core.LedgerStore
type Provider = core.Provider
type Registry = core.Registry
type SecretProvider = core.SecretProvider
type Syncer = core.Syncer
type TokenLifecycle = core.TokenLifecycle

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithSecretProvider  = core.WithSecretProvider
	WithRegistry        = core.WithRegistry
	WithConnectionStore = core.WithConnectionStore
	WithLedgerStore     = core.WithLedgerStore
	WithTokenLifecycle  = core.WithTokenLifecycle
	WithCategorizer     = core.WithCategorizer
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(ctx context.Context, runtime Config, opts ...Option) (*Service, error) {
	return core.NewService(ctx, runtime, opts...)
}
