package core

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Service owns connection lifecycle: authorization, credential storage,
// refresh, and disconnect. Movement syncing lives in the sync package and
// consumes the same stores through the core contracts.
type Service struct {
	cfg         Config
	logger      Logger
	loggers     LoggerProvider
	metrics     MetricsRecorder
	mapper      ErrorMapper
	secrets     SecretProvider
	codec       *CredentialCodec
	registry    Registry
	connections ConnectionStore
	ledger      LedgerStore
	lifecycles  map[ProviderKind]TokenLifecycle
	categorizer *Categorizer

	Now func() time.Time
}

// NewService resolves configuration through the defaults/config/runtime
// layer stack, then wires the collaborators supplied through options.
func NewService(ctx context.Context, runtime Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(runtime)
	for _, option := range options {
		if option != nil {
			option(&builder)
		}
	}

	loaded, err := builder.configProvider.Load(ctx, DefaultConfig())
	if err != nil {
		return nil, NewConfigurationError("load configuration", err)
	}
	cfg, err := builder.optionsResolver.Resolve(DefaultConfig(), loaded, builder.runtimeConfig)
	if err != nil {
		return nil, NewConfigurationError("resolve configuration", err)
	}

	if builder.secrets == nil {
		return nil, NewConfigurationError("secret provider is required", nil)
	}
	if builder.connectionStore == nil {
		return nil, NewConfigurationError("connection store is required", nil)
	}
	if builder.ledgerStore == nil {
		return nil, NewConfigurationError("ledger store is required", nil)
	}

	provider, logger := glog.Resolve("finsync", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)

	svc := &Service{
		cfg:         cfg,
		logger:      logger,
		loggers:     provider,
		metrics:     builder.metricsRecorder,
		mapper:      builder.errorMapper,
		secrets:     builder.secrets,
		codec:       &CredentialCodec{Secrets: builder.secrets},
		registry:    builder.registry,
		connections: builder.connectionStore,
		ledger:      builder.ledgerStore,
		lifecycles:  builder.tokenLifecycles,
		categorizer: builder.categorizer,
		Now:         time.Now,
	}
	if svc.metrics == nil {
		svc.metrics = NopMetricsRecorder{}
	}
	if svc.mapper == nil {
		svc.mapper = defaultErrorMapper
	}
	return svc, nil
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.cfg
}

func (s *Service) Registry() Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Connections() ConnectionStore {
	if s == nil {
		return nil
	}
	return s.connections
}

func (s *Service) Ledger() LedgerStore {
	if s == nil {
		return nil
	}
	return s.ledger
}

func (s *Service) Categorizer() *Categorizer {
	if s == nil {
		return nil
	}
	return s.categorizer
}

func (s *Service) Codec() *CredentialCodec {
	if s == nil {
		return nil
	}
	return s.codec
}

func (s *Service) Logger() Logger {
	if s == nil {
		return nil
	}
	return s.logger
}

func (s *Service) lifecycleFor(kind ProviderKind) (TokenLifecycle, error) {
	lifecycle, ok := s.lifecycles[normalizeKind(kind)]
	if !ok || lifecycle == nil {
		return nil, NewConfigurationError("no token lifecycle for provider "+string(kind), nil)
	}
	return lifecycle, nil
}

// AuthorizationURL returns the provider consent URL the caller redirects
// the user to. Fails fast when the provider has no OAuth client configured.
func (s *Service) AuthorizationURL(kind ProviderKind, redirectURI string) (string, error) {
	if s == nil {
		return "", NewConfigurationError("service not initialized", nil)
	}
	lifecycle, err := s.lifecycleFor(kind)
	if err != nil {
		return "", err
	}
	return lifecycle.AuthorizationURL(redirectURI)
}

// CompleteAuthorization exchanges the callback code for tokens, seals them,
// and persists a new connection in PENDING state. The first successful sync
// moves it to ACTIVE.
func (s *Service) CompleteAuthorization(ctx context.Context, input CreateConnectionInput, code, redirectURI string) (Connection, error) {
	if s == nil {
		return Connection{}, NewConfigurationError("service not initialized", nil)
	}
	if err := input.Validate(); err != nil {
		return Connection{}, err
	}
	lifecycle, err := s.lifecycleFor(input.Provider)
	if err != nil {
		return Connection{}, err
	}
	tokens, err := lifecycle.Exchange(ctx, code, redirectURI)
	if err != nil {
		s.observe(ctx, "authorization.exchange", input.Provider, err)
		return Connection{}, err
	}

	return s.persistNewConnection(ctx, input, tokens)
}

// CreateConnection stores a connection from caller-supplied tokens, sealing
// them before persistence. Covers providers whose tokens arrive out of band
// instead of through the hosted authorization flow.
func (s *Service) CreateConnection(ctx context.Context, input CreateConnectionInput, tokens TokenPair) (Connection, error) {
	if s == nil {
		return Connection{}, NewConfigurationError("service not initialized", nil)
	}
	if err := input.Validate(); err != nil {
		return Connection{}, err
	}

	return s.persistNewConnection(ctx, input, tokens)
}

func (s *Service) persistNewConnection(ctx context.Context, input CreateConnectionInput, tokens TokenPair) (Connection, error) {
	sealed, err := s.codec.Seal(ctx, tokens)
	if err != nil {
		return Connection{}, err
	}

	input.Provider = normalizeKind(input.Provider)
	input.OwnerID = strings.TrimSpace(input.OwnerID)
	input.AccountID = strings.TrimSpace(input.AccountID)
	if input.AccountID == "" {
		input.AccountID = tokens.ProviderUserID
	}
	if input.Settings.Frequency == "" {
		input.Settings.Frequency = SyncFrequencyDaily
	}
	input.State = SyncStatePending
	input.Credentials = sealed

	conn, err := s.connections.Create(ctx, input)
	if err != nil {
		s.observe(ctx, "connection.create", input.Provider, err)
		return Connection{}, err
	}
	s.observe(ctx, "connection.create", input.Provider, nil)
	s.logInfo("connection created",
		"connection_id", conn.ID,
		"provider", string(conn.Provider),
		"state", string(conn.State),
	)
	return conn, nil
}

// RefreshCredentials rotates the stored token pair using the refresh token.
// On an unrecoverable authorization failure the connection is parked in
// ERROR state with its credentials cleared so the next attempt forces a new
// consent flow.
func (s *Service) RefreshCredentials(ctx context.Context, connectionID string) (Connection, error) {
	if s == nil {
		return Connection{}, NewConfigurationError("service not initialized", nil)
	}
	conn, err := s.connections.Get(ctx, connectionID)
	if err != nil {
		return Connection{}, err
	}
	lifecycle, err := s.lifecycleFor(conn.Provider)
	if err != nil {
		return Connection{}, err
	}
	tokens, err := s.codec.Open(ctx, conn.Credentials)
	if err != nil {
		return Connection{}, err
	}
	refreshed, err := lifecycle.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		s.observe(ctx, "authorization.refresh", conn.Provider, err)
		if IsAuthorization(err) {
			s.parkConnection(ctx, conn, err)
		}
		return Connection{}, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	if refreshed.ProviderUserID == "" {
		refreshed.ProviderUserID = tokens.ProviderUserID
	}
	sealed, err := s.codec.Seal(ctx, refreshed)
	if err != nil {
		return Connection{}, err
	}
	if err := s.connections.SaveCredentials(ctx, conn.ID, sealed); err != nil {
		return Connection{}, err
	}
	conn.Credentials = sealed
	s.observe(ctx, "authorization.refresh", conn.Provider, nil)
	return conn, nil
}

// parkConnection moves the connection to ERROR and clears its sealed
// credentials. StaleTokens stay out of storage once the provider rejects
// them.
func (s *Service) parkConnection(ctx context.Context, conn Connection, cause error) {
	update := SyncStatusUpdate{
		State:         SyncStateError,
		LastSyncError: cause.Error(),
	}
	if err := s.connections.UpdateSyncStatus(ctx, conn.ID, update); err != nil {
		s.logError("park connection state update failed", err, "connection_id", conn.ID)
	}
	if err := s.connections.ClearCredentials(ctx, conn.ID, cause.Error()); err != nil {
		s.logError("park connection credential clear failed", err, "connection_id", conn.ID)
	}
	s.logInfo("connection parked",
		"connection_id", conn.ID,
		"provider", string(conn.Provider),
		"state", string(SyncStateError),
	)
}

// Disconnect removes the connection and its sealed credentials. Ledger
// entries already merged stay in place.
func (s *Service) Disconnect(ctx context.Context, connectionID string) error {
	if s == nil {
		return NewConfigurationError("service not initialized", nil)
	}
	conn, err := s.connections.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	if err := s.connections.ClearCredentials(ctx, conn.ID, "disconnect"); err != nil {
		return err
	}
	if err := s.connections.Delete(ctx, conn.ID); err != nil {
		return err
	}
	s.observe(ctx, "connection.disconnect", conn.Provider, nil)
	s.logInfo("connection removed", "connection_id", conn.ID, "provider", string(conn.Provider))
	return nil
}

// ListConnections returns the caller's connections with credentials
// redacted. Sealed ciphertext never leaves the service boundary.
func (s *Service) ListConnections(ctx context.Context, ownerID string) ([]Connection, error) {
	if s == nil {
		return nil, NewConfigurationError("service not initialized", nil)
	}
	conns, err := s.connections.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range conns {
		conns[i].Credentials = nil
	}
	return conns, nil
}

func (s *Service) MapError(err error) error {
	if s == nil || s.mapper == nil {
		return err
	}
	if err == nil {
		return nil
	}
	return s.mapper(err)
}
