// Package paypal registers the PayPal provider kind. The adapter satisfies
// the provider contract but its data operations are not implemented yet;
// connections can be created and will surface a clear capability error on
// first sync instead of a generic failure.
package paypal

import (
	"context"
	"strings"
	"time"

	"github.com/hogarapp/finsync/core"
)

type Provider struct {
	userID string
}

func New(tokens core.TokenPair) (*Provider, error) {
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return nil, core.NewAuthorizationError("paypal: access token is required", nil)
	}
	return &Provider{userID: strings.TrimSpace(tokens.ProviderUserID)}, nil
}

func Factory() core.ProviderFactory {
	return func(_ context.Context, _ core.Connection, tokens core.TokenPair) (core.Provider, error) {
		return New(tokens)
	}
}

func (p *Provider) Kind() core.ProviderKind {
	return core.ProviderKindPayPal
}

func (p *Provider) Identity(context.Context) (core.Identity, error) {
	if p == nil {
		return core.Identity{}, core.NewConfigurationError("paypal: provider is nil", nil)
	}
	if p.userID == "" {
		return core.Identity{}, core.NewConfigurationError("paypal: identity lookup is not implemented", nil)
	}
	return core.Identity{ProviderUserID: p.userID}, nil
}

func (p *Provider) Movements(context.Context, *time.Time) ([]core.Movement, error) {
	return nil, core.NewConfigurationError("paypal: movement sync is not implemented", nil)
}

var _ core.Provider = (*Provider)(nil)
