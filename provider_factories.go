package finsync

import (
	"github.com/hogarapp/finsync/core"
	"github.com/hogarapp/finsync/providers"
	"github.com/hogarapp/finsync/providers/mercadopago"
	"github.com/hogarapp/finsync/providers/paypal"
)

func MercadoPagoFactory(cfg core.ProviderConfig, opts ...mercadopago.Option) core.ProviderFactory {
	return mercadopago.Factory(cfg, opts...)
}

func PayPalFactory() core.ProviderFactory {
	return paypal.Factory()
}

// RegisterDefaultProviders binds the built-in provider adapters and their
// OAuth token clients against the configured registry. Providers without a
// config section are skipped rather than registered broken.
func RegisterDefaultProviders(
	registry *core.ProviderRegistry,
	cfg core.Config,
) (map[core.ProviderKind]core.TokenLifecycle, error) {
	if registry == nil {
		return nil, core.NewConfigurationError("provider registry is required", nil)
	}
	lifecycles := map[core.ProviderKind]core.TokenLifecycle{}

	if providerCfg, ok := cfg.ProviderFor(core.ProviderKindMercadoPago); ok {
		if err := registry.Register(core.ProviderKindMercadoPago, mercadopago.Factory(providerCfg)); err != nil {
			return nil, err
		}
		client, err := providers.NewTokenClient(core.ProviderKindMercadoPago, providerCfg)
		if err != nil {
			return nil, err
		}
		lifecycles[core.ProviderKindMercadoPago] = client
	}

	if providerCfg, ok := cfg.ProviderFor(core.ProviderKindPayPal); ok {
		if err := registry.Register(core.ProviderKindPayPal, paypal.Factory()); err != nil {
			return nil, err
		}
		client, err := providers.NewTokenClient(core.ProviderKindPayPal, providerCfg)
		if err != nil {
			return nil, err
		}
		lifecycles[core.ProviderKindPayPal] = client
	}

	return lifecycles, nil
}
