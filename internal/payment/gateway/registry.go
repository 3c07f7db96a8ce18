package gateway

import (
	"strings"

	"github.com/smallbiznis/milkrun/internal/audit/masking"
	"github.com/smallbiznis/milkrun/internal/config"
	"github.com/smallbiznis/milkrun/internal/payment/domain"
	"github.com/smallbiznis/milkrun/internal/payment/gateway/razorpay"
	"github.com/smallbiznis/milkrun/internal/payment/gateway/stripe"
	"go.uber.org/zap"
)

// Registry holds the configured gateways keyed by provider name. The
// first registered gateway is the default for new top-up orders.
type Registry struct {
	gateways map[string]domain.Gateway
	primary  string
}

func NewRegistry(gateways ...domain.Gateway) *Registry {
	registry := &Registry{gateways: map[string]domain.Gateway{}}
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		provider := normalize(gw.Provider())
		if provider == "" {
			continue
		}
		if registry.primary == "" {
			registry.primary = provider
		}
		registry.gateways[provider] = gw
	}
	return registry
}

// Provide builds the registry from the gateway config. A gateway with
// missing credentials is left out and logged; top-ups then fail with
// ErrProviderNotFound while manual adjustments keep working.
func Provide(cfg config.Config, log *zap.Logger) *Registry {
	gc := cfg.Gateway
	var (
		gw  domain.Gateway
		err error
	)
	switch normalize(gc.Provider) {
	case razorpay.Provider:
		gw, err = razorpay.New(razorpay.Config{
			BaseURL:       gc.BaseURL,
			KeyID:         gc.KeyID,
			KeySecret:     gc.KeySecret,
			WebhookSecret: gc.WebhookSecret,
		})
	case stripe.Provider:
		gw, err = stripe.New(stripe.Config{
			BaseURL:       gc.BaseURL,
			SecretKey:     gc.KeySecret,
			WebhookSecret: gc.WebhookSecret,
		})
	case "", "none":
		return NewRegistry()
	default:
		err = domain.ErrInvalidProvider
	}
	if err != nil {
		log.Warn("payment gateway disabled",
			zap.String("provider", gc.Provider),
			zap.Error(err),
		)
		return NewRegistry()
	}
	log.Info("payment gateway enabled",
		zap.String("provider", gw.Provider()),
		zap.String("key_id", masking.MaskSecret(gc.KeyID)),
	)
	return NewRegistry(gw)
}

func (r *Registry) Get(provider string) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	gw, ok := r.gateways[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return gw, nil
}

// Primary returns the gateway used for new orders.
func (r *Registry) Primary() (domain.Gateway, error) {
	if r == nil || r.primary == "" {
		return nil, domain.ErrProviderNotFound
	}
	return r.Get(r.primary)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
