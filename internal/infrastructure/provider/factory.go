package provider

import (
	"fmt"

	"github.com/wekeepgrowing/semo-dunning/internal/config"
	"github.com/wekeepgrowing/semo-dunning/internal/domain/provider"
	stripeProvider "github.com/wekeepgrowing/semo-dunning/internal/infrastructure/provider/stripe"
	"go.uber.org/zap"
)

// Factory creates payment gateways based on the provider type
type Factory struct {
	config *config.Config
	logger *zap.Logger
}

// NewFactory creates a new provider factory
func NewFactory(config *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		config: config,
		logger: logger,
	}
}

// GetGateway returns a payment gateway based on the provider type
func (f *Factory) GetGateway(providerType provider.ProviderType) (provider.PaymentGateway, error) {
	switch providerType {
	case provider.ProviderTypeStripe:
		return f.createStripeProvider()
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}

// GetGatewayFromString returns a payment gateway from a string type
func (f *Factory) GetGatewayFromString(providerStr string) (provider.PaymentGateway, error) {
	// Default to Stripe if not specified
	if providerStr == "" {
		providerStr = string(provider.ProviderTypeStripe)
	}
	return f.GetGateway(provider.ProviderType(providerStr))
}

// createStripeProvider creates a new Stripe provider instance
func (f *Factory) createStripeProvider() (provider.PaymentGateway, error) {
	if f.config.Stripe.SecretKey == "" {
		return nil, fmt.Errorf("Stripe secret key not configured")
	}

	return stripeProvider.NewStripeProvider(
		f.config.Stripe.SecretKey,
		f.logger,
		stripeProvider.WithBackendURL(f.config.Stripe.APIBaseURL),
	), nil
}
