package payments

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/cartengine/internal/domain"
	"github.com/hanko-field/cartengine/internal/services"
)

// ProviderStripe names gateways whose payment sources are Stripe payment methods.
const ProviderStripe = "stripe"

// GatewayRegistry holds the gateways the store accepts, keyed by ID.
type GatewayRegistry struct {
	gateways map[string]domain.Gateway
}

// NewGatewayRegistry indexes gateways by ID. Duplicate or blank IDs are rejected.
func NewGatewayRegistry(gateways ...domain.Gateway) (*GatewayRegistry, error) {
	index := make(map[string]domain.Gateway, len(gateways))
	for _, gateway := range gateways {
		id := strings.TrimSpace(gateway.ID)
		if id == "" {
			return nil, errors.New("payments: gateway id is required")
		}
		if _, dup := index[id]; dup {
			return nil, errors.New("payments: duplicate gateway " + id)
		}
		gateway.ID = id
		gateway.Provider = strings.ToLower(strings.TrimSpace(gateway.Provider))
		index[id] = gateway
	}
	return &GatewayRegistry{gateways: index}, nil
}

func (r *GatewayRegistry) FindGateway(_ context.Context, gatewayID string) (domain.Gateway, bool) {
	if r == nil {
		return domain.Gateway{}, false
	}
	gateway, ok := r.gateways[strings.TrimSpace(gatewayID)]
	return gateway, ok
}

// providerFor returns the provider of gatewayID or an empty string when unknown.
func (r *GatewayRegistry) providerFor(gatewayID string) string {
	gateway, ok := r.FindGateway(context.Background(), gatewayID)
	if !ok {
		return ""
	}
	return gateway.Provider
}

var _ services.GatewayFinder = (*GatewayRegistry)(nil)
