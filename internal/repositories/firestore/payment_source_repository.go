package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/cartengine/internal/domain"
	pfirestore "github.com/hanko-field/cartengine/internal/platform/firestore"
	"github.com/hanko-field/cartengine/internal/repositories"
)

const paymentSourceCollection = "paymentSources"

// PaymentSourceRepository reads stored payment instruments.
type PaymentSourceRepository struct {
	base *pfirestore.BaseRepository[paymentSourceDocument]
}

// NewPaymentSourceRepository constructs a Firestore-backed payment source repository.
func NewPaymentSourceRepository(provider *pfirestore.Provider) (*PaymentSourceRepository, error) {
	if provider == nil {
		return nil, errors.New("payment source repository requires firestore provider")
	}
	return &PaymentSourceRepository{
		base: pfirestore.NewBaseRepository[paymentSourceDocument](provider, paymentSourceCollection),
	}, nil
}

// FindPaymentSource loads a payment source by ID. Revoked sources are reported as not found.
func (r *PaymentSourceRepository) FindPaymentSource(ctx context.Context, sourceID string) (domain.PaymentSource, error) {
	if r == nil || r.base == nil {
		return domain.PaymentSource{}, errors.New("payment source repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(sourceID))
	if err != nil {
		return domain.PaymentSource{}, err
	}
	if doc.Data.RevokedAt != nil {
		return domain.PaymentSource{}, pfirestore.NotFoundError("paymentSources.get", "payment source "+doc.ID+" revoked")
	}
	return domain.PaymentSource{
		ID:          doc.ID,
		CustomerID:  strings.TrimSpace(doc.Data.CustomerID),
		GatewayID:   strings.TrimSpace(doc.Data.GatewayID),
		Token:       strings.TrimSpace(doc.Data.Token),
		Description: strings.TrimSpace(doc.Data.Description),
	}, nil
}

type paymentSourceDocument struct {
	CustomerID  string     `firestore:"customerId"`
	GatewayID   string     `firestore:"gatewayId"`
	Token       string     `firestore:"token"`
	Description string     `firestore:"description,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	RevokedAt   *time.Time `firestore:"revokedAt,omitempty"`
}

var _ repositories.PaymentSourceRepository = (*PaymentSourceRepository)(nil)
