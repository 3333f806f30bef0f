package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/cartengine/internal/domain"
	pfirestore "github.com/hanko-field/cartengine/internal/platform/firestore"
	"github.com/hanko-field/cartengine/internal/repositories"
)

const purchasableCollection = "purchasables"

// PurchasableRepository resolves catalogue entries referenced by cart lines.
type PurchasableRepository struct {
	base *pfirestore.BaseRepository[purchasableDocument]
}

// NewPurchasableRepository constructs a Firestore-backed purchasable repository.
func NewPurchasableRepository(provider *pfirestore.Provider) (*PurchasableRepository, error) {
	if provider == nil {
		return nil, errors.New("purchasable repository requires firestore provider")
	}
	return &PurchasableRepository{
		base: pfirestore.NewBaseRepository[purchasableDocument](provider, purchasableCollection),
	}, nil
}

// FindPurchasables returns the purchasables that exist among ids, keyed by ID.
func (r *PurchasableRepository) FindPurchasables(ctx context.Context, ids []string) (map[string]domain.Purchasable, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("purchasable repository not initialised")
	}
	docs, err := r.base.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Purchasable, len(docs))
	for id, doc := range docs {
		out[id] = domain.Purchasable{
			ID:        id,
			SKU:       strings.TrimSpace(doc.Data.SKU),
			Title:     strings.TrimSpace(doc.Data.Title),
			Available: doc.Data.Enabled && (doc.Data.Stock == nil || *doc.Data.Stock > 0),
		}
	}
	return out, nil
}

type purchasableDocument struct {
	SKU     string `firestore:"sku"`
	Title   string `firestore:"title"`
	Enabled bool   `firestore:"enabled"`
	// Stock is nil for items without inventory tracking.
	Stock *int64 `firestore:"stock,omitempty"`
}

var _ repositories.PurchasableRepository = (*PurchasableRepository)(nil)
