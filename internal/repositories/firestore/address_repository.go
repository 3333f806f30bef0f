package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"google.golang.org/api/iterator"

	domain "github.com/hanko-field/cartengine/internal/domain"
	pfirestore "github.com/hanko-field/cartengine/internal/platform/firestore"
	"github.com/hanko-field/cartengine/internal/repositories"
)

const (
	savedAddressCollectionPattern = "users/%s/addresses"
	cartAddressCollectionPattern  = "carts/%s/addresses"
)

// AddressRepository reads customers' address books and stores cart-owned copies beneath the cart.
type AddressRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider, clock: time.Now}, nil
}

// ListSaved returns the user's saved addresses ordered by most recent update.
func (r *AddressRepository) ListSaved(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, savedAddressCollectionPattern, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("updatedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	var results []domain.Address
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("addresses.listSaved", err)
		}
		var doc savedAddressDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
		}
		results = append(results, doc.toDomain(snap.Ref.ID, strings.TrimSpace(userID)))
	}
	return results, nil
}

// Duplicate writes a copy of the address beneath the owning cart. The copy has a fresh ID and no
// link back to the user, so edits on either side never leak to the other.
func (r *AddressRepository) Duplicate(ctx context.Context, address domain.Address, ownerID string) (domain.Address, error) {
	coll, err := r.collection(ctx, cartAddressCollectionPattern, ownerID)
	if err != nil {
		return domain.Address{}, err
	}

	copied := domain.Address{
		ID:      ulid.Make().String(),
		OwnerID: strings.TrimSpace(ownerID),
		Fields:  cloneStringMap(address.Fields),
	}
	doc := ownedAddressDocument{
		Fields:          copied.Fields,
		SourceAddressID: strings.TrimSpace(address.ID),
		CreatedAt:       r.clock().UTC(),
	}
	if _, err := coll.Doc(copied.ID).Create(ctx, doc); err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.duplicate", err)
	}
	return copied, nil
}

// Discard removes a cart-owned copy. Deleting a copy that is already gone is not an error.
func (r *AddressRepository) Discard(ctx context.Context, address domain.Address) error {
	id := strings.TrimSpace(address.ID)
	if id == "" {
		return errors.New("address repository: address id is required")
	}
	coll, err := r.collection(ctx, cartAddressCollectionPattern, address.OwnerID)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(id).Delete(ctx); err != nil {
		return pfirestore.WrapError("addresses.discard", err)
	}
	return nil
}

func (r *AddressRepository) collection(ctx context.Context, pattern, parentID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("address repository not initialised")
	}
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return nil, errors.New("address repository: parent id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(pattern, parentID)), nil
}

// savedAddressDocument mirrors the address book layout written by the account pages. Structured
// columns are folded into the generic field map used by carts.
type savedAddressDocument struct {
	Label      string            `firestore:"label,omitempty"`
	Recipient  string            `firestore:"recipient,omitempty"`
	Company    string            `firestore:"company,omitempty"`
	Line1      string            `firestore:"line1,omitempty"`
	Line2      *string           `firestore:"line2,omitempty"`
	City       string            `firestore:"city,omitempty"`
	State      *string           `firestore:"state,omitempty"`
	PostalCode string            `firestore:"postalCode,omitempty"`
	Country    string            `firestore:"country,omitempty"`
	Phone      *string           `firestore:"phone,omitempty"`
	Extra      map[string]string `firestore:"fields,omitempty"`
	UpdatedAt  time.Time         `firestore:"updatedAt"`
}

func (d savedAddressDocument) toDomain(id, userID string) domain.Address {
	fields := make(map[string]string, len(d.Extra)+10)
	for key, value := range d.Extra {
		fields[key] = value
	}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fields[key] = value
		}
	}
	setOptional := func(key string, value *string) {
		if value != nil {
			set(key, *value)
		}
	}
	set("title", d.Label)
	set("fullName", d.Recipient)
	set("organization", d.Company)
	set("addressLine1", d.Line1)
	setOptional("addressLine2", d.Line2)
	set("locality", d.City)
	setOptional("administrativeArea", d.State)
	set("postalCode", d.PostalCode)
	set("countryCode", strings.ToUpper(d.Country))
	setOptional("phone", d.Phone)

	return domain.Address{ID: id, UserID: userID, Fields: fields}
}

type ownedAddressDocument struct {
	Fields          map[string]string `firestore:"fields"`
	SourceAddressID string            `firestore:"sourceAddressId,omitempty"`
	CreatedAt       time.Time         `firestore:"createdAt"`
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)
