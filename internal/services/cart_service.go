package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/cartengine/internal/domain"
	"github.com/hanko-field/cartengine/internal/repositories"
)

const (
	cartMeterName = "github.com/hanko-field/cartengine/internal/services"

	msgCartUpdated      = "Cart updated."
	msgCartUpdateFailed = "Unable to update cart."
	msgCartAlreadyDone  = "Cart is already completed."
	msgCartSaveConflict = "The cart was changed by another request. Please try again."
	msgCartSaveFailed   = "The cart could not be saved."
	outcomeSuccess      = "success"
	outcomeFailure      = "failure"
	operationUpdate     = "update"
	operationComplete   = "complete"
)

// CartServiceDeps wires the repositories and collaborators used by cart mutations.
type CartServiceDeps struct {
	Carts          repositories.CartRepository
	Addresses      repositories.AddressRepository
	PaymentSources repositories.PaymentSourceRepository
	Gateways       GatewayFinder
	Sessions       CartSessionStore
	Validator      CartValidator
	Indexer        SearchIndexer
	Archiver       OrderArchiver
	Settings       CheckoutSettings
	Clock          func() time.Time
	Logger         func(context.Context, string, map[string]any)
	IDGenerator    func() string
	// NumberGenerator produces the public cart number. Defaults to a lower case ULID.
	NumberGenerator func() string
	// CompleteTransition overrides the open to completed transition.
	CompleteTransition func(*Cart) error
	Meter              metric.Meter
}

type cartService struct {
	carts          repositories.CartRepository
	paymentSources repositories.PaymentSourceRepository
	gateways       GatewayFinder
	sessions       CartSessionStore
	validator      CartValidator
	indexer        SearchIndexer
	archiver       OrderArchiver
	settings       CheckoutSettings

	merger    LineItemMerger
	addresses AddressAssigner
	gate      CompletionGate

	now       func() time.Time
	newID     func() string
	newNumber func() string
	logger    func(context.Context, string, map[string]any)
	mutations metric.Int64Counter
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}
	if deps.Sessions == nil {
		return nil, errCartSessionsRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	numberGen := deps.NumberGenerator
	if numberGen == nil {
		numberGen = func() string { return strings.ToLower(ulid.Make().String()) }
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(cartMeterName)
	}
	mutations, err := meter.Int64Counter("cart.mutations",
		metric.WithDescription("Cart mutation attempts by operation and outcome"),
	)
	if err != nil {
		logger(context.Background(), "cart.metric_register_failed", map[string]any{"error": err.Error()})
	}

	now := func() time.Time { return deps.Clock().UTC() }

	return &cartService{
		carts:          deps.Carts,
		paymentSources: deps.PaymentSources,
		gateways:       deps.Gateways,
		sessions:       deps.Sessions,
		validator:      deps.Validator,
		indexer:        deps.Indexer,
		archiver:       deps.Archiver,
		settings:       deps.Settings,
		merger:         NewLineItemMerger(sanitizeText),
		addresses:      NewAddressAssigner(deps.Addresses, logger),
		gate:           NewCompletionGate(deps.Settings, now, deps.CompleteTransition),
		now:            now,
		newID:          idGen,
		newNumber:      numberGen,
		logger:         logger,
		mutations:      mutations,
	}, nil
}

// GetCart returns the cart named by number, or the session cart.
func (s *cartService) GetCart(ctx context.Context, mctx MutationContext, cmd GetCartCommand) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	return s.resolveCart(ctx, mctx, optionalFromString(cmd.Number), cmd.ForceSave)
}

// LoadCart points the session at another open cart.
func (s *cartService) LoadCart(ctx context.Context, mctx MutationContext, number string) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return Cart{}, ErrCartNumberRequired
	}

	cart, err := s.carts.FindIncompleteByNumber(ctx, number)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotRetrievable
		}
		return Cart{}, translateRepoError(err)
	}

	if mctx.SessionID != "" {
		if err := s.sessions.ForgetCart(ctx, mctx.SessionID); err != nil {
			return Cart{}, ErrCartUnavailable
		}
		if err := s.sessions.RememberCart(ctx, mctx.SessionID, cart.Number); err != nil {
			return Cart{}, ErrCartUnavailable
		}
	}
	return s.claimCart(cart, mctx), nil
}

// UpdateCart applies one batch of edits as a single transition. The returned error is reserved
// for lookups and backend outages; validation and save failures are reported in the result.
func (s *cartService) UpdateCart(ctx context.Context, mctx MutationContext, edits CartEdits) (MutationResult, error) {
	if s == nil || s.carts == nil {
		return MutationResult{}, ErrCartUnavailable
	}
	if edits.Complete && !s.settings.AllowCheckoutWithoutPayment {
		return MutationResult{}, ErrCartPaymentRequired
	}

	cart, err := s.resolveCart(ctx, mctx, edits.Number, true)
	if err != nil {
		return MutationResult{}, err
	}

	messages := resultMessages{success: edits.SuccessMessage, failure: edits.FailMessage}
	working := cart.Clone()
	working.Errors = FieldErrors{}
	if cart.IsCompleted {
		working.Errors.Add("isComplete", msgCartAlreadyDone)
		return s.fail(ctx, operationUpdate, cart, working.Errors, messages), nil
	}

	copies, err := s.applyEdits(ctx, mctx, &working, edits)
	if err != nil {
		return MutationResult{}, err
	}
	if edits.Complete {
		s.gate.CheckAndComplete(&working)
	}

	var submitted []string
	if fields, ok := edits.Fields.Get(); ok {
		submitted = fieldKeys(fields)
	}
	result := s.commit(ctx, mctx, operationUpdate, cart, working, submitted, messages)
	if !result.Success {
		s.addresses.Discard(ctx, copies)
	}
	return result, nil
}

// CompleteCart runs the completion gate against the cart and saves the outcome.
func (s *cartService) CompleteCart(ctx context.Context, mctx MutationContext, cmd CompleteCartCommand) (MutationResult, error) {
	if s == nil || s.carts == nil {
		return MutationResult{}, ErrCartUnavailable
	}
	if !s.settings.AllowCheckoutWithoutPayment {
		return MutationResult{}, ErrCartPaymentRequired
	}

	cart, err := s.resolveCart(ctx, mctx, cmd.Number, false)
	if err != nil {
		return MutationResult{}, err
	}

	messages := resultMessages{success: cmd.SuccessMessage, failure: cmd.FailMessage}
	working := cart.Clone()
	working.Errors = FieldErrors{}
	if cart.IsCompleted {
		working.Errors.Add("isComplete", msgCartAlreadyDone)
		return s.fail(ctx, operationComplete, cart, working.Errors, messages), nil
	}

	if flag, ok := cmd.RegisterUserOnOrderComplete.Get(); ok {
		working.RegisterUserOnOrderComplete = flag
	}
	s.gate.CheckAndComplete(&working)

	return s.commit(ctx, mctx, operationComplete, cart, working, nil, messages), nil
}

// applyEdits mutates the working cart and returns the address copies written along the way.
func (s *cartService) applyEdits(ctx context.Context, mctx MutationContext, working *Cart, edits CartEdits) ([]Address, error) {
	if edits.ClearLineItems {
		working.LineItems = []LineItem{}
	}
	if edits.ClearNotices {
		working.Notices = nil
	}

	if fields, ok := edits.Fields.Get(); ok {
		if working.Fields == nil {
			working.Fields = map[string]any{}
		}
		for key, value := range sanitizeFieldValues(fields) {
			working.Fields[key] = value
		}
	}

	if purchasableID := optionalTrimmed(edits.PurchasableID); purchasableID != "" {
		s.merger.MergeAdds(working, []AddRequest{{
			PurchasableID: purchasableID,
			Options:       edits.Options.OrElse(nil),
			Note:          edits.Note.OrElse(""),
			Qty:           edits.Qty.OrElse(1),
		}})
	}
	s.merger.MergeAdds(working, edits.Purchasables)
	s.merger.ApplyLineEdits(working, edits.LineItems)

	copies, err := s.addresses.Assign(ctx, working, mctx.Actor, edits.Addresses)
	if err != nil {
		s.logger(ctx, "cart.address_assign_failed", map[string]any{
			"cartNumber": working.Number,
			"error":      err.Error(),
		})
		return nil, err
	}

	s.applyScalars(ctx, mctx, working, edits)
	return copies, nil
}

func (s *cartService) applyScalars(ctx context.Context, mctx MutationContext, working *Cart, edits CartEdits) {
	if email := optionalTrimmed(edits.Email); email != "" && working.Email != email {
		if !validEmail(email) {
			working.Errors.Add("email", invalidEmailMessage(email))
		} else {
			working.Email = email
		}
	}

	if flag, ok := edits.RegisterUserOnOrderComplete.Get(); ok {
		working.RegisterUserOnOrderComplete = flag
	}

	if code := optionalTrimmed(edits.PaymentCurrency); code != "" {
		working.PaymentCurrency = strings.ToUpper(code)
	}

	// Blank clears the coupon; omitted leaves it alone.
	if code, ok := edits.CouponCode.Get(); ok {
		if trimmed := strings.TrimSpace(code); trimmed != "" {
			working.CouponCode = &trimmed
		} else {
			working.CouponCode = nil
		}
	}

	if gatewayID := optionalTrimmed(edits.GatewayID); gatewayID != "" && s.gateways != nil {
		if gateway, ok := s.gateways.FindGateway(ctx, gatewayID); ok {
			working.GatewayID = gateway.ID
		}
	}

	if sourceID, ok := edits.PaymentSourceID.Get(); ok {
		s.assignPaymentSource(ctx, mctx, working, strings.TrimSpace(sourceID))
	}

	if handle := optionalTrimmed(edits.ShippingMethodHandle); handle != "" {
		working.ShippingMethodHandle = handle
	}
}

// assignPaymentSource attaches a stored payment source only for the signed-in owner of the cart
// on the storefront. An empty id detaches; an unknown id detaches as well.
func (s *cartService) assignPaymentSource(ctx context.Context, mctx MutationContext, working *Cart, sourceID string) {
	if sourceID == "" || s.paymentSources == nil {
		working.PaymentSourceID = ""
		return
	}

	source, err := s.paymentSources.FindPaymentSource(ctx, sourceID)
	if err != nil {
		if !isRepoNotFound(err) {
			s.logger(ctx, "cart.payment_source_lookup_failed", map[string]any{
				"cartNumber": working.Number,
				"error":      err.Error(),
			})
			return
		}
		working.PaymentSourceID = ""
		return
	}

	allowed := working.CustomerID != "" &&
		source.CustomerID != "" &&
		mctx.Actor != nil &&
		mctx.IsSiteRequest() &&
		source.CustomerID == working.CustomerID
	if !allowed {
		return
	}
	working.PaymentSourceID = source.ID
	if source.GatewayID != "" {
		working.GatewayID = source.GatewayID
	}
}

// commit validates the working cart and saves it. On any failure the original cart is returned
// with the collected errors and nothing from the working copy survives.
func (s *cartService) commit(ctx context.Context, mctx MutationContext, operation string, original, working Cart, submittedFields []string, messages resultMessages) MutationResult {
	fields := append([]string(nil), activeCartFields...)
	if s.settings.ValidateCustomFieldsOnSubmission {
		for _, key := range submittedFields {
			fields = append(fields, customFieldPrefix+key)
		}
	}
	if s.validator != nil {
		working.Errors.Merge(s.validator.Validate(ctx, working, fields))
	}
	if !working.Errors.Empty() {
		return s.fail(ctx, operation, original, working.Errors, messages)
	}

	justCompleted := working.IsCompleted && !original.IsCompleted
	s.assignIdentities(&working)
	working.UpdatedAt = s.now()

	var expected *time.Time
	if original.ID != "" && !original.UpdatedAt.IsZero() {
		previous := original.UpdatedAt
		expected = &previous
	}

	toSave := working.Clone()
	toSave.Errors = nil
	saved, err := s.carts.Save(ctx, toSave, expected)
	if err != nil {
		s.logger(ctx, "cart.save_failed", map[string]any{
			"cartNumber": working.Number,
			"error":      err.Error(),
		})
		errs := working.Errors.Clone()
		if errors.Is(translateRepoError(err), ErrCartConflict) {
			errs.Add("cart", msgCartSaveConflict)
		} else {
			errs.Add("cart", msgCartSaveFailed)
		}
		return s.fail(ctx, operation, original, errs, messages)
	}

	if justCompleted {
		s.afterCompletion(ctx, mctx, saved)
	}
	if s.settings.UpdateSearchIndexes && s.indexer != nil {
		if err := s.indexer.EnqueueCartReindex(ctx, saved); err != nil {
			s.logger(ctx, "cart.reindex_enqueue_failed", map[string]any{
				"cartNumber": saved.Number,
				"error":      err.Error(),
			})
		}
	}

	s.record(ctx, operation, outcomeSuccess)
	saved.Errors = FieldErrors{}
	return MutationResult{
		Success: true,
		Message: messages.successText(),
		Cart:    saved,
		Errors:  FieldErrors{},
	}
}

func (s *cartService) afterCompletion(ctx context.Context, mctx MutationContext, order Cart) {
	s.logger(ctx, "cart.completed", map[string]any{
		"cartNumber": order.Number,
		"reference":  order.Reference,
	})
	if mctx.SessionID != "" {
		if err := s.sessions.ForgetCart(ctx, mctx.SessionID); err != nil {
			s.logger(ctx, "cart.session_forget_failed", map[string]any{"error": err.Error()})
		}
	}
	if s.archiver != nil {
		if err := s.archiver.ArchiveCompletedOrder(ctx, order); err != nil {
			s.logger(ctx, "cart.archive_failed", map[string]any{
				"cartNumber": order.Number,
				"error":      err.Error(),
			})
		}
	}
}

func (s *cartService) fail(ctx context.Context, operation string, original Cart, errs FieldErrors, messages resultMessages) MutationResult {
	s.record(ctx, operation, outcomeFailure)
	snapshot := original.Clone()
	snapshot.Errors = errs.Clone()
	return MutationResult{
		Success: false,
		Message: messages.failureText(),
		Cart:    snapshot,
		Errors:  errs.Clone(),
	}
}

// assignIdentities gives new line items and new owned addresses their identifiers.
func (s *cartService) assignIdentities(cart *Cart) {
	if cart.ID == "" {
		cart.ID = s.newID()
	}
	for i := range cart.LineItems {
		if cart.LineItems[i].ID == "" {
			cart.LineItems[i].ID = s.newID()
		}
	}

	for _, slot := range []*Address{cart.ShippingAddress, cart.BillingAddress, cart.EstimatedShippingAddress, cart.EstimatedBillingAddress} {
		if slot == nil || slot.ID != "" {
			continue
		}
		slot.ID = s.newID()
		slot.OwnerID = cart.ID
	}
}

func (s *cartService) record(ctx context.Context, operation, outcome string) {
	if s.mutations == nil {
		return
	}
	s.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

type resultMessages struct {
	success domain.Optional[string]
	failure domain.Optional[string]
}

func (m resultMessages) successText() string {
	if text := optionalTrimmed(m.success); text != "" {
		return text
	}
	return msgCartUpdated
}

func (m resultMessages) failureText() string {
	if text := optionalTrimmed(m.failure); text != "" {
		return text
	}
	return msgCartUpdateFailed
}

func optionalTrimmed(value domain.Optional[string]) string {
	v, ok := value.Get()
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func optionalFromString(value string) domain.Optional[string] {
	if strings.TrimSpace(value) == "" {
		return domain.None[string]()
	}
	return domain.Some(value)
}

func fieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
