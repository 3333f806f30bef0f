package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// LineItemResolver finds the cart line a purchasable selection belongs to.
type LineItemResolver struct{}

// Resolve returns the line matching the purchasable and options together with its index in
// cart.LineItems. When no line matches it returns a new unsaved line with quantity 1 and index -1.
// The cart is not modified.
func (LineItemResolver) Resolve(cart *Cart, purchasableID string, options map[string]any) (LineItem, int) {
	purchasableID = strings.TrimSpace(purchasableID)
	signature := OptionsSignature(options)

	if cart != nil {
		for i, item := range cart.LineItems {
			if item.PurchasableID == purchasableID && lineSignature(item) == signature {
				return item.Clone(), i
			}
		}
	}

	return LineItem{
		PurchasableID:    purchasableID,
		Options:          normalizeOptions(options),
		OptionsSignature: signature,
		Qty:              1,
	}, -1
}

// OptionsSignature encodes an options set so that equal sets give equal signatures regardless
// of key order or unicode composition.
func OptionsSignature(options map[string]any) string {
	normalized := normalizeOptions(options)
	if normalized == nil {
		normalized = map[string]any{}
	}
	// encoding/json writes map keys in sorted order.
	payload, err := json.Marshal(normalized)
	if err != nil {
		payload = []byte("{}")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func lineSignature(item LineItem) string {
	if item.OptionsSignature != "" {
		return item.OptionsSignature
	}
	return OptionsSignature(item.Options)
}

func normalizeOptions(options map[string]any) map[string]any {
	if len(options) == 0 {
		return nil
	}
	// Raw keys are visited in sorted order so that keys collapsing to the same normalised key
	// always resolve to the same value: the first raw key wins.
	raw := make([]string, 0, len(options))
	for key := range options {
		raw = append(raw, key)
	}
	sort.Strings(raw)

	out := make(map[string]any, len(options))
	for _, rawKey := range raw {
		key := norm.NFC.String(strings.TrimSpace(rawKey))
		if _, taken := out[key]; key == "" || taken {
			continue
		}
		out[key] = normalizeOptionValue(options[rawKey])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeOptionValue(value any) any {
	switch v := value.(type) {
	case string:
		return norm.NFC.String(v)
	case map[string]any:
		nested := normalizeOptions(v)
		if nested == nil {
			return map[string]any{}
		}
		return nested
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeOptionValue(item)
		}
		return out
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return v
	}
}
