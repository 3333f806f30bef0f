package services

import (
	"strings"
)

// LineItemMerger folds add requests and line edits into a cart.
type LineItemMerger struct {
	resolver LineItemResolver
	sanitize func(string) string
}

// NewLineItemMerger builds a merger. A nil sanitize leaves notes untouched apart from trimming.
func NewLineItemMerger(sanitize func(string) string) LineItemMerger {
	if sanitize == nil {
		sanitize = strings.TrimSpace
	}
	return LineItemMerger{sanitize: sanitize}
}

// MergeAdds sums requests sharing a purchasable and options signature within the batch, then
// adds each group to the cart. Groups without a purchasable or with a non-positive total are
// dropped. A group matching a persisted line (one with an ID) increments it. A group matching a
// line added earlier in the same request replaces that line's quantity, and any other group is
// appended carrying the group total.
func (m LineItemMerger) MergeAdds(cart *Cart, requests []AddRequest) {
	if cart == nil || len(requests) == 0 {
		return
	}

	order := make([]string, 0, len(requests))
	groups := make(map[string]*AddRequest, len(requests))
	for _, req := range requests {
		req.PurchasableID = strings.TrimSpace(req.PurchasableID)
		key := req.PurchasableID + "-" + OptionsSignature(req.Options)
		if existing, ok := groups[key]; ok {
			existing.Qty += req.Qty
			continue
		}
		grouped := req
		groups[key] = &grouped
		order = append(order, key)
	}

	for _, key := range order {
		group := groups[key]
		if group.PurchasableID == "" || group.Qty <= 0 {
			continue
		}

		item, index := m.resolver.Resolve(cart, group.PurchasableID, group.Options)
		if item.ID != "" {
			item.Qty += group.Qty
		} else {
			item.Qty = group.Qty
		}
		item.Note = m.sanitize(group.Note)

		if index >= 0 {
			cart.LineItems[index] = item
		} else {
			cart.LineItems = append(cart.LineItems, item)
		}
	}
}

// ApplyLineEdits updates lines by identifier. Unknown identifiers are skipped. A line is removed
// when the edit asks for it or its resulting quantity is zero. Edited options do not merge the
// line into another line with the same signature.
func (m LineItemMerger) ApplyLineEdits(cart *Cart, edits []LineEdit) {
	if cart == nil {
		return
	}
	for _, edit := range edits {
		index := indexOfLineItem(cart.LineItems, edit.ID)
		if index < 0 {
			continue
		}

		item := cart.LineItems[index].Clone()
		if qty, ok := edit.Qty.Get(); ok {
			item.Qty = qty
		}
		if note, ok := edit.Note.Get(); ok {
			item.Note = m.sanitize(note)
		}
		if options, ok := edit.Options.Get(); ok {
			item.Options = normalizeOptions(options)
			item.OptionsSignature = OptionsSignature(options)
		}

		if edit.Remove || item.Qty == 0 {
			cart.LineItems = append(cart.LineItems[:index], cart.LineItems[index+1:]...)
			continue
		}
		cart.LineItems[index] = item
	}
}

func indexOfLineItem(items []LineItem, itemID string) int {
	target := strings.TrimSpace(itemID)
	if target == "" {
		return -1
	}
	for i, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.ID), target) {
			return i
		}
	}
	return -1
}
