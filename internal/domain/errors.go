package domain

import "sort"

// FieldErrors maps a field name to the user facing messages attached to it.
type FieldErrors map[string][]string

// Add appends a message for the field, ignoring exact duplicates.
func (e *FieldErrors) Add(field, message string) {
	if *e == nil {
		*e = FieldErrors{}
	}
	for _, existing := range (*e)[field] {
		if existing == message {
			return
		}
	}
	(*e)[field] = append((*e)[field], message)
}

// Merge appends every message from other.
func (e *FieldErrors) Merge(other FieldErrors) {
	for _, field := range other.Fields() {
		for _, message := range other[field] {
			e.Add(field, message)
		}
	}
}

// Has reports whether the field carries at least one message.
func (e FieldErrors) Has(field string) bool {
	return len(e[field]) > 0
}

// Empty reports whether no field carries a message.
func (e FieldErrors) Empty() bool {
	for _, messages := range e {
		if len(messages) > 0 {
			return false
		}
	}
	return true
}

// First returns the first message recorded for the field.
func (e FieldErrors) First(field string) string {
	if messages := e[field]; len(messages) > 0 {
		return messages[0]
	}
	return ""
}

// Fields returns the field names in sorted order.
func (e FieldErrors) Fields() []string {
	out := make([]string, 0, len(e))
	for field, messages := range e {
		if len(messages) > 0 {
			out = append(out, field)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (e FieldErrors) Clone() FieldErrors {
	if e == nil {
		return nil
	}
	out := make(FieldErrors, len(e))
	for field, messages := range e {
		out[field] = append([]string(nil), messages...)
	}
	return out
}
