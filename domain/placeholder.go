package domain

import "strings"

// PlaceholderPrefix marks the ids of synthetic stories that make empty columns
// droppable. Stored stories never use it.
const PlaceholderPrefix = "__placeholder__:"

// PlaceholderID returns the reserved id of the placeholder for a column.
func PlaceholderID(s State) string {
	return PlaceholderPrefix + s.String()
}

// IsPlaceholderID reports whether id is reserved for a placeholder.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// IsPlaceholder reports whether it is a synthetic drop target.
func IsPlaceholder(it WorkItem) bool {
	return it.Placeholder || IsPlaceholderID(it.ID)
}

// SeedPlaceholders appends one placeholder to every column that has no
// entries. Seeding an already seeded collection is a no-op.
func SeedPlaceholders(items []WorkItem) []WorkItem {
	out := cloneItems(items)
	for _, s := range BoardStates {
		out = seedColumn(out, s)
	}
	return out
}

// seedColumn appends the placeholder of s when no entry sits in that column.
// A placeholder never changes column, so an empty column has none to reuse.
func seedColumn(items []WorkItem, s State) []WorkItem {
	for _, it := range items {
		if it.State == s {
			return items
		}
	}
	return append(items, WorkItem{
		ID:          PlaceholderID(s),
		State:       s,
		Position:    len(items),
		Placeholder: true,
	})
}

// StripPlaceholders removes synthetic entries, keeping the order of the rest.
func StripPlaceholders(items []WorkItem) []WorkItem {
	out := make([]WorkItem, 0, len(items))
	for _, it := range items {
		if !IsPlaceholder(it) {
			out = append(out, it)
		}
	}
	return out
}
