package domain

import "strings"

// placeholderSuffix marks the synthetic card that keeps an empty list
// addressable as a drop target. Placeholders exist only client-side and are
// never persisted.
const placeholderSuffix = "-placeholder-card"

// PlaceholderCardID derives the stable placeholder id for a list. The same
// list always yields the same id, so repeated generation is idempotent.
func PlaceholderCardID(listID string) string {
	return listID + placeholderSuffix
}

// IsPlaceholderID reports whether id names a placeholder card.
func IsPlaceholderID(id string) bool {
	return strings.HasSuffix(id, placeholderSuffix)
}

// PlaceholderCard builds the synthetic card for an empty list.
func PlaceholderCard(list List) Card {
	return Card{
		ID:      PlaceholderCardID(list.ID),
		BoardID: list.BoardID,
		ListID:  list.ID,
	}
}

// WithoutPlaceholders strips placeholder entries, producing the value that
// may actually be persisted. The input is not mutated.
func WithoutPlaceholders(ids OrderedIDs) OrderedIDs {
	out := make(OrderedIDs, 0, len(ids))
	for _, id := range ids {
		if IsPlaceholderID(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
