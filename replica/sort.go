package replica

// SortByOrder arranges entities to match an order array. Ids with no
// matching entity are skipped; entities missing from the order are dropped,
// mirroring how the server's repair pass treats them.
func SortByOrder[T any](entities []T, orderIDs []string, idOf func(T) string) []T {
	byID := make(map[string]T, len(entities))
	for _, e := range entities {
		byID[idOf(e)] = e
	}
	out := make([]T, 0, len(orderIDs))
	for _, id := range orderIDs {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out
}
