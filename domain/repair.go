package domain

// RepairAggregate reconciles order arrays with entity ownership after a
// partial write. A card whose ListID disagrees with order-array membership
// is appended to its owning list's order and removed from every other;
// dangling or duplicate ids are dropped; the board's list order is brought
// back to a permutation of its non-deleted lists. The pass is idempotent.
// It mutates agg in place and reports whether anything changed.
func RepairAggregate(agg *BoardAggregate) bool {
	changed := false

	cardsByID := make(map[string]*Card, len(agg.Cards))
	for i := range agg.Cards {
		cardsByID[agg.Cards[i].ID] = &agg.Cards[i]
	}
	listsByID := make(map[string]*List, len(agg.Lists))
	for i := range agg.Lists {
		listsByID[agg.Lists[i].ID] = &agg.Lists[i]
	}

	for i := range agg.Lists {
		list := &agg.Lists[i]
		if list.Deleted {
			// Soft-deleted lists keep their own card order until hard delete.
			continue
		}
		kept := make(OrderedIDs, 0, len(list.CardOrderIDs))
		seen := make(map[string]struct{}, len(list.CardOrderIDs))
		for _, id := range list.CardOrderIDs {
			card, ok := cardsByID[id]
			if !ok || card.Deleted || card.ListID != list.ID {
				changed = true
				continue
			}
			if _, dup := seen[id]; dup {
				changed = true
				continue
			}
			seen[id] = struct{}{}
			kept = append(kept, id)
		}
		list.CardOrderIDs = kept
	}

	// Orphaned cards are appended to the list their ListID names.
	for i := range agg.Cards {
		card := &agg.Cards[i]
		if card.Deleted {
			continue
		}
		list, ok := listsByID[card.ListID]
		if !ok || list.Deleted {
			continue
		}
		if !list.CardOrderIDs.Contains(card.ID) {
			list.CardOrderIDs = append(list.CardOrderIDs.Clone(), card.ID)
			changed = true
		}
	}

	keptLists := make(OrderedIDs, 0, len(agg.Board.ListOrderIDs))
	seenLists := make(map[string]struct{}, len(agg.Board.ListOrderIDs))
	for _, id := range agg.Board.ListOrderIDs {
		list, ok := listsByID[id]
		if !ok || list.Deleted {
			changed = true
			continue
		}
		if _, dup := seenLists[id]; dup {
			changed = true
			continue
		}
		seenLists[id] = struct{}{}
		keptLists = append(keptLists, id)
	}
	for i := range agg.Lists {
		list := &agg.Lists[i]
		if list.Deleted {
			continue
		}
		if _, ok := seenLists[list.ID]; !ok {
			keptLists = append(keptLists, list.ID)
			seenLists[list.ID] = struct{}{}
			changed = true
		}
	}
	agg.Board.ListOrderIDs = keptLists

	return changed
}
