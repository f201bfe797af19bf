package domain

import "fmt"

// DragItemType tags a drag payload. It is set explicitly at drag start,
// never inferred from the shape of the payload.
type DragItemType string

const (
	DragList DragItemType = "list"
	DragCard DragItemType = "card"
)

// MoveIntent describes one drag gesture against the current order state.
// Indices are 0-based. IsBelowTarget is resolved by the drag-interaction
// layer from pointer geometry; the planner only applies the modifier.
type MoveIntent struct {
	Type          DragItemType `json:"type"`
	ItemID        string       `json:"itemId"`
	SourceListID  string       `json:"sourceListId,omitempty"`
	TargetListID  string       `json:"targetListId,omitempty"`
	SourceIndex   int          `json:"sourceIndex"`
	TargetIndex   int          `json:"targetIndex"`
	IsBelowTarget bool         `json:"isBelowTarget,omitempty"`
}

// MovePlan is the pure outcome of a move computation: the replacement order
// arrays for every affected container. A NoOp plan must not reach storage.
type MovePlan struct {
	NoOp bool

	// List move.
	ListOrderIDs OrderedIDs

	// Card move.
	CardID             string
	CrossList          bool
	SourceListID       string
	SourceCardOrderIDs OrderedIDs
	TargetListID       string
	TargetCardOrderIDs OrderedIDs
	NewListID          string
}

// InvalidMoveError rejects a move before any write happens.
type InvalidMoveError struct {
	Reason string
}

func (e *InvalidMoveError) Error() string {
	return "invalid move: " + e.Reason
}

func invalidMove(format string, args ...any) error {
	return &InvalidMoveError{Reason: fmt.Sprintf(format, args...)}
}

// PlanListMove computes a board's new list order for a column drag.
func PlanListMove(listOrderIDs OrderedIDs, fromIndex, toIndex int) (MovePlan, error) {
	if fromIndex == toIndex {
		return MovePlan{NoOp: true}, nil
	}
	next, err := listOrderIDs.Move(fromIndex, toIndex)
	if err != nil {
		return MovePlan{}, invalidMove("list reorder %d -> %d: %v", fromIndex, toIndex, err)
	}
	return MovePlan{ListOrderIDs: next}, nil
}

// PlanCardMove computes the replacement card orders for a card drag. For a
// same-list move only the source order changes; for a cross-list move the
// plan carries both lists' orders plus the card's new owning list.
// Placeholder ids never survive into a plan's order arrays.
func PlanCardMove(sourceOrder, targetOrder OrderedIDs, intent MoveIntent) (MovePlan, error) {
	if intent.Type != DragCard {
		return MovePlan{}, invalidMove("payload tagged %q, want %q", intent.Type, DragCard)
	}
	if intent.ItemID == "" || IsPlaceholderID(intent.ItemID) {
		return MovePlan{}, invalidMove("card id %q is not draggable", intent.ItemID)
	}

	if intent.SourceListID == intent.TargetListID {
		if intent.SourceIndex == intent.TargetIndex {
			return MovePlan{NoOp: true}, nil
		}
		next, err := sourceOrder.Move(intent.SourceIndex, intent.TargetIndex)
		if err != nil {
			return MovePlan{}, invalidMove("card reorder %d -> %d in list %s: %v",
				intent.SourceIndex, intent.TargetIndex, intent.SourceListID, err)
		}
		return MovePlan{
			CardID:             intent.ItemID,
			SourceListID:       intent.SourceListID,
			SourceCardOrderIDs: next,
			TargetListID:       intent.SourceListID,
			TargetCardOrderIDs: next,
			NewListID:          intent.SourceListID,
		}, nil
	}

	if !sourceOrder.Contains(intent.ItemID) {
		return MovePlan{}, invalidMove("card %s not in source list %s", intent.ItemID, intent.SourceListID)
	}

	newSource := WithoutPlaceholders(sourceOrder.RemoveID(intent.ItemID))

	// Drag-over can run this computation repeatedly within one gesture; the
	// dragged id may already sit in the target from a provisional update.
	newTarget := WithoutPlaceholders(targetOrder.RemoveID(intent.ItemID))

	index := insertionIndex(newTarget, intent)
	next, err := newTarget.InsertAt(intent.ItemID, index)
	if err != nil {
		return MovePlan{}, invalidMove("card %s into list %s at %d: %v",
			intent.ItemID, intent.TargetListID, index, err)
	}

	return MovePlan{
		CardID:             intent.ItemID,
		CrossList:          true,
		SourceListID:       intent.SourceListID,
		SourceCardOrderIDs: newSource,
		TargetListID:       intent.TargetListID,
		TargetCardOrderIDs: next,
		NewListID:          intent.TargetListID,
	}, nil
}

// insertionIndex places the dragged card relative to the card currently at
// TargetIndex: below it when the dragged rectangle has crossed past the
// target's bottom edge, above it otherwise. An empty target or a drop past
// the last card appends.
func insertionIndex(target OrderedIDs, intent MoveIntent) int {
	if intent.TargetIndex < 0 || intent.TargetIndex >= len(target) {
		return len(target)
	}
	modifier := 0
	if intent.IsBelowTarget {
		modifier = 1
	}
	index := intent.TargetIndex + modifier
	if index > len(target) {
		index = len(target)
	}
	return index
}

// PlanMove resolves a MoveIntent against a board aggregate. It validates
// that the referenced containers exist before delegating to the pure
// planners, and never mutates the aggregate.
func PlanMove(agg *BoardAggregate, intent MoveIntent) (MovePlan, error) {
	switch intent.Type {
	case DragList:
		return PlanListMove(agg.Board.ListOrderIDs, intent.SourceIndex, intent.TargetIndex)
	case DragCard:
		source := agg.FindList(intent.SourceListID)
		if source == nil {
			return MovePlan{}, invalidMove("source list %s not on board %s", intent.SourceListID, agg.Board.ID)
		}
		target := agg.FindList(intent.TargetListID)
		if target == nil {
			return MovePlan{}, invalidMove("target list %s not on board %s", intent.TargetListID, agg.Board.ID)
		}
		return PlanCardMove(source.CardOrderIDs, target.CardOrderIDs, intent)
	default:
		return MovePlan{}, invalidMove("unknown drag payload type %q", intent.Type)
	}
}
