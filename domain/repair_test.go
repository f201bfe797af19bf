package domain

import (
	"reflect"
	"testing"
)

func TestRepairMovesCardToOwningList(t *testing.T) {
	agg := &BoardAggregate{
		Board: Board{ID: "board1", ListOrderIDs: OrderedIDs{"L1", "L2"}},
		Lists: []List{
			{ID: "L1", BoardID: "board1", CardOrderIDs: OrderedIDs{"C1"}},
			{ID: "L2", BoardID: "board1", CardOrderIDs: OrderedIDs{}},
		},
		Cards: []Card{
			// ListID says L2 but only L1's order references the card, the
			// signature of an interrupted cross-list move.
			{ID: "C1", BoardID: "board1", ListID: "L2"},
		},
	}

	if !RepairAggregate(agg) {
		t.Fatal("expected repair to report a change")
	}
	if got := agg.FindList("L1").CardOrderIDs; len(got) != 0 {
		t.Fatalf("card still referenced by L1: %v", got)
	}
	if got := agg.FindList("L2").CardOrderIDs; !reflect.DeepEqual(got, OrderedIDs{"C1"}) {
		t.Fatalf("card not appended to L2: %v", got)
	}

	if RepairAggregate(agg) {
		t.Fatal("second pass should be a no-op")
	}
}

func TestRepairDropsDanglingAndDuplicateIDs(t *testing.T) {
	agg := &BoardAggregate{
		Board: Board{ID: "board1", ListOrderIDs: OrderedIDs{"L1", "gone", "L1"}},
		Lists: []List{
			{ID: "L1", BoardID: "board1", CardOrderIDs: OrderedIDs{"C1", "C1", "ghost"}},
		},
		Cards: []Card{
			{ID: "C1", BoardID: "board1", ListID: "L1"},
		},
	}

	if !RepairAggregate(agg) {
		t.Fatal("expected repair to report a change")
	}
	if !reflect.DeepEqual(agg.Board.ListOrderIDs, OrderedIDs{"L1"}) {
		t.Fatalf("unexpected list order: %v", agg.Board.ListOrderIDs)
	}
	if !reflect.DeepEqual(agg.Lists[0].CardOrderIDs, OrderedIDs{"C1"}) {
		t.Fatalf("unexpected card order: %v", agg.Lists[0].CardOrderIDs)
	}
}

func TestRepairIgnoresDeletedEntities(t *testing.T) {
	agg := &BoardAggregate{
		Board: Board{ID: "board1", ListOrderIDs: OrderedIDs{"L1"}},
		Lists: []List{
			{ID: "L1", BoardID: "board1", CardOrderIDs: OrderedIDs{"C1"}},
			{ID: "L2", BoardID: "board1", Deleted: true, CardOrderIDs: OrderedIDs{"C2"}},
		},
		Cards: []Card{
			{ID: "C1", BoardID: "board1", ListID: "L1"},
			{ID: "C2", BoardID: "board1", ListID: "L2", Deleted: true},
		},
	}

	if RepairAggregate(agg) {
		t.Fatal("consistent aggregate reported as changed")
	}
	// A soft-deleted list keeps its own card order.
	if !reflect.DeepEqual(agg.Lists[1].CardOrderIDs, OrderedIDs{"C2"}) {
		t.Fatalf("deleted list order touched: %v", agg.Lists[1].CardOrderIDs)
	}
	if agg.Board.ListOrderIDs.Contains("L2") {
		t.Fatal("deleted list present in board order")
	}
}
