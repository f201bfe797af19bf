package domain

import (
	"errors"
	"reflect"
	"testing"
)

func testAggregate() *BoardAggregate {
	return &BoardAggregate{
		Board: Board{
			ID:           "board1",
			ListOrderIDs: OrderedIDs{"L1", "L2", "L3"},
		},
		Lists: []List{
			{ID: "L1", BoardID: "board1", CardOrderIDs: OrderedIDs{"C1", "C2"}},
			{ID: "L2", BoardID: "board1", CardOrderIDs: OrderedIDs{"C3", "C4"}},
			{ID: "L3", BoardID: "board1", CardOrderIDs: OrderedIDs{}},
		},
		Cards: []Card{
			{ID: "C1", BoardID: "board1", ListID: "L1"},
			{ID: "C2", BoardID: "board1", ListID: "L1"},
			{ID: "C3", BoardID: "board1", ListID: "L2"},
			{ID: "C4", BoardID: "board1", ListID: "L2"},
		},
	}
}

func TestPlanListMoveToFront(t *testing.T) {
	agg := testAggregate()
	plan, err := PlanMove(agg, MoveIntent{Type: DragList, ItemID: "L3", SourceIndex: 2, TargetIndex: 0})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.NoOp {
		t.Fatal("unexpected no-op")
	}
	if !reflect.DeepEqual(plan.ListOrderIDs, OrderedIDs{"L3", "L1", "L2"}) {
		t.Fatalf("unexpected list order: %v", plan.ListOrderIDs)
	}
}

func TestPlanListMoveSameIndexIsNoop(t *testing.T) {
	agg := testAggregate()
	plan, err := PlanMove(agg, MoveIntent{Type: DragList, ItemID: "L1", SourceIndex: 0, TargetIndex: 0})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !plan.NoOp {
		t.Fatal("expected no-op plan")
	}
}

func TestPlanCardMoveSameList(t *testing.T) {
	agg := testAggregate()
	plan, err := PlanMove(agg, MoveIntent{
		Type: DragCard, ItemID: "C1",
		SourceListID: "L1", TargetListID: "L1",
		SourceIndex: 0, TargetIndex: 1,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.CrossList {
		t.Fatal("same-list move marked cross-list")
	}
	if !reflect.DeepEqual(plan.SourceCardOrderIDs, OrderedIDs{"C2", "C1"}) {
		t.Fatalf("unexpected order: %v", plan.SourceCardOrderIDs)
	}
	if plan.NewListID != "L1" {
		t.Fatalf("unexpected list id: %s", plan.NewListID)
	}
}

func TestPlanCardMoveSameSpotIsNoop(t *testing.T) {
	agg := testAggregate()
	plan, err := PlanMove(agg, MoveIntent{
		Type: DragCard, ItemID: "C1",
		SourceListID: "L1", TargetListID: "L1",
		SourceIndex: 0, TargetIndex: 0,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !plan.NoOp {
		t.Fatal("expected no-op plan")
	}
}

func TestPlanCardMoveCrossList(t *testing.T) {
	agg := testAggregate()
	plan, err := PlanMove(agg, MoveIntent{
		Type: DragCard, ItemID: "C1",
		SourceListID: "L1", TargetListID: "L2",
		SourceIndex: 0, TargetIndex: 0,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !plan.CrossList {
		t.Fatal("expected cross-list plan")
	}
	if !reflect.DeepEqual(plan.SourceCardOrderIDs, OrderedIDs{"C2"}) {
		t.Fatalf("unexpected source order: %v", plan.SourceCardOrderIDs)
	}
	if !reflect.DeepEqual(plan.TargetCardOrderIDs, OrderedIDs{"C1", "C3", "C4"}) {
		t.Fatalf("unexpected target order: %v", plan.TargetCardOrderIDs)
	}
	if plan.NewListID != "L2" {
		t.Fatalf("unexpected new list id: %s", plan.NewListID)
	}
}

func TestPlanCardMoveBelowTarget(t *testing.T) {
	agg := testAggregate()
	plan, err := PlanMove(agg, MoveIntent{
		Type: DragCard, ItemID: "C1",
		SourceListID: "L1", TargetListID: "L2",
		SourceIndex: 0, TargetIndex: 0, IsBelowTarget: true,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !reflect.DeepEqual(plan.TargetCardOrderIDs, OrderedIDs{"C3", "C1", "C4"}) {
		t.Fatalf("unexpected target order: %v", plan.TargetCardOrderIDs)
	}
}

func TestPlanCardMoveIntoEmptyListAppends(t *testing.T) {
	agg := testAggregate()
	plan, err := PlanMove(agg, MoveIntent{
		Type: DragCard, ItemID: "C1",
		SourceListID: "L1", TargetListID: "L3",
		SourceIndex: 0, TargetIndex: 0,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !reflect.DeepEqual(plan.TargetCardOrderIDs, OrderedIDs{"C1"}) {
		t.Fatalf("unexpected target order: %v", plan.TargetCardOrderIDs)
	}
}

func TestPlanCardMoveFiltersPlaceholders(t *testing.T) {
	agg := testAggregate()
	empty := agg.FindList("L3")
	empty.CardOrderIDs = OrderedIDs{PlaceholderCardID("L3")}

	plan, err := PlanMove(agg, MoveIntent{
		Type: DragCard, ItemID: "C2",
		SourceListID: "L1", TargetListID: "L3",
		SourceIndex: 1, TargetIndex: 0,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !reflect.DeepEqual(plan.TargetCardOrderIDs, OrderedIDs{"C2"}) {
		t.Fatalf("placeholder survived into plan: %v", plan.TargetCardOrderIDs)
	}
	for _, id := range plan.SourceCardOrderIDs {
		if IsPlaceholderID(id) {
			t.Fatalf("placeholder in source order: %v", plan.SourceCardOrderIDs)
		}
	}
}

func TestPlanCardMoveProvisionalTargetDoesNotDuplicate(t *testing.T) {
	// A drag-over update may already have inserted the id provisionally;
	// the authoritative drag-end computation must not duplicate it.
	agg := testAggregate()
	target := agg.FindList("L2")
	target.CardOrderIDs = OrderedIDs{"C1", "C3", "C4"}

	plan, err := PlanMove(agg, MoveIntent{
		Type: DragCard, ItemID: "C1",
		SourceListID: "L1", TargetListID: "L2",
		SourceIndex: 0, TargetIndex: 1, IsBelowTarget: true,
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	seen := map[string]int{}
	for _, id := range plan.TargetCardOrderIDs {
		seen[id]++
	}
	if seen["C1"] != 1 {
		t.Fatalf("dragged id duplicated: %v", plan.TargetCardOrderIDs)
	}
}

func TestPlanMoveRejectsUnknownContainers(t *testing.T) {
	agg := testAggregate()
	var invalid *InvalidMoveError

	_, err := PlanMove(agg, MoveIntent{Type: DragCard, ItemID: "C1", SourceListID: "nope", TargetListID: "L2"})
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMoveError, got %v", err)
	}

	_, err = PlanMove(agg, MoveIntent{Type: "mystery", ItemID: "C1"})
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMoveError for unknown type, got %v", err)
	}

	_, err = PlanMove(agg, MoveIntent{Type: DragCard, ItemID: PlaceholderCardID("L3"), SourceListID: "L3", TargetListID: "L2"})
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMoveError for placeholder drag, got %v", err)
	}
}

func TestPlanMoveDoesNotMutateAggregate(t *testing.T) {
	agg := testAggregate()
	want := testAggregate()

	if _, err := PlanMove(agg, MoveIntent{
		Type: DragCard, ItemID: "C1",
		SourceListID: "L1", TargetListID: "L2",
		SourceIndex: 0, TargetIndex: 0,
	}); err != nil {
		t.Fatalf("plan: %v", err)
	}

	if !reflect.DeepEqual(agg, want) {
		t.Fatalf("aggregate mutated by planner")
	}
}

func BenchmarkPlanCardMoveCrossList(b *testing.B) {
	agg := testAggregate()
	intent := MoveIntent{
		Type: DragCard, ItemID: "C1",
		SourceListID: "L1", TargetListID: "L2",
		SourceIndex: 0, TargetIndex: 0,
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := PlanMove(agg, intent); err != nil {
			b.Fatal(err)
		}
	}
}
