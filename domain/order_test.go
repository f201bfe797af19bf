package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestMoveWithinSelf(t *testing.T) {
	ids := OrderedIDs{"A", "B", "C", "D"}

	tests := []struct {
		name string
		from int
		to   int
		want OrderedIDs
	}{
		{name: "forward", from: 0, to: 2, want: OrderedIDs{"B", "C", "A", "D"}},
		{name: "backward", from: 3, to: 0, want: OrderedIDs{"D", "A", "B", "C"}},
		{name: "same", from: 1, to: 1, want: OrderedIDs{"A", "B", "C", "D"}},
		{name: "forwardToEnd", from: 0, to: 3, want: OrderedIDs{"B", "C", "D", "A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ids.Move(tt.from, tt.to)
			if err != nil {
				t.Fatalf("move %d -> %d: %v", tt.from, tt.to, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("move %d -> %d = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}

	if !reflect.DeepEqual(ids, OrderedIDs{"A", "B", "C", "D"}) {
		t.Fatalf("input was mutated: %v", ids)
	}
}

func TestMoveRejectsOutOfRange(t *testing.T) {
	ids := OrderedIDs{"A", "B"}
	if _, err := ids.Move(-1, 0); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	if _, err := ids.Move(0, 2); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
}

func TestInsertAt(t *testing.T) {
	ids := OrderedIDs{"A", "C"}

	got, err := ids.InsertAt("B", 1)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !reflect.DeepEqual(got, OrderedIDs{"A", "B", "C"}) {
		t.Fatalf("unexpected order: %v", got)
	}

	if _, err := ids.InsertAt("A", 0); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := ids.InsertAt("X", 3); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	if _, err := ids.InsertAt("X", -1); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}

	end, err := ids.InsertAt("D", 2)
	if err != nil {
		t.Fatalf("insert at end: %v", err)
	}
	if !reflect.DeepEqual(end, OrderedIDs{"A", "C", "D"}) {
		t.Fatalf("unexpected order: %v", end)
	}
}

func TestRemoveIDAbsentIsNoop(t *testing.T) {
	ids := OrderedIDs{"A", "B"}
	got := ids.RemoveID("Z")
	if !reflect.DeepEqual(got, ids) {
		t.Fatalf("remove of absent id changed order: %v", got)
	}
	got = ids.RemoveID("A")
	if !reflect.DeepEqual(got, OrderedIDs{"B"}) {
		t.Fatalf("unexpected order after remove: %v", got)
	}
}

func TestOrderEncodingRoundTrip(t *testing.T) {
	ids := OrderedIDs{"64f0c2a1b3d4e5f601234567", "64f0c2a1b3d4e5f601234568"}
	encoded, err := EncodeOrder(ids)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeOrder(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, ids) {
		t.Fatalf("round trip mismatch: %v", decoded)
	}

	empty, err := DecodeOrder("")
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty order, got %v", empty)
	}
	if encodedNil, err := EncodeOrder(nil); err != nil || encodedNil != "[]" {
		t.Fatalf("expected nil to encode as [], got %q err=%v", encodedNil, err)
	}
}
