package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidIndex indicates an insert or move index outside [0, len].
	ErrInvalidIndex = errors.New("index out of range")
	// ErrDuplicateID indicates an id that is already part of the sequence.
	ErrDuplicateID = errors.New("duplicate id")
)

// OrderedIDs is a sequence of entity ids with one explicit total order and
// no duplicates. The zero value is an empty, usable sequence.
type OrderedIDs []string

// IndexOf returns the position of id, or -1 when absent.
func (o OrderedIDs) IndexOf(id string) int {
	for i, v := range o {
		if v == id {
			return i
		}
	}
	return -1
}

// Contains reports whether id is part of the sequence.
func (o OrderedIDs) Contains(id string) bool {
	return o.IndexOf(id) >= 0
}

// Equal reports whether both orders hold the same ids in the same
// positions.
func (o OrderedIDs) Equal(other OrderedIDs) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (o OrderedIDs) Clone() OrderedIDs {
	if o == nil {
		return nil
	}
	out := make(OrderedIDs, len(o))
	copy(out, o)
	return out
}

// InsertAt returns a new sequence with id inserted at index, shifting
// subsequent entries right.
func (o OrderedIDs) InsertAt(id string, index int) (OrderedIDs, error) {
	if index < 0 || index > len(o) {
		return nil, fmt.Errorf("insert %q at %d of %d: %w", id, index, len(o), ErrInvalidIndex)
	}
	if o.Contains(id) {
		return nil, fmt.Errorf("insert %q: %w", id, ErrDuplicateID)
	}
	out := make(OrderedIDs, 0, len(o)+1)
	out = append(out, o[:index]...)
	out = append(out, id)
	out = append(out, o[index:]...)
	return out, nil
}

// RemoveID returns a new sequence without id. Removing an absent id is a
// no-op, not an error.
func (o OrderedIDs) RemoveID(id string) OrderedIDs {
	i := o.IndexOf(id)
	if i < 0 {
		return o.Clone()
	}
	out := make(OrderedIDs, 0, len(o)-1)
	out = append(out, o[:i]...)
	out = append(out, o[i+1:]...)
	return out
}

// Move returns a new sequence with the entry at fromIndex relocated so it
// ends up at toIndex of the result. Both indices address the sequence as it
// existed before the move, standard "move element at i to position j"
// semantics with no off-by-one surprises for the caller.
func (o OrderedIDs) Move(fromIndex, toIndex int) (OrderedIDs, error) {
	if fromIndex < 0 || fromIndex >= len(o) {
		return nil, fmt.Errorf("move from %d of %d: %w", fromIndex, len(o), ErrInvalidIndex)
	}
	if toIndex < 0 || toIndex >= len(o) {
		return nil, fmt.Errorf("move to %d of %d: %w", toIndex, len(o), ErrInvalidIndex)
	}
	if fromIndex == toIndex {
		return o.Clone(), nil
	}
	out := make(OrderedIDs, 0, len(o))
	out = append(out, o[:fromIndex]...)
	out = append(out, o[fromIndex+1:]...)
	rest := append(OrderedIDs{}, out[toIndex:]...)
	out = append(out[:toIndex], o[fromIndex])
	out = append(out, rest...)
	return out, nil
}

// MarshalJSON keeps the wire form a plain array of id strings.
func (o OrderedIDs) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(o))
}

// UnmarshalJSON accepts a plain array of id strings.
func (o *OrderedIDs) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*o = ids
	return nil
}

// EncodeOrder serializes the sequence for storage in a single table column.
func EncodeOrder(o OrderedIDs) (string, error) {
	if o == nil {
		o = OrderedIDs{}
	}
	data, err := json.Marshal([]string(o))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeOrder is the inverse of EncodeOrder. An empty column decodes to an
// empty sequence.
func DecodeOrder(s string) (OrderedIDs, error) {
	if s == "" {
		return OrderedIDs{}, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
