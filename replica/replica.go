// Package replica holds the client-side optimistic copy of a board. All
// mutation flows through Apply with a tagged action; drag-over actions are
// provisional while drag-end actions are authoritative and yield the plan
// to persist.
package replica

import (
	"sync"

	"kanban-api/domain"
)

// State is the replica's view of one board.
type State struct {
	Board domain.Board
	Lists []domain.List
	Cards []domain.Card
}

func (s State) aggregate() *domain.BoardAggregate {
	return &domain.BoardAggregate{Board: s.Board, Lists: s.Lists, Cards: s.Cards}
}

// Action is a tagged replica mutation.
type Action interface {
	isAction()
}

// SetBoard replaces the whole state with an authoritative server snapshot.
type SetBoard struct {
	Aggregate *domain.BoardAggregate
}

// MoveList reorders the board's lists.
type MoveList struct {
	FromIndex int
	ToIndex   int
}

// DragCardOver applies a provisional card position while the drag is still
// in flight. It never produces a persistable plan.
type DragCardOver struct {
	Intent domain.MoveIntent
}

// DragCardEnd commits the drop position and yields the plan to persist.
type DragCardEnd struct {
	Intent domain.MoveIntent
}

func (SetBoard) isAction()     {}
func (MoveList) isAction()     {}
func (DragCardOver) isAction() {}
func (DragCardEnd) isAction()  {}

// gesture captures the source order as it stood when a card drag started.
// Provisional drag-over updates pull the card out of its source list, so
// the authoritative drag-end computation must run against this snapshot,
// not the already-mutated state.
type gesture struct {
	cardID       string
	sourceListID string
	sourceOrder  domain.OrderedIDs
}

// Replica is safe for concurrent use.
type Replica struct {
	mu      sync.RWMutex
	state   State
	pending *gesture
}

func New() *Replica {
	return &Replica{}
}

// Snapshot returns an independent copy of the current state.
func (r *Replica) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneState(r.state)
}

// Apply runs one action against the state. For MoveList and DragCardEnd the
// returned plan describes what must be persisted; provisional and refetch
// actions return a no-op plan. The state is never half-mutated: on an
// invalid move the action is rejected and the state left untouched.
func (r *Replica) Apply(action Action) (domain.MovePlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch a := action.(type) {
	case SetBoard:
		r.pending = nil
		return domain.MovePlan{NoOp: true}, r.setBoard(a.Aggregate)
	case MoveList:
		return r.moveList(a)
	case DragCardOver:
		// Provisional: state reflects the new position, nothing goes to
		// the network until drag end.
		r.recordGesture(a.Intent)
		if _, err := r.moveCard(a.Intent); err != nil {
			return domain.MovePlan{NoOp: true}, err
		}
		return domain.MovePlan{NoOp: true}, nil
	case DragCardEnd:
		plan, err := r.moveCard(a.Intent)
		r.pending = nil
		return plan, err
	default:
		return domain.MovePlan{NoOp: true}, nil
	}
}

// recordGesture snapshots the card's source order once per drag. Further
// drag-over events for the same card keep the original snapshot.
func (r *Replica) recordGesture(intent domain.MoveIntent) {
	if intent.Type != domain.DragCard {
		return
	}
	if r.pending != nil && r.pending.cardID == intent.ItemID {
		return
	}
	for i := range r.state.Lists {
		if r.state.Lists[i].ID == intent.SourceListID {
			r.pending = &gesture{
				cardID:       intent.ItemID,
				sourceListID: intent.SourceListID,
				sourceOrder:  r.state.Lists[i].CardOrderIDs.Clone(),
			}
			return
		}
	}
}

func (r *Replica) setBoard(agg *domain.BoardAggregate) error {
	if agg == nil {
		return &domain.InvalidMoveError{Reason: "nil aggregate"}
	}
	next := State{
		Board: agg.Board,
		Lists: append([]domain.List(nil), agg.Lists...),
		Cards: append([]domain.Card(nil), agg.Cards...),
	}
	ensurePlaceholders(&next)
	r.state = next
	return nil
}

func (r *Replica) moveList(a MoveList) (domain.MovePlan, error) {
	plan, err := domain.PlanListMove(r.state.Board.ListOrderIDs, a.FromIndex, a.ToIndex)
	if err != nil {
		return domain.MovePlan{NoOp: true}, err
	}
	if plan.NoOp {
		return plan, nil
	}
	r.state.Board.ListOrderIDs = plan.ListOrderIDs
	return plan, nil
}

func (r *Replica) moveCard(intent domain.MoveIntent) (domain.MovePlan, error) {
	if intent.Type == domain.DragList {
		plan, err := domain.PlanMove(r.state.aggregate(), intent)
		if err != nil {
			return domain.MovePlan{NoOp: true}, err
		}
		if !plan.NoOp {
			r.state.Board.ListOrderIDs = plan.ListOrderIDs
		}
		return plan, nil
	}

	source := r.findList(intent.SourceListID)
	if source == nil {
		return domain.MovePlan{NoOp: true},
			&domain.InvalidMoveError{Reason: "source list " + intent.SourceListID + " not on board"}
	}
	target := r.findList(intent.TargetListID)
	if target == nil {
		return domain.MovePlan{NoOp: true},
			&domain.InvalidMoveError{Reason: "target list " + intent.TargetListID + " not on board"}
	}

	sourceOrder := source.CardOrderIDs
	// A drag-over already pulled the card out of its source list; the
	// authoritative computation runs against the drag-start snapshot so
	// the same gesture replays cleanly.
	if intent.SourceListID != intent.TargetListID && !sourceOrder.Contains(intent.ItemID) &&
		r.pending != nil && r.pending.cardID == intent.ItemID && r.pending.sourceListID == intent.SourceListID {
		sourceOrder = r.pending.sourceOrder
	}

	plan, err := domain.PlanCardMove(sourceOrder, target.CardOrderIDs, intent)
	if err != nil {
		return domain.MovePlan{NoOp: true}, err
	}
	if plan.NoOp {
		return plan, nil
	}

	for i := range r.state.Lists {
		switch r.state.Lists[i].ID {
		case plan.SourceListID:
			r.state.Lists[i].CardOrderIDs = plan.SourceCardOrderIDs
		case plan.TargetListID:
			r.state.Lists[i].CardOrderIDs = plan.TargetCardOrderIDs
		}
	}
	if plan.CrossList {
		for i := range r.state.Cards {
			if r.state.Cards[i].ID == plan.CardID {
				r.state.Cards[i].ListID = plan.NewListID
			}
		}
	}
	ensurePlaceholders(&r.state)
	return plan, nil
}

// ensurePlaceholders keeps exactly one placeholder card in every empty list
// and none anywhere else. Placeholder ids are stable per list, so repeated
// passes are idempotent.
func ensurePlaceholders(s *State) {
	for i := range s.Lists {
		list := &s.Lists[i]
		real := domain.WithoutPlaceholders(list.CardOrderIDs)
		if len(real) == 0 {
			pid := domain.PlaceholderCardID(list.ID)
			list.CardOrderIDs = domain.OrderedIDs{pid}
			if !hasCard(s.Cards, pid) {
				s.Cards = append(s.Cards, domain.PlaceholderCard(*list))
			}
			continue
		}
		list.CardOrderIDs = real
	}

	// Drop placeholder card entities whose list has real cards again.
	kept := s.Cards[:0]
	for _, c := range s.Cards {
		if domain.IsPlaceholderID(c.ID) && !listNeedsPlaceholder(s.Lists, c.ListID) {
			continue
		}
		kept = append(kept, c)
	}
	s.Cards = kept
}

func (r *Replica) findList(listID string) *domain.List {
	for i := range r.state.Lists {
		if r.state.Lists[i].ID == listID {
			return &r.state.Lists[i]
		}
	}
	return nil
}

func listNeedsPlaceholder(lists []domain.List, listID string) bool {
	for _, l := range lists {
		if l.ID == listID {
			return len(domain.WithoutPlaceholders(l.CardOrderIDs)) == 0
		}
	}
	return false
}

func hasCard(cards []domain.Card, id string) bool {
	for _, c := range cards {
		if c.ID == id {
			return true
		}
	}
	return false
}

func cloneState(s State) State {
	out := State{Board: s.Board}
	out.Board.ListOrderIDs = s.Board.ListOrderIDs.Clone()
	out.Lists = make([]domain.List, len(s.Lists))
	for i, l := range s.Lists {
		l.CardOrderIDs = l.CardOrderIDs.Clone()
		out.Lists[i] = l
	}
	out.Cards = append([]domain.Card(nil), s.Cards...)
	return out
}
