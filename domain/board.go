package domain

// Visibility controls who can read a board.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Label is a colored tag defined on a board and attached to cards.
type Label struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Hex   string `json:"hex"`
}

// Board is the top-level container owning an ordered set of lists.
type Board struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Visibility   Visibility `json:"visibility"`
	OwnerID      string     `json:"ownerId"`
	AdminIDs     []string   `json:"adminIds"`
	MemberIDs    []string   `json:"memberIds"`
	ListOrderIDs OrderedIDs `json:"listOrderIds"`
	Labels       []Label    `json:"labels,omitempty"`
	Deleted      bool       `json:"deleted,omitempty"`
}

// List is a column owning an ordered set of cards. BoardID is immutable
// after creation.
type List struct {
	ID           string     `json:"id"`
	BoardID      string     `json:"boardId"`
	Title        string     `json:"title"`
	CardOrderIDs OrderedIDs `json:"cardOrderIds"`
	Deleted      bool       `json:"deleted,omitempty"`
}

// Card is a unit of work. ListID is the single source of truth for which
// list owns the card and must agree with exactly one list's CardOrderIDs.
type Card struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	ListID  string `json:"listId"`
	Title   string `json:"title"`
	Deleted bool   `json:"deleted,omitempty"`
}

// BoardAggregate is a board together with its lists and cards, each carrying
// its own order array. It is the unit served by the aggregate read path.
type BoardAggregate struct {
	Board Board  `json:"board"`
	Lists []List `json:"lists"`
	Cards []Card `json:"cards"`
}

// IsAdmin reports whether the user administers the board.
func (b *Board) IsAdmin(userID string) bool {
	for _, id := range b.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsMember reports whether the user may mutate the board. Admins are members.
func (b *Board) IsMember(userID string) bool {
	if b.IsAdmin(userID) {
		return true
	}
	for _, id := range b.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// FindList returns the list with the given id, or nil.
func (a *BoardAggregate) FindList(listID string) *List {
	for i := range a.Lists {
		if a.Lists[i].ID == listID {
			return &a.Lists[i]
		}
	}
	return nil
}

// FindCard returns the card with the given id, or nil.
func (a *BoardAggregate) FindCard(cardID string) *Card {
	for i := range a.Cards {
		if a.Cards[i].ID == cardID {
			return &a.Cards[i]
		}
	}
	return nil
}

// ListByCardID returns the list owning the card per the card's ListID.
func (a *BoardAggregate) ListByCardID(cardID string) *List {
	card := a.FindCard(cardID)
	if card == nil {
		return nil
	}
	return a.FindList(card.ListID)
}
