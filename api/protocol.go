package api

import "kanban-api/domain"

const mutationMaxSize = 64 * 1024 // 64 KiB

// PUT /api/boards/:boardId request body.
type setListOrderRequest struct {
	ListOrderIDs domain.OrderedIDs `json:"listOrderIds"`
}

// PUT /api/lists/:listId request body.
type setCardOrderRequest struct {
	BoardID      string            `json:"boardId"`
	CardOrderIDs domain.OrderedIDs `json:"cardOrderIds"`
}

// PUT /api/boards/:boardId/moving-card request body. Mirrors the three
// writes of a cross-list move: both lists' orders plus the card's new home.
type movingCardRequest struct {
	CardID           string            `json:"cardId"`
	PrevListID       string            `json:"prevListId"`
	PrevCardOrderIDs domain.OrderedIDs `json:"prevCardOrderIds"`
	NextListID       string            `json:"nextListId"`
	NextCardOrderIDs domain.OrderedIDs `json:"nextCardOrderIds"`
}

type mutationResponse struct {
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Error          string `json:"error,omitempty"`
}

type repairResponse struct {
	Repaired bool `json:"repaired"`
}

// POST /api/boards request body.
type createBoardRequest struct {
	Title      string `json:"title"`
	Visibility string `json:"visibility"`
}

// POST /api/boards/:boardId/lists request body.
type createListRequest struct {
	Title string `json:"title"`
}

// POST /api/lists/:listId/cards request body.
type createCardRequest struct {
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
}
