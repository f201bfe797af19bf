package api

import (
	"context"

	"kanban-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	GetBoardWithOrder(ctx context.Context, boardID string, includeClosed bool) (*domain.BoardAggregate, error)
	SetListOrder(ctx context.Context, boardID string, order domain.OrderedIDs) error
	SetCardOrder(ctx context.Context, boardID, listID string, order domain.OrderedIDs) error
	ApplyCardMove(ctx context.Context, boardID string, plan domain.MovePlan) error
	Repair(ctx context.Context, boardID string) (bool, error)
	CreateBoard(ctx context.Context, board domain.Board) error
	CreateList(ctx context.Context, list domain.List) error
	CreateCard(ctx context.Context, card domain.Card) error
	DeleteList(ctx context.Context, boardID, listID string, hard bool) error
	DeleteCard(ctx context.Context, boardID, cardID string, hard bool) error
	ReopenList(ctx context.Context, boardID, listID string) error
	ReopenCard(ctx context.Context, boardID, cardID string) error
	EnqueueBoardEvents(ctx context.Context, userID string, events []domain.BoardEvent) error
}

// NotFoundError is returned by Storage when a referenced board, list or
// card does not exist.
type NotFoundError interface {
	error
	NotFound()
}

// ConflictError is returned by Storage when a write lost a
// compare-and-swap race; the client should refetch and retry.
type ConflictError interface {
	error
	ConcurrentOverwrite()
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents reprocessing of duplicate mutation requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
