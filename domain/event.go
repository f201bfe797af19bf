package domain

import "github.com/bytedance/sonic"

// Board event types fanned out to connected clients after a completed write.
const (
	EventListOrderChanged = "list-order-changed"
	EventCardOrderChanged = "card-order-changed"
	EventCardMoved        = "card-moved"
	EventBoardChanged     = "board-changed"
)

// BoardEvent notifies other clients that a board mutated and a refetch of
// the aggregate is due.
type BoardEvent struct {
	// ID carries the idempotency key when enqueued to the board events queue.
	ID             string                 `json:"id,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	BoardID        string                 `json:"boardId"`
	Type           string                 `json:"type"`
	Data           sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp      int64                  `json:"timestamp"`
}

// BoardEventEnvelope wraps an event with the user that caused it.
type BoardEventEnvelope struct {
	UserID string     `json:"userId"`
	Event  BoardEvent `json:"event"`
}
