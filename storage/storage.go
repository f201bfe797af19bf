package storage

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

const (
	defaultQueueConcurrency = 10
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides durable access to board aggregates. All rows of a board
// live in one table partition keyed by the board id, which keeps the
// multi-row writes of a cross-list card move inside a single transaction.
type Storage struct {
	items            *aztables.Client
	queue            queueClient
	queueConcurrency int
}

// New creates a Storage instance from the given connection string.
func New(connStr, itemsTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		items:            svc.NewClient(itemsTable),
		queue:            q,
		queueConcurrency: queueConcurrencyForCPU(runtime.NumCPU()),
	}, nil
}

func queueConcurrencyForCPU(cpu int) int {
	if cpu <= 0 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

// loadPartition reads every row of a board partition.
func (s *Storage) loadPartition(ctx context.Context, boardID string) ([][]byte, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.items.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	rows := [][]byte{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			rows = append(rows, e)
		}
	}
	return rows, nil
}

func (s *Storage) loadAggregate(ctx context.Context, boardID string) (*domain.BoardAggregate, rowETags, error) {
	rows, err := s.loadPartition(ctx, boardID)
	if err != nil {
		return nil, nil, err
	}
	return buildAggregate(boardID, rows)
}

// GetBoardWithOrder returns the board aggregate: the board, its lists and
// cards, each carrying its order array. Soft-deleted lists and cards are
// excluded unless includeClosed is set. The repair pass runs on every read;
// any divergence it finds is healed in the returned aggregate and persisted
// best effort.
func (s *Storage) GetBoardWithOrder(ctx context.Context, boardID string, includeClosed bool) (*domain.BoardAggregate, error) {
	agg, etags, err := s.loadAggregate(ctx, boardID)
	if err != nil {
		return nil, err
	}

	if domain.RepairAggregate(agg) {
		if repairErr := s.persistOrders(ctx, agg, etags); repairErr != nil {
			log.WithError(repairErr).WithField("board", boardID).Warn("board repair persist failed")
		}
	}

	if includeClosed {
		return agg, nil
	}

	open := &domain.BoardAggregate{Board: agg.Board}
	for _, l := range agg.Lists {
		if !l.Deleted {
			open.Lists = append(open.Lists, l)
		}
	}
	for _, c := range agg.Cards {
		if !c.Deleted {
			open.Cards = append(open.Cards, c)
		}
	}
	return open, nil
}

// persistOrders writes the board's list order and every non-deleted list's
// card order in one transaction, guarded by the ETags observed at read
// time. A lost race simply means another writer got there first; the next
// read repairs again.
func (s *Storage) persistOrders(ctx context.Context, agg *domain.BoardAggregate, etags rowETags) error {
	actions := make([]aztables.TransactionAction, 0, len(agg.Lists)+1)

	boardOrder, err := domain.EncodeOrder(agg.Board.ListOrderIDs)
	if err != nil {
		return err
	}
	action, err := mergeOrderAction(orderUpdate{
		entity:       entity{PartitionKey: agg.Board.ID, RowKey: rkBoard},
		ListOrderIDs: &boardOrder,
	}, etags[rkBoard])
	if err != nil {
		return err
	}
	actions = append(actions, action)

	for _, l := range agg.Lists {
		if l.Deleted {
			continue
		}
		cardOrder, err := domain.EncodeOrder(l.CardOrderIDs)
		if err != nil {
			return err
		}
		rk := listRowKey(l.ID)
		action, err := mergeOrderAction(orderUpdate{
			entity:       entity{PartitionKey: agg.Board.ID, RowKey: rk},
			CardOrderIDs: &cardOrder,
		}, etags[rk])
		if err != nil {
			return err
		}
		actions = append(actions, action)
	}

	_, err = s.items.SubmitTransaction(ctx, actions, nil)
	return mapEntityError(err, "board", agg.Board.ID)
}

func mergeOrderAction(upd orderUpdate, etag string) (aztables.TransactionAction, error) {
	payload, err := json.Marshal(upd)
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	action := aztables.TransactionAction{
		ActionType: aztables.TransactionTypeUpdateMerge,
		Entity:     payload,
	}
	if etag != "" {
		et := azcore.ETag(etag)
		action.IfMatch = &et
	}
	return action, nil
}

// casMerge merges a partial update into one row, compare-and-swapped
// against the row's current ETag.
func (s *Storage) casMerge(ctx context.Context, kind, id, pk, rk string, upd any) error {
	resp, err := s.items.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		return mapEntityError(err, kind, id)
	}
	var cur entity
	if err := json.Unmarshal(resp.Value, &cur); err != nil {
		return err
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETag(cur.ETag)
	if cur.ETag == "" {
		et = azcore.ETagAny
	}
	_, err = s.items.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &et,
		UpdateMode: aztables.UpdateModeMerge,
	})
	return mapEntityError(err, kind, id)
}

// SetListOrder replaces a board's list order.
func (s *Storage) SetListOrder(ctx context.Context, boardID string, order domain.OrderedIDs) error {
	encoded, err := domain.EncodeOrder(order)
	if err != nil {
		return err
	}
	return s.casMerge(ctx, "board", boardID, boardID, rkBoard, orderUpdate{
		entity:       entity{PartitionKey: boardID, RowKey: rkBoard},
		ListOrderIDs: &encoded,
	})
}

// SetCardOrder replaces one list's card order.
func (s *Storage) SetCardOrder(ctx context.Context, boardID, listID string, order domain.OrderedIDs) error {
	encoded, err := domain.EncodeOrder(order)
	if err != nil {
		return err
	}
	return s.casMerge(ctx, "list", listID, boardID, listRowKey(listID), orderUpdate{
		entity:       entity{PartitionKey: boardID, RowKey: listRowKey(listID)},
		CardOrderIDs: &encoded,
	})
}

// SetCardListID reassigns a card's owning list.
func (s *Storage) SetCardListID(ctx context.Context, boardID, cardID, newListID string) error {
	return s.casMerge(ctx, "card", cardID, boardID, cardRowKey(cardID), cardUpdate{
		entity: entity{PartitionKey: boardID, RowKey: cardRowKey(cardID)},
		ListID: &newListID,
	})
}

// ApplyCardMove persists a planned card move. A same-list move is a single
// order replacement; a cross-list move updates both lists' orders and the
// card's owning list in one partition transaction, so no reader ever
// observes the three writes half-applied.
func (s *Storage) ApplyCardMove(ctx context.Context, boardID string, plan domain.MovePlan) error {
	if plan.NoOp {
		return nil
	}
	if !plan.CrossList {
		return s.SetCardOrder(ctx, boardID, plan.SourceListID, plan.SourceCardOrderIDs)
	}

	sourceRK := listRowKey(plan.SourceListID)
	targetRK := listRowKey(plan.TargetListID)
	cardRK := cardRowKey(plan.CardID)

	etags := make(rowETags, 3)
	for _, row := range []struct{ kind, id, rk string }{
		{"list", plan.SourceListID, sourceRK},
		{"list", plan.TargetListID, targetRK},
		{"card", plan.CardID, cardRK},
	} {
		resp, err := s.items.GetEntity(ctx, boardID, row.rk, nil)
		if err != nil {
			return mapEntityError(err, row.kind, row.id)
		}
		var cur entity
		if err := json.Unmarshal(resp.Value, &cur); err != nil {
			return err
		}
		etags[row.rk] = cur.ETag
	}

	sourceOrder, err := domain.EncodeOrder(plan.SourceCardOrderIDs)
	if err != nil {
		return err
	}
	targetOrder, err := domain.EncodeOrder(plan.TargetCardOrderIDs)
	if err != nil {
		return err
	}

	sourceAction, err := mergeOrderAction(orderUpdate{
		entity:       entity{PartitionKey: boardID, RowKey: sourceRK},
		CardOrderIDs: &sourceOrder,
	}, etags[sourceRK])
	if err != nil {
		return err
	}
	targetAction, err := mergeOrderAction(orderUpdate{
		entity:       entity{PartitionKey: boardID, RowKey: targetRK},
		CardOrderIDs: &targetOrder,
	}, etags[targetRK])
	if err != nil {
		return err
	}
	cardPayload, err := json.Marshal(cardUpdate{
		entity: entity{PartitionKey: boardID, RowKey: cardRK},
		ListID: &plan.NewListID,
	})
	if err != nil {
		return err
	}
	cardET := azcore.ETag(etags[cardRK])

	_, err = s.items.SubmitTransaction(ctx, []aztables.TransactionAction{
		sourceAction,
		targetAction,
		{ActionType: aztables.TransactionTypeUpdateMerge, Entity: cardPayload, IfMatch: &cardET},
	}, nil)
	return mapEntityError(err, "card", plan.CardID)
}

// Repair reloads the full partition, heals any divergence between order
// arrays and entity ownership and persists the result. It reports whether
// anything had to change and is safe to run repeatedly.
func (s *Storage) Repair(ctx context.Context, boardID string) (bool, error) {
	agg, etags, err := s.loadAggregate(ctx, boardID)
	if err != nil {
		return false, err
	}
	if !domain.RepairAggregate(agg) {
		return false, nil
	}
	if err := s.persistOrders(ctx, agg, etags); err != nil {
		return true, err
	}
	return true, nil
}

// CreateBoard persists a new board row.
func (s *Storage) CreateBoard(ctx context.Context, board domain.Board) error {
	payload, err := encodeBoardEntity(board)
	if err != nil {
		return err
	}
	_, err = s.items.AddEntity(ctx, payload, nil)
	return mapEntityError(err, "board", board.ID)
}

// CreateList inserts a list row and appends its id to the board's list
// order as one transaction.
func (s *Storage) CreateList(ctx context.Context, list domain.List) error {
	resp, err := s.items.GetEntity(ctx, list.BoardID, rkBoard, nil)
	if err != nil {
		return mapEntityError(err, "board", list.BoardID)
	}
	board, etag, err := decodeBoardEntity(resp.Value)
	if err != nil {
		return err
	}

	listPayload, err := encodeListEntity(list)
	if err != nil {
		return err
	}
	newOrder, err := domain.EncodeOrder(append(board.ListOrderIDs.Clone(), list.ID))
	if err != nil {
		return err
	}
	boardAction, err := mergeOrderAction(orderUpdate{
		entity:       entity{PartitionKey: list.BoardID, RowKey: rkBoard},
		ListOrderIDs: &newOrder,
	}, etag)
	if err != nil {
		return err
	}

	_, err = s.items.SubmitTransaction(ctx, []aztables.TransactionAction{
		{ActionType: aztables.TransactionTypeAdd, Entity: listPayload},
		boardAction,
	}, nil)
	return mapEntityError(err, "list", list.ID)
}

// CreateCard inserts a card row and appends its id to the owning list's
// card order as one transaction.
func (s *Storage) CreateCard(ctx context.Context, card domain.Card) error {
	rk := listRowKey(card.ListID)
	resp, err := s.items.GetEntity(ctx, card.BoardID, rk, nil)
	if err != nil {
		return mapEntityError(err, "list", card.ListID)
	}
	list, etag, err := decodeListEntity(resp.Value)
	if err != nil {
		return err
	}

	cardPayload, err := encodeCardEntity(card)
	if err != nil {
		return err
	}
	newOrder, err := domain.EncodeOrder(append(list.CardOrderIDs.Clone(), card.ID))
	if err != nil {
		return err
	}
	listAction, err := mergeOrderAction(orderUpdate{
		entity:       entity{PartitionKey: card.BoardID, RowKey: rk},
		CardOrderIDs: &newOrder,
	}, etag)
	if err != nil {
		return err
	}

	_, err = s.items.SubmitTransaction(ctx, []aztables.TransactionAction{
		{ActionType: aztables.TransactionTypeAdd, Entity: cardPayload},
		listAction,
	}, nil)
	return mapEntityError(err, "card", card.ID)
}

// DeleteList soft-deletes a list (flagging its cards too, keeping every
// order array for a later reopen) or hard-deletes it along with its cards.
// Either way the list id is pulled from the board's list order, all within
// one transaction.
func (s *Storage) DeleteList(ctx context.Context, boardID, listID string, hard bool) error {
	agg, etags, err := s.loadAggregate(ctx, boardID)
	if err != nil {
		return err
	}
	list := agg.FindList(listID)
	if list == nil {
		return &NotFoundError{Kind: "list", ID: listID}
	}

	newOrder, err := domain.EncodeOrder(agg.Board.ListOrderIDs.RemoveID(listID))
	if err != nil {
		return err
	}
	boardAction, err := mergeOrderAction(orderUpdate{
		entity:       entity{PartitionKey: boardID, RowKey: rkBoard},
		ListOrderIDs: &newOrder,
	}, etags[rkBoard])
	if err != nil {
		return err
	}
	actions := []aztables.TransactionAction{boardAction}

	if hard {
		actions = append(actions, deleteAction(boardID, listRowKey(listID), etags[listRowKey(listID)]))
		for _, c := range agg.Cards {
			if c.ListID == listID {
				actions = append(actions, deleteAction(boardID, cardRowKey(c.ID), etags[cardRowKey(c.ID)]))
			}
		}
	} else {
		flag, err := flagAction(boardID, listRowKey(listID), true, etags[listRowKey(listID)])
		if err != nil {
			return err
		}
		actions = append(actions, flag)
		for _, c := range agg.Cards {
			if c.ListID == listID && !c.Deleted {
				flag, err := flagAction(boardID, cardRowKey(c.ID), true, etags[cardRowKey(c.ID)])
				if err != nil {
					return err
				}
				actions = append(actions, flag)
			}
		}
	}

	_, err = s.items.SubmitTransaction(ctx, actions, nil)
	return mapEntityError(err, "list", listID)
}

// DeleteCard soft- or hard-deletes a card, pulling it from the owning
// list's card order in the same transaction.
func (s *Storage) DeleteCard(ctx context.Context, boardID, cardID string, hard bool) error {
	resp, err := s.items.GetEntity(ctx, boardID, cardRowKey(cardID), nil)
	if err != nil {
		return mapEntityError(err, "card", cardID)
	}
	card, cardETag, err := decodeCardEntity(resp.Value)
	if err != nil {
		return err
	}

	listRK := listRowKey(card.ListID)
	listResp, err := s.items.GetEntity(ctx, boardID, listRK, nil)
	if err != nil {
		return mapEntityError(err, "list", card.ListID)
	}
	list, listETag, err := decodeListEntity(listResp.Value)
	if err != nil {
		return err
	}

	newOrder, err := domain.EncodeOrder(list.CardOrderIDs.RemoveID(cardID))
	if err != nil {
		return err
	}
	listAction, err := mergeOrderAction(orderUpdate{
		entity:       entity{PartitionKey: boardID, RowKey: listRK},
		CardOrderIDs: &newOrder,
	}, listETag)
	if err != nil {
		return err
	}

	var cardAction aztables.TransactionAction
	if hard {
		cardAction = deleteAction(boardID, cardRowKey(cardID), cardETag)
	} else {
		cardAction, err = flagAction(boardID, cardRowKey(cardID), true, cardETag)
		if err != nil {
			return err
		}
	}

	_, err = s.items.SubmitTransaction(ctx, []aztables.TransactionAction{listAction, cardAction}, nil)
	return mapEntityError(err, "card", cardID)
}

// ReopenList clears a list's deleted flag and appends it back to the end of
// the board's list order. Resurrection always appends; the original slot is
// not restored.
func (s *Storage) ReopenList(ctx context.Context, boardID, listID string) error {
	agg, etags, err := s.loadAggregate(ctx, boardID)
	if err != nil {
		return err
	}
	list := agg.FindList(listID)
	if list == nil {
		return &NotFoundError{Kind: "list", ID: listID}
	}

	flag, err := flagAction(boardID, listRowKey(listID), false, etags[listRowKey(listID)])
	if err != nil {
		return err
	}
	actions := []aztables.TransactionAction{flag}

	if !agg.Board.ListOrderIDs.Contains(listID) {
		newOrder, err := domain.EncodeOrder(append(agg.Board.ListOrderIDs.Clone(), listID))
		if err != nil {
			return err
		}
		boardAction, err := mergeOrderAction(orderUpdate{
			entity:       entity{PartitionKey: boardID, RowKey: rkBoard},
			ListOrderIDs: &newOrder,
		}, etags[rkBoard])
		if err != nil {
			return err
		}
		actions = append(actions, boardAction)
	}

	for _, c := range agg.Cards {
		if c.ListID == listID && c.Deleted {
			flag, err := flagAction(boardID, cardRowKey(c.ID), false, etags[cardRowKey(c.ID)])
			if err != nil {
				return err
			}
			actions = append(actions, flag)
		}
	}

	_, err = s.items.SubmitTransaction(ctx, actions, nil)
	return mapEntityError(err, "list", listID)
}

// ReopenCard clears a card's deleted flag and appends it back to its list's
// card order when absent.
func (s *Storage) ReopenCard(ctx context.Context, boardID, cardID string) error {
	resp, err := s.items.GetEntity(ctx, boardID, cardRowKey(cardID), nil)
	if err != nil {
		return mapEntityError(err, "card", cardID)
	}
	card, cardETag, err := decodeCardEntity(resp.Value)
	if err != nil {
		return err
	}

	flag, err := flagAction(boardID, cardRowKey(cardID), false, cardETag)
	if err != nil {
		return err
	}
	actions := []aztables.TransactionAction{flag}

	listRK := listRowKey(card.ListID)
	listResp, err := s.items.GetEntity(ctx, boardID, listRK, nil)
	if err != nil {
		return mapEntityError(err, "list", card.ListID)
	}
	list, listETag, err := decodeListEntity(listResp.Value)
	if err != nil {
		return err
	}
	if !list.CardOrderIDs.Contains(cardID) {
		newOrder, err := domain.EncodeOrder(append(list.CardOrderIDs.Clone(), cardID))
		if err != nil {
			return err
		}
		listAction, err := mergeOrderAction(orderUpdate{
			entity:       entity{PartitionKey: boardID, RowKey: listRK},
			CardOrderIDs: &newOrder,
		}, listETag)
		if err != nil {
			return err
		}
		actions = append(actions, listAction)
	}

	_, err = s.items.SubmitTransaction(ctx, actions, nil)
	return mapEntityError(err, "card", cardID)
}

func deleteAction(pk, rk, etag string) aztables.TransactionAction {
	payload, _ := json.Marshal(entity{PartitionKey: pk, RowKey: rk})
	action := aztables.TransactionAction{
		ActionType: aztables.TransactionTypeDelete,
		Entity:     payload,
	}
	if etag != "" {
		et := azcore.ETag(etag)
		action.IfMatch = &et
	}
	return action
}

func flagAction(pk, rk string, deleted bool, etag string) (aztables.TransactionAction, error) {
	payload, err := json.Marshal(deletedUpdate{
		entity:      entity{PartitionKey: pk, RowKey: rk},
		Deleted:     deleted,
		DeletedType: edmBoolean,
	})
	if err != nil {
		return aztables.TransactionAction{}, err
	}
	action := aztables.TransactionAction{
		ActionType: aztables.TransactionTypeUpdateMerge,
		Entity:     payload,
	}
	if etag != "" {
		et := azcore.ETag(etag)
		action.IfMatch = &et
	}
	return action, nil
}

// EnqueueBoardEvents fans mutation events out to the board events queue so
// other connected clients refetch. Messages are sent in parallel, bounded
// by the configured concurrency.
func (s *Storage) EnqueueBoardEvents(ctx context.Context, userID string, events []domain.BoardEvent) error {
	if len(events) == 0 {
		return nil
	}

	sem := make(chan struct{}, s.queueConcurrency)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, ev := range events {
		env := domain.BoardEventEnvelope{UserID: userID, Event: ev}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(content string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.queue.EnqueueMessage(ctx, content, nil); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(string(data))
	}
	wg.Wait()
	return firstErr
}
