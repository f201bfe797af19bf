package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"kanban-api/domain"
)

// Row keys inside a board partition. All rows of one board share
// PartitionKey == boardID so multi-row writes can use one transaction.
const (
	rkBoard      = "board"
	rkListPrefix = "list:"
	rkCardPrefix = "card:"
)

const edmBoolean = "Edm.Boolean"

type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	ETag         string `json:"odata.etag,omitempty"`
}

type boardEntity struct {
	entity
	Title        string `json:"Title"`
	Visibility   string `json:"Visibility"`
	OwnerID      string `json:"OwnerId"`
	AdminIDs     string `json:"AdminIds"`
	MemberIDs    string `json:"MemberIds"`
	ListOrderIDs string `json:"ListOrderIds"`
	Labels       string `json:"Labels,omitempty"`
	Deleted      bool   `json:"Deleted"`
	DeletedType  string `json:"Deleted@odata.type,omitempty"`
}

type listEntity struct {
	entity
	Title        string `json:"Title"`
	CardOrderIDs string `json:"CardOrderIds"`
	Deleted      bool   `json:"Deleted"`
	DeletedType  string `json:"Deleted@odata.type,omitempty"`
}

type cardEntity struct {
	entity
	Title       string `json:"Title"`
	ListID      string `json:"ListId"`
	Deleted     bool   `json:"Deleted"`
	DeletedType string `json:"Deleted@odata.type,omitempty"`
}

// Partial updates carry only the fields being merged.

type orderUpdate struct {
	entity
	ListOrderIDs *string `json:"ListOrderIds,omitempty"`
	CardOrderIDs *string `json:"CardOrderIds,omitempty"`
}

type cardUpdate struct {
	entity
	ListID      *string `json:"ListId,omitempty"`
	Deleted     *bool   `json:"Deleted,omitempty"`
	DeletedType *string `json:"Deleted@odata.type,omitempty"`
}

type deletedUpdate struct {
	entity
	Deleted     bool   `json:"Deleted"`
	DeletedType string `json:"Deleted@odata.type"`
}

func listRowKey(listID string) string { return rkListPrefix + listID }
func cardRowKey(cardID string) string { return rkCardPrefix + cardID }

func encodeBoardEntity(b domain.Board) ([]byte, error) {
	admins, err := json.Marshal(b.AdminIDs)
	if err != nil {
		return nil, err
	}
	members, err := json.Marshal(b.MemberIDs)
	if err != nil {
		return nil, err
	}
	order, err := domain.EncodeOrder(b.ListOrderIDs)
	if err != nil {
		return nil, err
	}
	labels := ""
	if len(b.Labels) > 0 {
		data, err := json.Marshal(b.Labels)
		if err != nil {
			return nil, err
		}
		labels = string(data)
	}
	return json.Marshal(boardEntity{
		entity:       entity{PartitionKey: b.ID, RowKey: rkBoard},
		Title:        b.Title,
		Visibility:   string(b.Visibility),
		OwnerID:      b.OwnerID,
		AdminIDs:     string(admins),
		MemberIDs:    string(members),
		ListOrderIDs: order,
		Labels:       labels,
		Deleted:      b.Deleted,
		DeletedType:  edmBoolean,
	})
}

func encodeListEntity(l domain.List) ([]byte, error) {
	order, err := domain.EncodeOrder(l.CardOrderIDs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(listEntity{
		entity:       entity{PartitionKey: l.BoardID, RowKey: listRowKey(l.ID)},
		Title:        l.Title,
		CardOrderIDs: order,
		Deleted:      l.Deleted,
		DeletedType:  edmBoolean,
	})
}

func encodeCardEntity(c domain.Card) ([]byte, error) {
	return json.Marshal(cardEntity{
		entity:      entity{PartitionKey: c.BoardID, RowKey: cardRowKey(c.ID)},
		Title:       c.Title,
		ListID:      c.ListID,
		Deleted:     c.Deleted,
		DeletedType: edmBoolean,
	})
}

func decodeBoardEntity(data []byte) (domain.Board, string, error) {
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, "", err
	}
	var admins, members []string
	if ent.AdminIDs != "" {
		if err := json.Unmarshal([]byte(ent.AdminIDs), &admins); err != nil {
			return domain.Board{}, "", fmt.Errorf("board %s admin ids: %w", ent.PartitionKey, err)
		}
	}
	if ent.MemberIDs != "" {
		if err := json.Unmarshal([]byte(ent.MemberIDs), &members); err != nil {
			return domain.Board{}, "", fmt.Errorf("board %s member ids: %w", ent.PartitionKey, err)
		}
	}
	order, err := domain.DecodeOrder(ent.ListOrderIDs)
	if err != nil {
		return domain.Board{}, "", fmt.Errorf("board %s list order: %w", ent.PartitionKey, err)
	}
	var labels []domain.Label
	if ent.Labels != "" {
		if err := json.Unmarshal([]byte(ent.Labels), &labels); err != nil {
			return domain.Board{}, "", fmt.Errorf("board %s labels: %w", ent.PartitionKey, err)
		}
	}
	return domain.Board{
		ID:           ent.PartitionKey,
		Title:        ent.Title,
		Visibility:   domain.Visibility(ent.Visibility),
		OwnerID:      ent.OwnerID,
		AdminIDs:     admins,
		MemberIDs:    members,
		ListOrderIDs: order,
		Labels:       labels,
		Deleted:      ent.Deleted,
	}, ent.ETag, nil
}

func decodeListEntity(data []byte) (domain.List, string, error) {
	var ent listEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.List{}, "", err
	}
	listID := strings.TrimPrefix(ent.RowKey, rkListPrefix)
	order, err := domain.DecodeOrder(ent.CardOrderIDs)
	if err != nil {
		return domain.List{}, "", fmt.Errorf("list %s card order: %w", listID, err)
	}
	return domain.List{
		ID:           listID,
		BoardID:      ent.PartitionKey,
		Title:        ent.Title,
		CardOrderIDs: order,
		Deleted:      ent.Deleted,
	}, ent.ETag, nil
}

func decodeCardEntity(data []byte) (domain.Card, string, error) {
	var ent cardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Card{}, "", err
	}
	return domain.Card{
		ID:      strings.TrimPrefix(ent.RowKey, rkCardPrefix),
		BoardID: ent.PartitionKey,
		ListID:  ent.ListID,
		Title:   ent.Title,
		Deleted: ent.Deleted,
	}, ent.ETag, nil
}

// rowETags tracks per-row ETags gathered while assembling an aggregate,
// keyed by RowKey. They back the compare-and-swap on later writes.
type rowETags map[string]string

// buildAggregate assembles a board aggregate from raw partition rows.
func buildAggregate(boardID string, rows [][]byte) (*domain.BoardAggregate, rowETags, error) {
	agg := &domain.BoardAggregate{}
	etags := make(rowETags)
	seenBoard := false

	for _, row := range rows {
		var peek entity
		if err := json.Unmarshal(row, &peek); err != nil {
			return nil, nil, err
		}
		switch {
		case peek.RowKey == rkBoard:
			board, etag, err := decodeBoardEntity(row)
			if err != nil {
				return nil, nil, err
			}
			agg.Board = board
			etags[rkBoard] = etag
			seenBoard = true
		case strings.HasPrefix(peek.RowKey, rkListPrefix):
			list, etag, err := decodeListEntity(row)
			if err != nil {
				return nil, nil, err
			}
			agg.Lists = append(agg.Lists, list)
			etags[peek.RowKey] = etag
		case strings.HasPrefix(peek.RowKey, rkCardPrefix):
			card, etag, err := decodeCardEntity(row)
			if err != nil {
				return nil, nil, err
			}
			agg.Cards = append(agg.Cards, card)
			etags[peek.RowKey] = etag
		default:
			// Unknown rows are tolerated so the schema can grow.
		}
	}

	if !seenBoard {
		return nil, nil, &NotFoundError{Kind: "board", ID: boardID}
	}
	return agg, etags, nil
}
