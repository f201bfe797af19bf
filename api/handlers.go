package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/api/boards/:boardId", getBoard(store, auth, logger))
	e.PUT("/api/boards/:boardId", putListOrder(store, auth, deduper))
	e.PUT("/api/lists/:listId", putCardOrder(store, auth, deduper))
	e.PUT("/api/boards/:boardId/moving-card", putMovingCard(store, auth, deduper))
	e.POST("/api/boards/:boardId/repair", postRepair(store, auth))

	e.POST("/api/boards", postBoard(store, auth))
	e.POST("/api/boards/:boardId/lists", postList(store, auth))
	e.POST("/api/lists/:listId/cards", postCard(store, auth))
	e.DELETE("/api/boards/:boardId/lists/:listId", removeList(store, auth))
	e.DELETE("/api/boards/:boardId/cards/:cardId", removeCard(store, auth))
	e.POST("/api/boards/:boardId/lists/:listId/reopen", reopenList(store, auth))
	e.POST("/api/boards/:boardId/cards/:cardId/reopen", reopenCard(store, auth))

	e.GET("/healthz", healthz(store))

	initEventSender(store, logger)
}

func healthz(_ Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// authorize extracts the user from the Authorization header and loads the
// board, rejecting callers who are not members. The full aggregate (closed
// items included) is returned for further validation.
func authorize(c echo.Context, store Storage, auth Authenticator) (string, *domain.BoardAggregate, int, error) {
	userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
	if err != nil {
		return "", nil, http.StatusUnauthorized, err
	}
	boardID := c.Param("boardId")
	if boardID == "" {
		return "", nil, http.StatusBadRequest, errors.New("missing board id")
	}
	agg, err := store.GetBoardWithOrder(c.Request().Context(), boardID, true)
	if err != nil {
		var nf NotFoundError
		if errors.As(err, &nf) {
			return "", nil, http.StatusNotFound, err
		}
		return "", nil, http.StatusInternalServerError, err
	}
	if !agg.Board.IsMember(userID) {
		return "", nil, http.StatusForbidden, errors.New("not a board member")
	}
	return userID, agg, http.StatusOK, nil
}

// decodeBody decodes a size-limited JSON request body, rejecting unknown
// fields.
func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, mutationMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeStatus maps storage errors onto the response contract: 404 when the
// entity vanished mid-drag, 409 when a compare-and-swap lost so the client
// refetches, 500 otherwise.
func writeStatus(c echo.Context, err error) error {
	var nf NotFoundError
	if errors.As(err, &nf) {
		return c.JSON(http.StatusNotFound, mutationResponse{Error: err.Error()})
	}
	var conflict ConflictError
	if errors.As(err, &conflict) {
		return c.JSON(http.StatusConflict, mutationResponse{Error: "concurrent overwrite, refetch board"})
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, mutationResponse{Error: "operation failed"})
}

// dedupe claims the request's idempotency key. When the key was seen
// before, ok is false and the caller replies without re-applying the write.
func dedupe(ctx context.Context, deduper Deduper, c echo.Context, userID string) (key string, fresh bool, err error) {
	key = c.Request().Header.Get("Idempotency-Key")
	if key == "" {
		key = uuid.NewString()
	}
	if deduper == nil {
		return key, true, nil
	}
	fresh, err = deduper.Add(ctx, userID, key)
	return key, fresh, err
}

func rollbackDedupe(ctx context.Context, deduper Deduper, c echo.Context, userID, key string) {
	if deduper == nil {
		return
	}
	if err := deduper.Remove(ctx, userID, key); err != nil {
		c.Logger().Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", err, key, userID)
	}
}

func getBoard(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newBoardRequestMetrics(ctx, logger)
		if spanCtx != nil {
			req := c.Request().WithContext(spanCtx)
			c.SetRequest(req)
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		includeClosed := c.QueryParam("includeClosed") == "true"
		metrics.SetIncludeClosed(includeClosed)

		fetchStart := time.Now()
		agg, fetchErr := store.GetBoardWithOrder(ctx, c.Param("boardId"), includeClosed)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			var nf NotFoundError
			if errors.As(fetchErr, &nf) {
				metrics.SetErrorStage("not_found")
				err = c.String(http.StatusNotFound, fetchErr.Error())
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, "failed to load board")
			return err
		}
		if !agg.Board.IsMember(userID) && agg.Board.Visibility != domain.VisibilityPublic {
			metrics.SetErrorStage("membership")
			err = c.String(http.StatusForbidden, "not a board member")
			return err
		}
		metrics.SetListsReturned(len(agg.Lists))
		metrics.SetCardsReturned(len(agg.Cards))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, agg)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func putListOrder(store Storage, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, agg, status, err := authorize(c, store, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		ctx := c.Request().Context()

		var req setListOrderRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		order := domain.WithoutPlaceholders(req.ListOrderIDs)

		key, fresh, err := dedupe(ctx, deduper, c, userID)
		if err != nil {
			return writeStatus(c, err)
		}
		if !fresh {
			return c.JSON(http.StatusOK, mutationResponse{IdempotencyKey: key})
		}

		// No-op reorders never reach storage.
		if agg.Board.ListOrderIDs.Equal(order) {
			return c.JSON(http.StatusOK, mutationResponse{IdempotencyKey: key})
		}

		if err := store.SetListOrder(ctx, agg.Board.ID, order); err != nil {
			rollbackDedupe(ctx, deduper, c, userID, key)
			return writeStatus(c, err)
		}

		publishEvents(userID, boardEvent(agg.Board.ID, key, domain.EventListOrderChanged))
		return c.JSON(http.StatusOK, mutationResponse{IdempotencyKey: key})
	}
}

func putCardOrder(store Storage, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		listID := c.Param("listId")

		var req setCardOrderRequest
		if err := decodeBody(c, &req); err != nil || req.BoardID == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		order := domain.WithoutPlaceholders(req.CardOrderIDs)

		agg, err := store.GetBoardWithOrder(ctx, req.BoardID, true)
		if err != nil {
			return writeStatus(c, err)
		}
		if !agg.Board.IsMember(userID) {
			return c.String(http.StatusForbidden, "not a board member")
		}
		list := agg.FindList(listID)
		if list == nil {
			return c.String(http.StatusNotFound, "list not found")
		}

		key, fresh, err := dedupe(ctx, deduper, c, userID)
		if err != nil {
			return writeStatus(c, err)
		}
		if !fresh {
			return c.JSON(http.StatusOK, mutationResponse{IdempotencyKey: key})
		}

		if list.CardOrderIDs.Equal(order) {
			return c.JSON(http.StatusOK, mutationResponse{IdempotencyKey: key})
		}

		if err := store.SetCardOrder(ctx, req.BoardID, listID, order); err != nil {
			rollbackDedupe(ctx, deduper, c, userID, key)
			return writeStatus(c, err)
		}

		publishEvents(userID, boardEvent(req.BoardID, key, domain.EventCardOrderChanged))
		return c.JSON(http.StatusOK, mutationResponse{IdempotencyKey: key})
	}
}

func putMovingCard(store Storage, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, agg, status, err := authorize(c, store, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		ctx := c.Request().Context()

		var req movingCardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.CardID == "" || req.PrevListID == "" || req.NextListID == "" || req.PrevListID == req.NextListID {
			return c.String(http.StatusBadRequest, "invalid move")
		}
		if agg.FindCard(req.CardID) == nil {
			return c.String(http.StatusNotFound, "card not found")
		}
		if agg.FindList(req.PrevListID) == nil || agg.FindList(req.NextListID) == nil {
			return c.String(http.StatusNotFound, "list not found")
		}

		plan := domain.MovePlan{
			CardID:             req.CardID,
			CrossList:          true,
			SourceListID:       req.PrevListID,
			SourceCardOrderIDs: domain.WithoutPlaceholders(req.PrevCardOrderIDs),
			TargetListID:       req.NextListID,
			TargetCardOrderIDs: domain.WithoutPlaceholders(req.NextCardOrderIDs),
			NewListID:          req.NextListID,
		}
		if !plan.TargetCardOrderIDs.Contains(req.CardID) || plan.SourceCardOrderIDs.Contains(req.CardID) {
			return c.String(http.StatusBadRequest, "invalid move")
		}

		key, fresh, err := dedupe(ctx, deduper, c, userID)
		if err != nil {
			return writeStatus(c, err)
		}
		if !fresh {
			return c.JSON(http.StatusOK, mutationResponse{IdempotencyKey: key})
		}

		if err := store.ApplyCardMove(ctx, agg.Board.ID, plan); err != nil {
			rollbackDedupe(ctx, deduper, c, userID, key)
			return writeStatus(c, err)
		}

		publishEvents(userID, boardEvent(agg.Board.ID, key, domain.EventCardMoved))
		return c.JSON(http.StatusOK, mutationResponse{IdempotencyKey: key})
	}
}

func postRepair(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, agg, status, err := authorize(c, store, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		repaired, err := store.Repair(c.Request().Context(), agg.Board.ID)
		if err != nil {
			return writeStatus(c, err)
		}
		return c.JSON(http.StatusOK, repairResponse{Repaired: repaired})
	}
}

func postBoard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createBoardRequest
		if err := decodeBody(c, &req); err != nil || req.Title == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		visibility := domain.VisibilityPrivate
		if req.Visibility == string(domain.VisibilityPublic) {
			visibility = domain.VisibilityPublic
		}
		board := domain.Board{
			ID:         domain.NewID(),
			Title:      req.Title,
			Visibility: visibility,
			OwnerID:    userID,
			AdminIDs:   []string{userID},
			MemberIDs:  []string{userID},
		}
		if err := store.CreateBoard(c.Request().Context(), board); err != nil {
			return writeStatus(c, err)
		}
		return c.JSON(http.StatusCreated, board)
	}
}

func postList(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, agg, status, err := authorize(c, store, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		var req createListRequest
		if err := decodeBody(c, &req); err != nil || req.Title == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		list := domain.List{
			ID:      domain.NewID(),
			BoardID: agg.Board.ID,
			Title:   req.Title,
		}
		if err := store.CreateList(c.Request().Context(), list); err != nil {
			return writeStatus(c, err)
		}
		publishEvents(userID, boardEvent(agg.Board.ID, list.ID, domain.EventBoardChanged))
		return c.JSON(http.StatusCreated, list)
	}
}

func postCard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createCardRequest
		if err := decodeBody(c, &req); err != nil || req.Title == "" || req.BoardID == "" {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		ctx := c.Request().Context()
		agg, err := store.GetBoardWithOrder(ctx, req.BoardID, true)
		if err != nil {
			return writeStatus(c, err)
		}
		if !agg.Board.IsMember(userID) {
			return c.String(http.StatusForbidden, "not a board member")
		}
		listID := c.Param("listId")
		if agg.FindList(listID) == nil {
			return c.String(http.StatusNotFound, "list not found")
		}
		card := domain.Card{
			ID:      domain.NewID(),
			BoardID: req.BoardID,
			ListID:  listID,
			Title:   req.Title,
		}
		if err := store.CreateCard(ctx, card); err != nil {
			return writeStatus(c, err)
		}
		publishEvents(userID, boardEvent(req.BoardID, card.ID, domain.EventBoardChanged))
		return c.JSON(http.StatusCreated, card)
	}
}

func removeList(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, agg, status, err := authorize(c, store, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		hard := c.QueryParam("hard") == "true"
		if hard && !agg.Board.IsAdmin(userID) {
			return c.String(http.StatusForbidden, "admin required for hard delete")
		}
		if err := store.DeleteList(c.Request().Context(), agg.Board.ID, c.Param("listId"), hard); err != nil {
			return writeStatus(c, err)
		}
		publishEvents(userID, boardEvent(agg.Board.ID, c.Param("listId"), domain.EventBoardChanged))
		return c.NoContent(http.StatusNoContent)
	}
}

func removeCard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, agg, status, err := authorize(c, store, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		hard := c.QueryParam("hard") == "true"
		if hard && !agg.Board.IsAdmin(userID) {
			return c.String(http.StatusForbidden, "admin required for hard delete")
		}
		if err := store.DeleteCard(c.Request().Context(), agg.Board.ID, c.Param("cardId"), hard); err != nil {
			return writeStatus(c, err)
		}
		publishEvents(userID, boardEvent(agg.Board.ID, c.Param("cardId"), domain.EventBoardChanged))
		return c.NoContent(http.StatusNoContent)
	}
}

func reopenList(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, agg, status, err := authorize(c, store, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		if err := store.ReopenList(c.Request().Context(), agg.Board.ID, c.Param("listId")); err != nil {
			return writeStatus(c, err)
		}
		publishEvents(userID, boardEvent(agg.Board.ID, c.Param("listId"), domain.EventBoardChanged))
		return c.NoContent(http.StatusNoContent)
	}
}

func reopenCard(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, agg, status, err := authorize(c, store, auth)
		if err != nil {
			return c.String(status, err.Error())
		}
		if err := store.ReopenCard(c.Request().Context(), agg.Board.ID, c.Param("cardId")); err != nil {
			return writeStatus(c, err)
		}
		publishEvents(userID, boardEvent(agg.Board.ID, c.Param("cardId"), domain.EventBoardChanged))
		return c.NoContent(http.StatusNoContent)
	}
}

func boardEvent(boardID, idempotencyKey, eventType string) domain.BoardEvent {
	return domain.BoardEvent{
		ID:             idempotencyKey,
		IdempotencyKey: idempotencyKey,
		BoardID:        boardID,
		Type:           eventType,
		Timestamp:      nextTimestamp(),
	}
}
