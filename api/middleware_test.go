package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

func discardLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func gzipPayload(t *testing.T, payload string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(payload)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return &buf
}

func TestGzipRequestMiddlewareDecompressesReorderBody(t *testing.T) {
	store := &mockStore{
		getBoardFn: func(context.Context, string, bool) (*domain.BoardAggregate, error) {
			return handlerAggregate(), nil
		},
		setListOrderFn: func(_ context.Context, _ string, order domain.OrderedIDs) error {
			if !order.Equal(domain.OrderedIDs{"L2", "L1"}) {
				t.Fatalf("order = %v, want [L2 L1]", order)
			}
			return nil
		},
	}

	e := echo.New()
	e.Use(GzipRequestMiddleware())
	Register(e, store, stubAuth{userID: "user1"}, newMemDeduper(), discardLogger())

	body := gzipPayload(t, `{"listOrderIds":["L2","L1"]}`)
	req := httptest.NewRequest(http.MethodPut, "/api/boards/board1", body)
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestGzipRequestMiddlewareRejectsCorruptBody(t *testing.T) {
	e := echo.New()
	e.Use(GzipRequestMiddleware())
	Register(e, &mockStore{}, stubAuth{userID: "user1"}, newMemDeduper(), discardLogger())

	req := httptest.NewRequest(http.MethodPut, "/api/boards/board1",
		bytes.NewBufferString("not gzip at all"))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGzipRequestMiddlewarePassesPlainBodiesThrough(t *testing.T) {
	if contentEncodingHasGzip("") {
		t.Fatal("empty encoding treated as gzip")
	}
	if !contentEncodingHasGzip("deflate, GZIP") {
		t.Fatal("gzip in encoding list not detected")
	}
}
