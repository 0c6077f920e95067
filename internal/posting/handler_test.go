package posting

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, store *memStore) chi.Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	handler := NewHandler(logger, NewService(store, testConfig(), logger, nil))
	r := chi.NewRouter()
	r.Route("/api/postings", handler.MountRoutes)
	return r
}

func postJSON(t *testing.T, r chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPostCreated(t *testing.T) {
	store := &memStore{}
	r := newTestRouter(t, store)

	rec := postJSON(t, r, "/api/postings/", BatchInput{Requests: []RequestInput{salesRequest(120)}})
	require.Equal(t, http.StatusCreated, rec.Code)

	var result BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Results, 1)
	require.True(t, result.Results[0].Queued)
	require.NotNil(t, result.Results[0].DocumentNumber)
	require.Len(t, store.rows, 1)
}

func TestHandlerPostRejectsEmptyBatch(t *testing.T) {
	r := newTestRouter(t, &memStore{})

	rec := postJSON(t, r, "/api/postings/", BatchInput{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestHandlerPostRejectsMalformedBody(t *testing.T) {
	r := newTestRouter(t, &memStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/postings/", bytes.NewBufferString("{oops"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerPostValidationErrorMapsTo400(t *testing.T) {
	r := newTestRouter(t, &memStore{})

	in := BatchInput{Requests: []RequestInput{{
		Kind:     "create_sales_document",
		BookDate: "2026-03-10",
		Book:     "VK",
	}}}
	rec := postJSON(t, r, "/api/postings/", in)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRemoveMissingDocumentMapsTo404(t *testing.T) {
	r := newTestRouter(t, &memStore{})

	in := BatchInput{Requests: []RequestInput{{
		Kind:           "remove_document",
		BookDate:       "2026-03-10",
		Book:           "VK",
		DocumentNumber: ptr(int64(99)),
	}}}
	rec := postJSON(t, r, "/api/postings/", in)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerPreviewOK(t *testing.T) {
	store := &memStore{}
	r := newTestRouter(t, store)

	rec := postJSON(t, r, "/api/postings/preview", BatchInput{Requests: []RequestInput{salesRequest(60)}})
	require.Equal(t, http.StatusOK, rec.Code)

	var result BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Simulated)
	require.Empty(t, store.rows)
}

func ptr[T any](v T) *T { return &v }
