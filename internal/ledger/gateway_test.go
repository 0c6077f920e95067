package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusFatal(t *testing.T) {
	require.False(t, StatusOK.Fatal())
	require.False(t, StatusNoPriorTransaction.Fatal())
	require.True(t, Status(1).Fatal())
	require.True(t, Status(13).Fatal())
}

func TestGatewayPostsDocument(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/handles" && r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "handle_id": "h1"})
		case r.URL.Path == "/handles/h1/post-sales-document":
			gotPath = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 0})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, nil)
	h, err := g.Open(context.Background(), 2026, DocumentTypeSales)
	require.NoError(t, err)

	err = h.PostSalesDocument(context.Background(), Document{
		Number:       42,
		BookDate:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		DocumentDate: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Book:         "vk",
		Lines:        []DocumentLine{{Number: 1, Account: "8000", Remark: "premie", Amount: 100, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, "/handles/h1/post-sales-document", gotPath)
	require.Equal(t, float64(42), gotBody["document_number"])
	require.Equal(t, "2026-03-14", gotBody["book_date"])
}

func TestGatewayTranslatesFatalStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/handles" {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "handle_id": "h1"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 13})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, nil)
	h, err := g.Open(context.Background(), 2026, DocumentTypePurchase)
	require.NoError(t, err)

	err = h.BeginTransaction(context.Background())
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, Status(13), lerr.Status)
	require.Equal(t, "begin-transaction", lerr.Op)
}

func TestGatewayToleratesNoPriorTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/handles" {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "handle_id": "h1"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": int(StatusNoPriorTransaction)})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, nil)
	h, err := g.Open(context.Background(), 2026, DocumentTypeSales)
	require.NoError(t, err)
	require.NoError(t, h.RollbackTransaction(context.Background()))
}

func TestGatewayLastDocumentNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/handles" {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "handle_id": "h1"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "number": 57})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, nil)
	h, err := g.Open(context.Background(), 2026, DocumentTypeSales)
	require.NoError(t, err)

	n, err := h.LastDocumentNumber(context.Background(), 2026, "vk")
	require.NoError(t, err)
	require.Equal(t, int64(57), n)
}

func TestLegacyTextSubstitutesUnmappableRunes(t *testing.T) {
	require.Equal(t, "premie maart", legacyText("premie maart"))
	require.Equal(t, "rentevergoeding 4½%", legacyText("rentevergoeding 4½%"))
	// Characters outside Windows-1252 degrade instead of failing the
	// whole batch.
	out := legacyText("premie ☃ maart")
	require.NotContains(t, out, "☃")
	require.Contains(t, out, "premie")
}
