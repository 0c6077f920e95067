package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Gateway talks JSON over HTTP to the bridge process that wraps the
// legacy accounting system. It implements Factory.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGateway constructs a gateway client for the given bridge URL.
func NewGateway(baseURL string, logger *slog.Logger) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Ping checks whether the bridge process is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", g.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ledger: bridge returned status %d", resp.StatusCode)
	}
	return nil
}

// Open creates a handle on the bridge for (year, docType).
func (g *Gateway) Open(ctx context.Context, year int, docType DocumentType) (Handle, error) {
	var out struct {
		Status   Status `json:"status"`
		HandleID string `json:"handle_id"`
	}
	err := g.call(ctx, http.MethodPost, "/handles", map[string]any{
		"book_year":     year,
		"document_type": docType,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Status != StatusOK {
		return nil, &Error{Op: "open", Status: out.Status}
	}
	return &gatewayHandle{gateway: g, id: out.HandleID}, nil
}

func (g *Gateway) call(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("ledger: encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: bridge call %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ledger: bridge call %s returned http %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("ledger: decode response: %w", err)
		}
	}
	return nil
}

type gatewayHandle struct {
	gateway *Gateway
	id      string
}

type statusResponse struct {
	Status Status `json:"status"`
}

func (h *gatewayHandle) op(ctx context.Context, name string, body any) error {
	var out statusResponse
	path := fmt.Sprintf("/handles/%s/%s", h.id, name)
	if err := h.gateway.call(ctx, http.MethodPost, path, body, &out); err != nil {
		return err
	}
	if out.Status.Fatal() {
		return &Error{Op: name, Status: out.Status}
	}
	return nil
}

func (h *gatewayHandle) BeginTransaction(ctx context.Context) error {
	return h.op(ctx, "begin-transaction", nil)
}

func (h *gatewayHandle) CommitTransaction(ctx context.Context) error {
	return h.op(ctx, "commit-transaction", nil)
}

func (h *gatewayHandle) RollbackTransaction(ctx context.Context) error {
	return h.op(ctx, "rollback-transaction", nil)
}

func (h *gatewayHandle) PostSalesDocument(ctx context.Context, doc Document) error {
	return h.op(ctx, "post-sales-document", documentBody(doc))
}

func (h *gatewayHandle) PostPurchaseDocument(ctx context.Context, doc Document) error {
	return h.op(ctx, "post-purchase-document", documentBody(doc))
}

func (h *gatewayHandle) PostUpdate(ctx context.Context, ref DocumentRef, lines []DocumentLine) error {
	return h.op(ctx, "post-update", map[string]any{
		"document_number": ref.Number,
		"book_date":       ref.BookDate.Format("2006-01-02"),
		"book":            legacyText(ref.Book),
		"lines":           linesBody(lines),
	})
}

func (h *gatewayHandle) PostRemove(ctx context.Context, ref DocumentRef) error {
	return h.op(ctx, "post-remove", map[string]any{
		"document_number": ref.Number,
		"book_date":       ref.BookDate.Format("2006-01-02"),
		"book":            legacyText(ref.Book),
	})
}

func (h *gatewayHandle) CreateAccount(ctx context.Context, spec AccountSpec) error {
	return h.op(ctx, "create-account", map[string]any{
		"accounting_number": spec.Number,
		"name":              legacyText(spec.Name),
	})
}

func (h *gatewayHandle) CreateSupplier(ctx context.Context, spec SupplierSpec) error {
	return h.op(ctx, "create-supplier", map[string]any{
		"accounting_number": spec.Number,
		"name":              legacyText(spec.Name),
		"person_id":         spec.Party.PersonID,
		"organization_id":   spec.Party.OrganizationID,
	})
}

func (h *gatewayHandle) CreateCustomer(ctx context.Context, spec CustomerSpec) error {
	parties := make([]map[string]any, 0, len(spec.Parties))
	for _, p := range spec.Parties {
		parties = append(parties, map[string]any{
			"person_id":       p.PersonID,
			"organization_id": p.OrganizationID,
		})
	}
	return h.op(ctx, "create-customer", map[string]any{
		"accounting_number": spec.Number,
		"name":              legacyText(spec.Name),
		"parties":           parties,
	})
}

func (h *gatewayHandle) LastDocumentNumber(ctx context.Context, year int, book string) (int64, error) {
	var out struct {
		Status Status `json:"status"`
		Number int64  `json:"number"`
	}
	path := fmt.Sprintf("/handles/%s/last-document-number", h.id)
	err := h.gateway.call(ctx, http.MethodPost, path, map[string]any{
		"book_year": year,
		"book":      legacyText(book),
	}, &out)
	if err != nil {
		return 0, err
	}
	if out.Status.Fatal() {
		return 0, &Error{Op: "last-document-number", Status: out.Status}
	}
	return out.Number, nil
}

func (h *gatewayHandle) LastAccountNumber(ctx context.Context, from, thru int64) (int64, error) {
	var out struct {
		Status Status `json:"status"`
		Number int64  `json:"number"`
	}
	path := fmt.Sprintf("/handles/%s/last-account-number", h.id)
	err := h.gateway.call(ctx, http.MethodPost, path, map[string]any{
		"from_number": from,
		"thru_number": thru,
	}, &out)
	if err != nil {
		return 0, err
	}
	if out.Status.Fatal() {
		return 0, &Error{Op: "last-account-number", Status: out.Status}
	}
	return out.Number, nil
}

func (h *gatewayHandle) Close(ctx context.Context) error {
	err := h.gateway.call(ctx, http.MethodDelete, fmt.Sprintf("/handles/%s", h.id), nil, nil)
	if err != nil && h.gateway.logger != nil {
		h.gateway.logger.Warn("ledger handle close", slog.String("handle", h.id), slog.Any("error", err))
	}
	return err
}

func documentBody(doc Document) map[string]any {
	return map[string]any{
		"document_number": doc.Number,
		"book_date":       doc.BookDate.Format("2006-01-02"),
		"document_date":   doc.DocumentDate.Format("2006-01-02"),
		"book":            legacyText(doc.Book),
		"lines":           linesBody(doc.Lines),
	}
}

func linesBody(lines []DocumentLine) []map[string]any {
	out := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		out = append(out, map[string]any{
			"line_number": line.Number,
			"account":     legacyText(line.Account),
			"remark":      legacyText(line.Remark),
			"amount":      line.Amount,
			"quantity":    line.Quantity,
		})
	}
	return out
}

// legacyText restricts a string to the Windows-1252 repertoire the
// legacy system stores. Unmappable runes are substituted rather than
// rejected so a stray character in a remark cannot fail a batch.
// Encoders carry transform state, so each call gets its own.
func legacyText(s string) string {
	encoder := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())
	encoded, err := encoder.String(s)
	if err != nil {
		return s
	}
	decoded, err := charmap.Windows1252.NewDecoder().String(encoded)
	if err != nil {
		return s
	}
	return decoded
}
