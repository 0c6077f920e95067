package posting

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ledgerbridge/ledgerbridge/internal/booking"
	"github.com/ledgerbridge/ledgerbridge/internal/coordinator"
	"github.com/ledgerbridge/ledgerbridge/internal/journal"
	"github.com/ledgerbridge/ledgerbridge/internal/ledger"
	"github.com/ledgerbridge/ledgerbridge/internal/numbering"
	"github.com/ledgerbridge/ledgerbridge/internal/platform/httpx"
)

type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		service:  service,
		logger:   logger,
		validate: validator.New(),
	}
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}
	result, err := h.service.Post(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}
	result, err := h.service.Preview(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) decodeBatch(w http.ResponseWriter, r *http.Request) (BatchInput, bool) {
	var in BatchInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return BatchInput{}, false
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return BatchInput{}, false
	}
	return in, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		verr      *booking.ValidationError
		exhausted *numbering.RangeExhaustedError
		conflict  *coordinator.MultiYearConflictError
		frozen    *coordinator.FrozenDocumentError
		lerr      *ledger.Error
	)
	switch {
	case errors.As(err, &verr):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", verr.Error())
	case errors.As(err, &exhausted):
		httpx.Problem(w, http.StatusConflict, "Number Range Exhausted", exhausted.Error())
	case errors.As(err, &conflict):
		httpx.Problem(w, http.StatusConflict, "Book Year Conflict", conflict.Error())
	case errors.As(err, &frozen):
		httpx.Problem(w, http.StatusConflict, "Document Frozen", frozen.Error())
	case errors.Is(err, journal.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Document Not Found", err.Error())
	case errors.Is(err, journal.ErrDuplicateEntry):
		httpx.Problem(w, http.StatusConflict, "Duplicate Entry", err.Error())
	case errors.As(err, &lerr):
		h.logger.Error("external ledger rejected batch", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "External Ledger Error", lerr.Error())
	default:
		h.logger.Error("posting batch", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
