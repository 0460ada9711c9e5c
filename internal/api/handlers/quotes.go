// quotes.go — обработчики заявок: создание, чтение, журнал статусов,
// файлы, а также административные смена статуса и назначение цены.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/quote-module/internal/api/errors"
	"github.com/bigkaa/goartstore/quote-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/service"
	"github.com/bigkaa/goartstore/quote-module/internal/validation"
)

// updateStatusRequest — тело PUT /api/admin/quotes/{id}/status.
type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"max=4000"`
}

// updatePriceRequest — тело PUT /api/admin/quotes/{id}/price.
type updatePriceRequest struct {
	FinalPrice *model.Money `json:"finalPrice" validate:"required"`
}

// historyResponse — журнал статусов заявки.
type historyResponse struct {
	Items []*model.StatusHistoryEntry `json:"items"`
}

// filesResponse — файлы заявки.
type filesResponse struct {
	Items []*model.QuoteFile `json:"items"`
}

// downloadURLResponse — presigned URL файла заявки.
type downloadURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// createQuoteFailedMessage — ответ при внутренней ошибке создания заявки.
const createQuoteFailedMessage = "Заявка не создана: политика доступа к загруженным файлам могла не прикрепиться, повторите запрос"

// CreateQuote — POST /api/quotes.
func (h *APIHandler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var in service.CreateQuoteInput
	if err := decodeJSON(w, r, &in); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	quote, err := h.quotes.CreateQuote(r.Context(), middleware.PrincipalFromContext(r.Context()), in)
	if err != nil {
		h.writeServiceError(w, r, "создание заявки", err, errorOptions{
			internalMessage: createQuoteFailedMessage,
		})
		return
	}
	writeJSON(w, http.StatusCreated, quote)
}

// GetQuote — GET /api/quotes/{id}.
func (h *APIHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.quotes.GetQuote(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "получение заявки", err, errorOptions{})
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// ListQuoteHistory — GET /api/quotes/{id}/history.
func (h *APIHandler) ListQuoteHistory(w http.ResponseWriter, r *http.Request) {
	items, err := h.quotes.ListHistory(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "получение истории статусов", err, errorOptions{})
		return
	}
	if items == nil {
		items = []*model.StatusHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Items: items})
}

// ListQuoteFiles — GET /api/quotes/{id}/files.
func (h *APIHandler) ListQuoteFiles(w http.ResponseWriter, r *http.Request) {
	items, err := h.quotes.ListFiles(r.Context(), middleware.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, "получение файлов заявки", err, errorOptions{})
		return
	}
	if items == nil {
		items = []*model.QuoteFile{}
	}
	writeJSON(w, http.StatusOK, filesResponse{Items: items})
}

// GetQuoteFileDownloadURL — GET /api/quotes/{id}/files/{fileID}/download-url.
func (h *APIHandler) GetQuoteFileDownloadURL(w http.ResponseWriter, r *http.Request) {
	url, expiresAt, err := h.quotes.FileDownloadURL(
		r.Context(),
		middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "fileID"),
	)
	if err != nil {
		h.writeServiceError(w, r, "выдача URL файла заявки", err, errorOptions{})
		return
	}
	writeJSON(w, http.StatusOK, downloadURLResponse{URL: url, ExpiresAt: expiresAt.UTC()})
}

// UpdateQuoteStatus — PUT /api/admin/quotes/{id}/status.
// Откат статуса и переход из delivered — 409.
func (h *APIHandler) UpdateQuoteStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	target, err := lifecycle.ParseStatus(req.Status)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	quote, err := h.quotes.TransitionTo(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "id"), target, req.Notes)
	if err != nil {
		h.writeServiceError(w, r, "смена статуса заявки", err, errorOptions{})
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// UpdateQuotePrice — PUT /api/admin/quotes/{id}/price.
func (h *APIHandler) UpdateQuotePrice(w http.ResponseWriter, r *http.Request) {
	var req updatePriceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	quote, err := h.quotes.SetFinalPrice(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "id"), *req.FinalPrice)
	if err != nil {
		h.writeServiceError(w, r, "назначение цены", err, errorOptions{})
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
