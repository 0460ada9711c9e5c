// handler.go — основной обработчик API Quote Module.
// Объединяет health, объекты хранилища, заявки и группы подписчиков.
// Маршруты регистрируются в server.New.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/quote-module/internal/api/errors"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/repository"
	"github.com/bigkaa/goartstore/quote-module/internal/service"
)

// maxBodyBytes — предельный размер JSON-тела запроса.
const maxBodyBytes = 1 << 20

// ObjectService — операции шлюза объектов.
// Реализуется *service.ObjectGateway.
type ObjectService interface {
	RequestUpload(ctx context.Context, requester model.Principal) (*service.UploadTarget, error)
	AttachPolicyAfterUpload(ctx context.Context, uploadURL string, owner model.Principal,
		visibility model.Visibility, rules []model.AccessRule) (string, error)
	ResolveAndStream(ctx context.Context, w http.ResponseWriter, req service.StreamRequest) error
	ResolvePublic(ctx context.Context, w http.ResponseWriter, filePath string, cacheTTL time.Duration) error
}

// QuoteService — операции над заявками.
// Реализуется *service.QuoteService.
type QuoteService interface {
	CreateQuote(ctx context.Context, requester model.Principal, in service.CreateQuoteInput) (*model.Quote, error)
	GetQuote(ctx context.Context, requester model.Principal, quoteID string) (*model.Quote, error)
	ListHistory(ctx context.Context, requester model.Principal, quoteID string) ([]*model.StatusHistoryEntry, error)
	ListFiles(ctx context.Context, requester model.Principal, quoteID string) ([]*model.QuoteFile, error)
	FileDownloadURL(ctx context.Context, requester model.Principal, quoteID, fileID string) (string, time.Time, error)
	TransitionTo(ctx context.Context, actor model.Principal, quoteID string, target lifecycle.Status, notes string) (*model.Quote, error)
	SetFinalPrice(ctx context.Context, actor model.Principal, quoteID string, amount model.Money) (*model.Quote, error)
}

// MembershipService — управление группами подписчиков.
// Реализуется *service.SubscriberMembership.
type MembershipService interface {
	AddMember(ctx context.Context, actor model.Principal, groupID, userID string) (*repository.GroupMember, error)
	RemoveMember(ctx context.Context, actor model.Principal, groupID, userID string) error
	ListMembers(ctx context.Context, actor model.Principal, groupID string) ([]*repository.GroupMember, error)
}

// APIHandler — основной обработчик API Quote Module.
type APIHandler struct {
	health         *HealthHandler
	objects        ObjectService
	quotes         QuoteService
	groups         MembershipService
	objectCacheTTL time.Duration
	logger         *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// objectCacheTTL — max-age заголовка Cache-Control отдаваемых объектов.
func NewAPIHandler(
	health *HealthHandler,
	objects ObjectService,
	quotes QuoteService,
	groups MembershipService,
	objectCacheTTL time.Duration,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:         health,
		objects:        objects,
		quotes:         quotes,
		groups:         groups,
		objectCacheTTL: objectCacheTTL,
		logger:         logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает JSON-тело запроса в dst.
// Неизвестные поля и данные после объекта считаются ошибкой.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("пустое тело запроса")
		}
		return fmt.Errorf("некорректный JSON: %w", err)
	}
	if dec.More() {
		return errors.New("некорректный JSON: лишние данные после объекта")
	}
	return nil
}

// errorOptions — уточнения сопоставления ошибок сервиса с ответом.
type errorOptions struct {
	// denyAsUnauthorized — отказ в доступе отдаётся как 401 (отдача объектов)
	denyAsUnauthorized bool
	// internalMessage — сообщение клиенту для 500 вместо общего
	internalMessage string
}

// writeServiceError сопоставляет ошибку сервисного слоя с HTTP-ответом.
// Для 500 подробности только логируются.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error, opts errorOptions) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Ресурс не найден")
	case errors.Is(err, service.ErrForbidden):
		if opts.denyAsUnauthorized {
			apierrors.Unauthorized(w, "Доступ к объекту запрещён")
			return
		}
		apierrors.Forbidden(w, "Недостаточно прав")
	case errors.Is(err, service.ErrInvalidTransition):
		apierrors.InvalidTransition(w, err.Error())
	case errors.Is(err, context.Canceled):
		h.logger.Debug("Запрос отменён клиентом",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
		)
	default:
		h.logger.Error("Ошибка обработки запроса",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		msg := opts.internalMessage
		if msg == "" {
			msg = "Внутренняя ошибка сервера"
		}
		apierrors.InternalError(w, msg)
	}
}
