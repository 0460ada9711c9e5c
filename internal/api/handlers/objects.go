// objects.go — обработчики объектов хранилища:
// выдача URL загрузки, прикрепление политики, отдача приватных и публичных объектов.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/quote-module/internal/api/errors"
	"github.com/bigkaa/goartstore/quote-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/service"
	"github.com/bigkaa/goartstore/quote-module/internal/validation"
)

// unprotectedUploadMessage — ответ при сбое прикрепления политики.
const unprotectedUploadMessage = "Файл загружен, но политика доступа не прикреплена: объект не защищён, повторите операцию"

// attachPolicyRequest — тело PUT /api/objects/acl.
type attachPolicyRequest struct {
	UploadURL  string             `json:"uploadUrl" validate:"required,max=2048"`
	Visibility model.Visibility   `json:"visibility" validate:"required,oneof=public private"`
	Rules      []model.AccessRule `json:"rules" validate:"max=100,dive"`
}

// objectPathResponse — канонический путь объекта.
type objectPathResponse struct {
	ObjectPath string `json:"objectPath"`
}

// RequestUpload — POST /api/objects/upload.
// Возвращает presigned PUT URL и канонический путь будущего объекта.
func (h *APIHandler) RequestUpload(w http.ResponseWriter, r *http.Request) {
	requester := middleware.PrincipalFromContext(r.Context())

	target, err := h.objects.RequestUpload(r.Context(), requester)
	if err != nil {
		h.writeServiceError(w, r, "выдача URL загрузки", err, errorOptions{})
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// AttachPolicy — PUT /api/objects/acl.
// Прикрепляет политику к загруженному объекту; владелец — вызывающий.
func (h *APIHandler) AttachPolicy(w http.ResponseWriter, r *http.Request) {
	var req attachPolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := validation.Struct(req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	owner := middleware.PrincipalFromContext(r.Context())
	objectPath, err := h.objects.AttachPolicyAfterUpload(r.Context(), req.UploadURL, owner, req.Visibility, req.Rules)
	if err != nil {
		h.writeServiceError(w, r, "прикрепление политики", err, errorOptions{
			internalMessage: unprotectedUploadMessage,
		})
		return
	}
	writeJSON(w, http.StatusOK, objectPathResponse{ObjectPath: objectPath})
}

// GetObject — GET /objects/*.
// Отдаёт приватный объект после проверки политики. Отказ — 401, отсутствие — 404.
// Параметр ?filename= задаёт имя файла в Content-Disposition.
func (h *APIHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	req := service.StreamRequest{
		ObjectPath:   "/objects/" + chi.URLParam(r, "*"),
		Requester:    middleware.PrincipalFromContext(r.Context()),
		Permission:   model.PermissionRead,
		CacheTTL:     h.objectCacheTTL,
		FilenameHint: r.URL.Query().Get("filename"),
	}

	if err := h.objects.ResolveAndStream(r.Context(), w, req); err != nil {
		h.writeServiceError(w, r, "отдача объекта", err, errorOptions{denyAsUnauthorized: true})
	}
}

// GetPublicObject — GET /public-objects/*.
// Отдаёт объект из публичных префиксов без проверки политики.
func (h *APIHandler) GetPublicObject(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")
	if err := h.objects.ResolvePublic(r.Context(), w, filePath, h.objectCacheTTL); err != nil {
		h.writeServiceError(w, r, "отдача публичного объекта", err, errorOptions{})
	}
}
