// gateway.go — шлюз доступа к объектам хранилища.
// Связывает кодек политик, проверку прав и выдачу URL:
// загрузка → прикрепление политики → проверка доступа и потоковая отдача.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/quote-module/internal/blobstore"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/acl"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
)

// Prometheus-метрики отдачи объектов.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qt_object_downloads_total",
		Help: "Общее количество запросов на чтение объектов (по результату).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qt_object_download_duration_seconds",
		Help:    "Длительность потоковой отдачи объекта.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qt_object_download_bytes_total",
		Help: "Общее количество переданных байт при отдаче объектов.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qt_object_active_downloads",
		Help: "Количество активных потоковых отдач объектов.",
	})

	policyAttachTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qt_policy_attach_total",
		Help: "Количество операций прикрепления политики доступа (по результату).",
	}, []string{"status"})
)

// AccessChecker — проверка прав по политике объекта.
// Реализуется *acl.Resolver.
type AccessChecker interface {
	CheckAccess(ctx context.Context, policy *model.ObjectPolicy, requester model.Principal, requested model.Permission) (bool, error)
}

// GatewayConfig — параметры шлюза объектов.
type GatewayConfig struct {
	// PublicPrefixes — префиксы ключей публичных объектов, просматриваются по порядку
	PublicPrefixes []string
	// DownloadTimeout — предельная длительность одной отдачи объекта (0 — без ограничения)
	DownloadTimeout time.Duration
}

// StreamRequest — параметры потоковой отдачи приватного объекта.
type StreamRequest struct {
	ObjectPath   string
	Requester    model.Principal
	Permission   model.Permission
	CacheTTL     time.Duration
	FilenameHint string
}

// ObjectGateway — шлюз доступа к объектам хранилища.
type ObjectGateway struct {
	store    ObjectStore
	issuer   *SignedURLIssuer
	checker  AccessChecker
	cfg      GatewayConfig
	logger   *slog.Logger
	nowFunc  func() time.Time
	prefixes []string
}

// NewObjectGateway создаёт шлюз объектов.
func NewObjectGateway(
	store ObjectStore,
	issuer *SignedURLIssuer,
	checker AccessChecker,
	cfg GatewayConfig,
	logger *slog.Logger,
) *ObjectGateway {
	prefixes := make([]string, 0, len(cfg.PublicPrefixes))
	for _, p := range cfg.PublicPrefixes {
		if p = strings.Trim(p, "/"); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &ObjectGateway{
		store:    store,
		issuer:   issuer,
		checker:  checker,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "object_gateway")),
		nowFunc:  time.Now,
		prefixes: prefixes,
	}
}

// RequestUpload выдаёт URL для загрузки нового объекта.
// Политика на этом шаге ещё не существует.
func (g *ObjectGateway) RequestUpload(ctx context.Context, requester model.Principal) (*UploadTarget, error) {
	if requester.IsAnonymous() {
		return nil, ErrForbidden
	}
	return g.issuer.IssueUploadURL(ctx, requester)
}

// AttachPolicyAfterUpload прикрепляет политику к загруженному объекту.
//
// uploadURL переводится в канонический путь, политика кодируется
// в метаданные и целиком заменяет прежнюю (last-write-wins, без слияния).
// Если у объекта уже есть политика, заменить её может только субъект
// с правом write по этой политике.
//
// Ошибка означает, что объект мог остаться без защиты: вызывающий
// должен повторить операцию, а не считать загрузку успешной.
func (g *ObjectGateway) AttachPolicyAfterUpload(
	ctx context.Context,
	uploadURL string,
	owner model.Principal,
	visibility model.Visibility,
	rules []model.AccessRule,
) (string, error) {
	if owner.IsAnonymous() {
		return "", ErrForbidden
	}

	objectPath := g.issuer.NormalizeToObjectPath(uploadURL)
	key, ok := g.issuer.ObjectKey(objectPath)
	if !ok {
		policyAttachTotal.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("%w: URL не относится к приватным объектам хранилища", ErrValidation)
	}

	if rules == nil {
		rules = []model.AccessRule{}
	}
	meta, err := acl.Encode(&model.ObjectPolicy{OwnerID: owner.ID, Visibility: visibility, Rules: rules})
	if err != nil {
		policyAttachTotal.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	info, err := g.store.Stat(ctx, key)
	if err != nil {
		policyAttachTotal.WithLabelValues("error").Inc()
		return "", mapStoreError(err)
	}

	current, err := acl.Decode(info.Metadata)
	switch {
	case err == nil:
		allowed, checkErr := g.checker.CheckAccess(ctx, current, owner, model.PermissionWrite)
		if checkErr != nil {
			policyAttachTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, checkErr)
		}
		if !allowed {
			policyAttachTotal.WithLabelValues("forbidden").Inc()
			return "", ErrForbidden
		}
	case errors.Is(err, acl.ErrNoPolicy):
		// Первое прикрепление после загрузки
	default:
		policyAttachTotal.WithLabelValues("error").Inc()
		g.logger.Error("Повреждена текущая политика объекта",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %s", ErrMalformedPolicy, key)
	}

	// Пользовательские метаданные вне acl-* сохраняются
	for k, v := range info.Metadata {
		if !strings.HasPrefix(k, "acl-") {
			meta[k] = v
		}
	}

	if err := g.store.ReplaceMetadata(ctx, key, info.ContentType, meta); err != nil {
		policyAttachTotal.WithLabelValues("error").Inc()
		g.logger.Error("Политика не прикреплена, объект может остаться без защиты",
			slog.String("key", key),
			slog.String("owner_id", owner.ID),
			slog.String("error", err.Error()),
		)
		return "", mapStoreError(err)
	}

	policyAttachTotal.WithLabelValues("success").Inc()
	g.logger.Info("Политика доступа прикреплена",
		slog.String("object_path", objectPath),
		slog.String("owner_id", owner.ID),
		slog.String("visibility", string(visibility)),
		slog.Int("rules", len(rules)),
	)
	return objectPath, nil
}

// ResolveAndStream проверяет доступ к приватному объекту и отдаёт его потоком в w.
//
// Pipeline:
//  1. Канонический путь → ключ хранилища (иначе ErrNotFound)
//  2. GetObject: метаданные и тело одним запросом
//  3. Декодирование политики (нет политики → запрет, повреждена → ErrMalformedPolicy)
//  4. Проверка прав (запрет → ErrForbidden, тело закрывается)
//  5. Заголовки и io.Copy без буферизации объекта целиком
//
// После отправки заголовков ошибки передачи только логируются.
func (g *ObjectGateway) ResolveAndStream(ctx context.Context, w http.ResponseWriter, req StreamRequest) error {
	start := g.nowFunc()
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	key, ok := g.issuer.ObjectKey(req.ObjectPath)
	if !ok {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return fmt.Errorf("%w: %s", ErrNotFound, req.ObjectPath)
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	obj, err := g.store.Open(ctx, key)
	if err != nil {
		downloadsTotal.WithLabelValues(statusLabel(err)).Inc()
		return mapStoreError(err)
	}
	defer obj.Body.Close()

	policy, err := g.authorize(ctx, key, obj.Metadata, req.Requester, req.Permission)
	if err != nil {
		downloadsTotal.WithLabelValues(statusLabel(err)).Inc()
		return err
	}

	cacheScope := "private"
	if policy.Visibility == model.VisibilityPublic {
		cacheScope = "public"
	}
	return g.stream(w, obj, cacheScope, req.CacheTTL, req.FilenameHint, start)
}

// ResolvePublic отдаёт публичный объект filePath без проверки политики.
// Префиксы QT_PUBLIC_PREFIXES просматриваются по порядку, отдаётся первый найденный.
func (g *ObjectGateway) ResolvePublic(ctx context.Context, w http.ResponseWriter, filePath string, cacheTTL time.Duration) error {
	start := g.nowFunc()
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	filePath = strings.TrimPrefix(filePath, "/")
	if !isCleanRelative(filePath) {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return fmt.Errorf("%w: %s", ErrNotFound, filePath)
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	for _, prefix := range g.prefixes {
		obj, err := g.store.Open(ctx, prefix+"/"+filePath)
		if errors.Is(err, blobstore.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			downloadsTotal.WithLabelValues(statusLabel(err)).Inc()
			return mapStoreError(err)
		}
		defer obj.Body.Close()
		return g.stream(w, obj, "public", cacheTTL, "", start)
	}

	downloadsTotal.WithLabelValues("not_found").Inc()
	return fmt.Errorf("%w: %s", ErrNotFound, filePath)
}

// ResolveDownloadURL проверяет доступ так же, как ResolveAndStream,
// и вместо потока возвращает presigned GET URL.
func (g *ObjectGateway) ResolveDownloadURL(
	ctx context.Context,
	objectPath string,
	requester model.Principal,
	ttl time.Duration,
	filenameHint string,
) (string, error) {
	key, ok := g.issuer.ObjectKey(objectPath)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, objectPath)
	}

	info, err := g.store.Stat(ctx, key)
	if err != nil {
		return "", mapStoreError(err)
	}

	if _, err := g.authorize(ctx, key, info.Metadata, requester, model.PermissionRead); err != nil {
		return "", err
	}

	return g.issuer.IssueDownloadURL(ctx, objectPath, ttl, filenameHint)
}

// authorize декодирует политику из метаданных и проверяет право requested.
func (g *ObjectGateway) authorize(
	ctx context.Context,
	key string,
	meta map[string]string,
	requester model.Principal,
	requested model.Permission,
) (*model.ObjectPolicy, error) {
	policy, err := acl.Decode(meta)
	switch {
	case errors.Is(err, acl.ErrNoPolicy):
		g.logger.Warn("Объект без политики доступа, доступ запрещён",
			slog.String("key", key),
			slog.String("user_id", requester.ID),
		)
		return nil, ErrForbidden
	case err != nil:
		g.logger.Error("Повреждена политика доступа объекта",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s", ErrMalformedPolicy, key)
	}

	allowed, err := g.checker.CheckAccess(ctx, policy, requester, requested)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !allowed {
		g.logger.Debug("Доступ к объекту запрещён",
			slog.String("key", key),
			slog.String("user_id", requester.ID),
			slog.String("permission", string(requested)),
		)
		return nil, ErrForbidden
	}
	return policy, nil
}

// stream записывает заголовки и тело объекта в w.
func (g *ObjectGateway) stream(
	w http.ResponseWriter,
	obj *blobstore.Object,
	cacheScope string,
	cacheTTL time.Duration,
	filenameHint string,
	start time.Time,
) error {
	g.copyHeaders(w, obj)
	w.Header().Set("Cache-Control", cacheScope+", max-age="+strconv.Itoa(int(cacheTTL.Seconds())))
	if filenameHint != "" {
		w.Header().Set("Content-Disposition", blobstore.ContentDisposition(filenameHint))
	}
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, obj.Body)
	if err != nil {
		// Заголовки уже отправлены, вернуть ошибку клиенту нельзя
		g.logger.Error("Ошибка потоковой отдачи объекта",
			slog.String("key", obj.Key),
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()),
		)
		downloadsTotal.WithLabelValues("stream_error").Inc()
		return nil
	}

	duration := g.nowFunc().Sub(start)
	downloadsTotal.WithLabelValues("success").Inc()
	downloadDuration.Observe(duration.Seconds())
	downloadBytesTotal.Add(float64(written))

	g.logger.Debug("Отдача объекта завершена",
		slog.String("key", obj.Key),
		slog.Int64("bytes", written),
		slog.Duration("duration", duration),
	)
	return nil
}

// copyHeaders переносит сведения об объекте в заголовки ответа.
func (g *ObjectGateway) copyHeaders(w http.ResponseWriter, obj *blobstore.Object) {
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if obj.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	if obj.ETag != "" {
		w.Header().Set("ETag", obj.ETag)
	}
	if !obj.LastModified.IsZero() {
		w.Header().Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	}
}

// withTimeout ограничивает длительность отдачи, если задан DownloadTimeout.
func (g *ObjectGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.DownloadTimeout > 0 {
		return context.WithTimeout(ctx, g.cfg.DownloadTimeout)
	}
	return context.WithCancel(ctx)
}

// statusLabel — значение лейбла status для метрик отдачи.
func statusLabel(err error) string {
	switch {
	case errors.Is(err, blobstore.ErrObjectNotFound), errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrMalformedPolicy):
		return "malformed_policy"
	default:
		return "error"
	}
}
