// signed_url.go — выдача presigned URL хранилища и перевод URL хранилища
// в канонические пути объектов (/objects/...).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/quote-module/internal/blobstore"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
)

// objectsRoot — префикс канонических путей приватных объектов.
const objectsRoot = "/objects/"

// ObjectStore — операции хранилища объектов, которые использует сервисный слой.
// Реализуется *blobstore.Client.
type ObjectStore interface {
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration, filename string) (string, error)
	Stat(ctx context.Context, key string) (*blobstore.ObjectInfo, error)
	Open(ctx context.Context, key string) (*blobstore.Object, error)
	ReplaceMetadata(ctx context.Context, key string, contentType string, meta map[string]string) error
	KeyFromURL(raw string) (string, bool)
}

// UploadTarget — результат выдачи URL для загрузки.
type UploadTarget struct {
	// UploadURL — presigned PUT URL, по которому клиент загружает файл напрямую в хранилище
	UploadURL string `json:"uploadUrl"`
	// ObjectPath — канонический путь объекта после загрузки (/objects/uploads/<uuid>)
	ObjectPath string `json:"objectPath"`
}

// SignedURLIssuer — выдача presigned URL и нормализация путей объектов.
type SignedURLIssuer struct {
	store         ObjectStore
	privatePrefix string
	uploadTTL     time.Duration
	logger        *slog.Logger
}

// NewSignedURLIssuer создаёт issuer.
// privatePrefix — префикс ключей приватных объектов в бакете (например, "private").
func NewSignedURLIssuer(store ObjectStore, privatePrefix string, uploadTTL time.Duration, logger *slog.Logger) *SignedURLIssuer {
	return &SignedURLIssuer{
		store:         store,
		privatePrefix: strings.Trim(privatePrefix, "/"),
		uploadTTL:     uploadTTL,
		logger:        logger.With(slog.String("component", "signed_url_issuer")),
	}
}

// IssueUploadURL выделяет новый уникальный ключ в пространстве приватных загрузок
// и возвращает presigned PUT URL для него вместе с каноническим путём объекта.
func (s *SignedURLIssuer) IssueUploadURL(ctx context.Context, requester model.Principal) (*UploadTarget, error) {
	objectID := uuid.NewString()
	key := s.privatePrefix + "/uploads/" + objectID

	uploadURL, err := s.store.PresignPut(ctx, key, s.uploadTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: выдача URL загрузки: %v", ErrBackendUnavailable, err)
	}

	s.logger.Debug("Выдан URL загрузки",
		slog.String("user_id", requester.ID),
		slog.String("key", key),
		slog.Duration("ttl", s.uploadTTL),
	)

	return &UploadTarget{
		UploadURL:  uploadURL,
		ObjectPath: objectsRoot + "uploads/" + objectID,
	}, nil
}

// NormalizeToObjectPath переводит URL хранилища (в том числе presigned, с query)
// в канонический путь объекта:
//   - ключ внутри приватного префикса → /objects/<остаток>;
//   - ключ вне приватного префикса → /<ключ>.
//
// Строка, не являющаяся URL этого хранилища, возвращается без изменений.
func (s *SignedURLIssuer) NormalizeToObjectPath(rawURL string) string {
	key, ok := s.store.KeyFromURL(rawURL)
	if !ok {
		return rawURL
	}
	if rest, found := strings.CutPrefix(key, s.privatePrefix+"/"); found {
		return objectsRoot + rest
	}
	return "/" + key
}

// ObjectKey переводит канонический путь /objects/<путь> в ключ хранилища.
// Возвращает false для путей вне /objects/ и путей с "..", "." или пустыми сегментами.
func (s *SignedURLIssuer) ObjectKey(objectPath string) (string, bool) {
	rest, ok := strings.CutPrefix(objectPath, objectsRoot)
	if !ok || !isCleanRelative(rest) {
		return "", false
	}
	return s.privatePrefix + "/" + rest, true
}

// IssueDownloadURL возвращает presigned GET URL для объекта objectPath.
// Вызывается только после успешной проверки доступа.
func (s *SignedURLIssuer) IssueDownloadURL(ctx context.Context, objectPath string, ttl time.Duration, filenameHint string) (string, error) {
	key, ok := s.ObjectKey(objectPath)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, objectPath)
	}

	downloadURL, err := s.store.PresignGet(ctx, key, ttl, filenameHint)
	if err != nil {
		return "", fmt.Errorf("%w: выдача URL скачивания: %v", ErrBackendUnavailable, err)
	}
	return downloadURL, nil
}

// isCleanRelative проверяет, что p — непустой относительный путь без
// "..", "." и пустых сегментов.
func isCleanRelative(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	return path.Clean(p) == p && p != "." && p != ".." && !strings.HasPrefix(p, "../")
}

// mapStoreError приводит ошибку хранилища к ошибкам сервисного слоя.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrObjectNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}
