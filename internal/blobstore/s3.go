// Пакет blobstore — клиент S3-совместимого хранилища объектов (MinIO, AWS S3).
//
// Предоставляет то, что нужно слою доступа к объектам:
//   - presigned PUT/GET URL с ограниченным временем жизни;
//   - чтение метаданных (HeadObject) и потоковое чтение (GetObject);
//   - замену пользовательских метаданных (CopyObject на себя с REPLACE);
//   - разбор URL хранилища обратно в ключ объекта.
//
// Повторы при временных сбоях выполняет стандартный retryer AWS SDK
// (количество попыток — Config.MaxAttempts).
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Ошибки клиента хранилища.
var (
	// ErrObjectNotFound — объект (или бакет) не найден.
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
	// ErrUnavailable — хранилище недоступно или вернуло неожиданную ошибку.
	ErrUnavailable = errors.New("хранилище объектов недоступно")
)

// Config — параметры подключения к хранилищу.
type Config struct {
	// Endpoint — URL S3 API (пусто — AWS S3 по региону)
	Endpoint string
	// Region — регион (для MinIO любой, обычно us-east-1)
	Region string
	// Bucket — бакет с объектами
	Bucket string
	// AccessKey, SecretKey — статические ключи (пусто — цепочка AWS по умолчанию)
	AccessKey string
	SecretKey string
	// ForcePathStyle — адресация http://host/bucket/key (обязательно для MinIO)
	ForcePathStyle bool
	// MaxAttempts — максимальное число попыток запроса (включая первую)
	MaxAttempts int
}

// ObjectInfo — сведения об объекте из HeadObject/GetObject.
type ObjectInfo struct {
	Key           string
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  time.Time
	// Metadata — пользовательские метаданные (ключи в нижнем регистре, без x-amz-meta-)
	Metadata map[string]string
}

// Object — открытый поток чтения объекта. Body обязательно закрывать.
type Object struct {
	ObjectInfo
	Body io.ReadCloser
}

// Client — клиент S3-совместимого хранилища.
type Client struct {
	s3      *s3.Client
	presign *s3.PresignClient
	bucket  string
	// endpoint — разобранный базовый URL (для разбора URL хранилища обратно в ключ)
	endpoint  *url.URL
	pathStyle bool
	logger    *slog.Logger
}

// New создаёт клиента хранилища по конфигурации.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("не задан бакет хранилища")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = retry.DefaultMaxAttempts
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(maxAttempts),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	endpointStr := cfg.Endpoint
	if endpointStr == "" {
		endpointStr = fmt.Sprintf("https://s3.%s.amazonaws.com", region)
	}
	endpoint, err := url.Parse(strings.TrimRight(endpointStr, "/"))
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("некорректный endpoint хранилища: %q", endpointStr)
	}

	pathStyle := cfg.ForcePathStyle
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint.String())
		}
		o.UsePathStyle = pathStyle
	})

	return &Client{
		s3:        client,
		presign:   s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		endpoint:  endpoint,
		pathStyle: pathStyle,
		logger:    logger.With(slog.String("component", "blobstore")),
	}, nil
}

// Bucket возвращает имя бакета.
func (c *Client) Bucket() string {
	return c.bucket
}

// PresignPut возвращает presigned URL для загрузки объекта key методом PUT.
func (c *Client) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: presign PUT %s: %v", ErrUnavailable, key, err)
	}
	return req.URL, nil
}

// PresignGet возвращает presigned URL для скачивания объекта key.
// filename — подсказка имени файла для Content-Disposition (может быть пустой).
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration, filename string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(ContentDisposition(filename))
	}

	req, err := c.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("%w: presign GET %s: %v", ErrUnavailable, key, err)
	}
	return req.URL, nil
}

// Stat возвращает сведения об объекте, включая пользовательские метаданные.
func (c *Client) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, c.classify("HeadObject", key, err)
	}

	return &ObjectInfo{
		Key:           key,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		ETag:          aws.ToString(out.ETag),
		LastModified:  aws.ToTime(out.LastModified),
		Metadata:      lowerKeys(out.Metadata),
	}, nil
}

// Open открывает потоковое чтение объекта. Вызывающий обязан закрыть Body.
func (c *Client) Open(ctx context.Context, key string) (*Object, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, c.classify("GetObject", key, err)
	}

	return &Object{
		ObjectInfo: ObjectInfo{
			Key:           key,
			ContentType:   aws.ToString(out.ContentType),
			ContentLength: aws.ToInt64(out.ContentLength),
			ETag:          aws.ToString(out.ETag),
			LastModified:  aws.ToTime(out.LastModified),
			Metadata:      lowerKeys(out.Metadata),
		},
		Body: out.Body,
	}, nil
}

// ReplaceMetadata целиком заменяет пользовательские метаданные объекта.
// S3 не умеет менять метаданные на месте, поэтому объект копируется
// сам в себя с MetadataDirective=REPLACE. Content-Type сохраняется.
func (c *Client) ReplaceMetadata(ctx context.Context, key string, contentType string, meta map[string]string) error {
	input := &s3.CopyObjectInput{
		Bucket:            aws.String(c.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource(c.bucket, key)),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata:          meta,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.s3.CopyObject(ctx, input); err != nil {
		return c.classify("CopyObject", key, err)
	}
	return nil
}

// CheckBucket проверяет доступность бакета (HeadBucket).
func (c *Client) CheckBucket(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return c.classify("HeadBucket", c.bucket, err)
	}
	return nil
}

// KeyFromURL разбирает URL хранилища (в том числе presigned) в ключ объекта.
// Поддерживается path-style (host/bucket/key) и virtual-hosted (bucket.host/key).
// Возвращает false, если URL не относится к этому хранилищу и бакету.
func (c *Client) KeyFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}

	host := strings.ToLower(u.Host)
	endpointHost := strings.ToLower(c.endpoint.Host)
	path := strings.TrimPrefix(u.Path, "/")

	var key string
	switch host {
	case endpointHost:
		bucket, rest, ok := strings.Cut(path, "/")
		if !ok || bucket != c.bucket {
			return "", false
		}
		key = rest
	case strings.ToLower(c.bucket) + "." + endpointHost:
		key = path
	default:
		return "", false
	}

	if key == "" {
		return "", false
	}
	return key, true
}

// classify приводит ошибку SDK к ErrObjectNotFound или ErrUnavailable.
func (c *Client) classify(op, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}

	c.logger.Warn("Ошибка запроса к хранилищу",
		slog.String("operation", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, key, err)
}

// isNotFound определяет «объект не найден» по типу или HTTP-статусу.
// Ответ на HEAD не содержит тела, поэтому код ошибки может отсутствовать.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nf) || errors.As(err, &nsb) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

// ContentDisposition формирует заголовок attachment с именем файла.
// Не-ASCII имена кодируются по RFC 2231 (filename*=utf-8”...).
func ContentDisposition(filename string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if v == "" {
		return "attachment"
	}
	return v
}

// copySource формирует значение x-amz-copy-source: bucket/key с URL-кодированием ключа.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// lowerKeys возвращает копию map с ключами в нижнем регистре.
func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
