// Пакет config — загрузка и валидация конфигурации Quote Module
// из переменных окружения (префикс QT_).
//
// Перед чтением окружения подгружается необязательный .env-файл
// (путь из QT_ENV_FILE, по умолчанию .env). Переменные, уже заданные
// в окружении, файлом не перезаписываются.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Quote Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Хранилище объектов (S3 API) ---

	// Endpoint S3 API (пусто — AWS S3 по региону)
	S3Endpoint string
	S3Region   string
	S3Bucket   string
	// Статические ключи (пусто — цепочка учётных данных AWS по умолчанию)
	S3AccessKey string
	S3SecretKey string
	// Path-style адресация (обязательно для MinIO)
	S3ForcePathStyle bool
	// Максимальное число попыток запроса к S3 (включая первую)
	S3MaxAttempts int
	// Путь health endpoint хранилища для dephealth
	S3HealthPath string

	// --- Пространство объектов ---

	// Префикс ключей приватных объектов (/objects/*)
	PrivatePrefix string
	// Префиксы поиска публичных объектов (/public-objects/*), по порядку
	PublicPrefixes []string

	// --- Время жизни URL и кэширование ---

	// TTL presigned URL загрузки
	UploadURLTTL time.Duration
	// TTL presigned URL скачивания файлов заявок
	DownloadURLTTL time.Duration
	// max-age заголовка Cache-Control для отдаваемых объектов
	ObjectCacheTTL time.Duration
	// Таймаут потоковой отдачи одного объекта
	DownloadTimeout time.Duration

	// --- JWT ---

	// URL JWKS endpoint IdP
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Путь к CA-сертификату для TLS-соединения с IdP (опционально)
	CACertPath string

	// --- Маппинг групп → ролей ---

	// Группы IdP, дающие роль admin
	RoleAdminGroups []string

	// --- Группы подписчиков ---

	// Максимальное число записей кэша членства
	MembershipCacheSize int
	// Время жизни записи кэша членства
	MembershipCacheTTL time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes для всех зависимостей (DEPHEALTH_ISENTRY)
	DephealthIsEntry bool

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из .env-файла и переменных окружения,
// валидирует обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	if err := loadEnvFile(getEnvDefault("QT_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	// QT_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("QT_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("QT_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("QT_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// QT_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("QT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("QT_LOG_LEVEL: %w", err)
	}

	// QT_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("QT_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("QT_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("QT_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("QT_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("QT_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("QT_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("QT_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("QT_DB_PASSWORD"); err != nil {
		return nil, err
	}

	// QT_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("QT_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("QT_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Хранилище объектов ---

	cfg.S3Endpoint = strings.TrimRight(getEnvDefault("QT_S3_ENDPOINT", ""), "/")
	cfg.S3Region = getEnvDefault("QT_S3_REGION", "us-east-1")
	if cfg.S3Bucket, err = getEnvRequired("QT_S3_BUCKET"); err != nil {
		return nil, err
	}
	cfg.S3AccessKey = getEnvDefault("QT_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvDefault("QT_S3_SECRET_KEY", "")
	if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("QT_S3_ACCESS_KEY и QT_S3_SECRET_KEY задаются вместе")
	}

	// QT_S3_FORCE_PATH_STYLE — по умолчанию true (MinIO)
	cfg.S3ForcePathStyle, err = getEnvBool("QT_S3_FORCE_PATH_STYLE", true)
	if err != nil {
		return nil, fmt.Errorf("QT_S3_FORCE_PATH_STYLE: %w", err)
	}

	cfg.S3MaxAttempts, err = getEnvInt("QT_S3_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("QT_S3_MAX_ATTEMPTS: %w", err)
	}
	if cfg.S3MaxAttempts < 1 || cfg.S3MaxAttempts > 10 {
		return nil, fmt.Errorf("QT_S3_MAX_ATTEMPTS: значение %d вне допустимого диапазона 1-10", cfg.S3MaxAttempts)
	}

	cfg.S3HealthPath = getEnvDefault("QT_S3_HEALTH_PATH", "/minio/health/live")

	// --- Пространство объектов ---

	cfg.PrivatePrefix = strings.Trim(getEnvDefault("QT_PRIVATE_PREFIX", "private"), "/")
	if cfg.PrivatePrefix == "" {
		return nil, fmt.Errorf("QT_PRIVATE_PREFIX: пустой префикс недопустим")
	}
	cfg.PublicPrefixes = parseCSV(getEnvDefault("QT_PUBLIC_PREFIXES", "public"))
	for _, p := range cfg.PublicPrefixes {
		if strings.Trim(p, "/") == cfg.PrivatePrefix {
			return nil, fmt.Errorf("QT_PUBLIC_PREFIXES: префикс %q совпадает с приватным", p)
		}
	}

	// --- Время жизни URL и кэширование ---

	if cfg.UploadURLTTL, err = getEnvPositiveDuration("QT_UPLOAD_URL_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DownloadURLTTL, err = getEnvPositiveDuration("QT_DOWNLOAD_URL_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	// max-age=0 допустим
	cfg.ObjectCacheTTL, err = getEnvDuration("QT_OBJECT_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("QT_OBJECT_CACHE_TTL: %w", err)
	}
	if cfg.ObjectCacheTTL < 0 {
		return nil, fmt.Errorf("QT_OBJECT_CACHE_TTL: отрицательное значение недопустимо")
	}
	if cfg.DownloadTimeout, err = getEnvPositiveDuration("QT_DOWNLOAD_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired("QT_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("QT_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("QT_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("QT_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("QT_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("QT_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	cfg.CACertPath = getEnvDefault("QT_CA_CERT_PATH", "")

	// --- Маппинг групп → ролей ---

	// QT_ROLE_ADMIN_GROUPS — группы для роли admin (по умолчанию "quote-admins")
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("QT_ROLE_ADMIN_GROUPS", "quote-admins"))

	// --- Группы подписчиков ---

	cfg.MembershipCacheSize, err = getEnvInt("QT_MEMBERSHIP_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("QT_MEMBERSHIP_CACHE_SIZE: %w", err)
	}
	if cfg.MembershipCacheSize < 1 {
		return nil, fmt.Errorf("QT_MEMBERSHIP_CACHE_SIZE: значение %d должно быть положительным", cfg.MembershipCacheSize)
	}
	if cfg.MembershipCacheTTL, err = getEnvPositiveDuration("QT_MEMBERSHIP_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("QT_DEPHEALTH_GROUP", "quote-module")
	cfg.DephealthCheckInterval, err = getEnvDuration("QT_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("QT_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("QT_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("QT_HTTP_READ_TIMEOUT: %w", err)
	}
	// Запись ответа включает потоковую отдачу объектов
	cfg.HTTPWriteTimeout, err = getEnvDuration("QT_HTTP_WRITE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("QT_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("QT_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("QT_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("QT_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("QT_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов dephealth).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// loadEnvFile подгружает .env-файл. Отсутствие файла ошибкой не считается.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("QT_ENV_FILE: ошибка чтения %s: %w", path, err)
	}
	return nil
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration со строго положительным значением.
// Ошибка уже содержит имя переменной.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %s", key, d)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
