// Точка входа Quote Module — сервис заявок и контроля доступа к файлам.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и хранилищу объектов, собирает сервисный слой (политики доступа, шлюз
// объектов, жизненный цикл заявок), запускает topologymetrics и
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/quote-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/quote-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/quote-module/internal/blobstore"
	"github.com/bigkaa/goartstore/quote-module/internal/config"
	"github.com/bigkaa/goartstore/quote-module/internal/database"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/acl"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/repository"
	"github.com/bigkaa/goartstore/quote-module/internal/server"
	"github.com/bigkaa/goartstore/quote-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Quote Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Хранилище объектов (S3 API)
	store, err := blobstore.New(ctx, blobstore.Config{
		Endpoint:       cfg.S3Endpoint,
		Region:         cfg.S3Region,
		Bucket:         cfg.S3Bucket,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		ForcePathStyle: cfg.S3ForcePathStyle,
		MaxAttempts:    cfg.S3MaxAttempts,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := store.CheckBucket(ctx); err != nil {
		// Не фатально: readiness вернёт fail, пока бакет недоступен
		logger.Warn("Бакет хранилища недоступен при старте",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("error", err.Error()),
		)
	}

	// 6. Repositories
	quoteRepo := repository.NewQuoteRepository(pool)
	memberRepo := repository.NewGroupMemberRepository(pool)
	quoteTx := repository.NewQuoteTxRunner(repository.NewTxRunner(pool))

	// 7. Политики доступа: группы подписчиков + resolver
	membership := service.NewSubscriberMembership(memberRepo, cfg.MembershipCacheSize, cfg.MembershipCacheTTL, logger)
	resolver := acl.NewResolver(map[model.GroupType]acl.MembershipChecker{
		model.GroupSubscribers: membership,
	})

	// 8. Выдача URL и шлюз объектов
	issuer := service.NewSignedURLIssuer(store, cfg.PrivatePrefix, cfg.UploadURLTTL, logger)
	gateway := service.NewObjectGateway(store, issuer, resolver, service.GatewayConfig{
		PublicPrefixes:  cfg.PublicPrefixes,
		DownloadTimeout: cfg.DownloadTimeout,
	}, logger)

	// 9. Заявки
	quoteSvc := service.NewQuoteService(quoteRepo, quoteTx, gateway, cfg.DownloadURLTTL, logger)

	// 10. topologymetrics — мониторинг зависимостей (PostgreSQL, хранилище, IdP)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "quote-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PGConnURL:     cfg.DatabaseURL(),
		S3URL:         cfg.S3Endpoint,
		S3HealthPath:  cfg.S3HealthPath,
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
			defer dephealthSvc.Stop()
		}
	}

	// 11. Readiness checkers (PostgreSQL + бакет)
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		blobstore.NewReadinessChecker(store),
	)

	// 12. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, gateway, quoteSvc, membership, cfg.ObjectCacheTTL, logger)

	// 13. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		cfg.RoleAdminGroups,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 14. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Quote Module остановлен")
}
