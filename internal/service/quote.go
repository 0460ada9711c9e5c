// quote.go — сервис заявок: создание с файлами, чтение, переходы статусов
// и назначение цены. Переход статуса и запись в журнал выполняются
// в одной транзакции с блокировкой строки заявки (SELECT ... FOR UPDATE).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/quote-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/quote-module/internal/repository"
	"github.com/bigkaa/goartstore/quote-module/internal/validation"
)

// Prometheus-метрики заявок.
var (
	quoteTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qt_quote_transitions_total",
		Help: "Количество попыток смены статуса заявки (по целевому статусу и результату).",
	}, []string{"to", "result"})

	quotesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qt_quotes_created_total",
		Help: "Количество созданных заявок.",
	})
)

// creationNote — примечание первой записи журнала статусов.
const creationNote = "заявка создана"

// QuoteTx — выполнение операций над заявками в одной транзакции.
// Реализуется *repository.QuoteTxRunner.
type QuoteTx interface {
	InTx(ctx context.Context, fn func(repo repository.QuoteRepository) error) error
}

// PolicyAttacher — прикрепление политики к загруженному объекту.
// Реализуется *ObjectGateway.
type PolicyAttacher interface {
	AttachPolicyAfterUpload(ctx context.Context, uploadURL string, owner model.Principal,
		visibility model.Visibility, rules []model.AccessRule) (string, error)
	ResolveDownloadURL(ctx context.Context, objectPath string, requester model.Principal,
		ttl time.Duration, filenameHint string) (string, error)
}

// CreateQuoteInput — данные для создания заявки.
type CreateQuoteInput struct {
	Service     string            `json:"service" validate:"required,max=255"`
	TargetPrice *model.Money      `json:"targetPrice"`
	Notes       string            `json:"notes" validate:"max=4000"`
	Files       []CreateQuoteFile `json:"files" validate:"max=50,dive"`
}

// CreateQuoteFile — файл, загруженный клиентом по URL из RequestUpload.
type CreateQuoteFile struct {
	UploadURL string `json:"uploadUrl" validate:"required,max=2048"`
	FileName  string `json:"fileName" validate:"required,max=255"`
	FileSize  int64  `json:"fileSize" validate:"gte=0"`
}

// QuoteService — бизнес-логика заявок.
type QuoteService struct {
	repo           repository.QuoteRepository
	tx             QuoteTx
	objects        PolicyAttacher
	downloadURLTTL time.Duration
	logger         *slog.Logger
	newID          func() string
}

// NewQuoteService создаёт сервис заявок.
// repo используется для чтения вне транзакций, tx — для изменений.
func NewQuoteService(
	repo repository.QuoteRepository,
	tx QuoteTx,
	objects PolicyAttacher,
	downloadURLTTL time.Duration,
	logger *slog.Logger,
) *QuoteService {
	return &QuoteService{
		repo:           repo,
		tx:             tx,
		objects:        objects,
		downloadURLTTL: downloadURLTTL,
		logger:         logger.With(slog.String("component", "quote_service")),
		newID:          uuid.NewString,
	}
}

// CreateQuote создаёт заявку в статусе requested вместе с файлами.
//
// Сначала к каждому загруженному файлу прикрепляется приватная политика
// (владелец — клиент, чтение — администраторам), затем в одной транзакции
// создаются заявка, её файлы и первая запись журнала.
func (s *QuoteService) CreateQuote(ctx context.Context, requester model.Principal, in CreateQuoteInput) (*model.Quote, error) {
	if requester.IsAnonymous() {
		return nil, ErrForbidden
	}
	if err := validation.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	adminRead := []model.AccessRule{{
		GroupType:  model.GroupRole,
		GroupID:    rbac.RoleAdmin,
		Permission: model.PermissionRead,
	}}

	quoteID := s.newID()
	files := make([]*model.QuoteFile, 0, len(in.Files))
	for _, f := range in.Files {
		objectPath, err := s.objects.AttachPolicyAfterUpload(ctx, f.UploadURL, requester, model.VisibilityPrivate, adminRead)
		if err != nil {
			return nil, fmt.Errorf("файл %q: %w", f.FileName, err)
		}
		files = append(files, &model.QuoteFile{
			ID:       s.newID(),
			QuoteID:  quoteID,
			FileName: f.FileName,
			FilePath: objectPath,
			FileSize: f.FileSize,
		})
	}

	quote := &model.Quote{
		ID:          quoteID,
		UserID:      requester.ID,
		Service:     in.Service,
		Status:      lifecycle.StatusRequested,
		TargetPrice: in.TargetPrice,
		Notes:       in.Notes,
	}

	err := s.tx.InTx(ctx, func(repo repository.QuoteRepository) error {
		if err := repo.Create(ctx, quote); err != nil {
			return err
		}
		for _, f := range files {
			if err := repo.CreateFile(ctx, f); err != nil {
				return err
			}
		}
		return repo.AppendHistory(ctx, &model.StatusHistoryEntry{
			QuoteID: quote.ID,
			Status:  lifecycle.StatusRequested,
			Notes:   creationNote,
			Actor:   requester.ID,
		})
	})
	if err != nil {
		return nil, s.mapRepoError("создание заявки", err)
	}

	quotesCreatedTotal.Inc()
	s.logger.Info("Заявка создана",
		slog.String("quote_id", quote.ID),
		slog.String("user_id", requester.ID),
		slog.Int("files", len(files)),
	)
	return quote, nil
}

// GetQuote возвращает заявку владельцу или администратору.
func (s *QuoteService) GetQuote(ctx context.Context, requester model.Principal, quoteID string) (*model.Quote, error) {
	if _, err := uuid.Parse(quoteID); err != nil {
		return nil, ErrNotFound
	}

	quote, err := s.repo.GetByID(ctx, quoteID)
	if err != nil {
		return nil, s.mapRepoError("получение заявки", err)
	}
	if !canView(requester, quote) {
		return nil, ErrForbidden
	}
	return quote, nil
}

// ListHistory возвращает журнал статусов заявки.
func (s *QuoteService) ListHistory(ctx context.Context, requester model.Principal, quoteID string) ([]*model.StatusHistoryEntry, error) {
	if _, err := s.GetQuote(ctx, requester, quoteID); err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, quoteID)
	if err != nil {
		return nil, s.mapRepoError("получение истории статусов", err)
	}
	return history, nil
}

// ListFiles возвращает файлы заявки.
func (s *QuoteService) ListFiles(ctx context.Context, requester model.Principal, quoteID string) ([]*model.QuoteFile, error) {
	if _, err := s.GetQuote(ctx, requester, quoteID); err != nil {
		return nil, err
	}
	files, err := s.repo.ListFiles(ctx, quoteID)
	if err != nil {
		return nil, s.mapRepoError("получение файлов заявки", err)
	}
	return files, nil
}

// FileDownloadURL возвращает presigned URL файла заявки и момент его истечения.
// Доступ к объекту проверяется по его политике.
func (s *QuoteService) FileDownloadURL(ctx context.Context, requester model.Principal, quoteID, fileID string) (string, time.Time, error) {
	if _, err := s.GetQuote(ctx, requester, quoteID); err != nil {
		return "", time.Time{}, err
	}
	if _, err := uuid.Parse(fileID); err != nil {
		return "", time.Time{}, ErrNotFound
	}

	file, err := s.repo.GetFile(ctx, quoteID, fileID)
	if err != nil {
		return "", time.Time{}, s.mapRepoError("получение файла заявки", err)
	}

	expiresAt := time.Now().Add(s.downloadURLTTL)
	url, err := s.objects.ResolveDownloadURL(ctx, file.FilePath, requester, s.downloadURLTTL, file.FileName)
	if err != nil {
		return "", time.Time{}, err
	}
	return url, expiresAt, nil
}

// TransitionTo переводит заявку в статус target.
//
// Только администратор. В одной транзакции: блокировка строки заявки,
// проверка перехода относительно текущего (уже заблокированного) статуса,
// обновление статуса и запись в журнал. Конкурентные переходы одной заявки
// выполняются последовательно; проигравший видит продвинутый статус,
// и его переход проверяется заново.
func (s *QuoteService) TransitionTo(
	ctx context.Context,
	actor model.Principal,
	quoteID string,
	target lifecycle.Status,
	notes string,
) (*model.Quote, error) {
	if !actor.IsAdmin {
		quoteTransitionsTotal.WithLabelValues(string(target), "forbidden").Inc()
		return nil, ErrForbidden
	}
	if _, err := uuid.Parse(quoteID); err != nil {
		return nil, ErrNotFound
	}

	var updated *model.Quote
	var from lifecycle.Status
	err := s.tx.InTx(ctx, func(repo repository.QuoteRepository) error {
		current, err := repo.GetForUpdate(ctx, quoteID)
		if err != nil {
			return err
		}
		from = current.Status

		if err := lifecycle.ValidateTransition(current.Status, target); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}

		updated, err = repo.UpdateStatus(ctx, quoteID, target)
		if err != nil {
			return err
		}
		return repo.AppendHistory(ctx, &model.StatusHistoryEntry{
			QuoteID: quoteID,
			Status:  target,
			Notes:   notes,
			Actor:   actor.ID,
		})
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			quoteTransitionsTotal.WithLabelValues(string(target), "invalid").Inc()
			return nil, err
		}
		quoteTransitionsTotal.WithLabelValues(string(target), "error").Inc()
		return nil, s.mapRepoError("смена статуса заявки", err)
	}

	quoteTransitionsTotal.WithLabelValues(string(target), "success").Inc()
	s.logger.Info("Статус заявки изменён",
		slog.String("quote_id", quoteID),
		slog.String("from", string(from)),
		slog.String("to", string(target)),
		slog.String("actor", actor.ID),
	)
	return updated, nil
}

// SetFinalPrice назначает итоговую цену заявки. Только администратор.
// Не зависит от статуса; обычно вызывается вместе с переходом в provided.
func (s *QuoteService) SetFinalPrice(ctx context.Context, actor model.Principal, quoteID string, amount model.Money) (*model.Quote, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: сумма не может быть отрицательной", ErrValidation)
	}
	if _, err := uuid.Parse(quoteID); err != nil {
		return nil, ErrNotFound
	}

	var updated *model.Quote
	err := s.tx.InTx(ctx, func(repo repository.QuoteRepository) error {
		if _, err := repo.GetForUpdate(ctx, quoteID); err != nil {
			return err
		}
		var err error
		updated, err = repo.SetFinalPrice(ctx, quoteID, amount)
		return err
	})
	if err != nil {
		return nil, s.mapRepoError("назначение цены", err)
	}

	s.logger.Info("Назначена итоговая цена заявки",
		slog.String("quote_id", quoteID),
		slog.String("final_price", amount.String()),
		slog.String("actor", actor.ID),
	)
	return updated, nil
}

// mapRepoError приводит ошибку репозитория к ошибкам сервисного слоя.
func (s *QuoteService) mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s: запись уже существует", ErrValidation, op)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.logger.Error("Ошибка БД",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, op, err)
	}
}

// canView — заявку видят владелец и администратор.
func canView(p model.Principal, q *model.Quote) bool {
	return p.IsAdmin || (!p.IsAnonymous() && p.ID == q.UserID)
}
