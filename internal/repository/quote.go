package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/quote-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/quote-module/internal/domain/model"
)

// QuoteRepository — интерфейс для таблиц quotes, quote_status_history и quote_files.
type QuoteRepository interface {
	// Create создаёт заявку. ID задаёт вызывающий; CreatedAt/UpdatedAt заполняются из БД.
	Create(ctx context.Context, q *model.Quote) error
	// GetByID возвращает заявку по ID.
	GetByID(ctx context.Context, id string) (*model.Quote, error)
	// GetForUpdate возвращает заявку и блокирует строку до конца транзакции.
	// Вне транзакции блокировка снимается сразу после запроса.
	GetForUpdate(ctx context.Context, id string) (*model.Quote, error)
	// UpdateStatus устанавливает статус и возвращает обновлённую заявку.
	UpdateStatus(ctx context.Context, id string, status lifecycle.Status) (*model.Quote, error)
	// SetFinalPrice устанавливает итоговую цену и возвращает обновлённую заявку.
	SetFinalPrice(ctx context.Context, id string, price model.Money) (*model.Quote, error)

	// AppendHistory добавляет запись в журнал статусов.
	AppendHistory(ctx context.Context, e *model.StatusHistoryEntry) error
	// ListHistory возвращает журнал статусов заявки в хронологическом порядке.
	ListHistory(ctx context.Context, quoteID string) ([]*model.StatusHistoryEntry, error)

	// CreateFile добавляет файл заявки.
	CreateFile(ctx context.Context, f *model.QuoteFile) error
	// ListFiles возвращает файлы заявки.
	ListFiles(ctx context.Context, quoteID string) ([]*model.QuoteFile, error)
	// GetFile возвращает файл заявки по ID.
	GetFile(ctx context.Context, quoteID, fileID string) (*model.QuoteFile, error)
}

// quoteRepo — реализация QuoteRepository.
type quoteRepo struct {
	db DBTX
}

// NewQuoteRepository создаёт репозиторий заявок.
// db — *pgxpool.Pool или pgx.Tx.
func NewQuoteRepository(db DBTX) QuoteRepository {
	return &quoteRepo{db: db}
}

const quoteColumns = `id, user_id, service, status, final_price_cents, target_price_cents, notes, created_at, updated_at`

func (r *quoteRepo) Create(ctx context.Context, q *model.Quote) error {
	query := `
		INSERT INTO quotes (id, user_id, service, status, final_price_cents, target_price_cents, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		q.ID, q.UserID, q.Service, string(q.Status),
		moneyToNullable(q.FinalPrice), moneyToNullable(q.TargetPrice), q.Notes,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

func (r *quoteRepo) GetByID(ctx context.Context, id string) (*model.Quote, error) {
	query := fmt.Sprintf(`SELECT %s FROM quotes WHERE id = $1`, quoteColumns)
	return r.getOne(ctx, query, id)
}

func (r *quoteRepo) GetForUpdate(ctx context.Context, id string) (*model.Quote, error) {
	query := fmt.Sprintf(`SELECT %s FROM quotes WHERE id = $1 FOR UPDATE`, quoteColumns)
	return r.getOne(ctx, query, id)
}

func (r *quoteRepo) UpdateStatus(ctx context.Context, id string, status lifecycle.Status) (*model.Quote, error) {
	query := fmt.Sprintf(`
		UPDATE quotes SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING %s`, quoteColumns)
	return r.getOne(ctx, query, id, string(status))
}

func (r *quoteRepo) SetFinalPrice(ctx context.Context, id string, price model.Money) (*model.Quote, error) {
	query := fmt.Sprintf(`
		UPDATE quotes SET final_price_cents = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING %s`, quoteColumns)
	return r.getOne(ctx, query, id, int64(price))
}

// getOne выполняет запрос, возвращающий одну заявку.
func (r *quoteRepo) getOne(ctx context.Context, query string, args ...any) (*model.Quote, error) {
	q, err := scanQuote(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return q, nil
}

func (r *quoteRepo) AppendHistory(ctx context.Context, e *model.StatusHistoryEntry) error {
	query := `
		INSERT INTO quote_status_history (quote_id, status, notes, actor)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query, e.QuoteID, string(e.Status), e.Notes, e.Actor).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка добавления записи истории статусов: %w", err)
	}
	return nil
}

func (r *quoteRepo) ListHistory(ctx context.Context, quoteID string) ([]*model.StatusHistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, quote_id, status, notes, actor, created_at
		FROM quote_status_history
		WHERE quote_id = $1
		ORDER BY id`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории статусов: %w", err)
	}
	defer rows.Close()

	var result []*model.StatusHistoryEntry
	for rows.Next() {
		e := &model.StatusHistoryEntry{}
		var status string
		if err := rows.Scan(&e.ID, &e.QuoteID, &status, &e.Notes, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи истории: %w", err)
		}
		e.Status = lifecycle.Status(status)
		result = append(result, e)
	}
	return result, rows.Err()
}

const fileColumns = `id, quote_id, file_name, file_path, file_size, created_at`

func (r *quoteRepo) CreateFile(ctx context.Context, f *model.QuoteFile) error {
	query := `
		INSERT INTO quote_files (id, quote_id, file_name, file_path, file_size)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, f.ID, f.QuoteID, f.FileName, f.FilePath, f.FileSize).Scan(&f.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания файла заявки: %w", err)
	}
	return nil
}

func (r *quoteRepo) ListFiles(ctx context.Context, quoteID string) ([]*model.QuoteFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM quote_files WHERE quote_id = $1 ORDER BY created_at, file_name`, fileColumns)

	rows, err := r.db.Query(ctx, query, quoteID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения файлов заявки: %w", err)
	}
	defer rows.Close()

	var result []*model.QuoteFile
	for rows.Next() {
		f := &model.QuoteFile{}
		if err := rows.Scan(&f.ID, &f.QuoteID, &f.FileName, &f.FilePath, &f.FileSize, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла заявки: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *quoteRepo) GetFile(ctx context.Context, quoteID, fileID string) (*model.QuoteFile, error) {
	query := fmt.Sprintf(`SELECT %s FROM quote_files WHERE quote_id = $1 AND id = $2`, fileColumns)

	f := &model.QuoteFile{}
	err := r.db.QueryRow(ctx, query, quoteID, fileID).Scan(
		&f.ID, &f.QuoteID, &f.FileName, &f.FilePath, &f.FileSize, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла заявки: %w", err)
	}
	return f, nil
}

// scanQuote сканирует строку с колонками quoteColumns.
func scanQuote(row pgx.Row) (*model.Quote, error) {
	q := &model.Quote{}
	var status string
	var finalPrice, targetPrice *int64
	if err := row.Scan(
		&q.ID, &q.UserID, &q.Service, &status, &finalPrice, &targetPrice,
		&q.Notes, &q.CreatedAt, &q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	q.Status = lifecycle.Status(status)
	q.FinalPrice = nullableToMoney(finalPrice)
	q.TargetPrice = nullableToMoney(targetPrice)
	return q, nil
}

func moneyToNullable(m *model.Money) *int64 {
	if m == nil {
		return nil
	}
	v := int64(*m)
	return &v
}

func nullableToMoney(v *int64) *model.Money {
	if v == nil {
		return nil
	}
	m := model.Money(*v)
	return &m
}
