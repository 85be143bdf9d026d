package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/FACorreiaa/go-credentials-api/app/observability/metrics"
	"github.com/FACorreiaa/go-credentials-api/internal/types"
)

var _ AccountRepo = (*SQLiteAccountRepo)(nil)

// SQLiteAccountRepo stores accounts in a single sqlite file. Schema comes from
// database.OpenSQLite migrations.
type SQLiteAccountRepo struct {
	logger  *slog.Logger
	db      *sql.DB
	metrics *metrics.AppMetrics
}

func NewSQLiteAccountRepo(db *sql.DB, logger *slog.Logger, m *metrics.AppMetrics) *SQLiteAccountRepo {
	if m == nil {
		m = metrics.Noop()
	}
	return &SQLiteAccountRepo{logger: logger, db: db, metrics: m}
}

func (r *SQLiteAccountRepo) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, semconv.DBSystemSqlite, attribute.String("db.sql.table", "users"))
	return otel.Tracer("AccountRepo").Start(ctx, name, trace.WithAttributes(attrs...))
}

func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return types.ErrDuplicateEmail
	}
	return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
}

func (r *SQLiteAccountRepo) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) error {
	mapped := sqliteError(err)
	if mapped != nil && errors.Is(mapped, types.ErrStoreUnavailable) {
		r.metrics.ObserveQuery(ctx, op, "sqlite", start, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		r.logger.ErrorContext(ctx, "Account query failed", slog.String("operation", op), slog.Any("error", err))
		return mapped
	}
	r.metrics.ObserveQuery(ctx, op, "sqlite", start, nil)
	if mapped == nil {
		span.SetStatus(codes.Ok, "")
	}
	return mapped
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAccount(row rowScanner) (*types.Account, error) {
	var a types.Account
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLiteAccountRepo) FindByEmail(ctx context.Context, email string) (*types.Account, error) {
	ctx, span := r.startSpan(ctx, "FindByEmail")
	defer span.End()
	start := time.Now()

	row := r.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM users WHERE email = ?", email)
	a, err := scanSQLiteAccount(row)
	if err = r.finish(ctx, span, "select", start, err); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *SQLiteAccountRepo) FindByID(ctx context.Context, id int64) (*types.Account, error) {
	ctx, span := r.startSpan(ctx, "FindByID", attribute.Int64("account.id", id))
	defer span.End()
	start := time.Now()

	row := r.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM users WHERE id = ?", id)
	a, err := scanSQLiteAccount(row)
	if err = r.finish(ctx, span, "select", start, err); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *SQLiteAccountRepo) List(ctx context.Context, search string) ([]types.Account, error) {
	ctx, span := r.startSpan(ctx, "List", attribute.Bool("search.present", search != ""))
	defer span.End()
	start := time.Now()

	query := "SELECT " + accountColumns + " FROM users"
	var args []any
	if search != "" {
		query += ` WHERE LOWER(username) LIKE LOWER(?1) ESCAPE '\' OR LOWER(email) LIKE LOWER(?1) ESCAPE '\'`
		args = append(args, likePattern(search))
	}
	query += " ORDER BY id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.finish(ctx, span, "select", start, err)
	}
	defer rows.Close()

	accounts := make([]types.Account, 0)
	for rows.Next() {
		a, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, r.finish(ctx, span, "select", start, err)
		}
		accounts = append(accounts, *a)
	}
	if err = r.finish(ctx, span, "select", start, rows.Err()); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("accounts.count", len(accounts)))
	return accounts, nil
}

func (r *SQLiteAccountRepo) Insert(ctx context.Context, username, email, passwordHash string) (int64, error) {
	ctx, span := r.startSpan(ctx, "Insert")
	defer span.End()
	start := time.Now()

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		username, email, passwordHash, now, now)
	if err = r.finish(ctx, span, "insert", start, err); err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	span.SetAttributes(attribute.Int64("account.id", id))
	return id, nil
}

func (r *SQLiteAccountRepo) Update(ctx context.Context, id int64, username, email string) (*types.Account, error) {
	ctx, span := r.startSpan(ctx, "Update", attribute.Int64("account.id", id))
	defer span.End()
	start := time.Now()

	row := r.db.QueryRowContext(ctx,
		"UPDATE users SET username = ?, email = ?, updated_at = ? WHERE id = ? RETURNING "+accountColumns,
		username, email, time.Now().UTC(), id)
	a, err := scanSQLiteAccount(row)
	if err = r.finish(ctx, span, "update", start, err); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *SQLiteAccountRepo) Delete(ctx context.Context, id int64) error {
	ctx, span := r.startSpan(ctx, "Delete", attribute.Int64("account.id", id))
	defer span.End()
	start := time.Now()

	res, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err = r.finish(ctx, span, "delete", start, err); err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *SQLiteAccountRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}
