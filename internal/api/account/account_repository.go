package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-credentials-api/app/observability/metrics"
	"github.com/FACorreiaa/go-credentials-api/internal/types"
)

var _ AccountRepo = (*PostgresAccountRepo)(nil)

// AccountRepo is the credential store.
// Missing rows are reported as types.ErrNotFound, unique email violations as
// types.ErrDuplicateEmail, and everything else wraps types.ErrStoreUnavailable.
type AccountRepo interface {
	FindByEmail(ctx context.Context, email string) (*types.Account, error)
	FindByID(ctx context.Context, id int64) (*types.Account, error)
	// List returns accounts newest first. A non-empty search keeps only accounts whose
	// username or email contains it, ignoring case.
	List(ctx context.Context, search string) ([]types.Account, error)
	// Insert relies on the store's unique constraint on email; there is no prior lookup.
	Insert(ctx context.Context, username, email, passwordHash string) (int64, error)
	Update(ctx context.Context, id int64, username, email string) (*types.Account, error)
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const uniqueViolation = "23505"

const accountColumns = "id, username, email, password_hash, created_at, updated_at"

type PostgresAccountRepo struct {
	logger  *slog.Logger
	pgpool  DB
	metrics *metrics.AppMetrics
}

func NewPostgresAccountRepo(pgpool DB, logger *slog.Logger, m *metrics.AppMetrics) *PostgresAccountRepo {
	if m == nil {
		m = metrics.Noop()
	}
	return &PostgresAccountRepo{
		logger:  logger,
		pgpool:  pgpool,
		metrics: m,
	}
}

func (r *PostgresAccountRepo) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, semconv.DBSystemPostgreSQL, attribute.String("db.sql.table", "users"))
	return otel.Tracer("AccountRepo").Start(ctx, name, trace.WithAttributes(attrs...))
}

// pgError translates driver errors into the account error taxonomy.
func pgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return types.ErrDuplicateEmail
	}
	return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
}

func (r *PostgresAccountRepo) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) error {
	mapped := pgError(err)
	storeErr := mapped != nil && errors.Is(mapped, types.ErrStoreUnavailable)
	if storeErr {
		r.metrics.ObserveQuery(ctx, op, "postgresql", start, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB query failed")
		r.logger.ErrorContext(ctx, "Account query failed", slog.String("operation", op), slog.Any("error", err))
		return mapped
	}
	r.metrics.ObserveQuery(ctx, op, "postgresql", start, nil)
	if mapped == nil {
		span.SetStatus(codes.Ok, "")
	}
	return mapped
}

func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*types.Account, error) {
	ctx, span := r.startSpan(ctx, "FindByEmail")
	defer span.End()
	start := time.Now()

	query := "SELECT " + accountColumns + " FROM users WHERE email = $1"
	a, err := scanAccount(r.pgpool.QueryRow(ctx, query, email))
	if err = r.finish(ctx, span, "select", start, err); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PostgresAccountRepo) FindByID(ctx context.Context, id int64) (*types.Account, error) {
	ctx, span := r.startSpan(ctx, "FindByID", attribute.Int64("account.id", id))
	defer span.End()
	start := time.Now()

	query := "SELECT " + accountColumns + " FROM users WHERE id = $1"
	a, err := scanAccount(r.pgpool.QueryRow(ctx, query, id))
	if err = r.finish(ctx, span, "select", start, err); err != nil {
		return nil, err
	}
	return a, nil
}

// likePattern builds a %term% pattern with LIKE metacharacters escaped by backslash.
func likePattern(search string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(search)
	return "%" + escaped + "%"
}

func (r *PostgresAccountRepo) List(ctx context.Context, search string) ([]types.Account, error) {
	ctx, span := r.startSpan(ctx, "List", attribute.Bool("search.present", search != ""))
	defer span.End()
	start := time.Now()

	query := "SELECT " + accountColumns + " FROM users"
	var args []any
	if search != "" {
		query += ` WHERE username ILIKE $1 ESCAPE '\' OR email ILIKE $1 ESCAPE '\'`
		args = append(args, likePattern(search))
	}
	query += " ORDER BY id DESC"

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		return nil, r.finish(ctx, span, "select", start, err)
	}
	defer rows.Close()

	accounts := make([]types.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
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

func (r *PostgresAccountRepo) Insert(ctx context.Context, username, email, passwordHash string) (int64, error) {
	ctx, span := r.startSpan(ctx, "Insert")
	defer span.End()
	start := time.Now()

	var id int64
	err := r.pgpool.QueryRow(ctx,
		"INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3) RETURNING id",
		username, email, passwordHash).Scan(&id)
	if err = r.finish(ctx, span, "insert", start, err); err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("account.id", id))
	return id, nil
}

func (r *PostgresAccountRepo) Update(ctx context.Context, id int64, username, email string) (*types.Account, error) {
	ctx, span := r.startSpan(ctx, "Update", attribute.Int64("account.id", id))
	defer span.End()
	start := time.Now()

	query := "UPDATE users SET username = $1, email = $2, updated_at = NOW() WHERE id = $3 RETURNING " + accountColumns
	a, err := scanAccount(r.pgpool.QueryRow(ctx, query, username, email, id))
	if err = r.finish(ctx, span, "update", start, err); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PostgresAccountRepo) Delete(ctx context.Context, id int64) error {
	ctx, span := r.startSpan(ctx, "Delete", attribute.Int64("account.id", id))
	defer span.End()
	start := time.Now()

	tag, err := r.pgpool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err = r.finish(ctx, span, "delete", start, err); err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (r *PostgresAccountRepo) Ping(ctx context.Context) error {
	if err := r.pgpool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}
