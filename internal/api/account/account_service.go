package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/go-credentials-api/app/observability/metrics"
	"github.com/FACorreiaa/go-credentials-api/internal/api/auth"
	"github.com/FACorreiaa/go-credentials-api/internal/types"
)

var _ AccountService = (*AccountServiceImpl)(nil)

// AccountService is the business logic behind the account endpoints. Every error it
// returns is one of the types sentinels (possibly wrapped).
type AccountService interface {
	Register(ctx context.Context, username, email, password string) (int64, error)
	Login(ctx context.Context, email, password string) (*types.LoginResult, error)
	ListAccounts(ctx context.Context, search string) ([]types.AccountView, error)
	GetAccount(ctx context.Context, id int64) (*types.AccountView, error)
	UpdateAccount(ctx context.Context, id int64, username, email string) (*types.AccountView, error)
	DeleteAccount(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// TokenIssuer is the token side of auth.TokenIssuer the service needs.
type TokenIssuer interface {
	Issue(accountID int64, email string) (string, time.Time, error)
}

const publishTimeout = 2 * time.Second

// dummyPassword is hashed once so logins for unknown emails pay the same bcrypt cost.
const dummyPassword = "timing-equaliser-not-a-real-password"

type registerInput struct {
	Username string `validate:"required,max=50"`
	Email    string `validate:"required,max=100"`
	Password string `validate:"required"`
}

type updateInput struct {
	Username string `validate:"required,max=50"`
	Email    string `validate:"required,max=100"`
}

type AccountServiceImpl struct {
	logger    *slog.Logger
	repo      AccountRepo
	hasher    auth.PasswordHasher
	tokens    TokenIssuer
	events    EventPublisher
	metrics   *metrics.AppMetrics
	validate  *validator.Validate
	dummyMu   sync.Mutex
	dummyHash string
}

func NewAccountService(repo AccountRepo, hasher auth.PasswordHasher, tokens TokenIssuer, events EventPublisher, m *metrics.AppMetrics, logger *slog.Logger) *AccountServiceImpl {
	if events == nil {
		events = NoopPublisher{}
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &AccountServiceImpl{
		logger:   logger,
		repo:     repo,
		hasher:   hasher,
		tokens:   tokens,
		events:   events,
		metrics:  m,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// storeError passes taxonomy errors through and wraps anything else as a store failure.
func storeError(err error) error {
	switch {
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrDuplicateEmail),
		errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
}

func (s *AccountServiceImpl) validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fmt.Sprintf("%s:%s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", types.ErrValidation, strings.Join(fields, ","))
	}
	return fmt.Errorf("%w: %v", types.ErrValidation, err)
}

func (s *AccountServiceImpl) hash(ctx context.Context, password string) (string, error) {
	start := time.Now()
	defer func() {
		s.metrics.PasswordHashSeconds.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("op", "hash")))
	}()
	return s.hasher.Hash(ctx, password)
}

func (s *AccountServiceImpl) verify(ctx context.Context, password, hash string) bool {
	start := time.Now()
	defer func() {
		s.metrics.PasswordHashSeconds.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("op", "verify")))
	}()
	return s.hasher.Verify(ctx, password, hash)
}

// publish is best effort: the change is already committed, so failures are only logged.
func (s *AccountServiceImpl) publish(ctx context.Context, l *slog.Logger, event types.AccountEvent) {
	event.OccurredAt = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, event); err != nil {
		l.WarnContext(ctx, "Failed to publish account event", slog.String("event", string(event.Type)), slog.Any("error", err))
	}
}

func (s *AccountServiceImpl) Register(ctx context.Context, username, email, password string) (int64, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "Register")
	defer span.End()
	l := s.logger.With(slog.String("method", "Register"))
	start := time.Now()

	status := "error"
	defer func() {
		attrs := metric.WithAttributes(attribute.String("status", status))
		s.metrics.RegisterRequestsTotal.Add(ctx, 1, attrs)
		s.metrics.RegisterDurationSeconds.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	in := registerInput{
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
		Password: password,
	}
	if err := s.validate.Struct(in); err != nil {
		status = "invalid"
		span.SetStatus(codes.Error, "validation failed")
		l.InfoContext(ctx, "Rejected registration", slog.Any("error", err))
		return 0, s.validationError(err)
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		status = "invalid"
		span.SetStatus(codes.Error, "validation failed")
		return 0, fmt.Errorf("%w: password longer than %d bytes", types.ErrValidation, auth.MaxPasswordBytes)
	}

	hashed, err := s.hash(ctx, in.Password)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hash failed")
		if errors.Is(err, types.ErrValidation) {
			status = "invalid"
			return 0, err
		}
		l.ErrorContext(ctx, "Failed to hash password", slog.Any("error", err))
		return 0, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}

	id, err := s.repo.Insert(ctx, in.Username, in.Email, hashed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		if errors.Is(err, types.ErrDuplicateEmail) {
			status = "duplicate"
			l.InfoContext(ctx, "Registration for existing email")
			return 0, err
		}
		l.ErrorContext(ctx, "Failed to insert account", slog.Any("error", err))
		return 0, storeError(err)
	}

	status = "created"
	span.SetAttributes(attribute.Int64("account.id", id))
	span.SetStatus(codes.Ok, "")
	l.InfoContext(ctx, "Account registered", slog.Int64("accountID", id))

	s.publish(ctx, l, types.AccountEvent{Type: types.AccountRegistered, AccountID: id, Username: in.Username, Email: in.Email})
	return id, nil
}

// dummy returns the hash unknown-email logins are verified against. It is built
// detached from the caller's context and only cached once it succeeds, so a
// cancelled request can't leave later logins without it.
func (s *AccountServiceImpl) dummy(ctx context.Context) string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyHash != "" {
		return s.dummyHash
	}
	h, err := s.hasher.Hash(context.WithoutCancel(ctx), dummyPassword)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to prepare dummy hash", slog.Any("error", err))
		return ""
	}
	s.dummyHash = h
	return s.dummyHash
}

func (s *AccountServiceImpl) Login(ctx context.Context, email, password string) (*types.LoginResult, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "Login")
	defer span.End()
	l := s.logger.With(slog.String("method", "Login"))

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.metrics.LoginAttempt(ctx, metrics.OutcomeInvalidCredentials)
		span.SetStatus(codes.Error, "invalid credentials")
		return nil, types.ErrInvalidCredentials
	}

	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			s.metrics.LoginAttempt(ctx, metrics.OutcomeError)
			span.RecordError(err)
			span.SetStatus(codes.Error, "lookup failed")
			l.ErrorContext(ctx, "Failed to look up account", slog.Any("error", err))
			return nil, storeError(err)
		}
		s.verify(ctx, password, s.dummy(ctx))
		s.metrics.LoginAttempt(ctx, metrics.OutcomeInvalidCredentials)
		span.SetStatus(codes.Error, "invalid credentials")
		l.InfoContext(ctx, "Login failed")
		return nil, types.ErrInvalidCredentials
	}

	if !s.verify(ctx, password, account.PasswordHash) {
		s.metrics.LoginAttempt(ctx, metrics.OutcomeInvalidCredentials)
		span.SetStatus(codes.Error, "invalid credentials")
		l.InfoContext(ctx, "Login failed")
		return nil, types.ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(account.ID, account.Email)
	if err != nil {
		s.metrics.LoginAttempt(ctx, metrics.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issue failed")
		l.ErrorContext(ctx, "Failed to issue token", slog.Any("error", err))
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.metrics.LoginAttempt(ctx, metrics.OutcomeSuccess)
	span.SetAttributes(attribute.Int64("account.id", account.ID))
	span.SetStatus(codes.Ok, "")
	l.InfoContext(ctx, "Login succeeded", slog.Int64("accountID", account.ID))

	return &types.LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      account.View(),
	}, nil
}

func (s *AccountServiceImpl) ListAccounts(ctx context.Context, search string) ([]types.AccountView, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "ListAccounts", trace.WithAttributes(
		attribute.Bool("search.present", search != ""),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "ListAccounts"))

	accounts, err := s.repo.List(ctx, strings.TrimSpace(search))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		l.ErrorContext(ctx, "Failed to list accounts", slog.Any("error", err))
		return nil, storeError(err)
	}

	views := make([]types.AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, a.View())
	}
	span.SetStatus(codes.Ok, "")
	return views, nil
}

func (s *AccountServiceImpl) GetAccount(ctx context.Context, id int64) (*types.AccountView, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "GetAccount", trace.WithAttributes(
		attribute.Int64("account.id", id),
	))
	defer span.End()

	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return nil, storeError(err)
	}
	view := account.View()
	return &view, nil
}

func (s *AccountServiceImpl) UpdateAccount(ctx context.Context, id int64, username, email string) (*types.AccountView, error) {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "UpdateAccount", trace.WithAttributes(
		attribute.Int64("account.id", id),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "UpdateAccount"), slog.Int64("accountID", id))

	in := updateInput{
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
	}
	if err := s.validate.Struct(in); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, s.validationError(err)
	}

	account, err := s.repo.Update(ctx, id, in.Username, in.Email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrDuplicateEmail) {
			l.InfoContext(ctx, "Account update rejected", slog.Any("error", err))
			return nil, err
		}
		l.ErrorContext(ctx, "Failed to update account", slog.Any("error", err))
		return nil, storeError(err)
	}

	span.SetStatus(codes.Ok, "")
	l.InfoContext(ctx, "Account updated")
	s.publish(ctx, l, types.AccountEvent{Type: types.AccountUpdated, AccountID: id, Username: account.Username, Email: account.Email})

	view := account.View()
	return &view, nil
}

func (s *AccountServiceImpl) DeleteAccount(ctx context.Context, id int64) error {
	ctx, span := otel.Tracer("AccountService").Start(ctx, "DeleteAccount", trace.WithAttributes(
		attribute.Int64("account.id", id),
	))
	defer span.End()
	l := s.logger.With(slog.String("method", "DeleteAccount"), slog.Int64("accountID", id))

	if err := s.repo.Delete(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		if errors.Is(err, types.ErrNotFound) {
			return err
		}
		l.ErrorContext(ctx, "Failed to delete account", slog.Any("error", err))
		return storeError(err)
	}

	span.SetStatus(codes.Ok, "")
	l.InfoContext(ctx, "Account deleted")
	s.publish(ctx, l, types.AccountEvent{Type: types.AccountDeleted, AccountID: id})
	return nil
}

// Ping reports whether the credential store is reachable.
func (s *AccountServiceImpl) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return storeError(err)
	}
	return nil
}
