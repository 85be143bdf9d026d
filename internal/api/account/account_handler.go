package account

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/FACorreiaa/go-credentials-api/internal/api"
	"github.com/FACorreiaa/go-credentials-api/internal/api/auth"
	"github.com/FACorreiaa/go-credentials-api/internal/types"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	ListUsers(w http.ResponseWriter, r *http.Request)
	UpdateUser(w http.ResponseWriter, r *http.Request)
	DeleteUser(w http.ResponseWriter, r *http.Request)
	Me(w http.ResponseWriter, r *http.Request)
	Health(w http.ResponseWriter, r *http.Request)
}

// Client-visible error messages. Raw error text never leaves the service.
const (
	msgMissingFields      = "Missing fields"
	msgUserExists         = "User exists"
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidBody        = "Invalid request body"
	msgFetchUsers         = "Could not fetch users"
	msgEmailExists        = "Email already exists"
	msgUserNotFound       = "User not found"
	msgInternal           = "Internal server error"
	msgUnavailable        = "Service unavailable"
)

type HandlerImpl struct {
	accountService AccountService
	logger         *slog.Logger
}

func NewHandlerImpl(accountService AccountService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		accountService: accountService,
		logger:         logger,
	}
}

// accountIDParam reads {id}. Anything that is not a positive integer cannot name an account.
func accountIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Register godoc
// @Summary      Register a new account
// @Description  Creates an account. The email must not be registered yet.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body types.RegisterRequest true "Account details"
// @Success      201 {object} types.RegisterResponse
// @Failure      400 {object} types.ErrorResponse "Missing fields or User exists"
// @Failure      429 {object} types.ErrorResponse
// @Failure      500 {object} types.ErrorResponse
// @Router       /api/register [post]
func (h *HandlerImpl) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "Register"))

	var req types.RegisterRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request body", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, msgInvalidBody)
		return
	}

	id, err := h.accountService.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrValidation):
			api.ErrorResponse(w, r, http.StatusBadRequest, msgMissingFields)
		case errors.Is(err, types.ErrDuplicateEmail):
			api.ErrorResponse(w, r, http.StatusBadRequest, msgUserExists)
		default:
			l.ErrorContext(ctx, "Registration failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, msgInternal)
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, types.RegisterResponse{
		Message: "User registered successfully",
		UserID:  id,
	})
}

// Login godoc
// @Summary      Log in
// @Description  Verifies credentials and returns a bearer token with the account view.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body body types.LoginRequest true "Credentials"
// @Success      200 {object} types.LoginResult
// @Failure      401 {object} types.ErrorResponse "Invalid credentials"
// @Failure      429 {object} types.ErrorResponse
// @Failure      500 {object} types.ErrorResponse
// @Router       /api/login [post]
func (h *HandlerImpl) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "Login"))

	var req types.LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request body", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, msgInvalidBody)
		return
	}

	result, err := h.accountService.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, types.ErrInvalidCredentials) {
			api.ErrorResponse(w, r, http.StatusUnauthorized, msgInvalidCredentials)
			return
		}
		l.ErrorContext(ctx, "Login failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, msgInternal)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, result)
}

// ListUsers godoc
// @Summary      List accounts
// @Description  Newest first. search filters by username or email, ignoring case.
// @Tags         Users
// @Produce      json
// @Param        search query string false "Substring of username or email"
// @Success      200 {array} types.AccountView
// @Failure      401 {object} types.ErrorResponse
// @Failure      500 {object} types.ErrorResponse "Could not fetch users"
// @Security     BearerAuth
// @Router       /api/users [get]
func (h *HandlerImpl) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "ListUsers"))

	views, err := h.accountService.ListAccounts(ctx, r.URL.Query().Get("search"))
	if err != nil {
		l.ErrorContext(ctx, "Failed to list accounts", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, msgFetchUsers)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, views)
}

// UpdateUser godoc
// @Summary      Update an account
// @Description  Replaces username and email. The password is not changed here.
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        id path int true "Account ID"
// @Param        body body types.UpdateAccountRequest true "New values"
// @Success      200 {object} types.UpdateAccountResponse
// @Failure      400 {object} types.ErrorResponse "Missing fields or Email already exists"
// @Failure      401 {object} types.ErrorResponse
// @Failure      404 {object} types.ErrorResponse "User not found"
// @Failure      500 {object} types.ErrorResponse
// @Security     BearerAuth
// @Router       /api/users/{id} [put]
func (h *HandlerImpl) UpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "UpdateUser"))

	id, ok := accountIDParam(r)
	if !ok {
		api.ErrorResponse(w, r, http.StatusNotFound, msgUserNotFound)
		return
	}

	var req types.UpdateAccountRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		l.WarnContext(ctx, "Failed to decode request body", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusBadRequest, msgInvalidBody)
		return
	}

	view, err := h.accountService.UpdateAccount(ctx, id, req.Username, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrValidation):
			api.ErrorResponse(w, r, http.StatusBadRequest, msgMissingFields)
		case errors.Is(err, types.ErrDuplicateEmail):
			api.ErrorResponse(w, r, http.StatusBadRequest, msgEmailExists)
		case errors.Is(err, types.ErrNotFound):
			api.ErrorResponse(w, r, http.StatusNotFound, msgUserNotFound)
		default:
			l.ErrorContext(ctx, "Failed to update account", slog.Int64("accountID", id), slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, msgInternal)
		}
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, types.UpdateAccountResponse{
		Message: "User updated successfully",
		User:    *view,
	})
}

// DeleteUser godoc
// @Summary      Delete an account
// @Tags         Users
// @Produce      json
// @Param        id path int true "Account ID"
// @Success      200 {object} types.MessageResponse
// @Failure      401 {object} types.ErrorResponse
// @Failure      404 {object} types.ErrorResponse "User not found"
// @Failure      500 {object} types.ErrorResponse
// @Security     BearerAuth
// @Router       /api/users/{id} [delete]
func (h *HandlerImpl) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "DeleteUser"))

	id, ok := accountIDParam(r)
	if !ok {
		api.ErrorResponse(w, r, http.StatusNotFound, msgUserNotFound)
		return
	}

	if err := h.accountService.DeleteAccount(ctx, id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, msgUserNotFound)
			return
		}
		l.ErrorContext(ctx, "Failed to delete account", slog.Int64("accountID", id), slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, msgInternal)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, types.MessageResponse{Message: "User deleted successfully"})
}

// Me godoc
// @Summary      Current account
// @Description  Returns the account the bearer token was issued for.
// @Tags         Users
// @Produce      json
// @Success      200 {object} types.AccountView
// @Failure      401 {object} types.ErrorResponse
// @Failure      404 {object} types.ErrorResponse
// @Security     BearerAuth
// @Router       /api/me [get]
func (h *HandlerImpl) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := h.logger.With(slog.String("HandlerImpl", "Me"))

	id, ok := auth.GetAccountIDFromContext(ctx)
	if !ok {
		l.ErrorContext(ctx, "Account ID not found in context")
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	view, err := h.accountService.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, msgUserNotFound)
			return
		}
		l.ErrorContext(ctx, "Failed to load account", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, msgInternal)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, view)
}

// Health godoc
// @Summary      Readiness probe
// @Tags         Health
// @Produce      json
// @Success      200 {object} map[string]string
// @Failure      503 {object} types.ErrorResponse
// @Router       /health [get]
func (h *HandlerImpl) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.accountService.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "Health check failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
