package types

import "time"

// Account is the stored credential record.
type Account struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// View strips everything a client must never see.
func (a Account) View() AccountView {
	return AccountView{
		ID:       a.ID,
		Username: a.Username,
		Email:    a.Email,
	}
}

// AccountView is the only account shape that leaves the service.
type AccountView struct {
	ID       int64  `json:"id" example:"42"`
	Username string `json:"username" example:"u1"`
	Email    string `json:"email" example:"u1@x.com"`
}

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Username string `json:"username" example:"u1"`
	Email    string `json:"email" example:"u1@x.com"`
	Password string `json:"password" example:"pw123"`
}

// RegisterResponse is returned with 201 on successful registration.
type RegisterResponse struct {
	Message string `json:"message" example:"User registered successfully"`
	UserID  int64  `json:"userId" example:"42"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Email    string `json:"email" example:"u1@x.com"`
	Password string `json:"password" example:"pw123"`
}

// LoginResult is what the account service hands back after a successful login.
type LoginResult struct {
	Token     string      `json:"token" example:"eyJhbGciOiJI..."`
	ExpiresAt time.Time   `json:"expires_at"`
	User      AccountView `json:"user"`
}

// UpdateAccountRequest is the body of PUT /api/users/{id}.
type UpdateAccountRequest struct {
	Username string `json:"username" example:"u1b"`
	Email    string `json:"email" example:"u1b@x.com"`
}

// UpdateAccountResponse echoes the stored record so clients can reconcile local state.
type UpdateAccountResponse struct {
	Message string      `json:"message" example:"User updated successfully"`
	User    AccountView `json:"user"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message" example:"User deleted successfully"`
}

// ErrorResponse is the single error shape of the HTTP contract.
type ErrorResponse struct {
	Error string `json:"error" example:"Invalid credentials"`
}
