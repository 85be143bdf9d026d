package types

import "time"

type AccountEventType string

const (
	AccountRegistered AccountEventType = "account.registered"
	AccountUpdated    AccountEventType = "account.updated"
	AccountDeleted    AccountEventType = "account.deleted"
)

// AccountEvent is published after an account mutation has been committed.
type AccountEvent struct {
	Type       AccountEventType `json:"type"`
	AccountID  int64            `json:"account_id"`
	Username   string           `json:"username,omitempty"`
	Email      string           `json:"email,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
