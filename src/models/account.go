package models

import "time"

// Account groups credentials under one provider relationship.
// Priority defines a strict preference order among active accounts:
// lower value means preferred.
type Account struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	Provider   string        `json:"provider"`
	Priority   int           `json:"priority"`
	Status     AccountStatus `json:"status"`
	DailyQuota int64         `json:"daily_quota"`
	CreatedAt  time.Time     `json:"created_at"`
}

// IsActive returns true if the account participates in rotation.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}
