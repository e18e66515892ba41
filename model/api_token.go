package model

import "time"

// ApiToken authenticates CLI access to the HTTP API. Only the sha256 hash of
// the token is stored.
type ApiToken struct {
	Id         string `gorm:"primaryKey"`
	CreatedAt  time.Time
	Label      string
	TokenHash  string `gorm:"uniqueIndex"`
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// Active reports whether the token can still be used.
func (t *ApiToken) Active() bool {
	return t.RevokedAt == nil
}
