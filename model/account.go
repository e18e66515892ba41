package model

import (
	"time"
)

/*

Account is a posting identity

Handle: unique account handle, e.g. the X username without the "@"
Provider: posting platform, only "x" for now
AccessToken/RefreshToken/TokenExpiry: externally managed OAuth credentials,
	opaque to the orchestration core
Scopes: space separated OAuth scopes granted

Invariant: at most one run per account may be actively publishing at any
instant. Enforced by the job scheduler, not by this record.

*/

type Account struct {
	Id           string `gorm:"primaryKey"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Handle       string `gorm:"uniqueIndex"`
	Provider     string `gorm:"default:x"`
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	Scopes       string
	Runs         []*Run `json:"runs"`
}
