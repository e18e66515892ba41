package model

import (
	"time"
)

const (
	RoleContent   = "content"
	RoleReference = "reference"
)

/*

Post is one publishable unit of a run

Id: primary key
RunID: owning run, "belongs-to" relation
Idx: 0-based sequence index. Content posts are published strictly in
	 ascending idx order; a reference post is always published last.
Role: "content" (numbered 1..T in the rendered prefix) or "reference"
	 (never numbered, excluded from T)
Text: post body as it will be published
MediaUrl/MediaAlt: optional attached media
RemoteId: id returned by the platform once published. Immutable once set,
	 it is the sole durable evidence of publication and the resume cursor.
AttemptCount: total publish attempts so far, across dispatches
PostedAt: time the remote id was recorded

*/

type Post struct {
	Id           string `gorm:"primaryKey"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	RunID        string `gorm:"index"`
	Idx          int
	Role         string `gorm:"default:content"`
	Text         string
	MediaUrl     string
	MediaAlt     string
	RemoteId     string `gorm:"index"`
	AttemptCount int
	PostedAt     *time.Time
}

// Published reports whether this post has durable evidence of publication.
func (p *Post) Published() bool {
	return p.RemoteId != ""
}
