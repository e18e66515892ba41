package model

import (
	"time"

	"gorm.io/gorm"
)

type RunStatus string

const (
	RunStatusSubmitted      RunStatus = "submitted"
	RunStatusReview         RunStatus = "review"
	RunStatusApproved       RunStatus = "approved"
	RunStatusPosting        RunStatus = "posting"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusRequiresReview RunStatus = "requires_review"
	RunStatusFailed         RunStatus = "failed"
)

const (
	ModeReview = "review"
	ModeAuto   = "auto"

	TypeThread = "thread"
	TypeSingle = "single"
)

/*

Run is one end-to-end submission from URL to published output(s)

Id: primary key
CreatedAt: time when entity is created
UpdatedAt: time when entity is last mutated
DeletedAt: time when entity is deleted

AccountID:
Account: posting identity this run publishes as, "belongs-to" relation
Url: the URL as submitted by the user
CanonicalUrl: normalized identity of the article, used for duplicate detection
Mode: "review" requires human approval before posting, "auto" skips it
Type: "thread" for an ordered sequence of posts, "single" for one post
Status: lifecycle state, only mutated by the run state machine and the
		posting orchestrator, never regresses from completed

IncludeReference: whether a trailing unnumbered reference post is published
UtmCampaign: utm_campaign value stamped on the reference link
CostEstimate: generation cost estimate in USD
TokensIn/TokensOut: token accounting from generation
ErrorMessage: why the run needs attention, set on review/requires_review/failed.
Non-failure notes (duplicate in review mode) carry a "warning: " prefix
ScrapedTitle/ScrapedText/WordCount: extraction results kept for the review surface
ResumeCount: automatic re-dispatches consumed from the posting stage

Posts: ordered publishable units exclusively owned by this run

*/

type Run struct {
	Id               string `gorm:"primaryKey"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        gorm.DeletedAt
	AccountID        string  `gorm:"index;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Account          Account `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	Url              string
	CanonicalUrl     string    `gorm:"index"`
	Mode             string    `gorm:"default:review"`
	Type             string    `gorm:"default:thread"`
	Status           RunStatus `gorm:"index;default:submitted"`
	IncludeReference bool
	UtmCampaign      string
	CostEstimate     float64
	TokensIn         int
	TokensOut        int
	ErrorMessage     string
	ScrapedTitle     string
	ScrapedText      string
	WordCount        int
	ResumeCount      int
	Posts            []*Post  `json:"posts"`
	Images           []*Image `json:"images"`
}

// ContentPosts returns the content posts in ascending sequence order.
// Posts are expected to be preloaded ordered by idx.
func (r *Run) ContentPosts() []*Post {
	posts := []*Post{}
	for _, p := range r.Posts {
		if p.Role == RoleContent {
			posts = append(posts, p)
		}
	}
	return posts
}

// ReferencePost returns the trailing reference post, or nil.
func (r *Run) ReferencePost() *Post {
	for _, p := range r.Posts {
		if p.Role == RoleReference {
			return p
		}
	}
	return nil
}

// IsTerminal reports whether no further orchestration will happen without a
// user action.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}
