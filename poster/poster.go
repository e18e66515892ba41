package poster

import (
	"context"
	"fmt"
	"time"

	"github.com/kamaleddin/threadify/model"
)

// ErrorKind classifies a publish failure for the orchestrator's retry
// decision.
type ErrorKind int

const (
	// Transient failures (network, 5xx) are retried with backoff.
	Transient ErrorKind = iota
	// RateLimited failures are retried honoring the retry-after signal.
	RateLimited
	// Permanent failures (4xx other than 429) abort the run immediately.
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// PublishError is a classified publish failure. RetryAfter is zero when the
// platform gave no signal.
type PublishError struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Message    string
}

func (e *PublishError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("publish failed (%s, retry after %s): %s", e.Kind, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("publish failed (%s): %s", e.Kind, e.Message)
}

func NewTransient(msg string) *PublishError {
	return &PublishError{Kind: Transient, Message: msg}
}

func NewRateLimited(msg string, retryAfter time.Duration) *PublishError {
	return &PublishError{Kind: RateLimited, Message: msg, RetryAfter: retryAfter}
}

func NewPermanent(msg string) *PublishError {
	return &PublishError{Kind: Permanent, Message: msg}
}

// PublishRequest is one external publish call: create a post, optionally as
// a reply to a prior remote id, optionally with media.
type PublishRequest struct {
	Account         *model.Account
	Text            string
	MediaUrl        string
	MediaAlt        string
	ReplyToRemoteId string
}

// Poster performs exactly one external publish call per invocation and
// returns the remote id or a classified *PublishError.
type Poster interface {
	Publish(ctx context.Context, req PublishRequest) (string, error)
}
