package orchestrator

import (
	"context"
	"math/rand"
	"time"

	"github.com/kamaleddin/threadify/app_config"
	"github.com/kamaleddin/threadify/canonical"
	"github.com/kamaleddin/threadify/generate"
	"github.com/kamaleddin/threadify/model"
	"github.com/kamaleddin/threadify/poster"
	"github.com/kamaleddin/threadify/store"
	Logger "github.com/kamaleddin/threadify/utils/log"
	"github.com/pkg/errors"
)

// PostingOrchestrator drives one run's posts through the Poster in strictly
// ascending sequence order, with pacing, per-post retry, and
// resume-from-last-success. Concurrency exists only across runs, never
// within one run's post sequence.
type PostingOrchestrator struct {
	store   store.RunStore
	poster  poster.Poster
	clock   Clock
	jitter  func() float64 // uniform in [-1, 1)
	metrics *Metrics
	cfg     app_config.ThreadifyAppConfig
}

func NewPostingOrchestrator(s store.RunStore, p poster.Poster, cfg app_config.ThreadifyAppConfig) *PostingOrchestrator {
	return &PostingOrchestrator{
		store:   s,
		poster:  p,
		clock:   NewRealClock(),
		jitter:  func() float64 { return rand.Float64()*2 - 1 },
		metrics: &Metrics{},
		cfg:     cfg,
	}
}

// WithClock swaps the clock, for deterministic tests.
func (o *PostingOrchestrator) WithClock(c Clock) *PostingOrchestrator {
	o.clock = c
	return o
}

// WithJitter swaps the jitter source, for deterministic tests.
func (o *PostingOrchestrator) WithJitter(j func() float64) *PostingOrchestrator {
	o.jitter = j
	return o
}

// WithMetrics attaches a statsd client.
func (o *PostingOrchestrator) WithMetrics(m *Metrics) *PostingOrchestrator {
	o.metrics = m
	return o
}

// PublishRun publishes all of a run's still-unpublished posts, in order.
// Re-invoking it on a partially published run is safe: a post that already
// has a remote id is never published again. Returns the classified
// *poster.PublishError of the post that could not be published, after the
// retry budget for that post is spent.
func (o *PostingOrchestrator) PublishRun(ctx context.Context, runId string) error {
	run, err := o.store.GetRun(runId)
	if err != nil {
		return errors.Wrap(err, "cannot load run")
	}

	posts := run.ContentPosts()
	if len(posts) == 0 {
		return errors.New("run has no content posts")
	}

	// Resume point: first content post without durable evidence of
	// publication.
	resumeFrom := len(posts)
	for i, p := range posts {
		if !p.Published() {
			resumeFrom = i
			break
		}
	}

	lastRemoteId := ""
	if resumeFrom > 0 {
		lastRemoteId = posts[resumeFrom-1].RemoteId
	}

	if resumeFrom > 0 && resumeFrom < len(posts) {
		Logger.Log.Infof("run %s resuming from post %d of %d", run.Id, resumeFrom+1, len(posts))
	}

	firstCall := true
	for i := resumeFrom; i < len(posts); i++ {
		post := posts[i]

		if !firstCall {
			if err := o.pace(ctx); err != nil {
				return err
			}
		}
		firstCall = false

		replyTo := ""
		if post.Idx > 0 {
			replyTo = lastRemoteId
		}

		remoteId, err := o.publishOne(ctx, run, post, replyTo)
		if err != nil {
			return err
		}
		lastRemoteId = remoteId
	}

	if run.IncludeReference {
		if err := o.publishReference(ctx, run, lastRemoteId, firstCall); err != nil {
			return err
		}
	}

	return nil
}

// publishReference publishes the trailing reference post as a reply to the
// last content post. It is never numbered and never counted toward T.
func (o *PostingOrchestrator) publishReference(ctx context.Context, run *model.Run, lastRemoteId string, firstCall bool) error {
	ref := run.ReferencePost()
	if ref == nil || ref.Published() {
		return nil
	}

	if !firstCall {
		if err := o.pace(ctx); err != nil {
			return err
		}
	}

	campaign := run.UtmCampaign
	if campaign == "" {
		campaign = o.cfg.UTM_CAMPAIGN
	}
	link := canonical.AppendUTM(run.CanonicalUrl, campaign)

	// The stored reference text carries the attribution, the UTM-tagged
	// link is stamped at publish time so campaign changes before dispatch
	// take effect.
	ref.Text = ref.Text + "\n\n" + link

	_, err := o.publishOne(ctx, run, ref, lastRemoteId)
	return err
}

// publishOne performs up to MAX_PUBLISH_ATTEMPTS calls for a single post.
// The remote id is persisted immediately on success: a crash after that
// write must not re-publish the post on resume.
func (o *PostingOrchestrator) publishOne(ctx context.Context, run *model.Run, post *model.Post, replyTo string) (string, error) {
	attempt := newAttemptState(o.cfg.MAX_PUBLISH_ATTEMPTS)

	for {
		if err := o.store.IncrementPostAttempt(post.Id); err != nil {
			Logger.Log.Warnf("cannot record attempt for post %s: %v", post.Id, err)
		}

		remoteId, err := o.poster.Publish(ctx, poster.PublishRequest{
			Account:         &run.Account,
			Text:            post.Text,
			MediaUrl:        post.MediaUrl,
			MediaAlt:        post.MediaAlt,
			ReplyToRemoteId: replyTo,
		})
		if err == nil {
			if err := o.store.SetPostRemoteId(post.Id, remoteId); err != nil {
				// The one unrecoverable-duplication window: the call
				// succeeded but the checkpoint write failed.
				return "", errors.Wrapf(err, "publish succeeded but checkpoint failed for post %s", post.Id)
			}
			post.RemoteId = remoteId
			o.metrics.Incr("posts.published", "role:"+post.Role)
			Logger.Log.Infof("published post %d of run %s as %s: %s",
				post.Idx, run.Id, remoteId, generate.TrimmedPreview(post.Text, 40))
			return remoteId, nil
		}

		attempt.recordFailure(err)

		perr := &poster.PublishError{}
		if !errors.As(err, &perr) {
			return "", errors.Wrapf(err, "unclassified publish failure for post %s", post.Id)
		}
		if perr.Kind == poster.Permanent {
			return "", err
		}
		if attempt.exhausted() {
			o.metrics.Incr("posts.retry_exhausted")
			return "", err
		}

		o.metrics.Incr("posts.retries", "kind:"+perr.Kind.String())
		delay := attempt.backoffDelay(perr.RetryAfter)
		Logger.Log.Infof("post %s attempt %d failed (%s), retrying in %s", post.Id, attempt.attempts, perr.Kind, delay)
		if err := o.clock.Sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

// pace waits the jittered inter-post interval.
func (o *PostingOrchestrator) pace(ctx context.Context) error {
	nominal := time.Duration(o.cfg.PACING_MS) * time.Millisecond
	jitterRange := time.Duration(o.cfg.PACING_JITTER_MS) * time.Millisecond
	delay := nominal + time.Duration(o.jitter()*float64(jitterRange))
	return o.clock.Sleep(ctx, delay)
}
