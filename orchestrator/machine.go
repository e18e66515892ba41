package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kamaleddin/threadify/app_config"
	"github.com/kamaleddin/threadify/budget"
	"github.com/kamaleddin/threadify/canonical"
	"github.com/kamaleddin/threadify/generate"
	"github.com/kamaleddin/threadify/model"
	"github.com/kamaleddin/threadify/poster"
	"github.com/kamaleddin/threadify/store"
	Logger "github.com/kamaleddin/threadify/utils/log"
	"github.com/pkg/errors"
)

// ErrDuplicate is returned by Submit when the account already has an
// approved, posting, or completed run for the same canonical URL and the
// submission does not override the check.
var ErrDuplicate = errors.New("duplicate submission for account and canonical URL")

// ContentPipeline is the slice of the generation pipeline the machine
// depends on.
type ContentPipeline interface {
	Run(url string, settings generate.Settings) (*generate.PipelineResult, error)
}

// PublishedCache is the fast-path duplicate pre-check. Implementations may
// lose entries; the database duplicate query is the source of truth.
type PublishedCache interface {
	MarkPublished(accountId string, canonicalUrl string) error
	WasPublished(accountId string, canonicalUrl string) bool
}

// SubmitRequest is one user submission, from the HTTP API or the CLI.
type SubmitRequest struct {
	Url           string
	AccountHandle string // empty picks the default account
	Mode          string // review | auto, defaults to review
	Type          string // thread | single, defaults to thread
	Style         string
	Hook          bool
	NoReference   bool
	ReferenceText string // overrides the generated attribution text
	UtmCampaign   string
	ThreadCap     int  // 0 uses the configured cap
	Force         bool // bypass the duplicate check
}

// SubmitResult is what Submit hands back to the caller. Warning is set when
// the run proceeded despite a condition worth surfacing (duplicate in
// review mode).
type SubmitResult struct {
	Run     *model.Run
	Warning string
}

// Machine owns every run status transition. Nothing else in the system
// writes Run.Status.
type Machine struct {
	store     store.RunStore
	published PublishedCache
	canon     *canonical.Canonicalizer
	pipeline  ContentPipeline
	guard     *budget.Guard
	publisher *PostingOrchestrator
	policy    ResumePolicy
	events    *EventPublisher
	metrics   *Metrics
	cfg       app_config.ThreadifyAppConfig
}

func NewMachine(
	s store.RunStore,
	canon *canonical.Canonicalizer,
	pipeline ContentPipeline,
	publisher *PostingOrchestrator,
	cfg app_config.ThreadifyAppConfig,
) *Machine {
	return &Machine{
		store:     s,
		canon:     canon,
		pipeline:  pipeline,
		guard:     budget.NewGuard(cfg.BUDGET_CAP_USD),
		publisher: publisher,
		policy:    ResumePolicy{MaxAutoResumes: cfg.MAX_AUTO_RESUMES},
		metrics:   &Metrics{},
		cfg:       cfg,
	}
}

// WithPublishedCache attaches the redis duplicate pre-check.
func (m *Machine) WithPublishedCache(c PublishedCache) *Machine {
	m.published = c
	return m
}

// WithEvents attaches the lifecycle event bus.
func (m *Machine) WithEvents(e *EventPublisher) *Machine {
	m.events = e
	return m
}

// WithMetrics attaches a statsd client.
func (m *Machine) WithMetrics(mt *Metrics) *Machine {
	m.metrics = mt
	return m
}

// Submit takes a URL through canonicalize, duplicate check, content
// generation, and budget enforcement, and persists the resulting run. The
// run lands in approved (auto mode, clean) or review (everything else).
func (m *Machine) Submit(req SubmitRequest) (*SubmitResult, error) {
	account, err := m.resolveAccount(req.AccountHandle)
	if err != nil {
		return nil, err
	}

	canonicalUrl, err := m.canon.Canonicalize(req.Url)
	if err != nil {
		return nil, errors.Wrap(err, "cannot canonicalize URL")
	}

	mode := req.Mode
	if mode == "" {
		mode = model.ModeReview
	}
	runType := req.Type
	if runType == "" {
		runType = model.TypeThread
	}

	warning := ""
	if !req.Force {
		dup := m.findDuplicate(account.Id, canonicalUrl)
		if dup != nil {
			existing := "a recent run"
			if dup.Id != "" {
				existing = "run " + dup.Id
			}
			if mode == model.ModeAuto {
				m.metrics.Incr("runs.duplicate_blocked")
				return nil, errors.Wrapf(ErrDuplicate, "%s is already %s", existing, dup.Status)
			}
			warning = fmt.Sprintf("already published by %s (%s), approving will post it again", existing, dup.Status)
			Logger.Log.Infof("duplicate submission for %s, proceeding in review mode", canonicalUrl)
		}
	}

	threadCap := req.ThreadCap
	if threadCap <= 0 {
		threadCap = m.cfg.THREAD_CAP
	}
	settings := generate.Settings{
		Type:      runType,
		Style:     req.Style,
		Hook:      req.Hook,
		ThreadCap: threadCap,
	}

	result, reviewReason, err := m.generateWithinBudget(req.Url, settings)
	if err != nil {
		return nil, err
	}
	if result.TooShort && reviewReason == "" {
		reviewReason = fmt.Sprintf("article too short (%d words), draft needs a human look", result.WordCount)
	}

	run := m.buildRun(account, req, mode, runType, canonicalUrl, result)

	switch {
	case reviewReason != "":
		run.Status = model.RunStatusReview
		run.ErrorMessage = reviewReason
	case warning != "":
		run.Status = model.RunStatusReview
		// Prefixed so review surfaces can tell a note from a failure.
		run.ErrorMessage = "warning: " + warning
	case mode == model.ModeAuto:
		run.Status = model.RunStatusApproved
	default:
		run.Status = model.RunStatusReview
	}

	if err := m.store.CreateRun(run); err != nil {
		return nil, errors.Wrap(err, "cannot persist run")
	}

	m.metrics.Incr("runs.submitted", "mode:"+mode, "type:"+runType)
	m.events.PublishTransition(run, run.ErrorMessage)

	return &SubmitResult{Run: run, Warning: warning}, nil
}

// Approve moves a run awaiting human action to approved. Approving a run
// that stalled in requires_review also refills its automatic resume budget.
func (m *Machine) Approve(runId string) (*model.Run, error) {
	run, err := m.store.GetRun(runId)
	if err != nil {
		return nil, err
	}

	if run.Status != model.RunStatusReview && run.Status != model.RunStatusRequiresReview {
		return nil, errors.Errorf("run %s is %s, only review or requires_review runs can be approved", run.Id, run.Status)
	}

	run.Status = model.RunStatusApproved
	run.ErrorMessage = ""
	run.ResumeCount = 0
	if err := m.store.SaveRun(run); err != nil {
		return nil, errors.Wrap(err, "cannot persist approval")
	}

	m.metrics.Incr("runs.approved")
	m.events.PublishTransition(run, "")
	return run, nil
}

// Dispatch drives one approved run through the posting stage to a terminal
// or human-action status. It is the scheduler's worker body and must only
// ever run once at a time per run.
func (m *Machine) Dispatch(ctx context.Context, runId string) (status model.RunStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Log.Errorf("posting run %s panicked: %v", runId, r)
			m.transition(runId, model.RunStatusFailed, fmt.Sprintf("internal error: %v", r))
			status = model.RunStatusFailed
			err = errors.Errorf("panic while posting run %s: %v", runId, r)
		}
	}()

	run, err := m.store.GetRun(runId)
	if err != nil {
		return "", err
	}
	if run.Status != model.RunStatusApproved {
		return run.Status, errors.Errorf("run %s is %s, not approved", run.Id, run.Status)
	}

	m.transition(run.Id, model.RunStatusPosting, "")

	for {
		publishErr := m.publisher.PublishRun(ctx, run.Id)
		if publishErr == nil {
			m.transition(run.Id, model.RunStatusCompleted, "")
			m.markPublished(run)
			m.metrics.Incr("runs.completed")
			return model.RunStatusCompleted, nil
		}

		// A shutdown or deadline mid-walk is not a failure. Progress is
		// checkpointed, so park the run and let re-approval resume it from
		// the cursor.
		if errors.Is(publishErr, context.Canceled) || errors.Is(publishErr, context.DeadlineExceeded) {
			m.transition(run.Id, model.RunStatusRequiresReview, "posting interrupted, re-approve to resume")
			m.metrics.Incr("runs.requires_review", "reason:interrupted")
			return model.RunStatusRequiresReview, nil
		}

		perr := &poster.PublishError{}
		if !errors.As(publishErr, &perr) {
			m.transition(run.Id, model.RunStatusFailed, publishErr.Error())
			m.metrics.Incr("runs.failed")
			return model.RunStatusFailed, publishErr
		}

		if perr.Kind == poster.Permanent {
			m.transition(run.Id, model.RunStatusRequiresReview, perr.Message)
			m.metrics.Incr("runs.requires_review", "reason:permanent")
			return model.RunStatusRequiresReview, nil
		}

		// Transient or rate-limited with the per-post retry budget spent.
		if !m.policy.AllowResume(run.ResumeCount) {
			m.transition(run.Id, model.RunStatusRequiresReview, perr.Message)
			m.metrics.Incr("runs.requires_review", "reason:retry_exhausted")
			return model.RunStatusRequiresReview, nil
		}

		// Reload before the increment: the walk just checkpointed remote ids
		// that the stale copy does not have.
		run, err = m.store.GetRun(run.Id)
		if err != nil {
			return "", err
		}
		run.ResumeCount++
		if err := m.store.SaveRun(run); err != nil {
			m.transition(run.Id, model.RunStatusFailed, err.Error())
			return model.RunStatusFailed, errors.Wrap(err, "cannot record resume")
		}
		m.metrics.Incr("runs.auto_resumed")
		Logger.Log.Infof("run %s auto-resuming after %s failure (resume %d of %d)",
			run.Id, perr.Kind, run.ResumeCount, m.policy.MaxAutoResumes)
	}
}

// generateWithinBudget runs the pipeline, applying the budget guard's
// accept / compress-and-retry / reject policy. A rejection never fails the
// submission, it routes the run to review with the reason.
func (m *Machine) generateWithinBudget(url string, settings generate.Settings) (*generate.PipelineResult, string, error) {
	result, err := m.pipeline.Run(url, settings)
	if err != nil {
		return nil, "", err
	}

	switch m.guard.Check(result.CostUSD, settings.Compressed) {
	case budget.Accept:
		return result, "", nil
	case budget.CompressRetry:
		Logger.Log.Infof("estimate $%.4f over $%.4f cap, retrying with compressed prompt", result.CostUSD, m.guard.CapUSD)
		m.metrics.Incr("runs.budget_compressed")
		settings.Compressed = true
		return m.generateWithinBudget(url, settings)
	default:
		m.metrics.Incr("runs.budget_rejected")
		reason := fmt.Sprintf("estimated cost $%.4f exceeds $%.4f cap even after compression", result.CostUSD, m.guard.CapUSD)
		return result, reason, nil
	}
}

// buildRun assembles the persistent run with its posts and hero image
// candidates. The reference post is stored without the link, the
// orchestrator stamps the UTM-tagged canonical URL at publish time.
func (m *Machine) buildRun(
	account *model.Account,
	req SubmitRequest,
	mode string,
	runType string,
	canonicalUrl string,
	result *generate.PipelineResult,
) *model.Run {
	campaign := req.UtmCampaign
	if campaign == "" {
		campaign = m.cfg.UTM_CAMPAIGN
	}

	run := &model.Run{
		Id:               uuid.New().String(),
		AccountID:        account.Id,
		Account:          *account,
		Url:              req.Url,
		CanonicalUrl:     canonicalUrl,
		Mode:             mode,
		Type:             runType,
		IncludeReference: !req.NoReference,
		UtmCampaign:      campaign,
		CostEstimate:     result.CostUSD,
		TokensIn:         result.TokensIn,
		TokensOut:        result.TokensOut,
		ScrapedTitle:     result.ScrapedTitle,
		ScrapedText:      result.ScrapedText,
		WordCount:        result.WordCount,
	}

	heroUrl := ""
	for i, candidate := range result.HeroCandidates {
		image := &model.Image{
			Id:        uuid.New().String(),
			RunID:     run.Id,
			SourceUrl: candidate,
			Used:      i == 0,
		}
		if i == 0 {
			heroUrl = candidate
		}
		run.Images = append(run.Images, image)
	}

	for idx, text := range result.ContentTexts {
		post := &model.Post{
			Id:    uuid.New().String(),
			RunID: run.Id,
			Idx:   idx,
			Role:  model.RoleContent,
			Text:  text,
		}
		if idx == 0 && heroUrl != "" {
			post.MediaUrl = heroUrl
			post.MediaAlt = result.ScrapedTitle
		}
		run.Posts = append(run.Posts, post)
	}

	referenceText := result.ReferenceText
	if req.ReferenceText != "" {
		referenceText = req.ReferenceText
	}
	if run.IncludeReference && referenceText != "" {
		run.Posts = append(run.Posts, &model.Post{
			Id:    uuid.New().String(),
			RunID: run.Id,
			Idx:   len(result.ContentTexts),
			Role:  model.RoleReference,
			Text:  referenceText,
		})
	}

	return run
}

func (m *Machine) resolveAccount(handle string) (*model.Account, error) {
	if handle != "" {
		account, err := m.store.GetAccountByHandle(handle)
		return account, errors.Wrapf(err, "unknown account %q", handle)
	}
	account, err := m.store.FirstAccount()
	if err != nil {
		return nil, errors.Wrap(err, "no posting account configured")
	}
	return account, nil
}

// findDuplicate asks the database, which is the source of truth. The cache
// only matters when the database lookup errors: a recent cache hit then
// blocks the submission instead of letting a flaky connection double-post.
func (m *Machine) findDuplicate(accountId string, canonicalUrl string) *model.Run {
	dup, err := m.store.FindDuplicate(accountId, canonicalUrl)
	if err == nil {
		return dup
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if m.published != nil && m.published.WasPublished(accountId, canonicalUrl) {
		Logger.Log.Warnf("duplicate lookup failed but cache has %s, blocking: %v", canonicalUrl, err)
		return &model.Run{CanonicalUrl: canonicalUrl, Status: model.RunStatusCompleted}
	}
	Logger.Log.Warnf("duplicate lookup failed, allowing submission: %v", err)
	return nil
}

func (m *Machine) markPublished(run *model.Run) {
	if m.published == nil {
		return
	}
	if err := m.published.MarkPublished(run.AccountID, run.CanonicalUrl); err != nil {
		Logger.Log.Warnf("cannot cache published URL for run %s: %v", run.Id, err)
	}
}

func (m *Machine) transition(runId string, status model.RunStatus, errMessage string) {
	if err := m.store.UpdateRunStatus(runId, status, errMessage); err != nil {
		Logger.Log.Errorf("cannot transition run %s to %s: %v", runId, status, err)
		return
	}
	m.events.PublishTransition(&model.Run{Id: runId, Status: status}, errMessage)
}
