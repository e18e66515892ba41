package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/kamaleddin/threadify/canonical"
	"github.com/kamaleddin/threadify/generate"
	"github.com/kamaleddin/threadify/model"
	"github.com/kamaleddin/threadify/poster"
	"github.com/kamaleddin/threadify/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePipeline returns a canned result and records the settings of every
// call, so budget compress-retry behavior is observable.
type fakePipeline struct {
	mu         sync.Mutex
	result     generate.PipelineResult
	err        error
	calls      []generate.Settings
	costs      []float64 // cost per successive call, overrides result.CostUSD
	callsSoFar int
}

func (p *fakePipeline) Run(url string, settings generate.Settings) (*generate.PipelineResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, settings)
	if p.err != nil {
		return nil, p.err
	}
	result := p.result
	if p.callsSoFar < len(p.costs) {
		result.CostUSD = p.costs[p.callsSoFar]
	}
	p.callsSoFar++
	return &result, nil
}

func defaultPipelineResult() generate.PipelineResult {
	return generate.PipelineResult{
		ContentTexts:   []string{"1/3 first", "2/3 second", "3/3 third"},
		ReferenceText:  "Original: Title by Author",
		HeroCandidates: []string{"https://example.com/hero.jpg", "https://example.com/alt.jpg"},
		ScrapedTitle:   "Title",
		ScrapedText:    "body text",
		WordCount:      800,
		TokensIn:       400,
		TokensOut:      120,
		CostUSD:        0.001,
		ModelUsed:      "gpt-4o-mini",
	}
}

type machineFixture struct {
	store    *store.MemoryStore
	account  *model.Account
	pipeline *fakePipeline
	poster   *fakePoster
	machine  *Machine
}

func newMachineFixture(t *testing.T) *machineFixture {
	s := store.NewMemoryStore()
	account := seedAccount(s)
	pipeline := &fakePipeline{result: defaultPipelineResult()}
	fp := &fakePoster{}

	publisher, _ := newTestPublisher(s, fp)
	machine := NewMachine(s, canonical.NewOfflineCanonicalizer(), pipeline, publisher, testConfig())

	return &machineFixture{
		store:    s,
		account:  account,
		pipeline: pipeline,
		poster:   fp,
		machine:  machine,
	}
}

func TestSubmitReviewMode(t *testing.T) {
	f := newMachineFixture(t)

	result, err := f.machine.Submit(SubmitRequest{
		Url:  "https://www.Example.com/article/?utm_source=x",
		Mode: model.ModeReview,
	})
	require.NoError(t, err)

	run := result.Run
	assert.Equal(t, model.RunStatusReview, run.Status)
	assert.Equal(t, "https://example.com/article", run.CanonicalUrl)
	assert.Equal(t, f.account.Id, run.AccountID)
	assert.Equal(t, 0.001, run.CostEstimate)

	// Three content posts in order plus the trailing reference.
	content := run.ContentPosts()
	require.Len(t, content, 3)
	assert.Equal(t, "1/3 first", content[0].Text)
	ref := run.ReferencePost()
	require.NotNil(t, ref)
	assert.Equal(t, "Original: Title by Author", ref.Text)
	assert.NotContains(t, ref.Text, "utm_", "link is stamped at publish time, not at build time")

	// First hero candidate attached to the first content post.
	assert.Equal(t, "https://example.com/hero.jpg", content[0].MediaUrl)
	assert.Equal(t, "Title", content[0].MediaAlt)
	assert.Equal(t, "", content[1].MediaUrl)
	require.Len(t, run.Images, 2)
	assert.True(t, run.Images[0].Used)
	assert.False(t, run.Images[1].Used)

	// Nothing published at submit time.
	assert.Equal(t, 0, f.poster.callCount())
}

func TestSubmitReferenceTextOverride(t *testing.T) {
	f := newMachineFixture(t)

	result, err := f.machine.Submit(SubmitRequest{
		Url:           "https://example.com/a",
		ReferenceText: "Great read from the team blog",
	})
	require.NoError(t, err)

	ref := result.Run.ReferencePost()
	require.NotNil(t, ref)
	assert.Equal(t, "Great read from the team blog", ref.Text)
}

func TestSubmitThreadCapOverride(t *testing.T) {
	f := newMachineFixture(t)

	_, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a"})
	require.NoError(t, err)
	_, err = f.machine.Submit(SubmitRequest{Url: "https://example.com/b", ThreadCap: 5})
	require.NoError(t, err)

	require.Len(t, f.pipeline.calls, 2)
	assert.Equal(t, testConfig().THREAD_CAP, f.pipeline.calls[0].ThreadCap)
	assert.Equal(t, 5, f.pipeline.calls[1].ThreadCap)
}

func TestSubmitAutoModeApproves(t *testing.T) {
	f := newMachineFixture(t)

	result, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusApproved, result.Run.Status)
	assert.Empty(t, result.Warning)
}

func TestSubmitDuplicateBlocksAutoMode(t *testing.T) {
	f := newMachineFixture(t)

	first, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateRunStatus(first.Run.Id, model.RunStatusCompleted, ""))

	// Same canonical URL, different surface form.
	_, err = f.machine.Submit(SubmitRequest{Url: "https://WWW.example.com/a/", Mode: model.ModeAuto})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)

	// Force overrides the check.
	forced, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto, Force: true})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusApproved, forced.Run.Status)
}

func TestSubmitDuplicateWarnsInReviewMode(t *testing.T) {
	f := newMachineFixture(t)

	first, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateRunStatus(first.Run.Id, model.RunStatusCompleted, ""))

	result, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeReview})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusReview, result.Run.Status)
	assert.Contains(t, result.Warning, "already published")
	// The stored copy is marked as a note, not a failure.
	assert.True(t, strings.HasPrefix(result.Run.ErrorMessage, "warning: "))
	assert.Contains(t, result.Run.ErrorMessage, "already published")
}

func TestSubmitFailedRunIsNotADuplicate(t *testing.T) {
	f := newMachineFixture(t)

	first, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateRunStatus(first.Run.Id, model.RunStatusFailed, "boom"))

	second, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusApproved, second.Run.Status)
}

func TestSubmitTooShortRoutesToReview(t *testing.T) {
	f := newMachineFixture(t)
	f.pipeline.result.TooShort = true
	f.pipeline.result.WordCount = 40

	result, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusReview, result.Run.Status)
	assert.Contains(t, result.Run.ErrorMessage, "too short")
}

func TestSubmitBudgetCompressRetry(t *testing.T) {
	f := newMachineFixture(t)
	// Over cap uncompressed, under cap after compression.
	f.pipeline.costs = []float64{0.05, 0.01}

	result, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusApproved, result.Run.Status)
	assert.Equal(t, 0.01, result.Run.CostEstimate)

	require.Len(t, f.pipeline.calls, 2)
	assert.False(t, f.pipeline.calls[0].Compressed)
	assert.True(t, f.pipeline.calls[1].Compressed)
}

func TestSubmitBudgetRejectRoutesToReview(t *testing.T) {
	f := newMachineFixture(t)
	// Over cap even after the compression pass.
	f.pipeline.costs = []float64{0.05, 0.04}

	result, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusReview, result.Run.Status)
	assert.Contains(t, result.Run.ErrorMessage, "exceeds")
	require.Len(t, f.pipeline.calls, 2, "exactly one compression pass, never a loop")
}

func TestSubmitInvalidUrl(t *testing.T) {
	f := newMachineFixture(t)

	_, err := f.machine.Submit(SubmitRequest{Url: "   "})
	assert.Error(t, err)
	_, err = f.machine.Submit(SubmitRequest{Url: "https://"})
	assert.Error(t, err)
}

func TestSubmitUnknownAccount(t *testing.T) {
	f := newMachineFixture(t)

	_, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", AccountHandle: "nobody"})
	assert.Error(t, err)
}

func TestApproveTransitions(t *testing.T) {
	f := newMachineFixture(t)

	submitted, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeReview})
	require.NoError(t, err)

	approved, err := f.machine.Approve(submitted.Run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusApproved, approved.Status)
	assert.Empty(t, approved.ErrorMessage)

	// Approving an approved run is rejected.
	_, err = f.machine.Approve(submitted.Run.Id)
	assert.Error(t, err)
}

func TestApproveResetsResumeBudget(t *testing.T) {
	f := newMachineFixture(t)

	submitted, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeReview})
	require.NoError(t, err)

	run, err := f.store.GetRun(submitted.Run.Id)
	require.NoError(t, err)
	run.Status = model.RunStatusRequiresReview
	run.ResumeCount = 1
	require.NoError(t, f.store.SaveRun(run))

	approved, err := f.machine.Approve(run.Id)
	require.NoError(t, err)
	assert.Equal(t, 0, approved.ResumeCount)
}

func TestDispatchCompletes(t *testing.T) {
	f := newMachineFixture(t)

	submitted, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)

	status, err := f.machine.Dispatch(context.Background(), submitted.Run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, status)

	stored, err := f.store.GetRun(submitted.Run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, stored.Status)
	// 3 content posts + reference.
	assert.Equal(t, 4, f.poster.callCount())
}

func TestDispatchRequiresApproval(t *testing.T) {
	f := newMachineFixture(t)

	submitted, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeReview})
	require.NoError(t, err)

	_, err = f.machine.Dispatch(context.Background(), submitted.Run.Id)
	assert.Error(t, err)
	assert.Equal(t, 0, f.poster.callCount())
}

func TestDispatchPermanentParksForReview(t *testing.T) {
	f := newMachineFixture(t)

	submitted, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)

	f.poster.script = []error{nil, poster.NewPermanent("duplicate content")}

	status, err := f.machine.Dispatch(context.Background(), submitted.Run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRequiresReview, status)

	stored, _ := f.store.GetRun(submitted.Run.Id)
	assert.Equal(t, model.RunStatusRequiresReview, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "duplicate content")
	// The first post's remote id survives for the eventual resume.
	assert.True(t, stored.ContentPosts()[0].Published())
}

func TestDispatchShutdownParksRunForReview(t *testing.T) {
	f := newMachineFixture(t)

	submitted, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)
	runId := submitted.Run.Id

	// Graceful shutdown cancels the walk after the first post, during the
	// pacing sleep before the second one.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	status, err := f.machine.Dispatch(ctx, runId)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRequiresReview, status)

	stored, err := f.store.GetRun(runId)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRequiresReview, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "interrupted")
	// The interruption consumed no resume and kept the published post.
	assert.Equal(t, 0, stored.ResumeCount)
	assert.True(t, stored.ContentPosts()[0].Published())

	// Re-approval resumes from the cursor without re-publishing post 1.
	_, err = f.machine.Approve(runId)
	require.NoError(t, err)
	status, err = f.machine.Dispatch(context.Background(), runId)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, status)

	stored, _ = f.store.GetRun(runId)
	// 1 call before the shutdown, then posts 2, 3 and the reference.
	assert.Equal(t, 4, f.poster.callCount())
	assert.Equal(t, 1, stored.ContentPosts()[0].AttemptCount)
}

func TestDispatchAutoResumesOnce(t *testing.T) {
	f := newMachineFixture(t)

	submitted, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)

	// First walk: post 1 ok, post 2 exhausts its three attempts. The single
	// auto resume then publishes the rest cleanly.
	f.poster.script = []error{
		nil,
		poster.NewTransient("down"),
		poster.NewTransient("down"),
		poster.NewTransient("down"),
	}

	status, err := f.machine.Dispatch(context.Background(), submitted.Run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, status)

	stored, _ := f.store.GetRun(submitted.Run.Id)
	assert.Equal(t, 1, stored.ResumeCount)
	// 1 ok + 3 failures, then resume: posts 2, 3, reference.
	assert.Equal(t, 7, f.poster.callCount())
	// Post 1 was published exactly once.
	assert.Equal(t, 1, stored.ContentPosts()[0].AttemptCount)
}

func TestDispatchResumeBudgetExhausted(t *testing.T) {
	f := newMachineFixture(t)

	submitted, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)

	// Both the first walk and the auto resume exhaust their attempts.
	f.poster.script = []error{
		poster.NewTransient("down"), poster.NewTransient("down"), poster.NewTransient("down"),
		poster.NewTransient("down"), poster.NewTransient("down"), poster.NewTransient("down"),
	}

	status, err := f.machine.Dispatch(context.Background(), submitted.Run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRequiresReview, status)

	stored, _ := f.store.GetRun(submitted.Run.Id)
	assert.Equal(t, model.RunStatusRequiresReview, stored.Status)
	assert.Equal(t, 6, f.poster.callCount())
}

func TestDispatchZeroResumePolicy(t *testing.T) {
	f := newMachineFixture(t)
	f.machine.policy = ResumePolicy{MaxAutoResumes: 0}

	submitted, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)

	f.poster.script = []error{
		poster.NewTransient("down"), poster.NewTransient("down"), poster.NewTransient("down"),
	}

	status, err := f.machine.Dispatch(context.Background(), submitted.Run.Id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRequiresReview, status)
	assert.Equal(t, 3, f.poster.callCount())
}

func TestCompletedRunNeverRegresses(t *testing.T) {
	f := newMachineFixture(t)

	submitted, err := f.machine.Submit(SubmitRequest{Url: "https://example.com/a", Mode: model.ModeAuto})
	require.NoError(t, err)

	_, err = f.machine.Dispatch(context.Background(), submitted.Run.Id)
	require.NoError(t, err)

	err = f.store.UpdateRunStatus(submitted.Run.Id, model.RunStatusFailed, "late failure")
	assert.Error(t, err)

	stored, _ := f.store.GetRun(submitted.Run.Id)
	assert.Equal(t, model.RunStatusCompleted, stored.Status)
}
