package generate

import (
	"strings"

	"github.com/kamaleddin/threadify/lengthcheck"
	"github.com/kamaleddin/threadify/scraper"
	Logger "github.com/kamaleddin/threadify/utils/log"
	"github.com/pkg/errors"
)

// PipelineResult is everything the run state machine needs from the
// content pipeline for one submission.
type PipelineResult struct {
	ContentTexts   []string
	ReferenceText  string
	HeroCandidates []string
	TooShort       bool
	ScrapedTitle   string
	ScrapedText    string
	WordCount      int
	TokensIn       int
	TokensOut      int
	CostUSD        float64
	ModelUsed      string
}

// ArticleScraper is the slice of the scraper the pipeline depends on.
type ArticleScraper interface {
	Scrape(url string) (*scraper.ScrapedContent, error)
}

// LengthChecker validates a single post text against the platform limit.
type LengthChecker interface {
	Check(text string) (*lengthcheck.CheckResult, error)
}

// Pipeline chains scrape -> generate -> length validation. Posts leaving
// the pipeline are guaranteed to satisfy the platform size limit, which is
// what lets the posting orchestrator trust its inputs.
type Pipeline struct {
	Scraper   ArticleScraper
	Generator Generator
	Length    LengthChecker
}

func NewPipeline(s ArticleScraper, g Generator, l LengthChecker) *Pipeline {
	return &Pipeline{Scraper: s, Generator: g, Length: l}
}

// Run executes the pipeline for a URL. A too-short article still produces
// a result (so review can show the draft), with TooShort set.
func (p *Pipeline) Run(url string, settings Settings) (*PipelineResult, error) {
	scraped, err := p.Scraper.Scrape(url)
	if err != nil {
		return nil, errors.Wrap(err, "scrape failed")
	}

	generated, err := p.Generator.Generate(scraped, settings)
	if err != nil {
		return nil, errors.Wrap(err, "generation failed")
	}

	if err := p.validateLengths(generated.Posts); err != nil {
		return nil, err
	}

	return &PipelineResult{
		ContentTexts:   generated.Posts,
		ReferenceText:  generated.ReferenceText,
		HeroCandidates: scraped.HeroCandidates,
		TooShort:       scraped.TooShort,
		ScrapedTitle:   scraped.Title,
		ScrapedText:    scraped.Text,
		WordCount:      scraped.WordCount,
		TokensIn:       generated.TokensIn,
		TokensOut:      generated.TokensOut,
		CostUSD:        generated.CostUSD,
		ModelUsed:      generated.ModelUsed,
	}, nil
}

func (p *Pipeline) validateLengths(posts []string) error {
	if p.Length == nil {
		return nil
	}
	for idx, text := range posts {
		res, err := p.Length.Check(text)
		if err != nil {
			// The validator being down should not fail the whole run, the
			// generator already targets the limit.
			Logger.Log.Warnf("length check unavailable: %v", err)
			return nil
		}
		if !res.IsValid {
			return errors.Errorf("post %d exceeds platform limit (weighted length %d)", idx, res.WeightedLength)
		}
	}
	return nil
}

// TrimmedPreview returns the first n characters of a text for log lines.
func TrimmedPreview(text string, n int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
