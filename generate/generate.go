package generate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kamaleddin/threadify/budget"
	"github.com/kamaleddin/threadify/scraper"
	"github.com/pkg/errors"
)

const (
	// Platform single-post size limit, in characters.
	MaxPostLength = 280

	// Thread sizing bounds when no explicit cap is set.
	MinThreadPosts     = 3
	DefaultThreadCap   = 8
	defaultSingleCap   = MaxPostLength
	expectedThreadOut  = 500 // expected output tokens for a thread
	expectedSingleOut  = 120 // expected output tokens for a single post
	numberPrefixBudget = 8   // characters reserved for the "i/T " prefix
)

// Approximate per-token USD rates per model.
var costs = map[string]struct{ in, out float64 }{
	"gpt-4o-mini": {in: 0.150 / 1_000_000, out: 0.600 / 1_000_000},
	"gpt-4o":      {in: 2.50 / 1_000_000, out: 10.00 / 1_000_000},
}

// Settings control one generation request.
type Settings struct {
	Type       string // thread | single
	Style      string // conversational, analytical, casual, enthusiastic
	Hook       bool   // lead the thread with a hook post
	ThreadCap  int
	SingleCap  int
	Compressed bool // apply the prompt compression pass before estimating
}

// Result is one generation outcome. Posts carry their rendered number
// prefix already; the reference text carries no link, the orchestrator
// appends the UTM-tagged canonical URL at publish time.
type Result struct {
	Posts         []string
	ReferenceText string
	TokensIn      int
	TokensOut     int
	CostUSD       float64
	ModelUsed     string
}

// Generator turns scraped article content into an ordered sequence of post
// texts. Implementations must return posts that fit the platform limit.
type Generator interface {
	Generate(scrape *scraper.ScrapedContent, settings Settings) (*Result, error)
}

// EstimateTokens approximates token count (1 token per 4 chars).
func EstimateTokens(text string) int {
	return len(text) / 4
}

// ChooseModel picks the model by content length.
func ChooseModel(wordCount int) string {
	if wordCount > 2500 {
		return "gpt-4o"
	}
	return "gpt-4o-mini"
}

// EstimateCost prices a generation request in USD.
func EstimateCost(prompt string, expectedOutputTokens int, model string) float64 {
	rates, ok := costs[model]
	if !ok {
		rates = costs["gpt-4o-mini"]
	}
	return float64(EstimateTokens(prompt))*rates.in + float64(expectedOutputTokens)*rates.out
}

// ExtractiveGenerator builds posts from the author's own sentences, in
// article order. It is deterministic, which keeps the orchestration core
// testable; a remote model can be swapped in behind the Generator interface.
type ExtractiveGenerator struct{}

func NewExtractiveGenerator() *ExtractiveGenerator {
	return &ExtractiveGenerator{}
}

func (g *ExtractiveGenerator) Generate(scrape *scraper.ScrapedContent, settings Settings) (*Result, error) {
	if scrape == nil || strings.TrimSpace(scrape.Text) == "" {
		return nil, errors.New("nothing to generate from")
	}

	prompt := buildPrompt(scrape, settings)
	if settings.Compressed {
		prompt = budget.CompressPrompt(prompt)
	}

	model := ChooseModel(scrape.WordCount)

	var (
		posts       []string
		expectedOut int
	)
	if settings.Type == "single" {
		posts = []string{buildSinglePost(scrape, settings)}
		expectedOut = expectedSingleOut
	} else {
		posts = buildThreadPosts(scrape, settings)
		expectedOut = expectedThreadOut
	}

	tokensIn := EstimateTokens(prompt)
	tokensOut := 0
	for _, p := range posts {
		tokensOut += EstimateTokens(p)
	}

	return &Result{
		Posts:         posts,
		ReferenceText: buildReferenceText(scrape),
		TokensIn:      tokensIn,
		TokensOut:     tokensOut,
		CostUSD:       EstimateCost(prompt, expectedOut, model),
		ModelUsed:     model,
	}, nil
}

// buildThreadPosts packs the article's sentences into at most cap posts and
// renders the "i/T " number prefix on each.
func buildThreadPosts(scrape *scraper.ScrapedContent, settings Settings) []string {
	cap := settings.ThreadCap
	if cap <= 0 {
		cap = DefaultThreadCap
	}

	limit := MaxPostLength - numberPrefixBudget

	bodies := []string{}
	if settings.Hook {
		bodies = append(bodies, truncateToLimit(scrape.Title, limit))
	}
	bodies = append(bodies, packSentences(splitSentences(scrape.Text), limit, cap-len(bodies))...)

	total := len(bodies)
	posts := make([]string, 0, total)
	for i, body := range bodies {
		posts = append(posts, fmt.Sprintf("%d/%d %s", i+1, total, body))
	}
	return posts
}

func buildSinglePost(scrape *scraper.ScrapedContent, settings Settings) string {
	cap := settings.SingleCap
	if cap <= 0 || cap > defaultSingleCap {
		cap = defaultSingleCap
	}

	sentences := splitSentences(scrape.Text)
	body := scrape.Title
	for _, s := range sentences {
		candidate := body + " — " + s
		if utf8.RuneCountInString(candidate) > cap {
			break
		}
		body = candidate
	}
	return truncateToLimit(body, cap)
}

// Reference posts credit the original: "Original: [Title] by [Author/Site]".
func buildReferenceText(scrape *scraper.ScrapedContent) string {
	credit := scrape.Author
	if credit == "" {
		credit = scrape.SiteName
	}
	if credit == "" {
		return fmt.Sprintf("Original: %s", scrape.Title)
	}
	return fmt.Sprintf("Original: %s by %s", scrape.Title, credit)
}

func buildPrompt(scrape *scraper.ScrapedContent, settings Settings) string {
	b := strings.Builder{}
	b.WriteString("You are creating a Twitter/X thread from the following article.\n")
	b.WriteString("Use ONLY the author's own words from the article. ")
	b.WriteString("Do not paraphrase, summarize, or add commentary. ")
	b.WriteString("Extract key sentences and insights verbatim. \n")
	if settings.Style != "" {
		b.WriteString(fmt.Sprintf("Write in a %s tone.\n", settings.Style))
	}
	if settings.Hook {
		b.WriteString("Start with a compelling hook that makes people want to read the thread.\n")
	}
	b.WriteString("Each post must be under 280 characters (following Twitter's rules).\n\n")
	b.WriteString("Article Title: " + scrape.Title + "\n")
	if scrape.SiteName != "" {
		b.WriteString("Site: " + scrape.SiteName + "\n")
	}
	b.WriteString("\nArticle Content:\n")
	b.WriteString(scrape.Text)
	return b.String()
}

var sentenceEnders = map[rune]bool{'.': true, '!': true, '?': true}

func splitSentences(text string) []string {
	sentences := []string{}
	current := strings.Builder{}
	for _, r := range text {
		current.WriteRune(r)
		if sentenceEnders[r] {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// packSentences greedily fills posts with whole sentences up to the limit.
func packSentences(sentences []string, limit, maxPosts int) []string {
	if maxPosts <= 0 {
		return nil
	}

	posts := []string{}
	current := ""
	for _, s := range sentences {
		if utf8.RuneCountInString(s) > limit {
			s = truncateToLimit(s, limit)
		}
		candidate := s
		if current != "" {
			candidate = current + " " + s
		}
		if utf8.RuneCountInString(candidate) > limit {
			posts = append(posts, current)
			if len(posts) == maxPosts {
				return posts
			}
			current = s
			continue
		}
		current = candidate
	}
	if current != "" && len(posts) < maxPosts {
		posts = append(posts, current)
	}
	return posts
}

func truncateToLimit(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
