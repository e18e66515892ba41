package budget

import "strings"

// Verdict is the budget guard decision for a generation cost estimate.
type Verdict int

const (
	// Accept means the estimate is within the cap, proceed.
	Accept Verdict = iota
	// CompressRetry means the estimate is over the cap and the prompt
	// should get one compression pass before re-estimating.
	CompressRetry
	// Reject means the estimate is still over the cap after compression,
	// route the run to review. Content is never silently truncated.
	Reject
)

// DefaultCapUSD is the per-run generation budget cap.
const DefaultCapUSD = 0.02

// Guard decides whether a generation cost estimate is acceptable.
type Guard struct {
	CapUSD float64
}

func NewGuard(capUSD float64) *Guard {
	if capUSD <= 0 {
		capUSD = DefaultCapUSD
	}
	return &Guard{CapUSD: capUSD}
}

// WithinBudget returns true iff the estimate fits the cap. Negative
// estimates are treated as zero.
func (g *Guard) WithinBudget(estimateUSD float64) bool {
	if estimateUSD < 0 {
		estimateUSD = 0
	}
	return estimateUSD <= g.CapUSD
}

// Check implements the accept / compress-and-retry / reject policy. The
// compressed flag indicates whether a compression pass was already taken.
func (g *Guard) Check(estimateUSD float64, compressed bool) Verdict {
	if g.WithinBudget(estimateUSD) {
		return Accept
	}
	if !compressed {
		return CompressRetry
	}
	return Reject
}

// Phrases that add token weight to a prompt without changing what it asks
// for. Removed by the compression pass.
var verbosePhrases = []string{
	"Do not paraphrase, summarize, or add commentary. ",
	"Extract key sentences and insights verbatim. ",
	"Please make sure to ",
	"carefully and ",
	"ensure that ",
	"according to Twitter's official rules",
	"following Twitter's rules",
	"(following Twitter's rules)",
}

// CompressPrompt shrinks a prompt by collapsing whitespace and removing
// verbosity while preserving the task description and article content.
func CompressPrompt(prompt string) string {
	if strings.TrimSpace(prompt) == "" {
		return strings.TrimSpace(prompt)
	}

	compressed := joinNonEmptyLines(prompt)

	for _, phrase := range verbosePhrases {
		compressed = strings.ReplaceAll(compressed, phrase, "")
	}

	for strings.Contains(compressed, "  ") {
		compressed = strings.ReplaceAll(compressed, "  ", " ")
	}

	return joinNonEmptyLines(compressed)
}

func joinNonEmptyLines(text string) string {
	lines := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
