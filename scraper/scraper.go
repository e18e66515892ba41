package scraper

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/gocolly/colly"
	Logger "github.com/kamaleddin/threadify/utils/log"
	"github.com/pkg/errors"
)

const (
	// Articles below this many words are flagged too short to thread.
	DefaultMinWordCount = 200

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// ScrapedContent is the extraction result for one article page.
type ScrapedContent struct {
	Title          string
	Text           string
	SiteName       string
	Author         string
	WordCount      int
	TooShort       bool
	HeroCandidates []string
	PublishedAt    *time.Time
}

// Scraper fetches an article page and extracts its readable content plus
// the metadata used downstream (hero images, site name, publish time).
type Scraper struct {
	MinWordCount int

	// newCollector is swappable so tests can serve fixture HTML.
	newCollector func() *colly.Collector
}

func NewScraper() *Scraper {
	return &Scraper{
		MinWordCount: DefaultMinWordCount,
		newCollector: func() *colly.Collector {
			c := colly.NewCollector()
			c.UserAgent = userAgent
			return c
		},
	}
}

// Scrape fetches the URL and extracts title, body text and metadata.
func (s *Scraper) Scrape(url string) (*ScrapedContent, error) {
	var (
		content  *ScrapedContent
		fetchErr error
	)

	c := s.newCollector()

	c.OnHTML("html", func(elem *colly.HTMLElement) {
		content = s.extract(elem.DOM)
	})

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = errors.Wrapf(err, "failed to fetch %s (status %d)", url, r.StatusCode)
	})

	if err := c.Visit(url); err != nil {
		return nil, errors.Wrap(err, "failed to fetch URL")
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if content == nil {
		return nil, errors.New("empty HTML content")
	}
	if strings.TrimSpace(content.Text) == "" {
		return nil, errors.New("no text content extracted")
	}

	return content, nil
}

// ExtractFromDocument runs the extraction pipeline on an already parsed
// document. Exposed for tests that feed fixture HTML.
func (s *Scraper) ExtractFromDocument(doc *goquery.Document) *ScrapedContent {
	return s.extract(doc.Selection)
}

func (s *Scraper) extract(dom *goquery.Selection) *ScrapedContent {
	meta := extractMeta(dom)

	text := extractBodyText(dom)
	wordCount := len(strings.Fields(text))

	minWords := s.MinWordCount
	if minWords == 0 {
		minWords = DefaultMinWordCount
	}

	return &ScrapedContent{
		Title:          extractTitle(dom, meta),
		Text:           text,
		SiteName:       firstNonEmpty(meta["og:site_name"], meta["site_name"]),
		Author:         firstNonEmpty(meta["author"], meta["article:author"]),
		WordCount:      wordCount,
		TooShort:       wordCount < minWords,
		HeroCandidates: extractHeroCandidates(dom),
		PublishedAt:    extractPublishedAt(meta),
	}
}

// extractMeta collects og:* / twitter:* / author / site metadata.
func extractMeta(dom *goquery.Selection) map[string]string {
	meta := map[string]string{}

	dom.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		content, ok := sel.Attr("content")
		if !ok || content == "" {
			return
		}

		if property, ok := sel.Attr("property"); ok && strings.HasPrefix(property, "og:") {
			meta[property] = content
		}
		if property, ok := sel.Attr("property"); ok && strings.HasPrefix(property, "article:") {
			meta[property] = content
		}
		if name, ok := sel.Attr("name"); ok {
			if strings.HasPrefix(name, "twitter:") || name == "author" {
				meta[name] = content
			}
			if name == "application-name" || name == "site_name" {
				meta["site_name"] = content
			}
		}
	})

	return meta
}

// Title preference order: og:title, twitter:title, <title>, "[no-title]".
func extractTitle(dom *goquery.Selection, meta map[string]string) string {
	if t := strings.TrimSpace(meta["og:title"]); t != "" {
		return t
	}
	if t := strings.TrimSpace(meta["twitter:title"]); t != "" {
		return t
	}
	if t := strings.TrimSpace(dom.Find("title").First().Text()); t != "" {
		return t
	}
	return "[no-title]"
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// extractBodyText prefers the article/main containers and falls back to all
// paragraphs, skipping script/style content.
func extractBodyText(dom *goquery.Selection) string {
	for _, selector := range []string{"article", "main", "body"} {
		container := dom.Find(selector).First()
		if container.Length() == 0 {
			continue
		}

		parts := []string{}
		container.Find("p,h1,h2,h3,li").Each(func(_ int, sel *goquery.Selection) {
			if sel.Closest("script,style,noscript,nav,footer").Length() > 0 {
				return
			}
			if t := strings.TrimSpace(sel.Text()); t != "" {
				parts = append(parts, t)
			}
		})

		if len(parts) > 0 {
			return whitespaceRe.ReplaceAllString(strings.Join(parts, " "), " ")
		}
	}
	return ""
}

func extractHeroCandidates(dom *goquery.Selection) []string {
	candidates := []string{}
	seen := map[string]bool{}

	dom.Find(`meta[property="og:image"],meta[name="twitter:image"]`).Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("content"); ok && src != "" && !seen[src] {
			seen[src] = true
			candidates = append(candidates, src)
		}
	})

	return candidates
}

func extractPublishedAt(meta map[string]string) *time.Time {
	raw := firstNonEmpty(meta["article:published_time"], meta["og:published_time"])
	if raw == "" {
		return nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		Logger.Log.Debugf("unparseable publish time %q: %v", raw, err)
		return nil
	}
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
