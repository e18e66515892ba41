package canonical

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const MaxRedirects = 5

// Common tracking parameters to remove. Keys are matched case-insensitively.
var trackingParams = map[string]bool{
	// Google Analytics
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"utm_id":       true,
	// Facebook
	"fbclid":          true,
	"fb_action_ids":   true,
	"fb_action_types": true,
	"fb_ref":          true,
	"fb_source":       true,
	// Twitter
	"twclid": true,
	// Other common tracking
	"gclid":   true, // Google Click ID
	"msclkid": true, // Microsoft Click ID
	"mc_cid":  true, // Mailchimp Campaign ID
	"mc_eid":  true, // Mailchimp Email ID
	"_hsenc":  true, // HubSpot
	"_hsmi":   true, // HubSpot
	"mkt_tok": true, // Marketo
	// General
	"ref":    true,
	"source": true,
}

// HttpGetter fetches a single URL without following redirects, so that the
// canonicalizer can walk the redirect chain itself. Injectable for tests.
type HttpGetter func(url string) (*http.Response, error)

// Canonicalizer normalizes URLs into the stable identity used for duplicate
// detection.
type Canonicalizer struct {
	Get             HttpGetter
	FollowRedirects bool
}

func NewCanonicalizer() *Canonicalizer {
	return &Canonicalizer{
		Get:             defaultHttpGet,
		FollowRedirects: true,
	}
}

// NewOfflineCanonicalizer performs no network calls. Used by tests and by
// call sites that only need the syntactic normalization rules.
func NewOfflineCanonicalizer() *Canonicalizer {
	return &Canonicalizer{FollowRedirects: false}
}

// Canonicalize normalizes a URL for consistent comparison and deduplication.
//
// Rules applied, in order:
//  1. Default to https:// scheme if missing
//  2. Follow HTTP redirects to the final destination (when enabled)
//  3. Lowercase host and strip the "www." prefix
//  4. Upgrade to https and strip default ports 80/443
//  5. Remove the URL fragment
//  6. Remove common tracking query parameters
//  7. Sort the remaining query parameters
//  8. Strip the trailing slash from the path (except for root)
func (c *Canonicalizer) Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("URL cannot be empty")
	}

	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrap(err, "invalid URL")
	}
	if parsed.Host == "" {
		return "", errors.New("URL must have a valid domain")
	}

	if c.FollowRedirects && c.Get != nil {
		raw, err = c.followRedirects(raw)
		if err != nil {
			return "", err
		}
		parsed, err = url.Parse(raw)
		if err != nil {
			return "", errors.Wrap(err, "invalid URL after redirects")
		}
	}

	host := strings.ToLower(parsed.Host)
	host = strings.TrimPrefix(host, "www.")

	// Strip default ports. Both 80 and 443 since the scheme is upgraded to
	// https anyway.
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		port := host[idx+1:]
		if port == "80" || port == "443" {
			host = host[:idx]
		}
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}

	query := ""
	if parsed.RawQuery != "" {
		values, err := url.ParseQuery(parsed.RawQuery)
		if err == nil {
			filtered := url.Values{}
			for k, vs := range values {
				if trackingParams[strings.ToLower(k)] {
					continue
				}
				filtered[k] = vs
			}
			// Values.Encode sorts by key already.
			query = filtered.Encode()
		}
	}

	canonical := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     path,
		RawQuery: query,
	}
	return canonical.String(), nil
}

// followRedirects walks the redirect chain up to MaxRedirects hops. An
// unreachable URL is passed through unchanged so that canonicalization still
// succeeds for dead links.
func (c *Canonicalizer) followRedirects(start string) (string, error) {
	visited := map[string]bool{}
	current := start

	for i := 0; i < MaxRedirects; i++ {
		if visited[current] {
			return "", errors.Errorf("redirect loop detected: %s", current)
		}
		visited[current] = true

		res, err := c.Get(current)
		if err != nil {
			return current, nil
		}
		res.Body.Close()

		switch res.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			location := res.Header.Get("Location")
			if location == "" {
				return current, nil
			}
			next, err := resolveLocation(current, location)
			if err != nil {
				return current, nil
			}
			current = next
		default:
			return current, nil
		}
	}

	return "", errors.Errorf("too many redirects (>%d)", MaxRedirects)
}

func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func defaultHttpGet(uri string) (*http.Response, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return client.Get(uri)
}

// AppendUTM augments a canonical URL with the fixed attribution parameters
// stamped on reference posts.
func AppendUTM(canonicalUrl string, campaign string) string {
	parsed, err := url.Parse(canonicalUrl)
	if err != nil {
		return canonicalUrl
	}
	values := parsed.Query()
	values.Set("utm_source", "twitter")
	values.Set("utm_medium", "social")
	values.Set("utm_campaign", campaign)
	parsed.RawQuery = values.Encode()
	return parsed.String()
}
