package canonical

import (
	"io/ioutil"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeNormalization(t *testing.T) {
	c := NewOfflineCanonicalizer()

	for _, tc := range []struct {
		name string
		in   string
		want string
	}{
		{"bare domain gets https", "example.com/post", "https://example.com/post"},
		{"http upgrades to https", "http://example.com/post", "https://example.com/post"},
		{"host lowercased", "https://EXAMPLE.com/Post", "https://example.com/Post"},
		{"www stripped", "https://www.example.com/post", "https://example.com/post"},
		{"port 443 stripped", "https://example.com:443/post", "https://example.com/post"},
		{"port 80 stripped", "http://example.com:80/post", "https://example.com/post"},
		{"custom port kept", "https://example.com:8443/post", "https://example.com:8443/post"},
		{"fragment dropped", "https://example.com/post#section-2", "https://example.com/post"},
		{"trailing slash stripped", "https://example.com/post/", "https://example.com/post"},
		{"root slash kept", "https://example.com/", "https://example.com/"},
		{"bare host gets root slash", "https://example.com", "https://example.com/"},
		{"query params sorted", "https://example.com/p?b=2&a=1", "https://example.com/p?a=1&b=2"},
		{"meaningful params kept", "https://example.com/p?page=3", "https://example.com/p?page=3"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Canonicalize(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalizeStripsTrackingParams(t *testing.T) {
	c := NewOfflineCanonicalizer()

	got, err := c.Canonicalize("https://example.com/post?utm_source=x&utm_medium=social&fbclid=abc&gclid=def&ref=hn&id=42")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/post?id=42", got)

	// Tracking keys match case-insensitively.
	got, err = c.Canonicalize("https://example.com/post?UTM_Source=x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/post", got)
}

func TestCanonicalizeEquivalentForms(t *testing.T) {
	c := NewOfflineCanonicalizer()

	variants := []string{
		"https://www.example.com/article/",
		"http://example.com/article?utm_campaign=x",
		"EXAMPLE.com/article#comments",
		"https://example.com:443/article",
	}

	first, err := c.Canonicalize(variants[0])
	require.NoError(t, err)
	for _, v := range variants[1:] {
		got, err := c.Canonicalize(v)
		require.NoError(t, err)
		assert.Equal(t, first, got, "variant %s", v)
	}
}

func TestCanonicalizeRejectsInvalid(t *testing.T) {
	c := NewOfflineCanonicalizer()

	_, err := c.Canonicalize("")
	assert.Error(t, err)

	_, err = c.Canonicalize("   ")
	assert.Error(t, err)

	_, err = c.Canonicalize("https://")
	assert.Error(t, err)
}

func fakeResponse(status int, location string) *http.Response {
	res := &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       ioutil.NopCloser(strings.NewReader("")),
	}
	if location != "" {
		res.Header.Set("Location", location)
	}
	return res
}

func TestCanonicalizeFollowsRedirects(t *testing.T) {
	hops := map[string]*http.Response{
		"https://sho.rt/abc":             fakeResponse(http.StatusMovedPermanently, "https://example.com/real"),
		"https://example.com/real":       fakeResponse(http.StatusFound, "/real/final"),
		"https://example.com/real/final": fakeResponse(http.StatusOK, ""),
	}
	c := &Canonicalizer{
		FollowRedirects: true,
		Get: func(url string) (*http.Response, error) {
			res, ok := hops[url]
			require.True(t, ok, "unexpected fetch of %s", url)
			return res, nil
		},
	}

	got, err := c.Canonicalize("https://sho.rt/abc")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/real/final", got)
}

func TestCanonicalizeRedirectLoop(t *testing.T) {
	c := &Canonicalizer{
		FollowRedirects: true,
		Get: func(url string) (*http.Response, error) {
			if url == "https://a.test/1" {
				return fakeResponse(http.StatusFound, "https://a.test/2"), nil
			}
			return fakeResponse(http.StatusFound, "https://a.test/1"), nil
		},
	}

	_, err := c.Canonicalize("https://a.test/1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect loop")
}

func TestCanonicalizeUnreachablePassesThrough(t *testing.T) {
	c := &Canonicalizer{
		FollowRedirects: true,
		Get: func(url string) (*http.Response, error) {
			return nil, assert.AnError
		},
	}

	got, err := c.Canonicalize("https://www.down.example/post/")
	require.NoError(t, err)
	assert.Equal(t, "https://down.example/post", got)
}

func TestAppendUTM(t *testing.T) {
	got := AppendUTM("https://example.com/post", "threadify")
	assert.Equal(t, "https://example.com/post?utm_campaign=threadify&utm_medium=social&utm_source=twitter", got)

	// Existing params survive and stay sorted.
	got = AppendUTM("https://example.com/post?id=42", "launch")
	assert.Equal(t, "https://example.com/post?id=42&utm_campaign=launch&utm_medium=social&utm_source=twitter", got)
}
