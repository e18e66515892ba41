package lengthcheck

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAgainstService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/length/check", r.URL.Path)

		body := map[string]string{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		json.NewEncoder(w).Encode(CheckResult{
			IsValid:        len(body["text"]) <= 10,
			WeightedLength: len(body["text"]),
			Permillage:     len(body["text"]) * 1000 / 280,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	res, err := c.Check("short")
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, 5, res.WeightedLength)

	res, err = c.Check("definitely too long")
	require.NoError(t, err)
	assert.False(t, res.IsValid)
}

func TestCheckServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Check("text")
	assert.Error(t, err)
}

func TestCheckFallsBackWhenUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1") // nothing listens here

	res, err := c.Check("hello")
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, 5, res.WeightedLength)

	res, err = c.Check(strings.Repeat("x", 281))
	require.NoError(t, err)
	assert.False(t, res.IsValid)
}
