package lengthcheck

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// MaxWeightedLength is the single-post size limit used by the local
// fallback when the validation service is not reachable.
const MaxWeightedLength = 280

type CheckResult struct {
	IsValid        bool `json:"is_valid"`
	WeightedLength int  `json:"weighted_length"`
	Permillage     int  `json:"permillage"`
}

// Client talks to the text length validation service, which implements the
// platform's official weighted length rules.
type Client struct {
	baseUrl string
	client  *http.Client
}

func NewClient(baseUrl string) *Client {
	return &Client{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Check validates a post text against the platform size limit. When the
// service is unreachable it falls back to a plain rune count, which is
// stricter than the official weighting for URLs but never accepts an
// over-length text.
func (c *Client) Check(text string) (*CheckResult, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	res, err := c.client.Post(c.baseUrl+"/length/check", "application/json", bytes.NewReader(payload))
	if err != nil {
		return c.localCheck(text), nil
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, errors.Errorf("length service returned %d", res.StatusCode)
	}

	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read length service response")
	}

	result := &CheckResult{}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, errors.Wrap(err, "decode length service response")
	}
	return result, nil
}

func (c *Client) localCheck(text string) *CheckResult {
	length := utf8.RuneCountInString(text)
	return &CheckResult{
		IsValid:        length <= MaxWeightedLength,
		WeightedLength: length,
		Permillage:     length * 1000 / MaxWeightedLength,
	}
}
