package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	"github.com/kamaleddin/threadify/utils/dotenv"
	Flag "github.com/kamaleddin/threadify/utils/flag"
	Logger "github.com/kamaleddin/threadify/utils/log"
)

// Service dependent flags, shared ones live in utils/flag.
var (
	serverUrl   = flag.String("server", "http://localhost:8080", "base URL of the api server")
	submitUrl   = flag.String("url", "", "article URL to submit")
	account     = flag.String("account", "", "posting account handle, defaults to the first configured account")
	mode        = flag.String("mode", "review", "'review' or 'auto'")
	runType     = flag.String("type", "thread", "'thread' or 'single'")
	style       = flag.String("style", "", "generation style hint")
	hook        = flag.Bool("hook", false, "lead the thread with a hook post")
	noReference = flag.Bool("no-reference", false, "skip the trailing reference post")
	refText     = flag.String("reference-text", "", "override the generated reference attribution text")
	utmCampaign = flag.String("utm-campaign", "", "override the utm_campaign on the reference link")
	threadCap   = flag.Int("thread-cap", 0, "maximum content posts per thread, 0 uses the server default")
	force       = flag.Bool("force", false, "submit even if the URL was already published")
	approveId   = flag.String("approve", "", "approve the run with this id")
	cancelId    = flag.String("cancel", "", "cancel the queued run with this id")
	statusId    = flag.String("status", "", "show the run with this id")
	list        = flag.Bool("list", false, "list recent runs")
)

type client struct {
	baseUrl string
	token   string
	http    *http.Client
}

func (c *client) do(method, path string, body interface{}) (map[string]interface{}, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseUrl+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	decoded := map[string]interface{}{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("server returned %d: %s", res.StatusCode, string(data))
	}
	if res.StatusCode >= 400 {
		return decoded, fmt.Errorf("server returned %d: %v", res.StatusCode, decoded["error"])
	}
	return decoded, nil
}

func printJson(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func main() {
	Flag.ParseFlags()

	if err := dotenv.LoadDotEnvs(); err != nil {
		Logger.Log.Warnf("cannot load .env files: %v", err)
	}

	c := &client{
		baseUrl: *serverUrl,
		token:   os.Getenv("THREADIFY_API_TOKEN"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}

	var (
		result map[string]interface{}
		err    error
	)

	switch {
	case *submitUrl != "":
		result, err = c.do(http.MethodPost, "/api/submit", map[string]interface{}{
			"url":            *submitUrl,
			"account":        *account,
			"mode":           *mode,
			"type":           *runType,
			"style":          *style,
			"hook":           *hook,
			"no_reference":   *noReference,
			"reference_text": *refText,
			"utm_campaign":   *utmCampaign,
			"thread_cap":     *threadCap,
			"force":          *force,
		})
	case *approveId != "":
		result, err = c.do(http.MethodPost, "/api/runs/"+*approveId+"/approve", nil)
	case *cancelId != "":
		result, err = c.do(http.MethodPost, "/api/runs/"+*cancelId+"/cancel", nil)
	case *statusId != "":
		result, err = c.do(http.MethodGet, "/api/runs/"+*statusId, nil)
	case *list:
		result, err = c.do(http.MethodGet, "/api/runs", nil)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printJson(result)
}
