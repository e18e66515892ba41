package app_config

import (
	"io/ioutil"
	"log"

	"gopkg.in/yaml.v2"
)

// This is the service config for run orchestration and posting.
type ThreadifyAppConfig struct {
	// Number of runs that can be in the posting stage at the same time,
	// across all accounts.
	GLOBAL_CONCURRENCY int `yaml:"GLOBAL_CONCURRENCY"`
	// Nominal delay between two posts of the same thread, in milliseconds.
	PACING_MS int64 `yaml:"PACING_MS"`
	// Jitter applied on top of PACING_MS, plus or minus, in milliseconds.
	PACING_JITTER_MS int64 `yaml:"PACING_JITTER_MS"`
	// Total publish attempts per post before the run is parked for review.
	MAX_PUBLISH_ATTEMPTS int `yaml:"MAX_PUBLISH_ATTEMPTS"`
	// Automatic re-dispatches of a run from the posting stage after a
	// retry-exhausted failure, before a human re-approval is required.
	MAX_AUTO_RESUMES int `yaml:"MAX_AUTO_RESUMES"`
	// Per-run generation budget cap in USD. Over-cap runs get one
	// compression pass, then are routed to review.
	BUDGET_CAP_USD float64 `yaml:"BUDGET_CAP_USD"`
	// Maximum number of content posts in a thread.
	THREAD_CAP int `yaml:"THREAD_CAP"`
	// Default utm_campaign value stamped on reference post links.
	UTM_CAMPAIGN string `yaml:"UTM_CAMPAIGN"`
	// Base URL of the text length validation service.
	LENGTH_SERVICE_URL string `yaml:"LENGTH_SERVICE_URL"`
}

// DefaultAppConfig returns the config used when no yaml file is present,
// matching the production defaults.
func DefaultAppConfig() ThreadifyAppConfig {
	return ThreadifyAppConfig{
		GLOBAL_CONCURRENCY:   3,
		PACING_MS:            3000,
		PACING_JITTER_MS:     500,
		MAX_PUBLISH_ATTEMPTS: 3,
		MAX_AUTO_RESUMES:     1,
		BUDGET_CAP_USD:       0.02,
		THREAD_CAP:           8,
		UTM_CAMPAIGN:         "threadify",
		LENGTH_SERVICE_URL:   "http://localhost:5000",
	}
}

func ParseThreadifyAppConfig(path string) ThreadifyAppConfig {
	c := DefaultAppConfig()
	yamlFile, err := ioutil.ReadFile(path)
	if err != nil {
		log.Println("no yaml config found, using defaults: ", err.Error())
		return c
	}
	err = yaml.Unmarshal(yamlFile, &c)
	if err != nil {
		log.Fatal("Unmarshal: ", err)
	}
	return c
}
