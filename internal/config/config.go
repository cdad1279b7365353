// Package config maps Viper settings onto typed configuration structs used by
// the crawl pipeline. Keeping the structs decoupled from Viper makes the
// stages easier to test independently.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/kyrt-project/courtcrawler/internal/model"
)

// Crawl captures every knob that influences a crawl run.
type Crawl struct {
	// DaysBack is the recency cutoff: cases older than today-DaysBack are
	// not actively (re)crawled.
	DaysBack  int
	BatchSize int

	RequestTimeout      time.Duration
	SearchDelay         time.Duration
	DetailConcurrency   int
	DownloadConcurrency int
	DownloadDelay       time.Duration

	UserAgent        string
	BrowserUserAgent string

	DataDir string

	SessionPrimeEnabled bool
	SessionPrimeTimeout time.Duration

	MaxCaptchaRetries int
}

// LoadCrawl constructs a Crawl config by reading from Viper.
func LoadCrawl(v *viper.Viper) (Crawl, error) {
	cfg := Crawl{
		DaysBack:            v.GetInt("crawler.days_back"),
		BatchSize:           v.GetInt("crawler.batch_size"),
		RequestTimeout:      v.GetDuration("crawler.request_timeout"),
		SearchDelay:         v.GetDuration("crawler.search_delay"),
		DetailConcurrency:   v.GetInt("crawler.detail_concurrency"),
		DownloadConcurrency: v.GetInt("crawler.download_concurrency"),
		DownloadDelay:       v.GetDuration("crawler.download_delay"),
		UserAgent:           v.GetString("crawler.user_agent"),
		BrowserUserAgent:    v.GetString("crawler.browser_user_agent"),
		DataDir:             v.GetString("crawler.data_dir"),
		SessionPrimeEnabled: v.GetBool("crawler.session_prime_enabled"),
		SessionPrimeTimeout: v.GetDuration("crawler.session_prime_timeout"),
		MaxCaptchaRetries:   v.GetInt("captcha.max_retries"),
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Crawl) Validate() error {
	if c.DaysBack <= 0 {
		return fmt.Errorf("crawler.days_back must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.DetailConcurrency <= 0 {
		return fmt.Errorf("crawler.detail_concurrency must be > 0")
	}
	if c.DownloadConcurrency <= 0 {
		return fmt.Errorf("crawler.download_concurrency must be > 0")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.BrowserUserAgent == "" {
		return fmt.Errorf("crawler.browser_user_agent must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("crawler.data_dir must be set")
	}
	if c.MaxCaptchaRetries <= 0 {
		return fmt.Errorf("captcha.max_retries must be > 0")
	}
	return nil
}

// Cutoff returns the oldest case date still inside the lookback window,
// relative to now. Court sites publish dates at day granularity, so the
// cutoff is the start of the day: a case dated exactly at the cutoff is in
// window.
func (c Crawl) Cutoff(now time.Time) time.Time {
	// Parsed court dates are UTC midnights; keep the comparison day-exact.
	day := now.AddDate(0, 0, -c.DaysBack)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

// Site holds per-jurisdiction credentials and challenge keys.
type Site struct {
	Username string
	Password string
	SiteKey  string
}

// LoadSite reads the credentials block for one jurisdiction,
// e.g. sites.ny.username.
func LoadSite(v *viper.Viper, code model.Jurisdiction) Site {
	prefix := "sites." + string(code) + "."
	switch code {
	case model.JurisdictionNY:
		prefix = "sites.ny."
	case model.JurisdictionCT:
		prefix = "sites.ct."
	}
	return Site{
		Username: v.GetString(prefix + "username"),
		Password: v.GetString(prefix + "password"),
		SiteKey:  v.GetString(prefix + "site_key"),
	}
}
