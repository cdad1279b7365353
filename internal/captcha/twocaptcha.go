package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultAPIBase = "https://2captcha.com"

// TwoCaptcha solves challenges through the 2Captcha HTTP API: submit the
// challenge to in.php, then poll res.php until the worker pool produces a
// token.
type TwoCaptcha struct {
	apiKey       string
	apiBase      string
	client       *http.Client
	pollInterval time.Duration
	timeout      time.Duration
	logger       *zap.Logger
}

// TwoCaptchaConfig controls the API client.
type TwoCaptchaConfig struct {
	APIKey       string
	APIBase      string // override for tests
	PollInterval time.Duration
	Timeout      time.Duration
}

// NewTwoCaptcha builds a 2Captcha-backed Solver.
func NewTwoCaptcha(cfg TwoCaptchaConfig, logger *zap.Logger) (*TwoCaptcha, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("captcha.api_key is required")
	}
	base := cfg.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &TwoCaptcha{
		apiKey:       cfg.APIKey,
		apiBase:      strings.TrimRight(base, "/"),
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: poll,
		timeout:      timeout,
		logger:       logger,
	}, nil
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the challenge and polls until a token is ready. Worker-side
// failures (queue saturation, unsolvable reports) come back as
// TransientError so the session manager's retry loop can decide.
func (s *TwoCaptcha) Solve(ctx context.Context, ch Challenge) (string, error) {
	id, err := s.submit(ctx, ch)
	if err != nil {
		return "", err
	}
	s.logger.Info("Captcha submitted to solver",
		zap.String("captcha_id", id),
		zap.String("page_url", ch.PageURL),
	)

	deadline := time.Now().Add(s.timeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return "", &TransientError{Reason: "solver timeout"}
		}

		token, ready, err := s.poll(ctx, id)
		if err != nil {
			return "", err
		}
		if ready {
			return token, nil
		}
	}
}

func (s *TwoCaptcha) submit(ctx context.Context, ch Challenge) (string, error) {
	form := url.Values{
		"key":       {s.apiKey},
		"method":    {"userrecaptcha"},
		"googlekey": {ch.SiteKey},
		"pageurl":   {ch.PageURL},
		"json":      {"1"},
	}
	if ch.Enterprise {
		form.Set("enterprise", "1")
	}
	resp, err := s.postForm(ctx, s.apiBase+"/in.php", form)
	if err != nil {
		return "", err
	}
	if resp.Status != 1 {
		return "", s.classify(resp.Request)
	}
	return resp.Request, nil
}

func (s *TwoCaptcha) poll(ctx context.Context, id string) (token string, ready bool, err error) {
	form := url.Values{
		"key":    {s.apiKey},
		"action": {"get"},
		"id":     {id},
		"json":   {"1"},
	}
	resp, err := s.postForm(ctx, s.apiBase+"/res.php", form)
	if err != nil {
		return "", false, err
	}
	if resp.Status == 1 {
		return resp.Request, true, nil
	}
	if resp.Request == "CAPCHA_NOT_READY" {
		return "", false, nil
	}
	return "", false, s.classify(resp.Request)
}

func (s *TwoCaptcha) postForm(ctx context.Context, endpoint string, form url.Values) (apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return apiResponse{}, fmt.Errorf("build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := s.client.Do(req)
	if err != nil {
		return apiResponse{}, &TransientError{Reason: err.Error()}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return apiResponse{}, &TransientError{
			Reason: fmt.Sprintf("solver API status %d", httpResp.StatusCode),
		}
	}
	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return apiResponse{}, fmt.Errorf("decode solver response: %w", err)
	}
	return resp, nil
}

// classify maps 2Captcha error codes onto the transient/permanent split.
func (s *TwoCaptcha) classify(code string) error {
	switch code {
	case "ERROR_NO_SLOT_AVAILABLE", "ERROR_CAPTCHA_UNSOLVABLE", "ERROR_BAD_DUPLICATES":
		return &TransientError{Reason: code}
	default:
		return fmt.Errorf("captcha solver error: %s", code)
	}
}
