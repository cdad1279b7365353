// Package session acquires and maintains a working site session: cookies,
// the last known-good challenge token, and the retry loop around the
// CAPTCHA-solving oracle.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/kyrt-project/courtcrawler/internal/captcha"
	"github.com/kyrt-project/courtcrawler/internal/fetch"
)

// challengeFormName is the form name the court sites use for their
// reCAPTCHA interstitial.
const challengeFormName = "captcha_form"

// ErrMaxRetries is returned when the solving oracle fails more times in a row
// than the configured maximum. Fatal for the current query, not the run.
var ErrMaxRetries = errors.New("captcha solve retries exhausted")

// Status tracks where session establishment stands. Exposed mainly for
// logging; the manager drives all transitions itself.
type Status int

// Session establishment states.
const (
	StatusNeedSession Status = iota
	StatusAwaitingChallengeSolution
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusNeedSession:
		return "NEED_SESSION"
	case StatusAwaitingChallengeSolution:
		return "AWAITING_CHALLENGE_SOLUTION"
	case StatusReady:
		return "SESSION_READY"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// State is the session value threaded through a crawl run: cookies plus the
// last solved challenge token. Sites accept a stale solved-challenge cookie
// for many subsequent searches, so the token is worth caching.
type State struct {
	Cookies        []cookie  `json:"cookies"`
	ChallengeToken string    `json:"challenge_token"`
	SavedAt        time.Time `json:"saved_at"`

	status Status
}

// cookie is the JSON-serializable subset of http.Cookie we persist.
type cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Status returns the current establishment state.
func (s *State) Status() Status { return s.status }

// HTTPCookies converts the stored cookies for use with the fetch client.
func (s *State) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return out
}

// SetCookies replaces the stored cookie set.
func (s *State) SetCookies(cookies []*http.Cookie) {
	s.Cookies = s.Cookies[:0]
	for _, c := range cookies {
		s.Cookies = append(s.Cookies, cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
}

// Manager owns the session state machine and the challenge-solving loop.
type Manager struct {
	client     *fetch.Client
	solver     captcha.Solver
	maxRetries int
	retries    int
	cachePath  string
	challenge  captcha.Challenge
	logger     *zap.Logger
}

// Config controls a Manager.
type Config struct {
	// MaxRetries bounds consecutive oracle failures; the counter resets to
	// zero after each successful solve.
	MaxRetries int
	// CachePath is where the session state is persisted between runs.
	// Empty disables caching. The cache is a performance optimization only:
	// a stale session is re-detected by the challenge check and re-solved.
	CachePath string
	// Challenge is the per-site template (site key, enterprise flag); the
	// page URL is filled per challenge.
	Challenge captcha.Challenge
}

// NewManager builds a session manager.
func NewManager(client *fetch.Client, solver captcha.Solver, cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Manager{
		client:     client,
		solver:     solver,
		maxRetries: cfg.MaxRetries,
		cachePath:  cfg.CachePath,
		challenge:  cfg.Challenge,
		logger:     logger,
	}
}

// IsChallenge reports whether the page is a challenge interstitial rather
// than real content. Must be checked on every page, not just the first:
// sites re-challenge mid-session.
func IsChallenge(doc *goquery.Document) bool {
	_, found := findChallengeForm(doc)
	return found
}

func findChallengeForm(doc *goquery.Document) (*goquery.Selection, bool) {
	sel := doc.Find(fmt.Sprintf("form[name=%q]", challengeFormName))
	if sel.Length() == 0 {
		return nil, false
	}
	return sel.First(), true
}

// Resolve clears the challenge on page and returns the page the site serves
// once the token is accepted. The solved token and the updated cookies are
// recorded on sess and persisted to the cache.
func (m *Manager) Resolve(ctx context.Context, page fetch.Page, sess *State) (fetch.Page, error) {
	doc, err := page.Document()
	if err != nil {
		return fetch.Page{}, fmt.Errorf("parse challenge page: %w", err)
	}
	form, found := fetch.FindForm(doc, challengeFormName, page.FinalURL)
	if !found {
		return page, nil
	}

	sess.status = StatusAwaitingChallengeSolution
	m.logger.Info("Challenge detected",
		zap.String("url", page.FinalURL),
		zap.String("state", sess.status.String()),
	)

	token, err := m.solveWithRetries(ctx, page.FinalURL, doc)
	if err != nil {
		return fetch.Page{}, err
	}
	sess.ChallengeToken = token

	form = form.Set("g-recaptcha-response", token)
	next, cookies, err := m.client.Do(ctx, fetch.Request{URL: form.Action, Form: form.Values}, sess.HTTPCookies())
	if err != nil {
		return fetch.Page{}, fmt.Errorf("submit challenge solution: %w", err)
	}
	sess.SetCookies(cookies)
	sess.status = StatusReady
	m.logger.Info("Challenge cleared", zap.String("state", sess.status.String()))

	if err := m.Save(sess); err != nil {
		m.logger.Warn("Failed to persist session cache", zap.Error(err))
	}
	return next, nil
}

// solveWithRetries calls the oracle up to maxRetries times. The counter is
// shared across calls within the run and resets after every success.
func (m *Manager) solveWithRetries(ctx context.Context, pageURL string, doc *goquery.Document) (string, error) {
	ch := m.challenge
	ch.PageURL = pageURL
	if ch.SiteKey == "" {
		ch.SiteKey = siteKeyFromPage(doc)
	}
	if ch.Type == "" {
		ch.Type = "recaptcha-v2"
	}

	for {
		m.retries++
		m.logger.Info("Solving captcha",
			zap.Int("attempt", m.retries),
			zap.Int("max_attempts", m.maxRetries),
		)
		token, err := m.solver.Solve(ctx, ch)
		if err == nil {
			m.retries = 0
			m.logger.Info("Captcha solved")
			return token, nil
		}
		if !captcha.IsTransient(err) {
			return "", fmt.Errorf("captcha solve: %w", err)
		}
		m.logger.Warn("Captcha solve attempt failed", zap.Error(err))
		if m.retries >= m.maxRetries {
			return "", fmt.Errorf("%w after %d attempts", ErrMaxRetries, m.retries)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

func siteKeyFromPage(doc *goquery.Document) string {
	if key, ok := doc.Find("div.g-recaptcha").First().Attr("data-sitekey"); ok {
		return key
	}
	key, _ := doc.Find("[data-sitekey]").First().Attr("data-sitekey")
	return key
}

// LoadCached returns the cached session state, or a fresh empty state when no
// usable cache exists.
func (m *Manager) LoadCached() *State {
	sess := &State{status: StatusNeedSession}
	if m.cachePath == "" {
		return sess
	}
	raw, err := os.ReadFile(m.cachePath)
	if err != nil {
		return sess
	}
	var cached State
	if err := json.Unmarshal(raw, &cached); err != nil {
		m.logger.Warn("Discarding unreadable session cache", zap.Error(err))
		return sess
	}
	cached.status = StatusNeedSession
	m.logger.Info("Loaded session cache",
		zap.String("path", m.cachePath),
		zap.Time("saved_at", cached.SavedAt),
	)
	return &cached
}

// Save persists the session state for future runs.
func (m *Manager) Save(sess *State) error {
	if m.cachePath == "" {
		return nil
	}
	sess.SavedAt = time.Now().UTC()
	raw, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.cachePath), 0o755); err != nil {
		return fmt.Errorf("create session cache dir: %w", err)
	}
	if err := os.WriteFile(m.cachePath, raw, 0o600); err != nil {
		return fmt.Errorf("write session cache: %w", err)
	}
	return nil
}

// MarkReady records that page content was reached without a challenge.
func (m *Manager) MarkReady(sess *State) {
	if sess.status != StatusReady {
		sess.status = StatusReady
	}
}
