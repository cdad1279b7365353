package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kyrt-project/courtcrawler/internal/captcha"
	"github.com/kyrt-project/courtcrawler/internal/fetch"
)

const challengeFixture = `<html><body>
<form name="captcha_form" action="/challenge" method="post">
  <input type="hidden" name="sid" value="abc"/>
</form>
<div class="g-recaptcha" data-sitekey="page-site-key"></div>
</body></html>`

// recordingSolver captures the challenges it was asked to solve and returns
// scripted errors.
type recordingSolver struct {
	mu         sync.Mutex
	challenges []captcha.Challenge
	errs       []error
}

func (s *recordingSolver) Solve(_ context.Context, ch captcha.Challenge) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges = append(s.challenges, ch)
	if n := len(s.challenges); n <= len(s.errs) && s.errs[n-1] != nil {
		return "", s.errs[n-1]
	}
	return "solved-token", nil
}

func (s *recordingSolver) calls() []captcha.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]captcha.Challenge(nil), s.challenges...)
}

func newTestManager(t *testing.T, solver captcha.Solver, cfg Config) *Manager {
	t.Helper()
	logger := zap.NewNop()
	client := fetch.NewClient("test-agent", 5*time.Second, logger)
	return NewManager(client, solver, cfg, logger)
}

func TestIsChallenge(t *testing.T) {
	page := fetch.Page{Body: []byte(challengeFixture)}
	doc, err := page.Document()
	require.NoError(t, err)
	require.True(t, IsChallenge(doc))

	page = fetch.Page{Body: []byte(`<html><body><form name="form"></form></body></html>`)}
	doc, err = page.Document()
	require.NoError(t, err)
	require.False(t, IsChallenge(doc))
}

func TestResolveSubmitsTokenAndUpdatesSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/challenge", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "solved-token", r.Form.Get("g-recaptcha-response"))
		require.Equal(t, "abc", r.Form.Get("sid"))
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "fresh", Path: "/"})
		fmt.Fprint(w, "real content")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	solver := &recordingSolver{}
	m := newTestManager(t, solver, Config{MaxRetries: 3, Challenge: captcha.Challenge{SiteKey: "configured-key", Enterprise: true}})

	sess := m.LoadCached()
	page := fetch.Page{URL: server.URL + "/results", FinalURL: server.URL + "/results", StatusCode: 200, Body: []byte(challengeFixture)}
	next, err := m.Resolve(context.Background(), page, sess)
	require.NoError(t, err)
	require.Equal(t, "real content", string(next.Body))
	require.Equal(t, "solved-token", sess.ChallengeToken)
	require.Equal(t, StatusReady, sess.Status())

	// The configured site key wins over the one embedded in the page, and
	// the page URL is filled per challenge.
	calls := solver.calls()
	require.Len(t, calls, 1)
	require.Equal(t, "configured-key", calls[0].SiteKey)
	require.True(t, calls[0].Enterprise)
	require.Equal(t, server.URL+"/results", calls[0].PageURL)
	require.Equal(t, "recaptcha-v2", calls[0].Type)

	var found bool
	for _, c := range sess.HTTPCookies() {
		if c.Name == "session" && c.Value == "fresh" {
			found = true
		}
	}
	require.True(t, found)
}

func TestResolveFallsBackToPageSiteKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	solver := &recordingSolver{}
	m := newTestManager(t, solver, Config{MaxRetries: 3})

	page := fetch.Page{URL: server.URL, FinalURL: server.URL, StatusCode: 200, Body: []byte(challengeFixture)}
	_, err := m.Resolve(context.Background(), page, m.LoadCached())
	require.NoError(t, err)

	calls := solver.calls()
	require.Len(t, calls, 1)
	require.Equal(t, "page-site-key", calls[0].SiteKey)
}

func TestResolveRetriesTransientSolverFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	solver := &recordingSolver{errs: []error{
		&captcha.TransientError{Reason: "no slot"},
		&captcha.TransientError{Reason: "unsolvable"},
		nil,
	}}
	m := newTestManager(t, solver, Config{MaxRetries: 3})

	page := fetch.Page{URL: server.URL, FinalURL: server.URL, StatusCode: 200, Body: []byte(challengeFixture)}
	_, err := m.Resolve(context.Background(), page, m.LoadCached())
	require.NoError(t, err)
	require.Len(t, solver.calls(), 3)

	// Success reset the counter: a later challenge gets the full budget
	// again.
	solver.mu.Lock()
	solver.errs = []error{&captcha.TransientError{Reason: "no slot"}, nil}
	solver.challenges = nil
	solver.mu.Unlock()
	_, err = m.Resolve(context.Background(), page, m.LoadCached())
	require.NoError(t, err)
	require.Len(t, solver.calls(), 2)
}

func TestResolveReturnsErrMaxRetries(t *testing.T) {
	solver := &recordingSolver{errs: []error{
		&captcha.TransientError{Reason: "no slot"},
		&captcha.TransientError{Reason: "no slot"},
		&captcha.TransientError{Reason: "no slot"},
	}}
	m := newTestManager(t, solver, Config{MaxRetries: 3})

	page := fetch.Page{URL: "http://unused.invalid", FinalURL: "http://unused.invalid", Body: []byte(challengeFixture)}
	_, err := m.Resolve(context.Background(), page, m.LoadCached())
	require.ErrorIs(t, err, ErrMaxRetries)
	require.Len(t, solver.calls(), 3)
}

func TestResolveStopsOnPermanentSolverError(t *testing.T) {
	solver := &recordingSolver{errs: []error{fmt.Errorf("bad api key")}}
	m := newTestManager(t, solver, Config{MaxRetries: 3})

	page := fetch.Page{URL: "http://unused.invalid", FinalURL: "http://unused.invalid", Body: []byte(challengeFixture)}
	_, err := m.Resolve(context.Background(), page, m.LoadCached())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrMaxRetries)
	require.Len(t, solver.calls(), 1)
}

func TestResolvePassesThroughNonChallengePage(t *testing.T) {
	m := newTestManager(t, &recordingSolver{}, Config{MaxRetries: 3})
	page := fetch.Page{Body: []byte("<html><body>plain page</body></html>")}
	out, err := m.Resolve(context.Background(), page, m.LoadCached())
	require.NoError(t, err)
	require.Equal(t, page.Body, out.Body)
}

func TestSessionCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "session_ny.json")
	m := newTestManager(t, &recordingSolver{}, Config{MaxRetries: 3, CachePath: path})

	sess := m.LoadCached()
	require.Equal(t, StatusNeedSession, sess.Status())
	sess.SetCookies([]*http.Cookie{{Name: "session", Value: "v1", Path: "/"}})
	sess.ChallengeToken = "tok"
	require.NoError(t, m.Save(sess))

	loaded := m.LoadCached()
	require.Equal(t, "tok", loaded.ChallengeToken)
	require.Equal(t, StatusNeedSession, loaded.Status())
	cookies := loaded.HTTPCookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "session", cookies[0].Name)
	require.Equal(t, "v1", cookies[0].Value)
	require.False(t, loaded.SavedAt.IsZero())
}

func TestLoadCachedIgnoresCorruptCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_ny.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	m := newTestManager(t, &recordingSolver{}, Config{MaxRetries: 3, CachePath: path})
	sess := m.LoadCached()
	require.Empty(t, sess.Cookies)
	require.Equal(t, StatusNeedSession, sess.Status())
}
