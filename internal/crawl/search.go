package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kyrt-project/courtcrawler/internal/config"
	"github.com/kyrt-project/courtcrawler/internal/fetch"
	"github.com/kyrt-project/courtcrawler/internal/model"
	"github.com/kyrt-project/courtcrawler/internal/session"
	"github.com/kyrt-project/courtcrawler/internal/store"
)

// SearchStats summarizes one search run.
type SearchStats struct {
	Companies  int
	Queries    int
	CasesFound int
	Abandoned  int
}

// companyStats accumulates per-company numbers for the end-of-run report.
type companyStats struct {
	name       string
	casesFound int
	newestDate time.Time
}

// SearchEngine runs the first crawl stage: one search per company name
// variation, paginating each result set and recording never-before-seen
// cases. Searches run strictly serially; the court sites tie results to
// server-side session state, so parallel searches would corrupt each other.
type SearchEngine struct {
	site     Site
	client   *fetch.Client
	sessions *session.Manager
	store    store.Store
	cfg      config.Crawl
	mode     model.Mode
	logger   *zap.Logger

	now func() time.Time

	sess    *session.State
	known   map[string]struct{}
	buffer  []model.Case
	fetched bool
	byCo    map[int64]*companyStats
	stats   SearchStats
}

// NewSearchEngine builds a search engine for one jurisdiction.
func NewSearchEngine(site Site, client *fetch.Client, sessions *session.Manager, st store.Store, cfg config.Crawl, mode model.Mode, logger *zap.Logger) *SearchEngine {
	return &SearchEngine{
		site:     site,
		client:   client,
		sessions: sessions,
		store:    st,
		cfg:      cfg,
		mode:     mode,
		logger:   logger.With(zap.String("jurisdiction", string(site.Code()))),
		now:      time.Now,
	}
}

// Run executes searches for every company. A failed query is logged and
// abandoned without touching the rest of the run; only session
// establishment failures and context cancellation abort it.
func (s *SearchEngine) Run(ctx context.Context, companies []model.Company) (SearchStats, error) {
	known, err := s.store.KnownDocketIDs(ctx, s.site.Code())
	if err != nil {
		return SearchStats{}, fmt.Errorf("load known docket ids: %w", err)
	}
	s.known = known
	s.buffer = s.buffer[:0]
	s.fetched = false
	s.byCo = make(map[int64]*companyStats, len(companies))
	s.stats = SearchStats{Companies: len(companies)}

	if err := s.establish(ctx); err != nil {
		return s.stats, fmt.Errorf("establish session: %w", err)
	}

	tasks := ExpandQueries(companies)
	s.logger.Info("Starting search stage",
		zap.Int("companies", len(companies)),
		zap.Int("queries", len(tasks)),
		zap.String("mode", string(s.mode)),
	)

	for _, task := range tasks {
		s.stats.Queries++
		if err := s.searchTask(ctx, task); err != nil {
			if ctx.Err() != nil {
				return s.stats, ctx.Err()
			}
			s.stats.Abandoned++
			queriesAbandoned.WithLabelValues(string(s.site.Code())).Inc()
			level := s.logger.Warn
			if errors.Is(err, session.ErrMaxRetries) {
				level = s.logger.Error
			}
			level("Abandoning query",
				zap.String("company", task.Company.Name),
				zap.String("alias", task.Alias),
				zap.Error(err),
			)
		}
	}

	if err := s.flush(ctx); err != nil {
		return s.stats, err
	}
	s.report()
	return s.stats, nil
}

// establish opens the site entry point and clears any challenge before the
// first query. Failure here is fatal: no query can succeed without a
// session.
func (s *SearchEngine) establish(ctx context.Context) error {
	s.sess = s.sessions.LoadCached()

	page, err := s.do(ctx, s.site.EntryRequest())
	if err != nil {
		return err
	}
	loginReq, ok, err := s.site.LoginRequest(page)
	if err != nil {
		return err
	}
	if ok {
		if _, err := s.do(ctx, loginReq); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		s.logger.Info("Logged in")
	}
	return nil
}

// searchTask runs one name variation end to end: open the search form,
// submit, sort, then walk the result pages.
func (s *SearchEngine) searchTask(ctx context.Context, task SearchTask) error {
	s.logger.Info("Searching",
		zap.String("company", task.Company.Name),
		zap.String("alias", task.Alias),
	)

	formPage, err := s.do(ctx, s.site.SearchFormRequest())
	if err != nil {
		return err
	}
	searchReq, err := s.site.SearchRequest(formPage, task.Alias)
	if err != nil {
		return err
	}
	page, err := s.do(ctx, searchReq)
	if err != nil {
		return err
	}

	sortReq, sorted, err := s.site.SortRequest(page)
	if err != nil {
		return err
	}
	if sorted {
		if page, err = s.do(ctx, sortReq); err != nil {
			return err
		}
	}

	cutoff := s.cfg.Cutoff(s.now())
	for pageNum := 1; ; pageNum++ {
		results, err := s.site.ParseResults(page)
		if err != nil {
			return fmt.Errorf("parse results page %d: %w", pageNum, err)
		}

		sawOld := false
		newOnPage := 0
		for _, row := range results.Rows {
			if !row.CaseDate.IsZero() && row.CaseDate.Before(cutoff) {
				sawOld = true
				continue
			}
			if _, exists := s.known[row.DocketID]; exists {
				continue
			}
			s.known[row.DocketID] = struct{}{}
			newOnPage++
			if err := s.record(ctx, task, row); err != nil {
				return err
			}
		}
		s.logger.Debug("Parsed results page",
			zap.String("alias", task.Alias),
			zap.Int("page", pageNum),
			zap.Int("rows", len(results.Rows)),
			zap.Int("new", newOnPage),
		)

		// Results arrive newest first, so a page holding an out-of-window
		// date means deeper pages cannot be in the window either. A page of
		// already-known rows still advances: unseen cases may sit behind it,
		// and CT rows carry no dates to rule that out.
		if results.Next == nil || sawOld {
			return nil
		}
		if page, err = s.do(ctx, *results.Next); err != nil {
			return err
		}
	}
}

// record buffers one discovered case, flushing at the batch size.
func (s *SearchEngine) record(ctx context.Context, task SearchTask, row ResultRow) error {
	c := model.Case{
		Jurisdiction: s.site.Code(),
		CompanyID:    task.Company.ID,
		CompanyAlias: task.Alias,
		DocketID:     row.DocketID,
		CaseNumber:   row.CaseNumber,
		Caption:      row.Caption,
		Court:        row.Court,
		CaseType:     row.CaseType,
		CaseDate:     row.CaseDate,
		Status:       row.Status,
		URL:          row.URL,
		FoundAt:      s.now(),
		NY:           row.NY,
		CT:           row.CT,
	}
	s.buffer = append(s.buffer, c)
	s.stats.CasesFound++
	casesFound.WithLabelValues(string(s.site.Code())).Inc()

	cs := s.byCo[task.Company.ID]
	if cs == nil {
		cs = &companyStats{name: task.Company.Name}
		s.byCo[task.Company.ID] = cs
	}
	cs.casesFound++
	if row.CaseDate.After(cs.newestDate) {
		cs.newestDate = row.CaseDate
	}

	if len(s.buffer) >= s.cfg.BatchSize {
		return s.flush(ctx)
	}
	return nil
}

func (s *SearchEngine) flush(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}
	if err := s.store.CreateCases(ctx, s.buffer); err != nil {
		return fmt.Errorf("persist %d cases: %w", len(s.buffer), err)
	}
	s.logger.Info("Persisted case batch", zap.Int("count", len(s.buffer)))
	s.buffer = s.buffer[:0]
	return nil
}

func (s *SearchEngine) report() {
	for _, cs := range s.byCo {
		fields := []zap.Field{
			zap.String("company", cs.name),
			zap.Int("cases_found", cs.casesFound),
		}
		if !cs.newestDate.IsZero() {
			fields = append(fields, zap.Time("newest_date", cs.newestDate))
		}
		s.logger.Info("Company search summary", fields...)
	}
	s.logger.Info("Search stage finished",
		zap.Int("queries", s.stats.Queries),
		zap.Int("cases_found", s.stats.CasesFound),
		zap.Int("abandoned", s.stats.Abandoned),
	)
}

// do fetches one page through the session: cookies are injected and
// harvested around the request, and a challenge interstitial is resolved
// and the original request replayed. A challenge that survives its own
// resolution fails the query.
func (s *SearchEngine) do(ctx context.Context, req fetch.Request) (fetch.Page, error) {
	page, err := s.fetch(ctx, req)
	if err != nil {
		return fetch.Page{}, err
	}
	doc, err := page.Document()
	if err != nil {
		return fetch.Page{}, fmt.Errorf("parse %s: %w", page.FinalURL, err)
	}
	if !session.IsChallenge(doc) {
		s.sessions.MarkReady(s.sess)
		return page, nil
	}

	if _, err := s.sessions.Resolve(ctx, page, s.sess); err != nil {
		captchaSolves.WithLabelValues("failure").Inc()
		return fetch.Page{}, err
	}
	captchaSolves.WithLabelValues("success").Inc()
	page, err = s.fetch(ctx, req)
	if err != nil {
		return fetch.Page{}, err
	}
	doc, err = page.Document()
	if err != nil {
		return fetch.Page{}, fmt.Errorf("parse %s: %w", page.FinalURL, err)
	}
	if session.IsChallenge(doc) {
		return fetch.Page{}, fmt.Errorf("challenge persisted after solving at %s", page.FinalURL)
	}
	s.sessions.MarkReady(s.sess)
	return page, nil
}

func (s *SearchEngine) fetch(ctx context.Context, req fetch.Request) (fetch.Page, error) {
	if s.fetched {
		if err := pause(ctx, s.cfg.SearchDelay); err != nil {
			return fetch.Page{}, err
		}
	}
	s.fetched = true

	page, cookies, err := s.client.Do(ctx, req, s.sess.HTTPCookies())
	if err != nil {
		return fetch.Page{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	s.sess.SetCookies(cookies)
	return page, nil
}
