// Package fetch wraps the Colly collector into a single-request client with
// explicit cookie handling. Court sites tie searches to server-side session
// state, so cookies are injected and harvested on every call instead of
// living in a hidden jar.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Request captures everything needed for one page fetch. A nil Form means
// GET; otherwise the request is a form POST.
type Request struct {
	URL    string
	Form   map[string]string
	Header http.Header
}

// Page is the result of a fetch. StatusCode is set even when the server
// answered with an error status.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
}

// Document parses the page body as HTML.
func (p *Page) Document() (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
}

// Client issues single page fetches with a fresh collector per call.
// Collectors are not reused across requests so that callbacks never
// accumulate; session continuity lives entirely in the cookie slice.
type Client struct {
	userAgent string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewClient builds a fetch client.
func NewClient(userAgent string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{userAgent: userAgent, timeout: timeout, logger: logger}
}

type fetchResult struct {
	page Page
	err  error
}

// Do performs the request with the given session cookies and returns the page
// plus the updated cookie set. Server error statuses are returned as a Page
// with the status filled in, not as an error, so callers can inspect the
// body; transport failures return an error.
func (c *Client) Do(ctx context.Context, req Request, cookies []*http.Cookie) (Page, []*http.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, cookies, err
	}

	collector := colly.NewCollector(
		colly.UserAgent(c.userAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	collector.SetRequestTimeout(c.timeout)

	if len(cookies) > 0 {
		if err := collector.SetCookies(req.URL, cookies); err != nil {
			return Page{}, cookies, err
		}
	}

	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnRequest(func(r *colly.Request) {
		for k, values := range req.Header {
			for _, v := range values {
				r.Headers.Set(k, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{page: pageFromResponse(req.URL, r)})
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Non-2xx answers still carry a useful body and status.
		if r != nil && r.StatusCode > 0 {
			send(fetchResult{page: pageFromResponse(req.URL, r)})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	var visitErr error
	if req.Form != nil {
		visitErr = collector.Post(req.URL, req.Form)
	} else {
		visitErr = collector.Visit(req.URL)
	}
	if visitErr != nil {
		return Page{}, cookies, visitErr
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Page{}, cookies, err
		}
		if res.err != nil {
			return Page{}, cookies, res.err
		}
		return res.page, collector.Cookies(req.URL), nil
	default:
		return Page{}, cookies, errors.New("fetch produced no result")
	}
}

func pageFromResponse(requested string, r *colly.Response) Page {
	finalURL := requested
	if r.Request != nil && r.Request.URL != nil {
		finalURL = r.Request.URL.String()
	}
	return Page{
		URL:        requested,
		FinalURL:   finalURL,
		StatusCode: r.StatusCode,
		Body:       append([]byte{}, r.Body...),
	}
}
