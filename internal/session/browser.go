package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrPrimerDisabled indicates browser priming has been disabled via
// configuration.
var ErrPrimerDisabled = errors.New("browser primer disabled")

// BrowserPrimer loads the search entry page in headless Chrome and harvests
// the cookies the site sets for real browsers. Used as an escalation when the
// plain client is bot-blocked before it can even reach the challenge form.
type BrowserPrimer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	timeout         time.Duration
	logger          *zap.Logger
}

// BrowserPrimerConfig controls the primer.
type BrowserPrimerConfig struct {
	Enabled   bool
	UserAgent string
	Timeout   time.Duration
}

// NewBrowserPrimer starts a headless browser. Returns ErrPrimerDisabled when
// the feature flag is off.
func NewBrowserPrimer(cfg BrowserPrimerConfig, logger *zap.Logger) (*BrowserPrimer, error) {
	if !cfg.Enabled {
		return nil, ErrPrimerDisabled
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &BrowserPrimer{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		timeout:         cfg.Timeout,
		logger:          logger,
	}, nil
}

// Close tears down the browser.
func (p *BrowserPrimer) Close() {
	if p == nil {
		return
	}
	p.browserCancel()
	p.allocatorCancel()
}

// Prime navigates to entryURL and copies the browser's cookies into sess.
func (p *BrowserPrimer) Prime(ctx context.Context, entryURL string, sess *State) error {
	if p == nil {
		return ErrPrimerDisabled
	}

	tabCtx, cancelTab := chromedp.NewContext(p.browserCtx)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, p.timeout)
	defer cancelTask()

	stop := context.AfterFunc(ctx, cancelTask)
	defer stop()

	var cookies []*http.Cookie
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(entryURL),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(cdpCtx context.Context) error {
			raw, err := storage.GetCookies().Do(cdpCtx)
			if err != nil {
				return err
			}
			for _, c := range raw {
				cookies = append(cookies, &http.Cookie{
					Name:   c.Name,
					Value:  c.Value,
					Domain: c.Domain,
					Path:   c.Path,
				})
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("prime session via browser: %w", err)
	}

	sess.SetCookies(cookies)
	p.logger.Info("Primed session from headless browser",
		zap.String("url", entryURL),
		zap.Int("cookies", len(cookies)),
	)
	return nil
}
