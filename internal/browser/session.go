package browser

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/portwatch/container-scrape-worker/config"
)

// ErrWaitTimeout is returned by bounded waits that expire without the watched
// condition becoming true. Callers decide whether that is fatal.
var ErrWaitTimeout = errors.New("wait timed out")

// Session is one live connection to a headless browser. A session must not be
// shared across concurrent operations; the orchestrator drives containers of
// the same operator sequentially through it.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// Locate waits for the first of the candidate selectors to become
	// visible, trying them in priority order with a bounded wait each.
	// Returns the selector that resolved.
	Locate(ctx context.Context, candidates []string, perCandidate time.Duration) (string, error)
	Fill(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	PressEnter(ctx context.Context, selector string) error
	// WaitForAnyText polls the rendered page until any of the keywords
	// appears in the body text or the timeout expires.
	WaitForAnyText(ctx context.Context, keywords []string, timeout time.Duration) error
	BodyText(ctx context.Context) (string, error)
	Close()
}

// Opener hands out sessions. One implementation per browsing backend; tests
// substitute a scripted fake.
type Opener interface {
	OpenSession(ctx context.Context) (Session, error)
}

type ChromeOpener struct {
	cfg *config.BrowserConfig
	log *slog.Logger
}

func NewChromeOpener(cfg *config.BrowserConfig, log *slog.Logger) *ChromeOpener {
	return &ChromeOpener{cfg: cfg, log: log}
}

func (o *ChromeOpener) OpenSession(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.cfg.Headless),
		chromedp.UserAgent(o.cfg.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &ChromeSession{
		ctx:    browserCtx,
		cancel: func() { cancelBrowser(); cancelAlloc() },
		cfg:    o.cfg,
		log:    o.log,
	}
	// Start the browser process up front so a broken Chrome install fails
	// the session open, not the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

type ChromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.BrowserConfig
	log    *slog.Logger
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	tCtx, cancel := s.bounded(ctx, s.cfg.NavigateTimeout)
	defer cancel()
	return chromedp.Run(tCtx,
		chromedp.Tasks{
			network.Enable(),
			network.SetExtraHTTPHeaders(map[string]interface{}{
				"User-Agent": s.cfg.UserAgent,
			}),
			enableLifeCycleEvents(),
			navigateAndWaitFor(url, "networkIdle"),
		},
	)
}

func (s *ChromeSession) Locate(ctx context.Context, candidates []string,
	perCandidate time.Duration) (string, error) {
	for _, sel := range candidates {
		tCtx, cancel := s.bounded(ctx, perCandidate)
		err := chromedp.Run(tCtx, chromedp.WaitVisible(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			return sel, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.log.Debug("locator candidate did not resolve.", slog.String("selector", sel))
	}
	return "", ErrWaitTimeout
}

func (s *ChromeSession) Fill(ctx context.Context, selector, text string) error {
	tCtx, cancel := s.bounded(ctx, s.cfg.LocateTimeout)
	defer cancel()
	return chromedp.Run(tCtx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (s *ChromeSession) Click(ctx context.Context, selector string) error {
	tCtx, cancel := s.bounded(ctx, s.cfg.LocateTimeout)
	defer cancel()
	return chromedp.Run(tCtx, chromedp.Click(selector, chromedp.ByQuery))
}

func (s *ChromeSession) PressEnter(ctx context.Context, selector string) error {
	tCtx, cancel := s.bounded(ctx, s.cfg.LocateTimeout)
	defer cancel()
	return chromedp.Run(tCtx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.KeyEvent(kb.Enter),
	)
}

func (s *ChromeSession) WaitForAnyText(ctx context.Context, keywords []string,
	timeout time.Duration) error {
	tCtx, cancel := s.bounded(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		text, err := s.BodyText(tCtx)
		if err == nil {
			for _, kw := range keywords {
				if strings.Contains(text, kw) {
					return nil
				}
			}
		}
		select {
		case <-tCtx.Done():
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

func (s *ChromeSession) BodyText(ctx context.Context) (string, error) {
	tCtx, cancel := s.bounded(ctx, s.cfg.NavigateTimeout)
	defer cancel()
	var text string
	err := chromedp.Run(tCtx, chromedp.Text("body", &text, chromedp.ByQuery))
	return text, err
}

func (s *ChromeSession) Close() {
	s.cancel()
}

// bounded derives a deadline context tied to both the session and the caller.
// Every browser-driven wait goes through here; an unbounded wait is a defect.
func (s *ChromeSession) bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	merged, cancelMerge := mergeDone(s.ctx, ctx)
	tCtx, cancelTimeout := context.WithTimeout(merged, d)
	return tCtx, func() { cancelTimeout(); cancelMerge() }
}

// mergeDone returns a context based on primary that is additionally cancelled
// when secondary is done. chromedp actions must run against the browser
// context, but callers still need their own cancellation respected.
func mergeDone(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		if err != nil {
			return err
		}
		return nil
	}
}

func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		return waitFor(ctx, eventName)
	}
}

func waitFor(ctx context.Context, eventName string) error {
	ch := make(chan struct{})
	cctx, cancel := context.WithCancel(ctx)
	chromedp.ListenTarget(cctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			if e.Name == eventName {
				cancel()
				close(ch)
			}
		}
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
