// Package probe checks portal reachability over plain HTTP before the
// orchestrator pays for a Chrome session. A dead portal fails the whole
// provider group in milliseconds instead of after a browser timeout.
package probe

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gocolly/colly"
)

type PortalProbe struct {
	timeout   time.Duration
	userAgent string
	log       *slog.Logger
}

func NewPortalProbe(timeout time.Duration, userAgent string, log *slog.Logger) *PortalProbe {
	return &PortalProbe{timeout: timeout, userAgent: userAgent, log: log}
}

// Reachable fetches the portal entry point and reports any transport error.
// The body is discarded; only reachability matters here.
func (p *PortalProbe) Reachable(baseURL string) error {
	c := colly.NewCollector()
	c.SetRequestTimeout(p.timeout)
	c.UserAgent = p.userAgent

	var probeErr error
	c.OnError(func(r *colly.Response, err error) {
		probeErr = err
	})
	c.OnResponse(func(r *colly.Response) {
		if r.StatusCode >= 500 {
			probeErr = fmt.Errorf("portal returned status %d", r.StatusCode)
		}
	})

	if err := c.Visit(baseURL); err != nil {
		// Visit errors (bad URL, transport failures) may not reach the
		// OnError callback.
		if probeErr == nil {
			probeErr = err
		}
	}
	if probeErr != nil {
		p.log.Warn("portal probe failed.", slog.String("url", baseURL),
			slog.String("err", probeErr.Error()))
	}
	return probeErr
}
