package provider

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/portwatch/container-scrape-worker/config"
	"github.com/portwatch/container-scrape-worker/internal/browser"
)

// portalVocabulary is the per-operator material the shared flow runs on:
// where to go, what to click, and which words mean what. Adapters ship
// compiled-in defaults; config.yaml overrides any of it because the portals
// change wording without notice.
type portalVocabulary struct {
	BaseURL            string
	SearchSelectors    []string
	SubmitSelectors    []string
	ExpandSelectors    []string
	SuccessKeywords    []string
	NotFoundPhrases    []string
	SettleDelay        time.Duration
	ResultTimeout      time.Duration
	LocatePerCandidate time.Duration
}

func (v portalVocabulary) override(cfg *config.ProviderConfig) portalVocabulary {
	if cfg == nil {
		return v
	}
	if cfg.BaseURL != "" {
		v.BaseURL = cfg.BaseURL
	}
	if len(cfg.SearchSelectors) > 0 {
		v.SearchSelectors = cfg.SearchSelectors
	}
	if len(cfg.SubmitSelectors) > 0 {
		v.SubmitSelectors = cfg.SubmitSelectors
	}
	if len(cfg.ExpandSelectors) > 0 {
		v.ExpandSelectors = cfg.ExpandSelectors
	}
	if len(cfg.SuccessKeywords) > 0 {
		v.SuccessKeywords = cfg.SuccessKeywords
	}
	if len(cfg.NotFoundPhrases) > 0 {
		v.NotFoundPhrases = cfg.NotFoundPhrases
	}
	if cfg.SettleDelay > 0 {
		v.SettleDelay = cfg.SettleDelay
	}
	if cfg.ResultTimeout > 0 {
		v.ResultTimeout = cfg.ResultTimeout
	}
	return v
}

// portalFlow drives the five-stage interaction every operator portal needs:
// navigate, find the search input, submit the container number, wait for the
// result to render, expand it if collapsed. The captured body text is then
// classified and handed to field extraction.
type portalFlow struct {
	name  string
	vocab portalVocabulary
	log   *slog.Logger
}

func (f *portalFlow) capture(ctx context.Context, containerNo string, s browser.Session) (string, error) {
	if err := s.Navigate(ctx, f.vocab.BaseURL); err != nil {
		return "", transient("navigate", "portal entry point unreachable", err)
	}

	searchSel, err := s.Locate(ctx, f.vocab.SearchSelectors, f.vocab.LocatePerCandidate)
	if err != nil {
		// Hard stop. Without a search input there is nothing to drive.
		return "", transient("locate", "could not find search input", err)
	}
	if err := s.Fill(ctx, searchSel, containerNo); err != nil {
		return "", transient("fill", "could not enter container number", err)
	}

	// Submit via a dedicated control when one renders, otherwise synthesize
	// a keyboard submit on the input itself.
	if submitSel, err := s.Locate(ctx, f.vocab.SubmitSelectors, f.vocab.LocatePerCandidate); err == nil {
		if err := s.Click(ctx, submitSel); err != nil {
			return "", transient("submit", "search submit failed", err)
		}
	} else if err := s.PressEnter(ctx, searchSel); err != nil {
		return "", transient("submit", "keyboard submit failed", err)
	}
	// Client-rendered SPA with no reliable network-idle signal after
	// submission; a fixed settle delay is the only workable option.
	if err := sleepCtx(ctx, f.vocab.SettleDelay); err != nil {
		return "", transient("settle", "cancelled during settle delay", err)
	}

	indicators := append([]string{containerNo}, f.vocab.SuccessKeywords...)
	if err := s.WaitForAnyText(ctx, indicators, f.vocab.ResultTimeout); err != nil {
		if !errors.Is(err, browser.ErrWaitTimeout) {
			return "", transient("wait", "result wait failed", err)
		}
		// Some layouts render results without any of the watched
		// keywords. Absence of an indicator alone is not a failure.
		f.log.Warn("no result indicator appeared, capturing anyway.",
			slog.String("provider", f.name), slog.String("container", containerNo))
	}

	// A collapsed accordion hides the detail fields. A missing or already
	// expanded control is not an error.
	if expandSel, err := s.Locate(ctx, f.vocab.ExpandSelectors, f.vocab.LocatePerCandidate); err == nil {
		if err := s.Click(ctx, expandSel); err != nil {
			f.log.Debug("expand click failed, continuing.",
				slog.String("provider", f.name), slog.String("err", err.Error()))
		} else if err := sleepCtx(ctx, f.vocab.SettleDelay); err != nil {
			return "", transient("expand", "cancelled during expand delay", err)
		}
	}

	text, err := s.BodyText(ctx)
	if err != nil {
		return "", transient("capture", "could not read page text", err)
	}
	return text, nil
}

// classify decides NotFound from control text: an operator-localized
// not-found phrase, or a page that does not mention the searched container
// at all.
func (f *portalFlow) classify(text, containerNo string) error {
	if containsAnyFold(text, f.vocab.NotFoundPhrases) {
		return ErrNotFound
	}
	if !strings.Contains(text, containerNo) {
		return ErrNotFound
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
