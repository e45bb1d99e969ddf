package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/portwatch/container-scrape-worker/config"
	"github.com/portwatch/container-scrape-worker/internal/browser"
	"github.com/portwatch/container-scrape-worker/internal/model"
)

// ErrNotFound means the portal explicitly reported no match for the container.
// It is judged by control text, not by absent fields, and callers should not
// retry it within the same run.
var ErrNotFound = errors.New("container not found on portal")

// TransientError covers navigation, timeout, and unexpected-structure
// failures. The next scheduled run may retry; this run records it and moves on.
type TransientError struct {
	Stage string
	Msg   string
	Err   error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Stage, e.Msg, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Msg)
}

func (e *TransientError) Unwrap() error { return e.Err }

func transient(stage, msg string, err error) *TransientError {
	return &TransientError{Stage: stage, Msg: msg, Err: err}
}

// ConfigError is fatal for the affected provider but must not abort other
// providers in the same job run.
type ConfigError struct {
	Provider string
	Msg      string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Msg)
}

// Scraper is the contract every terminal adapter implements. The session is
// already open and owned by the caller; adapters only drive it.
type Scraper interface {
	Provider() model.Provider
	// BaseURL is the resolved portal entry point, after config overrides.
	BaseURL() string
	Scrape(ctx context.Context, containerNo string, s browser.Session) (*model.ScrapeResult, error)
}

type Registry struct {
	scrapers map[model.Provider]Scraper
}

func NewRegistry(cfgs map[string]*config.ProviderConfig, log *slog.Logger) *Registry {
	return &Registry{scrapers: map[model.Provider]Scraper{
		model.HHLA:     NewHHLAScraper(cfgs[model.HHLA.String()], log),
		model.Eurogate: NewEurogateScraper(cfgs[model.Eurogate.String()], log),
	}}
}

func (r *Registry) ForProvider(p model.Provider) (Scraper, error) {
	s, ok := r.scrapers[p]
	if !ok {
		return nil, &ConfigError{Provider: p.String(), Msg: "no adapter registered"}
	}
	if s.BaseURL() == "" {
		return nil, &ConfigError{Provider: p.String(), Msg: "portal base url not configured"}
	}
	return s, nil
}
