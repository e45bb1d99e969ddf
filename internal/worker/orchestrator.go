package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/portwatch/container-scrape-worker/config"
	"github.com/portwatch/container-scrape-worker/internal/aws_s3"
	"github.com/portwatch/container-scrape-worker/internal/browser"
	"github.com/portwatch/container-scrape-worker/internal/cache"
	"github.com/portwatch/container-scrape-worker/internal/fingerprint"
	"github.com/portwatch/container-scrape-worker/internal/model"
	"github.com/portwatch/container-scrape-worker/internal/persistence"
	"github.com/portwatch/container-scrape-worker/internal/provider"
)

// ScraperRegistry resolves the adapter for a provider.
type ScraperRegistry interface {
	ForProvider(model.Provider) (provider.Scraper, error)
}

// Reachability is the cheap pre-flight portal check.
type Reachability interface {
	Reachable(baseURL string) error
}

// Orchestrator runs scrape jobs: one session per terminal operator,
// containers sequential within it, operators concurrent against independent
// sessions. It owns no last-known state beyond a single run; the persistence
// collaborator does.
type Orchestrator struct {
	Registry  ScraperRegistry
	Opener    browser.Opener
	Probe     Reachability
	Db        persistence.StatusStorage
	S3        aws_s3.BucketClient
	Cache     cache.CachedClient
	EventChan chan<- *model.StatusChangeEvent
	Jobs      *JobStore
	Cfg       *config.Config
	Log       *slog.Logger
}

// NewJobID mints the identifier callers use to poll the manifest.
func NewJobID() string {
	return uuid.New().String()
}

// RunJob attempts every target and returns the manifest. Individual container
// failures never fail the job; only a malformed trigger does.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string, targets []model.Target) *model.Job {
	job := &model.Job{
		ID:        jobID,
		State:     model.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	o.Jobs.Put(job)

	if len(targets) == 0 {
		o.finishFailed(job, "empty target list")
		return job
	}
	for _, t := range targets {
		if t.ContainerNo == "" {
			o.finishFailed(job, "target with empty container number")
			return job
		}
	}

	now := time.Now().UTC()
	job.State = model.JobRunning
	job.StartedAt = &now
	o.Jobs.Put(job)
	o.Log.Info("job started.", slog.String("job_id", job.ID), slog.Int("targets", len(targets)))

	// Group by operator, keeping the requested order within each group.
	groups := make(map[model.Provider][]string)
	var order []model.Provider
	for _, t := range targets {
		if _, seen := groups[t.Provider]; !seen {
			order = append(order, t.Provider)
		}
		groups[t.Provider] = append(groups[t.Provider], t.ContainerNo)
	}

	mu := &sync.Mutex{}
	wg := &sync.WaitGroup{}
	for _, prov := range order {
		wg.Add(1)
		go func(prov model.Provider, containers []string) {
			defer wg.Done()
			o.runProviderGroup(ctx, job, mu, prov, containers)
		}(prov, groups[prov])
	}
	wg.Wait()

	// Per-container failures are recorded in the manifest, not escalated.
	finished := time.Now().UTC()
	job.State = model.JobSucceeded
	job.FinishedAt = &finished
	o.Jobs.Put(job)
	o.Log.Info("job finished.", slog.String("job_id", job.ID),
		slog.Int("attempted", job.Attempted), slog.Int("succeeded", job.Succeeded),
		slog.Int("not_found", job.NotFound), slog.Int("failed", job.Failed))
	return job
}

// runProviderGroup drives all containers of one operator through a single
// session, sequentially. A session may not be shared across concurrent
// in-flight operations.
func (o *Orchestrator) runProviderGroup(ctx context.Context, job *model.Job, mu *sync.Mutex,
	prov model.Provider, containers []string) {
	scraper, err := o.Registry.ForProvider(prov)
	if err != nil {
		// Configuration problems are fatal for this provider only.
		o.reportAll(job, mu, prov, containers, err)
		return
	}
	if o.Probe != nil {
		if err := o.Probe.Reachable(scraper.BaseURL()); err != nil {
			o.reportAll(job, mu, prov, containers,
				&provider.TransientError{Stage: "probe", Msg: "portal unreachable", Err: err})
			return
		}
	}

	session, err := o.Opener.OpenSession(ctx)
	if err != nil {
		o.reportAll(job, mu, prov, containers,
			&provider.TransientError{Stage: "session", Msg: "could not open browsing session", Err: err})
		return
	}
	defer session.Close()

	for _, containerNo := range containers {
		// Cancellation is checked at each loop boundary; the adapter
		// call itself is already time-bounded.
		if ctx.Err() != nil {
			o.Log.Warn("job aborted between containers.",
				slog.String("job_id", job.ID), slog.String("provider", prov.String()))
			return
		}
		report := o.scrapeOne(ctx, scraper, prov, containerNo, session)
		mu.Lock()
		job.Reports = append(job.Reports, report)
		job.Attempted++
		switch report.Outcome {
		case model.OutcomeNotFound:
			job.NotFound++
		case model.OutcomeFailed:
			job.Failed++
		default:
			job.Succeeded++
		}
		o.Jobs.Put(job)
		mu.Unlock()
	}
}

func (o *Orchestrator) scrapeOne(ctx context.Context, scraper provider.Scraper,
	prov model.Provider, containerNo string, session browser.Session) model.ContainerReport {
	report := model.ContainerReport{ContainerNo: containerNo, Provider: prov}

	result, err := scraper.Scrape(ctx, containerNo, session)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			// Recorded but never overwrites last-known status: a
			// transient portal quirk must not erase history.
			report.Outcome = model.OutcomeNotFound
			return report
		}
		report.Outcome = model.OutcomeFailed
		report.Error = err.Error()
		o.Log.Error("scrape failed.", slog.String("container", containerNo),
			slog.String("provider", prov.String()), slog.String("err", err.Error()))
		return report
	}

	fp := fingerprint.Compute(result)
	last, err := o.Db.GetLastStatus(ctx, containerNo, prov)
	if err != nil {
		report.Outcome = model.OutcomeFailed
		report.Error = "could not read last status: " + err.Error()
		return report
	}

	ns := result.NormalizedStatus
	report.Status = &ns
	switch {
	case last == nil:
		report.Outcome = model.OutcomeNew
		o.recordChange(ctx, result, fp, nil)
	case last.Fingerprint != fp:
		report.Outcome = model.OutcomeChanged
		old := last.NormalizedStatus
		o.recordChange(ctx, result, fp, &old)
	default:
		// Cosmetic page drift hashes identically; nothing to persist,
		// nothing to notify.
		report.Outcome = model.OutcomeUnchanged
	}
	o.archive(result)
	return report
}

// recordChange persists the new record and emits the change event. Called
// only when the fingerprint differs from the last persisted one.
func (o *Orchestrator) recordChange(ctx context.Context, result *model.ScrapeResult,
	fp string, oldStatus *model.NormalizedStatus) {
	if err := o.Db.UpsertStatus(ctx, result, fp); err != nil {
		o.Log.Error("failed to upsert status.", slog.String("container", result.ContainerNo),
			slog.String("err", err.Error()))
		return
	}
	if err := o.Db.AppendHistoryEvent(ctx, result.ContainerNo, result.Provider,
		oldStatus, result.NormalizedStatus, result.ScrapedAt); err != nil {
		o.Log.Error("failed to append history event.", slog.String("container", result.ContainerNo),
			slog.String("err", err.Error()))
	}
	if o.EventChan != nil {
		o.EventChan <- &model.StatusChangeEvent{
			ContainerNo: result.ContainerNo,
			Provider:    result.Provider,
			OldStatus:   oldStatus,
			NewStatus:   result.NormalizedStatus,
			OccurredAt:  result.ScrapedAt,
			Result:      result,
		}
	}
}

func (o *Orchestrator) archive(result *model.ScrapeResult) {
	if o.S3 == nil {
		return
	}
	link := o.S3.WriteRawCapture(result)
	if o.Cache != nil {
		o.Cache.SaveS3Link(result.Provider, result.ContainerNo, link)
	}
}

func (o *Orchestrator) reportAll(job *model.Job, mu *sync.Mutex, prov model.Provider,
	containers []string, err error) {
	mu.Lock()
	defer mu.Unlock()
	for _, containerNo := range containers {
		job.Reports = append(job.Reports, model.ContainerReport{
			ContainerNo: containerNo,
			Provider:    prov,
			Outcome:     model.OutcomeFailed,
			Error:       err.Error(),
		})
		job.Attempted++
		job.Failed++
	}
	o.Jobs.Put(job)
}

func (o *Orchestrator) finishFailed(job *model.Job, msg string) {
	now := time.Now().UTC()
	job.State = model.JobFailed
	job.Error = msg
	job.FinishedAt = &now
	o.Jobs.Put(job)
	o.Log.Error("job rejected.", slog.String("job_id", job.ID), slog.String("reason", msg))
}
