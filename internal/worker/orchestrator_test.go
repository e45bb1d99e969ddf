package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/portwatch/container-scrape-worker/internal/browser"
	"github.com/portwatch/container-scrape-worker/internal/model"
	"github.com/portwatch/container-scrape-worker/internal/persistence"
	"github.com/portwatch/container-scrape-worker/internal/provider"
)

// --- Mock adapter ---

type mockScraper struct {
	prov    model.Provider
	results map[string]*model.ScrapeResult
	errs    map[string]error
	calls   []string
}

func (m *mockScraper) Provider() model.Provider { return m.prov }
func (m *mockScraper) BaseURL() string          { return "https://portal.test" }

func (m *mockScraper) Scrape(_ context.Context, containerNo string,
	_ browser.Session) (*model.ScrapeResult, error) {
	m.calls = append(m.calls, containerNo)
	if err, ok := m.errs[containerNo]; ok {
		return nil, err
	}
	if r, ok := m.results[containerNo]; ok {
		cp := *r
		cp.ScrapedAt = time.Now().UTC()
		return &cp, nil
	}
	return nil, provider.ErrNotFound
}

type mockRegistry struct {
	scrapers map[model.Provider]provider.Scraper
}

func (m *mockRegistry) ForProvider(p model.Provider) (provider.Scraper, error) {
	s, ok := m.scrapers[p]
	if !ok {
		return nil, &provider.ConfigError{Provider: p.String(), Msg: "no adapter registered"}
	}
	return s, nil
}

// --- Stub browsing session ---

type stubSession struct{}

func (stubSession) Navigate(context.Context, string) error { return nil }
func (stubSession) Locate(context.Context, []string, time.Duration) (string, error) {
	return "", browser.ErrWaitTimeout
}
func (stubSession) Fill(context.Context, string, string) error      { return nil }
func (stubSession) Click(context.Context, string) error             { return nil }
func (stubSession) PressEnter(context.Context, string) error        { return nil }
func (stubSession) WaitForAnyText(context.Context, []string, time.Duration) error {
	return nil
}
func (stubSession) BodyText(context.Context) (string, error) { return "", nil }
func (stubSession) Close()                                   {}

type stubOpener struct{ opened int }

func (o *stubOpener) OpenSession(context.Context) (browser.Session, error) {
	o.opened++
	return stubSession{}, nil
}

// --- Mock persistence ---

type statusKey struct {
	containerNo string
	provider    model.Provider
}

type mockStorage struct {
	last     map[statusKey]*persistence.LastStatus
	upserts  int
	appended []model.NormalizedStatus
}

func newMockStorage() *mockStorage {
	return &mockStorage{last: make(map[statusKey]*persistence.LastStatus)}
}

func (m *mockStorage) GetLastStatus(_ context.Context, containerNo string,
	p model.Provider) (*persistence.LastStatus, error) {
	return m.last[statusKey{containerNo, p}], nil
}

func (m *mockStorage) UpsertStatus(_ context.Context, r *model.ScrapeResult, fp string) error {
	m.upserts++
	m.last[statusKey{r.ContainerNo, r.Provider}] = &persistence.LastStatus{
		Fingerprint:      fp,
		NormalizedStatus: r.NormalizedStatus,
	}
	return nil
}

func (m *mockStorage) AppendHistoryEvent(_ context.Context, _ string, _ model.Provider,
	_ *model.NormalizedStatus, newStatus model.NormalizedStatus, _ time.Time) error {
	m.appended = append(m.appended, newStatus)
	return nil
}

// --- Helpers ---

func makeResult(containerNo string, prov model.Provider, ns model.NormalizedStatus) *model.ScrapeResult {
	return &model.ScrapeResult{
		Provider:         prov,
		ContainerNo:      containerNo,
		Terminal:         "CTB",
		StatusRaw:        ns.String(),
		NormalizedStatus: ns,
		DeliveredOut:     ns == model.DeliveredOut,
		RawText:          "irrelevant",
	}
}

func newTestOrchestrator(reg ScraperRegistry, db persistence.StatusStorage,
	events chan *model.StatusChangeEvent) *Orchestrator {
	return &Orchestrator{
		Registry:  reg,
		Opener:    &stubOpener{},
		Db:        db,
		EventChan: events,
		Jobs:      NewJobStore(time.Hour),
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func drainEvents(ch chan *model.StatusChangeEvent) []*model.StatusChangeEvent {
	var out []*model.StatusChangeEvent
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func findReport(t *testing.T, job *model.Job, containerNo string) model.ContainerReport {
	t.Helper()
	for _, r := range job.Reports {
		if r.ContainerNo == containerNo {
			return r
		}
	}
	t.Fatalf("no report for %s in %+v", containerNo, job.Reports)
	return model.ContainerReport{}
}

// --- Tests ---

func TestRunJobEmptyTargetsFails(t *testing.T) {
	o := newTestOrchestrator(&mockRegistry{}, newMockStorage(), nil)
	job := o.RunJob(context.Background(), NewJobID(), nil)
	if job.State != model.JobFailed {
		t.Errorf("state = %s, want FAILED", job.State)
	}
	if job.Error == "" {
		t.Error("failure reason should be set")
	}
}

func TestRunJobBlankContainerFails(t *testing.T) {
	o := newTestOrchestrator(&mockRegistry{}, newMockStorage(), nil)
	job := o.RunJob(context.Background(), NewJobID(), []model.Target{{ContainerNo: "", Provider: model.HHLA}})
	if job.State != model.JobFailed {
		t.Errorf("state = %s, want FAILED", job.State)
	}
}

func TestRunJobFirstObservationIsNew(t *testing.T) {
	scraper := &mockScraper{
		prov: model.HHLA,
		results: map[string]*model.ScrapeResult{
			"MSCU1234567": makeResult("MSCU1234567", model.HHLA, model.Preannounced),
		},
	}
	db := newMockStorage()
	events := make(chan *model.StatusChangeEvent, 10)
	o := newTestOrchestrator(&mockRegistry{scrapers: map[model.Provider]provider.Scraper{model.HHLA: scraper}}, db, events)

	job := o.RunJob(context.Background(), NewJobID(), []model.Target{{ContainerNo: "MSCU1234567", Provider: model.HHLA}})

	if job.State != model.JobSucceeded {
		t.Fatalf("state = %s, want SUCCEEDED", job.State)
	}
	report := findReport(t, job, "MSCU1234567")
	if report.Outcome != model.OutcomeNew {
		t.Errorf("outcome = %s, want new", report.Outcome)
	}
	if db.upserts != 1 {
		t.Errorf("upserts = %d, want 1", db.upserts)
	}
	got := drainEvents(events)
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].OldStatus != nil {
		t.Errorf("old status = %v, want nil for first observation", got[0].OldStatus)
	}
	if got[0].NewStatus != model.Preannounced {
		t.Errorf("new status = %s, want PREANNOUNCED", got[0].NewStatus)
	}
}

func TestRunJobUnchangedEmitsNothing(t *testing.T) {
	scraper := &mockScraper{
		prov: model.HHLA,
		results: map[string]*model.ScrapeResult{
			"MSCU1234567": makeResult("MSCU1234567", model.HHLA, model.Preannounced),
		},
	}
	db := newMockStorage()
	events := make(chan *model.StatusChangeEvent, 10)
	o := newTestOrchestrator(&mockRegistry{scrapers: map[model.Provider]provider.Scraper{model.HHLA: scraper}}, db, events)
	targets := []model.Target{{ContainerNo: "MSCU1234567", Provider: model.HHLA}}

	o.RunJob(context.Background(), NewJobID(), targets)
	second := o.RunJob(context.Background(), NewJobID(), targets)

	report := findReport(t, second, "MSCU1234567")
	if report.Outcome != model.OutcomeUnchanged {
		t.Errorf("outcome = %s, want unchanged", report.Outcome)
	}
	if db.upserts != 1 {
		t.Errorf("upserts = %d, want 1 (no re-upsert of an unchanged record)", db.upserts)
	}
	if got := drainEvents(events); len(got) != 1 {
		t.Errorf("events = %d, want 1 (second identical scrape must be silent)", len(got))
	}
}

func TestRunJobDetectsChange(t *testing.T) {
	scraper := &mockScraper{
		prov: model.HHLA,
		results: map[string]*model.ScrapeResult{
			"MSCU1234567": makeResult("MSCU1234567", model.HHLA, model.DeliveredOut),
		},
	}
	db := newMockStorage()
	db.last[statusKey{"MSCU1234567", model.HHLA}] = &persistence.LastStatus{
		Fingerprint:      "stale-fingerprint",
		NormalizedStatus: model.Discharged,
	}
	events := make(chan *model.StatusChangeEvent, 10)
	o := newTestOrchestrator(&mockRegistry{scrapers: map[model.Provider]provider.Scraper{model.HHLA: scraper}}, db, events)

	job := o.RunJob(context.Background(), NewJobID(), []model.Target{{ContainerNo: "MSCU1234567", Provider: model.HHLA}})

	report := findReport(t, job, "MSCU1234567")
	if report.Outcome != model.OutcomeChanged {
		t.Errorf("outcome = %s, want changed", report.Outcome)
	}
	got := drainEvents(events)
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].OldStatus == nil || *got[0].OldStatus != model.Discharged {
		t.Errorf("old status = %v, want DISCHARGED", got[0].OldStatus)
	}
	if got[0].NewStatus != model.DeliveredOut {
		t.Errorf("new status = %s, want DELIVERED_OUT", got[0].NewStatus)
	}
}

func TestRunJobNotFoundKeepsLastKnownStatus(t *testing.T) {
	scraper := &mockScraper{prov: model.HHLA} // every container resolves NotFound
	db := newMockStorage()
	prev := &persistence.LastStatus{Fingerprint: "fp", NormalizedStatus: model.Discharged}
	db.last[statusKey{"MSCU1234567", model.HHLA}] = prev
	events := make(chan *model.StatusChangeEvent, 10)
	o := newTestOrchestrator(&mockRegistry{scrapers: map[model.Provider]provider.Scraper{model.HHLA: scraper}}, db, events)

	job := o.RunJob(context.Background(), NewJobID(), []model.Target{{ContainerNo: "MSCU1234567", Provider: model.HHLA}})

	if job.State != model.JobSucceeded {
		t.Fatalf("state = %s, want SUCCEEDED", job.State)
	}
	report := findReport(t, job, "MSCU1234567")
	if report.Outcome != model.OutcomeNotFound {
		t.Errorf("outcome = %s, want not_found", report.Outcome)
	}
	if db.upserts != 0 {
		t.Error("a not-found result must not overwrite the last-known record")
	}
	if got := db.last[statusKey{"MSCU1234567", model.HHLA}]; got != prev {
		t.Error("last-known status was replaced")
	}
	if got := drainEvents(events); len(got) != 0 {
		t.Errorf("events = %d, want 0", len(got))
	}
}

func TestRunJobTransientFailureDoesNotFailJob(t *testing.T) {
	scraper := &mockScraper{
		prov: model.HHLA,
		errs: map[string]error{
			"MSCU1234567": &provider.TransientError{Stage: "navigate", Msg: "timeout"},
		},
		results: map[string]*model.ScrapeResult{
			"HLCU7654321": makeResult("HLCU7654321", model.HHLA, model.Ready),
		},
	}
	db := newMockStorage()
	o := newTestOrchestrator(&mockRegistry{scrapers: map[model.Provider]provider.Scraper{model.HHLA: scraper}}, db,
		make(chan *model.StatusChangeEvent, 10))

	job := o.RunJob(context.Background(), NewJobID(), []model.Target{
		{ContainerNo: "MSCU1234567", Provider: model.HHLA},
		{ContainerNo: "HLCU7654321", Provider: model.HHLA},
	})

	if job.State != model.JobSucceeded {
		t.Fatalf("state = %s, want SUCCEEDED despite a per-container failure", job.State)
	}
	if job.Failed != 1 || job.Succeeded != 1 || job.Attempted != 2 {
		t.Errorf("counts = attempted %d / succeeded %d / failed %d, want 2/1/1",
			job.Attempted, job.Succeeded, job.Failed)
	}
	failed := findReport(t, job, "MSCU1234567")
	if failed.Outcome != model.OutcomeFailed || failed.Error == "" {
		t.Errorf("failed report = %+v, want outcome failed with diagnostic", failed)
	}
	// No in-run retry: exactly one adapter call per container.
	if len(scraper.calls) != 2 {
		t.Errorf("adapter calls = %d, want 2", len(scraper.calls))
	}
}

func TestRunJobProviderConfigErrorIsIsolated(t *testing.T) {
	hhla := &mockScraper{
		prov: model.HHLA,
		results: map[string]*model.ScrapeResult{
			"MSCU1234567": makeResult("MSCU1234567", model.HHLA, model.Preannounced),
		},
	}
	// No eurogate adapter registered: its containers fail, HHLA proceeds.
	o := newTestOrchestrator(&mockRegistry{scrapers: map[model.Provider]provider.Scraper{model.HHLA: hhla}},
		newMockStorage(), make(chan *model.StatusChangeEvent, 10))

	job := o.RunJob(context.Background(), NewJobID(), []model.Target{
		{ContainerNo: "MSCU1234567", Provider: model.HHLA},
		{ContainerNo: "TCLU0000001", Provider: model.Eurogate},
	})

	if job.State != model.JobSucceeded {
		t.Fatalf("state = %s, want SUCCEEDED", job.State)
	}
	if r := findReport(t, job, "MSCU1234567"); r.Outcome != model.OutcomeNew {
		t.Errorf("hhla outcome = %s, want new", r.Outcome)
	}
	if r := findReport(t, job, "TCLU0000001"); r.Outcome != model.OutcomeFailed {
		t.Errorf("eurogate outcome = %s, want failed", r.Outcome)
	}
}

func TestRunJobOneSessionPerProvider(t *testing.T) {
	hhla := &mockScraper{
		prov: model.HHLA,
		results: map[string]*model.ScrapeResult{
			"MSCU1234567": makeResult("MSCU1234567", model.HHLA, model.Preannounced),
			"HLCU7654321": makeResult("HLCU7654321", model.HHLA, model.Preannounced),
		},
	}
	opener := &stubOpener{}
	o := newTestOrchestrator(&mockRegistry{scrapers: map[model.Provider]provider.Scraper{model.HHLA: hhla}},
		newMockStorage(), make(chan *model.StatusChangeEvent, 10))
	o.Opener = opener

	o.RunJob(context.Background(), NewJobID(), []model.Target{
		{ContainerNo: "MSCU1234567", Provider: model.HHLA},
		{ContainerNo: "HLCU7654321", Provider: model.HHLA},
	})

	if opener.opened != 1 {
		t.Errorf("sessions opened = %d, want 1 (session reuse within a provider group)", opener.opened)
	}
	if len(hhla.calls) != 2 {
		t.Errorf("adapter calls = %d, want 2", len(hhla.calls))
	}
}

func TestRunJobCancelledBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hhla := &mockScraper{
		prov: model.HHLA,
		results: map[string]*model.ScrapeResult{
			"MSCU1234567": makeResult("MSCU1234567", model.HHLA, model.Preannounced),
		},
	}
	o := newTestOrchestrator(&mockRegistry{scrapers: map[model.Provider]provider.Scraper{model.HHLA: hhla}},
		newMockStorage(), make(chan *model.StatusChangeEvent, 10))

	job := o.RunJob(ctx, NewJobID(), []model.Target{{ContainerNo: "MSCU1234567", Provider: model.HHLA}})

	// A half-finished job yields a partial manifest, not an error.
	if job.State != model.JobSucceeded {
		t.Errorf("state = %s, want SUCCEEDED", job.State)
	}
	if len(hhla.calls) != 0 {
		t.Errorf("adapter calls = %d, want 0 after cancellation", len(hhla.calls))
	}
}

func TestJobStoreSnapshots(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := &model.Job{ID: "j1", State: model.JobRunning}
	store.Put(job)

	// Later mutations must not leak into what a poller already fetched.
	snap, ok := store.Get("j1")
	if !ok {
		t.Fatal("job not found")
	}
	job.State = model.JobSucceeded
	job.Reports = append(job.Reports, model.ContainerReport{ContainerNo: "MSCU1234567"})
	if snap.State != model.JobRunning {
		t.Errorf("snapshot state = %s, want RUNNING", snap.State)
	}
	if len(snap.Reports) != 0 {
		t.Error("snapshot reports mutated after Put")
	}

	if _, ok := store.Get("unknown"); ok {
		t.Error("unknown job id should not resolve")
	}
}
