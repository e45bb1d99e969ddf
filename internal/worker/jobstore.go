package worker

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/portwatch/container-scrape-worker/internal/model"
)

// JobStore keeps job manifests for polling callers within a bounded retention
// window; expired jobs simply disappear.
type JobStore struct {
	jobs *gocache.Cache
}

func NewJobStore(retention time.Duration) *JobStore {
	return &JobStore{jobs: gocache.New(retention, retention)}
}

// Put stores a snapshot of the manifest. The orchestrator keeps mutating its
// own copy while the job runs; polling callers only ever see a consistent
// point-in-time view.
func (s *JobStore) Put(job *model.Job) {
	snapshot := *job
	snapshot.Reports = append([]model.ContainerReport(nil), job.Reports...)
	s.jobs.Set(job.ID, &snapshot, gocache.DefaultExpiration)
}

func (s *JobStore) Get(id string) (*model.Job, bool) {
	v, ok := s.jobs.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*model.Job), true
}
