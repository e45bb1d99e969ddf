package model

import (
	"fmt"
	"time"
)

type JobState int

const (
	JobPending JobState = iota
	JobRunning
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	return [...]string{"PENDING", "RUNNING", "SUCCEEDED", "FAILED"}[s]
}

func (s JobState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *JobState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "PENDING":
		*s = JobPending
	case "RUNNING":
		*s = JobRunning
	case "SUCCEEDED":
		*s = JobSucceeded
	case "FAILED":
		*s = JobFailed
	default:
		return fmt.Errorf("unknown job state %q", b)
	}
	return nil
}

type ContainerOutcome string

const (
	OutcomeNew       ContainerOutcome = "new"
	OutcomeChanged   ContainerOutcome = "changed"
	OutcomeUnchanged ContainerOutcome = "unchanged"
	OutcomeNotFound  ContainerOutcome = "not_found"
	OutcomeFailed    ContainerOutcome = "failed"
)

// Target is one container to look up on one operator's portal.
type Target struct {
	ContainerNo string   `json:"container_no"`
	Provider    Provider `json:"provider"`
}

// ContainerReport records how a single target resolved within a job run.
type ContainerReport struct {
	ContainerNo string            `json:"container_no"`
	Provider    Provider          `json:"provider"`
	Outcome     ContainerOutcome  `json:"outcome"`
	Status      *NormalizedStatus `json:"status,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Job is the manifest for one scrape run. Individual container failures do
// not fail the job; only a malformed trigger does.
type Job struct {
	ID         string            `json:"job_id"`
	State      JobState          `json:"state"`
	Error      string            `json:"error,omitempty"`
	Attempted  int               `json:"attempted"`
	Succeeded  int               `json:"succeeded"`
	NotFound   int               `json:"not_found"`
	Failed     int               `json:"failed"`
	Reports    []ContainerReport `json:"results"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}
