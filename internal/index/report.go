package index

import "time"

// Source outcomes within one build.
const (
	StatusAdded   = "added"
	StatusUpdated = "updated"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

type SourceResult struct {
	SourceID string `json:"source_id"`
	Status   string `json:"status"`
	Chunks   int    `json:"chunks"`
	Error    string `json:"error,omitempty"`
}

// BuildReport summarizes one build run. A build with Failed > 0 is degraded,
// not aborted: every other source was still committed and is queryable.
type BuildReport struct {
	Added     int            `json:"added"`
	Updated   int            `json:"updated"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Removed   int            `json:"removed"`
	Forced    bool           `json:"forced"`
	Sources   []SourceResult `json:"sources"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration_ns"`
}

func (r *BuildReport) record(res SourceResult) {
	r.Sources = append(r.Sources, res)
	switch res.Status {
	case StatusAdded:
		r.Added++
	case StatusUpdated:
		r.Updated++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
}
