package reindex

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"regsearch/internal/index"
	"regsearch/internal/registry"
)

// ErrBuildInProgress rejects a build request while another build holds the
// gate. The caller retries later; builds are never queued.
var ErrBuildInProgress = errors.New("a build is already in progress")

type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateChunking   State = "chunking"
	StateEmbedding  State = "embedding"
	StateCommitting State = "committing"
	StateFailed     State = "failed"
)

// ReportTopic carries one BuildReport message per completed build.
const ReportTopic = "index.report"

type Builder interface {
	Build(ctx context.Context, snap *registry.Snapshot, force bool) (*index.BuildReport, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Status is a point-in-time view of the controller for the stats endpoint.
type Status struct {
	State      State              `json:"state"`
	LastReport *index.BuildReport `json:"last_report,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
}

// Controller serializes index builds and owns the registry snapshot that
// retrieval reads. The snapshot only moves forward on a successful build, so
// a failed or cancelled build leaves queries answering from the previous
// committed state.
type Controller struct {
	registryPath string
	builder      Builder
	pub          EventPublisher

	gate sync.Mutex // held for the duration of one build

	mu         sync.Mutex // guards the fields below
	state      State
	lastReport *index.BuildReport
	lastError  string

	snapshot atomic.Pointer[registry.Snapshot]
}

func NewController(registryPath string, builder Builder, pub EventPublisher) *Controller {
	return &Controller{
		registryPath: registryPath,
		builder:      builder,
		pub:          pub,
		state:        StateIdle,
	}
}

// Current returns the snapshot committed by the last successful build, or
// nil before the first one. Safe for concurrent use with a running build.
func (c *Controller) Current() *registry.Snapshot {
	return c.snapshot.Load()
}

// Prime installs a snapshot without building, so a restarted process can
// answer queries from the existing index before its first build.
func (c *Controller) Prime(snap *registry.Snapshot) {
	c.snapshot.Store(snap)
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, LastReport: c.lastReport, LastError: c.lastError}
}

// OnPhase is wired as the builder's phase hook so the controller's state
// tracks the running build.
func (c *Controller) OnPhase(p index.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch p {
	case index.PhaseChunking:
		c.state = StateChunking
	case index.PhaseEmbedding:
		c.state = StateEmbedding
	case index.PhaseCommitting:
		c.state = StateCommitting
	}
}

// Run executes one full build: reload the registry file, rebuild the index
// against it, then swap the snapshot and announce the report. Concurrent
// calls beyond the first fail fast with ErrBuildInProgress.
func (c *Controller) Run(ctx context.Context, force bool) (*index.BuildReport, error) {
	if !c.gate.TryLock() {
		return nil, ErrBuildInProgress
	}
	defer c.gate.Unlock()

	c.setState(StateLoading)
	start := time.Now()

	snap, err := registry.Load(c.registryPath)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	report, err := c.builder.Build(ctx, snap, force)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	c.snapshot.Store(snap)

	c.mu.Lock()
	c.state = StateIdle
	c.lastReport = report
	c.lastError = ""
	c.mu.Unlock()

	slog.Info("index build finished",
		"added", report.Added,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"removed", report.Removed,
		"forced", force,
		"duration", time.Since(start))

	c.publish(report)
	return report, nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.state = StateFailed
	c.lastError = err.Error()
	c.mu.Unlock()
}

func (c *Controller) publish(report *index.BuildReport) {
	if c.pub == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		slog.Error("failed to marshal build report", "error", err)
		return
	}
	if err := c.pub.Publish(ReportTopic, payload); err != nil {
		slog.Error("failed to publish index.report event", "error", err)
	} else {
		slog.Info("published index.report event", "added", report.Added, "updated", report.Updated)
	}
}
