// Package orchestrator drives the indexing pipeline through its phases and
// enforces single-flight: at most one run per orchestrator, with a new root
// selection cancelling and superseding the active run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"asset-atlas/internal/database"
	"asset-atlas/internal/deps"
	"asset-atlas/internal/logging"
	"asset-atlas/internal/memory"
	"asset-atlas/internal/metrics"
	"asset-atlas/internal/scanner"
	"asset-atlas/internal/thumbs"
)

// Phase is a stage of the indexing pipeline.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseCounting     Phase = "counting"
	PhaseWalking      Phase = "walking"
	PhaseIndexing     Phase = "indexing"
	PhaseDependencies Phase = "dependencies"
	PhaseThumbnails   Phase = "thumbnails"
	PhaseComplete     Phase = "complete"
	PhaseCancelled    Phase = "cancelled"
)

// ordinal maps phases onto the scan phase gauge.
func (p Phase) ordinal() float64 {
	switch p {
	case PhaseCounting:
		return 1
	case PhaseWalking:
		return 2
	case PhaseIndexing:
		return 3
	case PhaseDependencies:
		return 4
	case PhaseThumbnails:
		return 5
	case PhaseComplete:
		return 6
	case PhaseCancelled:
		return 7
	default:
		return 0
	}
}

// Event is a progress snapshot delivered to subscribers.
type Event struct {
	Phase       Phase  `json:"phase"`
	ProjectID   string `json:"projectId,omitempty"`
	Scanned     int64  `json:"scanned,omitempty"`
	Skipped     int64  `json:"skipped,omitempty"`
	Changed     int64  `json:"changed,omitempty"`
	Total       int64  `json:"total,omitempty"`
	CurrentPath string `json:"currentPath,omitempty"`
	Resolved    int64  `json:"resolved,omitempty"`
	Generated   int64  `json:"generated,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Subscriber receives progress events. Callbacks run on the pipeline
// goroutine and must not block.
type Subscriber func(Event)

// ErrNoActiveRun is returned when a cancel request finds nothing running.
var ErrNoActiveRun = errors.New("no scan in progress")

// Orchestrator owns the scan pipeline for one index.
type Orchestrator struct {
	db       *database.Database
	scanner  *scanner.Scanner
	resolver *deps.Resolver
	thumbs   *thumbs.Generator
	monitor  *memory.Monitor

	mu         sync.Mutex
	phase      Phase
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	subs       []Subscriber
	last       Event
}

// New creates an Orchestrator. The memory monitor may be nil.
func New(db *database.Database, sc *scanner.Scanner, resolver *deps.Resolver, gen *thumbs.Generator, monitor *memory.Monitor) *Orchestrator {
	return &Orchestrator{
		db:       db,
		scanner:  sc,
		resolver: resolver,
		thumbs:   gen,
		monitor:  monitor,
		phase:    PhaseIdle,
		last:     Event{Phase: PhaseIdle},
	}
}

// Subscribe registers a progress subscriber.
func (o *Orchestrator) Subscribe(fn Subscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = append(o.subs, fn)
}

// Snapshot returns the most recent progress event.
func (o *Orchestrator) Snapshot() Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Phase returns the current pipeline phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// SelectRoot registers (or looks up) a project for the given root directory
// and starts a fresh pipeline run for it. A run already in flight is
// cancelled and awaited first; its progress is discarded.
func (o *Orchestrator) SelectRoot(ctx context.Context, rootPath string) (*database.Project, error) {
	project, err := o.db.GetOrCreateProject(ctx, rootPath, filepath.Base(rootPath))
	if err != nil {
		return nil, err
	}

	if err := o.start(project); err != nil {
		return nil, err
	}
	return project, nil
}

// StartScan starts a pipeline run for an existing project, superseding any
// run in flight.
func (o *Orchestrator) StartScan(ctx context.Context, projectID string) (*database.Project, error) {
	project, err := o.db.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if err := o.start(project); err != nil {
		return nil, err
	}
	return project, nil
}

// CancelScan cancels the active run and waits for it to stop.
func (o *Orchestrator) CancelScan() error {
	o.mu.Lock()
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	if cancel == nil {
		return ErrNoActiveRun
	}

	cancel()
	<-done
	return nil
}

// start supersedes any active run and launches the pipeline for project.
func (o *Orchestrator) start(project *database.Project) error {
	o.mu.Lock()
	// A concurrent start may install a new run while the mutex is released,
	// so re-check until no run is active.
	for o.cancel != nil {
		cancel := o.cancel
		done := o.done
		o.mu.Unlock()

		logging.Info("Superseding active scan run")
		cancel()
		<-done

		o.mu.Lock()
	}

	o.generation++
	gen := o.generation
	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	done := o.done
	o.mu.Unlock()

	go func() {
		defer close(done)
		defer o.finishRun(gen)
		o.run(runCtx, gen, project)
	}()
	return nil
}

// finishRun clears the run handles if this generation is still current.
func (o *Orchestrator) finishRun(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation == gen {
		o.cancel = nil
		o.done = nil
	}
}

// emit publishes an event if gen is still the active generation. Events
// from a superseded run are dropped.
func (o *Orchestrator) emit(gen uint64, ev Event) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.phase = ev.Phase
	o.last = ev
	subs := o.subs
	o.mu.Unlock()

	metrics.ScanPhase.Set(ev.Phase.ordinal())
	for _, fn := range subs {
		fn(ev)
	}
}

// run executes the full pipeline: count, walk+index, dependencies,
// thumbnails.
func (o *Orchestrator) run(ctx context.Context, gen uint64, project *database.Project) {
	start := time.Now()
	metrics.ScanRunning.Set(1)
	defer metrics.ScanRunning.Set(0)
	metrics.ScanRunsTotal.Inc()

	logging.Info("Pipeline run starting for project %s (%s)", project.Name, project.RootPath)

	total, stats, err := o.scanPhases(ctx, gen, project)
	if err != nil {
		o.fail(ctx, gen, project, err)
		return
	}

	resolved, err := o.dependencyPhase(ctx, gen, project, total, stats)
	if err != nil {
		o.fail(ctx, gen, project, err)
		return
	}

	generated, err := o.thumbnailPhase(ctx, gen, project, total)
	if err != nil {
		o.fail(ctx, gen, project, err)
		return
	}

	duration := time.Since(start)
	o.db.UpdateStats(database.IndexStats{
		TotalAssets:   int(stats.Scanned + stats.Skipped),
		TotalEdges:    int(resolved),
		LastIndexed:   time.Now(),
		IndexDuration: duration.Round(time.Millisecond).String(),
	})
	if _, err := o.db.GetTypeCounts(ctx, project.ID); err != nil {
		logging.Warn("Failed to refresh type counts: %v", err)
	}

	metrics.ScanLastRunTimestamp.SetToCurrentTime()
	metrics.ScanLastRunDuration.Set(duration.Seconds())

	o.emit(gen, Event{
		Phase:     PhaseComplete,
		ProjectID: project.ID,
		Scanned:   stats.Scanned,
		Skipped:   stats.Skipped,
		Changed:   stats.Changed,
		Total:     total,
		Resolved:  resolved,
		Generated: generated,
	})
	logging.Info("Pipeline run complete for %s: %d scanned, %d skipped, %d changed, %d deleted, %d edges, %d thumbnails in %v",
		project.Name, stats.Scanned, stats.Skipped, stats.Changed, stats.Deleted, resolved, generated, duration.Round(time.Millisecond))
}

// scanPhases runs counting and the overlapped walk/index phases.
func (o *Orchestrator) scanPhases(ctx context.Context, gen uint64, project *database.Project) (int64, *scanner.Stats, error) {
	o.emit(gen, Event{Phase: PhaseCounting, ProjectID: project.ID})

	total, err := o.scanner.Count(ctx, project.RootPath, func(count int64) {
		o.emit(gen, Event{Phase: PhaseCounting, ProjectID: project.ID, Scanned: count})
	})
	if err != nil {
		return 0, nil, err
	}

	o.emit(gen, Event{Phase: PhaseWalking, ProjectID: project.ID, Total: total})

	emit := func(batch []*database.Asset) error {
		if o.monitor != nil {
			o.monitor.WaitIfPaused()
		}
		return o.db.UpsertBatch(batch)
	}

	// The walk and batch commits overlap; the reported phase flips to
	// indexing once every file has been seen and only tail batches remain.
	report := func(p scanner.Progress) {
		phase := PhaseWalking
		if total > 0 && p.Scanned+p.Skipped >= total {
			phase = PhaseIndexing
		}
		o.emit(gen, Event{
			Phase:       phase,
			ProjectID:   project.ID,
			Scanned:     p.Scanned,
			Skipped:     p.Skipped,
			Changed:     p.Changed,
			Total:       total,
			CurrentPath: p.CurrentPath,
		})
	}

	stats, err := o.scanner.Scan(ctx, project, total, emit, report)
	if err != nil {
		return total, nil, err
	}
	return total, stats, nil
}

// dependencyPhase re-resolves every descriptor in the project.
func (o *Orchestrator) dependencyPhase(ctx context.Context, gen uint64, project *database.Project, total int64, stats *scanner.Stats) (int64, error) {
	o.emit(gen, Event{
		Phase:     PhaseDependencies,
		ProjectID: project.ID,
		Scanned:   stats.Scanned,
		Skipped:   stats.Skipped,
		Changed:   stats.Changed,
		Total:     total,
	})

	edges, err := o.resolver.ResolveProject(ctx, project.ID, func(done, descTotal int) {
		o.emit(gen, Event{
			Phase:     PhaseDependencies,
			ProjectID: project.ID,
			Resolved:  int64(done),
			Total:     int64(descTotal),
		})
	})
	if err != nil {
		return int64(edges), err
	}
	return int64(edges), nil
}

// thumbnailPhase rebuilds the thumbnail cache for the project.
func (o *Orchestrator) thumbnailPhase(ctx context.Context, gen uint64, project *database.Project, total int64) (int64, error) {
	if o.thumbs == nil || !o.thumbs.IsEnabled() {
		return 0, nil
	}

	o.emit(gen, Event{Phase: PhaseThumbnails, ProjectID: project.ID})

	generated, err := o.thumbs.RegenerateAll(ctx, project.ID, func(done, thumbTotal int) {
		o.emit(gen, Event{
			Phase:     PhaseThumbnails,
			ProjectID: project.ID,
			Generated: int64(done),
			Total:     int64(thumbTotal),
		})
	})
	if err != nil {
		return int64(generated), err
	}
	return int64(generated), nil
}

// fail records a cancelled or errored run.
func (o *Orchestrator) fail(ctx context.Context, gen uint64, project *database.Project, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		logging.Info("Pipeline run cancelled for %s", project.Name)
		o.emit(gen, Event{Phase: PhaseCancelled, ProjectID: project.ID})
		return
	}

	metrics.ScanErrors.Inc()
	logging.Error("Pipeline run failed for %s: %v", project.Name, err)
	o.emit(gen, Event{
		Phase:     PhaseCancelled,
		ProjectID: project.ID,
		Error:     fmt.Sprintf("%v", err),
	})
}
