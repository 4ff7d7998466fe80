package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"asset-atlas/internal/database"
	"asset-atlas/internal/deps"
	"asset-atlas/internal/scanner"
	"asset-atlas/internal/thumbs"
)

const (
	guidA       = "aaaaaaaaaaaaaaaa1111111111111111"
	guidMissing = "ffffffffffffffff9999999999999999"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *database.Database, string) {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "atlas.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	sc := scanner.New(db, scanner.Config{NumWorkers: 2, BatchSize: 100, ChannelBuffer: 100})
	resolver := deps.New(db)
	gen := thumbs.NewGenerator(db, t.TempDir(), 64, 1024*1024, true)

	return New(db, sc, resolver, gen, nil), db, root
}

func write(t *testing.T, root, relPath, content string) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// waitTerminal blocks until the pipeline reaches complete or cancelled.
func waitTerminal(t *testing.T, events <-chan Event) Event {
	t.Helper()

	deadline := time.After(30 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Phase == PhaseComplete || ev.Phase == PhaseCancelled {
				return ev
			}
		case <-deadline:
			t.Fatal("pipeline did not reach a terminal phase")
		}
	}
}

// TestFullPipeline runs the whole pipeline over a small project and checks
// the resulting index, graph, and final event.
func TestFullPipeline(t *testing.T) {
	t.Parallel()
	orch, db, root := newTestOrchestrator(t)
	ctx := context.Background()

	write(t, root, "Textures/A.png", "pngbytes")
	write(t, root, "Textures/A.png.meta", "guid: "+guidA+"\n")
	write(t, root, "Materials/B.mat", "m_Texture: {fileID: 2800000, guid: "+guidA+", type: 3}")
	write(t, root, "Materials/C.mat", "guid: "+guidMissing+"\n")

	events := make(chan Event, 256)
	orch.Subscribe(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})

	project, err := orch.SelectRoot(ctx, root)
	if err != nil {
		t.Fatalf("select root failed: %v", err)
	}

	final := waitTerminal(t, events)
	if final.Phase != PhaseComplete {
		t.Fatalf("terminal phase = %q, want complete", final.Phase)
	}
	if final.Changed != 3 {
		t.Errorf("changed = %d, want 3", final.Changed)
	}
	if final.Resolved != 2 {
		t.Errorf("resolved edges = %d, want 2", final.Resolved)
	}

	snapshot, err := db.Snapshot(ctx, project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 3 {
		t.Errorf("index has %d assets, want 3", len(snapshot))
	}

	// B resolved against A, C left dangling.
	matB := snapshot["Materials/B.mat"]
	edges, err := db.GetDependencies(ctx, matB.AssetID)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 || !edges[0].Resolved() {
		t.Errorf("B edges = %+v, want one resolved edge", edges)
	}

	matC := snapshot["Materials/C.mat"]
	edges, err = db.GetDependencies(ctx, matC.AssetID)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 || edges[0].Resolved() {
		t.Errorf("C edges = %+v, want one unresolved edge", edges)
	}

	if orch.Phase() != PhaseComplete {
		t.Errorf("phase = %q, want complete", orch.Phase())
	}
	if snap := orch.Snapshot(); snap.Phase != PhaseComplete {
		t.Errorf("snapshot phase = %q, want complete", snap.Phase)
	}
}

// TestPhaseOrdering verifies phases advance monotonically through the
// pipeline.
func TestPhaseOrdering(t *testing.T) {
	t.Parallel()
	orch, _, root := newTestOrchestrator(t)

	write(t, root, "a.png", "x")
	write(t, root, "b.mat", "y")

	var seen []Phase
	done := make(chan struct{})
	orch.Subscribe(func(ev Event) {
		seen = append(seen, ev.Phase)
		if ev.Phase == PhaseComplete || ev.Phase == PhaseCancelled {
			close(done)
		}
	})

	if _, err := orch.SelectRoot(context.Background(), root); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("pipeline did not finish")
	}

	last := PhaseIdle.ordinal()
	for _, p := range seen {
		if p.ordinal() < last {
			t.Fatalf("phase regressed: %v", seen)
		}
		last = p.ordinal()
	}
	if seen[len(seen)-1] != PhaseComplete {
		t.Errorf("final phase = %q, want complete", seen[len(seen)-1])
	}
}

// TestCancelWithoutRun returns the no-run sentinel.
func TestCancelWithoutRun(t *testing.T) {
	t.Parallel()
	orch, _, _ := newTestOrchestrator(t)

	if err := orch.CancelScan(); !errors.Is(err, ErrNoActiveRun) {
		t.Errorf("expected ErrNoActiveRun, got %v", err)
	}
}

// TestSelectRootSupersedes verifies back-to-back selections leave the
// orchestrator tracking the latest root.
func TestSelectRootSupersedes(t *testing.T) {
	t.Parallel()
	orch, db, root := newTestOrchestrator(t)
	ctx := context.Background()

	write(t, root, "a.png", "x")

	otherRoot := t.TempDir()
	write(t, otherRoot, "b.png", "y")

	events := make(chan Event, 256)
	orch.Subscribe(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})

	first, err := orch.SelectRoot(ctx, root)
	if err != nil {
		t.Fatal(err)
	}
	second, err := orch.SelectRoot(ctx, otherRoot)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Fatal("distinct roots mapped to the same project")
	}

	// Drain until the superseding run completes.
	deadline := time.After(30 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Phase == PhaseComplete && ev.ProjectID == second.ID {
				snapshot, err := db.Snapshot(ctx, second.ID)
				if err != nil {
					t.Fatal(err)
				}
				if len(snapshot) != 1 {
					t.Errorf("second project has %d assets, want 1", len(snapshot))
				}
				return
			}
		case <-deadline:
			t.Fatal("superseding run never completed")
		}
	}
}

// TestConcurrentStartsSingleFlight hammers StartScan from several
// goroutines at once; every run launched must be cancelled or completed
// before the next is installed, so afterwards exactly one terminal state
// remains and nothing is left running.
func TestConcurrentStartsSingleFlight(t *testing.T) {
	t.Parallel()
	orch, db, root := newTestOrchestrator(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		write(t, root, filepath.Join("Textures", string(rune('a'+i))+".png"), "pngbytes")
	}

	project, err := db.GetOrCreateProject(ctx, root, "race")
	if err != nil {
		t.Fatal(err)
	}

	events := make(chan Event, 256)
	orch.Subscribe(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := orch.StartScan(ctx, project.ID); err != nil {
				t.Errorf("start: %v", err)
			}
		}()
	}
	wg.Wait()

	// Every superseded run ends cancelled; only the last can complete.
	deadline := time.After(30 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			done = ev.Phase == PhaseComplete
		case <-deadline:
			t.Fatal("surviving run never completed")
		}
	}

	// Once the survivor finishes, no run may be left behind.
	settled := time.Now().Add(10 * time.Second)
	for {
		err := orch.CancelScan()
		if errors.Is(err, ErrNoActiveRun) {
			break
		}
		if time.Now().After(settled) {
			t.Fatalf("a run is still active after completion: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	snapshot, err := db.Snapshot(ctx, project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 20 {
		t.Errorf("indexed %d assets, want 20", len(snapshot))
	}
}
