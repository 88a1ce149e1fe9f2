package core

import (
	"sort"
	"sync"
	"time"
)

// RunState is the lifecycle state of an extraction run.
type RunState string

const (
	RunBuilding RunState = "building"
	RunReady    RunState = "ready"
	RunFailed   RunState = "failed"
)

// activeRun is one entry of the process-wide run registry.
type activeRun struct {
	ec         *ExtractionContext
	tracker    *SheetTracker
	state      RunState
	lastAccess time.Time
	failure    *ExtractionError
}

// runRegistry tracks active run ids with their last access time. It is the
// only mutable structure shared across runs; every operation holds the
// lock briefly and never calls out while holding it.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*activeRun
	now  func() time.Time
}

func newRunRegistry() *runRegistry {
	return &runRegistry{
		runs: make(map[string]*activeRun),
		now:  time.Now,
	}
}

// insert registers a new run in the building state.
func (r *runRegistry) insert(ec *ExtractionContext, tracker *SheetTracker) *activeRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := &activeRun{
		ec:         ec,
		tracker:    tracker,
		state:      RunBuilding,
		lastAccess: r.now(),
	}
	r.runs[ec.ID] = run
	return run
}

// touch returns a run and refreshes its last access time.
func (r *runRegistry) touch(id string) (*activeRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if ok {
		run.lastAccess = r.now()
	}
	return run, ok
}

// get returns a run without refreshing it.
func (r *runRegistry) get(id string) (*activeRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	return run, ok
}

// snapshot returns a run's state and failure under the lock.
func (r *runRegistry) snapshot(id string) (RunState, *ExtractionError, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return "", nil, false
	}
	return run.state, run.failure, true
}

// markReady moves a building run to ready.
func (r *runRegistry) markReady(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok || run.state != RunBuilding {
		return false
	}
	run.state = RunReady
	run.lastAccess = r.now()
	return true
}

// markFailed records the failure of a run.
func (r *runRegistry) markFailed(id string, failure *ExtractionError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.runs[id]; ok {
		run.state = RunFailed
		run.failure = failure
		run.lastAccess = r.now()
	}
}

// remove deletes a run unless it is still building.
func (r *runRegistry) remove(id string) (*activeRun, RunState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, "", false
	}
	if run.state == RunBuilding {
		return run, run.state, true
	}
	delete(r.runs, id)
	return run, run.state, true
}

// restore puts back a run taken out by remove, unless the id has been
// registered again in the meantime.
func (r *runRegistry) restore(run *activeRun) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ec.ID]; !ok {
		r.runs[run.ec.ID] = run
	}
}

// removeIfIdle deletes a ready run only if it has not been accessed since
// cutoff. The check and the removal happen under one lock.
func (r *runRegistry) removeIfIdle(id string, cutoff time.Time) (*activeRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok || run.state != RunReady || !run.lastAccess.Before(cutoff) {
		return nil, false
	}
	delete(r.runs, id)
	return run, true
}

// removeFailed deletes a run if it is in the failed state.
func (r *runRegistry) removeFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.runs[id]; ok && run.state == RunFailed {
		delete(r.runs, id)
	}
}

// cutoff returns the access time before which a run is idle.
func (r *runRegistry) cutoff(threshold time.Duration) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Add(-threshold)
}

// idle returns ready runs not accessed since cutoff, oldest first.
func (r *runRegistry) idle(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	type candidate struct {
		id   string
		last time.Time
	}
	var found []candidate
	for id, run := range r.runs {
		if run.state == RunReady && run.lastAccess.Before(cutoff) {
			found = append(found, candidate{id, run.lastAccess})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].last.Before(found[j].last) })

	ids := make([]string, len(found))
	for i, c := range found {
		ids[i] = c.id
	}
	return ids
}

// ids returns the ids of runs in the given state.
func (r *runRegistry) ids(state RunState) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, run := range r.runs {
		if run.state == state {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// count returns the number of registered runs.
func (r *runRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
