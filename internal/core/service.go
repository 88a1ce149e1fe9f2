package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

// DefaultExtractionTimeout bounds a single pipeline run.
const DefaultExtractionTimeout = 10 * time.Minute

// DefaultFailureRetention is how long the status of a failed run stays
// queryable after the failure.
const DefaultFailureRetention = 5 * time.Minute

// ServiceConfig holds tuning for the extraction service.
// Zero values fall back to package defaults.
type ServiceConfig struct {
	MaxConcurrent    int           // Parallel pipelines (default: 4)
	MaxWaitTime      time.Duration // Wait for a pipeline slot (default: 30s)
	Timeout          time.Duration // Per-run pipeline timeout (default: 10m)
	FailureRetention time.Duration // Failed run status retention (default: 5m)
}

// Option customises a Service.
type Option func(*Service)

// WithRegistry replaces the default format registry.
func WithRegistry(r *Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service is the extraction facade: it creates contexts, runs their
// pipelines and owns their lifecycle until release.
type Service struct {
	registry *Registry
	storage  Storage
	catalog  ProductCatalog
	pipeline *Pipeline
	limiter  *RunLimiter
	runs     *runRegistry
	logger   *slog.Logger

	timeout          time.Duration
	failureRetention time.Duration
}

// NewService creates a Service over a storage collaborator. catalog may
// be nil when only live formats are extracted.
func NewService(storage Storage, catalog ProductCatalog, cfg ServiceConfig, opts ...Option) *Service {
	s := &Service{
		registry:         DefaultRegistry(),
		storage:          storage,
		catalog:          catalog,
		runs:             newRunRegistry(),
		logger:           slog.Default(),
		timeout:          cfg.Timeout,
		failureRetention: cfg.FailureRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout <= 0 {
		s.timeout = DefaultExtractionTimeout
	}
	if s.failureRetention <= 0 {
		s.failureRetention = DefaultFailureRetention
	}
	s.limiter = NewRunLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime)
	s.pipeline = NewPipeline(storage, catalog, s.logger)
	return s
}

// ExtractRequest asks for one extraction run.
type ExtractRequest struct {
	Format  string
	Version string // Empty selects the latest version
	Filter  Filter
}

// Handle is returned by a successful Extract and identifies the run for
// reading, export and release.
type Handle struct {
	RunID     string        `json:"runId"`
	Format    string        `json:"format"`
	Version   string        `json:"version"`
	Label     string        `json:"label"`
	Kind      Kind          `json:"kind"`
	CreatedAt time.Time     `json:"createdAt"`
	Sheets    []SheetStatus `json:"sheets"`
}

// Extract creates a context, runs its pipeline to completion and returns
// a handle over the completed context. Every failure is an
// *ExtractionError; resources are released before it is returned.
func (s *Service) Extract(ctx context.Context, req ExtractRequest) (*Handle, error) {
	ec, err := NewContext(s.registry, req.Format, req.Version, req.Filter)
	if err != nil {
		return nil, &ExtractionError{Format: req.Format, Version: req.Version, Err: err}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, s.extractionError(ec, err)
	}
	defer s.limiter.Release()

	runCtx := ContextWithFormat(ContextWithRunID(ctx, ec.ID), ec.Format.Code)
	runCtx, cancel := context.WithTimeout(runCtx, s.timeout)
	defer cancel()

	tracker := NewSheetTracker(ec.Format)
	s.runs.insert(ec, tracker)

	if err := s.pipeline.Run(runCtx, ec, tracker); err != nil {
		exErr := s.extractionError(ec, err)
		s.runs.markFailed(ec.ID, exErr)
		s.forgetFailed(ec.ID)
		return nil, exErr
	}
	s.runs.markReady(ec.ID)

	return &Handle{
		RunID:     ec.ID,
		Format:    ec.Format.Code,
		Version:   ec.Format.Version,
		Label:     ec.Label(),
		Kind:      ec.Kind,
		CreatedAt: ec.CreatedAt,
		Sheets:    tracker.Snapshot(),
	}, nil
}

func (s *Service) extractionError(ec *ExtractionContext, err error) *ExtractionError {
	return &ExtractionError{
		RunID:   ec.ID,
		Format:  ec.Format.Code,
		Version: ec.Format.Version,
		Sheet:   failingSheet(err),
		Built:   ec.BuiltSheets(),
		Err:     err,
	}
}

// forgetFailed drops a failed run's status after the retention period.
func (s *Service) forgetFailed(runID string) {
	time.AfterFunc(s.failureRetention, func() {
		s.runs.removeFailed(runID)
	})
}

// readyContext returns the context of a completed, unreleased run and
// refreshes its last access time.
func (s *Service) readyContext(runID string) (*ExtractionContext, error) {
	state, failure, ok := s.runs.snapshot(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	switch state {
	case RunBuilding:
		return nil, fmt.Errorf("%w: %s", ErrRunNotReady, runID)
	case RunFailed:
		return nil, failure
	}

	run, ok := s.runs.get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.ec.Released() {
		return nil, fmt.Errorf("%w: %s", ErrRunReleased, runID)
	}
	s.runs.touch(runID)
	return run.ec, nil
}

// Read returns the rows of one sheet in column order. The sequence is
// finite and restartable: ranging over it again re-reads the same staging
// resource. Iterating after release yields ErrRunReleased.
func (s *Service) Read(ctx context.Context, runID, sheet string) (iter.Seq2[Row, error], error) {
	ec, err := s.readyContext(runID)
	if err != nil {
		return nil, err
	}
	binding, ok := ec.Binding(sheet)
	if !ok {
		return nil, &UnknownSheetError{Format: ec.Format.Code, Sheet: sheet}
	}
	return s.rows(ctx, runID, ec, binding), nil
}

func (s *Service) rows(ctx context.Context, runID string, ec *ExtractionContext, b SheetBinding) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if ec.Released() {
			yield(nil, fmt.Errorf("%w: %s", ErrRunReleased, runID))
			return
		}
		s.runs.touch(runID)
		for row, err := range s.storage.ReadRows(ctx, b.Handle) {
			if !yield(row, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// Columns returns the column names of a sheet in export order.
func (s *Service) Columns(runID, sheet string) ([]string, error) {
	ec, err := s.readyContext(runID)
	if err != nil {
		return nil, err
	}
	spec, ok := ec.Format.Sheet(sheet)
	if !ok {
		return nil, &UnknownSheetError{Format: ec.Format.Code, Sheet: sheet}
	}
	return spec.ColumnNames(), nil
}

// Release drops every staging resource of a run and forgets it.
// Releasing an unknown or already released run is a no-op. When a drop
// fails the run stays registered, unreadable, so a later Release, ReleaseAll
// or idle sweep retries the resources left behind.
func (s *Service) Release(ctx context.Context, runID string) error {
	run, state, ok := s.runs.remove(runID)
	if !ok {
		return nil
	}
	if state == RunBuilding {
		return fmt.Errorf("%w: %s is still building", ErrRunNotReady, runID)
	}
	return s.releaseRun(ctx, run)
}

// releaseRun drops the resources of a run already taken out of the
// registry, putting it back when some of them could not be dropped.
func (s *Service) releaseRun(ctx context.Context, run *activeRun) error {
	if err := s.pipeline.release(ctx, run.ec); err != nil {
		s.runs.restore(run)
		s.logger.Warn("staging tables kept for retry", "run_id", run.ec.ID, "tables", run.ec.Undropped())
		return fmt.Errorf("release run %s: %w", run.ec.ID, err)
	}
	s.logger.Debug("extraction released", "run_id", run.ec.ID)
	return nil
}

// ReleaseAll releases every completed run. Used at shutdown; drop
// failures are logged.
func (s *Service) ReleaseAll(ctx context.Context) int {
	released := 0
	for _, id := range s.runs.ids(RunReady) {
		if err := s.Release(ctx, id); err != nil {
			s.logger.Warn("staging release failed", "run_id", id, "error", err)
			continue
		}
		released++
	}
	return released
}

// RunStatus reports the progress or outcome of a run.
type RunStatus struct {
	RunID   string        `json:"runId"`
	Format  string        `json:"format"`
	Version string        `json:"version"`
	Label   string        `json:"label"`
	State   RunState      `json:"state"`
	Sheets  []SheetStatus `json:"sheets"`
	Error   string        `json:"error,omitempty"`
	Failed  string        `json:"failedSheet,omitempty"`
}

// Status returns the state of a run, including failure detail for runs
// that failed within the retention period.
func (s *Service) Status(runID string) (RunStatus, error) {
	run, ok := s.runs.get(runID)
	if !ok {
		return RunStatus{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	state, failure, _ := s.runs.snapshot(runID)

	status := RunStatus{
		RunID:   runID,
		Format:  run.ec.Format.Code,
		Version: run.ec.Format.Version,
		Label:   run.ec.Label(),
		State:   state,
		Sheets:  run.tracker.Snapshot(),
	}
	if failure != nil {
		status.Error = failure.Err.Error()
		status.Failed = failure.Sheet
	}
	return status, nil
}

// IsComplete reports whether every sheet of a run is bound.
func (s *Service) IsComplete(runID string) (bool, error) {
	run, ok := s.runs.get(runID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run.ec.IsComplete(), nil
}

// ListFormats returns every registered format.
func (s *Service) ListFormats() []FormatSpec {
	return s.registry.All()
}

// Resolve looks up a format; an empty version selects the latest.
func (s *Service) Resolve(code, version string) (FormatSpec, error) {
	return s.registry.Resolve(code, version)
}

// Versions lists the registered versions of a format code, oldest first.
func (s *Service) Versions(code string) []string {
	return s.registry.Versions(code)
}

// ActiveRuns returns the number of runs currently tracked.
func (s *Service) ActiveRuns() int {
	return s.runs.count()
}

// LimiterStatus returns the pipeline limiter state for monitoring.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// WaitForExtractions blocks until running pipelines finish or ctx is done.
func (s *Service) WaitForExtractions(ctx context.Context) error {
	if err := s.limiter.WaitForDrain(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("extractions still running at shutdown: %w", err)
		}
		return err
	}
	return nil
}
