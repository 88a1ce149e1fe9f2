package core

// pipeline.go executes the per-sheet build steps of an extraction context.
//
// Each declared sheet moves through Pending -> Building -> Built, or to
// Failed. Sheets are processed one at a time: the next sheet is the first
// pending sheet, in format order, whose upstream sheets are all Built. A
// failure stops the run, and every resource created for the run is dropped
// before the error is returned, so callers never see partial contexts.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// SheetState is the build state of one sheet within a run.
type SheetState string

const (
	SheetPending  SheetState = "pending"
	SheetBuilding SheetState = "building"
	SheetBuilt    SheetState = "built"
	SheetFailed   SheetState = "failed"
)

// SheetStatus is a snapshot of one sheet's progress.
type SheetStatus struct {
	Sheet    string     `json:"sheet"`
	State    SheetState `json:"state"`
	RowCount int64      `json:"rowCount"`
}

// SheetTracker holds the state machine of every sheet of a run.
// Safe for concurrent readers while the executor advances it.
type SheetTracker struct {
	mu     sync.RWMutex
	order  []string
	states map[string]SheetState
	rows   map[string]int64
}

// NewSheetTracker returns a tracker with all sheets Pending.
func NewSheetTracker(spec FormatSpec) *SheetTracker {
	t := &SheetTracker{
		order:  spec.SheetNames(),
		states: make(map[string]SheetState, len(spec.Sheets)),
		rows:   make(map[string]int64, len(spec.Sheets)),
	}
	for _, name := range t.order {
		t.states[name] = SheetPending
	}
	return t
}

// State returns the state of a sheet.
func (t *SheetTracker) State(sheet string) SheetState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[sheet]
}

// Snapshot returns every sheet's status in format order.
func (t *SheetTracker) Snapshot() []SheetStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]SheetStatus, len(t.order))
	for i, name := range t.order {
		result[i] = SheetStatus{Sheet: name, State: t.states[name], RowCount: t.rows[name]}
	}
	return result
}

func (t *SheetTracker) set(sheet string, state SheetState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[sheet] = state
}

func (t *SheetTracker) built(sheet string, rows int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[sheet] = SheetBuilt
	t.rows[sheet] = rows
}

// next returns the first pending sheet whose upstream sheets are all Built.
func (t *SheetTracker) next(spec FormatSpec) (SheetSpec, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, sheet := range spec.Sheets {
		if t.states[sheet.Name] != SheetPending {
			continue
		}
		ready := true
		for _, dep := range sheet.DependsOn {
			if t.states[dep] != SheetBuilt {
				ready = false
				break
			}
		}
		if ready {
			return sheet, true
		}
	}
	return SheetSpec{}, false
}

// DefaultReleaseTimeout bounds resource release after a failed or
// cancelled run.
const DefaultReleaseTimeout = 30 * time.Second

// Pipeline executes sheet build steps against a storage collaborator.
type Pipeline struct {
	storage        Storage
	catalog        ProductCatalog
	logger         *slog.Logger
	releaseTimeout time.Duration
}

// NewPipeline creates a Pipeline. catalog may be nil when no product
// formats are used.
func NewPipeline(storage Storage, catalog ProductCatalog, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		storage:        storage,
		catalog:        catalog,
		logger:         logger,
		releaseTimeout: DefaultReleaseTimeout,
	}
}

// stepFunc builds one sheet and returns its handle and row count.
type stepFunc func(ctx context.Context, ec *ExtractionContext, sheet SheetSpec) (ResourceHandle, int64, error)

// Run builds every sheet of ec. On failure all bound resources are
// released before the error is returned.
func (p *Pipeline) Run(ctx context.Context, ec *ExtractionContext, tracker *SheetTracker) (err error) {
	if tracker == nil {
		tracker = NewSheetTracker(ec.Format)
	}
	logger := p.logger.With("run_id", ec.ID, "format", ec.Format.Code, "version", ec.Format.Version)

	defer func() {
		if err == nil {
			return
		}
		if relErr := p.release(ctx, ec); relErr != nil {
			logger.Warn("staging release failed after aborted run", "error", relErr)
		}
		logger.Error("extraction failed", "sheet", failingSheet(err), "built", ec.BuiltSheets(), "error", err)
	}()

	step := p.liveStep
	if !ec.Kind.Live() {
		if err := p.resolveProduct(ctx, ec); err != nil {
			return err
		}
		step = p.productStep
	}

	start := time.Now()
	for {
		sheet, ok := tracker.next(ec.Format)
		if !ok {
			break
		}

		// Cancellation is checked at every Pending -> Building transition.
		if ctxErr := ctx.Err(); ctxErr != nil {
			tracker.set(sheet.Name, SheetFailed)
			return &CancelledError{Sheet: sheet.Name, Err: ctxErr}
		}

		tracker.set(sheet.Name, SheetBuilding)
		sheetStart := time.Now()

		handle, rows, stepErr := step(ctx, ec, sheet)
		if stepErr != nil {
			tracker.set(sheet.Name, SheetFailed)
			return classifyStepError(ctx, sheet.Name, stepErr)
		}

		if bindErr := ec.Bind(sheet.Name, handle, rows); bindErr != nil {
			tracker.set(sheet.Name, SheetFailed)
			p.dropQuietly(ctx, logger, handle)
			return bindErr
		}
		tracker.built(sheet.Name, rows)

		logger.Debug("sheet built",
			"sheet", sheet.Name,
			"rows", rows,
			"duration_ms", time.Since(sheetStart).Milliseconds(),
		)
	}

	if !ec.IsComplete() {
		return fmt.Errorf("pipeline stalled with unbuilt sheets: %s", strings.Join(missingSheets(ec), ","))
	}

	logger.Info("extraction completed",
		"label", ec.Label(),
		"sheets", len(ec.Format.Sheets),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// liveStep allocates a staging resource and populates it from the
// sheet builder's source descriptor.
func (p *Pipeline) liveStep(ctx context.Context, ec *ExtractionContext, sheet SheetSpec) (ResourceHandle, int64, error) {
	handle, err := p.storage.CreateStagingResource(ctx, SchemaHint{
		RunID:   ec.ID,
		Format:  ec.Format.Code,
		Sheet:   sheet.Name,
		Columns: sheet.Columns,
	})
	if err != nil {
		return ResourceHandle{}, 0, &StorageError{Sheet: sheet.Name, Op: "create", Err: err}
	}

	src, err := sheet.Build(ctx, BuildInput{
		RunID:     ec.ID,
		Format:    ec.Format,
		Sheet:     sheet,
		Predicate: ec.Filter.Predicate(),
		Upstream:  ec.upstream(sheet.DependsOn),
	})
	if err != nil {
		p.dropQuietly(ctx, p.logger, handle)
		return ResourceHandle{}, 0, &StorageError{Sheet: sheet.Name, Op: "build", Err: err}
	}

	rows, err := p.storage.Populate(ctx, handle, ec.Filter.Predicate(), src)
	if err != nil {
		p.dropQuietly(ctx, p.logger, handle)
		return ResourceHandle{}, 0, &StorageError{Sheet: sheet.Name, Op: "populate", Err: err}
	}
	return handle, rows, nil
}

// productStep binds a sheet directly to the resolved product's table.
func (p *Pipeline) productStep(ctx context.Context, ec *ExtractionContext, sheet SheetSpec) (ResourceHandle, int64, error) {
	product := ec.Product()
	tables := product.Tables
	if _, agg, _ := productSelection(ec.Filter); agg != nil && agg.Spatial {
		tables = product.SpatialTables
	}

	table, ok := tables[sheet.Name]
	if !ok || table == "" {
		return ResourceHandle{}, 0, &StorageError{
			Sheet: sheet.Name,
			Op:    "bind",
			Err:   fmt.Errorf("product %s has no table for sheet %s", product.Label, sheet.Name),
		}
	}

	handle := ResourceHandle{
		Name:    table,
		Columns: sheet.ColumnNames(),
		Owned:   false,
		Where:   ec.Filter.Predicate().Map(sheet.FilterColumns),
	}
	rows, err := p.storage.CountRows(ctx, handle)
	if err != nil {
		return ResourceHandle{}, 0, &StorageError{Sheet: sheet.Name, Op: "count", Err: err}
	}
	return handle, rows, nil
}

// resolveProduct looks up the product named by the filter and checks it
// against the requested format and the filter's constraints.
func (p *Pipeline) resolveProduct(ctx context.Context, ec *ExtractionContext) error {
	pf, agg, ok := productSelection(ec.Filter)
	if !ok {
		return &ValidationError{Field: "kind", Reason: "product context requires a product filter"}
	}
	if p.catalog == nil {
		return fmt.Errorf("%w: no product catalog configured", ErrProductNotFound)
	}

	label := strings.TrimSpace(pf.ProductLabel)
	product, err := p.catalog.FindProduct(ctx, label)
	if err != nil {
		return err
	}

	switch {
	case !strings.EqualFold(product.Format, ec.Format.Code):
		return fmt.Errorf("%w: product %s has format %s, requested %s", ErrProductNotFound, label, product.Format, ec.Format.Code)
	case product.Version != "" && product.Version != ec.Format.Version:
		return fmt.Errorf("%w: product %s has version %s, requested %s", ErrProductNotFound, label, product.Version, ec.Format.Version)
	case pf.Category != "" && product.Category != pf.Category:
		return fmt.Errorf("%w: product %s is in category %s", ErrProductNotFound, label, product.Category)
	}

	if agg != nil {
		if len(agg.StatusIDs) > 0 && !slices.Contains(agg.StatusIDs, product.StatusID) {
			return fmt.Errorf("%w: product %s has status %d", ErrProductNotFound, label, product.StatusID)
		}
		if agg.Spatial && len(product.SpatialTables) == 0 {
			return fmt.Errorf("%w: product %s has no spatial aggregation", ErrProductNotFound, label)
		}
	}

	ec.setProduct(product)
	return nil
}

// release drops every owned resource bound in ec and marks it unusable.
// Resources whose drop fails stay with ec and are retried by the next
// call. Uses a context detached from ctx's cancellation so resources of
// cancelled runs are still dropped.
func (p *Pipeline) release(ctx context.Context, ec *ExtractionContext) error {
	bindings := ec.detach()
	if len(bindings) == 0 {
		return nil
	}

	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.releaseTimeout)
	defer cancel()

	var (
		errs   []error
		failed []SheetBinding
	)
	for _, b := range bindings {
		if !b.Handle.Owned {
			continue
		}
		if err := p.storage.DropStagingResource(relCtx, b.Handle); err != nil {
			p.logger.Warn("staging resource not dropped",
				"run_id", ec.ID,
				"sheet", b.Sheet,
				"table", b.Handle.Name,
				"error", err,
			)
			failed = append(failed, b)
			errs = append(errs, fmt.Errorf("drop %s (%s): %w", b.Sheet, b.Handle.Name, err))
		}
	}
	ec.retain(failed)
	return errors.Join(errs...)
}

// dropQuietly drops an unbound resource, logging failures.
func (p *Pipeline) dropQuietly(ctx context.Context, logger *slog.Logger, h ResourceHandle) {
	if !h.Owned || h.Name == "" {
		return
	}
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.releaseTimeout)
	defer cancel()
	if err := p.storage.DropStagingResource(relCtx, h); err != nil {
		logger.Warn("staging drop failed", "resource", h.Name, "error", err)
	}
}

// classifyStepError turns a step failure caused by cancellation into a
// CancelledError; other failures are returned unchanged.
func classifyStepError(ctx context.Context, sheet string, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return &CancelledError{Sheet: sheet, Err: ctx.Err()}
	}
	return err
}

func missingSheets(ec *ExtractionContext) []string {
	var missing []string
	for _, name := range ec.Format.SheetNames() {
		if _, ok := ec.Binding(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
