package core

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the context variant of an extraction run.
type Kind string

const (
	KindBase         Kind = "base"
	KindTrip         Kind = "trip"
	KindIces         Kind = "ices"
	KindSurvivalTest Kind = "survival_test"
	KindProduct      Kind = "product"
	KindAggregation  Kind = "aggregation"
)

// kindParents is the composition lattice of context variants. Wider
// variants add sheets on top of their parent's sheets.
var kindParents = map[Kind]Kind{
	KindTrip:         KindBase,
	KindIces:         KindTrip,
	KindSurvivalTest: KindIces,
	KindProduct:      KindBase,
	KindAggregation:  KindProduct,
}

// Parent returns the variant this one extends, or false for the root.
func (k Kind) Parent() (Kind, bool) {
	p, ok := kindParents[k]
	return p, ok
}

// Lineage returns the variant chain from k up to the root.
func (k Kind) Lineage() []Kind {
	chain := []Kind{k}
	for cur := k; ; {
		p, ok := cur.Parent()
		if !ok {
			return chain
		}
		chain = append(chain, p)
		cur = p
	}
}

// Extends reports whether k is other or composes it.
func (k Kind) Extends(other Kind) bool {
	for _, v := range k.Lineage() {
		if v == other {
			return true
		}
	}
	return false
}

// Live reports whether the variant builds sheets from operational data.
func (k Kind) Live() bool {
	return !k.Extends(KindProduct)
}

// SheetBinding records a built sheet. Bindings are write-once.
type SheetBinding struct {
	Sheet    string
	Handle   ResourceHandle
	RowCount int64
	BuiltAt  time.Time
}

// ExtractionContext is the run-scoped aggregate binding a format and a
// filter to its staging resources.
type ExtractionContext struct {
	ID        string
	Format    FormatSpec
	Kind      Kind
	Filter    Filter
	CreatedAt time.Time

	mu        sync.RWMutex
	product   *Product // Set for product and aggregation contexts once resolved
	bindings  map[string]SheetBinding
	released  bool
	undropped []SheetBinding // Owned bindings whose drop failed after release
}

// NewContext resolves the format, validates the filter and returns an
// empty context of the variant matching filter kind and format family.
func NewContext(reg *Registry, code, version string, filter Filter) (*ExtractionContext, error) {
	spec, err := reg.Resolve(code, version)
	if err != nil {
		return nil, err
	}
	if err := Validate(filter); err != nil {
		return nil, err
	}

	kind, err := selectKind(spec, filter)
	if err != nil {
		return nil, err
	}
	if !kind.Live() {
		if err := checkProductConstraints(spec, filter); err != nil {
			return nil, err
		}
	}

	return &ExtractionContext{
		ID:        uuid.NewString(),
		Format:    spec,
		Kind:      kind,
		Filter:    filter,
		CreatedAt: time.Now().UTC(),
		bindings:  make(map[string]SheetBinding, len(spec.Sheets)),
	}, nil
}

// constraintFields names the filter fields behind each trip-level condition.
var constraintFields = map[string]string{
	FieldProgram:  "program",
	FieldVesselID: "vessel_ids",
	FieldTripID:   "trip_ids",
	FieldDate:     "date_range",
}

// checkProductConstraints rejects trip-level constraints that some sheet of
// a product format cannot apply, instead of silently ignoring them.
func checkProductConstraints(spec FormatSpec, filter Filter) error {
	pred := filter.Predicate().Only(FieldProgram, FieldVesselID, FieldTripID, FieldDate)
	for _, field := range pred.Fields() {
		for _, sheet := range spec.Sheets {
			if _, ok := sheet.FilterColumns[field]; !ok {
				return &ValidationError{
					Field:  constraintFields[field],
					Reason: "not supported by product format " + spec.Code + " (sheet " + sheet.Name + ")",
				}
			}
		}
	}
	return nil
}

// selectKind picks the context variant for filter kind x format family.
func selectKind(spec FormatSpec, filter Filter) (Kind, error) {
	switch spec.Family {
	case FamilyProduct:
		switch filter.Kind() {
		case FilterProduct:
			return KindProduct, nil
		case FilterAggregation:
			return KindAggregation, nil
		}
		return "", &ValidationError{
			Field:  "kind",
			Reason: "format " + spec.Code + " is a product format and requires a product or aggregation filter",
		}
	default:
		if filter.Kind() != FilterTrip {
			return "", &ValidationError{
				Field:  "kind",
				Reason: "format " + spec.Code + " is a live format and requires a trip filter",
			}
		}
		if spec.Variant == "" {
			return KindTrip, nil
		}
		return spec.Variant, nil
	}
}

// Label returns the uppercase format label for live contexts and the
// uppercase product name for product contexts.
func (c *ExtractionContext) Label() string {
	if c.Kind.Live() {
		return strings.ToUpper(c.Format.Label)
	}
	if p := c.Product(); p != nil && p.Name != "" {
		return strings.ToUpper(p.Name)
	}
	if pf, _, ok := productSelection(c.Filter); ok {
		return strings.ToUpper(strings.TrimSpace(pf.ProductLabel))
	}
	return strings.ToUpper(c.Format.Label)
}

// Product returns the resolved product of a product or aggregation context.
func (c *ExtractionContext) Product() *Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.product
}

func (c *ExtractionContext) setProduct(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.product = &p
}

// Bind records a built sheet. It fails if the sheet is not declared by
// the format or is already bound.
func (c *ExtractionContext) Bind(sheet string, handle ResourceHandle, rowCount int64) error {
	if !c.Format.HasSheet(sheet) {
		return &UnknownSheetError{Format: c.Format.Code, Sheet: sheet}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return ErrRunReleased
	}
	if _, exists := c.bindings[sheet]; exists {
		return &DuplicateSheetError{RunID: c.ID, Sheet: sheet}
	}
	c.bindings[sheet] = SheetBinding{
		Sheet:    sheet,
		Handle:   handle,
		RowCount: rowCount,
		BuiltAt:  time.Now().UTC(),
	}
	return nil
}

// Binding returns the binding of a sheet.
func (c *ExtractionContext) Binding(sheet string) (SheetBinding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[sheet]
	return b, ok
}

// Bindings returns the current bindings in format order.
func (c *ExtractionContext) Bindings() []SheetBinding {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]SheetBinding, 0, len(c.bindings))
	for _, sheet := range c.Format.Sheets {
		if b, ok := c.bindings[sheet.Name]; ok {
			result = append(result, b)
		}
	}
	return result
}

// BuiltSheets returns the names of bound sheets in format order.
func (c *ExtractionContext) BuiltSheets() []string {
	bindings := c.Bindings()
	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = b.Sheet
	}
	return names
}

// upstream returns the bindings of the given sheets.
func (c *ExtractionContext) upstream(sheets []string) map[string]SheetBinding {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]SheetBinding, len(sheets))
	for _, s := range sheets {
		if b, ok := c.bindings[s]; ok {
			result[s] = b
		}
	}
	return result
}

// IsComplete reports whether every declared sheet is bound.
func (c *ExtractionContext) IsComplete() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.released {
		return false
	}
	for _, sheet := range c.Format.Sheets {
		if _, ok := c.bindings[sheet.Name]; !ok {
			return false
		}
	}
	return true
}

// Released reports whether the context's resources have been released.
func (c *ExtractionContext) Released() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.released
}

// detach marks the context unusable and hands back its bindings, latest
// first, for release. Later calls return only the bindings handed back
// through retain.
func (c *ExtractionContext) detach() []SheetBinding {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		result := c.undropped
		c.undropped = nil
		return result
	}
	c.released = true

	var result []SheetBinding
	for i := len(c.Format.Sheets) - 1; i >= 0; i-- {
		if b, ok := c.bindings[c.Format.Sheets[i].Name]; ok {
			result = append(result, b)
		}
	}
	return result
}

// retain keeps bindings whose drop failed so the next detach returns them.
func (c *ExtractionContext) retain(failed []SheetBinding) {
	if len(failed) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.undropped = append(c.undropped, failed...)
}

// Undropped returns the names of staging resources still awaiting a drop.
func (c *ExtractionContext) Undropped() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.undropped))
	for i, b := range c.undropped {
		names[i] = b.Handle.Name
	}
	return names
}
