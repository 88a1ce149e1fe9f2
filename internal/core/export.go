package core

import (
	"context"
	"iter"
)

// SheetExport is one sheet as seen by a file writer: name, ordered
// columns and a lazy row sequence in that column order.
type SheetExport struct {
	Name        string
	Description string
	Columns     []string
	RowCount    int64
	Rows        iter.Seq2[Row, error]
}

// ExportOrderedSheets returns every sheet of a completed run, ordered
// exactly like the format's sheet list. Row sequences are restartable
// until the run is released.
func (s *Service) ExportOrderedSheets(ctx context.Context, runID string) ([]SheetExport, error) {
	ec, err := s.readyContext(runID)
	if err != nil {
		return nil, err
	}

	names, err := s.registry.SheetsFor(ec.Format.Code, ec.Format.Version)
	if err != nil {
		return nil, err
	}

	exports := make([]SheetExport, 0, len(names))
	for _, name := range names {
		binding, ok := ec.Binding(name)
		if !ok {
			return nil, &UnknownSheetError{Format: ec.Format.Code, Sheet: name}
		}
		spec, _ := ec.Format.Sheet(name)
		exports = append(exports, SheetExport{
			Name:        name,
			Description: spec.Description,
			Columns:     spec.ColumnNames(),
			RowCount:    binding.RowCount,
			Rows:        s.rows(ctx, runID, ec, binding),
		})
	}
	return exports, nil
}
