// Package core provides the extraction engine for fisheries trip and
// survey data.
//
// The package is independent of any transport layer. It can be used by
// web handlers, CLI tools, or tests without modification.
//
// # Architecture
//
//   - Format Registry: versioned formats, each an ordered list of sheets
//     with columns, upstream sheets and a builder. Formats are registered
//     at init time using [Register].
//   - Filters: [TripFilter], [ProductFilter] and [AggregationFilter],
//     validated once and translated into an engine-agnostic [Predicate].
//   - Extraction Context: the run-scoped aggregate binding a format and a
//     filter to one staging resource per sheet.
//   - Pipeline: builds sheets in dependency order and releases everything
//     on failure or cancellation.
//   - Service: the entry point for Extract, Read, Release and export.
//
// # Registering a Format
//
//	core.Register(core.FormatSpec{
//	    Code:    "RDB",
//	    Version: "1.0",
//	    Sheets: []core.SheetSpec{
//	        {Name: "TR", Columns: tripColumns, Build: buildTrip},
//	        {Name: "HH", Columns: haulColumns, DependsOn: []string{"TR"}, Build: buildHaul},
//	    },
//	})
//
// # Run Lifecycle
//
//  1. [Service.Extract] creates a context and runs the pipeline
//  2. [Service.Read] or [Service.ExportOrderedSheets] streams rows
//  3. [Service.Release] drops the staging resources
//
// Runs never released by their owner are evicted by [Service.StartSweeper].
//
// # Error Handling
//
// [Service.Extract] returns a single [*ExtractionError] wrapping the
// typed cause. [MapError] maps errors to user messages with codes:
//
//   - FMT001-FMT002: Unknown format or sheet
//   - VAL001-VAL002: Invalid filter, product not found
//   - RUN001-RUN006: Run lifecycle errors
//   - STG001, DB001-DB004: Staging and database errors
package core
