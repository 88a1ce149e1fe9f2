package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/extractor/internal/core"
	"github.com/JonMunkholm/extractor/internal/staging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an extraction and print its sheets",
	Long: `Run builds every sheet of --format for the filter read from --filter,
prints per-sheet row counts and the first --preview rows of each sheet,
then releases the staging tables. With --csv-dir every sheet is also
written to <dir>/<SHEET>.csv.

The filter file is YAML:

  kind: trip            # trip, product or aggregation
  program: SIH-OBSMER
  vessel_ids: [42]
  start_date: 2019-01-01
  end_date: 2019-12-31`,
	RunE: runExtraction,
}

func init() {
	runCmd.Flags().String("format", "", "format code, e.g. RDB (required)")
	runCmd.Flags().String("version", "", "format version (default: latest)")
	runCmd.Flags().String("filter", "", "YAML filter file (default: no restriction)")
	runCmd.Flags().Int("preview", 5, "rows printed per sheet (0 for counts only)")
	runCmd.Flags().String("csv-dir", "", "directory to write one CSV per sheet")
	_ = runCmd.MarkFlagRequired("format")

	rootCmd.AddCommand(runCmd)
}

func runExtraction(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	format, _ := cmd.Flags().GetString("format")
	version, _ := cmd.Flags().GetString("version")
	filterPath, _ := cmd.Flags().GetString("filter")
	preview, _ := cmd.Flags().GetInt("preview")
	csvDir, _ := cmd.Flags().GetString("csv-dir")

	filter, err := loadFilter(filterPath)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	service := core.NewService(store, store, core.ServiceConfig{}, core.WithLogger(slog.Default()))

	handle, err := service.Extract(ctx, core.ExtractRequest{Format: format, Version: version, Filter: filter})
	if err != nil {
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		}
		return err
	}
	defer func() {
		if err := service.Release(context.WithoutCancel(ctx), handle.RunID); err != nil {
			slog.Warn("release failed", "run_id", handle.RunID, "error", err)
		}
	}()

	fmt.Printf("%s %s  %s  run %s\n\n", handle.Format, handle.Version, handle.Label, handle.RunID)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SHEET\tROWS")
	for _, s := range handle.Sheets {
		fmt.Fprintf(w, "%s\t%d\n", s.Sheet, s.RowCount)
	}
	w.Flush()

	for _, s := range handle.Sheets {
		if preview > 0 && s.RowCount > 0 {
			if err := printPreview(ctx, service, handle.RunID, s.Sheet, preview); err != nil {
				return err
			}
		}
		if csvDir != "" {
			if err := writeSheetCSV(ctx, service, handle.RunID, s.Sheet, csvDir); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadFilter decodes a YAML filter document. An empty path is an
// unrestricted trip filter.
func loadFilter(path string) (core.Filter, error) {
	if path == "" {
		return core.TripFilter{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter: %w", err)
	}
	var doc core.FilterDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse filter %s: %w", path, err)
	}
	return doc.ToFilter()
}

// openStore opens the backend selected by flags, environment or config
// file.
func openStore(ctx context.Context) (staging.Store, func(), error) {
	opts := staging.Options{
		Backend:    viper.GetString("backend"),
		Pool:       staging.PoolConfig{URL: viper.GetString("database_url")},
		Schema:     viper.GetString("schema"),
		SQLitePath: viper.GetString("sqlite_path"),
		Prefix:     staging.DefaultPrefix,
	}
	backend := strings.ToLower(opts.Backend)

	if path := viper.GetString("fixture"); path != "" {
		f, err := staging.LoadFixture(path)
		if err != nil {
			return nil, nil, err
		}
		opts.Fixture = f
	} else if backend == staging.BackendMemory {
		return nil, nil, errors.New("the memory backend needs --fixture")
	}

	cleanup := func() {}
	if backend == staging.BackendSQLite && opts.SQLitePath == "" {
		dir, err := os.MkdirTemp("", "extract-")
		if err != nil {
			return nil, nil, err
		}
		opts.SQLitePath = filepath.Join(dir, "extraction.db")
		cleanup = func() { os.RemoveAll(dir) }
	}

	store, closeStore, err := staging.Open(ctx, opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return store, func() {
		closeStore()
		cleanup()
	}, nil
}

func printPreview(ctx context.Context, service *core.Service, runID, sheet string, limit int) error {
	columns, err := service.Columns(runID, sheet)
	if err != nil {
		return err
	}
	rows, err := service.Read(ctx, runID, sheet)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s\n", sheet)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 1, ' ', 0)
	fmt.Fprintln(w, strings.Join(columns, "\t"))
	n := 0
	for row, err := range rows {
		if err != nil {
			return err
		}
		if n == limit {
			break
		}
		fmt.Fprintln(w, strings.Join(cells(row), "\t"))
		n++
	}
	return w.Flush()
}

func writeSheetCSV(ctx context.Context, service *core.Service, runID, sheet, dir string) error {
	columns, err := service.Columns(runID, sheet)
	if err != nil {
		return err
	}
	rows, err := service.Read(ctx, runID, sheet)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, sheet+".csv"))
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for row, err := range rows {
		if err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
		if err := cw.Write(cells(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return f.Close()
}

func cells(row core.Row) []string {
	out := make([]string, len(row))
	for i, v := range row {
		switch val := v.(type) {
		case nil:
		case time.Time:
			if val.Equal(val.Truncate(24 * time.Hour)) {
				out[i] = val.Format(time.DateOnly)
			} else {
				out[i] = val.Format(time.RFC3339)
			}
		default:
			out[i] = fmt.Sprint(val)
		}
	}
	return out
}
