package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/trace.report/internal/api"
	"github.com/banshee-data/trace.report/internal/config"
	"github.com/banshee-data/trace.report/internal/db"
	"github.com/banshee-data/trace.report/internal/features"
	"github.com/banshee-data/trace.report/internal/httputil"
	"github.com/banshee-data/trace.report/internal/integrity"
	"github.com/banshee-data/trace.report/internal/monitoring"
	"github.com/banshee-data/trace.report/internal/recording"
	"github.com/banshee-data/trace.report/internal/security"
	"github.com/banshee-data/trace.report/internal/traceplot"
)

// result is the outcome for one recording file.
type result struct {
	Path     string             `json:"path"`
	Report   *db.Report         `json:"report,omitempty"`
	Windows  []features.Summary `json:"windows,omitempty"`
	Plots    []string           `json:"plots,omitempty"`
	Error    string             `json:"error,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// Accepted reports whether the recording was read and accepted.
func (r *result) Accepted() bool {
	return r.Error == "" && r.Report != nil && r.Report.Verdict.Accepted()
}

type checker struct {
	cfg       Config
	check     *config.CheckConfig
	validator *integrity.Validator
	database  *db.DB
	store     *db.ReportStore
	client    *api.Client
	workers   int
	prevLog   monitoring.LogFunc
}

func newChecker(cfg Config) (*checker, error) {
	check := config.EmptyCheckConfig()
	if cfg.ConfigPath != "" {
		loaded, err := config.LoadCheckConfig(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		check = loaded
	}
	if cfg.RulesPath != "" {
		check.RulesPath = &cfg.RulesPath
	}
	if cfg.Workers >= 0 {
		check.Workers = &cfg.Workers
	}
	c := &checker{cfg: cfg, check: check, workers: check.GetWorkers()}
	if cfg.Quiet {
		c.prevLog = monitoring.SetLogger(nil)
	}

	if cfg.ServerURL != "" {
		c.client = api.NewClient(cfg.ServerURL, httputil.NewStandardClient(5*time.Minute))
		return c, nil
	}

	v, err := check.NewValidator()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.validator = v

	if cfg.DBPath != "" {
		database, err := db.NewDB(cfg.DBPath)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to open report database: %w", err)
		}
		c.database = database
		c.store = db.NewReportStore(database)
	}
	if cfg.PlotDir != "" {
		if err := os.MkdirAll(cfg.PlotDir, 0o755); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create plot directory: %w", err)
		}
	}
	return c, nil
}

func (c *checker) Close() {
	if c.database != nil {
		c.database.Close()
	}
	if c.prevLog != nil {
		monitoring.SetLogger(c.prevLog)
	}
}

// CheckAll validates paths with at most c.workers in flight. Per-file
// failures are recorded in the results; only cancellation returns an error.
// Results keep the order of paths.
func (c *checker) CheckAll(ctx context.Context, paths []string) ([]*result, error) {
	results := make([]*result, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = c.checkOne(ctx, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *checker) checkOne(ctx context.Context, path string) *result {
	res := &result{Path: path}
	if c.client != nil {
		data, err := os.ReadFile(path)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		report, err := c.client.Validate(ctx, filepath.Base(path), data)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Report = report
		return res
	}

	rec, err := recording.Load(path, c.check.GetAnchorPolicy())
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if rec.Labels != nil {
		if err := rec.Labels.Validate(); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("labels: %v", err))
		}
	}
	res.Report = db.NewReport(filepath.Base(path), rec, rec.Validate(c.validator))

	if c.cfg.Windows {
		windows, err := features.Extract(rec.Series, c.check.WindowConfig())
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("windows: %v", err))
		}
		res.Windows = windows
	}

	if c.cfg.PlotDir != "" {
		plots, err := c.plot(rec, path)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("plots: %v", err))
		}
		res.Plots = plots
	}

	if c.store != nil {
		if err := c.store.Insert(res.Report); err != nil {
			res.Error = fmt.Sprintf("failed to store report: %v", err)
		}
	}
	return res
}

func (c *checker) plot(rec *recording.Recording, path string) ([]string, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	plots, err := traceplot.SavePNG(rec.Series, traceplot.DefaultGroups, name, c.cfg.PlotDir)
	if err != nil {
		return plots, err
	}

	htmlPath, err := security.OutputPath(c.cfg.PlotDir, name, ".html")
	if err != nil {
		return plots, err
	}
	f, err := os.Create(htmlPath)
	if err != nil {
		return plots, err
	}
	defer f.Close()
	if err := traceplot.RenderHTML(f, rec.Series, features.AccelKeys[:], name, c.check.GetPlotMaxPoints()); err != nil {
		os.Remove(htmlPath)
		return plots, err
	}
	return append(plots, htmlPath), nil
}

func printResults(w io.Writer, results []*result, cfg Config) error {
	if cfg.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for i, r := range results {
		if cfg.Quiet {
			fmt.Fprintln(w, r.line())
			continue
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "== %s ==\n", r.Path)
		if r.Error != "" {
			fmt.Fprintf(w, "ERROR   %s\n", r.Error)
		}
		if r.Report != nil {
			fmt.Fprint(w, r.Report.Verdict.Summary())
			if r.Report.ReportID != "" {
				fmt.Fprintf(w, "report %s\n", r.Report.ReportID)
			}
		}
		for _, warning := range r.Warnings {
			fmt.Fprintf(w, "NOTE    %s\n", warning)
		}
		if len(r.Windows) > 0 {
			fmt.Fprintf(w, "%d feature window(s)\n", len(r.Windows))
		}
		for _, p := range r.Plots {
			fmt.Fprintf(w, "plot    %s\n", p)
		}
	}
	return nil
}

// line renders the result on one line for -quiet.
func (r *result) line() string {
	switch {
	case r.Error != "":
		return fmt.Sprintf("%s: error: %s", r.Path, r.Error)
	case r.Report == nil:
		return fmt.Sprintf("%s: no report", r.Path)
	default:
		v := r.Report.Verdict
		return fmt.Sprintf("%s: %s (%d errors, %d warnings)", r.Path, v.Overall, v.ErrorCount, v.WarningCount)
	}
}
