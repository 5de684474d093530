// Package main provides the CLI entrypoint for panier.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/panier/internal/api"
	"github.com/verte-zerg/panier/internal/config"
	"github.com/verte-zerg/panier/internal/dashboard"
	"github.com/verte-zerg/panier/internal/export"
	"github.com/verte-zerg/panier/internal/filter"
	"github.com/verte-zerg/panier/internal/ingest"
	"github.com/verte-zerg/panier/internal/logging"
	"github.com/verte-zerg/panier/internal/model"
	"github.com/verte-zerg/panier/internal/server"
	"github.com/verte-zerg/panier/internal/session"
	"github.com/verte-zerg/panier/internal/stats"
	"github.com/verte-zerg/panier/internal/store"
	"github.com/verte-zerg/panier/internal/view"
)

const (
	defaultView         = string(view.Overview)
	defaultExportFormat = string(export.XLSX)
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultColor        = string(stats.ColorAuto)
	defaultExportsLimit = 20
)

var (
	apiURL     string
	apiTimeout string
	logLevel   string
	logFormat  string

	dashboardView   string
	dashboardYear   int
	dashboardFormat string

	loginUser     string
	loginPassword string

	reportView     string
	reportWidth    int
	reportColor    string
	reportNoCharts bool

	exportView   string
	exportFormat string
	exportOut    string

	exportsView  string
	exportsLimit int

	serveAddr    string
	serveMetrics bool

	displayLocale string

	reportFilters filterFlags
	exportFilters filterFlags
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "panier",
		Short:         "Retail purchase analytics dashboard",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runDashboardCmd,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", api.DefaultBaseURL, "backend base URL")
	rootCmd.PersistentFlags().StringVar(&apiTimeout, "timeout", "", "backend request timeout, e.g. 30s (default: none)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", defaultLogFormat, "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&displayLocale, "locale", stats.DefaultLocale, "locale for amounts and month names")

	rootCmd.Flags().StringVar(&dashboardView, "view", defaultView, "initial view")
	rootCmd.Flags().IntVar(&dashboardYear, "year", 0, "overview year (default: current year)")
	rootCmd.Flags().StringVar(&dashboardFormat, "export-format", defaultExportFormat, "format of exports started with x (xlsx, csv)")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newExportsCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// app holds the collaborators shared by every command.
type app struct {
	cfg    config.FileConfig
	logger *slog.Logger
	store  *store.Store
	client *api.Client
	gate   *session.Gate

	loc        *time.Location
	csps       []string
	categories []string
	policy     ingest.Policy
}

func loadFileConfig(cmd *cobra.Command) (config.FileConfig, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return config.FileConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "api-url", &apiURL, fileCfg.API.BaseURL)
	applyStringConfig(cmd, "timeout", &apiTimeout, fileCfg.API.Timeout)
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-format", &logFormat, fileCfg.Log.Format)
	applyStringConfig(cmd, "locale", &displayLocale, fileCfg.Display.Locale)
	return fileCfg, nil
}

// openApp opens the store and builds the API client and session gate.
// The caller must call close.
func openApp(fileCfg config.FileConfig, logger *slog.Logger) (*app, error) {
	timeout, err := config.APIConfig{Timeout: &apiTimeout}.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	loc, err := fileCfg.Dashboard.Location()
	if err != nil {
		return nil, err
	}
	strict := false
	if fileCfg.Ingest.Strict != nil {
		strict = *fileCfg.Ingest.Strict
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	client := api.New(api.Config{BaseURL: apiURL, Timeout: timeout})
	a := &app{
		cfg:        fileCfg,
		logger:     logger,
		store:      st,
		client:     client,
		gate:       session.NewGate(st, client, session.WithLogger(logger)),
		loc:        loc,
		csps:       model.DefaultCSPs,
		categories: model.DefaultCategories,
		policy:     ingest.ParsePolicy(strict),
	}
	if len(fileCfg.Catalog.CSPs) > 0 {
		a.csps = fileCfg.Catalog.CSPs
	}
	if len(fileCfg.Catalog.Categories) > 0 {
		a.categories = fileCfg.Catalog.Categories
	}
	return a, nil
}

func (a *app) close() {
	if cerr := a.store.Close(); cerr != nil {
		logErrf("failed to close db: %v\n", cerr)
	}
}

func (a *app) controller(kind view.Kind, spec model.FilterSpec, year int) *view.Controller {
	return view.New(kind, a.gate, a.client,
		view.WithLocation(a.loc),
		view.WithCatalog(a.csps, a.categories),
		view.WithIngestPolicy(a.policy),
		view.WithLogger(a.logger.With("view", string(kind))),
		view.WithSpec(spec),
		view.WithYear(year),
	)
}

func newLogger(out *os.File) *slog.Logger {
	return logging.New(logging.Config{Level: logLevel, Format: logFormat, Output: out})
}

func runDashboardCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	applyStringConfig(cmd, "view", &dashboardView, fileCfg.Dashboard.View)
	applyIntConfig(cmd, "year", &dashboardYear, fileCfg.Dashboard.Year)

	initial, err := view.ParseKind(dashboardView)
	if err != nil {
		return fmt.Errorf("invalid --view value: %w", err)
	}
	format, err := export.ParseFormat(dashboardFormat)
	if err != nil {
		return fmt.Errorf("invalid --export-format value: %w", err)
	}

	// The alt screen owns the terminal, so logs go to a file.
	logPath := config.DefaultLogPath()
	if fileCfg.Log.File != nil && strings.TrimSpace(*fileCfg.Log.File) != "" {
		logPath = *fileCfg.Log.File
	}
	logFile, err := logging.OpenFile(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() {
		if cerr := logFile.Close(); cerr != nil {
			logErrf("failed to close log file: %v\n", cerr)
		}
	}()
	logger := newLogger(logFile)

	a, err := openApp(fileCfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrls := make([]dashboard.Controller, 0, len(view.Kinds))
	for _, kind := range view.Kinds {
		ctrls = append(ctrls, a.controller(kind, model.FilterSpec{}, dashboardYear))
	}
	dash := dashboard.NewModel(dashboard.Config{
		Controllers:  ctrls,
		Gate:         a.gate,
		Exports:      a.store,
		ExportDir:    config.DefaultExportDir(),
		ExportFormat: format,
		Formatter:    stats.NewFormatter(displayLocale),
		Logger:       logger,
		Context:      ctx,
		Initial:      initial,
	})
	program := tea.NewProgram(dash, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the views as JSON over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", server.DefaultAddr, "listen address")
	cmd.Flags().BoolVar(&serveMetrics, "metrics", true, "expose Prometheus metrics on /metrics")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	applyStringConfig(cmd, "addr", &serveAddr, fileCfg.Serve.Addr)
	applyBoolConfig(cmd, "metrics", &serveMetrics, fileCfg.Serve.Metrics)

	logger := newLogger(os.Stderr)
	a, err := openApp(fileCfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv, err := server.New(server.Config{
		Addr:          serveAddr,
		EnableMetrics: serveMetrics,
		Exports:       a.store,
		Logger:        logger,
		NewController: func(kind view.Kind) server.Controller {
			return a.controller(kind, model.FilterSpec{}, 0)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// filterFlags binds the filter flags shared by report and export.
type filterFlags struct {
	csps         string
	categories   string
	start        string
	end          string
	compareStart string
	compareEnd   string
	year         int
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.csps, "csp", "", "comma separated CSPs")
	cmd.Flags().StringVar(&f.categories, "category", "", "comma separated categories")
	cmd.Flags().StringVar(&f.start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.compareStart, "start-compare", "", "comparison start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.compareEnd, "end-compare", "", "comparison end date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.year, "year", 0, "overview year (default: current year)")
}

func (f filterFlags) spec(loc *time.Location) (model.FilterSpec, error) {
	return filter.ParseSpec(filter.Input{
		CSPs:         f.csps,
		Categories:   f.categories,
		Start:        f.start,
		End:          f.end,
		CompareStart: f.compareStart,
		CompareEnd:   f.compareEnd,
	}, loc)
}

// loadView builds a controller for kind and fetches its records.
func (a *app) loadView(ctx context.Context, kind view.Kind, flags filterFlags) (*view.Controller, view.Snapshot, error) {
	spec, err := flags.spec(a.loc)
	if err != nil {
		return nil, view.Snapshot{}, err
	}
	ctrl := a.controller(kind, spec, flags.year)
	snap, err := ctrl.Load(ctx)
	if err != nil {
		return nil, view.Snapshot{}, loadError(err)
	}
	return ctrl, snap, nil
}

func loadError(err error) error {
	if errors.Is(err, session.ErrNotAuthenticated) {
		lines := []string{
			fmt.Sprintf("failed to load view: %v", err),
			"Run: panier login",
		}
		return fmt.Errorf("%s", strings.Join(lines, "\n"))
	}
	return fmt.Errorf("failed to load view: %w", err)
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# panier configuration
# Uncomment a value to enable it. CLI flags override config values.

[api]
# base-url = %q
# timeout = "30s"          # Backend request timeout (default: none)

[dashboard]
# view = %q          # Initial view: overview, csp-by-category, category-by-csp, average-basket, peak-times
# year = 2024              # Overview year (default: current year)
# timezone = "Europe/Paris" # Time zone for date bounds, months and hours (default: local)

[catalog]
# csps = [%s]
# categories = [%s]

[ingest]
# strict = false           # Reject records whose amount or quantity does not parse

[log]
# level = %q
# format = %q              # text or json
# file = %q

[serve]
# addr = %q
# metrics = true

[display]
# color = %q               # auto, always or never
# width = 0                # Report width (0: terminal width)
# locale = %q
`,
		api.DefaultBaseURL,
		defaultView,
		quoteList(model.DefaultCSPs),
		quoteList(model.DefaultCategories),
		defaultLogLevel,
		defaultLogFormat,
		config.DefaultLogPath(),
		server.DefaultAddr,
		defaultColor,
		stats.DefaultLocale,
	)
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, ", ")
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
