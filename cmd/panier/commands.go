package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/panier/internal/config"
	"github.com/verte-zerg/panier/internal/export"
	"github.com/verte-zerg/panier/internal/model"
	"github.com/verte-zerg/panier/internal/stats"
	"github.com/verte-zerg/panier/internal/store"
	"github.com/verte-zerg/panier/internal/view"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the backend",
		Args:  cobra.NoArgs,
		RunE:  runLoginCmd,
	}
	cmd.Flags().StringVar(&loginUser, "user", "", "username (prompted when empty)")
	cmd.Flags().StringVar(&loginPassword, "password", "", "password (prompted when empty)")
	return cmd
}

func runLoginCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(fileCfg, newLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer a.close()

	reader := bufio.NewReader(os.Stdin)
	username := strings.TrimSpace(loginUser)
	if username == "" {
		username, err = prompt(reader, "Utilisateur : ")
		if err != nil {
			return err
		}
	}
	password := loginPassword
	if password == "" {
		password, err = promptPassword(reader, "Mot de passe : ")
		if err != nil {
			return err
		}
	}
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}

	if err := a.gate.Login(cmd.Context(), username, password); err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Connecté en tant que %s\n", username); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	logErrf("%s", label)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(reader *bufio.Reader, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(reader, label)
	}
	logErrf("%s", label)
	secret, err := term.ReadPassword(fd)
	logErrln()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(secret), nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget stored tokens",
		Args:  cobra.NoArgs,
		RunE:  runLogoutCmd,
	}
}

func runLogoutCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(fileCfg, newLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.gate.Logout(cmd.Context()); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), "Déconnecté."); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a view's tables and charts",
		Args:  cobra.NoArgs,
		RunE:  runReportCmd,
	}
	cmd.Flags().StringVar(&reportView, "view", defaultView, "view to print")
	cmd.Flags().IntVar(&reportWidth, "width", 0, "output width (default: terminal width)")
	cmd.Flags().StringVar(&reportColor, "color", defaultColor, "color output (auto, always, never)")
	cmd.Flags().BoolVar(&reportNoCharts, "no-charts", false, "print tables only")
	reportFilters.bind(cmd)
	return cmd
}

func runReportCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	applyStringConfig(cmd, "view", &reportView, fileCfg.Dashboard.View)
	applyIntConfig(cmd, "year", &reportFilters.year, fileCfg.Dashboard.Year)
	applyStringConfig(cmd, "color", &reportColor, fileCfg.Display.Color)
	applyIntConfig(cmd, "width", &reportWidth, fileCfg.Display.Width)

	kind, err := view.ParseKind(reportView)
	if err != nil {
		return fmt.Errorf("invalid --view value: %w", err)
	}
	if reportWidth < 0 {
		return fmt.Errorf("--width must be >= 0")
	}
	width := reportWidth
	if width == 0 {
		width = stats.TerminalWidth()
	}

	a, err := openApp(fileCfg, newLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer a.close()

	_, snap, err := a.loadView(cmd.Context(), kind, reportFilters)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return stats.RenderSnapshot(out, snap, stats.RenderOptions{
		Width:     width,
		Color:     stats.UseColor(out, stats.ParseColorMode(reportColor)),
		NoCharts:  reportNoCharts,
		Formatter: stats.NewFormatter(displayLocale),
	})
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a view's filtered records to a spreadsheet",
		Args:  cobra.NoArgs,
		RunE:  runExportCmd,
	}
	cmd.Flags().StringVar(&exportView, "view", defaultView, "view whose records are exported")
	cmd.Flags().StringVar(&exportFormat, "format", defaultExportFormat, "file format (xlsx, csv)")
	cmd.Flags().StringVar(&exportOut, "out", "", "output path (default: <view>_data.<format>)")
	exportFilters.bind(cmd)
	return cmd
}

func runExportCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	applyIntConfig(cmd, "year", &exportFilters.year, fileCfg.Dashboard.Year)

	kind, err := view.ParseKind(exportView)
	if err != nil {
		return fmt.Errorf("invalid --view value: %w", err)
	}
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return fmt.Errorf("invalid --format value: %w", err)
	}
	path := exportPath(exportOut, kind, format)

	a, err := openApp(fileCfg, newLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer a.close()

	ctrl, _, err := a.loadView(cmd.Context(), kind, exportFilters)
	if err != nil {
		return err
	}
	records := ctrl.Filtered()

	bar := progressbar.Default(int64(len(records)), "export")
	rows, err := export.WriteFile(path, format, records, export.WithProgress(func(done, _ int) {
		if perr := bar.Set(done); perr != nil {
			// Best-effort progress output.
			_ = perr
		}
	}))
	_ = bar.Finish()
	if err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}

	rec := model.ExportRecord{
		View:       string(kind),
		Format:     string(format),
		Path:       path,
		Rows:       rows,
		ExportedAt: time.Now(),
	}
	if _, err := a.store.InsertExport(cmd.Context(), rec); err != nil {
		logErrf("failed to record export: %v\n", err)
	}
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Exporté : %s (%d lignes)\n", path, rows); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func exportPath(out string, kind view.Kind, format export.Format) string {
	if strings.TrimSpace(out) != "" {
		return out
	}
	return export.DefaultFilename(string(kind), format)
}

func newExportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "List recent exports",
		Args:  cobra.NoArgs,
		RunE:  runExportsCmd,
	}
	cmd.Flags().StringVar(&exportsView, "view", "", "view filter")
	cmd.Flags().IntVar(&exportsLimit, "limit", defaultExportsLimit, "number of exports to show (0: all)")
	return cmd
}

func runExportsCmd(cmd *cobra.Command, _ []string) error {
	if exportsLimit < 0 {
		return fmt.Errorf("--limit must be >= 0")
	}
	q := store.ExportQuery{Limit: exportsLimit}
	if exportsView != "" {
		kind, err := view.ParseKind(exportsView)
		if err != nil {
			return fmt.Errorf("invalid --view value: %w", err)
		}
		q.View = string(kind)
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	records, err := st.ListExports(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("failed to list exports: %w", err)
	}
	return stats.RenderExports(cmd.OutOrStdout(), records)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
