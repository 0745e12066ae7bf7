package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ddx/ddx/internal/config"
	"github.com/ddx/ddx/internal/domain/diagnosis"
	"github.com/ddx/ddx/internal/domain/extraction"
	"github.com/ddx/ddx/internal/domain/knowledge"
	"github.com/ddx/ddx/internal/domain/terminology"
	"github.com/ddx/ddx/internal/platform/auth"
	"github.com/ddx/ddx/internal/platform/db"
	"github.com/ddx/ddx/internal/platform/middleware"
	"github.com/ddx/ddx/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ddx-server",
		Short: "Differential diagnosis ranking server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(kbCmd())
	rootCmd.AddCommand(diagnoseCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the diagnosis API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL knowledge base schema",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required to run migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required to inspect migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func kbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}

	cmd.AddCommand(kbLoadCmd())
	cmd.AddCommand(kbImportCmd())
	cmd.AddCommand(kbSeedCmd())
	cmd.AddCommand(kbStatsCmd())
	return cmd
}

func kbLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Compile a knowledge base file and report what it contains",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			rows, err := knowledge.LoadFile(file)
			if err != nil {
				return err
			}
			base, err := knowledge.Compile(rows)
			if err != nil {
				return err
			}

			printStats(file, base.Stats())
			return nil
		},
	}
	cmd.Flags().String("file", "", "Knowledge base file (.xlsx, .csv, .yaml or .yml)")
	return cmd
}

func kbImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a knowledge base file into a persistent store",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			target, _ := cmd.Flags().GetString("to")
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if target == "" {
				target = cfg.KBSource
			}

			rows, err := knowledge.LoadFile(file)
			if err != nil {
				return err
			}
			// Compile first so structural errors surface before the store
			// is touched.
			base, err := knowledge.Compile(rows)
			if err != nil {
				return err
			}

			ctx := context.Background()
			repo, cleanup, err := openStore(ctx, cfg, target)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := repo.ReplaceRows(ctx, rows); err != nil {
				return fmt.Errorf("import rows: %w", err)
			}

			fmt.Printf("Imported %d row(s) (%d compiled profiles) into %s.\n", len(rows), base.Len(), target)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Knowledge base file (.xlsx, .csv, .yaml or .yml)")
	cmd.Flags().String("to", "", "Target store: postgres or sqlite (defaults to KB_SOURCE)")
	return cmd
}

func kbSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write the built-in demo knowledge base to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				return fmt.Errorf("--out is required")
			}

			if err := knowledge.WriteDemo(out); err != nil {
				return err
			}
			fmt.Printf("Wrote %d demo disease profile(s) to %s.\n", len(knowledge.DemoRows()), out)
			return nil
		},
	}
	cmd.Flags().String("out", "", "Output file (.csv, .yaml or .yml)")
	return cmd
}

func kbStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show statistics for the configured knowledge base source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			base, err := loadBase(context.Background(), cfg)
			if err != nil {
				return err
			}

			printStats(kbSourceLabel(cfg), base.Stats())
			return nil
		},
	}
}

func diagnoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Rank diseases against findings from the terminal",
		Long: `Rank diseases against clinical findings described in free text.

With --text the differential is printed once; without it an interactive
prompt reads one observation per line until "quit".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _ := cmd.Flags().GetString("text")
			return runDiagnose(text)
		},
	}
	cmd.Flags().String("text", "", "Free-text findings; omit to start the interactive prompt")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ddx-server %s\n", version)
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Telemetry: Prometheus metrics always, in-memory span recording only in
	// development.
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "ddx-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		TracingEnabled: telemetry.BoolPtr(cfg.IsDev()),
	})
	defer tp.Shutdown(ctx)

	// Knowledge base
	reload, pool, cleanup, err := buildReload(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("source", cfg.KBSource).Msg("failed to open knowledge base source")
	}
	defer cleanup()
	if pool != nil {
		logger.Info().Msg("connected to database")
	}
	reload = instrumentedReload(cfg.KBSource, reload, tp)

	holder := knowledge.NewHolder()
	base, err := reload(ctx)
	if err != nil {
		logger.Fatal().Err(err).Str("source", cfg.KBSource).Msg("failed to load knowledge base")
	}
	holder.Swap(base)

	stats := base.Stats()
	logger.Info().
		Str("source", cfg.KBSource).
		Str("fingerprint", stats.Fingerprint).
		Int("diseases", stats.Diseases).
		Int("findings", stats.Findings).
		Msg("knowledge base loaded")
	if stats.Degenerate > 0 {
		logger.Warn().Int("count", stats.Degenerate).Msg("knowledge base has profiles with no expected findings")
	}

	// Background workers
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.KBWatch {
		watcher := knowledge.NewWatcher(cfg.KBPath, holder, logger).
			Notify(func(b *knowledge.Base, err error) {
				if err != nil {
					tp.KBReloadCounter(cfg.KBSource, "error")
					return
				}
				tp.KBReloadCounter(cfg.KBSource, "ok")
				publishKBGauges(tp, b)
			})
		go func() {
			if err := watcher.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("knowledge base watcher stopped")
			}
		}()
		logger.Info().Str("path", cfg.KBPath).Msg("watching knowledge base file for changes")
	}

	if pool != nil {
		go samplePoolMetrics(bgCtx, pool, tp.HealthMetrics())
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M"))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(tp.MetricsMiddleware())
	e.Use(tp.TracingMiddleware())

	// Auth middleware
	switch cfg.ResolvedAuthMode() {
	case "development":
		logger.Warn().Msg("development auth mode: every request is granted the admin role")
		logger.Warn().Msg("set ENV=production and AUTH_JWT_SECRET before exposing this server")
		e.Use(auth.DevAuthMiddleware())
	case "token":
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthJWTSecret),
			Skipper:    auth.AuthSkipper,
		}))
	default: // open
		logger.Warn().Msg("authentication disabled: admin endpoints will reject every request")
	}

	// API routes
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	engine := diagnosis.NewEngine(cfg.RankParallelism)
	gazetteer := extraction.NewGazetteer(holder)
	dxSvc := diagnosis.NewService(holder, engine, gazetteer, logger).WithMetrics(tp)
	diagnosis.NewHandler(dxSvc).RegisterRoutes(apiV1)

	// Vocabulary reads change only on reload, so they get ETag revalidation.
	kbSvc := knowledge.NewService(holder, reload)
	kbGroup := apiV1.Group("", middleware.ETagMiddleware(middleware.DefaultCacheConfig()))
	knowledge.NewHandler(kbSvc).RegisterRoutes(kbGroup)

	// Health and operational endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", tp.PrometheusHandler())

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("kb_source", cfg.KBSource).
			Str("auth_mode", cfg.ResolvedAuthMode()).
			Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildReload builds the ReloadFunc for the configured knowledge-base source.
// For the postgres source the returned pool is non-nil and stays open until
// cleanup runs; the other sources release everything through cleanup alone.
func buildReload(ctx context.Context, cfg *config.Config) (knowledge.ReloadFunc, *pgxpool.Pool, func(), error) {
	switch cfg.KBSource {
	case "demo":
		return func(context.Context) (*knowledge.Base, error) {
			return knowledge.Compile(knowledge.DemoRows())
		}, nil, func() {}, nil
	case "file":
		path := cfg.KBPath
		return func(context.Context) (*knowledge.Base, error) {
			rows, err := knowledge.LoadFile(path)
			if err != nil {
				return nil, err
			}
			return knowledge.Compile(rows)
		}, nil, func() {}, nil
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, nil, err
		}
		return repoReload(knowledge.NewRepoPG(pool)), pool, pool.Close, nil
	case "sqlite":
		repo, err := knowledge.NewRepoSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return repoReload(repo), nil, func() { repo.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported knowledge base source %q", cfg.KBSource)
	}
}

// repoReload reads every stored row and compiles a fresh model.
func repoReload(repo knowledge.Repository) knowledge.ReloadFunc {
	return func(ctx context.Context) (*knowledge.Base, error) {
		rows, err := repo.LoadRows(ctx)
		if err != nil {
			return nil, err
		}
		return knowledge.Compile(rows)
	}
}

// instrumentedReload wraps a ReloadFunc with reload counters and, on success,
// fresh knowledge-base gauges.
func instrumentedReload(source string, fn knowledge.ReloadFunc, tp *telemetry.TelemetryProvider) knowledge.ReloadFunc {
	return func(ctx context.Context) (*knowledge.Base, error) {
		base, err := fn(ctx)
		if err != nil {
			tp.KBReloadCounter(source, "error")
			return nil, err
		}
		tp.KBReloadCounter(source, "ok")
		publishKBGauges(tp, base)
		return base, nil
	}
}

// publishKBGauges exposes the size of a compiled model on /metrics.
func publishKBGauges(tp *telemetry.TelemetryProvider, base *knowledge.Base) {
	stats := base.Stats()
	hm := tp.HealthMetrics()
	hm.SetKBDiseases(int64(stats.Diseases))
	hm.SetKBFindings(int64(stats.Findings))
}

// samplePoolMetrics publishes connection pool gauges until ctx is cancelled.
func samplePoolMetrics(ctx context.Context, pool *pgxpool.Pool, hm *telemetry.HealthMetricsRecorder) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			hm.SetDBPoolActive(int64(stat.AcquiredConns()))
			hm.SetDBPoolIdle(int64(stat.IdleConns()))
		}
	}
}

// loadBase compiles the knowledge base from the configured source once,
// releasing any store handles before returning. Used by the CLI commands;
// the server keeps its source open for reloads.
func loadBase(ctx context.Context, cfg *config.Config) (*knowledge.Base, error) {
	reload, _, cleanup, err := buildReload(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return reload(ctx)
}

// openStore opens the persistent row store named by target.
func openStore(ctx context.Context, cfg *config.Config, target string) (knowledge.Repository, func(), error) {
	switch target {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return knowledge.NewRepoPG(pool), pool.Close, nil
	case "sqlite":
		repo, err := knowledge.NewRepoSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("store must be \"postgres\" or \"sqlite\", got %q", target)
	}
}

// kbSourceLabel names the configured source for human-readable output.
func kbSourceLabel(cfg *config.Config) string {
	switch cfg.KBSource {
	case "file":
		return cfg.KBPath
	case "sqlite":
		return cfg.SQLitePath
	default:
		return cfg.KBSource
	}
}

// printStats reports compiled-model counts for the kb subcommands.
func printStats(source string, stats knowledge.Stats) {
	fmt.Printf("Source:      %s\n", source)
	fmt.Printf("Diseases:    %d\n", stats.Diseases)
	fmt.Printf("Findings:    %d\n", stats.Findings)
	fmt.Printf("Degenerate:  %d\n", stats.Degenerate)
	fmt.Printf("Fingerprint: %s\n", stats.Fingerprint)
}

// ==================== diagnose command ====================

// Terminal styles for the diagnose command.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	promptStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func runDiagnose(text string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	base, err := loadBase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load knowledge base: %w", err)
	}

	holder := knowledge.NewHolder()
	holder.Swap(base)

	svc := diagnosis.NewService(
		holder,
		diagnosis.NewEngine(cfg.RankParallelism),
		extraction.NewGazetteer(holder),
		zerolog.Nop(),
	)
	opts := diagnosis.Options{
		IncludeZeroMatches: cfg.IncludeZeroMatches,
		Limit:              cfg.RankLimit,
	}

	if text != "" {
		resp, err := svc.Query(ctx, &diagnosis.QueryRequest{Text: text, Options: opts})
		if err != nil {
			return err
		}
		fmt.Print(renderQuery(resp, cfg.ShowCodes))
		return nil
	}

	return runREPL(ctx, svc, base.Stats(), opts, cfg.ShowCodes)
}

// runREPL reads one observation per line from stdin and prints a rendered
// differential for each until EOF or "quit".
func runREPL(ctx context.Context, svc *diagnosis.Service, stats knowledge.Stats, opts diagnosis.Options, showCodes bool) error {
	fmt.Println(replBanner(stats))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("ddx> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}

		line := middleware.SanitizeString(strings.TrimSpace(scanner.Text()))
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		resp, err := svc.Query(ctx, &diagnosis.QueryRequest{Text: line, Options: opts})
		if err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
			continue
		}
		fmt.Print(renderQuery(resp, showCodes))
	}
}

// replBanner describes the loaded model and the prompt controls.
func replBanner(stats knowledge.Stats) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("ddx interactive differential"),
		mutedStyle.Render(fmt.Sprintf("knowledge base: %d diseases, %d findings (fingerprint %s)",
			stats.Diseases, stats.Findings, stats.Fingerprint)),
		mutedStyle.Render(`describe findings in free text, e.g. "chest pain and sweating"; "quit" to leave`),
	)
}

// renderQuery renders one free-text differential for the terminal.
func renderQuery(resp *diagnosis.QueryResponse, showCodes bool) string {
	var sections []string

	if len(resp.Extracted) == 0 {
		sections = append(sections,
			warnStyle.Render("no findings recognized in input"),
			"")
		return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
	}

	sections = append(sections, mutedStyle.Render("findings: ")+conceptList(resp.Extracted, showCodes))

	diff := resp.Differential
	if len(diff.Ranked) == 0 {
		sections = append(sections, warnStyle.Render("no diseases match the observed findings"))
	} else {
		sections = append(sections, renderTable(diff.Ranked, showCodes))
	}

	if full := diff.ExplainsAll(); len(full) > 0 {
		names := make([]string, 0, len(full))
		for _, c := range full {
			names = append(names, c.Disease.Display(showCodes))
		}
		sections = append(sections, successStyle.Render("explains all findings: ")+strings.Join(names, "; "))
	}

	if len(diff.Unexplained) > 0 {
		sections = append(sections, warnStyle.Render("unexplained: ")+conceptList(diff.Unexplained, showCodes))
	}

	if len(diff.Degenerate) > 0 {
		sections = append(sections, mutedStyle.Render(
			fmt.Sprintf("%d profile(s) skipped: no expected findings", len(diff.Degenerate))))
	}

	sections = append(sections, "")
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

// renderTable renders ranked candidates as a bordered table.
func renderTable(ranked []diagnosis.Candidate, showCodes bool) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("RANK", "DISEASE", "MATCH", "%", "MATCHED FINDINGS")

	for _, c := range ranked {
		t.Row(
			strconv.Itoa(c.Rank),
			c.Disease.Display(showCodes),
			fmt.Sprintf("%d/%d", c.MatchCount, c.ProfileSize),
			c.Percent,
			conceptList(c.Matched, showCodes),
		)
	}
	return t.String()
}

// conceptList joins concept display names for a table cell or summary line.
func conceptList(concepts []terminology.Concept, showCodes bool) string {
	names := make([]string, 0, len(concepts))
	for _, c := range concepts {
		names = append(names, c.Display(showCodes))
	}
	return strings.Join(names, ", ")
}
