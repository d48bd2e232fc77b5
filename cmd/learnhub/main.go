package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/learnhub/learnhub/internal/assessment"
	"github.com/learnhub/learnhub/internal/content"
	"github.com/learnhub/learnhub/internal/dictionary"
	"github.com/learnhub/learnhub/internal/handler"
	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/llm"
	"github.com/learnhub/learnhub/internal/llm/prompts"
	"github.com/learnhub/learnhub/internal/metrics"
	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/quiz"
	"github.com/learnhub/learnhub/internal/session"
	"github.com/learnhub/learnhub/internal/store"
)

func main() {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "learnhub",
		Short: "Language learning platform with level tests, quizzes and an AI tutor",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `learnhub --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "learnhub.db", "SQLite path or PostgreSQL DSN")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSlice("level-questions", nil, "Level-test question files to import (repeatable)")
	f.StringSlice("quizzes", nil, "Quiz files to import (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Int("llm-max-tokens", 512, "Maximum tokens per tutor reply")
	f.String("tutor-style", string(prompts.StyleFriendly), "Tutor persona (friendly, strict, immersive)")
	f.String("dictionary-url", dictionary.DefaultBaseURL, "Dictionary API base URL (empty string disables lookups)")
	f.StringP("lang", "l", "en", "Default UI language (en, es)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /es)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set LEARNHUB_ADMIN_PASSWORD)")
	f.Bool("allow-register", false, "Allow learners to create their own accounts")
	f.String("state-backend", string(session.BackendSQL), "Where in-progress level tests live (sql, redis, memory)")
	f.String("redis-addr", "localhost:6379", "Redis address for the redis state backend")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.Duration("state-ttl", 24*time.Hour, "How long an untouched level test is kept")
	f.Duration("quiz-cooldown", quiz.DefaultCooldown, "Minimum time between finishing a quiz and retaking it")
	f.Duration("attempt-ttl", 7*24*time.Hour, "In-progress quiz attempts older than this expire (0 disables)")
	f.String("cors-origins", "", "Comma-separated origins allowed to call /api (empty allows any)")
	f.Bool("metrics", true, "Serve Prometheus metrics at /metrics")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export level-test and quiz results as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("LEARNHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("learnhub")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/learnhub")
	v.AddConfigPath("/etc/learnhub")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	driver := store.Driver(strings.ToLower(v.GetString("db-driver")))
	db, err := store.Open(ctx, driver, v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// openState picks the key/value backend for level tests and dictionary caching.
func openState(ctx context.Context, v *viper.Viper, db *store.Store) (session.StateStore, func(), error) {
	backend, err := session.ParseBackend(strings.ToLower(v.GetString("state-backend")))
	if err != nil {
		return nil, nil, err
	}
	switch backend {
	case session.BackendRedis:
		rs, err := session.NewRedisStore(ctx, v.GetString("redis-addr"), v.GetString("redis-password"), v.GetInt("redis-db"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return rs, func() { rs.Close() }, nil
	case session.BackendMemory:
		slog.Warn("level tests are kept in memory and will not survive a restart")
		return session.NewMemoryStore(), func() {}, nil
	default:
		return db, func() {}, nil
	}
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if err := prompts.LoadDefault(); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	state, closeState, err := openState(ctx, v, db)
	if err != nil {
		return err
	}
	defer closeState()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	importer := content.NewImporter(db)
	if err := importFiles(ctx, importer, content.KindLevelQuestions, v.GetStringSlice("level-questions")); err != nil {
		return err
	}
	if err := importFiles(ctx, importer, content.KindQuizzes, v.GetStringSlice("quizzes")); err != nil {
		return err
	}

	style := strings.ToLower(strings.TrimSpace(v.GetString("tutor-style")))
	if !prompts.IsValidStyle(style) {
		slog.Warn("invalid tutor-style, using friendly", "style", style)
		style = string(prompts.StyleFriendly)
	}
	tutor := llm.New(llm.Config{
		BaseURL:   v.GetString("llm-url"),
		APIKey:    v.GetString("llm-key"),
		Model:     v.GetString("llm-model"),
		MaxTokens: v.GetInt("llm-max-tokens"),
		Style:     prompts.TutorStyle(style),
	}, m)

	var dict handler.Dictionary
	if u := v.GetString("dictionary-url"); u != "" {
		dict = dictionary.New(u, state)
	}

	basePath := normalizeBasePath(v.GetString("base-path"))
	cfg := model.AppConfig{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		QuizCooldown:  v.GetDuration("quiz-cooldown"),
		AttemptTTL:    v.GetDuration("attempt-ttl"),
		AllowRegister: v.GetBool("allow-register"),
	}

	h, err := handler.New(handler.Deps{
		Store:  db,
		Levels: assessment.New(db, assessment.NewSessions(state, v.GetDuration("state-ttl")), m),
		Quizzes: quiz.NewEngine(db, m, quiz.Options{
			Cooldown:   cfg.QuizCooldown,
			AttemptTTL: cfg.AttemptTTL,
		}),
		Importer:    importer,
		Tutor:       tutor,
		Dictionary:  dict,
		Metrics:     m,
		Config:      cfg,
		CORSOrigins: handler.ParseOrigins(v.GetString("cors-origins")),
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(appI18n.Middleware)

	if v.GetBool("metrics") {
		r.Handle("/metrics", m.Handler())
	}
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Group(func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	}

	go cleanupSessions(ctx, db, time.Hour)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db_driver", v.GetString("db-driver"),
			"state_backend", v.GetString("state-backend"),
			"model", v.GetString("llm-model"),
			"llm_url", v.GetString("llm-url"),
			"tutor_style", style,
			"lang", lang,
			"base_path", basePath,
			"quiz_cooldown", cfg.QuizCooldown,
			"attempt_ttl", cfg.AttemptTTL,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func importFiles(ctx context.Context, im *content.Importer, kind content.Kind, paths []string) error {
	for _, path := range paths {
		if _, err := im.ImportFile(ctx, kind, path); err != nil {
			return fmt.Errorf("import %s: %w", kind, err)
		}
	}
	return nil
}

func cleanupSessions(ctx context.Context, db *store.Store, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := db.CleanupExpiredSessions(ctx); err != nil {
				slog.Warn("failed to clean up expired sessions", "error", err)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportResults(ctx)
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	slog.Info("exported results", "learners", len(export.Learners),
		"level_tests", export.LevelTests, "quiz_results", export.QuizResults)
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or LEARNHUB_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
