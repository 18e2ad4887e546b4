package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nuetzliches/sbinspect/internal/activity"
	"github.com/nuetzliches/sbinspect/internal/api"
	"github.com/nuetzliches/sbinspect/internal/config"
	"github.com/nuetzliches/sbinspect/internal/inspector"
	"github.com/nuetzliches/sbinspect/internal/servicebus"
	"github.com/nuetzliches/sbinspect/internal/uistate"
)

const shutdownTimeout = 5 * time.Second

var errUsage = errors.New("usage error")

type serveOptions struct {
	Listen           string
	GRPCListen       string
	ScenariosPath    string
	Watch            bool
	StateDB          string
	StatePostgresDSN string
	NATSURL          string
	CORSOrigins      []string
	RateLimit        float64
	RateBurst        int
	LogLevel         string
	LogFormat        string
	DotenvPath       string
	PIDFile          string
	Tracing          tracingConfig

	// dial is replaced in tests.
	dial servicebus.Dialer
}

// serveAddrs reports the bound listener addresses once serving.
type serveAddrs struct {
	HTTP string
	GRPC string
}

func parseServeFlags(args []string, stderr io.Writer) (serveOptions, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts serveOptions
	fs.StringVar(&opts.Listen, "listen", ":5000", "HTTP listen address")
	fs.StringVar(&opts.GRPCListen, "grpc-listen", "", "gRPC health listen address (disabled when empty)")
	fs.StringVar(&opts.ScenariosPath, "scenarios", "", "path to a scenarios YAML file")
	fs.BoolVar(&opts.Watch, "watch", false, "reload the scenarios file on change")
	fs.StringVar(&opts.StateDB, "state-db", "", "persist UI state to a sqlite file")
	fs.StringVar(&opts.StatePostgresDSN, "state-postgres-dsn", "", "persist UI state to Postgres")
	fs.StringVar(&opts.NATSURL, "nats-url", "", "fan activity out over NATS")
	corsOrigins := fs.String("cors-origins", strings.Join(api.DefaultAllowedOrigins, ","), "comma-separated allowed origins, * for any")
	fs.Float64Var(&opts.RateLimit, "rate-limit", 0, "API requests per second (0 disables)")
	fs.IntVar(&opts.RateBurst, "rate-burst", 0, "API burst size (defaults to the rate)")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	fs.StringVar(&opts.LogFormat, "log-format", "json", "log format (json|text)")
	fs.StringVar(&opts.DotenvPath, "dotenv", "", "load environment variables from file (dev only)")
	fs.StringVar(&opts.PIDFile, "pid-file", "", "write process PID to file")
	fs.StringVar(&opts.Tracing.Endpoint, "tracing-endpoint", "", "OTLP/HTTP collector URL (disabled when empty)")
	fs.BoolVar(&opts.Tracing.Insecure, "tracing-insecure", false, "use plain HTTP for the collector")
	tracingHeaders := fs.String("tracing-headers", "", "comma-separated name=value headers for the collector")
	fs.DurationVar(&opts.Tracing.Timeout, "tracing-timeout", 0, "collector export timeout")
	fs.StringVar(&opts.Tracing.CAFile, "tracing-ca-file", "", "CA bundle for the collector")
	fs.StringVar(&opts.Tracing.ServerName, "tracing-server-name", "", "TLS server name for the collector")
	fs.BoolVar(&opts.Tracing.InsecureSkipVerify, "tracing-insecure-skip-verify", false, "skip collector certificate verification")
	if err := fs.Parse(args); err != nil {
		return serveOptions{}, errUsage
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "serve: unexpected positional arguments")
		return serveOptions{}, errUsage
	}

	opts.CORSOrigins = splitCSV(*corsOrigins)
	headers, err := parseHeaderList(*tracingHeaders)
	if err != nil {
		fmt.Fprintf(stderr, "serve: --tracing-headers: %v\n", err)
		return serveOptions{}, errUsage
	}
	opts.Tracing.Headers = headers

	if opts.StateDB != "" && opts.StatePostgresDSN != "" {
		fmt.Fprintln(stderr, "serve: --state-db and --state-postgres-dsn are mutually exclusive")
		return serveOptions{}, errUsage
	}
	if opts.Watch && opts.ScenariosPath == "" {
		fmt.Fprintln(stderr, "serve: --watch requires --scenarios")
		return serveOptions{}, errUsage
	}
	if _, err := newAPILimiter(opts.RateLimit, opts.RateBurst); err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return serveOptions{}, errUsage
	}
	return opts, nil
}

func serveCmd(args []string) int {
	opts, err := parseServeFlags(args, os.Stderr)
	if err != nil {
		return 2
	}

	logger, err := newLogger(opts.LogLevel, opts.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	slog.SetDefault(logger)

	releasePIDFile, err := claimPIDFile(opts.PIDFile)
	if err != nil {
		logger.Error("pid_file_failed", slog.Any("err", err))
		return 1
	}
	defer releasePIDFile()

	if opts.DotenvPath != "" {
		keys, err := loadDotenv(opts.DotenvPath)
		if err != nil {
			logger.Error("dotenv_failed", slog.Any("err", err))
			return 1
		}
		logger.Debug("dotenv_loaded", slog.Int("keys", len(keys)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runServer(ctx, opts, logger, nil); err != nil {
		logger.Error("serve_failed", slog.Any("err", err))
		return 1
	}
	return 0
}

// runServer blocks until ctx is done or a listener fails.
func runServer(ctx context.Context, opts serveOptions, logger *slog.Logger, ready func(serveAddrs)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	set, res, err := config.Load(opts.ScenariosPath, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("load scenarios: %w", err)
	}
	if !res.OK {
		return fmt.Errorf("scenarios: %s", config.FormatValidationText(res))
	}
	for _, w := range res.Warnings {
		logger.Warn("scenarios_warning", slog.String("warning", w))
	}
	provider := config.NewProvider(set)
	logger.Info("scenarios_ok", slog.Int("scenarios", len(set.Scenarios)))

	metrics := newRuntimeMetrics()

	if opts.Tracing.enabled() {
		shutdownTracing, err := initTracing(ctx, opts.Tracing, func(err error) {
			metrics.incTracingExportErrors()
			logger.Error("tracing_export_failed", slog.Any("err", err))
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		metrics.setTracingEnabled(true)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			_ = shutdownTracing(sctx)
		}()
		logger.Info("tracing_enabled")
	}

	store, backend, err := openStateStore(opts)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = store.Close() }()
	logger.Info("state_backend_selected", slog.String("backend", backend))

	bus, busKind, err := openActivityBus(opts, logger)
	if err != nil {
		return fmt.Errorf("open activity bus: %w", err)
	}
	defer func() { _ = bus.Close() }()
	logger.Info("activity_bus_selected", slog.String("bus", busKind))

	stopRecording, err := uistate.Record(bus, store, logger)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	defer stopRecording()

	health := newHealthReporter()

	dial := opts.dial
	if dial == nil {
		dial = servicebus.DialAzure
	}
	svc := inspector.NewService(dial)
	svc.Entities = func() []string { return provider.Defaults().Entities() }
	svc.Activity = bus
	svc.Logger = logger
	svc.ObserveOperation = metrics.observeOperation
	svc.ObserveMessages = metrics.observeMessages
	svc.ObserveConnection = func(info inspector.ConnectionInfo, connected bool) {
		metrics.observeConnection(info, connected)
		health.observeConnection(info, connected)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		_ = svc.Close(sctx)
	}()

	limiter, err := newAPILimiter(opts.RateLimit, opts.RateBurst)
	if err != nil {
		return err
	}

	apiServer := api.NewServer(svc, provider, store)
	apiServer.Bus = bus
	apiServer.Logger = logger
	apiServer.Limiter = limiter
	apiServer.Metrics = metrics.handler()
	apiServer.ObserveRequest = metrics.observeRequest
	if len(opts.CORSOrigins) > 0 {
		apiServer.AllowedOrigins = opts.CORSOrigins
	}

	handler := withAccessLog(logger, wrapTracingHandler(opts.Tracing.enabled(), "sbinspect", apiServer.Handler()))
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", opts.Listen, err)
	}
	serveOnListener(logger, "api", srv, ln, cancel)
	logger.Info("http_listening", slog.String("addr", ln.Addr().String()))
	addrs := serveAddrs{HTTP: ln.Addr().String()}

	if opts.GRPCListen != "" {
		stopHealth, addr, err := startHealthServer(opts.GRPCListen, health, logger, cancel)
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("grpc listen %s: %w", opts.GRPCListen, err)
		}
		defer stopHealth()
		addrs.GRPC = addr.String()
	}

	var reloadMu sync.Mutex
	reloadNow := func(trigger string) {
		if opts.ScenariosPath == "" {
			logger.Info("scenarios_reload_skipped", slog.String("trigger", trigger))
			return
		}
		reloadMu.Lock()
		defer reloadMu.Unlock()
		metrics.observeReload(reloadScenarios(opts.ScenariosPath, provider, logger, trigger))
	}

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				reloadNow("signal_sighup")
			}
		}
	}()
	if opts.Watch {
		go watchScenarios(ctx, opts.ScenariosPath, logger, func() {
			reloadNow("watch")
		})
	}

	if ready != nil {
		ready(addrs)
	}

	<-ctx.Done()
	logger.Info("shutdown_started")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", slog.Any("err", err))
	}
	return nil
}

func openStateStore(opts serveOptions) (uistate.Store, string, error) {
	switch {
	case opts.StatePostgresDSN != "":
		s, err := uistate.NewPostgresStore(opts.StatePostgresDSN)
		if err != nil {
			return nil, "", err
		}
		return s, "postgres", nil
	case opts.StateDB != "":
		s, err := uistate.NewSQLiteStore(opts.StateDB)
		if err != nil {
			return nil, "", err
		}
		return s, "sqlite", nil
	default:
		return uistate.NewMemoryStore(), "memory", nil
	}
}

func openActivityBus(opts serveOptions, logger *slog.Logger) (activity.Bus, string, error) {
	if opts.NATSURL == "" {
		return activity.NewMemoryBus(), "memory", nil
	}
	b, err := activity.NewNATSBus(activity.NATSConfig{URL: opts.NATSURL}, logger)
	if err != nil {
		return nil, "", err
	}
	return b, "nats", nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
