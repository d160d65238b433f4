package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"nhblease/config"
	"nhblease/core/types"
	"nhblease/gateway/middleware"
	"nhblease/observability/logging"
	telemetry "nhblease/observability/otel"
	"nhblease/services/leased/internal/secret"
	"nhblease/services/leased/journal"
	"nhblease/services/leased/node"
	"nhblease/services/leased/server"
	"nhblease/storage"
)

const secretEnv = "LEASED_HMAC_SECRET"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "leased token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "leased.toml", "path to the leased configuration file (toml or yaml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("leased: load config: %v", err)
	}
	env := cfg.Environment
	if v := strings.TrimSpace(os.Getenv("NHB_ENV")); v != "" {
		env = v
	}
	var logOpts []logging.Option
	if term.IsTerminal(int(os.Stdout.Fd())) {
		logOpts = append(logOpts, logging.WithText())
	}
	if cfg.LogFile != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.LogFile))
	}
	logger := logging.Setup("leased", env, logOpts...)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg, env))
	if err != nil {
		log.Fatalf("leased: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if cfg.Auth.Enabled {
		cfg.Auth.HMACSecret, err = secret.NewSource(secretEnv, "HMAC secret").Get(cfg.Auth.HMACSecret)
		if err != nil {
			log.Fatalf("leased: resolve auth secret: %v", err)
		}
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("leased stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	j, err := journal.Open(cfg.Journal.DSN)
	if err != nil {
		return err
	}
	defer j.Close()

	broker := server.NewBroker()
	hook := func(height uint64, events []types.Event) {
		if err := j.Append(context.Background(), height, events); err != nil {
			logger.Error("journal append failed", "component", "journal", "height", height, "error", err)
		}
		broker.Publish(height, events)
	}
	n, err := node.New(ctx, cfg, db, node.WithLogger(logger), node.WithCommitHook(hook))
	if err != nil {
		return err
	}
	srv, err := server.New(cfg, n, j, broker, logger)
	if err != nil {
		return err
	}

	go n.Run(ctx)
	logger.Info("leased started",
		"data_dir", cfg.DataDir,
		"journal", logging.MaskDSN(cfg.Journal.DSN),
		"keeper_interval", cfg.Keeper.Interval.Duration.String(),
		"auth", cfg.Auth.Enabled)
	return srv.Run(ctx)
}

func telemetryConfig(cfg *config.Config, env string) telemetry.Config {
	out := telemetry.Config{
		ServiceName: "leased",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		out.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")); v != "" {
		out.Headers = telemetry.ParseHeaders(v)
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			out.Insecure = parsed
		}
	}
	return out
}

// issueToken prints a bearer token for the operator endpoints.
func issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	cfgPath := fs.String("config", "leased.toml", "path to the leased configuration file")
	subject := fs.String("subject", "operator", "token subject")
	scopes := fs.String("scopes", middleware.ScopeAdmin, "comma separated scopes")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if !cfg.Auth.Enabled {
		return errors.New("auth is disabled in the configuration")
	}
	cfg.Auth.HMACSecret, err = secret.NewSource(secretEnv, "HMAC secret").Get(cfg.Auth.HMACSecret)
	if err != nil {
		return err
	}
	var list []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	token, err := middleware.NewAuthenticator(cfg.Auth, nil).Issue(*subject, *ttl, list...)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
