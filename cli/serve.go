package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/aviary-labs/voxadmin/config"
	voxotel "github.com/aviary-labs/voxadmin/otel"
	"github.com/aviary-labs/voxadmin/registry"
	"github.com/aviary-labs/voxadmin/server"
	"github.com/aviary-labs/voxadmin/toolcfg"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the console HTTP server",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to voxadmin.yaml")
	cmd.Flags().IntP("port", "p", 0, "Listen port (overrides config)")
	cmd.Flags().String("host", "", "Listen host (overrides config)")
	cmd.Flags().String("registry-url", "", "Tool registry base URL (overrides config)")
	cmd.Flags().String("webhook-base-url", "", "Booking webhook base URL (overrides config)")
	cmd.Flags().String("sqlite-path", "", "Path to SQLite database (default: ~/.voxadmin/voxadmin.db)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().String("session-sweep", "@every 5m", "Cron schedule for reclaiming idle edit sessions")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}
	applyServeOverrides(cmd, &cfg)

	if cfg.Registry.BaseURL == "" {
		return exitError(exitValidation, "registry base URL is required (config registry.base_url or --registry-url)")
	}
	token, err := cfg.RegistryToken()
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	sqlitePath := cfg.SQLitePath
	if sqlitePath == "" {
		sqlitePath, err = config.DefaultSQLitePath()
		if err != nil {
			return exitError(exitRuntime, "%v", err)
		}
	}

	shutdownOtel, err := voxotel.Setup(cmd.Context(), voxotel.ProviderConfig{
		ServiceName: "voxadmin",
		Endpoint:    cfg.Otel.Endpoint,
		Insecure:    cfg.Otel.Insecure,
	})
	if err != nil {
		return exitError(exitRuntime, "initializing telemetry: %v", err)
	}
	defer func() {
		_ = shutdownOtel(context.Background())
	}()

	store, err := server.NewSQLiteStore(sqlitePath)
	if err != nil {
		return fmt.Errorf("opening sqlite agent store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	client, err := registry.NewClient(registry.ClientConfig{
		BaseURL: cfg.Registry.BaseURL,
		Tokens:  registry.StaticTokenSource(token),
	})
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}
	var gateway toolcfg.Gateway = client
	gateway, err = voxotel.NewGatewayMetrics(gateway,
		otelapi.GetMeterProvider().Meter("voxadmin/registry"),
		otelapi.GetTracerProvider().Tracer("voxadmin/registry"),
	)
	if err != nil {
		return exitError(exitRuntime, "initializing gateway metrics: %v", err)
	}

	saveObserver, err := voxotel.NewSaveObserver(otelapi.GetMeterProvider().Meter("voxadmin/toolcfg"))
	if err != nil {
		return exitError(exitRuntime, "initializing save metrics: %v", err)
	}

	sessions := server.NewSessionManager(time.Duration(cfg.SessionTTL))
	consoleServer := server.NewServer(server.ServerConfig{
		Store:          store,
		Gateway:        gateway,
		Sessions:       sessions,
		WebhookBaseURL: cfg.WebhookBaseURL,
		SaveObserver:   saveObserver,
		CORSOrigin:     cfg.Listen.CORSOrigin,
		MaxBody:        cfg.Listen.MaxBody,
	})

	// Idle edit sessions are reclaimed on a schedule rather than per request.
	sweepSchedule, _ := cmd.Flags().GetString("session-sweep")
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(sweepSchedule, func() {
		if reclaimed := sessions.Sweep(); reclaimed > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d idle session(s)\n", reclaimed)
		}
	}); err != nil {
		return exitError(exitValidation, "invalid session sweep schedule %q: %v", sweepSchedule, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")

	addr := net.JoinHostPort(cfg.Listen.Host, fmt.Sprintf("%d", cfg.Listen.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      consoleServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	// Signal handling
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "voxadmin console listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

func applyServeOverrides(cmd *cobra.Command, cfg *config.Config) {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Listen.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Listen.Port = port
	}
	if u, _ := cmd.Flags().GetString("registry-url"); u != "" {
		cfg.Registry.BaseURL = u
	}
	if u, _ := cmd.Flags().GetString("webhook-base-url"); u != "" {
		cfg.WebhookBaseURL = u
	}
	if p, _ := cmd.Flags().GetString("sqlite-path"); p != "" {
		cfg.SQLitePath = p
	}
}
