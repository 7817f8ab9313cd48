// Command hubd runs the fleet telemetry hub: the WebSocket broadcast
// server, the producer-facing ingest API, and the liveness sweep.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleettrace/hub/internal/auth"
	"fleettrace/hub/internal/config"
	"fleettrace/hub/internal/hub"
	"fleettrace/hub/internal/httpapi"
	"fleettrace/hub/internal/journal"
	"fleettrace/hub/internal/liveness"
	"fleettrace/hub/internal/logging"
	"fleettrace/hub/internal/notify"
	"fleettrace/hub/internal/registry"
	"fleettrace/hub/internal/stats"
	"fleettrace/hub/internal/ws"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "hubd",
	Short:         "Real-time fleet telemetry hub",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func main() {
	rootCmd.Version = Version
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serve() error {
	//1.- Configuration problems are fatal before anything is wired.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging setup failed: %w", err)
	}

	reg := registry.New()
	collector := stats.NewCollector(reg)
	verifier := auth.NewVerifier(cfg.IdentitySecret)
	if verifier.Insecure() {
		logger.Warn("identity secret unset; accepting unsigned tokens")
	}

	//2.- Optional collaborators degrade to nil rather than failing startup.
	var journalWriter *journal.Writer
	if cfg.JournalPath != "" {
		writer, manifest, err := journal.NewWriter(cfg.JournalPath, logger, nil)
		if err != nil {
			return fmt.Errorf("journal setup failed: %w", err)
		}
		journalWriter = writer
		logger.Info("delivery journal enabled",
			logging.String("directory", writer.Directory()),
			logging.String("created_at", manifest.CreatedAt))
	}
	fallback := notify.NewEmailNotifier(fallbackAddressLookup())

	broadcaster := hub.New(hub.Options{
		Registry:   reg,
		Stats:      collector,
		Logger:     logger,
		Journal:    journalOrNil(journalWriter),
		Fallback:   notifierOrNil(fallback),
		SendBuffer: cfg.SendBuffer,
	})

	monitor, err := liveness.New(liveness.Options{
		Registry:      reg,
		Reaper:        broadcaster,
		Logger:        logger,
		IdleThreshold: cfg.IdleThreshold,
		SweepInterval: cfg.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("liveness setup failed: %w", err)
	}
	monitor.Start()
	defer monitor.Stop()

	//3.- Periodic stats snapshots stream into the journal when enabled.
	stopStats := make(chan struct{})
	if journalWriter != nil {
		go journalStats(journalWriter, collector, broadcaster, cfg.JournalStatsInterval, stopStats, logger)
	}

	mux := http.NewServeMux()
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Hub:         broadcaster,
		Stats:       collector,
		IngestToken: cfg.IngestToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(time.Minute, 60, nil),
		Reaped:      monitor.Reaped,
	})
	handlers.Register(mux)
	mux.Handle("/ws", ws.NewHandler(ws.Options{
		Hub:             broadcaster,
		Verifier:        verifier,
		Logger:          logger,
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		PingInterval:    cfg.PingInterval,
	}))

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           logging.HTTPTraceMiddleware(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hub listening",
			logging.String("address", cfg.Address),
			logging.String("version", Version))
		if cfg.TLSCertPath != "" {
			errCh <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	//4.- Shut down cleanly on SIGINT/SIGTERM.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		logger.Info("shutdown requested", logging.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			close(stopStats)
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", logging.Error(err))
	}
	close(stopStats)
	if journalWriter != nil {
		if err := journalWriter.Close(); err != nil {
			logger.Error("journal close failed", logging.Error(err))
		}
	}
	logger.Info("hub stopped")
	return nil
}

// journalOrNil keeps the hub's Journal interface nil when no writer is
// configured, instead of a non-nil interface wrapping a nil pointer.
func journalOrNil(writer *journal.Writer) hub.Journal {
	if writer == nil {
		return nil
	}
	return writer
}

func notifierOrNil(notifier *notify.EmailNotifier) notify.Notifier {
	if notifier == nil {
		return nil
	}
	return notifier
}

// fallbackAddressLookup maps user ids onto the fallback mail domain from
// HUB_FALLBACK_DOMAIN. Without a domain no address resolves.
func fallbackAddressLookup() notify.AddressLookup {
	domain := strings.TrimSpace(os.Getenv("HUB_FALLBACK_DOMAIN"))
	return func(userID string) (string, bool) {
		if domain == "" || userID == "" {
			return "", false
		}
		return userID + "@" + domain, true
	}
}

// journalStats appends one stats snapshot per interval until stopped.
func journalStats(writer *journal.Writer, collector *stats.Collector, broadcaster *hub.Hub,
	interval time.Duration, stop <-chan struct{}, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snapshot := struct {
				TotalActive        int                 `json:"total_active"`
				TotalSubscriptions int                 `json:"total_subscriptions"`
				AvgSubscriptions   float64             `json:"avg_subscriptions"`
				Broadcasts         int64               `json:"broadcasts_total"`
				DroppedPushes      int64               `json:"dropped_pushes_total"`
				Process            stats.ProcessGauges `json:"process"`
			}{
				TotalActive:        collector.TotalActive(),
				TotalSubscriptions: collector.TotalSubscriptions(),
				AvgSubscriptions:   collector.AverageSubscriptionsPerSession(),
				Broadcasts:         broadcaster.Broadcasts(),
				DroppedPushes:      broadcaster.DroppedPushes(),
				Process:            collector.Process(),
			}
			payload, err := json.Marshal(snapshot)
			if err != nil {
				continue
			}
			if err := writer.AppendStats(payload); err != nil {
				logger.Error("journal stats append failed", logging.Error(err))
			}
		}
	}
}
