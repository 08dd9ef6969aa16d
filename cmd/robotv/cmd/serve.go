package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pipelka/robotv-go/internal/cache"
	"github.com/pipelka/robotv-go/internal/config"
	"github.com/pipelka/robotv-go/internal/database"
	"github.com/pipelka/robotv-go/internal/device"
	"github.com/pipelka/robotv-go/internal/observability"
	"github.com/pipelka/robotv-go/internal/repository"
	"github.com/pipelka/robotv-go/internal/server"
	"github.com/pipelka/robotv-go/internal/startup"
)

var deviceBackend string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the robotv server",
	Long: `Start the robotv TCP server.

The server accepts client sessions on the configured listen port,
streams live channels from the configured capture backend and keeps a
per-session on-disk timeshift buffer.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 34892, "Port to listen on")
	serveCmd.Flags().String("timeshift-dir", "/video", "Directory for timeshift ring buffers")
	serveCmd.Flags().String("database", "storage.db", "Channel cache database DSN")
	serveCmd.Flags().StringVar(&deviceBackend, "device-backend", "", "Capture backend to use (empty: first registered)")

	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("timeshift.dir", serveCmd.Flags().Lookup("timeshift-dir"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
}

func runServe(cmd *cobra.Command, args []string) error {
	// the global viper instance carries the cobra-bound flags
	cfg, err := config.LoadWith(viper.GetViper(), cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	// remove ring buffer files of prior runs
	if removed, err := startup.RemoveStaleRingBuffers(logger, cfg.Timeshift.Dir); err == nil && removed > 0 {
		logger.Info("cleaned stale timeshift files on startup",
			slog.Int("removed_count", removed))
	}

	// channel metadata cache
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := repository.Migrate(db.DB); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	channelRepo := repository.NewChannelStreamRepository(db.DB)
	channelCache := cache.NewChannelCache(channelRepo, logger)
	defer channelCache.Flush()

	// capture backend
	backend, err := openBackend(logger)
	if err != nil {
		return err
	}

	metrics := server.NewMetrics(prometheus.NewRegistry())

	listener, err := server.NewListener(cfg.Server, &server.SessionDeps{
		Devices:       backend.Devices(),
		Channels:      backend.Channels(),
		Recordings:    backend.Recordings(),
		Cache:         channelCache,
		TimeshiftDir:  cfg.Timeshift.Dir,
		TimeshiftSize: cfg.Timeshift.MaxSize,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("timeshift configuration",
		slog.String("dir", cfg.Timeshift.Dir),
		slog.Int64("max_size", cfg.Timeshift.MaxSize))

	return listener.Run(ctx)
}

// openBackend resolves the capture backend: the configured one, the first
// registered one, or the unavailable stub.
func openBackend(logger *slog.Logger) (device.Backend, error) {
	if deviceBackend != "" {
		return device.Open(deviceBackend)
	}

	registered := device.Registered()
	if len(registered) > 0 {
		logger.Info("using capture backend", slog.String("backend", registered[0]))
		return device.Open(registered[0])
	}

	logger.Warn("no capture backend registered - channel switches will fail as unknown channels")
	return device.Unavailable{}, nil
}
