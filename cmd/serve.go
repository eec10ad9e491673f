// =============================================================================
// ICBU Broker - Serve Command
// =============================================================================
//
// COMMAND USAGE:
//   broker serve [--addr host:port]
//
// STARTUP:
//   1. Load configuration and logging
//   2. Open the token/task store (memory or Redis)
//   3. Build the Alibaba client, token service and product flow
//   4. Build the yt-dlp downloader and the task manager
//   5. Serve HTTP until SIGINT/SIGTERM, then drain requests and tasks
//
// =============================================================================

package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/alibaba"
	"github.com/billlvtech/icbu-broker/internal/api"
	"github.com/billlvtech/icbu-broker/internal/config"
	"github.com/billlvtech/icbu-broker/internal/storage"
	"github.com/billlvtech/icbu-broker/internal/youtube"
	"github.com/billlvtech/icbu-broker/pkg/utils"
)

// shutdownGrace bounds how long requests and downloads may drain.
const shutdownGrace = 15 * time.Second

// addr overrides server.host/server.port.
var addr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API serving /api/alibaba, /api/alibaba_debug and
/api/youtube. The server stops gracefully on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()
		logConfig(cfg, logger)
		return runServe(cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.host and server.port)")
}

func runServe(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.Server.Mode)

	store, err := storage.Open(ctx, storage.Options{
		Backend:       cfg.Store.Backend,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}
	logger.Info("Store ready", zap.String("backend", cfg.Store.Backend))

	client := alibaba.NewClient(cfg.Alibaba, logger)
	tokens := alibaba.NewTokenService(store, client, cfg.Store.TokenPrefix, cfg.Store.DefaultTokenTTL, logger)
	flow := alibaba.NewFlow(alibaba.NewService(client, logger), alibaba.FlowOptions{
		DefaultCategoryID: cfg.Alibaba.DefaultCategoryID,
		Language:          cfg.Alibaba.Language,
		DescriptionFormat: cfg.Alibaba.DescriptionFormat,
	}, logger)

	downloads := newDownloader(cfg, logger)
	tasks := youtube.NewManager(store, downloads, youtube.ManagerOptions{
		KeyPrefix: cfg.Store.TaskPrefix,
		TTL:       cfg.Store.TaskTTL,
	}, logger)

	if cfg.YouTube.Retention > 0 {
		go runJanitor(ctx, downloads.Files(), cfg.YouTube.Retention, logger)
	}

	router := api.NewRouter(api.Deps{
		OAuth:           client,
		Caller:          client,
		Tokens:          tokens,
		Flow:            flow,
		Tasks:           tasks,
		Files:           downloads,
		DefaultSellerID: cfg.Alibaba.DefaultSellerID,
		DefaultQuality:  cfg.YouTube.DefaultQuality,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		Logger:          logger,
	})

	listen := cfg.Server.Addr()
	if addr != "" {
		listen = addr
	}
	serveErr := api.Serve(ctx, listen, router, shutdownGrace, logger)

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := tasks.Shutdown(drainCtx); err != nil {
		logger.Warn("Downloads did not finish before shutdown", zap.Error(err))
	}
	return serveErr
}

func newDownloader(cfg *config.Config, logger *zap.Logger) *youtube.Service {
	return youtube.NewService(youtube.Options{
		DownloadDir: cfg.YouTube.DownloadDir,
		Proxy:       cfg.YouTube.Proxy,
	}, youtube.ExecRunner{Binary: cfg.YouTube.Binary}, logger)
}

// runJanitor removes expired download directories once an hour, or once per
// retention period when that is shorter.
func runJanitor(ctx context.Context, files *utils.FileManager, retention time.Duration, logger *zap.Logger) {
	interval := time.Hour
	if retention < interval {
		interval = retention
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := files.CleanOlderThan(retention, now)
			if err != nil {
				logger.Warn("Download cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("Removed expired downloads", zap.Int("count", removed))
			}
		}
	}
}
