// =============================================================================
// ICBU Broker - YouTube Commands
// =============================================================================
//
// COMMAND USAGE:
//   broker youtube download <url> [--quality 720p]
//   broker youtube clean [--older-than 168h]
//
// Both commands work on youtube.download_dir directly, without the HTTP API
// or the task store.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	quality   string
	olderThan time.Duration
)

var youtubeCmd = &cobra.Command{
	Use:   "youtube",
	Short: "Download videos and manage the download directory",
}

var youtubeDownloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download a video synchronously",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		q := quality
		if q == "" {
			q = cfg.YouTube.DefaultQuality
		}
		meta, err := newDownloader(cfg, logger).Download(ctx, args[0], q)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), meta)
	},
}

var youtubeCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove download directories older than a duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		age := olderThan
		if age == 0 {
			age = cfg.YouTube.Retention
		}
		if age <= 0 {
			return fmt.Errorf("--older-than or youtube.retention must be positive")
		}

		removed, err := newDownloader(cfg, logger).Files().CleanOlderThan(age, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d download(s) from %s\n", removed, cfg.YouTube.DownloadDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(youtubeCmd)
	youtubeCmd.AddCommand(youtubeDownloadCmd, youtubeCleanCmd)

	youtubeDownloadCmd.Flags().StringVar(&quality, "quality", "", "360p, 480p, 720p, 1080p or 2160p (default: youtube.default_quality)")
	youtubeCleanCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Maximum age (default: youtube.retention)")
}
