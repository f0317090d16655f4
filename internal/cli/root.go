package cli

import (
	"context"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"media-fetchd/internal/config"
	"media-fetchd/internal/scheduler"
	"media-fetchd/internal/ytdlp"
)

var log = logging.Logger("cli")

// Run executes the media-fetchd command line with args (without the program name).
func Run(args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.Execute()
}

// app carries the settings shared by every subcommand. cfg is filled in by
// the root PersistentPreRunE before any subcommand runs.
type app struct {
	v   *viper.Viper
	cfg config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.NewViper()}
	root := &cobra.Command{
		Use:   "media-fetchd",
		Short: "Background media downloads driven by yt-dlp",
		Long: `media-fetchd queues media URLs, downloads them with yt-dlp at a bounded
concurrency, and verifies every output file with ffprobe/ffmpeg.

Settings come from flags, MEDIA_* environment variables, and .env / .env.local
in the working directory, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	config.RegisterFlags(root)

	// Bound here so every subcommand sees the same flag set; LoadEnvFiles
	// runs later because it mutates the process environment.
	if err := config.BindFlags(a.v, root); err != nil {
		panic(err)
	}

	root.AddCommand(
		newToolsCommand(a),
		newFetchCommand(a),
		newCheckURLCommand(),
	)
	return root
}

func (a *app) load() error {
	if err := config.LoadEnvFiles("."); err != nil {
		return err
	}
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return err
	}
	lvl, err := logging.LevelFromString(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	logging.SetAllLoggers(lvl)
	a.cfg = cfg
	return nil
}

// resolveTools locates yt-dlp and ffmpeg, honoring configured overrides.
func (a *app) resolveTools(ctx context.Context) ytdlp.Tools {
	loc := ytdlp.Locator{
		DownloaderOverride: a.cfg.DownloaderPath,
		InspectorOverride:  a.cfg.InspectorLocation,
		BundleDir:          a.cfg.BundleDir,
	}
	tools := loc.Resolve(ctx)
	log.Debugw("tools resolved", "yt_dlp", tools.DownloaderPath, "ffmpeg", tools.InspectorLocation)
	return tools
}

func (a *app) schedulerConfig(tools ytdlp.Tools) scheduler.Config {
	return scheduler.Config{
		DownloaderPath:     tools.DownloaderPath,
		InspectorLocation:  tools.InspectorLocation,
		CookiesPath:        a.cfg.CookiesPath,
		CookiesFromBrowser: a.cfg.CookiesFromBrowser,
		DownloadLimitMBps:  a.cfg.RateLimitMBps,
		ProxyURL:           a.cfg.ProxyURL,
		MaxConcurrent:      a.cfg.MaxConcurrent,
		StartDelay:         a.cfg.StartDelay,
		JobRetention:       a.cfg.JobRetention,
		SweepSchedule:      a.cfg.SweepSchedule,
	}
}
