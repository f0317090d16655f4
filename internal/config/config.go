// Package config reads media-fetchd settings from .env files, MEDIA_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"media-fetchd/internal/scheduler"
	"media-fetchd/internal/ytdlp"
)

const EnvPrefix = "MEDIA"

// Flag ties a persistent command-line flag to a config key.
type Flag struct {
	Key      string
	DefValue interface{}
	Usage    string
}

// Flags are keyed by flag name. With the env prefix and "." mapped to "_",
// the key "ytdlp.path" is read from MEDIA_YTDLP_PATH.
var Flags = map[string]Flag{
	"ytdlp": {
		Key:      "ytdlp.path",
		DefValue: "",
		Usage:    "path to the yt-dlp executable (overrides discovery)",
	},
	"ffmpeg": {
		Key:      "ffmpeg.location",
		DefValue: "",
		Usage:    "ffmpeg executable or directory holding ffmpeg and ffprobe",
	},
	"cookies": {
		Key:      "cookies.path",
		DefValue: "",
		Usage:    "Netscape cookies file passed to yt-dlp",
	},
	"cookies-from-browser": {
		Key:      "cookies.from_browser",
		DefValue: "",
		Usage:    "browser to read cookies from (ignored when --cookies is set)",
	},
	"max-concurrent": {
		Key:      "max_concurrent",
		DefValue: scheduler.DefaultMaxConcurrent,
		Usage:    "downloads allowed to run at once",
	},
	"start-delay-ms": {
		Key:      "start_delay_ms",
		DefValue: int(scheduler.DefaultStartDelay.Milliseconds()),
		Usage:    "minimum gap between download starts, in milliseconds (at least 500)",
	},
	"bundle-dir": {
		Key:      "bundle.dir",
		DefValue: ytdlp.DefaultBundleDirName,
		Usage:    "bundled tool install searched before PATH",
	},
	"job-retention": {
		Key:      "job.retention",
		DefValue: scheduler.DefaultJobRetention.String(),
		Usage:    "how long finished jobs stay listed (0 keeps them forever)",
	},
	"sweep-schedule": {
		Key:      "sweep.schedule",
		DefValue: scheduler.DefaultSweepSchedule,
		Usage:    "cron spec for evicting finished jobs",
	},
	"rate-limit-mbps": {
		Key:      "rate_limit_mbps",
		DefValue: 0.0,
		Usage:    "per-download bandwidth cap in MB/s (0 = unlimited)",
	},
	"proxy": {
		Key:      "proxy",
		DefValue: "",
		Usage:    "proxy URL passed to yt-dlp",
	},
	"log-level": {
		Key:      "log.level",
		DefValue: "info",
		Usage:    "log level (debug, info, warn, error)",
	},
}

type Config struct {
	DownloaderPath     string
	InspectorLocation  string
	CookiesPath        string
	CookiesFromBrowser string
	MaxConcurrent      int
	StartDelay         time.Duration
	BundleDir          string
	JobRetention       time.Duration
	SweepSchedule      string
	RateLimitMBps      float64
	ProxyURL           string
	LogLevel           string
}

// LoadEnvFiles loads dir/.env and then dir/.env.local. Real environment
// variables win over .env; .env.local wins over both. Missing files are skipped.
func LoadEnvFiles(dir string) error {
	base := filepath.Join(dir, ".env")
	if _, err := os.Stat(base); err == nil {
		if err := godotenv.Load(base); err != nil {
			return fmt.Errorf("load %s: %w", base, err)
		}
	}
	local := filepath.Join(dir, ".env.local")
	if _, err := os.Stat(local); err == nil {
		if err := godotenv.Overload(local); err != nil {
			return fmt.Errorf("load %s: %w", local, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and MEDIA_* env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, f := range Flags {
		v.SetDefault(f.Key, f.DefValue)
	}
	return v
}

// RegisterFlags declares every Flag as a persistent flag on root.
func RegisterFlags(root *cobra.Command) {
	fs := root.PersistentFlags()
	for name, f := range Flags {
		switch d := f.DefValue.(type) {
		case int:
			fs.Int(name, d, f.Usage)
		case float64:
			fs.Float64(name, d, f.Usage)
		default:
			fs.String(name, fmt.Sprint(d), f.Usage)
		}
	}
}

// BindFlags makes flags given on the command line override env and defaults.
func BindFlags(v *viper.Viper, root *cobra.Command) error {
	for name, f := range Flags {
		flag := root.PersistentFlags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(f.Key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// FromViper reads and validates a Config.
func FromViper(v *viper.Viper) (Config, error) {
	retention, err := parseDuration(v.GetString("job.retention"))
	if err != nil {
		return Config{}, fmt.Errorf("job retention: %w", err)
	}
	c := Config{
		DownloaderPath:     strings.TrimSpace(v.GetString("ytdlp.path")),
		InspectorLocation:  strings.TrimSpace(v.GetString("ffmpeg.location")),
		CookiesPath:        strings.TrimSpace(v.GetString("cookies.path")),
		CookiesFromBrowser: strings.TrimSpace(v.GetString("cookies.from_browser")),
		MaxConcurrent:      v.GetInt("max_concurrent"),
		StartDelay:         time.Duration(v.GetInt("start_delay_ms")) * time.Millisecond,
		BundleDir:          strings.TrimSpace(v.GetString("bundle.dir")),
		JobRetention:       retention,
		SweepSchedule:      strings.TrimSpace(v.GetString("sweep.schedule")),
		RateLimitMBps:      v.GetFloat64("rate_limit_mbps"),
		ProxyURL:           strings.TrimSpace(v.GetString("proxy")),
		LogLevel:           strings.TrimSpace(v.GetString("log.level")),
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) normalize() {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = scheduler.DefaultMaxConcurrent
	}
	if c.StartDelay < scheduler.MinStartDelay {
		c.StartDelay = scheduler.MinStartDelay
	}
	if c.CookiesPath != "" {
		c.CookiesFromBrowser = ""
	}
}

func (c Config) Validate() error {
	if c.CookiesPath != "" {
		info, err := os.Stat(c.CookiesPath)
		if err != nil {
			return fmt.Errorf("cookies file %s: %w", c.CookiesPath, err)
		}
		if info.IsDir() {
			return fmt.Errorf("cookies file %s is a directory", c.CookiesPath)
		}
	}
	if c.RateLimitMBps < 0 {
		return fmt.Errorf("rate limit must be >= 0, got %g", c.RateLimitMBps)
	}
	if c.JobRetention < 0 {
		return fmt.Errorf("job retention must be >= 0, got %s", c.JobRetention)
	}
	if c.JobRetention > 0 {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			return fmt.Errorf("sweep schedule %q: %w", c.SweepSchedule, err)
		}
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
