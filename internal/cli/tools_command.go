package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"media-fetchd/internal/scheduler"
)

type toolsReport struct {
	scheduler.ToolsInfo
	DownloaderVersion string `json:"yt_dlp_version,omitempty"`
	VersionError      string `json:"yt_dlp_version_error,omitempty"`
}

func newToolsCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Show the resolved yt-dlp / ffmpeg setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.schedulerConfig(a.resolveTools(ctx))
			// Nothing is enqueued, so the sweeper would only idle.
			cfg.JobRetention = 0
			s, err := scheduler.New(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			report := toolsReport{ToolsInfo: s.ToolsInfo()}
			if s.IsAvailable() {
				version, err := s.DownloaderVersion(ctx)
				if err != nil {
					report.VersionError = err.Error()
				} else {
					report.DownloaderVersion = version
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, report)
			}
			renderTable(out, []string{"Setting", "Value"}, toolsRows(report))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func toolsRows(r toolsReport) [][]string {
	version := r.DownloaderVersion
	if r.VersionError != "" {
		version = "error: " + r.VersionError
	}
	return [][]string{
		{"available", boolWord(r.Available)},
		{"yt-dlp", orDash(r.DownloaderPath)},
		{"yt-dlp version", orDash(version)},
		{"ffmpeg", orDash(r.InspectorLocation)},
		{"cookies file", orDash(r.CookiesPath)},
		{"cookies from browser", orDash(r.CookiesFromBrowser)},
		{"max concurrent", strconv.Itoa(r.MaxConcurrent)},
		{"start delay", strconv.FormatInt(r.StartDelayMS, 10) + "ms"},
		{"supported hosts", strings.Join(r.SupportedHosts, ", ")},
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
