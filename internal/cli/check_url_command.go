package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"media-fetchd/internal/scheduler"
)

type urlCheck struct {
	URL       string `json:"url"`
	Supported bool   `json:"supported"`
}

func newCheckURLCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check-url <url>...",
		Short: "Report whether URLs would be accepted for download",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := make([]urlCheck, 0, len(args))
			rejected := 0
			for _, raw := range args {
				ok := scheduler.IsCandidateURL(raw)
				if !ok {
					rejected++
				}
				checks = append(checks, urlCheck{URL: raw, Supported: ok})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, checks); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(checks))
				for _, c := range checks {
					rows = append(rows, []string{boolWord(c.Supported), c.URL})
				}
				renderTable(out, []string{"Supported", "URL"}, rows)
			}
			if rejected > 0 {
				return fmt.Errorf("%d of %d URL(s) unsupported", rejected, len(checks))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
