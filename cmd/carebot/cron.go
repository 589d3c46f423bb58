package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"carebot/internal/config"
	"carebot/internal/schedule"
)

func newCronCmd(cfgPath *string) *cobra.Command {
	var (
		tz    string
		count int
	)
	cmd := &cobra.Command{
		Use:   "cron <expr>",
		Short: "Validate a cron expression and print its next runs",
		Example: "  carebot cron \"0 9 */2 * *\"\n" +
			"  carebot cron --tz UTC \"@daily\"",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be > 0")
			}
			if strings.TrimSpace(tz) == "" {
				// The config file is optional here; its timezone is used when readable.
				if cfg, err := config.NewConfigManager(*cfgPath).Parse(); err == nil {
					tz = cfg.Scheduler.Timezone
				}
			}
			loc, err := schedule.LoadLocation(tz)
			if err != nil {
				return err
			}
			runs, err := schedule.NextRuns(args[0], time.Now(), loc, count)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "valid (%s)\n", loc)
			for _, t := range runs {
				fmt.Fprintln(out, t.Format("Mon 2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone (default: scheduler.timezone from config)")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of upcoming runs to print")
	return cmd
}
