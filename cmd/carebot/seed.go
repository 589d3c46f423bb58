package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"carebot/internal/app"
	"carebot/internal/config"
	"carebot/internal/storage"
	logx "carebot/pkg/logx"
)

func newSeedCmd(cfgPath *string) *cobra.Command {
	var opts storage.SeedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default recipient, subject, templates and schedules",
		Long: "Seed is idempotent: existing rows are reused and only missing " +
			"templates and schedules are created. A running server picks up new " +
			"schedules on restart.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			log := logx.NewConsole(cfg.Logging.Level)
			st, err := app.OpenStore(cfg, log.With(logx.String("comp", "storage")))
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := storage.Seed(cmd.Context(), st, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recipient %s (%s) %s\n", res.Recipient.ID, res.Recipient.Name, res.Recipient.Phone)
			fmt.Fprintf(out, "subject   %s (%s, %s)\n", res.Subject.ID, res.Subject.Name, res.Subject.Kind)
			for _, t := range res.Templates {
				fmt.Fprintf(out, "template  %s %s\n", t.ID, t.Key)
			}
			fmt.Fprintf(out, "schedules created: %d\n", res.SchedulesCreated)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.RecipientName, "name", "", "recipient name (default \"Owner\")")
	f.StringVar(&opts.Phone, "phone", "", "recipient phone in +<country><number> form")
	f.StringVar(&opts.Timezone, "timezone", "", "recipient timezone (default \"Asia/Jakarta\")")
	f.StringVar(&opts.SubjectName, "subject", "", "subject name (default \"Obi\")")
	f.StringVar(&opts.SubjectKind, "kind", "", "subject kind (default \"Betta\")")
	return cmd
}
