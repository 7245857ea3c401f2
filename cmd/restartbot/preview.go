package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"restartbot/internal/app"
	"restartbot/plugins/timedrestart"
	logx "restartbot/pkg/logx"
)

func newPreviewCmd(cfgPath *string) *cobra.Command {
	var horizon time.Duration
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "List the warnings and restarts due within a horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ValidateFile(cmd.Context(), *cfgPath, plugins()...)
			if err != nil {
				return fmt.Errorf("%s: %w", *cfgPath, err)
			}
			store, err := app.OpenStore(cfg, logx.Nop())
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			raw := cfg.Plugins[timedrestart.Name].Config
			sched, firings, err := timedrestart.Preview(cmd.Context(), store, raw, time.Now(), horizon)
			if err != nil {
				return err
			}
			tz := timedrestart.FormatTimezone(sched.Timezone)
			cmd.Printf("Timezone %s, restart times: %v, warnings: %v\n", tz, sched.RestartTimes, sched.WarningMinutes)
			if len(firings) == 0 {
				cmd.Printf("Nothing due within %s\n", horizon)
				return nil
			}
			for _, f := range firings {
				local := f.When.UTC().Add(time.Duration(sched.Timezone) * time.Hour)
				cmd.Printf("%s  %s %s\n", local.Format("2006-01-02 15:04"), tz, f.Describe())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&horizon, "horizon", 24*time.Hour, "how far ahead to look")
	return cmd
}
