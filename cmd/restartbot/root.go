package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"restartbot/internal/app"
	"restartbot/internal/plugin"
	"restartbot/plugins/timedrestart"
)

const stopTimeout = 15 * time.Second

// plugins lists everything the binary ships with.
func plugins() []plugin.Plugin {
	return []plugin.Plugin{timedrestart.New()}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "restartbot",
		Short:         "Scheduled game server restarts with in-game warnings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "config file (json or yaml)")
	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bot (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd.Context(), cfgPath)
			},
		},
		newValidateCmd(&cfgPath),
		newPreviewCmd(&cfgPath),
	)
	return root
}

func run(ctx context.Context, cfgPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	a.Plugins().Register(plugins()...)

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
		if ctx.Err() != nil {
			reason = app.StopAppStop
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ValidateFile(cmd.Context(), *cfgPath, plugins()...)
			if err != nil {
				return fmt.Errorf("%s: %w", *cfgPath, err)
			}
			known := map[string]bool{}
			for _, p := range plugins() {
				known[p.Name()] = true
			}
			for name := range cfg.Plugins {
				if !known[name] {
					cmd.PrintErrf("warning: unknown plugin %q is ignored\n", name)
				}
			}
			cmd.Printf("%s: ok\n", *cfgPath)
			return nil
		},
	}
}
