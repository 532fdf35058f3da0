// cmd/nodestream/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YaganovValera/nodestream/internal/app"
	"github.com/YaganovValera/nodestream/internal/config"
	"github.com/YaganovValera/nodestream/pkg/logger"
)

func main() {
	var (
		cfgFile string
		reset   bool
	)

	root := &cobra.Command{
		Use:   "nodestream",
		Short: "Session- and epoch-scoped stream consumer",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (optional)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Consume the configured epoch topic and print messages as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lg, err := bootstrap(cfgFile)
			if err != nil {
				return err
			}
			defer lg.Sync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := app.Run(ctx, cfg, app.Options{Reset: reset, Sink: cmd.OutOrStdout()}, lg); err != nil {
				lg.Error("nodestream failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	runCmd.Flags().BoolVar(&reset, "reset", false, "start a new session and replay the topic from the beginning")

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Print the session stored for the configured topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lg, err := bootstrap(cfgFile)
			if err != nil {
				return err
			}
			defer lg.Sync()

			id, ok, err := app.LoadSession(cmd.Context(), cfg, lg)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no session stored for %s", cfg.Stream.Topic())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "topic=%s session=%s group=%s\n", cfg.Stream.Topic(), id, id.GroupID())
			return nil
		},
	}

	root.AddCommand(runCmd, sessionCmd)
	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func bootstrap(path string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		DevMode: cfg.Logging.DevMode,
		Service: cfg.ServiceName,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	if cfg.Logging.DevMode {
		cfg.Print()
	}
	return cfg, lg, nil
}
