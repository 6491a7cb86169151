// Command kitstudio runs the producer dashboard backend and offers offline
// access to the kit pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kitstudio/internal/config"
	"kitstudio/internal/logging"
)

// cli holds the state resolved by the root command before any subcommand runs.
type cli struct {
	cfg    config.Config
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "kitstudio",
		Short: "Sound kit pipeline and order dashboard backend",
		Long: `kitstudio ingests audio files and archives into object storage, classifies
them into a sound library, assembles renamed drum kits and exports them as
zip archives. It also tracks Fiverr orders, their Kanban tasks, calendar
events and income.

Configuration is read from KITSTUDIO_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			c.cfg, c.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = c.logger.Sync()
		},
	}
	root.AddCommand(c.serveCmd(), c.importCmd(), c.renameCmd(), c.exportCmd(), c.stateCmd())
	return root
}

// withApp builds the object graph, runs fn and closes it.
func (c *cli) withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			c.logger.Warn("close", zap.Error(cerr))
		}
	}()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
