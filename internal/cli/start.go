package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conductor-ai/conductor/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"serve"},
	Short:   "Start the conductor daemon",
	Long: `Start the conductor daemon in the foreground.
The daemon serves the HTTP gateway, runs the async execution queue, and
watches the config file for model table changes.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, loader)
	if err != nil {
		return fmt.Errorf("assemble daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if cfg.Gateway.Enabled && cfg.Gateway.AuthToken != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Conductor listening on %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Fprintf(cmd.OutOrStdout(), "Received %s, shutting down\n", sig)

	return d.Stop()
}
