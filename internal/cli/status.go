package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Check whether a conductor daemon is reachable on the configured gateway address.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if path, err := loader.Path(); err == nil {
		fmt.Fprintf(out, "Config: %s\n", path)
	}
	fmt.Fprintf(out, "Models: %d\n", len(cfg.Models))

	if !cfg.Gateway.Enabled {
		fmt.Fprintln(out, "Gateway: disabled")
		return nil
	}

	url := fmt.Sprintf("http://%s:%d/healthz", cfg.Gateway.Host, cfg.Gateway.Port)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(out, "Gateway: unreachable (%s)\n", url)
		return nil
	}
	defer resp.Body.Close()

	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err == nil && health["status"] == "ok" {
		fmt.Fprintf(out, "Gateway: running (%s:%d)\n", cfg.Gateway.Host, cfg.Gateway.Port)
	} else {
		fmt.Fprintf(out, "Gateway: unhealthy (HTTP %d)\n", resp.StatusCode)
	}
	return nil
}
