package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conductor-ai/conductor/pkg/coretools"
	"github.com/conductor-ai/conductor/pkg/tool"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools available to the pipeline",
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	registry := tool.NewRegistry()
	if err := coretools.Register(registry, coretools.Options{
		WorkspaceRoot: cfg.WorkspacePath,
		EnableExec:    cfg.Tools.EnableExec,
	}); err != nil {
		return err
	}

	allowed := map[string]bool{}
	for _, name := range cfg.Tools.Allowlist {
		allowed[name] = true
	}

	for _, name := range registry.List() {
		def, ok := registry.Get(name)
		if !ok {
			continue
		}
		suffix := ""
		if def.Unsafe {
			suffix = " (unsafe)"
		}
		if len(allowed) > 0 && !allowed[name] {
			suffix += " (blocked by allowlist)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s%s\n", name, def.Description, suffix)
	}
	return nil
}
