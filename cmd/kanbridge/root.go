package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HendryAvila/kanbridge/internal/config"
	kbserver "github.com/HendryAvila/kanbridge/internal/server"
)

var (
	cyan = color.New(color.FgCyan, color.Bold).SprintFunc()
	gray = color.New(color.FgHiBlack).SprintFunc()
)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "kanbridge",
		Short: "MCP bridge to a kanban board of coding-agent tasks",
		Long: "kanbridge exposes a kanban Gateway as an MCP server: tasks, workspaces, " +
			"coding-agent sessions and their message queues become tools and subscribable resources.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.kanbridge/config.toml)")

	load := func(v *viper.Viper) (*config.Config, error) {
		return config.LoadWith(v, configPath)
	}

	rootCmd.AddCommand(
		newServeCmd(load),
		newConfigCmd(load),
		newVersionCmd(),
	)
	return rootCmd
}

// banner goes to stderr; stdout belongs to the MCP stdio channel.
func banner(w io.Writer, cfg *config.Config, mode string) {
	fmt.Fprintf(w, "%s %s\n", cyan("kanbridge"), gray("v"+kbserver.Version))
	fmt.Fprintf(w, "  gateway  %s %s\n", cfg.APIURL, gray("("+cfg.Gateway.Transport+")"))
	if cfg.ProjectID != "" {
		fmt.Fprintf(w, "  project  %s\n", cfg.ProjectID)
	}
	if cfg.History.Enabled {
		fmt.Fprintf(w, "  history  %s\n", cfg.HistoryPath())
	} else {
		fmt.Fprintf(w, "  history  %s\n", gray("disabled"))
	}
	fmt.Fprintf(w, "  serving  %s\n", mode)
}
