package main

import (
	"fmt"

	"github.com/spf13/cobra"

	kbserver "github.com/HendryAvila/kanbridge/internal/server"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "kanbridge v%s\n", kbserver.Version)
			return err
		},
	}
}
