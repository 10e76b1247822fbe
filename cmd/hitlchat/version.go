package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version is set during build time
	Version = "development"

	// GitCommit is set during build time
	GitCommit = "unknown"

	// BuildDate is set during build time
	BuildDate = "unknown"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipSetupAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "hitlchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			return err
		},
	}
}
