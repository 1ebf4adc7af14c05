package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/pendulum/internal/build"
)

// NewVersionCmd returns the "version" subcommand.
func NewVersionCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pendulum %s\n", build.String())
			if !check {
				return nil
			}
			v, err := build.Semver()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "release %d.%d.%d\n", v.Major(), v.Minor(), v.Patch())
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Fail unless this is a tagged release build")
	return cmd
}
