package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/spigell/apprentice/internal/evaluator"
)

// Actual version can be specified in build command.
var version = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("%s version: %s (%s)\n", app, version, runtime.Version())
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			fmt.Printf("default evaluator: %s\n", evaluator.DefaultURL)
			fmt.Printf("default complete path: %s\n", evaluator.DefaultCompletePath)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().BoolP("verbose", "v", false, "print built-in defaults as well")
}
