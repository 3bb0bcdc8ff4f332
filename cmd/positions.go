package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List the configured positions",
	Run: func(cmd *cobra.Command, _ []string) {
		listPositions(cmd)
	},
}

func init() {
	rootCmd.AddCommand(positionsCmd)

	positionsCmd.Flags().StringP("positions-file", "p", "", "read positions from a JSON dump instead of the config")
	positionsCmd.Flags().Bool("dump", false, "dump the catalog to a temporary JSON file")
}

func listPositions(cmd *cobra.Command) {
	logger, config := bootstrap()

	positions, err := loadPositions(config, cmd.Flag("positions-file").Value.String())
	if err != nil {
		logger.Fatal("loading positions", zap.Error(err))
	}

	for _, p := range positions.Items {
		fmt.Println(p.Label())
	}
	logger.Info("positions loaded", zap.Int("count", positions.Len()))

	if dump, _ := cmd.Flags().GetBool("dump"); dump {
		filename, err := positions.DumpToTmpFile()
		if err != nil {
			logger.Fatal("dump positions to file", zap.Error(err))
		}
		logger.Info("dumping positions to file", zap.String("filename", filename))
	}
}
