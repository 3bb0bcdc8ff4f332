package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/apprentice/internal/evaluator"
	"github.com/spigell/apprentice/internal/logger"
	"github.com/spigell/apprentice/internal/utils"
)

const (
	defaultWatchInterval = 5 * time.Second
	minWatchInterval     = time.Second
)

var statusCmd = &cobra.Command{
	Use:   "status <candidate-id>",
	Short: "Show the evaluation status of a candidate",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		showStatus(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolP("watch", "w", false, "poll until the evaluation finishes")
	statusCmd.Flags().Duration("interval", defaultWatchInterval, "polling interval for --watch")
}

func showStatus(cmd *cobra.Command, candidateID string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log, config := bootstrap()
	log = logger.WithFields(log, logger.CandidateFields(candidateID, "", "")...)

	client, err := newEvaluatorClient(config, log)
	if err != nil {
		log.Fatal("configuring the evaluator client", zap.Error(err))
	}

	watch, _ := cmd.Flags().GetBool("watch")
	requested, _ := cmd.Flags().GetDuration("interval")
	interval := watchInterval(requested)
	if watch && interval != requested {
		log.Warn("polling interval adjusted", zap.Duration("requested", requested), zap.Duration("interval", interval))
	}

	for {
		st, err := client.Status(ctx, candidateID)
		if err != nil {
			log.Fatal("getting evaluation status", zap.Error(err))
		}

		log.Info("evaluation status",
			zap.String("status", st.Status),
			zap.String("stage", st.Stage),
			zap.String("position_id", st.PositionID),
			zap.String("message", st.Message),
		)

		if !watch || !st.Found() || finished(st) {
			return
		}

		if err := utils.WaitFor(ctx, interval); err != nil {
			log.Info("stopped watching", zap.Error(err))
			return
		}
	}
}

// watchInterval keeps --watch from polling the evaluator in a tight loop.
func watchInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return defaultWatchInterval
	case d < minWatchInterval:
		return minWatchInterval
	}
	return d
}

func finished(st *evaluator.Status) bool {
	switch st.Status {
	case "completed", "failed", "cancelled", "error":
		return true
	}
	return false
}
