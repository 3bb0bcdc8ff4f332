package cmd

import (
	"context"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/apprentice/internal/logger"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <candidate-id>",
	Short: "Cancel a running evaluation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cancelEvaluation(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)

	cancelCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}

func cancelEvaluation(cmd *cobra.Command, candidateID string) {
	ctx := context.Background()

	log, config := bootstrap()
	log = logger.WithFields(log, logger.CandidateFields(candidateID, "", "")...)

	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		confirm := promptui.Prompt{
			Label:     "Cancel the evaluation of " + candidateID,
			IsConfirm: true,
		}
		if _, err := confirm.Run(); err != nil {
			log.Info("exiting", zap.String("reason", "cancel not confirmed"))
			return
		}
	}

	client, err := newEvaluatorClient(config, log)
	if err != nil {
		log.Fatal("configuring the evaluator client", zap.Error(err))
	}

	st, err := client.Cancel(ctx, candidateID)
	if err != nil {
		log.Fatal("cancelling the evaluation", zap.Error(err))
	}

	log.Info("evaluation cancelled", zap.String("status", st.Status), zap.String("message", st.Message))
}
