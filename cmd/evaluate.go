package cmd

import (
	stdlog "log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/mock-interviewer/internal/logger"
	"go.uber.org/zap"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the last interview transcript and print the report",
	Run: func(cmd *cobra.Command, _ []string) {
		evaluate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringP("format", "o", FormatText, "output format: text, json or yaml")
	evaluateCmd.Flags().Bool("stored", false, "print the stored evaluation instead of evaluating again")
}

func evaluate(cmd *cobra.Command) {
	ctx := cmd.Context()

	log, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		stdlog.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}
	format := cmd.Flag("format").Value.String()

	if stored, _ := cmd.Flags().GetBool("stored"); stored {
		sess, err := newSession(config, log)
		if err != nil {
			log.Fatal("loading the session", zap.Error(err))
		}
		evaluation := sess.Snapshot().Evaluation
		if evaluation == nil {
			log.Fatal("no stored evaluation", zap.String("hint", "run evaluate without --stored"))
		}
		if err := writeEvaluation(os.Stdout, evaluation, format); err != nil {
			log.Fatal("writing the evaluation", zap.Error(err))
		}
		return
	}

	svc, err := newServices(ctx, config, log)
	if err != nil {
		log.Fatal("building services", zap.Error(err))
	}

	log.Info("evaluating the interview", zap.Int("transcript_entries", len(svc.session.Transcript())))
	evaluation, err := svc.pipeline.Evaluate(ctx, svc.session)
	if err != nil {
		log.Fatal("evaluating the interview", zap.Error(err))
	}
	if err := writeEvaluation(os.Stdout, evaluation, format); err != nil {
		log.Fatal("writing the evaluation", zap.Error(err))
	}
}
