package cmd

import (
	"context"
	"errors"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/mock-interviewer/internal/httpserver"
	"github.com/spigell/mock-interviewer/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the interview API and the avatar event stream",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "address to listen on (default 127.0.0.1:8080)")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}

func serve(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		stdlog.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		log.Fatal("getting a config", zap.Error(err))
	}

	log.Info("starting the mock-interviewer server", zap.String("version", resolveVersion()))

	svc, err := newServices(ctx, config, log)
	if err != nil {
		log.Fatal("building services", zap.Error(err))
	}

	deps := httpserver.Deps{
		Session:   svc.session,
		Preparer:  svc.pipeline,
		Jobs:      svc.jobs,
		OCR:       svc.ocr,
		Chat:      svc.chat,
		Evaluator: svc.evaluator,
		Traces:    svc.traces,
		Logger:    logger.ForComponent(log, "http"),
	}
	issuer, err := newIssuer(config, log)
	if err != nil {
		log.Warn("voice sessions disabled", zap.Error(err))
	} else {
		deps.Credentials = issuer
	}

	server := httpserver.New(deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(config.Listen)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info("shutting down")
		err := server.Shutdown(shutdownCtx)
		if flushErr := svc.recorder.Flush(shutdownCtx); flushErr != nil {
			log.Debug("final trace flush failed", zap.Error(flushErr))
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server stopped", zap.Error(err))
	}
}
