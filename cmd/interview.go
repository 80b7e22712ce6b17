package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/chat"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/logger"
	"github.com/spigell/mock-interviewer/internal/media"
	"github.com/spigell/mock-interviewer/internal/orchestrator"
	"github.com/spigell/mock-interviewer/internal/pipeline"
	"github.com/spigell/mock-interviewer/internal/realtime"
	"github.com/spigell/mock-interviewer/internal/session"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const (
	ModeChat  = "chat"
	ModeVoice = "voice"

	PromptRetry = "Retry"
	PromptQuit  = "Quit"

	endCommand = "/end"
)

var modePrompt = promptui.Select{
	Label: "Interview mode",
	Items: []string{ModeChat, ModeVoice},
}

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Prepare an interview and run it in the terminal",
	Run: func(cmd *cobra.Command, _ []string) {
		runInterview(cmd)
	},
}

func init() {
	rootCmd.AddCommand(interviewCmd)

	interviewCmd.Flags().StringP("resume", "r", "", "résumé file (.pdf, .docx, .md or .txt)")
	interviewCmd.Flags().StringP("job-url", "u", "", "Wanted job posting URL")
	interviewCmd.Flags().String("job-file", "", "file with the job posting text")
	interviewCmd.Flags().String("job-image", "", "job posting screenshot (PNG, JPEG, WebP or GIF)")
	interviewCmd.Flags().StringP("mode", "m", "", "interview mode: chat or voice (asked when unset)")
	interviewCmd.Flags().StringP("format", "o", FormatText, "evaluation output format: text, json or yaml")
}

func runInterview(cmd *cobra.Command) {
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

	svc, err := newServices(ctx, config, log)
	if err != nil {
		log.Fatal("building services", zap.Error(err))
	}

	if err := prepareInterview(ctx, cmd, svc, log); err != nil {
		log.Fatal("preparing the interview", zap.Error(err))
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	mode := cmd.Flag("mode").Value.String()
	if mode == "" {
		mode = ModeChat
		if interactive {
			if _, mode, err = modePrompt.Run(); err != nil {
				log.Fatal("exiting", zap.Error(err))
			}
		}
	}

	run, send, err := newRun(mode, config, svc, log)
	if err != nil {
		log.Fatal("building the interview", zap.Error(err))
	}
	defer run.Close()

	printer := newTranscriptPrinter(os.Stdout, svc.session, mode == ModeVoice)
	defer printer.Close()

	if err := startRun(ctx, run, interactive); err != nil {
		log.Fatal("exiting", zap.Error(err))
	}
	fmt.Fprintf(os.Stdout, "면접이 시작되었습니다. 제한 시간 %s, %s 입력 시 종료합니다.\n\n", run.Status().Clock, endCommand)

	lines := readLines(os.Stdin)
	ended := false
	for {
		select {
		case <-ctx.Done():
			log.Info("exiting", zap.String("reason", "interrupted"))
			return
		case <-run.Done():
			report(run, cmd.Flag("format").Value.String(), log)
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				line = endCommand
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == endCommand {
				if !ended {
					ended = true
					fmt.Fprintln(os.Stdout, "면접을 종료하고 평가를 진행합니다...")
					go run.End()
				}
				continue
			}
			go func() {
				if err := send(ctx, line); err != nil {
					printer.Notice(describeSendError(err))
				}
			}()
		}
	}
}

// prepareInterview analyses the given inputs, or reuses the interview
// prepared by an earlier run when none are given.
func prepareInterview(ctx context.Context, cmd *cobra.Command, svc *services, log *zap.Logger) error {
	resumePath := cmd.Flag("resume").Value.String()
	jobURL := cmd.Flag("job-url").Value.String()
	jobFile := cmd.Flag("job-file").Value.String()
	jobImage := cmd.Flag("job-image").Value.String()

	if resumePath == "" && jobURL == "" && jobFile == "" && jobImage == "" {
		if svc.session.Setup() == nil {
			return errors.New("no prepared interview found, pass --resume and one of --job-url, --job-file or --job-image")
		}
		log.Info("reusing the prepared interview", zap.String("interviewer", svc.session.Setup().InterviewerName()))
		return nil
	}

	in := pipeline.Input{JobURL: jobURL}
	if resumePath != "" {
		data, err := os.ReadFile(resumePath)
		if err != nil {
			return fmt.Errorf("read résumé: %w", err)
		}
		in.ResumeFile = data
		in.ResumeFileName = filepath.Base(resumePath)
	}
	if jobFile != "" {
		data, err := os.ReadFile(jobFile)
		if err != nil {
			return fmt.Errorf("read job posting: %w", err)
		}
		in.JobText = string(data)
	}
	if jobImage != "" {
		text, err := readJobImage(ctx, svc, jobImage)
		if err != nil {
			return err
		}
		log.Info("job posting read from the screenshot", zap.Int("text_length", len(text)))
		in.JobText = strings.TrimSpace(in.JobText + "\n\n" + text)
	}

	log.Info("analysing the résumé and the job posting")
	analysis, err := svc.pipeline.Prepare(ctx, svc.session, in)
	if err != nil {
		return err
	}
	log.Info("interview prepared",
		zap.String("interviewer", analysis.Setup.InterviewerName()),
		zap.Int("questions", len(analysis.Setup.Questions)),
	)
	return nil
}

func readJobImage(ctx context.Context, svc *services, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read job posting screenshot: %w", err)
	}
	mimeType := http.DetectContentType(data)
	text, err := svc.ocr.ExtractText(ctx, ai.Image{MIMEType: mimeType, Data: data})
	if err != nil {
		return "", fmt.Errorf("read job posting screenshot: %w", err)
	}
	return text, nil
}

type sendFunc func(ctx context.Context, text string) error

func newRun(mode string, config *Config, svc *services, log *zap.Logger) (*orchestrator.Run, sendFunc, error) {
	runLogger := logger.ForComponent(log, "orchestrator")

	switch mode {
	case ModeChat:
		opts := []chat.Option{
			chat.WithLogger(logger.ForComponent(log, "chat")),
			chat.WithTelemetry(svc.recorder),
		}
		if config.Interview.SpeakDwell > 0 {
			opts = append(opts, chat.WithSpeakDwell(config.Interview.SpeakDwell))
		}
		if config.Interview.EndDelay > 0 {
			opts = append(opts, chat.WithEndDelay(config.Interview.EndDelay))
		}
		ctrl := chat.NewController(svc.session, svc.chat, opts...)
		send := func(ctx context.Context, text string) error {
			return ctrl.SendMessage(ctx, text)
		}
		return orchestrator.NewChatRun(svc.session, ctrl, svc.pipeline, orchestrator.WithLogger(runLogger)), send, nil

	case ModeVoice:
		issuer, err := newIssuer(config, log)
		if err != nil {
			return nil, nil, err
		}
		voiceLogger := logger.ForComponent(log, "voice")
		opts := []realtime.Option{
			realtime.WithLogger(voiceLogger),
			realtime.WithRecorder(svc.recorder),
			realtime.WithOpeningTurn(config.Interview.OpeningTurn),
		}
		if config.Interview.EndDelay > 0 {
			opts = append(opts, realtime.WithEndDelay(config.Interview.EndDelay))
		}
		if config.Interview.ExchangeTimeout > 0 {
			opts = append(opts, realtime.WithExchangeTimeout(config.Interview.ExchangeTimeout))
		}
		peers := realtime.PionFactory{ICEServers: config.OpenAI.ICEServers, Logger: voiceLogger}
		ctrl := realtime.NewController(svc.session, peers, issuer, opts...)

		// No capture device is reachable from the terminal, so the microphone
		// falls back to silence and typed lines are sent as text.
		devices := media.NewManager(media.NoDevices{}, logger.ForComponent(log, "media"))
		send := func(_ context.Context, text string) error {
			return ctrl.SendCandidateText(text)
		}
		return orchestrator.NewVoiceRun(svc.session, devices, issuer, ctrl, svc.pipeline, orchestrator.WithLogger(runLogger)), send, nil

	default:
		return nil, nil, fmt.Errorf("unknown interview mode %q", mode)
	}
}

// startRun starts the run, offering a retry after a setup failure when a
// terminal is attached.
func startRun(ctx context.Context, run *orchestrator.Run, interactive bool) error {
	err := run.Start(ctx)
	for err != nil {
		if !interactive {
			return err
		}
		fmt.Fprintf(os.Stdout, "면접을 시작하지 못했습니다: %v\n", err)

		retryPrompt := promptui.Select{
			Label: "Retry?",
			Items: []string{PromptRetry, PromptQuit},
		}
		_, action, promptErr := retryPrompt.Run()
		if promptErr != nil {
			return promptErr
		}
		if action == PromptQuit {
			return err
		}
		err = run.Retry(ctx)
	}
	return nil
}

func report(run *orchestrator.Run, format string, log *zap.Logger) {
	status := run.Status()
	log.Info("interview finished",
		zap.String("reason", string(status.Reason)),
		zap.String("elapsed", status.Clock),
		zap.String("phase", string(status.Phase)),
	)
	if status.Phase == orchestrator.PhaseEvaluationFailed {
		log.Error("evaluation failed", zap.Error(run.Err()), zap.String("hint", "run the evaluate command to retry"))
		return
	}
	if evaluation := run.Evaluation(); evaluation != nil {
		fmt.Fprintln(os.Stdout)
		if err := writeEvaluation(os.Stdout, evaluation, format); err != nil {
			log.Error("writing the evaluation", zap.Error(err))
		}
	}
}

func describeSendError(err error) string {
	switch {
	case errors.Is(err, chat.ErrBusy):
		return "이전 답변을 처리 중입니다. 잠시 후 다시 입력해 주세요."
	case errors.Is(err, chat.ErrEnding), errors.Is(err, chat.ErrNotConnected), errors.Is(err, realtime.ErrChannelClosed):
		return "면접이 진행 중이 아닙니다."
	default:
		return fmt.Sprintf("메시지를 보내지 못했습니다: %v", err)
	}
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// transcriptPrinter writes transcript appends and the time warning to out.
type transcriptPrinter struct {
	out  io.Writer
	sess *session.Context
	// Typed chat lines are already on screen, voice transcripts are not.
	candidate bool

	mu   sync.Mutex
	sent int
	offs []func()
}

func newTranscriptPrinter(out io.Writer, sess *session.Context, candidate bool) *transcriptPrinter {
	p := &transcriptPrinter{out: out, sess: sess, candidate: candidate}
	p.offs = []func(){
		session.Subscribe(sess, func(s session.State) int { return len(s.Transcript) }, p.onTranscript),
		session.Subscribe(sess, func(s session.State) bool { return s.ElapsedSeconds > 0 && s.ElapsedSeconds%60 == 0 }, func(minute bool) {
			if minute {
				p.Notice(fmt.Sprintf("[%s 경과]", formatElapsed(sess.Elapsed())))
			}
		}),
	}
	return p
}

func (p *transcriptPrinter) onTranscript(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < p.sent {
		p.sent = 0
	}
	transcript := p.sess.Transcript()
	name := p.sess.Setup().InterviewerName()
	for i := p.sent; i < n && i < len(transcript); i++ {
		entry := transcript[i]
		switch {
		case entry.Speaker == interview.SpeakerInterviewer:
			fmt.Fprintf(p.out, "면접관(%s): %s\n\n", name, entry.Text)
		case p.candidate:
			fmt.Fprintf(p.out, "지원자: %s\n\n", entry.Text)
		}
	}
	p.sent = n
}

func (p *transcriptPrinter) Notice(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, text)
}

func (p *transcriptPrinter) Close() {
	for _, off := range p.offs {
		off()
	}
}

func formatElapsed(seconds int) string {
	return fmt.Sprintf("%d분", seconds/60)
}
