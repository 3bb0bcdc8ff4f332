package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/apprentice/internal/ai"
	"github.com/spigell/apprentice/internal/ai/gemini"
	"github.com/spigell/apprentice/internal/apperr"
	"github.com/spigell/apprentice/internal/audiocue"
	"github.com/spigell/apprentice/internal/catalog"
	"github.com/spigell/apprentice/internal/evaluator"
	"github.com/spigell/apprentice/internal/interview"
	applog "github.com/spigell/apprentice/internal/logger"
	"github.com/spigell/apprentice/internal/media"
	"github.com/spigell/apprentice/internal/resume"
	"github.com/spigell/apprentice/internal/results"
	"github.com/spigell/apprentice/internal/secrets"
	"github.com/spigell/apprentice/internal/workflow"
)

const (
	PromptBack           = "back"
	PromptExit           = "exit"
	PromptApply          = "Apply for this position"
	PromptContinue       = "Continue"
	PromptRepoLink       = "Submit a repository link"
	PromptCodeFile       = "Submit code from a file"
	PromptPlayCue        = "Play the question"
	PromptStopCue        = "Stop the question audio"
	PromptStartRecording = "Start recording"
	PromptStopRecording  = "Stop recording"
	PromptNextQuestion   = "Next question"
	PromptFinishVideo    = "Finish the video interview"
	PromptSubmitAnswers  = "Submit the evaluation"
	PromptChangeAnswer   = "Change an answer"
	PromptReportToFile   = "Dump report to file"
)

var (
	errExit = errors.New("exit requested")
	errBack = errors.New("back requested")
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Go through the evaluation flow for one position",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("positions-file", "p", "", "read positions from a JSON dump instead of the config")
	runCmd.Flags().Bool("resume-as-text", false, "send the extracted resume text instead of the PDF")

	viper.BindPFlag("evaluator.resume-as-text", runCmd.Flags().Lookup("resume-as-text"))
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, config := bootstrap()
	logger.Info("starting the apprentice", zap.String("version", version))

	positions, err := loadPositions(config, cmd.Flag("positions-file").Value.String())
	if err != nil {
		logger.Fatal("loading positions", zap.Error(err))
	}
	if positions.Len() == 0 {
		logger.Info("exiting", zap.String("reason", "no positions configured"))
		return
	}

	client, err := newEvaluatorClient(config, logger)
	if err != nil {
		logger.Fatal("configuring the evaluator client", zap.Error(err))
	}

	if health, err := client.Health(ctx); err != nil {
		logger.Warn("evaluator health check failed, continuing", zap.Error(err))
	} else {
		logger.Info("evaluator is reachable",
			zap.String("status", health.Status),
			zap.Int("active_evaluations", health.ActiveEvaluations),
		)
	}

	machine := workflow.New(client, logger, workflow.WithResumeAsText(config.Evaluator.ResumeAsText))

	mediaLogger := applog.Named(logger, "media")
	session := media.NewSession(media.NewFFmpegDevice(config.Recording, mediaLogger), mediaLogger)

	cueLogger := applog.Named(logger, "audiocue")
	cues := audiocue.NewController(audiocue.NewFFplayPlayer(config.Playback.FFplay, cueLogger), cueLogger)

	var opts []interview.Option
	if config.AI.Speech.Enabled {
		speaker, err := newSpeaker(ctx, config.AI.Speech, applog.Named(logger, "speech"))
		if err != nil {
			logger.Warn("speech synthesis disabled", zap.Error(err))
		} else {
			opts = append(opts, interview.WithSpeaker(speaker))
		}
	}

	runner := interview.NewRunner(machine, session, cues, applog.Named(logger, "interview"), opts...)
	defer runner.Teardown()

	f := &flow{
		machine:   machine,
		session:   session,
		cues:      cues,
		runner:    runner,
		positions: positions,
		logger:    logger,
	}

	if err := f.loop(ctx); err != nil && !errors.Is(err, errExit) {
		runner.Teardown()
		logger.Fatal("exiting", zap.Error(err))
	}
}

func newSpeaker(ctx context.Context, cfg *SpeechConfig, logger *zap.Logger) (ai.Speaker, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.APIKey,
		Env:   "GEMINI_API_KEY",
		File:  cfg.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.speech.api-key-file, GEMINI_API_KEY_FILE or GEMINI_API_KEY)", err)
	}

	return gemini.NewSpeaker(ctx, apiKey, cfg.Model, cfg.Voice, logger)
}

// flow maps each stage to its prompts. Errors the candidate can act on are
// logged and the stage is shown again.
type flow struct {
	machine   *workflow.Machine
	session   *media.Session
	cues      *audiocue.Controller
	runner    *interview.Runner
	positions *catalog.Positions
	logger    *zap.Logger
}

func (f *flow) loop(ctx context.Context) error {
	for {
		stage := f.machine.Stage()
		f.printProgress()

		var err error
		switch stage {
		case workflow.StageBrowse:
			err = f.browse(ctx)
		case workflow.StagePositionDetail:
			err = f.positionDetail(ctx)
		case workflow.StageApply:
			err = f.apply(ctx)
		case workflow.StageSubmitCode:
			err = f.submitCode(ctx)
		case workflow.StageVideo:
			err = f.video(ctx)
		case workflow.StageMCQ:
			err = f.assessment(ctx)
		case workflow.StageResults:
			return f.results()
		default:
			return fmt.Errorf("unknown stage %s", stage)
		}

		switch {
		case err == nil:
		case errors.Is(err, errBack):
			if err := f.machine.Back(); err != nil {
				f.warn(err)
			}
		case errors.Is(err, errExit), errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
			f.logger.Info("exiting", zap.String("stage", stage.String()))
			return errExit
		case recoverable(err):
			f.warn(err)
		default:
			return err
		}
	}
}

func (f *flow) browse(ctx context.Context) error {
	items := make([]string, 0, f.positions.Len()+1)
	for _, p := range f.positions.Items {
		items = append(items, p.Label())
	}

	idx, selected, err := (&promptui.Select{
		Label: "Choose a position and press ENTER",
		Items: append(items, PromptExit),
		Size:  10,
	}).Run()
	if err != nil {
		return err
	}
	if selected == PromptExit {
		return errExit
	}

	return f.machine.Advance(ctx, workflow.SelectPosition{Position: f.positions.Items[idx]})
}

func (f *flow) positionDetail(ctx context.Context) error {
	position := f.machine.Context().Position

	pretty, _ := json.MarshalIndent(position.Report(), "", "  ")
	f.logger.Info(string(pretty), zap.String("position_id", position.ID))

	action, err := choose("Proceed?", PromptApply)
	if err != nil {
		return err
	}
	if action != PromptApply {
		return errBack
	}

	return f.machine.Advance(ctx, workflow.Proceed{})
}

func (f *flow) apply(ctx context.Context) error {
	action, err := choose("Fill in the application?", PromptContinue)
	if err != nil || action != PromptContinue {
		return backOr(err)
	}

	current := f.machine.Context()

	name, err := ask("Full name", current.Name, required("name"))
	if err != nil {
		return err
	}
	email, err := ask("Email", current.Email, func(s string) error {
		if !strings.Contains(s, "@") {
			return errors.New("email must contain @")
		}
		return nil
	})
	if err != nil {
		return err
	}

	resumeDefault := ""
	if current.Resume != nil {
		resumeDefault = current.Resume.Name
	}
	path, err := ask("Path to the resume (PDF)", resumeDefault, required("resume"))
	if err != nil {
		return err
	}

	doc := current.Resume
	if doc == nil || path != doc.Name {
		if doc, err = resume.Load(path); err != nil {
			return err
		}
	}
	f.logger.Info("resume loaded", zap.String("file", doc.Name), zap.Int("pages", doc.Pages))

	return f.machine.Advance(ctx, workflow.ApplicationForm{Name: name, Email: email, Resume: doc})
}

func (f *flow) submitCode(ctx context.Context) error {
	action, err := choose("How do you want to submit your solution?", PromptRepoLink, PromptCodeFile)
	if err != nil {
		return err
	}

	var in workflow.CodeSubmission
	switch action {
	case PromptRepoLink:
		link, err := ask("Repository link", f.machine.Context().Submission.RepoLink, required("repository link"))
		if err != nil {
			return err
		}
		in.RepoLink = link
	case PromptCodeFile:
		path, err := ask("Path to the code file", "", required("code file"))
		if err != nil {
			return err
		}
		code, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return apperr.Validation("reading %s: %v", path, err)
		}
		in.CodeSolution = string(code)
	default:
		return errBack
	}

	f.logger.Info("submitting the application to the evaluator, this may take a while")
	if err := f.machine.Advance(ctx, in); err != nil {
		return err
	}

	c := f.machine.Context()
	fields := []zap.Field{
		zap.Int("interview_questions", len(c.InterviewQuestions)),
		zap.Int("mcq_questions", len(c.MCQQuestions)),
	}
	for _, s := range c.Preliminary {
		fields = append(fields, zap.Float64(string(s.Dimension), s.Score))
	}
	f.logger.Info("application accepted", fields...)

	return nil
}

func (f *flow) video(ctx context.Context) error {
	if err := f.runner.Begin(ctx); err != nil {
		return err
	}

	for {
		q, err := f.runner.Question()
		if err != nil {
			return err
		}
		current, total := f.runner.Current(), f.runner.Total()
		fmt.Printf("\nQuestion %d of %d:\n  %s\n\n", current+1, total, q.Text)

		recording := f.session.Recording()
		recorded := f.runner.Recorded()

		var items []string
		if f.cues.HasCue() && !recording {
			if f.cues.State() == audiocue.Playing {
				items = append(items, PromptStopCue)
			} else {
				items = append(items, PromptPlayCue)
			}
		}
		switch {
		case recording:
			items = append(items, PromptStopRecording)
		case !recorded:
			items = append(items, PromptStartRecording)
		}
		if recorded && current+1 < total {
			items = append(items, PromptNextQuestion)
		}
		if current+1 == total && (recorded || recording) {
			items = append(items, PromptFinishVideo)
		}

		action, err := choose("Interview", items...)
		if err != nil {
			f.runner.Teardown()
			return err
		}

		switch action {
		case PromptPlayCue, PromptStopCue:
			_, err = f.cues.Toggle()
		case PromptStartRecording:
			err = f.runner.StartRecording(ctx)
		case PromptStopRecording:
			var segment media.Segment
			if segment, err = f.runner.StopRecording(); err == nil {
				f.logger.Info("answer recorded", zap.Int("question", segment.Index+1), zap.Duration("duration", segment.Duration))
			}
		case PromptNextQuestion:
			err = f.runner.NextQuestion(ctx)
		case PromptFinishVideo:
			return f.runner.Finish(ctx)
		default:
			f.runner.Teardown()
			return errBack
		}

		if err != nil {
			if !recoverable(err) {
				return err
			}
			f.warn(err)
		}
	}
}

func (f *flow) assessment(ctx context.Context) error {
	questions := f.machine.Context().MCQQuestions

	for i := range questions {
		if f.machine.Context().MCQAnswers[i] != "" {
			continue
		}
		if err := f.answer(i, questions[i]); err != nil {
			return err
		}
	}

	for {
		action, err := choose("All questions answered", PromptSubmitAnswers, PromptChangeAnswer)
		if err != nil || action == PromptBack {
			return backOr(err)
		}

		if action == PromptChangeAnswer {
			labels := make([]string, len(questions))
			for i, q := range questions {
				labels[i] = fmt.Sprintf("%d. %s [%s]", i+1, q.Question, f.machine.Context().MCQAnswers[i])
			}
			idx, _, err := (&promptui.Select{Label: "Which answer?", Items: labels}).Run()
			if err != nil {
				return err
			}
			if err := f.answer(idx, questions[idx]); err != nil {
				return err
			}
			continue
		}

		if !f.machine.CanSubmit() {
			return apperr.Validation("answer every question before submitting")
		}

		f.logger.Info("submitting the evaluation, this may take a while")
		return f.machine.Advance(ctx, workflow.MCQDone{})
	}
}

func (f *flow) answer(index int, q evaluator.MCQQuestion) error {
	options := make([]string, len(q.Options))
	for i, o := range q.Options {
		options[i] = fmt.Sprintf("%s) %s", evaluator.Letter(i), o)
	}

	idx, _, err := (&promptui.Select{
		Label: fmt.Sprintf("%d. %s", index+1, q.Question),
		Items: options,
	}).Run()
	if err != nil {
		return err
	}

	return f.machine.Answer(index, evaluator.Letter(idx))
}

func (f *flow) results() error {
	report := f.machine.Context().Result
	if err := results.Render(os.Stdout, report); err != nil {
		return err
	}

	for {
		action, err := choose("Done", PromptReportToFile)
		if err != nil {
			return err
		}
		if action != PromptReportToFile {
			return nil
		}

		filename, err := results.DumpToTmpFile(report)
		if err != nil {
			return fmt.Errorf("dump report to file: %w", err)
		}
		f.logger.Info("dumping report to file", zap.String("filename", filename))
	}
}

func (f *flow) printProgress() {
	parts := make([]string, 0, len(workflow.Stages))
	for _, s := range f.machine.Describe() {
		mark := " "
		switch {
		case s.Current:
			mark = ">"
		case s.Completed:
			mark = "x"
		}

		label := fmt.Sprintf("[%s] %s", mark, s.Stage.Title())
		if s.Current {
			for _, key := range []string{"recorded", "answered"} {
				if v, ok := s.Details[key]; ok {
					label += fmt.Sprintf(" (%s %s)", key, v)
				}
			}
		}
		parts = append(parts, label)
	}
	fmt.Println(strings.Join(parts, "  "))
}

func (f *flow) warn(err error) {
	f.logger.Warn(err.Error(), zap.String("kind", string(apperr.KindOf(err))))
}

// recoverable reports whether err leaves the flow usable: the stage is kept
// and the candidate can retry.
func recoverable(err error) bool {
	if errors.Is(err, workflow.ErrBusy) || errors.Is(err, workflow.ErrSuperseded) || errors.Is(err, audiocue.ErrNoCue) {
		return true
	}

	var appErr *apperr.Error
	return errors.As(err, &appErr)
}

// choose shows items followed by back and exit.
func choose(label string, items ...string) (string, error) {
	_, selected, err := (&promptui.Select{
		Label: label,
		Items: append(items, PromptBack, PromptExit),
	}).Run()
	if err != nil {
		return "", err
	}
	if selected == PromptExit {
		return "", errExit
	}
	return selected, nil
}

func ask(label, def string, validate promptui.ValidateFunc) (string, error) {
	value, err := (&promptui.Prompt{
		Label:     label,
		Default:   def,
		AllowEdit: def != "",
		Validate:  validate,
	}).Run()
	return strings.TrimSpace(value), err
}

func required(field string) promptui.ValidateFunc {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func backOr(err error) error {
	if err != nil {
		return err
	}
	return errBack
}
