package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetmem/pkg/analysis"
	"github.com/otherjamesbrown/meetmem/pkg/artifact"
	"github.com/otherjamesbrown/meetmem/pkg/asr"
	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/pipeline"
	"github.com/otherjamesbrown/meetmem/pkg/transcript"
)

// stageFlags registers the flags every component command shares. Commands
// that write a single artifact also take --output as its file name.
func stageFlags(c *cobra.Command, o *overrides, withFile, withModel, withDevice bool) {
	c.Flags().StringVar(&o.outputDir, "output-dir", "", "Artifact directory (default from config: output)")
	if withFile {
		c.Flags().StringVarP(&o.outputFile, "output", "o", "", "Output file (default: <output-dir>/<stem>_<stage>.json)")
	}
	if withModel {
		c.Flags().StringVar(&o.model, "model", "", "LLM model for analysis (default from config)")
	}
	if withDevice {
		c.Flags().StringVar(&o.device, "device", "", "Transcription device: cuda or cpu (default: detect)")
	}
}

// transcribeResult is the output of the transcribe command.
type transcribeResult struct {
	Audio    string   `json:"audio" yaml:"audio"`
	RawPath  string   `json:"raw_path" yaml:"raw_path"`
	Segments int      `json:"segments" yaml:"segments"`
	Speakers []string `json:"speakers" yaml:"speakers"`
	Language string   `json:"language,omitempty" yaml:"language,omitempty"`
}

// NewTranscribeCommand creates the 'transcribe' command.
func NewTranscribeCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	var o overrides

	cmd := &cobra.Command{
		Use:   "transcribe <audio>",
		Short: "Transcribe and diarize a recording",
		Long: `Transcribe a recording with speaker diarization and write the raw
transcription to <output-dir>/<stem>_raw.json, or to the --output file.

The WhisperX transcriber runs through uvx. Diarization needs a Hugging Face
token (HUGGINGFACE_TOKEN or 'meetmem auth set huggingface'); without one the
recording is still transcribed, with every segment attributed to UNKNOWN.

Examples:
  meetmem transcribe standup.m4a
  meetmem transcribe standup.m4a --device cpu --output-dir ./artifacts
  meetmem transcribe standup.m4a -o standup.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(cmd, deps, o, args[0])
		},
	}
	stageFlags(cmd, &o, true, false, true)
	return cmd
}

func runTranscribe(cmd *cobra.Command, deps *Deps, o overrides, audioPath string) error {
	s, err := deps.open(o)
	if err != nil {
		return err
	}
	defer s.Close()

	fail := func(err error) error {
		return mmerrors.StageFailed(err, pipeline.StageTranscribe, audioPath)
	}
	if !artifact.Exists(audioPath) {
		return fail(fmt.Errorf("%w: %s", mmerrors.ErrSourceNotFound, audioPath))
	}
	tr, err := s.transcriber()
	if err != nil {
		return fail(err)
	}
	raw, err := tr.Transcribe(cmd.Context(), audioPath)
	if err != nil {
		return fail(err)
	}

	rawPath := o.artifactPath(artifact.RawPath(s.cfg.OutputDir, audioPath))
	if err := artifact.WriteJSON(rawPath, raw); err != nil {
		return fail(fmt.Errorf("%w: %w", mmerrors.ErrWriteFailed, err))
	}
	s.logger.Info("Transcription written", logging.F("path", rawPath), logging.F("segments", len(raw.Segments)))

	res := transcribeResult{
		Audio:    audioPath,
		RawPath:  rawPath,
		Segments: len(raw.Segments),
		Speakers: raw.Speakers,
		Language: raw.Language,
	}
	return writeOutput(cmd.OutOrStdout(), s.cfg.OutputFormat, res, func(w io.Writer) error {
		fmt.Fprintf(w, "Transcribed %s: %d segments, %d speakers\n", audioPath, res.Segments, len(res.Speakers))
		fmt.Fprintf(w, "  %s\n", rawPath)
		return nil
	})
}

// formatResult is the output of the format command.
type formatResult struct {
	TranscriptPath string   `json:"transcript_path" yaml:"transcript_path"`
	Segments       int      `json:"segments" yaml:"segments"`
	Speakers       []string `json:"speakers" yaml:"speakers"`
}

// NewFormatCommand creates the 'format' command.
func NewFormatCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	var (
		o         overrides
		printText bool
	)

	cmd := &cobra.Command{
		Use:   "format <raw.json|.vtt|.txt>",
		Short: "Normalize a raw transcription into a transcript",
		Long: `Normalize a raw transcription into the canonical transcript and write it to
<output-dir>/<stem>_transcript.json, or to the --output file.

Timestamps become H:MM:SS, missing speakers become UNKNOWN and the full text
is carried over verbatim. A WebVTT or "MM:SS: Speaker: text" file can be
formatted directly.

Examples:
  meetmem format output/standup_raw.json
  meetmem format standup.vtt --print`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormat(cmd, deps, o, args[0], printText)
		},
	}
	stageFlags(cmd, &o, true, false, false)
	cmd.Flags().BoolVar(&printText, "print", false, "Also print the transcript as text")
	return cmd
}

func runFormat(cmd *cobra.Command, deps *Deps, o overrides, rawPath string, printText bool) error {
	s, err := deps.open(o)
	if err != nil {
		return err
	}
	defer s.Close()

	fail := func(err error) error {
		return mmerrors.StageFailed(err, pipeline.StageFormat, rawPath)
	}
	raw, err := asr.ReadTranscript(rawPath)
	if err != nil {
		return fail(err)
	}
	t, err := transcript.Format(*raw)
	if err != nil {
		return fail(err)
	}
	path := o.artifactPath(artifact.TranscriptPath(s.cfg.OutputDir, rawPath))
	if err := transcript.Save(path, t); err != nil {
		return fail(fmt.Errorf("%w: %w", mmerrors.ErrWriteFailed, err))
	}
	s.logger.Info("Transcript written", logging.F("path", path))

	res := formatResult{TranscriptPath: path, Segments: len(t.Segments), Speakers: t.Speakers}
	return writeOutput(cmd.OutOrStdout(), s.cfg.OutputFormat, res, func(w io.Writer) error {
		if printText {
			fmt.Fprint(w, transcript.RenderText(t))
		}
		fmt.Fprintf(w, "Formatted %d segments from %d speakers\n", res.Segments, len(res.Speakers))
		fmt.Fprintf(w, "  %s\n", path)
		return nil
	})
}

// analyzeResult is the output of the analyze command.
type analyzeResult struct {
	AnalysisPath string   `json:"analysis_path" yaml:"analysis_path"`
	Summary      string   `json:"summary" yaml:"summary"`
	Decisions    int      `json:"decisions" yaml:"decisions"`
	ActionItems  int      `json:"action_items" yaml:"action_items"`
	FollowUps    int      `json:"follow_ups" yaml:"follow_ups"`
	FailedTasks  []string `json:"failed_tasks,omitempty" yaml:"failed_tasks,omitempty"`
}

func summarizeResult(path string, r *analysis.Result) analyzeResult {
	res := analyzeResult{
		AnalysisPath: path,
		Summary:      r.Summary,
		Decisions:    len(r.Decisions),
		ActionItems:  len(r.ActionItems),
		FollowUps:    len(r.FollowUps),
	}
	for _, f := range r.Failures {
		res.FailedTasks = append(res.FailedTasks, string(f.Kind))
	}
	return res
}

// NewAnalyzeCommand creates the 'analyze' command.
func NewAnalyzeCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	var o overrides

	cmd := &cobra.Command{
		Use:   "analyze <transcript.json>",
		Short: "Extract summary, decisions, action items and follow-ups",
		Long: `Run the four extraction tasks over a transcript and write the analysis to
<output-dir>/<stem>_analysis.json, or to the --output file.

The tasks run concurrently. A task that fails leaves its section empty and
is listed under failed tasks; the analysis is still written.

Examples:
  meetmem analyze output/standup_transcript.json
  meetmem analyze output/standup_transcript.json --model gpt-4o --output-format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, deps, o, args[0])
		},
	}
	stageFlags(cmd, &o, true, true, false)
	return cmd
}

func runAnalyze(cmd *cobra.Command, deps *Deps, o overrides, transcriptPath string) error {
	s, err := deps.open(o)
	if err != nil {
		return err
	}
	defer s.Close()

	fail := func(err error) error {
		return mmerrors.StageFailed(err, pipeline.StageAnalyze, transcriptPath)
	}
	t, err := transcript.Load(transcriptPath)
	if err != nil {
		return fail(err)
	}
	client, err := s.client()
	if err != nil {
		return fail(err)
	}
	result, err := s.orchestrator(client).Analyze(cmd.Context(), t)
	if err != nil {
		return fail(err)
	}
	path := o.artifactPath(artifact.AnalysisPath(s.cfg.OutputDir, transcriptPath))
	if err := analysis.Save(path, result); err != nil {
		return fail(fmt.Errorf("%w: %w", mmerrors.ErrWriteFailed, err))
	}

	res := summarizeResult(path, result)
	return writeOutput(cmd.OutOrStdout(), s.cfg.OutputFormat, res, func(w io.Writer) error {
		return printAnalysis(w, res)
	})
}

func printAnalysis(w io.Writer, res analyzeResult) error {
	rows := [][]string{
		{"decisions", strconv.Itoa(res.Decisions)},
		{"action_items", strconv.Itoa(res.ActionItems)},
		{"follow_ups", strconv.Itoa(res.FollowUps)},
	}
	fmt.Fprintln(w, renderTable([]string{"Section", "Items"}, rows, []columnAlignment{alignLeft, alignRight}))
	if res.Summary != "" {
		fmt.Fprintf(w, "\nSummary: %s\n", truncate(res.Summary, 400))
	}
	for _, task := range res.FailedTasks {
		fmt.Fprintf(w, "Warning: %s task failed; section left empty\n", task)
	}
	fmt.Fprintf(w, "\n  %s\n", res.AnalysisPath)
	return nil
}

// NewProcessCommand creates the 'process' command.
func NewProcessCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	var (
		o         overrides
		meetingID string
		noIndex   bool
	)

	cmd := &cobra.Command{
		Use:   "process <audio>",
		Short: "Run a recording through the whole pipeline",
		Long: `Transcribe, format, analyze and index a recording.

Each stage writes its artifact before the next starts. The first failure
stops the run; the error names the stage and the artifact to retry from,
and artifacts already written are kept.

Examples:
  meetmem process standup.m4a
  meetmem process standup.m4a --meeting-id standup-2024-03-04
  meetmem process standup.m4a --no-index --device cpu`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, deps, o, args[0], meetingID, !noIndex)
		},
	}
	stageFlags(cmd, &o, false, true, true)
	cmd.Flags().StringVar(&meetingID, "meeting-id", "", "Meeting id for the memory index (default: meeting_<timestamp>)")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "Stop after writing the analysis")
	return cmd
}

func runProcess(cmd *cobra.Command, deps *Deps, o overrides, audioPath, meetingID string, index bool) error {
	s, err := deps.open(o)
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.newPipeline(cmd.Context(), index)
	if err != nil {
		return mmerrors.StageFailed(err, pipeline.StageTranscribe, audioPath)
	}
	out, err := p.Process(cmd.Context(), audioPath, pipeline.ProcessOptions{MeetingID: meetingID})
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), s.cfg.OutputFormat, out, func(w io.Writer) error {
		return printOutcome(w, out)
	})
}

func printOutcome(w io.Writer, out *pipeline.Outcome) error {
	rows := [][]string{
		{"run", out.RunID},
		{"meeting", orDash(out.MeetingID)},
		{"transcript", orDash(out.TranscriptPath)},
		{"analysis", orDash(out.AnalysisPath)},
		{"duration", out.Duration.Round(time.Millisecond).String()},
	}
	fmt.Fprintln(w, renderTable([]string{"Field", "Value"}, rows, nil))
	for _, task := range out.FailedTasks {
		fmt.Fprintf(w, "Warning: %s task failed; section left empty\n", task)
	}
	return nil
}
