// Package main provides the meetmem CLI entry point.
// meetmem turns meeting recordings into transcripts, structured analyses and
// a searchable memory of decisions, action items and follow-ups.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetmem/cmd"
	"github.com/otherjamesbrown/meetmem/config"
	"github.com/otherjamesbrown/meetmem/pkg/buildinfo"
	mmerrors "github.com/otherjamesbrown/meetmem/pkg/errors"
)

// Global flags.
var (
	cfgFile      string
	debug        bool
	logFormat    string
	outputFormat string
)

// loadConfig reads the config file named by --config, or the default one,
// and applies the global flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile, true)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	if debug {
		cfg.Debug = true
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if outputFormat != "" {
		cfg.OutputFormat = config.OutputFormat(outputFormat)
	}
	return cfg, nil
}

// newRootCommand builds the command tree around deps.
func newRootCommand(deps *cmd.Deps) *cobra.Command {
	root := &cobra.Command{
		Use:   "meetmem",
		Short: "Meeting analysis and memory",
		Long: `meetmem turns meeting recordings into a searchable memory.

A recording is transcribed with speaker diarization, normalized into a
transcript, analyzed for a summary, decisions, action items and follow-ups,
and indexed so that later questions can be answered across meetings.

Each stage writes a JSON artifact next to the others in the output
directory, so any stage can be rerun on its own:

  meetmem transcribe standup.m4a            -> output/standup_raw.json
  meetmem format output/standup_raw.json    -> output/standup_transcript.json
  meetmem analyze output/standup_transcript.json
                                            -> output/standup_analysis.json
  meetmem memory add output/standup_analysis.json

or all at once:

  meetmem process standup.m4a
  meetmem watch ~/Recordings

Configuration is read from ~/.meetmem/config.yaml (or $MEETMEM_CONFIG_DIR)
and MEETMEM_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.meetmem/config.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: auto, json, console")
	root.PersistentFlags().StringVar(&outputFormat, "output-format", "", "output format: text, json, yaml")

	root.AddGroup(
		&cobra.Group{ID: "pipeline", Title: "Pipeline:"},
		&cobra.Group{ID: "memory", Title: "Memory:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	for _, c := range []*cobra.Command{
		cmd.NewTranscribeCommand(deps),
		cmd.NewFormatCommand(deps),
		cmd.NewAnalyzeCommand(deps),
		cmd.NewProcessCommand(deps),
		cmd.NewWatchCommand(deps),
	} {
		c.GroupID = "pipeline"
		root.AddCommand(c)
	}

	memoryCmd := cmd.NewMemoryCommand(deps)
	memoryCmd.GroupID = "memory"
	root.AddCommand(memoryCmd)

	authCmd := cmd.NewAuthCommand(deps)
	authCmd.GroupID = "setup"
	root.AddCommand(authCmd)

	version := newVersionCommand()
	version.GroupID = "setup"
	root.AddCommand(version)

	return root
}

// newVersionCommand prints version information.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, commit hash, and build time of meetmem.

Use --output-format json for machine-readable output.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return printVersion(c.OutOrStdout(), config.OutputFormat(outputFormat))
		},
	}
}

func printVersion(w io.Writer, format config.OutputFormat) error {
	switch format {
	case config.OutputFormatJSON, config.OutputFormatYAML:
		return cmd.WriteOutput(w, format, buildinfo.Get("meetmem"))
	default:
		fmt.Fprintf(w, "meetmem %s\n", buildinfo.String())
		return nil
	}
}

// reportError prints err and, for a failed pipeline stage, how to retry it.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	var pe *mmerrors.PipelineError
	if !errors.As(err, &pe) {
		return
	}
	if pe.Path != "" {
		fmt.Fprintf(w, "  Retry from: %s\n", pe.Path)
	}
	if action := mmerrors.GetSuggestedAction(pe.Code); action != "" {
		fmt.Fprintf(w, "  Suggested action: %s\n", action)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := cmd.DefaultDeps()
	deps.LoadConfig = loadConfig

	root := newRootCommand(deps)
	if err := root.ExecuteContext(ctx); err != nil {
		reportError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
