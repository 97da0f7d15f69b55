package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetmem/pkg/analysis"
	"github.com/otherjamesbrown/meetmem/pkg/logging"
	"github.com/otherjamesbrown/meetmem/pkg/memory"
)

// NewMemoryCommand creates the 'memory' command group.
func NewMemoryCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Query and grow the meeting memory",
		Long: `Query and grow the meeting memory.

Every decision, action item and follow-up of an indexed analysis is stored
as a record with its meeting, section and speaker. Records can be searched
by meaning, listed by meeting or speaker, and summarized across meetings.

The backend is set by memory.backend in the config file: sqlite (default),
postgres, cassandra or memory.

Examples:
  meetmem memory add output/standup_analysis.json --meeting-id standup-0304
  meetmem memory search "database migration" -k 3
  meetmem memory history standup-0304
  meetmem memory speaker Alice
  meetmem memory summary
  meetmem memory speaker-summary Alice`,
		Aliases: []string{"mem"},
	}

	cmd.AddCommand(newMemoryAddCommand(deps))
	cmd.AddCommand(newMemorySearchCommand(deps))
	cmd.AddCommand(newMemoryHistoryCommand(deps))
	cmd.AddCommand(newMemorySpeakerCommand(deps))
	cmd.AddCommand(newMemorySummaryCommand(deps))
	cmd.AddCommand(newMemorySpeakerSummaryCommand(deps))
	cmd.AddCommand(newMemoryCountCommand(deps))

	return cmd
}

// withIndex opens a session and a memory index and runs fn with them.
func withIndex(cmd *cobra.Command, deps *Deps, fn func(ctx context.Context, s *session, ix *memory.Index) error) error {
	s, err := deps.open(overrides{})
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Warn("Closing session failed", logging.Err(err))
		}
	}()

	client, err := s.client()
	if err != nil {
		return err
	}
	ix, err := s.index(cmd.Context(), client)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), s, ix)
}

type addResult struct {
	MeetingID string `json:"meeting_id" yaml:"meeting_id"`
	Records   int    `json:"records" yaml:"records"`
}

func newMemoryAddCommand(deps *Deps) *cobra.Command {
	var meetingID string

	cmd := &cobra.Command{
		Use:   "add <analysis.json>",
		Short: "Index an analysis",
		Long: `Index the decisions, action items and follow-ups of an analysis.

Without --meeting-id the meeting is named after the current time
(meeting_YYYYMMDD_HHMMSS). Adding the same analysis under the same meeting id
again overwrites its records instead of duplicating them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := analysis.Load(args[0])
			if err != nil {
				return err
			}
			return withIndex(cmd, deps, func(ctx context.Context, s *session, ix *memory.Index) error {
				id, err := ix.Add(ctx, *result, meetingID)
				if err != nil {
					return err
				}
				records, err := ix.GetByMeeting(ctx, id)
				if err != nil {
					return err
				}

				res := addResult{MeetingID: id, Records: len(records)}
				return writeOutput(cmd.OutOrStdout(), s.cfg.OutputFormat, res, func(w io.Writer) error {
					fmt.Fprintf(w, "Indexed %d records under %s\n", res.Records, res.MeetingID)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&meetingID, "meeting-id", "", "Meeting id (default: meeting_<timestamp>)")
	return cmd
}

func newMemorySearchCommand(deps *Deps) *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the records closest in meaning to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withIndex(cmd, deps, func(ctx context.Context, s *session, ix *memory.Index) error {
				if !cmd.Flags().Changed("k") {
					k = s.cfg.Memory.SearchK
				}
				records, err := ix.Search(ctx, query, k)
				if err != nil {
					return err
				}
				return writeRecords(cmd.OutOrStdout(), s, records, true)
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", memory.DefaultK, "Number of results")
	return cmd
}

func newMemoryHistoryCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "history <meeting-id>",
		Short: "List every record of a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, deps, func(ctx context.Context, s *session, ix *memory.Index) error {
				records, err := ix.GetByMeeting(ctx, args[0])
				if err != nil {
					return err
				}
				return writeRecords(cmd.OutOrStdout(), s, records, false)
			})
		},
	}
}

func newMemorySpeakerCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "speaker <name>",
		Short: "List every record attributed to a speaker",
		Long: `List every record attributed to a speaker across meetings.

Decisions are attributed to whoever made them and action items to their
owner. Follow-ups and unowned items are attributed to "general".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, deps, func(ctx context.Context, s *session, ix *memory.Index) error {
				records, err := ix.GetBySpeaker(ctx, args[0])
				if err != nil {
					return err
				}
				return writeRecords(cmd.OutOrStdout(), s, records, false)
			})
		},
	}
}

type summaryResult struct {
	Speaker string `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Summary string `json:"summary" yaml:"summary"`
}

func newMemorySummaryCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Summarize everything in memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, deps, func(ctx context.Context, s *session, ix *memory.Index) error {
				text, err := ix.SynthesizeAll(ctx)
				if err != nil {
					return err
				}
				return writeSummary(cmd.OutOrStdout(), s, summaryResult{Summary: text})
			})
		},
	}
}

func newMemorySpeakerSummaryCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "speaker-summary <name>",
		Short: "Summarize one speaker's contributions across meetings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, deps, func(ctx context.Context, s *session, ix *memory.Index) error {
				text, err := ix.SynthesizeSpeaker(ctx, args[0])
				if err != nil {
					return err
				}
				return writeSummary(cmd.OutOrStdout(), s, summaryResult{Speaker: args[0], Summary: text})
			})
		},
	}
}

func newMemoryCountCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, deps, func(ctx context.Context, s *session, ix *memory.Index) error {
				n, err := ix.Count(ctx)
				if err != nil {
					return err
				}
				res := map[string]int{"records": n}
				return writeOutput(cmd.OutOrStdout(), s.cfg.OutputFormat, res, func(w io.Writer) error {
					fmt.Fprintln(w, n)
					return nil
				})
			})
		},
	}
}

func writeSummary(w io.Writer, s *session, res summaryResult) error {
	return writeOutput(w, s.cfg.OutputFormat, res, func(w io.Writer) error {
		fmt.Fprintln(w, res.Summary)
		return nil
	})
}

func writeRecords(w io.Writer, s *session, records []memory.Record, withScore bool) error {
	if records == nil {
		records = []memory.Record{}
	}
	return writeOutput(w, s.cfg.OutputFormat, records, func(w io.Writer) error {
		if len(records) == 0 {
			fmt.Fprintln(w, "No records found.")
			return nil
		}
		headers := []string{"Meeting", "Section", "Speaker", "Document"}
		aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft}
		if withScore {
			headers = append(headers, "Score")
			aligns = append(aligns, alignRight)
		}
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			row := []string{r.Metadata.MeetingID, string(r.Metadata.Section), r.Metadata.Speaker, truncate(r.Document, 70)}
			if withScore {
				row = append(row, strconv.FormatFloat(r.Score, 'f', 3, 64))
			}
			rows = append(rows, row)
		}
		fmt.Fprintln(w, renderTable(headers, rows, aligns))
		fmt.Fprintf(w, "%d records\n", len(records))
		return nil
	})
}
