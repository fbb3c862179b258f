package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kolkov/syncreplay/internal/replay/logdb"
)

// ThreadOptions holds the flags selecting a recording and a thread.
type ThreadOptions struct {
	*RootOptions
	Recording string
	Thread    string
}

func (o *ThreadOptions) bind(cmd *cobra.Command, thread bool) {
	cmd.Flags().StringVarP(&o.Recording, "recording", "r", "", "recording id (required)")
	_ = cmd.MarkFlagRequired("recording")
	if thread {
		cmd.Flags().StringVarP(&o.Thread, "thread", "t", "", "thread id (required)")
		_ = cmd.MarkFlagRequired("thread")
	}
}

// NewRecordingsCommand creates the recordings command.
func NewRecordingsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recordings",
		Short: "List stored recordings",
		Long: `List the recording ids in the store, oldest first.

Examples:
  synclog recordings --store-dir ./.syncreplay
  synclog recordings --store sqlite --store-dir /var/tmp/rec -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ids, err := st.Recordings(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list recordings", err)
			}
			return opts.printer(cmd).emit(ids, func(w io.Writer) {
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
			})
		},
	}
}

// NewThreadsCommand creates the threads command.
func NewThreadsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ThreadOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List the threads of a recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			threads, err := st.Threads(cmd.Context(), opts.Recording)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list threads", err)
			}
			if len(threads) == 0 {
				return WrapExitError(ExitCommandError, fmt.Sprintf("recording %s not found", opts.Recording), nil)
			}
			return opts.printer(cmd).emit(threads, func(w io.Writer) {
				for _, t := range threads {
					fmt.Fprintln(w, t)
				}
			})
		},
	}
	opts.bind(cmd, false)
	return cmd
}

// NewSegmentsCommand creates the segments command.
func NewSegmentsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ThreadOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "segments",
		Short: "List the stored segments of a thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			segs, err := st.Segments(cmd.Context(), opts.Recording, opts.Thread)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list segments", err)
			}
			type row struct {
				Seq    int    `json:"seq"`
				Format string `json:"format"`
				Size   int    `json:"size"`
			}
			rows := make([]row, len(segs))
			for i, s := range segs {
				rows[i] = row{Seq: s.Seq, Format: s.Format.String(), Size: s.Size}
			}
			return opts.printer(cmd).emit(rows, func(w io.Writer) {
				fmt.Fprintf(w, "%-6s %-8s %s\n", "SEQ", "FORMAT", "BYTES")
				for _, r := range rows {
					fmt.Fprintf(w, "%-6d %-8s %d\n", r.Seq, r.Format, r.Size)
				}
			})
		},
	}
	opts.bind(cmd, true)
	return cmd
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ThreadOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Decode the events of a thread",
		Long: `Decode every segment of a thread in order and print its events.

Compact logs print one line per record with the clock it was recorded at;
runs of boring events are printed as a clock range. Verbose logs print
every event with its tag and object key.

Examples:
  synclog dump -r 01890a5d-ac96-774b-bcce-b302099a8057 -t 0
  synclog dump -r 01890a5d-ac96-774b-bcce-b302099a8057 -t 0.1 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			events, err := dumpThread(cmd.Context(), st, opts.Recording, opts.Thread)
			if err != nil {
				return err
			}
			return opts.printer(cmd).emit(events, func(w io.Writer) {
				for _, e := range events {
					fmt.Fprintln(w, e)
				}
			})
		},
	}
	opts.bind(cmd, true)
	return cmd
}

func dumpThread(ctx context.Context, st logdb.Store, recording, thread string) ([]Event, error) {
	segs, err := st.Segments(ctx, recording, thread)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list segments", err)
	}
	if len(segs) == 0 {
		return nil, WrapExitError(ExitCommandError,
			fmt.Sprintf("no segments for thread %s of recording %s", thread, recording), nil)
	}

	var (
		d      decoder
		events []Event
	)
	for _, info := range segs {
		seg, err := st.Segment(ctx, recording, thread, info.Seq)
		if errors.Is(err, logdb.ErrNotFound) {
			return nil, WrapExitError(ExitFailure, fmt.Sprintf("segment %d vanished", info.Seq), err)
		}
		if err != nil {
			return nil, WrapExitError(ExitFailure, fmt.Sprintf("failed to read segment %d", info.Seq), err)
		}
		evs, err := d.decode(seg)
		if err != nil {
			return nil, WrapExitError(ExitFailure, fmt.Sprintf("segment %d is malformed", info.Seq), err)
		}
		events = append(events, evs...)
	}
	return events, nil
}
