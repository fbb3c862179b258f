package main

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kolkov/syncreplay/internal/replay/config"
	"github.com/kolkov/syncreplay/internal/replay/logdb"
	"github.com/kolkov/syncreplay/replay"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Store    string
	StoreDir string
	Output   string // "text" | "json"
}

// ValidOutputs defines the allowed output formats.
var ValidOutputs = []string{"text", "json"}

// NewRootCommand creates the root command for synclog.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "synclog",
		Short: "Inspect syncreplay recordings",
		Long:  "synclog lists and decodes the per-thread event logs written by a syncreplay recording.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidOutputs, opts.Output) {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("invalid output %q: must be one of %v", opts.Output, ValidOutputs), nil)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Store, "store", envOr(config.EnvStore, def.StoreKind), "store kind (file|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.StoreDir, "store-dir", envOr(config.EnvStoreDir, def.StoreDir), "store directory")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "output format (text|json)")

	cmd.AddCommand(NewRecordingsCommand(opts))
	cmd.AddCommand(NewThreadsCommand(opts))
	cmd.AddCommand(NewSegmentsCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{json: o.Output == "json", w: cmd.OutOrStdout()}
}

// openStore opens the configured store. The directory must exist; synclog
// never creates an empty store.
func (o *RootOptions) openStore() (logdb.Store, error) {
	if o.Store == "memory" {
		return nil, WrapExitError(ExitCommandError, "the memory store cannot be inspected", nil)
	}
	if _, err := os.Stat(o.StoreDir); err != nil {
		return nil, WrapExitError(ExitCommandError, "store directory not found", err)
	}
	st, err := logdb.Open(o.Store, o.StoreDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}

// NewVersionCommand creates the version command.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := struct {
				Version string `json:"version"`
			}{replay.Version}
			return opts.printer(cmd).emit(v, func(w io.Writer) {
				fmt.Fprintf(w, "synclog version %s\n", replay.Version)
			})
		},
	}
}
