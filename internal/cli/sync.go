package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/echolabs/echosync/internal/bridge"
	"github.com/echolabs/echosync/internal/remote"
)

// SyncResult summarizes one manual flush.
type SyncResult struct {
	PendingBefore int    `json:"pendingBefore"`
	PendingAfter  int    `json:"pendingAfter"`
	RemoteURL     string `json:"remoteUrl"`
	Error         string `json:"error,omitempty"`
}

// NewSyncCommand creates the sync command: a one-shot replay of the
// pending-operation log against the configured remote store.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sync",
		Short:         "Flush the pending-operation log once",
		Long:          "Replays every queued local operation against the remote store. Operations that fail stay queued for the next run.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
	return cmd
}

func runSync(rootOpts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	cfg, err := rootOpts.LoadConfig()
	if err != nil {
		return outputSyncError(formatter, "load config", err)
	}
	if cfg.RemoteURL == "" {
		return outputSyncError(formatter, "sync", fmt.Errorf("no remoteUrl configured"))
	}

	ctx := cmd.Context()
	client := remote.NewClient(cfg.RemoteURL, nil)
	sc, err := bridge.NewSyncContext(ctx, cfg.StorePath, client, nil)
	if err != nil {
		return outputSyncError(formatter, "open engine", err)
	}
	defer sc.Dispose()

	before, err := sc.Store().PendingOps(ctx)
	if err != nil {
		return outputSyncError(formatter, "list pending ops", err)
	}

	result := SyncResult{PendingBefore: len(before), RemoteURL: cfg.RemoteURL}
	flushErr := sc.Bridge().Flush(ctx)

	after, err := sc.Store().PendingOps(ctx)
	if err != nil {
		return outputSyncError(formatter, "list pending ops", err)
	}
	result.PendingAfter = len(after)

	if flushErr != nil {
		result.Error = flushErr.Error()
		if formatter.Format == "json" {
			_ = formatter.Success(result)
		} else {
			fmt.Fprintf(formatter.Writer, "flushed %d of %d pending operation(s); %d remain\n",
				result.PendingBefore-result.PendingAfter, result.PendingBefore, result.PendingAfter)
			fmt.Fprintf(formatter.Writer, "  %v\n", flushErr)
		}
		return NewExitError(ExitFailure, "some operations did not flush")
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "flushed %d pending operation(s)\n", result.PendingBefore)
	return nil
}

func outputSyncError(formatter *OutputFormatter, msg string, err error) error {
	_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("%s: %v", msg, err), nil)
	return WrapExitError(ExitCommandError, msg, err)
}
