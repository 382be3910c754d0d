package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/echolabs/echosync/internal/activity"
	"github.com/echolabs/echosync/internal/bridge"
	"github.com/echolabs/echosync/internal/model"
	"github.com/echolabs/echosync/internal/status"
)

// InspectReport is the JSON shape of `echosync inspect`.
type InspectReport struct {
	Echoes     []EchoSummary    `json:"echoes"`
	PendingOps []OpSummary      `json:"pendingOps"`
	Feed       []activity.Group `json:"feed,omitempty"`
}

// EchoSummary is one echo row in the inspect output.
type EchoSummary struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Status    model.EchoStatus `json:"status"`
	IsPrivate bool             `json:"isPrivate"`
	Media     int              `json:"media"`
	Progress  float64          `json:"progress"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// OpSummary is one pending-op row in the inspect output.
type OpSummary struct {
	ID         int64            `json:"id"`
	EntityType model.EntityType `json:"entityType"`
	EntityID   string           `json:"entityId"`
	Action     model.OpAction   `json:"action"`
	RetryCount int              `json:"retryCount"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// NewInspectCommand creates the inspect command: a read-only dump of
// local engine state, useful when diagnosing why something has not
// synced.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	var echoID string

	cmd := &cobra.Command{
		Use:           "inspect",
		Short:         "Dump local echoes, pending operations, and the activity feed",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, cmd, echoID)
		},
	}

	cmd.Flags().StringVar(&echoID, "echo", "", "limit the activity feed to one echo id")
	return cmd
}

func runInspect(rootOpts *RootOptions, cmd *cobra.Command, echoID string) error {
	formatter := &OutputFormatter{
		Format:    rootOpts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   rootOpts.Verbose,
	}

	cfg, err := rootOpts.LoadConfig()
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("load config: %v", err), nil)
		return WrapExitError(ExitCommandError, "load config", err)
	}

	ctx := cmd.Context()
	sc, err := bridge.NewSyncContext(ctx, cfg.StorePath, nil, nil)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("open store: %v", err), nil)
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer sc.Dispose()

	now := time.Now()
	report := InspectReport{}

	for _, e := range sc.Repo().GetAll() {
		report.Echoes = append(report.Echoes, EchoSummary{
			ID:        e.ID,
			Title:     e.Title,
			Status:    status.Effective(e, now),
			IsPrivate: e.IsPrivate,
			Media:     len(e.Media),
			Progress:  status.Progress(e, now),
			UpdatedAt: e.UpdatedAt,
		})
	}

	ops, err := sc.Store().PendingOps(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("list pending ops: %v", err), nil)
		return WrapExitError(ExitCommandError, "list pending ops", err)
	}
	for _, op := range ops {
		report.PendingOps = append(report.PendingOps, OpSummary{
			ID:         op.ID,
			EntityType: op.EntityType,
			EntityID:   op.EntityID,
			Action:     op.Action,
			RetryCount: op.RetryCount,
			CreatedAt:  op.CreatedAt,
		})
	}

	var acts []model.Activity
	if echoID != "" {
		acts, err = sc.Store().ActivitiesForEcho(ctx, echoID)
	} else {
		acts, err = sc.Store().AllActivities(ctx)
	}
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, fmt.Sprintf("list activities: %v", err), nil)
		return WrapExitError(ExitCommandError, "list activities", err)
	}
	report.Feed = activity.Aggregate(acts, activity.WithWindow(cfg.AggregationWindow()))

	if formatter.Format == "json" {
		return formatter.Success(report)
	}
	return printInspectText(formatter, report)
}

func printInspectText(formatter *OutputFormatter, report InspectReport) error {
	w := tabwriter.NewWriter(formatter.Writer, 2, 4, 2, ' ', 0)

	fmt.Fprintf(w, "ECHOES (%d)\n", len(report.Echoes))
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIVATE\tMEDIA\tPROGRESS")
	for _, e := range report.Echoes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%.0f%%\n",
			e.ID, e.Title, e.Status, e.IsPrivate, e.Media, e.Progress*100)
	}

	fmt.Fprintf(w, "\nPENDING OPS (%d)\n", len(report.PendingOps))
	if len(report.PendingOps) > 0 {
		fmt.Fprintln(w, "ID\tENTITY\tACTION\tRETRIES\tQUEUED")
		for _, op := range report.PendingOps {
			fmt.Fprintf(w, "%d\t%s/%s\t%s\t%d\t%s\n",
				op.ID, op.EntityType, op.EntityID, op.Action, op.RetryCount,
				op.CreatedAt.Format(time.RFC3339))
		}
	}

	fmt.Fprintf(w, "\nFEED (%d entries)\n", len(report.Feed))
	for _, g := range report.Feed {
		a := g.Activity
		line := fmt.Sprintf("%s\t%s\t%s", a.Timestamp.Format(time.RFC3339), a.Type, a.UserName)
		if g.MemoryCount > 1 {
			line += fmt.Sprintf("\t(%d memories)", g.MemoryCount)
		}
		fmt.Fprintln(w, line)
	}

	return w.Flush()
}
