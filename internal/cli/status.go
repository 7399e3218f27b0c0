package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/offline"
	"github.com/erauner12/garagesync/internal/queue"
	"github.com/erauner12/garagesync/internal/syncx"
	"github.com/spf13/cobra"
)

// CollectionStatus summarizes one collection of the local mirror.
type CollectionStatus struct {
	Collection string `json:"collection"`
	Rows       int    `json:"rows"`
	Creates    int    `json:"creates"`
	Updates    int    `json:"updates"`
	Deletes    int    `json:"deletes"`
	LastSync   int64  `json:"lastSync"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending operations and last sync per collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd.Context(), func(c *offline.Client) error {
				statuses, err := collectStatus(cmd, c)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts.Format, statuses, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "COLLECTION\tROWS\tCREATE\tUPDATE\tDELETE\tLAST SYNC")
					for _, s := range statuses {
						last := "never"
						if s.LastSync > 0 {
							last = syncx.RFC3339(s.LastSync)
						}
						fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
							s.Collection, s.Rows, s.Creates, s.Updates, s.Deletes, last)
					}
				})
			})
		},
	}
}

func collectStatus(cmd *cobra.Command, c *offline.Client) ([]CollectionStatus, error) {
	ctx := cmd.Context()
	syncs, err := c.Store.SyncStatuses(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]CollectionStatus, 0, len(syncs))
	for _, s := range syncs {
		st := CollectionStatus{Collection: s.Collection, LastSync: s.LastSync}
		if st.Rows, err = c.Store.Count(ctx, s.Collection); err != nil {
			return nil, err
		}
		counts := map[models.OperationType]*int{
			models.OperationCreate: &st.Creates,
			models.OperationUpdate: &st.Updates,
			models.OperationDelete: &st.Deletes,
		}
		for opType, dst := range counts {
			n, err := c.Queue.Count(ctx, queue.Filter{TableName: s.Collection, OperationType: opType})
			if err != nil {
				return nil, err
			}
			*dst = n
		}
		out = append(out, st)
	}
	return out, nil
}
