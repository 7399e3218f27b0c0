package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/offline"
	"github.com/erauner12/garagesync/internal/syncx"
	"github.com/spf13/cobra"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	Table      string
	FailedOnly bool
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List queued operations in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd.Context(), func(c *offline.Client) error {
				ops, err := pendingOps(cmd, c, opts)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts.Format, ops, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "QUEUED AT\tTABLE\tOP\tRESOURCE\tMETHOD\tURL\tRETRIES\tLAST ERROR")
					for _, op := range ops {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
							syncx.RFC3339(op.Timestamp), op.TableName, op.OperationType, op.ResourceID,
							op.Method, op.URL, op.RetryCount, op.LastErrorMessage)
					}
				})
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Table, "table", "t", "", "only operations on this collection")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed", false, "only operations that failed at least once")
	return cmd
}

func pendingOps(cmd *cobra.Command, c *offline.Client, opts *PendingOptions) ([]models.PendingOperation, error) {
	var ops []models.PendingOperation
	var err error
	if opts.FailedOnly {
		ops, err = c.Accessor.Failures(cmd.Context())
	} else {
		ops, err = c.Queue.All(cmd.Context())
	}
	if err != nil {
		return nil, err
	}

	out := make([]models.PendingOperation, 0, len(ops))
	for _, op := range ops {
		if opts.Table == "" || op.TableName == opts.Table {
			out = append(out, op)
		}
	}
	return out, nil
}
