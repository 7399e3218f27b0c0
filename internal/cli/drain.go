package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/erauner12/garagesync/internal/offline"
	"github.com/spf13/cobra"
)

// NewDrainCommand creates the drain command.
func NewDrainCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Probe the API and replay the pending queue once",
		Long: `Probe the API health endpoint and, when it answers, replay every
pending operation in order. Exits 1 when the API is unreachable or any
operation failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd.Context(), func(c *offline.Client) error {
				if !c.Probe(cmd.Context()) {
					return NewExitError(ExitFailure, "API unreachable at "+c.Config.APIBaseURL)
				}

				res, err := c.Engine.Drain(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "drain failed", err)
				}
				remaining, err := c.Accessor.PendingCount(cmd.Context(), "")
				if err != nil {
					return err
				}

				summary := struct {
					Success   int `json:"success"`
					Failed    int `json:"failed"`
					Abandoned int `json:"abandoned"`
					Remaining int `json:"remaining"`
				}{res.Success, res.Failed, res.Abandoned, remaining}

				err = output(cmd.OutOrStdout(), opts.Format, summary, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "success\t%d\nfailed\t%d\nabandoned\t%d\nremaining\t%d\n",
						summary.Success, summary.Failed, summary.Abandoned, summary.Remaining)
				})
				if err != nil {
					return err
				}
				if res.Failed > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d operation(s) failed", res.Failed))
				}
				return nil
			})
		},
	}
}
