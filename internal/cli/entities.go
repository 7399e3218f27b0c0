package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/erauner12/garagesync/internal/accessor"
	"github.com/erauner12/garagesync/internal/models"
	"github.com/erauner12/garagesync/internal/offline"
	"github.com/spf13/cobra"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Page    int
	Limit   int
	Filters []string // key=value
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <table>",
		Short: "List a collection, online first with local fallback",
		Example: `  syncctl list vehicles --filter client_id=4
  syncctl list services --page 2 --limit 20 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := parseFilters(opts.Filters)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid filter", err)
			}
			return opts.withClient(cmd.Context(), func(c *offline.Client) error {
				c.Probe(cmd.Context())
				page, err := c.Accessor.List(cmd.Context(), args[0], "", opts.Page, opts.Limit, filters)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts.Format, page, func(tw *tabwriter.Writer) {
					fmt.Fprintf(tw, "page %d, %d of %d\n", page.Page, len(page.Data), page.Total)
					for _, rec := range page.Data {
						fmt.Fprintln(tw, formatRecord(rec))
					}
				})
			})
		},
	}

	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.Limit, "limit", accessor.DefaultPageSize, "page size")
	cmd.Flags().StringArrayVarP(&opts.Filters, "filter", "f", nil, "exact-match filter key=value (repeatable)")
	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <id>",
		Short: "Fetch one record, online first with local fallback",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || id == 0 {
				return NewExitError(ExitCommandError, "id must be a non-zero integer")
			}
			return opts.withClient(cmd.Context(), func(c *offline.Client) error {
				c.Probe(cmd.Context())
				rec, err := c.Accessor.Get(cmd.Context(), args[0], id, "")
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts.Format, rec, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, formatRecord(rec))
				})
			})
		},
	}
}

// parseFilters turns key=value pairs into accessor filters. Integer values
// are sent as numbers so they match numeric fields locally.
func parseFilters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		switch {
		case v == "true" || v == "false":
			out[k] = v == "true"
		default:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[k] = float64(n)
			} else {
				out[k] = v
			}
		}
	}
	return out, nil
}

func formatRecord(rec models.Record) string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, rec[k]))
	}
	return strings.Join(parts, "\t")
}
