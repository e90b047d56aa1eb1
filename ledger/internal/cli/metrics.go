package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/metrics"
)

// NewMetricsCommand creates the metrics command group.
func NewMetricsCommand(opts *RootOptions) *cobra.Command {
	var from, to int64
	var limit int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Inspect the metrics log",
	}
	query := &cobra.Command{
		Use:   "query",
		Short: "List metric points, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := metrics.Filter{Limit: limit}
			if cmd.Flags().Changed("from") {
				f.From = &from
			}
			if cmd.Flags().Changed("to") {
				f.To = &to
			}
			store := metrics.NewStore(opts.MetricsLog, metrics.WithChunkSize(opts.ChunkSize))
			points, err := store.Query(cmd.Context(), f)
			if err != nil {
				return WrapExitError(ExitCommandError, "query metrics log", err)
			}
			return opts.out(cmd).emit(points, func(w io.Writer) {
				for _, p := range points {
					fmt.Fprintf(w, "%d  %s  n=%d auroc=%g brier=%g ece=%g threshold=%g\n",
						p.T, p.ID, p.N, p.AUROC, p.Brier, p.ECE, p.Threshold)
				}
			})
		},
	}
	query.Flags().Int64Var(&from, "from", 0, "earliest epoch millis (inclusive)")
	query.Flags().Int64Var(&to, "to", 0, "latest epoch millis (inclusive)")
	query.Flags().IntVar(&limit, "limit", metrics.DefaultQueryLimit, "maximum points")
	cmd.AddCommand(query)
	return cmd
}
