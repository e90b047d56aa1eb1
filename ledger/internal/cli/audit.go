package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/audit"
)

func (o *RootOptions) auditStore() *audit.Store {
	return audit.NewStore(o.AuditLog, audit.WithChunkSize(o.ChunkSize))
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Walk the audit log and check every hash link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.auditStore().Verify(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "verify audit log", err)
			}
			if err := opts.out(cmd).emit(res, func(w io.Writer) {
				if res.Valid {
					fmt.Fprintf(w, "chain valid: %d records\n", res.N)
					return
				}
				fmt.Fprintf(w, "%s at index %d: %s\n", res.Message, res.AtIndex, res.Reason)
			}); err != nil {
				return err
			}
			if !res.Valid {
				return NewExitError(ExitFailure, fmt.Sprintf("audit chain broken at index %d", res.AtIndex))
			}
			return nil
		},
	}
}

// NewQueryCommand creates the query command.
func NewQueryCommand(opts *RootOptions) *cobra.Command {
	var from, to string
	var limit int
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := audit.Filter{Limit: limit}
			var err error
			if f.From, err = parseTimeFlag("from", from); err != nil {
				return err
			}
			if f.To, err = parseTimeFlag("to", to); err != nil {
				return err
			}
			recs, err := opts.auditStore().Query(cmd.Context(), f)
			if err != nil {
				return WrapExitError(ExitCommandError, "query audit log", err)
			}
			return opts.out(cmd).emit(recs, func(w io.Writer) {
				for _, r := range recs {
					fmt.Fprintf(w, "%s  %s  %s/%s  %s  %s  %s\n",
						r.Timestamp, r.ID, r.UserID, r.UserRole, r.Module, r.Action, r.Outcome)
				}
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "earliest timestamp (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "latest timestamp (inclusive)")
	cmd.Flags().IntVar(&limit, "limit", audit.DefaultQueryLimit, "maximum records")
	return cmd
}

// NewTailCommand creates the tail command.
func NewTailCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Print the hash the next appended record will chain to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := opts.auditStore().TailHash(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read tail hash", err)
			}
			return opts.out(cmd).emit(map[string]*string{"hash": hash}, func(w io.Writer) {
				if hash == nil {
					fmt.Fprintln(w, "(empty log)")
					return
				}
				fmt.Fprintln(w, *hash)
			})
		},
	}
}
