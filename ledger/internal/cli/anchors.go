package cli

import (
	"database/sql"
	"fmt"
	"io"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/anchor"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/keys"
)

// openDB is replaced in tests.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

// NewAnchorsCommand creates the anchors command group.
func NewAnchorsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anchors",
		Short: "Cross-check signed chain anchors against the audit log",
	}
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify anchor signatures and that every anchored hash is still in the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.DatabaseURL == "" {
				return NewExitError(ExitCommandError, "--database-url or LEDGER_DATABASE_URL is required")
			}
			db, err := openDB(opts.DatabaseURL)
			if err != nil {
				return WrapExitError(ExitCommandError, "open database", err)
			}
			defer db.Close()

			ks, err := keys.NewStore(cmd.Context(), db)
			if err != nil {
				return WrapExitError(ExitCommandError, "open signer store", err)
			}
			rep, err := anchor.NewVerifier(anchor.NewPGStore(db), ks).Verify(cmd.Context(), opts.auditStore())
			if err != nil {
				return WrapExitError(ExitCommandError, "verify anchors", err)
			}
			if err := opts.out(cmd).emit(rep, func(w io.Writer) { writeAnchorReport(w, rep) }); err != nil {
				return err
			}
			if !rep.OK {
				return NewExitError(ExitFailure, fmt.Sprintf("%d anchors failed verification", len(rep.Missing)+len(rep.BadSignature)))
			}
			return nil
		},
	}
	cmd.AddCommand(verify)
	return cmd
}

func writeAnchorReport(w io.Writer, rep *anchor.Report) {
	status := "ok"
	if !rep.OK {
		status = "FAILED"
	}
	fmt.Fprintf(w, "anchors: %s (%d checked against %d log records)\n", status, rep.Checked, rep.LogRecords)
	for _, f := range rep.Missing {
		fmt.Fprintf(w, "  missing %s (record %s, hash %s): %s\n", f.AnchorID, f.RecordID, f.Hash, f.Error)
	}
	for _, f := range rep.BadSignature {
		fmt.Fprintf(w, "  bad signature %s (record %s): %s\n", f.AnchorID, f.RecordID, f.Error)
	}
}
