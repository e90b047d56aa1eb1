package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/audit"
)

// HashResult explains how a single record's hash is derived.
type HashResult struct {
	ID           string  `json:"id"`
	PrevHash     *string `json:"prevHash"`
	Canonical    string  `json:"canonical"`
	StoredHash   string  `json:"storedHash"`
	ComputedHash string  `json:"computedHash"`
	Match        bool    `json:"match"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash [file]",
		Short: "Recompute the hash of one audit record read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			var err error
			if len(args) == 1 && args[0] != "-" {
				raw, err = os.ReadFile(args[0])
			} else {
				raw, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "read record", err)
			}

			var rec audit.Record
			dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(raw)))
			dec.UseNumber()
			if err := dec.Decode(&rec); err != nil {
				return WrapExitError(ExitCommandError, "decode record", err)
			}

			canon, err := audit.CanonicalFields(&rec)
			if err != nil {
				return WrapExitError(ExitCommandError, "canonicalize record", err)
			}
			computed, err := audit.ComputeHash(rec.PrevHash, &rec)
			if err != nil {
				return WrapExitError(ExitCommandError, "hash record", err)
			}
			res := HashResult{
				ID:           rec.ID,
				PrevHash:     rec.PrevHash,
				Canonical:    string(canon),
				StoredHash:   rec.Hash,
				ComputedHash: computed,
				Match:        rec.Hash == computed,
			}
			if err := opts.out(cmd).emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "canonical: %s\n", res.Canonical)
				fmt.Fprintf(w, "stored:    %s\n", res.StoredHash)
				fmt.Fprintf(w, "computed:  %s\n", res.ComputedHash)
				if res.Match {
					fmt.Fprintln(w, "match")
				} else {
					fmt.Fprintln(w, "MISMATCH")
				}
			}); err != nil {
				return err
			}
			if !res.Match {
				return NewExitError(ExitFailure, fmt.Sprintf("record %s: stored hash does not match", rec.ID))
			}
			return nil
		},
	}
}
