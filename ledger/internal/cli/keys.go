package cli

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/config"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/signer"
)

// KeygenResult is the output of keygen. Seed is the value for LEDGER_ANCHOR_SIGNING_KEY.
type KeygenResult struct {
	SignerID  string `json:"signerId"`
	Algorithm string `json:"algorithm"`
	Seed      string `json:"seed"`
	PublicKey string `json:"publicKey"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(opts *RootOptions) *cobra.Command {
	var signerID string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 anchor signing seed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				return WrapExitError(ExitCommandError, "generate seed", err)
			}
			seedB64 := base64.StdEncoding.EncodeToString(seed)
			s, err := signer.NewLocalSignerFromSeed(signerID, seedB64)
			if err != nil {
				return WrapExitError(ExitCommandError, "derive key", err)
			}
			res := KeygenResult{
				SignerID:  s.ID(),
				Algorithm: signer.Algorithm,
				Seed:      seedB64,
				PublicKey: base64.StdEncoding.EncodeToString(s.PublicKey()),
			}
			return opts.out(cmd).emit(res, func(w io.Writer) {
				fmt.Fprintf(w, "LEDGER_ANCHOR_SIGNER_ID=%s\n", res.SignerID)
				fmt.Fprintf(w, "LEDGER_ANCHOR_SIGNING_KEY=%s\n", res.Seed)
				fmt.Fprintf(w, "# public key (%s): %s\n", res.Algorithm, res.PublicKey)
			})
		},
	}
	cmd.Flags().StringVar(&signerID, "signer-id", config.Defaults().Anchor.SignerID, "signer id the key is registered under")
	return cmd
}
