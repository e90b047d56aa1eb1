// Package cli implements ledgerctl, the operator tool for offline verification
// and inspection of the ledger's files.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/audit"
	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format      string // "json" | "text"
	AuditLog    string
	MetricsLog  string
	ArchiveRoot string
	ChunkSize   int
	DatabaseURL string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the ledgerctl root command. File locations default to
// the server's built-in configuration.
func NewRootCommand() *cobra.Command {
	def := config.Defaults()
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and verify the GxP audit ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.AuditLog, "audit-log", def.Storage.AuditLogPath(), "audit log file")
	pf.StringVar(&opts.MetricsLog, "metrics-log", def.Storage.MetricsLogPath(), "metrics log file")
	pf.StringVar(&opts.ArchiveRoot, "archive-root", def.Archive.Root, "archive root directory")
	pf.IntVar(&opts.ChunkSize, "chunk-size", def.Storage.ChunkSize, "backward scan block size in bytes")
	pf.StringVar(&opts.DatabaseURL, "database-url", os.Getenv("LEDGER_DATABASE_URL"), "Postgres DSN holding chain anchors")

	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewTailCommand(opts))
	cmd.AddCommand(NewArchiveCommand(opts))
	cmd.AddCommand(NewMetricsCommand(opts))
	cmd.AddCommand(NewAnchorsCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) out(cmd *cobra.Command) *formatter {
	return &formatter{format: o.Format, w: cmd.OutOrStdout()}
}

// parseTimeFlag accepts the timestamp forms the audit log stores.
func parseTimeFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := audit.ParseTimestamp(v)
	if err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --%s %q: want RFC 3339 or YYYY-MM-DD", name, v))
	}
	return &t, nil
}
