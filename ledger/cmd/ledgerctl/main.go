package main

import (
	"fmt"
	"os"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
