package main

import (
	"fmt"
	"os"

	"github.com/bsv-blockchain/blockvault/cmd/vaultcli"
	"github.com/ordishs/gocore"
)

// Name used by build script for the binaries. (Please keep on single line)
const progname = "blockvault"

// Version & commit strings injected at build with -ldflags -X...
var version string
var commit string

func init() {
	gocore.SetInfo(progname, version, commit)
}

func main() {
	if err := vaultcli.NewApp(progname, version, commit).Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", progname, err)
		os.Exit(1)
	}
}
