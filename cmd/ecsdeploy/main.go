package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	ecserr "github.com/fluxcd/ecsdeploy/pkg/errors"
)

func main() {
	root := newRoot()
	rootCmd := root.Command()
	addCommands(rootCmd, root)

	if cmd, err := rootCmd.ExecuteC(); err != nil {
		var uerr usageError
		if errors.As(err, &uerr) {
			cmd.PrintErrln("Error:", err)
			cmd.PrintErrln("")
			cmd.PrintErrln(cmd.UsageString())
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		if help := ecserr.Explain(err).Help; help != "" {
			fmt.Fprintln(os.Stderr)
			fmt.Fprint(os.Stderr, help)
		}
		os.Exit(1)
	}
}
