// Command tycho-cli is a thin HTTP client over the Tycho API, mirroring the
// start/status/delete/modify surface of the original client.py CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var serviceURL string

	root := &cobra.Command{
		Use:   "tycho-cli",
		Short: "Client for the Tycho compute-fabric compiler/executor",
	}
	root.PersistentFlags().StringVarP(&serviceURL, "service", "s", "http://localhost:8080", "Tycho API base URL")

	root.AddCommand(
		newUpCmd(&serviceURL),
		newDownCmd(&serviceURL),
		newStatusCmd(&serviceURL),
		newModifyCmd(&serviceURL),
	)
	return root
}
