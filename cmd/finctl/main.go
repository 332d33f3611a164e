// Command finctl is the operator CLI: offline intent and prompt previews,
// a chat REPL against the real stack, and manual heartbeat runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "finctl",
		Short:         "Frepi finance assistant operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newClassifyCmd(),
		newComposeCmd(),
		newChatCmd(),
		newHeartbeatCmd(),
	)
	return root
}
