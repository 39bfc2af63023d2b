package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clearway",
	Short: "Clearway relays calls to a challenge-protected upstream through a pool of account tokens",
	Long: `Clearway keeps a shared clearance credential fresh, rotates egress nodes when the
upstream challenges them, and relays client calls through a pool of account tokens.

Configuration is read from CLEARWAY_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(issueTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
