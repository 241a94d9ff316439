package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask <document-id> <question...>",
	Short: "Ask one question about an indexed document",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.orchestrator.Ask(cmd.Context(), args[0], strings.Join(args[1:], " "))
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return err
}
