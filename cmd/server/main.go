package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	envPath    string
)

var rootCmd = &cobra.Command{
	Use:   "kagaz",
	Short: "Chat with your PDFs",
	Long: `Kagaz indexes PDF documents into a vector store and answers questions
about them with a language model.

Run "kagaz serve" for the HTTP API or "kagaz mcp" to expose the same
documents as MCP tools.`,
	SilenceUsage: true,
	Version:      version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "path to an optional .env file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
