package main

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file-or-url>",
	Short: "Index a PDF from disk or the web",
	Long: `Register a PDF and index it synchronously. Prints the new document id,
which the other commands and the API accept.

Examples:
  kagaz ingest ./papers/attention.pdf --title "Attention"
  kagaz ingest https://example.com/report.pdf --owner 42`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().String("title", "", "document title (default: file name)")
	ingestCmd.Flags().Int64("owner", 0, "user id that owns the document")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	title, _ := cmd.Flags().GetString("title")
	owner, _ := cmd.Flags().GetInt64("owner")

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	source := args[0]
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		abs, err := filepath.Abs(source)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", source, err)
		}
		a.loader.AllowLocalFiles("/")
		source = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	if title == "" {
		title = filepath.Base(args[0])
	}

	doc, err := a.retriever.Register(cmd.Context(), owner, title, source)
	if err != nil {
		return err
	}
	if err := a.retriever.IndexDocument(cmd.Context(), doc.ID); err != nil {
		return fmt.Errorf("index %s: %w", doc.ID, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
	return nil
}
