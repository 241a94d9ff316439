package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/Ankitmohanty2/Kagaz/internal/auth"
	"github.com/Ankitmohanty2/Kagaz/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose indexed documents as MCP tools",
	Long: `Start a Model Context Protocol server with the search_document and
ask_document tools.

By default the server listens for SSE clients on mcp.address (loopback
unless configured otherwise). SSE clients send "Authorization: Bearer
<token>" and only see their own documents. Use --stdio to speak JSON-RPC
over stdin/stdout instead, for desktop assistants that launch the binary
themselves; stdio callers are trusted with every document.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().Bool("stdio", false, "serve over stdin/stdout instead of SSE")
	mcpCmd.Flags().Bool("search-only", false, "do not register the ask_document tool")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	stdio, err := cmd.Flags().GetBool("stdio")
	if err != nil {
		return err
	}
	searchOnly, err := cmd.Flags().GetBool("search-only")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var asker mcpserver.Asker
	if !searchOnly {
		asker = a.orchestrator
	}
	opts := mcpserver.Options{Docs: a.store, Retriever: a.retriever, Asker: asker, Trusted: stdio}
	srv := mcpserver.New(a.log, version, opts)

	if stdio {
		return server.ServeStdio(srv)
	}

	authorizer := auth.NewAccessTokenAuthorizer(a.log, a.store, time.Duration(a.cfg.Auth.TokenRefreshSecs)*time.Second)
	sse := server.NewSSEServer(srv,
		server.WithBaseURL(a.cfg.MCP.BaseURL),
		server.WithSSEContextFunc(mcpserver.SSEContext(a.log, authorizer)),
	)
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("MCP server is running", "address", a.cfg.MCP.Address, "base_url", a.cfg.MCP.BaseURL)
		errCh <- sse.Start(a.cfg.MCP.Address)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return sse.Shutdown(context.Background())
	}
}
