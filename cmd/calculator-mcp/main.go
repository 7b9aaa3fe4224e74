// Command calculator-mcp runs the calculator MCP server over stdio, or over
// streamable HTTP when --http is given.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentd/pkg/mcpserver/calculator"
)

func main() {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "calculator-mcp",
		Short: "Arithmetic MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := calculator.NewServer()
			if httpAddr != "" {
				return server.NewStreamableHTTPServer(s).Start(httpAddr)
			}
			return server.ServeStdio(s)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "listen address for streamable HTTP (default: stdio)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
