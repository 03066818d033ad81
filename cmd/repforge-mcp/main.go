// Command repforge-mcp serves the RepForge MCP tools over stdio, reading
// data from a remote RepForge server's REST API. Run it from an MCP client
// on a machine that can reach the server over the tailnet.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	repmcp "github.com/claude/repforge/internal/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	remote := flag.String("remote", "", "base URL of the RepForge server (required), e.g. http://repforge")
	flag.Parse()

	// stdout carries the protocol; logs go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *remote == "" {
		fmt.Fprintf(os.Stderr, "Usage: repforge-mcp -remote http://repforge\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	s := repmcp.New(repmcp.NewHTTPClient(*remote), Version, log)
	log.Info("mcp stdio server starting", "remote", *remote, "version", Version)
	if err := mcpserver.ServeStdio(s); err != nil {
		log.Error("mcp server error", "error", err)
		os.Exit(1)
	}
}
