// Package cmd provides the nourly CLI commands.
//
// Commands:
//   - serve: HTTP API server for chat and ingestion
//   - ingest: index a document file into a coach's knowledge corpus
//   - version: version and configuration summary
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nourly/nourly/internal/log"
)

// Execute is the main entry point for the nourly CLI.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: os.Getenv("NOURLY_LOG_JSON") != ""})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "ingest":
		return runIngest(logger)
	case "version", "--version", "-v":
		return runVersion()
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Nourly - coaching chat service with retrieval and memory")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  nourly serve [addr]    Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  nourly ingest [flags]  Index a document into a coach's corpus")
	fmt.Println("  nourly version         Show version and configuration")
	fmt.Println("  nourly help            Show this help")
	fmt.Println()
	fmt.Println("Ingest flags:")
	fmt.Println("  -source-id  Stable source identifier (required)")
	fmt.Println("  -coach-id   Coach the document belongs to (required)")
	fmt.Println("  -user-id    Scope the document to one user (default: shared)")
	fmt.Println("  -category   Document category")
	fmt.Println("  -title      Document title")
	fmt.Println("  -tier       Access tier: free or premium (default: free)")
	fmt.Println("  -file       Path to the text file to index (required)")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY     Required for the gemini provider")
	fmt.Println("  DATABASE_URL       Overrides the postgres_* config fields")
	fmt.Println("  DEBUG              Enable debug logging")
	fmt.Println("  NOURLY_LOG_JSON    Switch log output to JSON")
}
