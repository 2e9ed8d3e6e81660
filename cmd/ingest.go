package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nourly/nourly/internal/app"
	"github.com/nourly/nourly/internal/config"
	"github.com/nourly/nourly/internal/log"
	"github.com/nourly/nourly/internal/rag"
)

// runIngest indexes one document file into a coach's corpus.
func runIngest(logger log.Logger) error {
	ingestFlags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	ingestFlags.SetOutput(os.Stderr)

	sourceID := ingestFlags.String("source-id", "", "Stable source identifier (required)")
	coachID := ingestFlags.String("coach-id", "", "Coach the document belongs to (required)")
	userID := ingestFlags.String("user-id", "", "Scope the document to one user (default: shared)")
	category := ingestFlags.String("category", "", "Document category")
	title := ingestFlags.String("title", "", "Document title")
	tier := ingestFlags.String("tier", "", "Access tier: free or premium")
	file := ingestFlags.String("file", "", "Path to the text file to index (required)")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := ingestFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ingest flags: %w", err)
	}

	if *sourceID == "" || *coachID == "" || *file == "" {
		return fmt.Errorf("-source-id, -coach-id and -file are required")
	}

	text, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *file, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	res, err := a.Indexer.Index(ctx, rag.Source{
		ID:         *sourceID,
		Text:       string(text),
		CoachID:    *coachID,
		UserID:     *userID,
		Category:   *category,
		Title:      *title,
		AccessTier: *tier,
	})
	if err != nil {
		return fmt.Errorf("indexing %s: %w", *sourceID, err)
	}

	fmt.Printf("Indexed %s: %d chunks\n", res.SourceID, res.Chunks)
	return nil
}
