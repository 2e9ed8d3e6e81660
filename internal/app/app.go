// Package app builds the application: database, AI provider, stores,
// the retrieval pipeline, and the chat engine. Setup wires everything
// and App.Close releases it in reverse order.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nourly/nourly/internal/chat"
	"github.com/nourly/nourly/internal/config"
	"github.com/nourly/nourly/internal/log"
	"github.com/nourly/nourly/internal/rag"
)

// closeWait caps how long Close waits for in-flight background memory
// writes before giving up.
const closeWait = 10 * time.Second

// App is the assembled application.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit  *genkit.Genkit
	Pool    *pgxpool.Pool
	Engine  *chat.Engine
	Indexer *rag.Indexer

	wg          *sync.WaitGroup
	cancelBg    context.CancelFunc
	otelCleanup func()
}

// Close shuts the application down: waits for background memory writes,
// then releases the pool and flushes traces.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.wg != nil {
		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(closeWait):
			a.Logger.Warn("background writes still pending at shutdown", "waited", closeWait)
		}
	}
	if a.cancelBg != nil {
		a.cancelBg()
	}

	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
