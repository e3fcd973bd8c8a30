// Package app assembles the application: configuration, model provider,
// storage, tools, the conversation controller, speech synthesis, and the
// HTTP server.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/banxian/internal/agent"
	"github.com/koopa0/banxian/internal/config"
	"github.com/koopa0/banxian/internal/knowledge"
	"github.com/koopa0/banxian/internal/session"
	"github.com/koopa0/banxian/internal/speech"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit     *genkit.Genkit
	Pool       *pgxpool.Pool // nil when running on the in-process fallback store
	Sessions   *session.Store
	Knowledge  *knowledge.Store    // nil without Postgres
	Ingestor   *knowledge.Ingestor // nil without Postgres
	Controller *agent.Controller
	Speech     *speech.Runner // nil without an Azure TTS key
	Handler    http.Handler

	// Background lifecycle: bgCancel stops detached jobs, wg tracks them.
	bgCancel context.CancelFunc
	wg       *sync.WaitGroup
}

// Close releases resources in reverse dependency order: stop accepting new
// background work, wait for in-flight audio jobs, then close the pool.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.bgCancel != nil {
		a.bgCancel()
	}
	if a.wg != nil {
		a.wg.Wait()
	}
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}
	return nil
}
