// Package app provides application initialization and dependency
// wiring.
//
// Setup builds every component in dependency order and returns an App
// holding the wired graph. Call Close() to release resources.
package app

import (
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docsage/docsage/internal/completion"
	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/history"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/log"
	"github.com/docsage/docsage/internal/notify"
	"github.com/docsage/docsage/internal/pipeline"
	"github.com/docsage/docsage/internal/token"
	"github.com/docsage/docsage/internal/user"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Tokens     *token.Service
	Users      *user.Store
	Registry   *index.Registry
	Completion *completion.Client
	History    *history.Ledger
	Pipeline   *pipeline.Pipeline
	Notifier   notify.Notifier

	otelCleanup func()
	dbCleanup   func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.dbCleanup != nil {
		a.dbCleanup()
		a.logger().Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

func (a *App) logger() log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// shutdownTimeout bounds trace flushing during Close.
const shutdownTimeout = 5 * time.Second
