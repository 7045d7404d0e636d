// Package httpapi mounts the chi router and implements every handler in the
// spec's HTTP surface (§6), wiring request parsing and the response
// envelope around the domain packages.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zynqcloud/capdocs/internal/appendlog"
	"github.com/zynqcloud/capdocs/internal/capkey"
	"github.com/zynqcloud/capdocs/internal/config"
	"github.com/zynqcloud/capdocs/internal/fileops"
	"github.com/zynqcloud/capdocs/internal/folder"
	"github.com/zynqcloud/capdocs/internal/ratelimit"
	"github.com/zynqcloud/capdocs/internal/store"
	"github.com/zynqcloud/capdocs/internal/webhook"
	"github.com/zynqcloud/capdocs/internal/workspace"
)

// App holds every dependency a handler needs: the storage layer plus one
// service per domain component, following the teacher's
// New(cfg, backend, logger) http.Handler constructor shape.
type App struct {
	cfg        *config.Config
	store      *store.Store
	keys       *capkey.Engine
	appends    *appendlog.Engine
	files      *fileops.Service
	folders    *folder.Service
	webhooks   *webhook.Service
	dispatcher *webhook.Dispatcher
	workspaces *workspace.Service
	limiter    *ratelimit.Limiter
	logger     zerolog.Logger
}

// New builds the full HTTP handler: middleware stack (logging → recover)
// wrapping a chi router mounting every route in §6. Rate limiting is applied
// per request in resolveKey, once the key is known.
func New(cfg *config.Config, s *store.Store, dispatcher *webhook.Dispatcher, logger zerolog.Logger) http.Handler {
	keys := capkey.New(s)
	a := &App{
		cfg:        cfg,
		store:      s,
		keys:       keys,
		appends:    appendlog.New(s),
		files:      fileops.New(s, cfg.SoftDeleteRetention),
		folders:    folder.New(s),
		webhooks:   webhook.New(s),
		dispatcher: dispatcher,
		workspaces: workspace.New(s, keys, cfg.SessionCookieName, cfg.SessionSigningKey, int(cfg.DefaultClaimDuration.Seconds()), cfg.DefaultWIPLimit),
		limiter:    ratelimit.New(cfg.RateLimitPerMinute),
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestLog(logger))
	r.Use(recoverPanic(logger))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/bootstrap", a.handleBootstrap)
	r.Post("/w/{key}/claim", a.handleClaimWorkspace)

	r.Get("/r/{key}/raw", a.handleGetRaw)
	r.Get("/r/{key}/meta", a.handleGetMeta)
	r.Get("/r/{key}/structure", a.handleGetStructure)
	r.Get("/r/{key}/section/{heading}", a.handleGetSection)
	r.Get("/r/{key}/tail", a.handleGetTail)
	r.Get("/r/{key}/ops/file/append/{appendId}", a.handleGetAppend)
	r.Get("/r/{key}/ops/folders/stats", a.handleFolderStats)
	r.Get("/r/{key}/ops/folders/search", a.handleFolderSearch)
	r.Get("/r/{key}/folders/*", a.handleFolderListOrExport)
	r.Get("/r/{key}/*", a.handleGetFile)

	r.Put("/w/{key}/*", a.handlePutFile)
	r.Delete("/w/{key}/*", a.handleDeleteFile)
	r.Patch("/w/{key}", a.handleRenameFile)
	r.Post("/w/{key}/recover", a.handleRecoverFile)
	r.Post("/w/{key}/rotate", a.handleRotateFile)
	r.Post("/w/{key}/move", a.handleMoveFile)
	r.Get("/w/{key}/settings", a.handleGetSettings)
	r.Patch("/w/{key}/settings", a.handlePatchSettings)

	r.Post("/w/{key}/folders", a.handleCreateFolder)
	r.Get("/w/{key}/folders/*", a.handleFolderListOrExport)
	r.Patch("/w/{key}/folders/*", a.handleRenameFolder)
	r.Delete("/w/{key}/folders/*", a.handleDeleteFolder)

	r.Post("/a/{key}/folders/*", a.handleBulkCreate)
	r.Post("/a/{key}/*", a.handlePostAppend)

	r.Post("/w/{key}/webhooks", a.handleRegisterWebhook)
	r.Get("/w/{key}/webhooks", a.handleListWebhooks)
	r.Delete("/w/{key}/webhooks/{id}", a.handleDeleteWebhook)

	r.Post("/w/{key}/keys", a.handleMintKey)
	r.Get("/w/{key}/keys", a.handleListKeys)

	return r
}
