// Package boot wires every component into a single typed service locator
// and drives the two-phase init -> start sequence.
//
// Grounded on the teacher's cmd/main.go, which builds ~35 services by hand
// in a long sequential function before calling router.Run. That pattern's
// package-level singleton is reachable from anywhere; here it's replaced
// with an explicit, passed-around struct instead.
package boot

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/streamspace/pluginrt/internal/catalog"
	"github.com/streamspace/pluginrt/internal/config"
	"github.com/streamspace/pluginrt/internal/db"
	"github.com/streamspace/pluginrt/internal/gateway"
	"github.com/streamspace/pluginrt/internal/hooks"
	"github.com/streamspace/pluginrt/internal/httpchain"
	"github.com/streamspace/pluginrt/internal/logger"
	"github.com/streamspace/pluginrt/internal/pulse"
	"github.com/streamspace/pluginrt/internal/search"
	"github.com/streamspace/pluginrt/internal/storage"
	"github.com/streamspace/pluginrt/internal/store"
	"github.com/streamspace/pluginrt/internal/syndication"
)

// Version is the runtime's own semver, gating every plugin's
// RuntimeCompat constraint. Bump this alongside any breaking change to
// the hook contracts plugins depend on.
const Version = "1.0.0"

// Runtime is the explicit service locator spec.md §9 calls for in place
// of a package-level global: every component a request handler, a
// plugin's hook callback, or a CLI subcommand needs is reachable off one
// struct passed down from main, rather than off ambient package state.
type Runtime struct {
	Env *config.Env

	DB        *db.Database
	Hooks     *hooks.Engine
	Store     *store.Store
	Catalog   *catalog.Catalog
	Gateway   *gateway.Gateway
	Chain     *httpchain.Chain
	Pulse     *pulse.Scheduler
	Storage   *storage.Storage
	Search    *search.Coordinator
	Syndicate *syndication.Service

	Discovery *catalog.Discovery
	server    *http.Server
}

// New runs the "init" phase: load config, connect the database, and wire
// every component's constructor together. Nothing starts running yet —
// no HTTP listener, no cron ticks, no plugin lifecycle hooks fired. That
// happens in Start, matching spec.md §4.10's two-phase boot split.
func New(envSource string) (*Runtime, error) {
	env, err := config.Load(envSource)
	if err != nil {
		return nil, fmt.Errorf("boot: loading config: %w", err)
	}
	logger.Initialize(env.LogLevel, true)

	database, err := db.NewDatabaseFromDSN(env.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("boot: connecting database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("boot: migrating database: %w", err)
	}

	h := hooks.New()
	st := store.New(database, h)

	cat, err := catalog.New(Version, st, h)
	if err != nil {
		return nil, fmt.Errorf("boot: creating catalog: %w", err)
	}

	var redisClient *redis.Client
	if env.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: env.RedisAddr})
	}

	rt := &Runtime{
		Env:       env,
		DB:        database,
		Hooks:     h,
		Store:     st,
		Catalog:   cat,
		Gateway:   gateway.New(cat),
		Chain:     httpchain.New(),
		Pulse:     pulse.New(),
		Storage:   storage.New(database),
		Search:    search.New(database, h),
		Syndicate: syndication.New(database, h, env.RefreshSecret, env.AccessSecret, "pluginrt", redisClient),
	}
	rt.Discovery = catalog.NewDiscovery(cat, env.PluginRoots...)
	return rt, nil
}

// Start runs the "start" phase of spec.md §4.10: it fires
// before-capability-load, reconciles the plugin catalog against its
// persisted rows (which itself fires every lifecycle hook a plugin's
// first activation or version bump implies), starts the task scheduler,
// fires start, opens the HTTP listener, and finally fires running once
// the server is actually accepting connections.
func (rt *Runtime) Start() error {
	req := map[string]interface{}{}

	rt.Hooks.Run("before-capability-load", req)

	if len(rt.Env.PluginRoots) > 0 {
		if err := rt.Discovery.Scan(nil); err != nil {
			return fmt.Errorf("boot: scanning plugin manifests: %w", err)
		}
	}

	if err := rt.Catalog.Start(req); err != nil {
		return fmt.Errorf("boot: syncing plugin catalog: %w", err)
	}

	// spec.md §4.3.7: index every configured content type once at start,
	// then schedule the recurring full reindex under the fixed task id
	// content-search-indexing.
	for _, contentType := range rt.Env.ContentTypes {
		if err := rt.Search.Index(contentType); err != nil {
			logger.Emit("boot", logger.LevelWarn, "initial search index failed",
				map[string]interface{}{"type": contentType, "error": err.Error()})
		}
	}
	if len(rt.Env.ContentTypes) > 0 {
		if err := rt.Search.ScheduleReindex(rt.Pulse, rt.Env.ContentTypes, rt.Env.IndexFrequency); err != nil {
			return fmt.Errorf("boot: scheduling search reindex: %w", err)
		}
		// spec.md §4.3.7: a setting-set hook rewrites the reindex schedule
		// when the index-frequency setting changes at runtime.
		rt.Hooks.Register("setting-set", func(params []interface{}, _ *hooks.Context) error {
			if len(params) < 2 {
				return nil
			}
			key, _ := params[0].(string)
			if key != "index-frequency" {
				return nil
			}
			frequency, _ := params[1].(string)
			return rt.Search.RescheduleIndexFrequency(rt.Pulse, rt.Env.ContentTypes, frequency)
		}, hooks.PriorityNeutral, "", "default")
	}

	rt.Pulse.Start()
	rt.Hooks.Run("start", req)

	engine := gin.New()
	engine.Use(gin.Recovery())
	rt.Chain.Apply(engine)

	rt.server = &http.Server{Addr: ":" + rt.Env.Port, Handler: engine}
	ln, err := net.Listen("tcp", rt.server.Addr)
	if err != nil {
		return fmt.Errorf("boot: listening on %s: %w", rt.server.Addr, err)
	}
	go func() {
		if err := rt.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Emit("boot", logger.LevelError, "http server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	rt.Hooks.Run("running", req)
	logger.Log.Info().Str("port", rt.Env.Port).Msg("runtime started")
	return nil
}

// Stop stops the task scheduler and then drains the HTTP server, the
// graceful shutdown sequence grounded on the teacher's cmd/main.go
// signal-handling tail. Scheduler.Stop does not wait for an in-flight task
// run to return.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.Pulse.Stop()
	if rt.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return rt.server.Shutdown(shutdownCtx)
}
