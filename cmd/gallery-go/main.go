package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"webmap_gallery/gallery-go/internal/arcgis"
	"webmap_gallery/gallery-go/internal/config"
	"webmap_gallery/gallery-go/internal/db"
	"webmap_gallery/gallery-go/internal/httpapi"
	"webmap_gallery/gallery-go/internal/itemstore"
	"webmap_gallery/gallery-go/internal/metrics"
	"webmap_gallery/gallery-go/internal/registry"
	"webmap_gallery/gallery-go/internal/webmap"
)

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		bootLog := httpapi.NewLogger("info", nil)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	logger := httpapi.NewLogger(cfg.LogLevel, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *db.Pool
	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		if err := p.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
		pool = p
	}

	a, err := newApp(cfg, logger, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build service")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("portal_url", cfg.PortalURL).
			Bool("item_catalog", pool != nil).
			Msg("gallery-go listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.resolver.Wait()
	logger.Info().Msg("shutdown complete")
}

type app struct {
	handler  http.Handler
	resolver *webmap.Resolver
}

// newApp wires the service. pool may be nil, in which case items come only
// from the portal and the item endpoints report the database as unavailable.
func newApp(cfg config.Config, logger zerolog.Logger, pool *db.Pool) (*app, error) {
	m := metrics.New()
	client := arcgis.NewClient(arcgis.Options{
		Timeout:   cfg.HTTPClientTimeout,
		PortalURL: cfg.PortalURL,
	}, m)

	var (
		items itemstore.Chain
		store httpapi.ItemWriter
	)
	if pool != nil {
		pg := itemstore.NewPostgres(pool.Queries())
		items = append(items, pg)
		store = pg
	}
	items = append(items, itemstore.NewPortal(client))

	resolver := webmap.NewResolver(logger, client, items, m, webmap.Options{
		GalleryPageURL:    cfg.GalleryPageURL,
		ItemLookupTimeout: cfg.ItemLookupTimeout,
	})

	layers, err := registry.New(cfg.LayerCacheSize)
	if err != nil {
		return nil, err
	}

	h := httpapi.NewHandler(logger, pool, httpapi.Deps{
		Resolver:         resolver,
		Features:         client,
		Layers:           layers,
		Items:            store,
		Metrics:          m,
		GalleryPageURL:   cfg.GalleryPageURL,
		GalleryAssetsURL: cfg.GalleryAssetsURL,
		CORSOrigins:      cfg.CORSAllowedOrigins,
	})
	return &app{handler: h.Router(), resolver: resolver}, nil
}
