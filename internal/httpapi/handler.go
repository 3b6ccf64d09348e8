package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"webmap_gallery/gallery-go/internal/arcgis"
	"webmap_gallery/gallery-go/internal/db"
	"webmap_gallery/gallery-go/internal/metrics"
	"webmap_gallery/gallery-go/internal/registry"
	"webmap_gallery/gallery-go/internal/webmap"
)

const maxBodyBytes = 8 << 20

// LayerResolver turns web map documents into layers.
// *webmap.Resolver satisfies this.
type LayerResolver interface {
	ResolveOperationalLayers(ctx context.Context, webmapURL string) (*webmap.Parsed, error)
	ParseOperationalLayers(raw json.RawMessage) (*webmap.Parsed, error)
}

// FeatureService is the subset of the ArcGIS client used to render popups.
// *arcgis.Client satisfies this.
type FeatureService interface {
	LayerInfo(ctx context.Context, layerURL string) (arcgis.LayerInfo, error)
	QueryFeature(ctx context.Context, layerURL string, objectID int64) (map[string]any, error)
	AttachmentInfos(ctx context.Context, attachmentsURL string) (json.RawMessage, error)
}

// ItemWriter stores portal item data locally. *itemstore.Postgres satisfies this.
type ItemWriter interface {
	Put(ctx context.Context, itemID string, data json.RawMessage) error
	Delete(ctx context.Context, itemID string) error
}

type Deps struct {
	Resolver       LayerResolver
	Features       FeatureService
	Layers         *registry.Layers
	Items          ItemWriter
	Metrics        *metrics.Metrics
	GalleryPageURL string
	// GalleryAssetsURL is where the lightbox stylesheet and script are served
	// from. Empty means relative to the gallery page.
	GalleryAssetsURL string
	CORSOrigins      []string
}

type Handler struct {
	log            zerolog.Logger
	pool           *db.Pool
	resolver       LayerResolver
	features       FeatureService
	layers         *registry.Layers
	items          ItemWriter
	metrics        *metrics.Metrics
	galleryPageURL string
	galleryAssets  string
	corsOrigins    []string
}

func NewHandler(log zerolog.Logger, pool *db.Pool, deps Deps) *Handler {
	layers := deps.Layers
	if layers == nil {
		layers, _ = registry.New(0)
	}
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Handler{
		log:            log,
		pool:           pool,
		resolver:       deps.Resolver,
		features:       deps.Features,
		layers:         layers,
		items:          deps.Items,
		metrics:        deps.Metrics,
		galleryPageURL: deps.GalleryPageURL,
		galleryAssets:  deps.GalleryAssetsURL,
		corsOrigins:    origins,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// Gallery page
	r.Get("/gallery", h.handleGalleryPage)

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/webmap/layers", func(r chi.Router) {
				r.Get("/", h.handleResolveLayers)
				r.Post("/", h.handleParseLayers)
			})

			r.Route("/layers/{layerID}", func(r chi.Router) {
				r.Get("/", h.handleGetLayer)
				r.Get("/sublayers/{sublayerID}/features/{objectID}/popup", h.handlePopup)
			})

			r.Get("/attachments", h.handleAttachments)

			r.Route("/items/{itemID}", func(r chi.Router) {
				r.Put("/", h.handlePutItem)
				r.Delete("/", h.handleDeleteItem)
			})
		})
	})

	return r
}

// echoRequestID returns the request id (generated or taken from the incoming
// header) to the client.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveHTTPRequest(r.Method, path, status, time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// readJSONBody reads a request body that must be valid JSON of any shape.
func readJSONBody(r *http.Request) (json.RawMessage, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxBodyBytes {
		return nil, errors.New("request body too large")
	}
	if !json.Valid(b) {
		return nil, errors.New("request body is not valid json")
	}
	return json.RawMessage(b), nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	// The database only backs the optional local item catalog.
	if h.pool == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"ready": true, "database": "not_configured"})
		return
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true, "database": "ok"})
}
