package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"webmap_gallery/gallery-go/internal/arcgis"
	"webmap_gallery/gallery-go/internal/attachments"
	"webmap_gallery/gallery-go/internal/webmap"
)

func (h *Handler) ensureResolver(w http.ResponseWriter) bool {
	if h.resolver == nil {
		h.writeError(w, http.StatusServiceUnavailable, "resolver_unavailable", "layer resolver not configured", nil)
		return false
	}
	return true
}

func (h *Handler) ensureFeatures(w http.ResponseWriter) bool {
	if h.features == nil {
		h.writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", "feature service client not configured", nil)
		return false
	}
	return true
}

// writeLayerError maps resolver failures onto API errors.
func (h *Handler) writeLayerError(w http.ResponseWriter, err error, details map[string]any) {
	var ute *webmap.UnsupportedTypeError
	switch {
	case errors.Is(err, webmap.ErrInput):
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), details)
	case errors.As(err, &ute):
		if details == nil {
			details = map[string]any{}
		}
		details["layer_type"] = ute.LayerType
		details["index"] = ute.Index
		h.writeError(w, http.StatusUnprocessableEntity, "unsupported_layer_type", "unsupported layer type", details)
	case arcgis.IsTransport(err):
		h.writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), details)
	default:
		h.log.Error().Err(err).Msg("resolve layers failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve layers", nil)
	}
}

func (h *Handler) handleResolveLayers(w http.ResponseWriter, r *http.Request) {
	webmapURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if webmapURL == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "url query parameter is required", nil)
		return
	}
	if !h.ensureResolver(w) {
		return
	}

	parsed, err := h.resolver.ResolveOperationalLayers(r.Context(), webmapURL)
	if err != nil {
		h.writeLayerError(w, err, map[string]any{"url": webmapURL})
		return
	}

	h.register(parsed)
	h.writeJSON(w, http.StatusOK, parsed)
}

func (h *Handler) handleParseLayers(w http.ResponseWriter, r *http.Request) {
	raw, err := readJSONBody(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if !h.ensureResolver(w) {
		return
	}

	parsed, err := h.resolver.ParseOperationalLayers(webmap.OperationalLayersOf(raw))
	if err != nil {
		h.writeLayerError(w, err, nil)
		return
	}

	h.register(parsed)
	h.writeJSON(w, http.StatusCreated, parsed)
}

// register stores parsed layers by id. A layer whose id was already taken by
// another service's layer replaces it; that is logged because popups for the
// old layer now resolve against the new one.
func (h *Handler) register(parsed *webmap.Parsed) {
	for _, rep := range h.layers.Add(parsed.Layers()...) {
		h.log.Warn().
			Str("layer_id", rep.ID).
			Str("old_url", rep.OldURL).
			Str("new_url", rep.NewURL).
			Msg("layer id reused by another map service; replacing registered layer")
	}
}

func (h *Handler) handleGetLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "layerID")
	layer, ok := h.layers.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "layer not found", map[string]any{"id": id})
		return
	}
	h.writeJSON(w, http.StatusOK, layer)
}

func (h *Handler) handlePopup(w http.ResponseWriter, r *http.Request) {
	layerID := chi.URLParam(r, "layerID")
	sublayerID, err := strconv.Atoi(chi.URLParam(r, "sublayerID"))
	if err != nil || sublayerID < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "sublayer id must be a non-negative integer", map[string]any{"sublayer_id": chi.URLParam(r, "sublayerID")})
		return
	}
	objectID, err := strconv.ParseInt(chi.URLParam(r, "objectID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "object id must be an integer", map[string]any{"object_id": chi.URLParam(r, "objectID")})
		return
	}

	layer, ok := h.layers.Get(layerID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "layer not found", map[string]any{"id": layerID})
		return
	}
	tpl, ok := layer.PopupTemplate(sublayerID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "no popup configured for sublayer", map[string]any{"id": layerID, "sublayer_id": sublayerID})
		return
	}
	if !h.ensureFeatures(w) {
		return
	}

	sublayerURL := layer.SublayerURL(sublayerID)
	info, err := h.features.LayerInfo(r.Context(), sublayerURL)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), map[string]any{"url": sublayerURL})
		return
	}

	attrs, err := h.features.QueryFeature(r.Context(), sublayerURL, objectID)
	if err != nil {
		if errors.Is(err, arcgis.ErrFeatureNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "feature not found", map[string]any{"object_id": objectID})
			return
		}
		h.writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), map[string]any{"url": sublayerURL})
		return
	}
	if _, ok := attrs[info.ObjectIDField]; !ok {
		attrs[info.ObjectIDField] = objectID
	}

	content, err := tpl.Content(r.Context(), webmap.Graphic{
		Layer: webmap.FeatureLayer{
			URL:            sublayerURL,
			ObjectIDField:  info.ObjectIDField,
			HasAttachments: info.HasAttachments,
		},
		Attributes: attrs,
	})
	if err != nil {
		h.log.Error().Err(err).Str("layer_id", layerID).Int64("object_id", objectID).Msg("render popup failed")
		h.writeError(w, http.StatusInternalServerError, "render_failed", "failed to render popup", nil)
		return
	}

	h.writeHTML(w, http.StatusOK, content)
}

func (h *Handler) handleAttachments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	layerURL := strings.TrimSpace(q.Get("layerUrl"))
	objectID, err := strconv.ParseInt(strings.TrimSpace(q.Get("objectId")), 10, 64)
	if layerURL == "" || err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "layerUrl and integer objectId query parameters are required", nil)
		return
	}
	if !h.ensureFeatures(w) {
		return
	}

	attachmentsURL := arcgis.AttachmentsURL(layerURL, objectID)
	raw, err := h.features.AttachmentInfos(r.Context(), attachmentsURL)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), map[string]any{"url": attachmentsURL})
		return
	}

	collection, err := attachments.New(attachmentsURL, raw, h.galleryPageURL)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "upstream_error", "unexpected attachment infos response", map[string]any{"url": attachmentsURL, "error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, collection)
}
