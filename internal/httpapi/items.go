package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"webmap_gallery/gallery-go/internal/itemstore"
)

func (h *Handler) ensureItems(w http.ResponseWriter) bool {
	if h.items == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handlePutItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "itemID"))
	raw, err := readJSONBody(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if !h.ensureItems(w) {
		return
	}

	if err := h.items.Put(r.Context(), id, raw); err != nil {
		if errors.Is(err, itemstore.ErrInvalidItem) {
			h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"id": id})
			return
		}
		h.log.Error().Err(err).Str("item_id", id).Msg("store item failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to store item", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "stored": true})
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if !h.ensureItems(w) {
		return
	}

	if err := h.items.Delete(r.Context(), id); err != nil {
		if errors.Is(err, itemstore.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "item not found", map[string]any{"id": id})
			return
		}
		h.log.Error().Err(err).Str("item_id", id).Msg("delete item failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to delete item", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
