package webmap

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"webmap_gallery/gallery-go/internal/arcgis"
	"webmap_gallery/gallery-go/internal/metrics"
)

var layerTypeRe = regexp.MustCompile(`^ArcGIS(?:Tiled)?MapServiceLayer$`)

const dynamicLayerType = "ArcGISMapServiceLayer"

// REST is the subset of the ArcGIS client the resolver calls.
type REST interface {
	WebMap(ctx context.Context, webmapURL string) (json.RawMessage, error)
	AttachmentFetcher
}

// ItemSource looks up stored portal item data by item id.
type ItemSource interface {
	Item(ctx context.Context, itemID string) (*arcgis.Item, error)
}

type Resolver struct {
	log           zerolog.Logger
	rest          REST
	items         ItemSource
	metrics       *metrics.Metrics
	lookupTimeout time.Duration
	deps          *contentDeps

	pending sync.WaitGroup
}

type Options struct {
	// GalleryPageURL is the page gallery links point at.
	GalleryPageURL string
	// ItemLookupTimeout bounds each background item lookup.
	ItemLookupTimeout time.Duration
}

func NewResolver(log zerolog.Logger, rest REST, items ItemSource, m *metrics.Metrics, opts Options) *Resolver {
	lt := opts.ItemLookupTimeout
	if lt <= 0 {
		lt = 30 * time.Second
	}
	return &Resolver{
		log:           log,
		rest:          rest,
		items:         items,
		metrics:       m,
		lookupTimeout: lt,
		deps: &contentDeps{
			log:            log,
			fetcher:        rest,
			galleryPageURL: opts.GalleryPageURL,
			metrics:        m,
		},
	}
}

// Wait blocks until all background item lookups started so far have finished.
func (r *Resolver) Wait() {
	r.pending.Wait()
}

// ResolveOperationalLayers fetches a web map and parses its operational layers.
// The document may carry them under "operationalLayers" or be the layer list
// (or a single layer) itself.
func (r *Resolver) ResolveOperationalLayers(ctx context.Context, webmapURL string) (*Parsed, error) {
	raw, err := r.rest.WebMap(ctx, webmapURL)
	if err != nil {
		return nil, err
	}
	return r.ParseOperationalLayers(OperationalLayersOf(raw))
}

// OperationalLayersOf returns the "operationalLayers" member of a web map
// document when present and non-null, otherwise the document itself.
func OperationalLayersOf(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	var doc struct {
		OperationalLayers json.RawMessage `json:"operationalLayers"`
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return raw
	}
	ol := bytes.TrimSpace(doc.OperationalLayers)
	if len(ol) == 0 || bytes.Equal(ol, []byte("null")) {
		return raw
	}
	return ol
}

// ParseOperationalLayers converts one operational layer object, or an array of
// them, into layers. The result mirrors the input: a single object yields a
// single layer.
func (r *Resolver) ParseOperationalLayers(raw json.RawMessage) (*Parsed, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrInput
	}

	var entries []json.RawMessage
	sequence := false
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, inputErrorf("%v", err)
		}
		sequence = true
	case '{':
		entries = []json.RawMessage{raw}
	default:
		return nil, inputErrorf("expected an operational layer object or array")
	}

	layers := make([]*Layer, 0, len(entries))
	for i, entry := range entries {
		entry = bytes.TrimSpace(entry)
		if len(entry) == 0 || bytes.Equal(entry, []byte("null")) {
			return nil, inputErrorf("entry %d is null", i)
		}
		var op OperationalLayer
		if err := json.Unmarshal(entry, &op); err != nil {
			return nil, inputErrorf("entry %d: %v", i, err)
		}
		layer, err := r.layerFromOperational(i, op)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}

	// Lookups start only once every entry converted, so a failed parse leaves
	// nothing running.
	for _, l := range layers {
		if l.ItemID != "" {
			r.lookupItem(l)
		}
	}

	return &Parsed{layers: layers, sequence: sequence}, nil
}

func (r *Resolver) layerFromOperational(index int, op OperationalLayer) (*Layer, error) {
	if !layerTypeRe.MatchString(op.LayerType) {
		return nil, &UnsupportedTypeError{LayerType: op.LayerType, Index: index}
	}

	kind := KindTiled
	if op.LayerType == dynamicLayerType {
		kind = KindDynamic
	}

	visible := true
	if op.Visibility != nil {
		visible = *op.Visibility
	}
	opacity := 1.0
	if op.Opacity != nil {
		opacity = *op.Opacity
	}
	id := strings.TrimSpace(string(op.ID))
	if id == "" {
		id = "layer-" + uuid.NewString()
	}

	layer := &Layer{
		Kind:    kind,
		URL:     op.URL,
		ID:      id,
		Visible: visible,
		Opacity: opacity,
		Title:   op.Title,
		ItemID:  strings.TrimSpace(op.ItemID),
	}
	if op.Layers != nil {
		layer.templates = r.PopupTemplates(op.Layers)
	}
	return layer, nil
}

// PopupTemplates builds sublayer popup templates keyed by sublayer id.
// Sublayers without popup info are left out; when none has popup info the
// result is nil rather than an empty map.
func (r *Resolver) PopupTemplates(layers []SublayerDefinition) map[int]TemplateOptions {
	var out map[int]TemplateOptions
	for _, l := range layers {
		if l.PopupInfo == nil {
			continue
		}
		if out == nil {
			out = make(map[int]TemplateOptions)
		}
		out[l.ID] = TemplateOptions{Template: newPopupTemplate(*l.PopupInfo, r.deps)}
	}
	return out
}

// lookupItem loads the layer's portal item in the background and, when it
// carries layer definitions, replaces the layer's popup templates. Failures
// are logged and never reach the caller.
func (r *Resolver) lookupItem(layer *Layer) {
	if r.items == nil {
		return
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.lookupTimeout)
		defer cancel()

		log := r.log.With().Str("layer_id", layer.ID).Str("item_id", layer.ItemID).Logger()

		item, err := r.items.Item(ctx, layer.ItemID)
		if err != nil {
			log.Error().Err(err).Msg("item lookup failed")
			r.metrics.IncItemLookup("error")
			return
		}
		if item == nil || item.ItemData == nil {
			r.metrics.IncItemLookup("empty")
			return
		}
		defsRaw := bytes.TrimSpace(item.ItemData.Layers)
		if len(defsRaw) == 0 || bytes.Equal(defsRaw, []byte("null")) {
			r.metrics.IncItemLookup("empty")
			return
		}

		var defs []SublayerDefinition
		if err := json.Unmarshal(defsRaw, &defs); err != nil {
			log.Error().Err(err).Msg("item layer definitions are not valid")
			r.metrics.IncItemLookup("error")
			return
		}

		layer.SetPopupTemplates(r.PopupTemplates(defs))
		r.metrics.IncItemLookup("applied")
		log.Debug().Int("sublayers", len(defs)).Msg("popup templates replaced from item")
	}()
}
