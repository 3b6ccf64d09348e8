package webmap

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type LayerKind string

const (
	KindDynamic LayerKind = "dynamic"
	KindTiled   LayerKind = "tiled"
)

// TemplateOptions is the per-sublayer popup configuration of a layer.
type TemplateOptions struct {
	Template *PopupTemplate
}

// Layer is a map service layer built from an operational layer entry. Its
// popup templates may be replaced after construction by the item lookup.
type Layer struct {
	Kind    LayerKind
	URL     string
	ID      string
	Visible bool
	Opacity float64
	Title   string
	ItemID  string

	mu        sync.RWMutex
	templates map[int]TemplateOptions
}

// PopupTemplates returns a copy of the sublayer template map, or nil when the
// layer has none.
func (l *Layer) PopupTemplates() map[int]TemplateOptions {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.templates == nil {
		return nil
	}
	out := make(map[int]TemplateOptions, len(l.templates))
	for k, v := range l.templates {
		out[k] = v
	}
	return out
}

// SetPopupTemplates replaces all sublayer templates.
func (l *Layer) SetPopupTemplates(templates map[int]TemplateOptions) {
	l.mu.Lock()
	l.templates = templates
	l.mu.Unlock()
}

// PopupTemplate returns the template configured for a sublayer.
func (l *Layer) PopupTemplate(sublayerID int) (*PopupTemplate, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	opts, ok := l.templates[sublayerID]
	if !ok || opts.Template == nil {
		return nil, false
	}
	return opts.Template, true
}

// SublayerURL is the REST URL of one sublayer of the map service.
func (l *Layer) SublayerURL(sublayerID int) string {
	return strings.TrimRight(l.URL, "/") + "/" + strconv.Itoa(sublayerID)
}

type templateJSON struct {
	SublayerID      int    `json:"sublayerId"`
	Title           string `json:"title,omitempty"`
	ShowAttachments bool   `json:"showAttachments"`
	ContentMode     string `json:"contentMode"`
}

func (l *Layer) MarshalJSON() ([]byte, error) {
	var templates []templateJSON
	if tpl := l.PopupTemplates(); tpl != nil {
		ids := make([]int, 0, len(tpl))
		for id := range tpl {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		templates = make([]templateJSON, 0, len(ids))
		for _, id := range ids {
			t := tpl[id].Template
			if t == nil {
				continue
			}
			templates = append(templates, templateJSON{
				SublayerID:      id,
				Title:           t.info.Title,
				ShowAttachments: t.info.ShowAttachments,
				ContentMode:     t.Mode().String(),
			})
		}
	}

	return json.Marshal(struct {
		ID             string         `json:"id"`
		Kind           LayerKind      `json:"kind"`
		URL            string         `json:"url"`
		Visible        bool           `json:"visible"`
		Opacity        float64        `json:"opacity"`
		Title          string         `json:"title,omitempty"`
		ItemID         string         `json:"itemId,omitempty"`
		PopupTemplates []templateJSON `json:"popupTemplates"`
	}{
		ID:             l.ID,
		Kind:           l.Kind,
		URL:            l.URL,
		Visible:        l.Visible,
		Opacity:        l.Opacity,
		Title:          l.Title,
		ItemID:         l.ItemID,
		PopupTemplates: templates,
	})
}

// Parsed holds parsed layers and remembers whether the input was a single
// operational layer object or an array of them.
type Parsed struct {
	layers   []*Layer
	sequence bool
}

// Layers returns every parsed layer.
func (p *Parsed) Layers() []*Layer {
	out := make([]*Layer, len(p.layers))
	copy(out, p.layers)
	return out
}

// Layer returns the single layer when the input was one object.
func (p *Parsed) Layer() (*Layer, bool) {
	if p.sequence || len(p.layers) != 1 {
		return nil, false
	}
	return p.layers[0], true
}

// IsSequence reports whether the input was an array.
func (p *Parsed) IsSequence() bool { return p.sequence }

// MarshalJSON mirrors the input arity: an object for a single layer, an array
// otherwise.
func (p *Parsed) MarshalJSON() ([]byte, error) {
	if l, ok := p.Layer(); ok {
		return json.Marshal(l)
	}
	layers := p.layers
	if layers == nil {
		layers = []*Layer{}
	}
	return json.Marshal(layers)
}
