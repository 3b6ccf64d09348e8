package registry

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"webmap_gallery/gallery-go/internal/webmap"
)

const defaultSize = 256

// Layers keeps the most recently resolved layers by id so popup requests can
// find their templates.
type Layers struct {
	cache *lru.Cache[string, *webmap.Layer]
}

func New(size int) (*Layers, error) {
	if size <= 0 {
		size = defaultSize
	}
	c, err := lru.New[string, *webmap.Layer](size)
	if err != nil {
		return nil, err
	}
	return &Layers{cache: c}, nil
}

// Replaced records a registered layer that was displaced by a layer with the
// same id from a different map service.
type Replaced struct {
	ID     string
	OldURL string
	NewURL string
}

// Add registers layers by id. The last layer added for an id wins; when it
// comes from a different service URL than the layer it displaces, the
// displacement is reported so callers can surface the id collision.
func (r *Layers) Add(layers ...*webmap.Layer) []Replaced {
	var out []Replaced
	for _, l := range layers {
		if l == nil {
			continue
		}
		if prev, ok := r.cache.Peek(l.ID); ok && prev != l && prev.URL != l.URL {
			out = append(out, Replaced{ID: l.ID, OldURL: prev.URL, NewURL: l.URL})
		}
		r.cache.Add(l.ID, l)
	}
	return out
}

func (r *Layers) Get(id string) (*webmap.Layer, bool) {
	return r.cache.Get(id)
}

func (r *Layers) Len() int {
	return r.cache.Len()
}
