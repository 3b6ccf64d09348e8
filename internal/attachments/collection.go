package attachments

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Descriptor is the metadata the attachment infos endpoint returns for a single
// file attached to a feature.
type Descriptor struct {
	ID          int64  `json:"id" validate:"gte=0"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size" validate:"gte=0"`
	Name        string `json:"name" validate:"required"`
}

// Collection is an ordered set of attachment descriptors plus the URL they are
// served from. It is not modified after construction.
type Collection struct {
	baseURL    string
	items      []Descriptor
	galleryURL string
}

type wrapper struct {
	AttachmentInfos json.RawMessage `json:"attachmentInfos"`
}

// New builds a collection from raw JSON. raw is either an array of descriptors
// or an object carrying them under "attachmentInfos".
func New(baseURL string, raw json.RawMessage, galleryPageURL string) (*Collection, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var w wrapper
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, &InputError{Field: "attachmentInfos", Err: err}
		}
		raw = bytes.TrimSpace(w.AttachmentInfos)
	}

	var items []Descriptor
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, &InputError{Field: "attachmentInfos", Err: err}
		}
	}
	return NewFromDescriptors(baseURL, items, galleryPageURL), nil
}

// NewFromDescriptors builds a collection from already decoded descriptors.
func NewFromDescriptors(baseURL string, items []Descriptor, galleryPageURL string) *Collection {
	cp := make([]Descriptor, len(items))
	copy(cp, items)
	return &Collection{
		baseURL:    baseURL,
		items:      cp,
		galleryURL: galleryPageURL,
	}
}

func (c *Collection) BaseURL() string { return c.baseURL }

func (c *Collection) GalleryPageURL() string { return c.galleryURL }

func (c *Collection) Len() int { return len(c.items) }

// Items returns a copy of the descriptors in their original order.
func (c *Collection) Items() []Descriptor {
	out := make([]Descriptor, len(c.items))
	copy(out, c.items)
	return out
}

// ItemURL is the download URL of a single attachment.
func (c *Collection) ItemURL(d Descriptor) string {
	return itemURL(c.baseURL, d.ID)
}

func itemURL(baseURL string, id int64) string {
	return strings.Join([]string{baseURL, formatInt(id)}, "/")
}

// MarshalJSON exposes the collection in the shape the HTTP API returns.
func (c *Collection) MarshalJSON() ([]byte, error) {
	items := c.items
	if items == nil {
		items = []Descriptor{}
	}
	var link string
	if c.galleryURL != "" {
		link = c.GalleryLinkURL()
	}
	return json.Marshal(struct {
		AttachmentsURL string       `json:"attachmentsUrl"`
		Items          []Descriptor `json:"items"`
		GalleryURL     string       `json:"galleryUrl,omitempty"`
	}{
		AttachmentsURL: c.baseURL,
		Items:          items,
		GalleryURL:     link,
	})
}
