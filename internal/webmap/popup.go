package webmap

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"webmap_gallery/gallery-go/internal/arcgis"
	"webmap_gallery/gallery-go/internal/attachments"
	"webmap_gallery/gallery-go/internal/metrics"
)

// GalleryTarget is the browsing context the gallery link opens in.
const GalleryTarget = "gallery"

// ContentMode is the state of a popup template's content function.
type ContentMode int32

const (
	// ModeAttachmentContent renders default content plus a gallery link.
	ModeAttachmentContent ContentMode = iota
	// ModeDefaultContent renders only the default content. Once a template
	// enters this mode it never leaves it.
	ModeDefaultContent
)

func (m ContentMode) String() string {
	switch m {
	case ModeAttachmentContent:
		return "attachments"
	case ModeDefaultContent:
		return "default"
	default:
		return "unknown"
	}
}

// AttachmentFetcher loads the attachment infos of a feature.
type AttachmentFetcher interface {
	AttachmentInfos(ctx context.Context, attachmentsURL string) (json.RawMessage, error)
}

// FeatureLayer describes the sublayer a graphic belongs to.
type FeatureLayer struct {
	URL            string
	ObjectIDField  string
	HasAttachments bool
}

// Graphic is a clicked feature whose popup is being rendered.
type Graphic struct {
	Layer      FeatureLayer
	Attributes map[string]any
}

type contentDeps struct {
	log            zerolog.Logger
	fetcher        AttachmentFetcher
	galleryPageURL string
	metrics        *metrics.Metrics
}

// PopupTemplate renders popup content for features of one sublayer.
type PopupTemplate struct {
	info PopupInfo
	mode atomic.Int32
	deps *contentDeps
}

func newPopupTemplate(info PopupInfo, deps *contentDeps) *PopupTemplate {
	t := &PopupTemplate{info: info, deps: deps}
	if info.ShowAttachments {
		t.mode.Store(int32(ModeAttachmentContent))
	} else {
		t.mode.Store(int32(ModeDefaultContent))
	}
	return t
}

func (t *PopupTemplate) Info() PopupInfo { return t.info }

func (t *PopupTemplate) Mode() ContentMode { return ContentMode(t.mode.Load()) }

// Content renders the popup HTML for g.
func (t *PopupTemplate) Content(ctx context.Context, g Graphic) (string, error) {
	if t.Mode() == ModeAttachmentContent {
		if g.Layer.HasAttachments {
			t.deps.metrics.IncPopupRender(ModeAttachmentContent.String())
			return t.attachmentContent(ctx, g)
		}
		t.deps.log.Warn().
			Str("layer_url", g.Layer.URL).
			Msg("popup info says to show attachments, but layer doesn't have attachments")
		t.mode.CompareAndSwap(int32(ModeAttachmentContent), int32(ModeDefaultContent))
	}
	t.deps.metrics.IncPopupRender(ModeDefaultContent.String())
	return renderDefaultContent(t.info, g.Attributes)
}

func (t *PopupTemplate) attachmentContent(ctx context.Context, g Graphic) (string, error) {
	content, err := renderDefaultContent(t.info, g.Attributes)
	if err != nil {
		return "", err
	}

	objectID, ok := objectIDOf(g)
	if !ok {
		t.deps.log.Error().
			Str("layer_url", g.Layer.URL).
			Str("object_id_field", g.Layer.ObjectIDField).
			Msg("feature has no usable object id; skipping attachments")
		return content, nil
	}

	attachmentsURL := arcgis.AttachmentsURL(g.Layer.URL, objectID)
	raw, err := t.deps.fetcher.AttachmentInfos(ctx, attachmentsURL)
	if err != nil {
		t.deps.log.Error().Err(err).
			Str("url", attachmentsURL).
			Int64("object_id", objectID).
			Msg("error getting attachments")
		return content, nil
	}

	collection, err := attachments.New(attachmentsURL, raw, t.deps.galleryPageURL)
	if err != nil {
		t.deps.log.Error().Err(err).Str("url", attachmentsURL).Msg("error reading attachment infos")
		return content, nil
	}

	withLink, err := prependGalleryLink(content, collection.GalleryLinkURL())
	if err != nil {
		t.deps.log.Error().Err(err).Str("url", attachmentsURL).Msg("error adding gallery link")
		return content, nil
	}
	return withLink, nil
}

// prependGalleryLink inserts <p><a target="gallery">Gallery</a></p> as the
// first child of the popup container.
func prependGalleryLink(content, href string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}
	container := doc.Find("div." + popupClass).First()
	if container.Length() == 0 {
		return "", errors.New("popup container not found")
	}

	a := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.A,
		Data:     "a",
		Attr: []html.Attribute{
			{Key: "href", Val: href},
			{Key: "target", Val: GalleryTarget},
		},
	}
	a.AppendChild(&html.Node{Type: html.TextNode, Data: "Gallery"})
	p := &html.Node{Type: html.ElementNode, DataAtom: atom.P, Data: "p"}
	p.AppendChild(a)

	container.PrependNodes(p)
	return goquery.OuterHtml(container)
}

func objectIDOf(g Graphic) (int64, bool) {
	field := g.Layer.ObjectIDField
	if field == "" {
		field = "OBJECTID"
	}
	switch v := g.Attributes[field].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
