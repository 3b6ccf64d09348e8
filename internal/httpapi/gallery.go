package httpapi

import (
	"errors"
	"html"
	"net/http"
	"strings"

	"webmap_gallery/gallery-go/internal/attachments"
)

const (
	galleryHeadStart = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Attachments</title>
`
	galleryHeadEnd = `</head>
<body>
<div id="blueimp-gallery-carousel" class="blueimp-gallery blueimp-gallery-carousel">
<div class="slides"></div>
<h3 class="title"></h3>
<a class="prev">‹</a>
<a class="next">›</a>
<a class="play-pause"></a>
<ol class="indicator"></ol>
</div>
<div id="links">`
	galleryTailStart = `</div>
`
	galleryTailEnd = `<script>
if (document.getElementById('links').getElementsByTagName('a').length) {
	blueimp.Gallery(document.getElementById('links').getElementsByTagName('a'), {
		container: '#blueimp-gallery-carousel',
		carousel: true
	});
}
</script>
</body>
</html>
`
)

// handleGalleryPage rebuilds an attachment collection from the query string
// and renders it as lightbox links. Without a query string the page is empty.
func (h *Handler) handleGalleryPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.RawQuery == "" {
		h.writeHTML(w, http.StatusOK, h.galleryPage(""))
		return
	}

	c, err := attachments.ParseQueryString(r.URL.RawQuery, requestURL(r))
	if err != nil {
		var pe *attachments.ParseError
		if errors.As(err, &pe) {
			h.writeError(w, http.StatusBadRequest, "invalid_query", err.Error(), nil)
			return
		}
		h.log.Error().Err(err).Msg("parse gallery query failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to read gallery query", nil)
		return
	}
	if err := c.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return
	}

	links, err := attachments.RenderNodes(c.GalleryLinks()...)
	if err != nil {
		h.log.Error().Err(err).Msg("render gallery links failed")
		h.writeError(w, http.StatusInternalServerError, "render_failed", "failed to render gallery", nil)
		return
	}

	h.log.Debug().
		Str("attachments_url", c.BaseURL()).
		Int("count", c.Len()).
		Msg("gallery rendered")
	h.writeHTML(w, http.StatusOK, h.galleryPage(links))
}

// galleryPage wraps rendered links in the lightbox page. The lightbox
// stylesheet and script are loaded from the configured assets URL, or
// relative to the page when none is set.
func (h *Handler) galleryPage(links string) string {
	css := html.EscapeString(assetURL(h.galleryAssets, "css/blueimp-gallery.min.css"))
	js := html.EscapeString(assetURL(h.galleryAssets, "js/blueimp-gallery.min.js"))

	var sb strings.Builder
	sb.WriteString(galleryHeadStart)
	sb.WriteString(`<link rel="stylesheet" href="` + css + `">` + "\n")
	sb.WriteString(galleryHeadEnd)
	sb.WriteString(links)
	sb.WriteString(galleryTailStart)
	sb.WriteString(`<script src="` + js + `"></script>` + "\n")
	sb.WriteString(galleryTailEnd)
	return sb.String()
}

func assetURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return path
	}
	return base + "/" + path
}

// requestURL reconstructs the absolute URL the client used for r.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
