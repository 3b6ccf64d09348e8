package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"webmap_gallery/gallery-go/internal/arcgis"
	"webmap_gallery/gallery-go/internal/attachments"
	"webmap_gallery/gallery-go/internal/itemstore"
	"webmap_gallery/gallery-go/internal/metrics"
	"webmap_gallery/gallery-go/internal/webmap"
)

type fakeArcGIS struct {
	webMapFn      func(ctx context.Context, url string) (json.RawMessage, error)
	layerInfoFn   func(ctx context.Context, url string) (arcgis.LayerInfo, error)
	queryFn       func(ctx context.Context, url string, objectID int64) (map[string]any, error)
	attachmentsFn func(ctx context.Context, url string) (json.RawMessage, error)
}

func (f *fakeArcGIS) WebMap(ctx context.Context, url string) (json.RawMessage, error) {
	if f.webMapFn == nil {
		return nil, &arcgis.TransportError{URL: url, StatusCode: http.StatusNotFound}
	}
	return f.webMapFn(ctx, url)
}

func (f *fakeArcGIS) LayerInfo(ctx context.Context, url string) (arcgis.LayerInfo, error) {
	if f.layerInfoFn == nil {
		return arcgis.LayerInfo{ObjectIDField: "OBJECTID"}, nil
	}
	return f.layerInfoFn(ctx, url)
}

func (f *fakeArcGIS) QueryFeature(ctx context.Context, url string, objectID int64) (map[string]any, error) {
	if f.queryFn == nil {
		return map[string]any{}, nil
	}
	return f.queryFn(ctx, url, objectID)
}

func (f *fakeArcGIS) AttachmentInfos(ctx context.Context, url string) (json.RawMessage, error) {
	if f.attachmentsFn == nil {
		return json.RawMessage(`{"attachmentInfos":[]}`), nil
	}
	return f.attachmentsFn(ctx, url)
}

type fakeItemWriter struct {
	putFn    func(ctx context.Context, id string, data json.RawMessage) error
	deleteFn func(ctx context.Context, id string) error
}

func (f fakeItemWriter) Put(ctx context.Context, id string, data json.RawMessage) error {
	return f.putFn(ctx, id, data)
}

func (f fakeItemWriter) Delete(ctx context.Context, id string) error {
	return f.deleteFn(ctx, id)
}

func newTestHandler(t *testing.T, svc *fakeArcGIS) *Handler {
	t.Helper()
	log := zerolog.New(io.Discard)
	resolver := webmap.NewResolver(log, svc, nil, nil, webmap.Options{GalleryPageURL: "/gallery"})
	return NewHandler(log, nil, Deps{
		Resolver:       resolver,
		Features:       svc,
		Metrics:        metrics.New(),
		GalleryPageURL: "/gallery",
	})
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body as json: %v\nbody=%s", err, rr.Body.String())
	}
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rr)
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got %s", rr.Body.String())
	}
	code, _ := e["code"].(string)
	return code
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	h.ServeHTTP(rr, req)
	return rr
}

const wellsLayer = `{"layerType":"ArcGISMapServiceLayer","url":"http://svc/MapServer","id":"wells","title":"Wells",` +
	`"layers":[{"id":0,"popupInfo":{"title":"{NAME}","showAttachments":true,"fieldInfos":[{"fieldName":"NAME","label":"Name","visible":true}]}},{"id":1}]}`

func TestHealth(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	rr := serve(router, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	rr = serve(router, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected readyz 200 without database, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRequestID_EchoesUpstreamID(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected X-Request-ID=req-123, got %q", got)
	}
}

func TestResolveLayers_RequiresURL(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	rr := serve(router, http.MethodGet, "/api/v1/webmap/layers", "")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "validation_failed" {
		t.Fatalf("expected 400 validation_failed, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestResolveLayers_OKRegistersLayers(t *testing.T) {
	svc := &fakeArcGIS{webMapFn: func(ctx context.Context, url string) (json.RawMessage, error) {
		if url != "http://maps/webmap.json" {
			t.Errorf("unexpected webmap url %q", url)
		}
		return json.RawMessage(`{"operationalLayers":[` + wellsLayer + `]}`), nil
	}}
	router := newTestHandler(t, svc).Router()

	rr := serve(router, http.MethodGet, "/api/v1/webmap/layers?url=http%3A%2F%2Fmaps%2Fwebmap.json", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "[") {
		t.Fatalf("expected an array for array input, got %s", rr.Body.String())
	}

	rr = serve(router, http.MethodGet, "/api/v1/layers/wells", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected registered layer, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["kind"] != "dynamic" || body["title"] != "Wells" {
		t.Fatalf("unexpected layer body %v", body)
	}
	templates, ok := body["popupTemplates"].([]any)
	if !ok || len(templates) != 1 {
		t.Fatalf("expected one popup template, got %v", body["popupTemplates"])
	}
}

func TestResolveLayers_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		fn     func(ctx context.Context, url string) (json.RawMessage, error)
		status int
		code   string
	}{
		{
			name: "unsupported",
			fn: func(ctx context.Context, url string) (json.RawMessage, error) {
				return json.RawMessage(`{"operationalLayers":[{"layerType":"Bogus"}]}`), nil
			},
			status: http.StatusUnprocessableEntity,
			code:   "unsupported_layer_type",
		},
		{
			name: "transport",
			fn: func(ctx context.Context, url string) (json.RawMessage, error) {
				return nil, &arcgis.TransportError{URL: url, StatusCode: http.StatusInternalServerError}
			},
			status: http.StatusBadGateway,
			code:   "upstream_error",
		},
		{
			name: "null document",
			fn: func(ctx context.Context, url string) (json.RawMessage, error) {
				return json.RawMessage(`null`), nil
			},
			status: http.StatusBadRequest,
			code:   "validation_failed",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			router := newTestHandler(t, &fakeArcGIS{webMapFn: c.fn}).Router()
			rr := serve(router, http.MethodGet, "/api/v1/webmap/layers?url=x", "")
			if rr.Code != c.status {
				t.Fatalf("expected %d, got %d: %s", c.status, rr.Code, rr.Body.String())
			}
			if got := errorCode(t, rr); got != c.code {
				t.Fatalf("expected code %q, got %q", c.code, got)
			}
		})
	}
}

func TestParseLayers_SingleObjectStaysObject(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	rr := serve(router, http.MethodPost, "/api/v1/webmap/layers", wellsLayer)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["id"] != "wells" {
		t.Fatalf("expected single layer object, got %s", rr.Body.String())
	}
}

func TestParseLayers_BadBodies(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	rr := serve(router, http.MethodPost, "/api/v1/webmap/layers", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", rr.Code)
	}

	rr = serve(router, http.MethodPost, "/api/v1/webmap/layers", `null`)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "validation_failed" {
		t.Fatalf("expected 400 validation_failed for null, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGetLayer_NotFound(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	rr := serve(router, http.MethodGet, "/api/v1/layers/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestPopup_AttachmentGalleryLink(t *testing.T) {
	svc := &fakeArcGIS{
		layerInfoFn: func(ctx context.Context, url string) (arcgis.LayerInfo, error) {
			if url != "http://svc/MapServer/0" {
				t.Errorf("unexpected layer info url %q", url)
			}
			return arcgis.LayerInfo{ObjectIDField: "OBJECTID", HasAttachments: true}, nil
		},
		queryFn: func(ctx context.Context, url string, objectID int64) (map[string]any, error) {
			return map[string]any{"OBJECTID": float64(objectID), "NAME": "Spring"}, nil
		},
		attachmentsFn: func(ctx context.Context, url string) (json.RawMessage, error) {
			if url != "http://svc/MapServer/0/5/attachments" {
				t.Errorf("unexpected attachments url %q", url)
			}
			return json.RawMessage(`{"attachmentInfos":[{"id":11,"contentType":"image/jpeg","size":2048,"name":"spring.jpg"}]}`), nil
		},
	}
	router := newTestHandler(t, svc).Router()

	if rr := serve(router, http.MethodPost, "/api/v1/webmap/layers", wellsLayer); rr.Code != http.StatusCreated {
		t.Fatalf("register layer: %d %s", rr.Code, rr.Body.String())
	}

	rr := serve(router, http.MethodGet, "/api/v1/layers/wells/sublayers/0/features/5/popup", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Fatalf("expected html content-type, got %q", got)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `<p><a href="/gallery?url=http%3A%2F%2Fsvc%2FMapServer%2F0%2F5%2Fattachments&amp;infos=`) {
		t.Fatalf("expected gallery link, got %s", body)
	}
	if !strings.Contains(body, `target="gallery">Gallery</a>`) || !strings.Contains(body, "Spring") {
		t.Fatalf("unexpected popup body %s", body)
	}
}

func TestPopup_Errors(t *testing.T) {
	svc := &fakeArcGIS{
		queryFn: func(ctx context.Context, url string, objectID int64) (map[string]any, error) {
			if objectID == 404 {
				return nil, arcgis.ErrFeatureNotFound
			}
			return nil, &arcgis.TransportError{URL: url, StatusCode: http.StatusBadGateway}
		},
	}
	router := newTestHandler(t, svc).Router()
	if rr := serve(router, http.MethodPost, "/api/v1/webmap/layers", wellsLayer); rr.Code != http.StatusCreated {
		t.Fatalf("register layer: %d %s", rr.Code, rr.Body.String())
	}

	cases := map[string]int{
		"/api/v1/layers/unknown/sublayers/0/features/1/popup": http.StatusNotFound,
		"/api/v1/layers/wells/sublayers/x/features/1/popup":   http.StatusBadRequest,
		"/api/v1/layers/wells/sublayers/0/features/y/popup":   http.StatusBadRequest,
		"/api/v1/layers/wells/sublayers/1/features/1/popup":   http.StatusNotFound,
		"/api/v1/layers/wells/sublayers/0/features/404/popup": http.StatusNotFound,
		"/api/v1/layers/wells/sublayers/0/features/1/popup":   http.StatusBadGateway,
	}
	for target, want := range cases {
		if rr := serve(router, http.MethodGet, target, ""); rr.Code != want {
			t.Fatalf("%s: expected %d, got %d: %s", target, want, rr.Code, rr.Body.String())
		}
	}
}

func TestAttachments_JSON(t *testing.T) {
	svc := &fakeArcGIS{attachmentsFn: func(ctx context.Context, url string) (json.RawMessage, error) {
		return json.RawMessage(`[{"id":2,"contentType":"image/png","size":10,"name":"b.png"},{"id":1,"contentType":"image/png","size":5,"name":"a.png"}]`), nil
	}}
	router := newTestHandler(t, svc).Router()

	rr := serve(router, http.MethodGet, "/api/v1/attachments?layerUrl=http%3A%2F%2Fsvc%2FMapServer%2F0&objectId=9", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var got struct {
		AttachmentsURL string                   `json:"attachmentsUrl"`
		Items          []attachments.Descriptor `json:"items"`
		GalleryURL     string                   `json:"galleryUrl"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AttachmentsURL != "http://svc/MapServer/0/9/attachments" {
		t.Fatalf("unexpected attachments url %q", got.AttachmentsURL)
	}
	if len(got.Items) != 2 || got.Items[0].ID != 2 || got.Items[1].ID != 1 {
		t.Fatalf("expected order to be preserved, got %+v", got.Items)
	}
	if !strings.HasPrefix(got.GalleryURL, "/gallery?url=") {
		t.Fatalf("unexpected gallery url %q", got.GalleryURL)
	}

	rr = serve(router, http.MethodGet, "/api/v1/attachments?layerUrl=x", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without objectId, got %d", rr.Code)
	}
}

func TestAttachments_UpstreamFailure(t *testing.T) {
	svc := &fakeArcGIS{attachmentsFn: func(ctx context.Context, url string) (json.RawMessage, error) {
		return nil, &arcgis.TransportError{URL: url, Message: "boom"}
	}}
	router := newTestHandler(t, svc).Router()

	rr := serve(router, http.MethodGet, "/api/v1/attachments?layerUrl=http%3A%2F%2Fsvc%2FMapServer%2F0&objectId=9", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestGalleryPage_RendersLinksInOrder(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	c := attachments.NewFromDescriptors("http://svc/MapServer/0/5/attachments", []attachments.Descriptor{
		{ID: 3, ContentType: "image/jpeg", Size: 100, Name: "first.jpg"},
		{ID: 1, ContentType: "video/mp4", Size: 2000000, Name: "second.mp4"},
	}, "/gallery")

	rr := serve(router, http.MethodGet, c.GalleryLinkURL(), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	first := strings.Index(body, `href="http://svc/MapServer/0/5/attachments/3"`)
	second := strings.Index(body, `href="http://svc/MapServer/0/5/attachments/1"`)
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected both links in order, got %s", body)
	}
	if !strings.Contains(body, `data-kind="video"`) {
		t.Fatalf("expected media kind on links, got %s", body)
	}
}

func TestGalleryPage_EmptyAndInvalid(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	rr := serve(router, http.MethodGet, "/gallery", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `<div id="links"></div>`) {
		t.Fatalf("expected empty gallery, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = serve(router, http.MethodGet, "/gallery?url=http%3A%2F%2Fa&infos", "")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "invalid_query" {
		t.Fatalf("expected 400 invalid_query, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = serve(router, http.MethodGet, "/gallery?url=relative&infos=%5B%5D", "")
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "validation_failed" {
		t.Fatalf("expected 400 validation_failed, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestItems_RequireDatabase(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	rr := serve(router, http.MethodPut, "/api/v1/items/abc", `{"layers":[]}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestItems_PutAndDelete(t *testing.T) {
	stored := map[string]json.RawMessage{}
	h := newTestHandler(t, &fakeArcGIS{})
	h.items = fakeItemWriter{
		putFn: func(ctx context.Context, id string, data json.RawMessage) error {
			if id == "bad" {
				return itemstore.ErrInvalidItem
			}
			if id == "broken" {
				return errors.New("connection refused")
			}
			stored[id] = data
			return nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			if _, ok := stored[id]; !ok {
				return itemstore.ErrNotFound
			}
			delete(stored, id)
			return nil
		},
	}
	router := h.Router()

	if rr := serve(router, http.MethodPut, "/api/v1/items/abc", `{"layers":[]}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, ok := stored["abc"]; !ok {
		t.Fatalf("expected item to be stored")
	}
	if rr := serve(router, http.MethodPut, "/api/v1/items/bad", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodPut, "/api/v1/items/broken", `{}`); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodDelete, "/api/v1/items/abc", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodDelete, "/api/v1/items/abc", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/webmap/layers", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard allow-origin, got %q (status %d)", got, rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()

	_ = serve(router, http.MethodGet, "/healthz", "")
	rr := serve(router, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `gallery_http_requests_total{method="GET",path="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz request to be counted; body=%s", rr.Body.String())
	}
}

func TestParseLayers_WarnsWhenAnotherServiceReusesLayerID(t *testing.T) {
	var logs bytes.Buffer
	log := zerolog.New(&logs)
	svc := &fakeArcGIS{}
	resolver := webmap.NewResolver(log, svc, nil, nil, webmap.Options{GalleryPageURL: "/gallery"})
	router := NewHandler(log, nil, Deps{Resolver: resolver, Features: svc}).Router()

	first := `{"layerType":"ArcGISMapServiceLayer","url":"http://a/MapServer","id":1}`
	second := `{"layerType":"ArcGISMapServiceLayer","url":"http://b/MapServer","id":1}`
	if rr := serve(router, http.MethodPost, "/api/v1/webmap/layers", first); rr.Code != http.StatusCreated {
		t.Fatalf("first register: %d %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(logs.String(), "layer id reused") {
		t.Fatalf("did not expect a warning on first registration: %s", logs.String())
	}
	if rr := serve(router, http.MethodPost, "/api/v1/webmap/layers", second); rr.Code != http.StatusCreated {
		t.Fatalf("second register: %d %s", rr.Code, rr.Body.String())
	}

	if !strings.Contains(logs.String(), "layer id reused") || !strings.Contains(logs.String(), `"old_url":"http://a/MapServer"`) {
		t.Fatalf("expected replacement warning, got logs: %s", logs.String())
	}
	rr := serve(router, http.MethodGet, "/api/v1/layers/1", "")
	if body := decodeBody(t, rr); body["url"] != "http://b/MapServer" {
		t.Fatalf("expected last registration to win, got %v", body)
	}
}

func TestGalleryPage_AssetsURL(t *testing.T) {
	router := newTestHandler(t, &fakeArcGIS{}).Router()
	rr := serve(router, http.MethodGet, "/gallery", "")
	body := rr.Body.String()
	if !strings.Contains(body, `<link rel="stylesheet" href="css/blueimp-gallery.min.css">`) ||
		!strings.Contains(body, `<script src="js/blueimp-gallery.min.js"></script>`) {
		t.Fatalf("expected relative lightbox assets by default, got %s", body)
	}

	h := NewHandler(zerolog.New(io.Discard), nil, Deps{GalleryAssetsURL: "https://cdn.example.org/blueimp/"})
	rr = serve(h.Router(), http.MethodGet, "/gallery", "")
	body = rr.Body.String()
	if !strings.Contains(body, `href="https://cdn.example.org/blueimp/css/blueimp-gallery.min.css"`) ||
		!strings.Contains(body, `src="https://cdn.example.org/blueimp/js/blueimp-gallery.min.js"`) {
		t.Fatalf("expected configured lightbox assets, got %s", body)
	}
}
