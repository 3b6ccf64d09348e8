package arcgis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"webmap_gallery/gallery-go/internal/metrics"
)

const maxResponseBytes = 16 << 20

// TransportError is returned for any failed REST call: network errors, non-2xx
// responses, undecodable bodies and ArcGIS error envelopes.
type TransportError struct {
	URL        string
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	var sb strings.Builder
	sb.WriteString("arcgis: request ")
	sb.WriteString(e.URL)
	sb.WriteString(" failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": http %d", e.StatusCode)
	}
	if e.Code != 0 {
		fmt.Fprintf(&sb, ": code %d", e.Code)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// errorEnvelope is how ArcGIS services report failures, usually with HTTP 200.
type errorEnvelope struct {
	Error *struct {
		Code    int      `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

type Client struct {
	http      *http.Client
	portalURL string
	metrics   *metrics.Metrics
}

type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	PortalURL  string
}

func NewClient(opts Options, m *metrics.Metrics) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	portal := strings.TrimRight(strings.TrimSpace(opts.PortalURL), "/")
	if portal == "" {
		portal = "https://www.arcgis.com"
	}
	return &Client{http: hc, portalURL: portal, metrics: m}
}

// GetJSON issues a single GET with f=json and decodes the body into dst.
// endpoint labels the request in metrics.
func (c *Client) GetJSON(ctx context.Context, endpoint, rawURL string, query url.Values, dst any) error {
	err := c.getJSON(ctx, rawURL, query, dst)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.IncRESTFetch(endpoint, outcome)
	return err
}

func (c *Client) getJSON(ctx context.Context, rawURL string, query url.Values, dst any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &TransportError{URL: rawURL, Err: err}
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if q.Get("f") == "" {
		q.Set("f", "json")
	}
	u.RawQuery = q.Encode()
	target := u.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &TransportError{URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{URL: target, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{URL: target, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		msg := env.Error.Message
		if len(env.Error.Details) > 0 {
			msg += " (" + strings.Join(env.Error.Details, "; ") + ")"
		}
		return &TransportError{URL: target, StatusCode: resp.StatusCode, Code: env.Error.Code, Message: msg}
	}

	if raw, ok := dst.(*json.RawMessage); ok {
		if !json.Valid(body) {
			return &TransportError{URL: target, StatusCode: resp.StatusCode, Message: "invalid json response"}
		}
		*raw = append((*raw)[:0], bytes.TrimSpace(body)...)
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &TransportError{URL: target, StatusCode: resp.StatusCode, Message: "invalid json response", Err: err}
	}
	return nil
}

// IsTransport reports whether err came from a failed REST call.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
