package arcgis

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

var ErrFeatureNotFound = errors.New("arcgis: feature not found")

// Metric labels for the REST endpoints the service calls.
const (
	EndpointWebMap      = "webmap"
	EndpointAttachments = "attachments"
	EndpointLayerInfo   = "layer_info"
	EndpointQuery       = "query"
	EndpointItemData    = "item_data"
)

// LayerInfo is the subset of a map service sublayer description needed to
// render popups.
type LayerInfo struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	ObjectIDField  string `json:"objectIdField"`
	HasAttachments bool   `json:"hasAttachments"`
	Fields         []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"fields"`
}

// ItemData is the stored data of a portal item. Layers holds the raw layer
// definitions, including popupInfo.
type ItemData struct {
	Layers json.RawMessage `json:"layers,omitempty"`
}

// Item mirrors the shape returned by a portal item lookup.
type Item struct {
	ID       string    `json:"id"`
	ItemData *ItemData `json:"itemData"`
}

// WebMap fetches a web map document (or a bare operational layer list).
func (c *Client) WebMap(ctx context.Context, webmapURL string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.GetJSON(ctx, EndpointWebMap, webmapURL, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// AttachmentsURL is <layerURL>/<objectID>/attachments.
func AttachmentsURL(layerURL string, objectID int64) string {
	return strings.Join([]string{strings.TrimRight(layerURL, "/"), strconv.FormatInt(objectID, 10), "attachments"}, "/")
}

// AttachmentInfos returns the raw {attachmentInfos:[...]} response for a feature.
func (c *Client) AttachmentInfos(ctx context.Context, attachmentsURL string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.GetJSON(ctx, EndpointAttachments, attachmentsURL, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) LayerInfo(ctx context.Context, layerURL string) (LayerInfo, error) {
	var info LayerInfo
	if err := c.GetJSON(ctx, EndpointLayerInfo, strings.TrimRight(layerURL, "/"), nil, &info); err != nil {
		return LayerInfo{}, err
	}
	if info.ObjectIDField == "" {
		for _, f := range info.Fields {
			if f.Type == "esriFieldTypeOID" {
				info.ObjectIDField = f.Name
				break
			}
		}
	}
	if info.ObjectIDField == "" {
		info.ObjectIDField = "OBJECTID"
	}
	return info, nil
}

type queryResponse struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
}

// QueryFeature loads the attributes of a single feature by object id.
func (c *Client) QueryFeature(ctx context.Context, layerURL string, objectID int64) (map[string]any, error) {
	q := url.Values{}
	q.Set("objectIds", strconv.FormatInt(objectID, 10))
	q.Set("outFields", "*")
	q.Set("returnGeometry", "false")

	var resp queryResponse
	if err := c.GetJSON(ctx, EndpointQuery, strings.TrimRight(layerURL, "/")+"/query", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Features) == 0 {
		return nil, ErrFeatureNotFound
	}
	attrs := resp.Features[0].Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}

// ItemData loads the data of a portal item.
func (c *Client) ItemData(ctx context.Context, itemID string) (*Item, error) {
	var data ItemData
	target := c.portalURL + "/sharing/rest/content/items/" + url.PathEscape(itemID) + "/data"
	if err := c.GetJSON(ctx, EndpointItemData, target, nil, &data); err != nil {
		return nil, err
	}
	return &Item{ID: itemID, ItemData: &data}, nil
}
